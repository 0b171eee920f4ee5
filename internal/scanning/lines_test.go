package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseLines", func() {
	var (
		text   string
		result ParseResult
	)

	JustBeforeEach(func() {
		result = ParseLines(text)
	})

	When("every line carries a price", func() {
		BeforeEach(func() {
			text = "Coffee ¥350\nSandwich ¥680\nTotal ¥1030"
		})

		It("should read one line per item", func() {
			Expect(result.Lines).To(Equal([]Line{
				{Name: "Coffee", Amount: 350},
				{Name: "Sandwich", Amount: 680},
				{Name: "Total", Amount: 1030},
			}))
		})

		It("should take the largest amount as the total", func() {
			Expect(result.Total).NotTo(BeNil())
			Expect(*result.Total).To(Equal(1030.0))
		})

		It("should be deterministic", func() {
			Expect(ParseLines(text)).To(Equal(result))
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("should return no lines, no total and the default title", func() {
			Expect(result.Lines).To(BeEmpty())
			Expect(result.Total).To(BeNil())
			Expect(result.TitleHint).To(Equal("レシート"))
		})
	})

	When("a line has several amounts", func() {
		BeforeEach(func() {
			text = "ビール 2 ¥1,200\n合計 ¥1,200"
		})

		It("should price the line with its last amount", func() {
			Expect(result.Lines[0]).To(Equal(Line{Name: "ビール 2", Amount: 1200}))
		})
	})

	When("the receipt uses full-width characters", func() {
		BeforeEach(func() {
			text = "スーパー東京\nおにぎり　￥１５０\nお茶　￥１２０"
		})

		It("should fold them before parsing", func() {
			Expect(result.Lines).To(ConsistOf(
				Line{Name: "おにぎり", Amount: 150},
				Line{Name: "お茶", Amount: 120},
			))
			Expect(*result.Total).To(Equal(150.0))
		})

		It("should build the title from the head without amounts", func() {
			Expect(result.TitleHint).To(Equal("スーパー東京 おにぎり お茶"))
		})
	})

	When("the receipt prints half-width katakana", func() {
		BeforeEach(func() {
			text = "ｶﾌｪ\nｺｰﾋｰ  ¥350"
		})

		It("should name the items in full-width katakana", func() {
			Expect(result.Lines).To(Equal([]Line{{Name: "コーヒー", Amount: 350}}))
		})

		It("should collapse the gap left by the removed amount in the title", func() {
			Expect(result.TitleHint).To(Equal("カフェ コーヒー"))
		})
	})

	When("lines carry decimals and noise", func() {
		BeforeEach(func() {
			text = "  \r\nLatte 4.50\n¥0\n***\n¥ 980\nSubtotal 1,234.56"
		})

		It("should drop lines without a name or a positive amount", func() {
			Expect(result.Lines).To(Equal([]Line{
				{Name: "Latte", Amount: 4.5},
				{Name: "Subtotal", Amount: 1234.56},
			}))
			Expect(*result.Total).To(Equal(1234.56))
		})
	})

	When("the head is only amounts", func() {
		BeforeEach(func() {
			text = "¥100\n¥200"
		})

		It("should fall back to the default title", func() {
			Expect(result.TitleHint).To(Equal(DefaultTitleHint))
			Expect(result.Lines).To(BeEmpty())
			Expect(*result.Total).To(Equal(200.0))
		})
	})
})

var _ = Describe("FromParse", func() {
	It("should carry the lines, total and title", func() {
		data := FromParse(ParseLines("Cafe\nTea ¥500"))
		Expect(data.StoreName).To(Equal("Cafe Tea"))
		Expect(data.Items).To(Equal([]Item{{Name: "Tea", Amount: 500}}))
		Expect(*data.Total).To(Equal(500.0))
	})
})
