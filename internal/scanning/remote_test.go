package scanning

import (
	"context"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/shiori/internal/apiclient"
)

var _ = Describe("Remote", func() {
	var (
		server *ghttp.Server
		remote *Remote
		data   *ReceiptData
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		remote, err = NewRemote(server.URL())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		data, err = remote.ScanReceipt(context.Background(), []byte("jpeg bytes"), "image/jpeg")
	})

	When("the service recognizes the receipt", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/receipt"),
				func(w http.ResponseWriter, r *http.Request) {
					file, header, formErr := r.FormFile(ReceiptPart)
					Expect(formErr).NotTo(HaveOccurred())
					defer file.Close()
					Expect(header.Header.Get("Content-Type")).To(Equal("image/jpeg"))
					body, _ := io.ReadAll(file)
					Expect(string(body)).To(Equal("jpeg bytes"))
				},
				ghttp.RespondWith(http.StatusOK, `{"storeName":"喫茶店","items":[{"name":"珈琲","amount":450}],"total":450}`),
			))
		})

		It("should decode the result", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(data.StoreName).To(Equal("喫茶店"))
			Expect(data.Items).To(Equal([]Item{{Name: "珈琲", Amount: 450}}))
			Expect(*data.Total).To(Equal(450.0))
		})
	})

	When("the service fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusUnprocessableEntity, `{"title":"unreadable receipt"}`))
		})

		It("should return an API error", func() {
			Expect(err).To(BeAssignableToTypeOf(&apiclient.Error{}))
			Expect(err.Error()).To(ContainSubstring("unreadable receipt"))
		})
	})
})

var _ = Describe("NewRemote", func() {
	It("should require a base URL", func() {
		_, err := NewRemote("")
		Expect(err).To(HaveOccurred())
	})
})
