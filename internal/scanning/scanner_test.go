package scanning

import (
	"bytes"
	"context"
	"errors"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TextScanner", func() {
	It("should recognize in the configured language and parse the text", func() {
		engine := &recordingEngine{text: "Cafe\nLatte ¥480"}
		scanner := NewTextScanner(engine, "")

		data, err := scanner.ScanReceipt(context.Background(), []byte("img"), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(engine.language).To(Equal("jpn"))
		Expect(data.Items).To(Equal([]Item{{Name: "Latte", Amount: 480}}))
		Expect(*data.Total).To(Equal(480.0))
	})

	It("should wrap engine failures", func() {
		scanner := NewTextScanner(&recordingEngine{err: errors.New("quota exceeded")}, "eng")

		_, err := scanner.ScanReceipt(context.Background(), []byte("img"), "image/png")
		Expect(err).To(MatchError(ContainSubstring("recognizing receipt: quota exceeded")))
	})
})

type recordingEngine struct {
	text     string
	err      error
	language string
}

func (r *recordingEngine) Recognize(ctx context.Context, data []byte, contentType, language string, progress func(float64)) (string, error) {
	r.language = language
	return r.text, r.err
}

func (r *recordingEngine) Close() error { return nil }

var _ = Describe("cleanTranscript", func() {
	It("should strip a fenced block", func() {
		Expect(cleanTranscript("```text\nCoffee ¥350\nTea ¥200\n```")).To(Equal("Coffee ¥350\nTea ¥200"))
	})

	It("should leave plain text alone", func() {
		Expect(cleanTranscript("  Coffee ¥350 \n")).To(Equal("Coffee ¥350"))
	})
})

var _ = Describe("chunkProgress", func() {
	It("should grow without reaching completion", func() {
		Expect(chunkProgress(0)).To(BeZero())
		Expect(chunkProgress(2)).To(BeNumerically("<", chunkProgress(3)))
		Expect(chunkProgress(10000)).To(BeNumerically("<", 1))
	})
})

var _ = Describe("toPNG", func() {
	It("should pass PNG data through", func() {
		data := testPNG()
		out, err := toPNG(data, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(data))
	})

	It("should convert JPEG to PNG", func() {
		out, err := toPNG(testJPEG(), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())

		img, err := png.Decode(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(4))
	})

	It("should reject undecodable data", func() {
		_, err := toPNG([]byte("not an image"), "image/jpeg")
		Expect(err).To(MatchError(ContainSubstring("decoding image/jpeg receipt")))
	})
})
