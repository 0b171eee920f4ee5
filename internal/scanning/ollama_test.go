package scanning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/shiori/internal/apiclient"
)

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		engine   *Ollama
		progress []float64
		text     string
		err      error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		engine, err = NewOllama(server.URL()+"/", "llava")
		Expect(err).NotTo(HaveOccurred())
		progress = nil
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = engine.Recognize(context.Background(), testPNG(), "image/png", "jpn", func(p float64) {
			progress = append(progress, p)
		})
	})

	When("the model streams a transcription", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())

					var req ollamaChatRequest
					Expect(json.Unmarshal(body, &req)).To(Succeed())
					Expect(req.Model).To(Equal("llava"))
					Expect(req.Stream).To(BeTrue())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
					Expect(req.Messages[1].Content).To(ContainSubstring("Japanese"))
				},
				ghttp.RespondWith(http.StatusOK,
					`{"message":{"role":"assistant","content":"Coffee ¥350\n"},"done":false}`+"\n"+
						`{"message":{"role":"assistant","content":"Tea ¥200"},"done":false}`+"\n"+
						`{"message":{"role":"assistant","content":""},"done":true}`+"\n"),
			))
		})

		It("should join the chunks", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Coffee ¥350\nTea ¥200"))
		})

		It("should report progress per chunk", func() {
			Expect(progress).To(HaveLen(3))
			Expect(progress[0]).To(BeNumerically("<", progress[2]))
			Expect(progress[2]).To(BeNumerically("<", 1))
		})
	})

	When("the stream reports an error", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"error":"model not found"}`+"\n"))
		})

		It("should return it", func() {
			Expect(err).To(MatchError("ollama: model not found"))
		})
	})

	When("the API rejects the request", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `{"message":"invalid image"}`))
		})

		It("should return an API error", func() {
			Expect(err).To(BeAssignableToTypeOf(&apiclient.Error{}))
			Expect(err.(*apiclient.Error).Message).To(Equal("invalid image"))
			Expect(err.(*apiclient.Error).Status).To(Equal(http.StatusBadRequest))
		})
	})

	When("the stream is empty", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, ""))
		})

		It("should fail", func() {
			Expect(err).To(MatchError(ContainSubstring("empty response")))
		})
	})
})
