package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/shiori/internal/scanning"
)

func receiptBody(field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(mw.Close()).To(Succeed())
	return &buf, mw.FormDataContentType()
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

var _ = Describe("Server", func() {
	var (
		scanner     *mockScanner
		auth        BasicAuth
		registry    *prometheus.Registry
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		total := 1280.0
		scanner = &mockScanner{result: &scanning.ReceiptData{
			StoreName: "コンビニ",
			Items:     []scanning.Item{{Name: "おにぎり", Amount: 150}},
			Total:     &total,
		}}
		auth = BasicAuth{}
		registry = prometheus.NewRegistry()
	})

	JustBeforeEach(func() {
		server = NewServerWithMux(scanner, auth, registry, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	post := func(body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/receipt", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", contentType)
		if auth.Enabled() {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeError := func(resp *http.Response) string {
		defer resp.Body.Close()
		var body errorResponse
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body.Message
	}

	Describe("POST /receipt", func() {
		When("a receipt is uploaded", func() {
			It("should return the scanned lines", func() {
				body, ct := receiptBody(scanning.ReceiptPart, "receipt.jpg", "image/jpeg", []byte("jpeg"))
				resp := post(body, ct)
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var data scanning.ReceiptData
				Expect(json.NewDecoder(resp.Body).Decode(&data)).To(Succeed())
				Expect(data.StoreName).To(Equal("コンビニ"))
				Expect(data.Items).To(ConsistOf(scanning.Item{Name: "おにぎり", Amount: 150}))
				Expect(*data.Total).To(Equal(1280.0))

				Expect(scanner.data).To(Equal([]byte("jpeg")))
				Expect(scanner.contentType).To(Equal("image/jpeg"))
			})

			It("should detect the content type when the part has none", func() {
				body, ct := receiptBody(scanning.ReceiptPart, "scan.png", "", pngHeader)
				resp := post(body, ct)
				resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(scanner.contentType).To(Equal("image/png"))
			})

			It("should serialize missing items as an empty list", func() {
				scanner.result = &scanning.ReceiptData{StoreName: "レシート"}
				body, ct := receiptBody(scanning.ReceiptPart, "receipt.jpg", "image/jpeg", []byte("jpeg"))
				resp := post(body, ct)
				defer resp.Body.Close()

				raw, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(raw)).To(ContainSubstring(`"items":[]`))
				Expect(string(raw)).To(ContainSubstring(`"total":null`))
			})
		})

		When("the receipt part is missing", func() {
			It("should return Bad Request", func() {
				body, ct := receiptBody("file", "receipt.jpg", "image/jpeg", []byte("jpeg"))
				resp := post(body, ct)

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("No receipt"))
				Expect(scanner.callCount()).To(BeZero())
			})
		})

		When("the body is not multipart", func() {
			It("should return Bad Request", func() {
				resp := post(bytes.NewBufferString("{}"), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(Equal("Error parsing form"))
			})
		})

		When("scanning fails", func() {
			BeforeEach(func() {
				scanner.err = errors.New("model unavailable")
			})

			It("should return Bad Gateway with the error message", func() {
				body, ct := receiptBody(scanning.ReceiptPart, "receipt.jpg", "image/jpeg", []byte("jpeg"))
				resp := post(body, ct)

				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(decodeError(resp)).To(Equal("model unavailable"))
			})

			It("should be readable by the remote scanner", func() {
				remote, err := scanning.NewRemote(ghttpServer.URL())
				Expect(err).NotTo(HaveOccurred())

				_, err = remote.ScanReceipt(context.Background(), []byte("jpeg"), "image/jpeg")
				Expect(err).To(MatchError(ContainSubstring("model unavailable")))
			})
		})

		When("basic auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "admin", Password: "secret"}
			})

			It("should accept valid credentials", func() {
				body, ct := receiptBody(scanning.ReceiptPart, "receipt.jpg", "image/jpeg", []byte("jpeg"))
				resp := post(body, ct)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})

			It("should reject missing credentials", func() {
				body, ct := receiptBody(scanning.ReceiptPart, "receipt.jpg", "image/jpeg", []byte("jpeg"))
				req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/receipt", body)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", ct)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
				Expect(scanner.callCount()).To(BeZero())
			})

			It("should reject wrong credentials", func() {
				body, ct := receiptBody(scanning.ReceiptPart, "receipt.jpg", "image/jpeg", []byte("jpeg"))
				req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/receipt", body)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", ct)
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})

			It("should leave the health check open", func() {
				resp, err := http.Get(ghttpServer.URL() + "/healthz")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/receipt", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("GET /receipt", func() {
		It("should return Method Not Allowed", func() {
			resp, err := http.Get(ghttpServer.URL() + "/receipt")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("GET /metrics", func() {
		It("should expose scan counts", func() {
			body, ct := receiptBody(scanning.ReceiptPart, "receipt.jpg", "image/jpeg", []byte("jpeg"))
			post(body, ct).Body.Close()

			resp, err := http.Get(ghttpServer.URL() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			raw, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring(`shiori_server_receipt_scans_total{result="ok"} 1`))
		})

		When("no registry is configured", func() {
			BeforeEach(func() {
				registry = nil
			})

			It("should not be served", func() {
				resp, err := http.Get(ghttpServer.URL() + "/metrics")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})
})
