package place

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/shiori/internal/apiclient"
)

var _ = Describe("HTTPLookup", func() {
	var (
		server *ghttp.Server
		lookup *HTTPLookup
		name   string
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var cfgErr error
		lookup, cfgErr = NewHTTPLookup(LookupConfig{BaseURL: server.URL() + "/", RequestsPerSecond: 100})
		Expect(cfgErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		name, err = lookup.Lookup(context.Background(), 35.68117, 139.77)
	})

	When("the service returns ranked results", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/landmarkData", "lat=35.68117&lon=139.77"),
				ghttp.RespondWith(http.StatusOK, `{"ResultSet":{"Result":[
					{"Name":"東京駅","Category":"駅","Combined":"","Label":""},
					{"Name":"丸の内","Category":"地名","Combined":"","Label":""}
				]}}`),
			))
		})

		It("should return the first name", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("東京駅"))
		})
	})

	When("the service returns no results", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"ResultSet":{"Result":[]}}`))
		})

		It("returns ErrNotFound", func() {
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	When("the first result has a blank name", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"ResultSet":{"Result":[{"Name":"  "}]}}`))
		})

		It("returns ErrNotFound", func() {
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	When("the service fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, `{"message":"maintenance"}`))
		})

		It("returns an API error", func() {
			var apiErr *apiclient.Error
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Status).To(Equal(http.StatusServiceUnavailable))
			Expect(apiErr.Message).To(Equal("maintenance"))
		})
	})

	When("the body is not JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `<html>`))
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("NewHTTPLookup", func() {
	It("requires a base url", func() {
		_, err := NewHTTPLookup(LookupConfig{})
		Expect(err).To(HaveOccurred())
	})
})
