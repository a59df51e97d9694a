package rest_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/auth"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/installment"
	"github.com/frahmantamala/league-payments/internal/manual"
	"github.com/frahmantamala/league-payments/internal/paymentstatus"
	"github.com/frahmantamala/league-payments/internal/terminal"
	"github.com/frahmantamala/league-payments/internal/transport/rest"
)

func TestRest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rest Suite")
}

const openAPIFile = "../../../api/openapi.yml"

type rejectingParser struct{}

func (rejectingParser) ParseWebhook([]byte, string) (*gatewaytypes.WebhookEvent, error) {
	return nil, internal.ErrSignatureInvalid
}

func newRouter(health *rest.HealthHandler) *chi.Mux {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	issuer := auth.NewJWTTokenIssuer(internal.SecurityConfig{
		JWTSecret: "test-secret-that-is-at-least-32-bytes-long",
		JWTIssuer: "league-payments",
	})

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Handlers{
		Health:        health,
		Auth:          auth.NewMiddleware(issuer, logger),
		Terminal:      terminal.NewHandler(nil, logger),
		Webhook:       terminal.NewWebhookHandler(rejectingParser{}, nil, logger),
		Installment:   installment.NewHandler(nil, logger),
		Manual:        manual.NewHandler(nil, logger),
		PaymentStatus: paymentstatus.NewHandler(nil, logger),
	}, "*", logger)
	return router
}

var _ = Describe("OpenAPI document", func() {
	var doc *openapi3.T

	BeforeEach(func() {
		var err error
		doc, err = openapi3.NewLoader().LoadFromFile(openAPIFile)
		Expect(err).ToNot(HaveOccurred())
	})

	It("is a valid OpenAPI 3 document", func() {
		Expect(doc.Validate(context.Background())).To(Succeed())
	})

	It("documents every mounted route", func() {
		// Given
		router := newRouter(rest.NewHealthHandler(nil, nil))
		var undocumented []string

		// When
		err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			route = strings.TrimSuffix(route, "/")
			if route == "/openapi.yml" || strings.HasPrefix(route, "/swagger") {
				return nil
			}
			item := doc.Paths.Value(route)
			if item == nil || item.GetOperation(method) == nil {
				undocumented = append(undocumented, method+" "+route)
			}
			return nil
		})

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(undocumented).To(BeEmpty())
	})
})

var _ = Describe("Router", func() {
	serve := func(router http.Handler, method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(`{}`)))
		return rec
	}

	It("reports healthy when every check passes", func() {
		router := newRouter(rest.NewHealthHandler(nil, map[string]rest.Check{
			"gateway": func(context.Context) error { return nil },
		}))

		rec := serve(router, http.MethodGet, "/api/v1/health")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"healthy"`))
	})

	It("reports 503 when a check fails", func() {
		router := newRouter(rest.NewHealthHandler(nil, map[string]rest.Check{
			"gateway": func(context.Context) error { return errors.New("unreachable") },
		}))

		rec := serve(router, http.MethodGet, "/api/v1/health")

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(rec.Body.String()).To(ContainSubstring("unreachable"))
	})

	It("answers ping without a token", func() {
		rec := serve(newRouter(rest.NewHealthHandler(nil, nil)), http.MethodGet, "/api/v1/ping")

		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	DescribeTable("requires a bearer token on operator routes",
		func(method, path string) {
			rec := serve(newRouter(rest.NewHealthHandler(nil, nil)), method, path)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		},
		Entry("readers", http.MethodGet, "/api/v1/terminal/readers"),
		Entry("initiate", http.MethodPost, "/api/v1/terminal/payments"),
		Entry("retry", http.MethodPost, "/api/v1/installments/1/invoices/in_1/retry"),
		Entry("cash", http.MethodPost, "/api/v1/payments/cash"),
		Entry("undo cash", http.MethodDelete, "/api/v1/payments/cash/100"),
		Entry("e-transfer", http.MethodPost, "/api/v1/payments/etransfer"),
		Entry("status", http.MethodGet, "/api/v1/players/100/payment-status"),
	)

	It("leaves the webhook to signature verification", func() {
		rec := serve(newRouter(rest.NewHealthHandler(nil, nil)), http.MethodPost, "/webhooks/terminal")

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("answers CORS preflight requests", func() {
		router := newRouter(rest.NewHealthHandler(nil, nil))
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/payments/cash", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		Expect(rec.Header().Get("Access-Control-Allow-Origin")).ToNot(BeEmpty())
	})
})
