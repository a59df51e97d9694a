package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/league-payments/internal/auth"
	"github.com/frahmantamala/league-payments/internal/installment"
	"github.com/frahmantamala/league-payments/internal/manual"
	"github.com/frahmantamala/league-payments/internal/paymentstatus"
	"github.com/frahmantamala/league-payments/internal/terminal"
	"github.com/frahmantamala/league-payments/internal/transport/middleware"
	"github.com/frahmantamala/league-payments/internal/transport/swagger"
)

const OpenAPIPath = "./api/openapi.yml"

// Handlers groups everything the router mounts. Nil handlers are skipped.
type Handlers struct {
	Health        *HealthHandler
	Auth          *auth.Middleware
	Terminal      *terminal.Handler
	Webhook       *terminal.WebhookHandler
	Installment   *installment.Handler
	Manual        *manual.Handler
	PaymentStatus *paymentstatus.Handler
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, allowedOrigins string, logger *slog.Logger) {
	router.Use(middleware.CORS(allowedOrigins))
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve the OpenAPI document at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, OpenAPIPath)
	})
	router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))

	// The processor authenticates with the payload signature, not a bearer token.
	if h.Webhook != nil {
		router.Post("/webhooks/terminal", h.Webhook.HandleTerminalWebhook)
	}

	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		r.Group(func(pr chi.Router) {
			if h.Auth != nil {
				pr.Use(h.Auth.Authenticate)
			}

			if h.Terminal != nil {
				pr.Route("/terminal", func(tr chi.Router) {
					tr.Get("/readers", h.Terminal.ListReaders)
					tr.Post("/payments", h.Terminal.Initiate)
					tr.Get("/payments/{intentId}", h.Terminal.GetPayment)
					tr.Post("/payments/{intentId}/cancel", h.Terminal.CancelPayment)
				})
			}

			if h.Installment != nil {
				pr.Route("/installments", func(ir chi.Router) {
					ir.Get("/failed", h.Installment.ListFailed)
					ir.Post("/{paymentMethodId}/invoices/{invoiceId}/retry", h.Installment.Retry)
					ir.Post("/{paymentMethodId}/invoices/{invoiceId}/result", h.Installment.RecordResult)
				})
			}

			if h.Manual != nil {
				pr.Route("/payments", func(mr chi.Router) {
					mr.Post("/cash", h.Manual.MarkCashPaid)
					mr.Delete("/cash/{playerId}", h.Manual.UndoCashPayment)
					mr.Post("/etransfer", h.Manual.MarkETransferPaid)
				})
			}

			if h.PaymentStatus != nil {
				pr.Get("/players/{playerId}/payment-status", h.PaymentStatus.GetPlayerStatus)
			}
		})
	})
}
