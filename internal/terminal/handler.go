package terminal

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/league-payments/internal"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/transport"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "Stripe-Signature"

const maxWebhookBytes = 64 << 10

type ServiceAPI interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	PollStatus(ctx context.Context, intentID string) (*PaymentStatus, error)
	Cancel(ctx context.Context, intentID, readerID string) error
	ListReaders(ctx context.Context) ([]gatewaytypes.Reader, error)
	HandleEvent(ctx context.Context, event *gatewaytypes.WebhookEvent) (*Reconciliation, error)
}

type CancelRequest struct {
	ReaderID string `json:"readerId"`
}

type ReadersResponse struct {
	Readers []gatewaytypes.Reader `json:"readers"`
}

type WebhookAck struct {
	Received bool `json:"received"`
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// ListReaders handles GET /api/v1/terminal/readers
func (h *Handler) ListReaders(w http.ResponseWriter, r *http.Request) {
	readers, err := h.Service.ListReaders(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if readers == nil {
		readers = []gatewaytypes.Reader{}
	}
	h.WriteJSON(w, http.StatusOK, ReadersResponse{Readers: readers})
}

// Initiate handles POST /api/v1/terminal/payments
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	result, err := h.Service.Initiate(r.Context(), req)
	if err != nil {
		logger.Scoped(r.Context(), h.Logger).Error("Initiate: service error", "error", err, "player_id", req.PlayerID, "reader_id", req.ReaderID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusAccepted, result)
}

// GetPayment handles GET /api/v1/terminal/payments/{intentId}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	status, err := h.Service.PollStatus(r.Context(), chi.URLParam(r, "intentId"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, status)
}

// CancelPayment handles POST /api/v1/terminal/payments/{intentId}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	intentID := chi.URLParam(r, "intentId")
	if err := h.Service.Cancel(r.Context(), intentID, req.ReaderID); err != nil {
		logger.Scoped(r.Context(), h.Logger).Error("CancelPayment: service error", "error", err, "intent_id", intentID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"intentId":  intentID,
		"cancelled": true,
	})
}

type WebhookHandler struct {
	*transport.BaseHandler
	Parser  WebhookParser
	Service ServiceAPI
}

func NewWebhookHandler(parser WebhookParser, service ServiceAPI, lg *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: transport.NewBaseHandler(lg),
		Parser:      parser,
		Service:     service,
	}
}

// HandleTerminalWebhook handles POST /webhooks/terminal. Bad signatures get a
// 400; anything verified is acknowledged whether or not it changed the ledger.
func (h *WebhookHandler) HandleTerminalWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.Scoped(r.Context(), h.Logger)
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.HandleError(w, errors.NewValidationError("unreadable webhook body", errors.ErrCodeValidationFailed).WithCause(err))
		return
	}

	event, err := h.Parser.ParseWebhook(payload, r.Header.Get(SignatureHeader))
	if err != nil {
		log.Warn("webhook rejected", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	if _, err := h.Service.HandleEvent(r.Context(), event); err != nil {
		log.Error("webhook processing failed", "error", err, "event_id", event.ID, "event_type", event.Type)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, WebhookAck{Received: true})
}
