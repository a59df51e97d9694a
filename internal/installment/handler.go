package installment

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
	"github.com/frahmantamala/league-payments/internal/terminal"
	"github.com/frahmantamala/league-payments/internal/transport"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type ServiceAPI interface {
	RetryFailedInstallment(ctx context.Context, req RetryRequest) (*terminal.InitiateResult, error)
	RecordScheduledCharge(ctx context.Context, charge ScheduledCharge) (*ledger.PaymentMethod, error)
	ListPlansWithFailures(ctx context.Context, limit int) ([]*ledger.PaymentMethod, error)
}

type FailedInstallment struct {
	PaymentNumber int             `json:"paymentNumber"`
	InvoiceID     string          `json:"invoiceId"`
	AmountDue     decimal.Decimal `json:"amountDue"`
	DueDate       *time.Time      `json:"dueDate,omitempty"`
	FailedAt      *time.Time      `json:"failedAt,omitempty"`
}

type PlanSummary struct {
	PaymentMethodID  int64               `json:"paymentMethodId"`
	PlayerID         int64               `json:"playerId"`
	DivisionID       int64               `json:"divisionId"`
	Status           ledger.Status       `json:"status"`
	TotalAmountDue   decimal.Decimal     `json:"totalAmountDue"`
	RemainingBalance decimal.Decimal     `json:"remainingBalance"`
	Failed           []FailedInstallment `json:"failed"`
}

func NewPlanSummary(pm *ledger.PaymentMethod) PlanSummary {
	plan := pm.Plan()
	summary := PlanSummary{
		PaymentMethodID:  pm.ID,
		PlayerID:         pm.PlayerID,
		DivisionID:       pm.DivisionID,
		Status:           pm.Status,
		TotalAmountDue:   plan.TotalAmountDue,
		RemainingBalance: plan.RemainingBalance,
		Failed:           []FailedInstallment{},
	}
	for _, sp := range ledgerService.FailedInstallments(pm) {
		summary.Failed = append(summary.Failed, FailedInstallment{
			PaymentNumber: sp.PaymentNumber,
			InvoiceID:     sp.InvoiceID,
			AmountDue:     sp.AmountDue,
			DueDate:       sp.DueDate,
			FailedAt:      sp.FailedAt,
		})
	}
	return summary
}

type RetryBody struct {
	ReaderID string `json:"readerId"`
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

// ListFailed handles GET /api/v1/installments/failed
func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			h.HandleError(w, errors.NewValidationFieldError("limit", "limit must be between 1 and 500", errors.ErrCodeValidationFailed))
			return
		}
		limit = n
	}

	plans, err := h.Service.ListPlansWithFailures(r.Context(), limit)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	summaries := make([]PlanSummary, 0, len(plans))
	for _, pm := range plans {
		summaries = append(summaries, NewPlanSummary(pm))
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"plans": summaries})
}

// Retry handles POST /api/v1/installments/{paymentMethodId}/invoices/{invoiceId}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	paymentMethodID, ok := h.Int64Param(w, r, "paymentMethodId")
	if !ok {
		return
	}
	var body RetryBody
	if !h.DecodeJSON(w, r, &body) {
		return
	}
	req := RetryRequest{PaymentMethodID: paymentMethodID, InvoiceID: chi.URLParam(r, "invoiceId"), ReaderID: body.ReaderID}

	result, err := h.Service.RetryFailedInstallment(r.Context(), req)
	if err != nil {
		logger.Scoped(r.Context(), h.Logger).Error("Retry: service error", "error", err,
			"payment_method_id", paymentMethodID, "invoice_id", req.InvoiceID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusAccepted, result)
}

// RecordResult handles POST /api/v1/installments/{paymentMethodId}/invoices/{invoiceId}/result
func (h *Handler) RecordResult(w http.ResponseWriter, r *http.Request) {
	paymentMethodID, ok := h.Int64Param(w, r, "paymentMethodId")
	if !ok {
		return
	}
	var charge ScheduledCharge
	if !h.DecodeJSON(w, r, &charge) {
		return
	}
	charge.PaymentMethodID = paymentMethodID
	charge.InvoiceID = chi.URLParam(r, "invoiceId")

	pm, err := h.Service.RecordScheduledCharge(r.Context(), charge)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, pm)
}
