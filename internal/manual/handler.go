package manual

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/league-payments/internal/transport"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

type ServiceAPI interface {
	MarkCashPaid(ctx context.Context, req CashRequest) (*ledger.PaymentMethod, error)
	UndoCashPayment(ctx context.Context, playerID int64) (*UndoResult, error)
	MarkETransferPaid(ctx context.Context, req ETransferRequest) (*ETransferResult, error)
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

// MarkCashPaid handles POST /api/v1/payments/cash
func (h *Handler) MarkCashPaid(w http.ResponseWriter, r *http.Request) {
	var req CashRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	pm, err := h.Service.MarkCashPaid(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, pm)
}

// UndoCashPayment handles DELETE /api/v1/payments/cash/{playerId}
func (h *Handler) UndoCashPayment(w http.ResponseWriter, r *http.Request) {
	playerID, ok := h.Int64Param(w, r, "playerId")
	if !ok {
		return
	}
	result, err := h.Service.UndoCashPayment(r.Context(), playerID)
	if err != nil {
		logger.Scoped(r.Context(), h.Logger).Error("UndoCashPayment: service error", "error", err, "player_id", playerID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

// MarkETransferPaid handles POST /api/v1/payments/etransfer. A batch where
// some players failed answers 207 with per-player results.
func (h *Handler) MarkETransferPaid(w http.ResponseWriter, r *http.Request) {
	var req ETransferRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	result, err := h.Service.MarkETransferPaid(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	status := http.StatusOK
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	h.WriteJSON(w, status, result)
}
