package paymentstatus

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/league-payments/internal/transport"
)

type ServiceAPI interface {
	PlayerPaymentStatus(ctx context.Context, playerID int64) (*PlayerStatus, error)
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

// GetPlayerStatus handles GET /api/v1/players/{playerId}/payment-status
func (h *Handler) GetPlayerStatus(w http.ResponseWriter, r *http.Request) {
	playerID, ok := h.Int64Param(w, r, "playerId")
	if !ok {
		return
	}
	status, err := h.Service.PlayerPaymentStatus(r.Context(), playerID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, status)
}
