package manual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/player"
	"github.com/frahmantamala/league-payments/internal/core/events"
	"github.com/frahmantamala/league-payments/internal/core/money"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
	"github.com/frahmantamala/league-payments/internal/pricing"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

type PlayerStore interface {
	GetPlayer(ctx context.Context, id int64) (*player.Player, error)
	SetHasPaid(ctx context.Context, playerID int64, hasPaid bool) error
}

type PriceResolver interface {
	FullPrice(ctx context.Context, divisionID int64, tier ledger.PricingTier) (pricing.Quote, error)
}

// Service records payments taken outside the gateway. Cash and e-transfer
// each keep one record per player; e-transfer events accumulate in it.
type Service struct {
	ledger    *ledgerService.Service
	players   PlayerStore
	prices    PriceResolver
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(ledgers *ledgerService.Service, players PlayerStore, prices PriceResolver, publisher events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:    ledgers,
		players:   players,
		prices:    prices,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MarkCashPaid completes the player's CASH record for the amount handed over.
func (s *Service) MarkCashPaid(ctx context.Context, req CashRequest) (*ledger.PaymentMethod, error) {
	log := logger.Scoped(ctx, s.logger)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := s.players.GetPlayer(ctx, req.PlayerID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.EnsureUnpaid(ctx, p.ID, ledger.PaymentTypeCash); err != nil {
		return nil, err
	}

	amount := req.Amount.Round(2)
	pm, _, err := s.ledger.FindOrCreate(ctx, ledgerService.Key{
		PlayerID:      p.ID,
		DivisionID:    p.DivisionID,
		PaymentType:   ledger.PaymentTypeCash,
		PricingTier:   req.PricingTier,
		OriginalPrice: amount,
	})
	if err != nil {
		return nil, err
	}

	paidDate := s.now()
	if req.PaidDate != nil {
		paidDate = req.PaidDate.UTC()
	}
	receivedBy := internal.OperatorIDFromContext(ctx)
	updated, _, err := s.ledger.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
		if pm.Status == ledger.StatusCompleted {
			return internal.ErrAlreadyPaid.WithMessage("player %d already has a completed cash payment", pm.PlayerID)
		}
		pm.PricingTier = req.PricingTier
		pm.OriginalPrice = amount
		pm.AmountPaid = amount
		pm.Status = ledger.StatusCompleted
		pm.SetCash(ledger.CashPayment{PaidDate: &paidDate, Notes: req.Notes, ReceivedBy: receivedBy})
		return nil
	})
	if err != nil {
		if !errors.Is(err, internal.ErrAlreadyPaid) {
			log.Error("manual: failed to record cash payment", "error", err, "player_id", req.PlayerID)
		}
		return nil, err
	}

	if err := s.players.SetHasPaid(ctx, updated.PlayerID, true); err != nil {
		return updated, fmt.Errorf("mark player %d paid: %w", updated.PlayerID, err)
	}
	log.Info("manual: cash payment recorded",
		"payment_method_id", updated.ID,
		"player_id", updated.PlayerID,
		"amount", amount.StringFixed(2),
		"received_by", receivedBy)
	s.publish(ctx, events.NewPaymentCompletedEvent(updated.ID, updated.PlayerID, string(updated.PaymentType),
		money.ToMinorUnits(updated.AmountPaid), events.ChannelCash, ""))
	return updated, nil
}

// UndoCashPayment deletes the player's CASH record and re-derives hasPaid
// from whatever methods remain.
func (s *Service) UndoCashPayment(ctx context.Context, playerID int64) (*UndoResult, error) {
	log := logger.Scoped(ctx, s.logger)
	if playerID <= 0 {
		return nil, internal.NewValidationFieldError("player_id", "player_id is required", internal.ErrCodeValidationFailed)
	}
	pm, err := s.ledger.GetByPlayerAndType(ctx, playerID, ledger.PaymentTypeCash)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Delete(ctx, pm.ID); err != nil {
		log.Error("manual: failed to delete cash payment", "error", err, "payment_method_id", pm.ID)
		return nil, err
	}

	remaining, err := s.ledger.ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	hasPaid := ledgerService.AnySettled(remaining)
	if err := s.players.SetHasPaid(ctx, playerID, hasPaid); err != nil {
		return nil, fmt.Errorf("reset player %d payment status: %w", playerID, err)
	}
	log.Info("manual: cash payment undone",
		"payment_method_id", pm.ID,
		"player_id", playerID,
		"operator_id", internal.OperatorIDFromContext(ctx),
		"has_paid", hasPaid)
	return &UndoResult{PlayerID: playerID, PaymentMethodID: pm.ID, HasPaid: hasPaid}, nil
}

// MarkETransferPaid appends one transfer event per player under a shared
// transaction id. Once writing starts each player succeeds or fails alone.
func (s *Service) MarkETransferPaid(ctx context.Context, req ETransferRequest) (*ETransferResult, error) {
	log := logger.Scoped(ctx, s.logger)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := &ETransferResult{TransactionID: uuid.NewString()}
	receivedBy := internal.OperatorIDFromContext(ctx)
	for _, item := range req.Payments {
		outcome := ETransferOutcome{PlayerID: item.PlayerID, Amount: item.Amount}
		event := ledger.ETransferPayment{
			TransactionID:   result.TransactionID,
			Amount:          item.Amount.Round(2),
			SenderEmail:     req.SenderEmail,
			ReferenceNumber: req.ReferenceNumber,
			Notes:           req.Notes,
			CityID:          req.CityID,
			ReceivedBy:      receivedBy,
			ReceivedAt:      s.now(),
		}
		pm, err := s.appendTransfer(ctx, item, event)
		if err != nil {
			log.Warn("manual: e-transfer not recorded for player", "error", err,
				"player_id", item.PlayerID, "transaction_id", result.TransactionID)
			outcome.Error = asAppError(err)
			result.Failed++
		} else {
			outcome.PaymentMethodID = pm.ID
			outcome.AmountPaid = pm.AmountPaid
			outcome.Status = pm.Status
			result.Succeeded++
		}
		result.Results = append(result.Results, outcome)
	}

	log.Info("manual: e-transfer batch recorded",
		"transaction_id", result.TransactionID,
		"players", len(req.Payments),
		"succeeded", result.Succeeded,
		"failed", result.Failed)
	return result, nil
}

func (s *Service) appendTransfer(ctx context.Context, item ETransferItem, event ledger.ETransferPayment) (*ledger.PaymentMethod, error) {
	p, err := s.players.GetPlayer(ctx, item.PlayerID)
	if err != nil {
		return nil, err
	}
	quote, err := s.prices.FullPrice(ctx, p.DivisionID, item.PricingTier)
	if err != nil {
		return nil, err
	}
	pm, _, err := s.ledger.FindOrCreate(ctx, ledgerService.Key{
		PlayerID:      p.ID,
		DivisionID:    p.DivisionID,
		PaymentType:   ledger.PaymentTypeETransfer,
		PricingTier:   item.PricingTier,
		OriginalPrice: quote.Total,
	})
	if err != nil {
		return nil, err
	}

	var wasCompleted bool
	updated, _, err := s.ledger.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
		wasCompleted = pm.Status == ledger.StatusCompleted
		return ledgerService.AppendETransfer(pm, event)
	})
	if err != nil {
		return nil, err
	}

	if updated.Status == ledger.StatusCompleted {
		if err := s.players.SetHasPaid(ctx, updated.PlayerID, true); err != nil {
			return updated, fmt.Errorf("mark player %d paid: %w", updated.PlayerID, err)
		}
		if !wasCompleted {
			s.publish(ctx, events.NewPaymentCompletedEvent(updated.ID, updated.PlayerID, string(updated.PaymentType),
				money.ToMinorUnits(updated.AmountPaid), events.ChannelETransfer, ""))
		}
	}
	return updated, nil
}

func asAppError(err error) *internal.AppError {
	if appErr, ok := internal.IsAppError(err); ok {
		return appErr
	}
	return internal.NewInternalError("failed to record e-transfer", err)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Scoped(ctx, s.logger).Error("manual: failed to publish event", "error", err, "event_type", event.EventType())
	}
}
