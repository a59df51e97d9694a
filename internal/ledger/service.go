package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
)

const defaultMaxSwapAttempts = 5

// MutateFunc edits a freshly loaded record. It may run more than once when a
// concurrent writer wins the compare-and-swap, so it must not have side effects.
type MutateFunc func(pm *ledger.PaymentMethod) error

type Service struct {
	repo        RepositoryAPI
	logger      *slog.Logger
	maxAttempts int
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		logger:      logger,
		maxAttempts: defaultMaxSwapAttempts,
	}
}

type Key struct {
	PlayerID      int64
	DivisionID    int64
	PaymentType   ledger.PaymentType
	PricingTier   ledger.PricingTier
	OriginalPrice decimal.Decimal
}

func (k Key) validate() error {
	if k.PlayerID <= 0 {
		return internal.NewValidationFieldError("player_id", "player_id is required", internal.ErrCodeValidationFailed)
	}
	if !k.PricingTier.Valid() {
		return internal.NewValidationFieldError("pricing_tier", fmt.Sprintf("unknown pricing tier %q", k.PricingTier), internal.ErrCodeInvalidPricingTier)
	}
	if !k.OriginalPrice.IsPositive() {
		return internal.NewValidationFieldError("original_price", "original price must be greater than zero", internal.ErrCodeInvalidAmount)
	}
	return nil
}

// FindOrCreate returns the player's record for the channel, creating it in
// PENDING on first use. The boolean reports whether it was created.
func (s *Service) FindOrCreate(ctx context.Context, key Key) (*ledger.PaymentMethod, bool, error) {
	if err := key.validate(); err != nil {
		return nil, false, err
	}
	seed := &ledger.PaymentMethod{
		PlayerID:      key.PlayerID,
		DivisionID:    key.DivisionID,
		PaymentType:   key.PaymentType,
		PricingTier:   key.PricingTier,
		OriginalPrice: key.OriginalPrice.Round(2),
		AmountPaid:    decimal.Zero,
		Status:        ledger.StatusPending,
		Version:       1,
	}
	pm, created, err := s.repo.FindOrCreate(ctx, seed)
	if err != nil {
		s.logger.Error("ledger: find-or-create failed", "error", err, "player_id", key.PlayerID, "payment_type", key.PaymentType)
		return nil, false, fmt.Errorf("find or create %s payment method: %w", key.PaymentType, err)
	}
	if created {
		s.logger.Info("ledger: payment method created",
			"payment_method_id", pm.ID,
			"player_id", pm.PlayerID,
			"payment_type", pm.PaymentType,
			"original_price", pm.OriginalPrice.StringFixed(2))
	}
	return pm, created, nil
}

type ScheduledInstallment struct {
	InvoiceID string
	AmountDue decimal.Decimal
	DueDate   *time.Time
}

type PlanParams struct {
	PlayerID       int64
	DivisionID     int64
	PricingTier    ledger.PricingTier
	SubscriptionID string
	Schedule       []ScheduledInstallment
}

// CreateInstallmentPlan stores an INSTALLMENTS record whose total due is the
// sum of the scheduled amounts.
func (s *Service) CreateInstallmentPlan(ctx context.Context, params PlanParams) (*ledger.PaymentMethod, error) {
	if len(params.Schedule) == 0 {
		return nil, internal.NewValidationFieldError("schedule", "at least one installment is required", internal.ErrCodeValidationFailed)
	}
	total := decimal.Zero
	payments := make([]ledger.SubscriptionPayment, 0, len(params.Schedule))
	for i, item := range params.Schedule {
		if item.InvoiceID == "" || !item.AmountDue.IsPositive() {
			return nil, internal.NewValidationFieldError("schedule",
				fmt.Sprintf("installment %d needs an invoice id and a positive amount", i+1), internal.ErrCodeValidationFailed)
		}
		total = total.Add(item.AmountDue)
		payments = append(payments, ledger.SubscriptionPayment{
			PaymentNumber: i + 1,
			InvoiceID:     item.InvoiceID,
			Status:        ledger.InstallmentPending,
			AmountDue:     item.AmountDue,
			AmountPaid:    decimal.Zero,
			DueDate:       item.DueDate,
		})
	}

	key := Key{PlayerID: params.PlayerID, DivisionID: params.DivisionID, PaymentType: ledger.PaymentTypeInstallments, PricingTier: params.PricingTier, OriginalPrice: total}
	if err := key.validate(); err != nil {
		return nil, err
	}

	pm := &ledger.PaymentMethod{
		PlayerID:      params.PlayerID,
		DivisionID:    params.DivisionID,
		PaymentType:   ledger.PaymentTypeInstallments,
		PricingTier:   params.PricingTier,
		OriginalPrice: total,
		Status:        ledger.StatusInProgress,
		Version:       1,
	}
	pm.SetPlan(ledger.Installments{
		SubscriptionID:       params.SubscriptionID,
		SubscriptionPayments: payments,
		TotalAmountDue:       total,
	})
	Recompute(pm)

	if err := s.repo.Create(ctx, pm); err != nil {
		s.logger.Error("ledger: failed to create installment plan", "error", err, "player_id", params.PlayerID)
		return nil, fmt.Errorf("create installment plan: %w", err)
	}
	s.logger.Info("ledger: installment plan created",
		"payment_method_id", pm.ID,
		"player_id", pm.PlayerID,
		"installments", len(payments),
		"total_amount_due", total.StringFixed(2))
	return pm, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*ledger.PaymentMethod, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByIntent(ctx context.Context, intentID string) (*ledger.PaymentMethod, error) {
	return s.repo.GetByIntentID(ctx, intentID)
}

func (s *Service) GetByPlayerAndType(ctx context.Context, playerID int64, paymentType ledger.PaymentType) (*ledger.PaymentMethod, error) {
	return s.repo.GetByPlayerAndType(ctx, playerID, paymentType)
}

func (s *Service) ListByPlayer(ctx context.Context, playerID int64) ([]*ledger.PaymentMethod, error) {
	return s.repo.ListByPlayer(ctx, playerID)
}

// EnsureUnpaid fails with ErrAlreadyPaid when a method on another channel
// already settles the player. The channel's own record is left to the caller.
func (s *Service) EnsureUnpaid(ctx context.Context, playerID int64, channel ledger.PaymentType) error {
	methods, err := s.repo.ListByPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	for _, pm := range methods {
		if pm.PaymentType == channel || !IsSettled(pm) {
			continue
		}
		return internal.ErrAlreadyPaid.
			WithMessage("player %d has already paid by %s", playerID, pm.PaymentType).
			WithDetails(map[string]interface{}{"paymentMethodId": pm.ID, "paymentType": pm.PaymentType})
	}
	return nil
}

// ListInFlightTerminal returns records whose current terminal attempt is still
// processing and has not been touched since updatedBefore.
func (s *Service) ListInFlightTerminal(ctx context.Context, updatedBefore time.Time, limit int) ([]*ledger.PaymentMethod, error) {
	rows, err := s.repo.ListInFlightTerminal(ctx, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	inFlight := rows[:0]
	for _, pm := range rows {
		if pm.Terminal().Status == ledger.TerminalProcessing {
			inFlight = append(inFlight, pm)
		}
	}
	return inFlight, nil
}

// ListPlansWithFailures returns open installment plans holding at least one failed charge.
func (s *Service) ListPlansWithFailures(ctx context.Context, limit int) ([]*ledger.PaymentMethod, error) {
	rows, err := s.repo.ListOpenByType(ctx, ledger.PaymentTypeInstallments, limit)
	if err != nil {
		return nil, err
	}
	var plans []*ledger.PaymentMethod
	for _, pm := range rows {
		if len(FailedInstallments(pm)) > 0 {
			plans = append(plans, pm)
		}
	}
	return plans, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("ledger: payment method deleted", "payment_method_id", id)
	return nil
}

// Mutate loads the record, applies fn and writes it back with a conditional
// update on (version, status). A lost race reloads and re-applies fn.
// The boolean reports whether a write happened.
func (s *Service) Mutate(ctx context.Context, id int64, fn MutateFunc) (*ledger.PaymentMethod, bool, error) {
	return s.mutate(ctx, func() (*ledger.PaymentMethod, error) {
		return s.repo.GetByID(ctx, id)
	}, fn)
}

// MutateByIntent is Mutate keyed by the current terminal payment intent.
func (s *Service) MutateByIntent(ctx context.Context, intentID string, fn MutateFunc) (*ledger.PaymentMethod, bool, error) {
	return s.mutate(ctx, func() (*ledger.PaymentMethod, error) {
		return s.repo.GetByIntentID(ctx, intentID)
	}, fn)
}

func (s *Service) mutate(ctx context.Context, load func() (*ledger.PaymentMethod, error), fn MutateFunc) (*ledger.PaymentMethod, bool, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		pm, err := load()
		if err != nil {
			return nil, false, err
		}
		prevStatus, prevVersion := pm.Status, pm.Version

		if err := fn(pm); err != nil {
			if errors.Is(err, ErrNoChange) {
				return pm, false, nil
			}
			return pm, false, err
		}

		Recompute(pm)
		if !CanTransition(prevStatus, pm.Status) {
			return pm, false, internal.ErrInvalidTransition.WithMessage(
				"payment method %d cannot move from %s to %s", pm.ID, prevStatus, pm.Status)
		}
		if err := CheckInvariants(pm); err != nil {
			return pm, false, internal.NewInternalError("ledger invariant violated", err)
		}

		swapped, err := s.repo.CompareAndSwap(ctx, pm, prevVersion, prevStatus)
		if err != nil {
			s.logger.Error("ledger: conditional update failed", "error", err, "payment_method_id", pm.ID)
			return pm, false, fmt.Errorf("update payment method %d: %w", pm.ID, err)
		}
		if swapped {
			pm.Version = prevVersion + 1
			if prevStatus != pm.Status {
				s.logger.Info("ledger: status changed",
					"payment_method_id", pm.ID,
					"payment_type", pm.PaymentType,
					"from", prevStatus,
					"to", pm.Status,
					"amount_paid", pm.AmountPaid.StringFixed(2))
			}
			return pm, true, nil
		}

		s.logger.Debug("ledger: lost conditional update, retrying",
			"payment_method_id", pm.ID,
			"attempt", attempt,
			"expected_version", prevVersion)
	}
	return nil, false, internal.ErrConcurrentUpdate
}
