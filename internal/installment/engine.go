package installment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/common/validation"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/core/events"
	"github.com/frahmantamala/league-payments/internal/core/money"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
	"github.com/frahmantamala/league-payments/internal/pricing"
	"github.com/frahmantamala/league-payments/internal/terminal"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

// Initiator is satisfied by *terminal.Orchestrator.
type Initiator interface {
	Initiate(ctx context.Context, req terminal.InitiateRequest) (*terminal.InitiateResult, error)
}

type PriceResolver interface {
	InstallmentPrice(ctx context.Context, divisionID int64, tier ledger.PricingTier) (pricing.Quote, error)
}

type PlayerStore interface {
	SetHasPaid(ctx context.Context, playerID int64, hasPaid bool) error
}

// Engine recovers installment charges that failed on schedule and keeps
// plan totals in step with every settled or failed charge.
type Engine struct {
	ledger    *ledgerService.Service
	prices    PriceResolver
	initiator Initiator
	players   PlayerStore
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

var _ terminal.InstallmentApplier = (*Engine)(nil)

func NewEngine(ledgers *ledgerService.Service, prices PriceResolver, initiator Initiator, players PlayerStore, publisher events.Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger:    ledgers,
		prices:    prices,
		initiator: initiator,
		players:   players,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type RetryRequest struct {
	PaymentMethodID int64  `json:"paymentMethodId"`
	InvoiceID       string `json:"invoiceId"`
	ReaderID        string `json:"readerId"`
}

func (r *RetryRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("payment_method_id", r.PaymentMethodID).Required()
	v.Field("invoice_id", r.InvoiceID).Required()
	v.Field("reader_id", r.ReaderID).Required()
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// RetryFailedInstallment charges one unpaid installment on a reader, priced
// from the division's installment price and strict regional tax.
func (e *Engine) RetryFailedInstallment(ctx context.Context, req RetryRequest) (*terminal.InitiateResult, error) {
	log := logger.Scoped(ctx, e.logger)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pm, err := e.ledger.Get(ctx, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	sp, err := unpaidInstallment(pm, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	quote, err := e.prices.InstallmentPrice(ctx, pm.DivisionID, pm.PricingTier)
	if err != nil {
		return nil, err
	}
	if !quote.Total.Equal(sp.AmountDue) {
		log.Warn("installment: priced amount differs from the billed amount",
			"payment_method_id", pm.ID,
			"invoice_id", sp.InvoiceID,
			"priced", quote.Total.StringFixed(2),
			"billed", sp.AmountDue.StringFixed(2))
	}

	res, err := e.initiator.Initiate(ctx, terminal.InitiateRequest{
		PlayerID:        pm.PlayerID,
		DivisionID:      pm.DivisionID,
		ReaderID:        req.ReaderID,
		Amount:          quote.Total,
		PricingTier:     pm.PricingTier,
		PaymentMethodID: pm.ID,
		InvoiceID:       sp.InvoiceID,
	})
	if err != nil {
		return nil, err
	}
	log.Info("installment: retry sent to reader",
		"payment_method_id", pm.ID,
		"invoice_id", sp.InvoiceID,
		"payment_number", sp.PaymentNumber,
		"intent_id", res.IntentID,
		"amount", quote.Total.StringFixed(2))
	return res, nil
}

func unpaidInstallment(pm *ledger.PaymentMethod, invoiceID string) (ledger.SubscriptionPayment, error) {
	if pm.PaymentType != ledger.PaymentTypeInstallments {
		return ledger.SubscriptionPayment{}, internal.NewValidationError(
			fmt.Sprintf("payment method %d is %s, not INSTALLMENTS", pm.ID, pm.PaymentType),
			internal.ErrCodeInvalidPaymentType)
	}
	plan := pm.Plan()
	idx := ledgerService.FindInstallment(plan, invoiceID)
	if idx < 0 {
		return ledger.SubscriptionPayment{}, internal.ErrInstallmentNotFound.WithMessage(
			"installment %s not found on payment method %d", invoiceID, pm.ID)
	}
	sp := plan.SubscriptionPayments[idx]
	if sp.Status == ledger.InstallmentSucceeded {
		return ledger.SubscriptionPayment{}, internal.ErrAlreadyPaid.WithMessage("installment %s is already paid", invoiceID)
	}
	return sp, nil
}

// ApplyTerminalResult settles or fails the installment a terminal attempt
// was started for. Only the write that changes the plan publishes events.
func (e *Engine) ApplyTerminalResult(ctx context.Context, result gatewaytypes.PaymentResult, source string) (*terminal.Reconciliation, error) {
	log := logger.Scoped(ctx, e.logger).With("intent_id", result.IntentID, "source", source)

	var (
		anomaly   bool
		invoiceID string
		amountDue decimal.Decimal
	)
	at := e.now()
	updated, changed, err := e.ledger.MutateByIntent(ctx, result.IntentID, func(pm *ledger.PaymentMethod) error {
		anomaly = false
		tp := pm.Terminal()
		invoiceID = tp.InvoiceID
		if invoiceID == "" {
			invoiceID = result.InvoiceID()
		}
		plan := pm.Plan()
		idx := ledgerService.FindInstallment(plan, invoiceID)
		if idx < 0 {
			return internal.ErrInstallmentNotFound.WithMessage(
				"installment %s not found on payment method %d", invoiceID, pm.ID)
		}
		sp := plan.SubscriptionPayments[idx]
		amountDue = sp.AmountDue
		if sp.Status == ledger.InstallmentSucceeded {
			anomaly = result.Outcome == gatewaytypes.OutcomeFailed && sp.TerminalIntentID == result.IntentID
			return ledgerService.ErrNoChange
		}

		next, ok := terminal.ApplyResult(tp, result, at)
		if !ok {
			return ledgerService.ErrNoChange
		}
		pm.SetTerminal(next)
		if result.Outcome == gatewaytypes.OutcomeSucceeded {
			return ledgerService.SettleInstallment(pm, invoiceID, sp.AmountDue, at, result.IntentID)
		}
		if sp.Status == ledger.InstallmentPending {
			return ledgerService.FailInstallment(pm, invoiceID, at)
		}
		return nil
	})
	if errors.Is(err, internal.ErrPaymentMethodNotFound) {
		log.Warn("installment: result for unknown intent discarded", "gateway_status", result.Status)
		return &terminal.Reconciliation{Result: result}, nil
	}
	if err != nil {
		log.Error("installment: failed to apply terminal result", "error", err, "invoice_id", invoiceID)
		return nil, err
	}

	rec := &terminal.Reconciliation{PaymentMethod: updated, Result: result, Known: true, Applied: changed, Anomaly: anomaly}
	switch {
	case anomaly:
		log.Warn("installment: failure reported for a paid installment, plan left unchanged",
			"payment_method_id", updated.ID,
			"invoice_id", invoiceID,
			"gateway_status", result.Status)
		e.publish(ctx, events.NewPaymentAnomalyEvent(updated.ID, updated.PlayerID, result.IntentID,
			string(updated.Status), result.Status, source))
	case changed && result.Outcome == gatewaytypes.OutcomeSucceeded:
		if charged := money.FromMinorUnits(result.AmountMinor); result.AmountMinor != 0 && !charged.Equal(money.Round2(amountDue)) {
			log.Warn("installment: charged amount differs from amount due, crediting amount due",
				"payment_method_id", updated.ID,
				"invoice_id", invoiceID,
				"charged", charged.StringFixed(2),
				"amount_due", amountDue.StringFixed(2))
		}
		if err := e.afterSettle(ctx, updated, invoiceID, result.IntentID); err != nil {
			return rec, err
		}
	case changed:
		reason := updated.Terminal().FailureReason
		log.Info("installment: terminal retry failed",
			"payment_method_id", updated.ID,
			"invoice_id", invoiceID,
			"reason", reason)
		e.publish(ctx, events.NewPaymentFailedEvent(updated.ID, updated.PlayerID, result.IntentID, invoiceID, reason))
	}
	return rec, nil
}

func (e *Engine) afterSettle(ctx context.Context, pm *ledger.PaymentMethod, invoiceID, intentID string) error {
	log := logger.Scoped(ctx, e.logger)
	plan := pm.Plan()
	completed := pm.Status == ledger.StatusCompleted

	var amountMinor int64
	if idx := ledgerService.FindInstallment(plan, invoiceID); idx >= 0 {
		amountMinor = money.ToMinorUnits(plan.SubscriptionPayments[idx].AmountPaid)
	}
	log.Info("installment: charge settled",
		"payment_method_id", pm.ID,
		"player_id", pm.PlayerID,
		"invoice_id", invoiceID,
		"remaining_balance", plan.RemainingBalance.StringFixed(2),
		"plan_completed", completed)

	if completed {
		if err := e.players.SetHasPaid(ctx, pm.PlayerID, true); err != nil {
			return fmt.Errorf("mark player %d paid: %w", pm.PlayerID, err)
		}
		e.publish(ctx, events.NewPaymentCompletedEvent(pm.ID, pm.PlayerID, string(pm.PaymentType),
			money.ToMinorUnits(pm.AmountPaid), events.ChannelInstallment, intentID))
	}
	if intentID != "" {
		e.publish(ctx, events.NewInstallmentRecoveredEvent(pm.ID, pm.PlayerID, invoiceID, amountMinor,
			money.ToMinorUnits(plan.RemainingBalance), completed, intentID))
	}
	return nil
}

// ScheduledCharge is the recurring-billing outcome of one installment.
type ScheduledCharge struct {
	PaymentMethodID int64           `json:"-"`
	InvoiceID       string          `json:"-"`
	Succeeded       bool            `json:"succeeded"`
	Amount          decimal.Decimal `json:"amount"`
	ChargedAt       *time.Time      `json:"chargedAt,omitempty"`
}

// RecordScheduledCharge applies an on-time charge result. Repeating a success
// is a no-op; failing an installment that is already paid is refused.
func (e *Engine) RecordScheduledCharge(ctx context.Context, charge ScheduledCharge) (*ledger.PaymentMethod, error) {
	log := logger.Scoped(ctx, e.logger)
	v := validation.NewValidator()
	v.Field("payment_method_id", charge.PaymentMethodID).Required()
	v.Field("invoice_id", charge.InvoiceID).Required()
	if !charge.Amount.IsZero() {
		v.Field("amount", charge.Amount).Positive(internal.ErrCodeInvalidAmount).MaxScale(2, internal.ErrCodeInvalidAmount)
	}
	if appErr := v.Validate(); appErr != nil {
		return nil, appErr
	}

	at := e.now()
	if charge.ChargedAt != nil {
		at = charge.ChargedAt.UTC()
	}
	updated, changed, err := e.ledger.Mutate(ctx, charge.PaymentMethodID, func(pm *ledger.PaymentMethod) error {
		if pm.PaymentType != ledger.PaymentTypeInstallments {
			return internal.NewValidationError(
				fmt.Sprintf("payment method %d is %s, not INSTALLMENTS", pm.ID, pm.PaymentType),
				internal.ErrCodeInvalidPaymentType)
		}
		plan := pm.Plan()
		idx := ledgerService.FindInstallment(plan, charge.InvoiceID)
		if idx < 0 {
			return internal.ErrInstallmentNotFound.WithMessage(
				"installment %s not found on payment method %d", charge.InvoiceID, pm.ID)
		}
		sp := plan.SubscriptionPayments[idx]
		if !charge.Succeeded {
			if sp.Status == ledger.InstallmentFailed {
				return ledgerService.ErrNoChange
			}
			return ledgerService.FailInstallment(pm, charge.InvoiceID, at)
		}
		if sp.Status == ledger.InstallmentSucceeded {
			return ledgerService.ErrNoChange
		}
		amount := charge.Amount
		if amount.IsZero() {
			amount = sp.AmountDue
		}
		return ledgerService.SettleInstallment(pm, charge.InvoiceID, amount, at, "")
	})
	if err != nil {
		log.Error("installment: failed to record scheduled charge", "error", err,
			"payment_method_id", charge.PaymentMethodID, "invoice_id", charge.InvoiceID)
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	if charge.Succeeded {
		if err := e.afterSettle(ctx, updated, charge.InvoiceID, ""); err != nil {
			return updated, err
		}
		return updated, nil
	}
	log.Info("installment: scheduled charge failed",
		"payment_method_id", updated.ID,
		"player_id", updated.PlayerID,
		"invoice_id", charge.InvoiceID)
	e.publish(ctx, events.NewPaymentFailedEvent(updated.ID, updated.PlayerID, "", charge.InvoiceID, "scheduled charge failed"))
	return updated, nil
}

func (e *Engine) ListPlansWithFailures(ctx context.Context, limit int) ([]*ledger.PaymentMethod, error) {
	return e.ledger.ListPlansWithFailures(ctx, limit)
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		logger.Scoped(ctx, e.logger).Error("installment: failed to publish event", "error", err, "event_type", event.EventType())
	}
}
