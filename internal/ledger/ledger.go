package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/league-payments/internal/core/money"
)

// ErrNoChange tells Mutate that the mutation decided nothing needs writing.
var ErrNoChange = errors.New("ledger: no change")

type RepositoryAPI interface {
	// FindOrCreate inserts seed unless (player, payment type) already exists
	// and returns the stored row either way.
	FindOrCreate(ctx context.Context, seed *ledger.PaymentMethod) (*ledger.PaymentMethod, bool, error)
	Create(ctx context.Context, pm *ledger.PaymentMethod) error
	GetByID(ctx context.Context, id int64) (*ledger.PaymentMethod, error)
	GetByIntentID(ctx context.Context, intentID string) (*ledger.PaymentMethod, error)
	GetByPlayerAndType(ctx context.Context, playerID int64, paymentType ledger.PaymentType) (*ledger.PaymentMethod, error)
	ListByPlayer(ctx context.Context, playerID int64) ([]*ledger.PaymentMethod, error)
	ListOpenByType(ctx context.Context, paymentType ledger.PaymentType, limit int) ([]*ledger.PaymentMethod, error)
	ListInFlightTerminal(ctx context.Context, updatedBefore time.Time, limit int) ([]*ledger.PaymentMethod, error)
	// CompareAndSwap writes pm only if the stored row still has expectedVersion
	// and expectedStatus. It reports whether the row was written.
	CompareAndSwap(ctx context.Context, pm *ledger.PaymentMethod, expectedVersion int64, expectedStatus ledger.Status) (bool, error)
	Delete(ctx context.Context, id int64) error
}

var forward = map[ledger.Status][]ledger.Status{
	ledger.StatusPending:    {ledger.StatusInProgress, ledger.StatusCompleted, ledger.StatusFailed},
	ledger.StatusInProgress: {ledger.StatusCompleted, ledger.StatusFailed, ledger.StatusPending},
	ledger.StatusFailed:     {ledger.StatusInProgress, ledger.StatusCompleted},
	ledger.StatusCompleted:  {},
}

// CanTransition allows staying put, forward moves, and the terminal retry
// reset IN_PROGRESS -> PENDING. Nothing leaves COMPLETED.
func CanTransition(from, to ledger.Status) bool {
	if from == to {
		return true
	}
	for _, s := range forward[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Recompute derives amountPaid, remainingBalance and status for the channels
// whose totals are sums of discrete events.
func Recompute(pm *ledger.PaymentMethod) {
	switch pm.PaymentType {
	case ledger.PaymentTypeInstallments:
		recomputePlan(pm)
	case ledger.PaymentTypeETransfer:
		recomputeETransfer(pm)
	}
}

func recomputePlan(pm *ledger.PaymentMethod) {
	plan := pm.Plan()
	var settled []decimal.Decimal
	allSucceeded := len(plan.SubscriptionPayments) > 0
	for _, sp := range plan.SubscriptionPayments {
		if sp.Status == ledger.InstallmentSucceeded {
			settled = append(settled, sp.AmountPaid)
		} else {
			allSucceeded = false
		}
	}
	paid := money.Sum(settled...)
	plan.RemainingBalance = plan.TotalAmountDue.Sub(paid)
	pm.AmountPaid = paid
	pm.SetPlan(plan)

	if pm.Status == ledger.StatusCompleted {
		return
	}
	if allSucceeded && plan.RemainingBalance.IsZero() {
		pm.Status = ledger.StatusCompleted
		return
	}
	pm.Status = ledger.StatusInProgress
}

func recomputeETransfer(pm *ledger.PaymentMethod) {
	received := make([]decimal.Decimal, 0, len(pm.ETransferPayments))
	for _, e := range pm.ETransferPayments {
		received = append(received, e.Amount)
	}
	paid := money.Sum(received...)
	pm.AmountPaid = paid

	switch {
	case len(pm.ETransferPayments) > 0 && paid.GreaterThanOrEqual(pm.OriginalPrice):
		pm.Status = ledger.StatusCompleted
	case pm.Status == ledger.StatusCompleted:
	case len(pm.ETransferPayments) > 0:
		pm.Status = ledger.StatusInProgress
	default:
		pm.Status = ledger.StatusPending
	}
}

// CheckInvariants validates amount bounds. E-transfer overpayment is kept as
// recorded, so only its lower bound applies.
func CheckInvariants(pm *ledger.PaymentMethod) error {
	if pm.AmountPaid.IsNegative() {
		return fmt.Errorf("payment method %d: amount paid %s is negative", pm.ID, pm.AmountPaid)
	}
	limit := pm.OriginalPrice
	switch pm.PaymentType {
	case ledger.PaymentTypeETransfer:
		return nil
	case ledger.PaymentTypeInstallments:
		plan := pm.Plan()
		limit = plan.TotalAmountDue
		if !plan.RemainingBalance.Add(pm.AmountPaid).Equal(plan.TotalAmountDue) {
			return fmt.Errorf("payment method %d: remaining balance %s does not reconcile with total %s",
				pm.ID, plan.RemainingBalance, plan.TotalAmountDue)
		}
	}
	if pm.AmountPaid.GreaterThan(limit) {
		return fmt.Errorf("payment method %d: amount paid %s exceeds %s", pm.ID, pm.AmountPaid, limit)
	}
	return nil
}

// IsSettled reports whether pm alone covers what the player owes.
func IsSettled(pm *ledger.PaymentMethod) bool {
	if pm.Status != ledger.StatusCompleted {
		return false
	}
	if pm.PaymentType == ledger.PaymentTypeInstallments {
		return pm.Plan().RemainingBalance.Sign() <= 0
	}
	return pm.AmountPaid.GreaterThanOrEqual(pm.OriginalPrice)
}

// AnySettled is the derived value of Player.paymentStatus.hasPaid.
func AnySettled(methods []*ledger.PaymentMethod) bool {
	for _, pm := range methods {
		if IsSettled(pm) {
			return true
		}
	}
	return false
}

// AppendETransfer adds one transfer event and recomputes totals in the same step.
func AppendETransfer(pm *ledger.PaymentMethod, event ledger.ETransferPayment) error {
	if pm.PaymentType != ledger.PaymentTypeETransfer {
		return internal.NewValidationError(
			fmt.Sprintf("payment method %d is %s, not E_TRANSFER", pm.ID, pm.PaymentType),
			internal.ErrCodeInvalidPaymentType)
	}
	pm.ETransferPayments = append(pm.ETransferPayments, event)
	Recompute(pm)
	return nil
}

// FindInstallment returns the index of invoiceID in the plan, or -1.
func FindInstallment(plan ledger.Installments, invoiceID string) int {
	for i, sp := range plan.SubscriptionPayments {
		if sp.InvoiceID == invoiceID {
			return i
		}
	}
	return -1
}

// SettleInstallment marks one scheduled payment succeeded and recomputes the plan.
func SettleInstallment(pm *ledger.PaymentMethod, invoiceID string, amount decimal.Decimal, at time.Time, intentID string) error {
	plan := pm.Plan()
	idx := FindInstallment(plan, invoiceID)
	if idx < 0 {
		return internal.ErrInstallmentNotFound.WithMessage("installment %s not found on payment method %d", invoiceID, pm.ID)
	}
	sp := &plan.SubscriptionPayments[idx]
	if sp.Status == ledger.InstallmentSucceeded {
		return internal.ErrAlreadyPaid.WithMessage("installment %s is already paid", invoiceID)
	}
	sp.Status = ledger.InstallmentSucceeded
	sp.AmountPaid = amount
	sp.PaidAt = &at
	if intentID != "" {
		sp.TerminalIntentID = intentID
	}
	pm.SetPlan(plan)
	Recompute(pm)
	return nil
}

// FailInstallment records a missed scheduled charge.
func FailInstallment(pm *ledger.PaymentMethod, invoiceID string, at time.Time) error {
	plan := pm.Plan()
	idx := FindInstallment(plan, invoiceID)
	if idx < 0 {
		return internal.ErrInstallmentNotFound.WithMessage("installment %s not found on payment method %d", invoiceID, pm.ID)
	}
	sp := &plan.SubscriptionPayments[idx]
	if sp.Status == ledger.InstallmentSucceeded {
		return internal.ErrAlreadyPaid.WithMessage("installment %s is already paid", invoiceID)
	}
	sp.Status = ledger.InstallmentFailed
	sp.FailedAt = &at
	pm.SetPlan(plan)
	Recompute(pm)
	return nil
}

// FailedInstallments lists the scheduled payments currently marked failed.
func FailedInstallments(pm *ledger.PaymentMethod) []ledger.SubscriptionPayment {
	var failed []ledger.SubscriptionPayment
	for _, sp := range pm.Plan().SubscriptionPayments {
		if sp.Status == ledger.InstallmentFailed {
			failed = append(failed, sp)
		}
	}
	return failed
}
