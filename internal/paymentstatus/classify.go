package paymentstatus

import (
	"time"

	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
)

type Status string

const (
	StatusUnpaid    Status = "unpaid"
	StatusOnTrack   Status = "on-track"
	StatusPaid      Status = "paid"
	StatusHasIssues Status = "has-issues"
	StatusCritical  Status = "critical"
)

// Classification is derived from ledger state alone and never stored.
type Classification struct {
	Status              Status     `json:"status"`
	PaidBy              *int64     `json:"paidByPaymentMethodId,omitempty"`
	FailedInstallments  int        `json:"failedInstallments"`
	OverdueInstallments int        `json:"overdueInstallments"`
	NextDueDate         *time.Time `json:"nextDueDate,omitempty"`
	OldestIssue         *time.Time `json:"oldestIssue,omitempty"`
}

// Classify orders the outcomes paid > critical > has-issues > on-track > unpaid.
// A pending installment past its due date counts as an issue, and an issue
// older than grace is critical. deadline stands in for installments that
// carry no due date of their own.
func Classify(methods []*ledger.PaymentMethod, deadline *time.Time, now time.Time, grace time.Duration) Classification {
	var c Classification
	for _, pm := range methods {
		if ledgerService.IsSettled(pm) {
			id := pm.ID
			return Classification{Status: StatusPaid, PaidBy: &id}
		}
	}

	plans := 0
	for _, pm := range methods {
		if pm.PaymentType != ledger.PaymentTypeInstallments {
			continue
		}
		plans++
		for _, sp := range pm.Plan().SubscriptionPayments {
			due := sp.DueDate
			if due == nil {
				due = deadline
			}
			switch sp.Status {
			case ledger.InstallmentFailed:
				c.FailedInstallments++
				issueAt := due
				if issueAt == nil {
					issueAt = sp.FailedAt
				}
				c.OldestIssue = earliest(c.OldestIssue, issueAt)
			case ledger.InstallmentPending:
				if due != nil && due.Before(now) {
					c.OverdueInstallments++
					c.OldestIssue = earliest(c.OldestIssue, due)
					continue
				}
				c.NextDueDate = earliest(c.NextDueDate, due)
			}
		}
	}

	switch {
	case c.FailedInstallments+c.OverdueInstallments > 0:
		c.Status = StatusHasIssues
		if c.OldestIssue != nil && now.Sub(*c.OldestIssue) > grace {
			c.Status = StatusCritical
		}
	case plans > 0:
		c.Status = StatusOnTrack
	default:
		c.Status = StatusUnpaid
	}
	return c
}

func earliest(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.Before(*current) {
		t := *candidate
		return &t
	}
	return current
}
