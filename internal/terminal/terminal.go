package terminal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/player"
)

// Sources of a reconciliation, used in logs and the anomaly event.
const (
	SourcePoll     = "poll"
	SourceWebhook  = "webhook"
	SourceSweep    = "sweep"
	SourceInitiate = "initiate"
)

// Gateway is the processor surface the orchestrator drives.
// *paymentgateway.Client satisfies it.
type Gateway interface {
	CreateCardPresentSession(ctx context.Context, req gatewaytypes.SessionRequest) (*gatewaytypes.Session, error)
	GetPaymentResult(ctx context.Context, intentID string) (*gatewaytypes.PaymentResult, error)
	Cancel(ctx context.Context, intentID string) error
	CancelReaderAction(ctx context.Context, readerID string) error
	ListReaders(ctx context.Context) ([]gatewaytypes.Reader, error)
	GetReader(ctx context.Context, readerID string) (*gatewaytypes.Reader, error)
}

type WebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (*gatewaytypes.WebhookEvent, error)
}

// PlayerStore is satisfied by *player.Service.
type PlayerStore interface {
	GetPlayer(ctx context.Context, id int64) (*player.Player, error)
	SetHasPaid(ctx context.Context, playerID int64, hasPaid bool) error
}

// InstallmentApplier takes over reconciliation of attempts made against an
// installment plan.
type InstallmentApplier interface {
	ApplyTerminalResult(ctx context.Context, result gatewaytypes.PaymentResult, source string) (*Reconciliation, error)
}

type InitiateRequest struct {
	PlayerID    int64              `json:"playerId"`
	DivisionID  int64              `json:"divisionId,omitempty"`
	ReaderID    string             `json:"readerId"`
	Amount      decimal.Decimal    `json:"amount"`
	PricingTier ledger.PricingTier `json:"pricingTier"`
	Description string             `json:"description,omitempty"`

	// Set when the charge repairs one installment of an existing plan.
	PaymentMethodID int64  `json:"-"`
	InvoiceID       string `json:"-"`
}

type InitiateResult struct {
	PaymentMethodID int64           `json:"paymentMethodId"`
	IntentID        string          `json:"intentId"`
	ReaderID        string          `json:"readerId"`
	ReaderLabel     string          `json:"readerLabel"`
	Amount          decimal.Decimal `json:"amount"`
	AmountMinor     int64           `json:"amountMinor"`
	Status          ledger.Status   `json:"status"`
}

// Reconciliation reports what one reconcile call did. Applied is true only
// for the call whose write changed the ledger.
type Reconciliation struct {
	PaymentMethod *ledger.PaymentMethod
	Result        gatewaytypes.PaymentResult
	Known         bool
	Applied       bool
	Anomaly       bool
}

type PaymentStatus struct {
	IntentID        string               `json:"intentId"`
	GatewayStatus   string               `json:"gatewayStatus"`
	Outcome         gatewaytypes.Outcome `json:"outcome"`
	PaymentMethodID int64                `json:"paymentMethodId,omitempty"`
	LedgerStatus    ledger.Status        `json:"ledgerStatus,omitempty"`
	AmountPaid      *decimal.Decimal     `json:"amountPaid,omitempty"`
	ChargeID        string               `json:"chargeId,omitempty"`
	CardBrand       string               `json:"cardBrand,omitempty"`
	CardLast4       string               `json:"cardLast4,omitempty"`
	ReceiptURL      string               `json:"receiptUrl,omitempty"`
	FailureReason   string               `json:"failureReason,omitempty"`
}

func newPaymentStatus(rec *Reconciliation) *PaymentStatus {
	status := &PaymentStatus{
		IntentID:      rec.Result.IntentID,
		GatewayStatus: rec.Result.Status,
		Outcome:       rec.Result.Outcome,
		ChargeID:      rec.Result.ChargeID,
		CardBrand:     rec.Result.CardBrand,
		CardLast4:     rec.Result.Last4,
		ReceiptURL:    rec.Result.ReceiptURL,
		FailureReason: rec.Result.FailureReason,
	}
	if pm := rec.PaymentMethod; pm != nil {
		paid := pm.AmountPaid
		status.PaymentMethodID = pm.ID
		status.LedgerStatus = pm.Status
		status.AmountPaid = &paid
	}
	return status
}

// ApplyResult folds a processor result into the current attempt. It reports
// false when the attempt already reflects the result or the result is not final.
func ApplyResult(tp ledger.TerminalPayment, result gatewaytypes.PaymentResult, at time.Time) (ledger.TerminalPayment, bool) {
	switch result.Outcome {
	case gatewaytypes.OutcomeSucceeded:
		if tp.Status == ledger.TerminalSucceeded {
			return tp, false
		}
		tp.Status = ledger.TerminalSucceeded
		tp.ChargeID = result.ChargeID
		tp.CardBrand = result.CardBrand
		tp.CardLast4 = result.Last4
		tp.ReceiptURL = result.ReceiptURL
		tp.AuthorizationCode = result.AuthCode
		tp.FailureReason = ""
	case gatewaytypes.OutcomeFailed:
		if tp.Status != ledger.TerminalProcessing {
			return tp, false
		}
		tp.Status = ledger.TerminalFailed
		tp.FailureReason = result.FailureReason
	default:
		return tp, false
	}
	tp.CompletedAt = &at
	return tp, true
}

func hasChargeDetails(result gatewaytypes.PaymentResult) bool {
	return result.ChargeID != "" && result.CardBrand != "" && result.Last4 != ""
}

// fillChargeDetails copies charge details into a succeeded attempt that is
// missing them. It never touches the attempt status.
func fillChargeDetails(tp ledger.TerminalPayment, result gatewaytypes.PaymentResult) (ledger.TerminalPayment, bool) {
	if tp.Status != ledger.TerminalSucceeded || result.Outcome != gatewaytypes.OutcomeSucceeded {
		return tp, false
	}
	if tp.ChargeID != "" && result.ChargeID != "" && tp.ChargeID != result.ChargeID {
		return tp, false
	}
	filled := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			filled = true
		}
	}
	fill(&tp.ChargeID, result.ChargeID)
	fill(&tp.CardBrand, result.CardBrand)
	fill(&tp.CardLast4, result.Last4)
	fill(&tp.ReceiptURL, result.ReceiptURL)
	fill(&tp.AuthorizationCode, result.AuthCode)
	return tp, filled
}
