package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted     = "payment.completed"
	EventTypePaymentFailed        = "payment.failed"
	EventTypePaymentAnomaly       = "payment.anomaly"
	EventTypeInstallmentRecovered = "installment.recovered"
)

// Channel names the path that produced a ledger change.
type Channel string

const (
	ChannelTerminal    Channel = "terminal"
	ChannelCash        Channel = "cash"
	ChannelETransfer   Channel = "e_transfer"
	ChannelInstallment Channel = "installment"
)

func newBase(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

type PaymentCompletedEvent struct {
	BaseEvent
	PaymentMethodID int64   `json:"payment_method_id"`
	PlayerID        int64   `json:"player_id"`
	PaymentType     string  `json:"payment_type"`
	AmountMinor     int64   `json:"amount_minor"`
	Channel         Channel `json:"channel"`
	IntentID        string  `json:"intent_id,omitempty"`
}

func NewPaymentCompletedEvent(paymentMethodID, playerID int64, paymentType string, amountMinor int64, channel Channel, intentID string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: newBase(EventTypePaymentCompleted, map[string]interface{}{
			"payment_method_id": paymentMethodID,
			"player_id":         playerID,
			"payment_type":      paymentType,
			"amount_minor":      amountMinor,
			"channel":           string(channel),
			"intent_id":         intentID,
		}),
		PaymentMethodID: paymentMethodID,
		PlayerID:        playerID,
		PaymentType:     paymentType,
		AmountMinor:     amountMinor,
		Channel:         channel,
		IntentID:        intentID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentMethodID int64  `json:"payment_method_id"`
	PlayerID        int64  `json:"player_id"`
	IntentID        string `json:"intent_id"`
	InvoiceID       string `json:"invoice_id,omitempty"`
	FailureReason   string `json:"failure_reason"`
}

func NewPaymentFailedEvent(paymentMethodID, playerID int64, intentID, invoiceID, failureReason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: newBase(EventTypePaymentFailed, map[string]interface{}{
			"payment_method_id": paymentMethodID,
			"player_id":         playerID,
			"intent_id":         intentID,
			"invoice_id":        invoiceID,
			"failure_reason":    failureReason,
		}),
		PaymentMethodID: paymentMethodID,
		PlayerID:        playerID,
		IntentID:        intentID,
		InvoiceID:       invoiceID,
		FailureReason:   failureReason,
	}
}

// PaymentAnomalyEvent flags a result that contradicts a completed ledger entry.
type PaymentAnomalyEvent struct {
	BaseEvent
	PaymentMethodID int64  `json:"payment_method_id"`
	PlayerID        int64  `json:"player_id"`
	IntentID        string `json:"intent_id"`
	LedgerStatus    string `json:"ledger_status"`
	GatewayStatus   string `json:"gateway_status"`
	Source          string `json:"source"`
}

func NewPaymentAnomalyEvent(paymentMethodID, playerID int64, intentID, ledgerStatus, gatewayStatus, source string) *PaymentAnomalyEvent {
	return &PaymentAnomalyEvent{
		BaseEvent: newBase(EventTypePaymentAnomaly, map[string]interface{}{
			"payment_method_id": paymentMethodID,
			"player_id":         playerID,
			"intent_id":         intentID,
			"ledger_status":     ledgerStatus,
			"gateway_status":    gatewayStatus,
			"source":            source,
		}),
		PaymentMethodID: paymentMethodID,
		PlayerID:        playerID,
		IntentID:        intentID,
		LedgerStatus:    ledgerStatus,
		GatewayStatus:   gatewayStatus,
		Source:          source,
	}
}

type InstallmentRecoveredEvent struct {
	BaseEvent
	PaymentMethodID int64  `json:"payment_method_id"`
	PlayerID        int64  `json:"player_id"`
	InvoiceID       string `json:"invoice_id"`
	AmountMinor     int64  `json:"amount_minor"`
	RemainingMinor  int64  `json:"remaining_minor"`
	PlanCompleted   bool   `json:"plan_completed"`
	IntentID        string `json:"intent_id,omitempty"`
}

func NewInstallmentRecoveredEvent(paymentMethodID, playerID int64, invoiceID string, amountMinor, remainingMinor int64, planCompleted bool, intentID string) *InstallmentRecoveredEvent {
	return &InstallmentRecoveredEvent{
		BaseEvent: newBase(EventTypeInstallmentRecovered, map[string]interface{}{
			"payment_method_id": paymentMethodID,
			"player_id":         playerID,
			"invoice_id":        invoiceID,
			"amount_minor":      amountMinor,
			"remaining_minor":   remainingMinor,
			"plan_completed":    planCompleted,
			"intent_id":         intentID,
		}),
		PaymentMethodID: paymentMethodID,
		PlayerID:        playerID,
		InvoiceID:       invoiceID,
		AmountMinor:     amountMinor,
		RemainingMinor:  remainingMinor,
		PlanCompleted:   planCompleted,
		IntentID:        intentID,
	}
}
