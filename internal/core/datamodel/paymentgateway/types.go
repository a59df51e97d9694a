package paymentgateway

import (
	"errors"
	"strings"
)

// Outcome is the processor status folded into what the ledger acts on.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

func (o Outcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// Metadata keys written on every card-present intent.
const (
	MetadataPaymentMethodID = "paymentMethodId"
	MetadataPlayerID        = "playerId"
	MetadataInvoiceID       = "invoiceId"
	MetadataPaymentType     = "paymentType"
)

type SessionRequest struct {
	ReaderID    string
	AmountMinor int64
	Currency    string
	Description string
	Metadata    map[string]string

	// IdempotencyKey makes a retried request return the first attempt's result.
	IdempotencyKey string
}

func (r *SessionRequest) Validate() error {
	if r.ReaderID == "" {
		return errors.New("reader_id is required")
	}
	if r.AmountMinor <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if len(r.Currency) != 3 {
		return errors.New("currency must be a 3-letter ISO code")
	}
	return nil
}

type Session struct {
	IntentID      string `json:"intentId"`
	InitialStatus string `json:"initialStatus"`
	ReaderID      string `json:"readerId"`
}

type PaymentResult struct {
	IntentID      string            `json:"intentId"`
	Status        string            `json:"status"`
	Outcome       Outcome           `json:"outcome"`
	AmountMinor   int64             `json:"amountMinor"`
	Currency      string            `json:"currency"`
	ChargeID      string            `json:"chargeId,omitempty"`
	CardBrand     string            `json:"cardBrand,omitempty"`
	Last4         string            `json:"last4,omitempty"`
	ReceiptURL    string            `json:"receiptUrl,omitempty"`
	AuthCode      string            `json:"authorizationCode,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (r PaymentResult) InvoiceID() string {
	return r.Metadata[MetadataInvoiceID]
}

const (
	ReaderStatusOnline  = "online"
	ReaderStatusOffline = "offline"
)

type Reader struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Status     string `json:"status"`
	DeviceType string `json:"deviceType,omitempty"`
	Location   string `json:"location,omitempty"`
	Busy       bool   `json:"busy"`
}

// Ready reports whether the reader can take a new prompt.
func (r Reader) Ready() bool {
	return strings.EqualFold(r.Status, ReaderStatusOnline) && !r.Busy
}

// WebhookEvent is a verified processor event. Result is set for payment
// intent events only.
type WebhookEvent struct {
	ID     string
	Type   string
	Result *PaymentResult
}
