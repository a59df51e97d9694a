package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentType string

const (
	PaymentTypeFull         PaymentType = "FULL_PAYMENT"
	PaymentTypeInstallments PaymentType = "INSTALLMENTS"
	PaymentTypeCash         PaymentType = "CASH"
	PaymentTypeETransfer    PaymentType = "E_TRANSFER"
	PaymentTypeTerminal     PaymentType = "TERMINAL"
)

type PricingTier string

const (
	TierEarlyBird PricingTier = "EARLY_BIRD"
	TierRegular   PricingTier = "REGULAR"
)

func (t PricingTier) Valid() bool {
	return t == TierEarlyBird || t == TierRegular
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

type InstallmentStatus string

const (
	InstallmentPending   InstallmentStatus = "pending"
	InstallmentSucceeded InstallmentStatus = "succeeded"
	InstallmentFailed    InstallmentStatus = "failed"
)

type TerminalStatus string

const (
	TerminalProcessing TerminalStatus = "processing"
	TerminalSucceeded  TerminalStatus = "succeeded"
	TerminalFailed     TerminalStatus = "failed"
)

type SubscriptionPayment struct {
	PaymentNumber    int               `json:"paymentNumber"`
	InvoiceID        string            `json:"invoiceId"`
	Status           InstallmentStatus `json:"status"`
	AmountDue        decimal.Decimal   `json:"amountDue"`
	AmountPaid       decimal.Decimal   `json:"amountPaid"`
	DueDate          *time.Time        `json:"dueDate,omitempty"`
	PaidAt           *time.Time        `json:"paidAt,omitempty"`
	FailedAt         *time.Time        `json:"failedAt,omitempty"`
	TerminalIntentID string            `json:"terminalIntentId,omitempty"`
}

type Installments struct {
	SubscriptionID       string                `json:"subscriptionId,omitempty"`
	SubscriptionPayments []SubscriptionPayment `json:"subscriptionPayments"`
	TotalAmountDue       decimal.Decimal       `json:"totalAmountDue"`
	RemainingBalance     decimal.Decimal       `json:"remainingBalance"`
}

// TerminalPayment holds the current terminal attempt only. A new attempt replaces it.
type TerminalPayment struct {
	PaymentIntentID   string          `json:"paymentIntentId"`
	Amount            decimal.Decimal `json:"amount"`
	ReaderID          string          `json:"readerId"`
	ReaderLabel       string          `json:"readerLabel"`
	Status            TerminalStatus  `json:"status"`
	InvoiceID         string          `json:"invoiceId,omitempty"`
	ChargeID          string          `json:"chargeId,omitempty"`
	CardBrand         string          `json:"cardBrand,omitempty"`
	CardLast4         string          `json:"cardLast4,omitempty"`
	ReceiptURL        string          `json:"receiptUrl,omitempty"`
	AuthorizationCode string          `json:"authorizationCode,omitempty"`
	FailureReason     string          `json:"failureReason,omitempty"`
	StartedAt         time.Time       `json:"startedAt"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
}

type CashPayment struct {
	PaidDate   *time.Time `json:"paidDate,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	ReceivedBy string     `json:"receivedBy,omitempty"`
}

type ETransferPayment struct {
	TransactionID   string          `json:"transactionId"`
	Amount          decimal.Decimal `json:"amount"`
	SenderEmail     string          `json:"senderEmail,omitempty"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CityID          int64           `json:"cityId"`
	ReceivedBy      string          `json:"receivedBy,omitempty"`
	ReceivedAt      time.Time       `json:"receivedAt"`
}

// PaymentMethod is one ledger entry: what a player owes and has paid through one channel.
type PaymentMethod struct {
	ID                int64                                 `gorm:"primaryKey" json:"id"`
	PlayerID          int64                                 `gorm:"column:player_id;not null;uniqueIndex:idx_payment_methods_player_type" json:"playerId"`
	DivisionID        int64                                 `gorm:"column:division_id;not null" json:"divisionId"`
	PaymentType       PaymentType                           `gorm:"column:payment_type;not null;uniqueIndex:idx_payment_methods_player_type" json:"paymentType"`
	PricingTier       PricingTier                           `gorm:"column:pricing_tier;not null" json:"pricingTier"`
	OriginalPrice     decimal.Decimal                       `gorm:"column:original_price;type:numeric(12,2);not null" json:"originalPrice"`
	AmountPaid        decimal.Decimal                       `gorm:"column:amount_paid;type:numeric(12,2);not null" json:"amountPaid"`
	Status            Status                                `gorm:"column:status;not null" json:"status"`
	TerminalIntentID  *string                               `gorm:"column:terminal_intent_id;uniqueIndex" json:"-"`
	Installments      datatypes.JSONType[Installments]      `gorm:"column:installments;not null" json:"installments"`
	TerminalPayment   datatypes.JSONType[TerminalPayment]   `gorm:"column:terminal_payment;not null" json:"terminalPayment"`
	CashPayment       datatypes.JSONType[CashPayment]       `gorm:"column:cash_payment;not null" json:"cashPayment"`
	ETransferPayments datatypes.JSONSlice[ETransferPayment] `gorm:"column:etransfer_payments;not null" json:"eTransferPayments"`
	Version           int64                                 `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt         time.Time                             `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt         time.Time                             `gorm:"column:updated_at" json:"updatedAt"`
}

func (PaymentMethod) TableName() string {
	return "payment_methods"
}

func (pm *PaymentMethod) Terminal() TerminalPayment {
	return pm.TerminalPayment.Data()
}

func (pm *PaymentMethod) HasTerminalAttempt() bool {
	return pm.TerminalPayment.Data().PaymentIntentID != ""
}

// SetTerminal replaces the terminal sub-document and its lookup column.
func (pm *PaymentMethod) SetTerminal(tp TerminalPayment) {
	pm.TerminalPayment = datatypes.NewJSONType(tp)
	if tp.PaymentIntentID == "" {
		pm.TerminalIntentID = nil
		return
	}
	id := tp.PaymentIntentID
	pm.TerminalIntentID = &id
}

func (pm *PaymentMethod) Plan() Installments {
	return pm.Installments.Data()
}

func (pm *PaymentMethod) SetPlan(plan Installments) {
	pm.Installments = datatypes.NewJSONType(plan)
}

func (pm *PaymentMethod) Cash() CashPayment {
	return pm.CashPayment.Data()
}

func (pm *PaymentMethod) SetCash(cp CashPayment) {
	pm.CashPayment = datatypes.NewJSONType(cp)
}
