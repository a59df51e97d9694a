package manual

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/common/validation"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
)

var pricingTiers = []string{string(ledger.TierEarlyBird), string(ledger.TierRegular)}

type CashRequest struct {
	PlayerID    int64              `json:"playerId"`
	Amount      decimal.Decimal    `json:"amount"`
	PricingTier ledger.PricingTier `json:"pricingTier"`
	Notes       string             `json:"notes,omitempty"`
	PaidDate    *time.Time         `json:"paidDate,omitempty"`
}

func (r *CashRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("player_id", r.PlayerID).Required()
	v.Field("amount", r.Amount).Amount()
	v.Field("pricing_tier", r.PricingTier).OneOf(internal.ErrCodeInvalidPricingTier, pricingTiers...)
	v.Field("notes", r.Notes).MaxLength(500)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type UndoResult struct {
	PlayerID        int64 `json:"playerId"`
	PaymentMethodID int64 `json:"paymentMethodId"`
	HasPaid         bool  `json:"hasPaid"`
}

type ETransferItem struct {
	PlayerID    int64              `json:"playerId"`
	Amount      decimal.Decimal    `json:"amount"`
	PricingTier ledger.PricingTier `json:"pricingTier"`
}

// ETransferRequest is one physical transfer, possibly covering several players.
type ETransferRequest struct {
	Payments        []ETransferItem `json:"payments"`
	CityID          int64           `json:"cityId"`
	SenderEmail     string          `json:"senderEmail,omitempty"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Validate checks the whole batch before anything is written.
func (r *ETransferRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("city_id", r.CityID).Required()
	v.Field("sender_email", r.SenderEmail).Email()
	v.Field("reference_number", r.ReferenceNumber).MaxLength(100)
	v.Field("notes", r.Notes).MaxLength(500)
	if len(r.Payments) == 0 {
		v.Field("payments", nil).Required()
	}
	for i, item := range r.Payments {
		prefix := fmt.Sprintf("payments[%d].", i)
		v.Field(prefix+"player_id", item.PlayerID).Required()
		v.Field(prefix+"amount", item.Amount).Amount()
		v.Field(prefix+"pricing_tier", item.PricingTier).OneOf(internal.ErrCodeInvalidPricingTier, pricingTiers...)
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type ETransferOutcome struct {
	PlayerID        int64              `json:"playerId"`
	PaymentMethodID int64              `json:"paymentMethodId,omitempty"`
	Amount          decimal.Decimal    `json:"amount"`
	AmountPaid      decimal.Decimal    `json:"amountPaid"`
	Status          ledger.Status      `json:"status,omitempty"`
	Error           *internal.AppError `json:"error,omitempty"`
}

type ETransferResult struct {
	TransactionID string             `json:"transactionId"`
	Results       []ETransferOutcome `json:"results"`
	Succeeded     int                `json:"succeeded"`
	Failed        int                `json:"failed"`
}
