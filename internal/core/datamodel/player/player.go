package player

import (
	"time"

	"github.com/shopspring/decimal"
)

// Player carries the cached payment status block. Other player fields
// belong to the registration layer.
type Player struct {
	ID                         int64      `db:"id" gorm:"primaryKey"`
	FirstName                  string     `db:"first_name" gorm:"column:first_name"`
	LastName                   string     `db:"last_name" gorm:"column:last_name"`
	DivisionID                 int64      `db:"division_id" gorm:"column:division_id;not null"`
	PaymentStatusHasPaid       bool       `db:"payment_status_has_paid" gorm:"column:payment_status_has_paid;not null;default:false"`
	PaymentStatusReminderCount int        `db:"payment_status_reminder_count" gorm:"column:payment_status_reminder_count;not null;default:0"`
	PaymentStatusLastAttempt   *time.Time `db:"payment_status_last_attempt" gorm:"column:payment_status_last_attempt"`
	CreatedAt                  time.Time  `db:"created_at" gorm:"column:created_at"`
	UpdatedAt                  time.Time  `db:"updated_at" gorm:"column:updated_at"`
}

func (Player) TableName() string {
	return "players"
}

type PaymentStatus struct {
	HasPaid       bool       `json:"hasPaid"`
	ReminderCount int        `json:"reminderCount"`
	LastAttempt   *time.Time `json:"lastAttempt,omitempty"`
}

func (p *Player) PaymentStatus() PaymentStatus {
	return PaymentStatus{
		HasPaid:       p.PaymentStatusHasPaid,
		ReminderCount: p.PaymentStatusReminderCount,
		LastAttempt:   p.PaymentStatusLastAttempt,
	}
}

func (p *Player) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Division holds the configured prices. Prices are tax exclusive.
type Division struct {
	ID                        int64           `db:"id" gorm:"primaryKey"`
	Name                      string          `db:"name" gorm:"column:name;not null"`
	CityID                    *int64          `db:"city_id" gorm:"column:city_id"`
	EarlyBirdPrice            decimal.Decimal `db:"early_bird_price" gorm:"column:early_bird_price;type:numeric(12,2);not null"`
	RegularPrice              decimal.Decimal `db:"regular_price" gorm:"column:regular_price;type:numeric(12,2);not null"`
	EarlyBirdInstallmentPrice decimal.Decimal `db:"early_bird_installment_price" gorm:"column:early_bird_installment_price;type:numeric(12,2);not null"`
	RegularInstallmentPrice   decimal.Decimal `db:"regular_installment_price" gorm:"column:regular_installment_price;type:numeric(12,2);not null"`
	InstallmentCount          int             `db:"installment_count" gorm:"column:installment_count;not null;default:1"`
	PaymentDeadline           *time.Time      `db:"payment_deadline" gorm:"column:payment_deadline"`
	CreatedAt                 time.Time       `db:"created_at" gorm:"column:created_at"`
	UpdatedAt                 time.Time       `db:"updated_at" gorm:"column:updated_at"`
}

func (Division) TableName() string {
	return "divisions"
}

type City struct {
	ID        int64     `db:"id" gorm:"primaryKey"`
	Name      string    `db:"name" gorm:"column:name;not null"`
	Region    *string   `db:"region" gorm:"column:region"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `db:"updated_at" gorm:"column:updated_at"`
}

func (City) TableName() string {
	return "cities"
}
