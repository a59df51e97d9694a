package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) ledgerService.RepositoryAPI {
	return &LedgerRepository{db: db}
}

// FindOrCreate relies on the (player_id, payment_type) unique index so two
// concurrent first uses still end up with one row.
func (r *LedgerRepository) FindOrCreate(ctx context.Context, seed *ledger.PaymentMethod) (*ledger.PaymentMethod, bool, error) {
	db := r.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}, {Name: "payment_type"}},
		DoNothing: true,
	}).Create(seed)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 && seed.ID != 0 {
		return seed, true, nil
	}

	pm, err := r.GetByPlayerAndType(ctx, seed.PlayerID, seed.PaymentType)
	if err != nil {
		return nil, false, err
	}
	return pm, false, nil
}

func (r *LedgerRepository) Create(ctx context.Context, pm *ledger.PaymentMethod) error {
	return r.db.WithContext(ctx).Create(pm).Error
}

func (r *LedgerRepository) GetByID(ctx context.Context, id int64) (*ledger.PaymentMethod, error) {
	var pm ledger.PaymentMethod
	if err := r.db.WithContext(ctx).First(&pm, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &pm, nil
}

func (r *LedgerRepository) GetByIntentID(ctx context.Context, intentID string) (*ledger.PaymentMethod, error) {
	var pm ledger.PaymentMethod
	if err := r.db.WithContext(ctx).Where("terminal_intent_id = ?", intentID).First(&pm).Error; err != nil {
		return nil, notFound(err)
	}
	return &pm, nil
}

func (r *LedgerRepository) GetByPlayerAndType(ctx context.Context, playerID int64, paymentType ledger.PaymentType) (*ledger.PaymentMethod, error) {
	var pm ledger.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("player_id = ? AND payment_type = ?", playerID, paymentType).
		First(&pm).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &pm, nil
}

func (r *LedgerRepository) ListByPlayer(ctx context.Context, playerID int64) ([]*ledger.PaymentMethod, error) {
	var methods []*ledger.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("created_at ASC").
		Find(&methods).Error
	return methods, err
}

func (r *LedgerRepository) ListOpenByType(ctx context.Context, paymentType ledger.PaymentType, limit int) ([]*ledger.PaymentMethod, error) {
	var methods []*ledger.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("payment_type = ? AND status <> ?", paymentType, ledger.StatusCompleted).
		Order("id ASC").
		Limit(limit).
		Find(&methods).Error
	return methods, err
}

func (r *LedgerRepository) ListInFlightTerminal(ctx context.Context, updatedBefore time.Time, limit int) ([]*ledger.PaymentMethod, error) {
	var methods []*ledger.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("terminal_intent_id IS NOT NULL AND status = ? AND updated_at <= ?", ledger.StatusInProgress, updatedBefore.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&methods).Error
	return methods, err
}

// CompareAndSwap is a single conditional UPDATE. RowsAffected tells the caller
// whether another writer got there first.
func (r *LedgerRepository) CompareAndSwap(ctx context.Context, pm *ledger.PaymentMethod, expectedVersion int64, expectedStatus ledger.Status) (bool, error) {
	updates := map[string]interface{}{
		"pricing_tier":       pm.PricingTier,
		"original_price":     pm.OriginalPrice,
		"amount_paid":        pm.AmountPaid,
		"status":             pm.Status,
		"terminal_intent_id": pm.TerminalIntentID,
		"installments":       pm.Installments,
		"terminal_payment":   pm.TerminalPayment,
		"cash_payment":       pm.CashPayment,
		"etransfer_payments": pm.ETransferPayments,
		"version":            expectedVersion + 1,
		"updated_at":         time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).
		Model(&ledger.PaymentMethod{}).
		Where("id = ? AND version = ? AND status = ?", pm.ID, expectedVersion, expectedStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *LedgerRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&ledger.PaymentMethod{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.ErrPaymentMethodNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return internal.ErrPaymentMethodNotFound
	}
	return err
}
