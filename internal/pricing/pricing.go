package pricing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/player"
	"github.com/frahmantamala/league-payments/internal/tax"
)

// Catalog is the division data prices are read from. *player.Service satisfies it.
type Catalog interface {
	GetDivision(ctx context.Context, id int64) (*player.Division, error)
	Region(ctx context.Context, div *player.Division) (string, error)
}

type Resolver struct {
	catalog Catalog
	tax     *tax.Calculator
	logger  *slog.Logger
}

func NewResolver(catalog Catalog, calculator *tax.Calculator, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: catalog, tax: calculator, logger: logger}
}

// Quote is a tax-inclusive price and how it was derived.
type Quote struct {
	Base   decimal.Decimal
	Rate   decimal.Decimal
	Region string
	Total  decimal.Decimal
}

// FullPrice is the single-payment price for tier. A division whose region
// cannot be resolved is taxed at the fallback rate.
func (r *Resolver) FullPrice(ctx context.Context, divisionID int64, tier ledger.PricingTier) (Quote, error) {
	div, err := r.catalog.GetDivision(ctx, divisionID)
	if err != nil {
		return Quote{}, err
	}
	base, err := fullBase(div, tier)
	if err != nil {
		return Quote{}, err
	}

	region, err := r.catalog.Region(ctx, div)
	if err != nil && !errors.Is(err, internal.ErrRegionMissing) {
		return Quote{}, err
	}
	rate := r.tax.Rate(region)
	return Quote{Base: base, Rate: rate, Region: region, Total: tax.ApplyTax(base, rate)}, nil
}

// InstallmentPrice is the per-installment price for tier. It must match what
// was billed, so an unresolvable or unknown region is an error.
func (r *Resolver) InstallmentPrice(ctx context.Context, divisionID int64, tier ledger.PricingTier) (Quote, error) {
	div, err := r.catalog.GetDivision(ctx, divisionID)
	if err != nil {
		return Quote{}, err
	}
	base, err := installmentBase(div, tier)
	if err != nil {
		return Quote{}, err
	}

	region, err := r.catalog.Region(ctx, div)
	if err != nil {
		r.logger.Warn("pricing: installment region unresolved", "division_id", div.ID, "error", err)
		return Quote{}, err
	}
	rate, ok := r.tax.Lookup(region)
	if !ok {
		return Quote{}, internal.ErrRegionMissing.WithMessage("region %q of division %d has no tax rate", region, div.ID)
	}
	return Quote{Base: base, Rate: rate, Region: region, Total: tax.ApplyTax(base, rate)}, nil
}

func fullBase(div *player.Division, tier ledger.PricingTier) (decimal.Decimal, error) {
	var base decimal.Decimal
	switch tier {
	case ledger.TierEarlyBird:
		base = div.EarlyBirdPrice
	case ledger.TierRegular:
		base = div.RegularPrice
	default:
		return decimal.Zero, invalidTier(tier)
	}
	return requirePrice(div, base, tier)
}

func installmentBase(div *player.Division, tier ledger.PricingTier) (decimal.Decimal, error) {
	var base decimal.Decimal
	switch tier {
	case ledger.TierEarlyBird:
		base = div.EarlyBirdInstallmentPrice
	case ledger.TierRegular:
		base = div.RegularInstallmentPrice
	default:
		return decimal.Zero, invalidTier(tier)
	}
	return requirePrice(div, base, tier)
}

func requirePrice(div *player.Division, base decimal.Decimal, tier ledger.PricingTier) (decimal.Decimal, error) {
	if !base.IsPositive() {
		return decimal.Zero, internal.NewUnprocessableError(
			"division "+div.Name+" has no "+string(tier)+" price configured", internal.ErrCodeInvalidAmount)
	}
	return base, nil
}

func invalidTier(tier ledger.PricingTier) error {
	return internal.NewValidationFieldError("pricing_tier", "unknown pricing tier "+string(tier), internal.ErrCodeInvalidPricingTier)
}
