// Package tax maps Canadian province and territory codes to sales tax rates
// and computes tax-inclusive totals.
package tax

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// BaselineRate applies when a region is unknown. It matches Ontario HST.
var BaselineRate = decimal.RequireFromString("0.13")

var defaultRates = map[string]decimal.Decimal{
	"AB": decimal.RequireFromString("0.05"),
	"BC": decimal.RequireFromString("0.12"),
	"MB": decimal.RequireFromString("0.12"),
	"NB": decimal.RequireFromString("0.15"),
	"NL": decimal.RequireFromString("0.15"),
	"NS": decimal.RequireFromString("0.14"),
	"NT": decimal.RequireFromString("0.05"),
	"NU": decimal.RequireFromString("0.05"),
	"ON": decimal.RequireFromString("0.13"),
	"PE": decimal.RequireFromString("0.15"),
	"QC": decimal.RequireFromString("0.14975"),
	"SK": decimal.RequireFromString("0.11"),
	"YT": decimal.RequireFromString("0.05"),
}

var regionNames = map[string]string{
	"ALBERTA":                   "AB",
	"BRITISH COLUMBIA":          "BC",
	"MANITOBA":                  "MB",
	"NEW BRUNSWICK":             "NB",
	"NEWFOUNDLAND AND LABRADOR": "NL",
	"NOVA SCOTIA":               "NS",
	"NORTHWEST TERRITORIES":     "NT",
	"NUNAVUT":                   "NU",
	"ONTARIO":                   "ON",
	"PRINCE EDWARD ISLAND":      "PE",
	"QUEBEC":                    "QC",
	"SASKATCHEWAN":              "SK",
	"YUKON":                     "YT",
}

type Calculator struct {
	rates    map[string]decimal.Decimal
	fallback decimal.Decimal
	logger   *slog.Logger
}

type Option func(*Calculator)

// WithFallback replaces the baseline rate used for unknown regions.
func WithFallback(rate decimal.Decimal) Option {
	return func(c *Calculator) {
		c.fallback = rate
	}
}

// WithRegionRate overrides or adds a single region.
func WithRegionRate(region string, rate decimal.Decimal) Option {
	return func(c *Calculator) {
		c.rates[Normalize(region)] = rate
	}
}

func NewCalculator(logger *slog.Logger, opts ...Option) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Calculator{
		rates:    make(map[string]decimal.Decimal, len(defaultRates)),
		fallback: BaselineRate,
		logger:   logger,
	}
	for code, rate := range defaultRates {
		c.rates[code] = rate
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rate never fails. Unknown or empty regions get the fallback rate and a warning.
func (c *Calculator) Rate(region string) decimal.Decimal {
	if rate, ok := c.Lookup(region); ok {
		return rate
	}
	c.logger.Warn("tax: unrecognized region, using fallback rate",
		"region", region,
		"fallback_rate", c.fallback.String())
	return c.fallback
}

// Lookup reports whether region has a configured rate.
func (c *Calculator) Lookup(region string) (decimal.Decimal, bool) {
	rate, ok := c.rates[Normalize(region)]
	return rate, ok
}

// Total is ApplyTax(base, Rate(region)).
func (c *Calculator) Total(base decimal.Decimal, region string) decimal.Decimal {
	return ApplyTax(base, c.Rate(region))
}

// ApplyTax returns base*(1+rate) rounded to cents.
func ApplyTax(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(1).Add(rate)).Round(2)
}

// Normalize maps "on", " Ontario " and "ON" to "ON".
func Normalize(region string) string {
	r := strings.ToUpper(strings.TrimSpace(region))
	if code, ok := regionNames[r]; ok {
		return code
	}
	return r
}
