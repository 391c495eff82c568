/*
Package tarification computes loan-protection premiums from per-partner rate
schedules.

PURPOSE:
  A partner's RateSchedule is pure configuration data: duration bands with
  amount caps and rates, an optional VIP tier, fixed fee components (the
  prévoyance premium), rider rates, and preferential tables per borrower
  category. Partner-specific behaviour is expressed entirely as data; there
  is no per-partner code path.

KEY CONCEPTS:
  - RateSchedule: Immutable table set for one partner
  - Tier: Closed duration band [DurationMin, DurationMax] with cap and rate
  - Registry: Read-only lookup, hot-swappable as a whole
  - Engine: Pure Quote function over the registry

TIER INVARIANTS (checked by Validate, fail closed):
  - Bands are sorted, contiguous and non-overlapping over duration
  - AmountMax is positive and non-decreasing from band to band
  - Rates are strictly positive

  ┌──────────┬──────────┬────────────┬───────┐
  │ min (mo) │ max (mo) │ amount_max │ rate  │
  ├──────────┼──────────┼────────────┼───────┤
  │ 1        │ 6        │ 5 000 000  │ 0.80% │
  │ 7        │ 12       │ 10 000 000 │ 1.00% │
  │ 13       │ 24       │ 15 000 000 │ 1.50% │
  └──────────┴──────────┴────────────┴───────┘

SEE ALSO:
  - engine.go: Quote algorithm
  - partners.go: Built-in partner tables
  - factory/schedule.go: JSON definitions
*/
package tarification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/indemnity-engine/generic"
)

// Category selects which tier table applies to a borrower.
type Category string

const (
	CategoryStandard Category = "standard"
	// CategoryEmployee is the partner's in-house staff, usually on a
	// preferential table.
	CategoryEmployee Category = "employee"
)

// Tier is one duration band. Rate is a fraction (0.01 = 1%).
type Tier struct {
	DurationMin int
	DurationMax int
	AmountMax   generic.Amount
	Rate        decimal.Decimal
}

func (t Tier) Contains(months int) bool {
	return months >= t.DurationMin && months <= t.DurationMax
}

// VIPTier replaces tier lookup for large principals.
type VIPTier struct {
	AmountThreshold generic.Amount
	Rate            decimal.Decimal
}

// RateSchedule is the complete configuration for one partner.
type RateSchedule struct {
	PartnerID string
	Name      string
	Currency  generic.Currency

	// Tiers is the standard table.
	Tiers []Tier

	// CategoryTiers holds replacement tables for non-standard categories.
	CategoryTiers map[Category][]Tier

	VIP *VIPTier

	// FlatFees are fixed amounts added to every quote, keyed by component name.
	FlatFees map[string]generic.Amount

	// RiderRates are optional covers priced on the principal.
	RiderRates map[string]decimal.Decimal
}

// TiersFor resolves the table for a category. The empty category is standard.
func (s *RateSchedule) TiersFor(category Category) ([]Tier, error) {
	if category == "" || category == CategoryStandard {
		return s.Tiers, nil
	}
	tiers, ok := s.CategoryTiers[category]
	if !ok {
		return nil, &generic.UnknownScheduleError{PartnerID: s.PartnerID, Category: string(category)}
	}
	return tiers, nil
}

// Validate checks the schedule invariants. A schedule that fails is never
// registered: lookups against a broken table must fail, not guess.
func (s *RateSchedule) Validate() error {
	if s.PartnerID == "" {
		return generic.InvalidField("partner_id", "required")
	}
	if s.Currency == "" {
		return generic.InvalidField("currency", "required for partner %s", s.PartnerID)
	}
	if err := validateTiers(s.PartnerID, string(CategoryStandard), s.Tiers); err != nil {
		return err
	}
	for cat, tiers := range s.CategoryTiers {
		if cat == "" || cat == CategoryStandard {
			return generic.InvalidField("categories", "partner %s redefines the standard table", s.PartnerID)
		}
		if err := validateTiers(s.PartnerID, string(cat), tiers); err != nil {
			return err
		}
	}
	if s.VIP != nil {
		if s.VIP.AmountThreshold.Currency != s.Currency {
			return generic.InvalidField("vip.amount_threshold", "currency %s differs from schedule currency %s",
				s.VIP.AmountThreshold.Currency, s.Currency)
		}
		if !s.VIP.AmountThreshold.IsPositive() {
			return generic.InvalidField("vip.amount_threshold", "must be positive for partner %s", s.PartnerID)
		}
		if !s.VIP.Rate.IsPositive() {
			return generic.InvalidField("vip.rate", "must be positive for partner %s", s.PartnerID)
		}
	}
	for name, fee := range s.FlatFees {
		if strings.TrimSpace(name) == "" {
			return generic.InvalidField("flat_fees", "fee name required")
		}
		if name == ComponentProportional || strings.HasPrefix(name, RiderPrefix) {
			return generic.InvalidField("flat_fees."+name, "name is taken by a computed component")
		}
		if fee.Currency != s.Currency {
			return generic.InvalidField("flat_fees."+name, "currency %s differs from schedule currency %s", fee.Currency, s.Currency)
		}
		if fee.IsNegative() {
			return generic.InvalidField("flat_fees."+name, "must not be negative")
		}
	}
	for name, rate := range s.RiderRates {
		if !rate.IsPositive() {
			return generic.InvalidField("riders."+name, "rate must be positive")
		}
		if name == "" {
			return generic.InvalidField("riders", "rider name required")
		}
	}
	return nil
}

func validateTiers(partnerID, category string, tiers []Tier) error {
	field := fmt.Sprintf("%s.tiers[%s]", partnerID, category)
	if len(tiers) == 0 {
		return generic.InvalidField(field, "at least one tier required")
	}
	for i, t := range tiers {
		if t.DurationMin < 1 || t.DurationMax < t.DurationMin {
			return generic.InvalidField(field, "tier %d has band [%d, %d]", i, t.DurationMin, t.DurationMax)
		}
		if !t.AmountMax.IsPositive() {
			return generic.InvalidField(field, "tier %d amount_max must be positive", i)
		}
		if !t.Rate.IsPositive() {
			return generic.InvalidField(field, "tier %d rate must be positive", i)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.DurationMin <= prev.DurationMax {
			return generic.InvalidField(field, "tier %d overlaps tier %d", i, i-1)
		}
		if t.DurationMin != prev.DurationMax+1 {
			return generic.InvalidField(field, "gap between tier %d and tier %d", i-1, i)
		}
		if t.AmountMax.LessThan(prev.AmountMax) {
			return generic.InvalidField(field, "tier %d amount_max decreases", i)
		}
	}
	return nil
}

// SortTiers orders tiers by DurationMin. Definitions loaded from files may be
// written in any order; validation runs after sorting.
func SortTiers(tiers []Tier) {
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].DurationMin < tiers[j].DurationMin })
}
