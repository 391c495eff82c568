package tarification

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/indemnity-engine/generic"
)

// =============================================================================
// QUOTE TYPES
// =============================================================================

// Constraint names a limit a quote violates.
type Constraint string

const (
	AmountExceeded   Constraint = "amount_exceeded"
	DurationExceeded Constraint = "duration_exceeded"
)

// Component names in PremiumQuote.Components. Flat fees use their configured
// name; riders are prefixed with RiderPrefix.
const (
	ComponentProportional = "proportional"
	RiderPrefix           = "rider_"
)

// QuoteRequest is a proposed policy for underwriting or simulation.
type QuoteRequest struct {
	PartnerID       string
	PrincipalAmount generic.Amount
	DurationMonths  int
	Category        Category
	Riders          []string
	IsVIP           bool
}

// PremiumQuote is the result of one computation. It is built fresh per call
// and never mutated afterwards.
type PremiumQuote struct {
	PartnerID       string
	PrincipalAmount generic.Amount
	DurationMonths  int
	Category        Category

	// IsVIP is true when the VIP tier priced the quote.
	IsVIP bool

	// AppliedRate is the proportional rate, zero when no tier matched.
	AppliedRate decimal.Decimal

	// AmountCeiling is the limit the principal was checked against, nil when
	// no tier matched.
	AmountCeiling *generic.Amount

	Components map[string]generic.Amount
	TotalTTC   generic.Amount

	WithinLimits bool
	Violations   []Constraint
}

// Violates reports whether the quote breaks the given constraint.
func (q PremiumQuote) Violates(c Constraint) bool {
	for _, v := range q.Violations {
		if v == c {
			return true
		}
	}
	return false
}

// ComponentNames returns component keys in a stable order: proportional,
// then fees, then riders.
func (q PremiumQuote) ComponentNames() []string {
	names := make([]string, 0, len(q.Components))
	for name := range q.Components {
		names = append(names, name)
	}
	rank := func(n string) int {
		switch {
		case n == ComponentProportional:
			return 0
		case len(n) > len(RiderPrefix) && n[:len(RiderPrefix)] == RiderPrefix:
			return 2
		default:
			return 1
		}
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := rank(names[i]), rank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
	return names
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes premiums. Quote has no side effects and is safe for
// concurrent use: identical requests yield identical quotes.
type Engine struct {
	registry *Registry
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

func (e *Engine) Registry() *Registry { return e.registry }

// Quote prices a request against its partner's schedule.
//
// Limit violations are not errors: an out-of-band duration or an excessive
// principal still yields a displayable quote with WithinLimits false.
// Errors are reserved for malformed requests and configuration misses.
func (e *Engine) Quote(req QuoteRequest) (PremiumQuote, error) {
	if !req.PrincipalAmount.IsPositive() {
		return PremiumQuote{}, generic.InvalidField("principal_amount", "must be positive, got %s", req.PrincipalAmount.Value)
	}
	if req.DurationMonths <= 0 {
		return PremiumQuote{}, generic.InvalidField("duration_months", "must be positive, got %d", req.DurationMonths)
	}

	// 1. Resolve the partner schedule
	schedule, err := e.registry.Lookup(req.PartnerID)
	if err != nil {
		return PremiumQuote{}, err
	}

	principal := req.PrincipalAmount
	if principal.Currency == "" {
		principal.Currency = schedule.Currency
	}
	if principal.Currency != schedule.Currency {
		return PremiumQuote{}, generic.InvalidField("principal_amount",
			"currency %s does not match partner currency %s", principal.Currency, schedule.Currency)
	}

	category := req.Category
	if category == "" {
		category = CategoryStandard
	}

	riders, err := selectRiders(schedule, req.Riders)
	if err != nil {
		return PremiumQuote{}, err
	}

	quote := PremiumQuote{
		PartnerID:       schedule.PartnerID,
		PrincipalAmount: principal,
		DurationMonths:  req.DurationMonths,
		Category:        category,
		AppliedRate:     decimal.Zero,
		Components:      make(map[string]generic.Amount),
		WithinLimits:    true,
	}

	// 2. Pick the rate and the limit. Category tables are resolved before the
	// tier lookup so a preferential table replaces the standard bands.
	var (
		rate    decimal.Decimal
		ceiling *generic.Amount
		matched bool
	)
	if req.IsVIP && schedule.VIP != nil {
		rate = schedule.VIP.Rate
		limit := schedule.VIP.AmountThreshold
		ceiling = &limit
		matched = true
		quote.IsVIP = true
	} else {
		tiers, err := schedule.TiersFor(category)
		if err != nil {
			return PremiumQuote{}, err
		}
		if tier, ok := findTier(tiers, req.DurationMonths); ok {
			rate = tier.Rate
			limit := tier.AmountMax
			ceiling = &limit
			matched = true
		} else {
			quote.WithinLimits = false
			quote.Violations = append(quote.Violations, DurationExceeded)
		}
	}

	// 3. Components
	if matched {
		quote.AppliedRate = rate
		quote.AmountCeiling = ceiling
		quote.Components[ComponentProportional] = principal.Mul(rate).Round()
	}
	for name, fee := range schedule.FlatFees {
		quote.Components[name] = fee
	}
	for _, rider := range riders {
		quote.Components[RiderPrefix+rider] = principal.Mul(schedule.RiderRates[rider]).Round()
	}

	// 4. Total and limits
	total := principal.Zero()
	for _, c := range quote.Components {
		total = total.Add(c)
	}
	quote.TotalTTC = total

	if ceiling != nil && principal.GreaterThan(*ceiling) {
		quote.WithinLimits = false
		quote.Violations = append(quote.Violations, AmountExceeded)
	}

	sort.Slice(quote.Violations, func(i, j int) bool { return quote.Violations[i] < quote.Violations[j] })
	return quote, nil
}

// findTier returns the band containing months. No nearest-band fallback.
func findTier(tiers []Tier, months int) (Tier, bool) {
	for _, t := range tiers {
		if t.Contains(months) {
			return t, true
		}
	}
	return Tier{}, false
}

func selectRiders(schedule *RateSchedule, requested []string) ([]string, error) {
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, r := range requested {
		if _, ok := schedule.RiderRates[r]; !ok {
			return nil, generic.InvalidField("riders", "partner %s offers no %q rider", schedule.PartnerID, r)
		}
		if seen[r] {
			return nil, generic.InvalidField("riders", "rider %q selected twice", r)
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}
