/*
Package factory provides JSON to Go rate-schedule conversion.

PURPOSE:
  Converts JSON partner rate definitions into validated
  tarification.RateSchedule values. Partner tables are configuration, not
  code: the actuarial team edits a file and the registry is reloaded.

WHY JSON?
  - Non-developers can modify rate tables
  - Easy integration with an admin UI
  - Version control for rate definitions

JSON SCHEMA:
  {
    "partners": [
      {
        "partner_id": "COFIDEC",
        "name": "COFIDEC crédit protégé",
        "currency": "XOF",
        "tiers": [
          {"duration_min": 1, "duration_max": 6,  "amount_max": "5000000",  "rate_percent": "0.80"},
          {"duration_min": 7, "duration_max": 12, "amount_max": "10000000", "rate_percent": "1.00"}
        ],
        "categories": {
          "employee": [{"duration_min": 1, "duration_max": 12, "amount_max": "10000000", "rate_percent": "0.60"}]
        },
        "vip": {"amount_threshold": "50000000", "rate_percent": "2.50"},
        "flat_fees": {"prevoyance": "25000"},
        "riders": {"job_loss": "0.50"}
      }
    ]
  }

  Rates are written in percent. Amounts may be JSON strings or numbers.

KEY FEATURES:
  - Rejects unknown fields (a misspelt key must not silently drop a rate)
  - Sorts tiers by duration, then validates every invariant
  - Never repairs a broken table: the whole file is refused

USAGE:
  f := factory.NewScheduleFactory()
  schedules, err := f.LoadFile("rates.json")
  if err != nil { ... }
  err = registry.Replace(schedules)

SEE ALSO:
  - tarification/schedule.go: RateSchedule type and invariants
  - tarification/partners.go: Built-in tables
*/
package factory

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/tarification"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleFileJSON is the top-level document.
type ScheduleFileJSON struct {
	Partners []ScheduleJSON `json:"partners"`
}

// ScheduleJSON is the JSON representation of one partner's schedule.
type ScheduleJSON struct {
	PartnerID  string                     `json:"partner_id"`
	Name       string                     `json:"name,omitempty"`
	Currency   string                     `json:"currency,omitempty"` // default XOF
	Tiers      []TierJSON                 `json:"tiers"`
	Categories map[string][]TierJSON      `json:"categories,omitempty"`
	VIP        *VIPJSON                   `json:"vip,omitempty"`
	FlatFees   map[string]decimal.Decimal `json:"flat_fees,omitempty"`
	Riders     map[string]decimal.Decimal `json:"riders,omitempty"` // percent
}

// TierJSON represents one duration band.
type TierJSON struct {
	DurationMin int             `json:"duration_min"`
	DurationMax int             `json:"duration_max"`
	AmountMax   decimal.Decimal `json:"amount_max"`
	RatePercent decimal.Decimal `json:"rate_percent"`
}

// VIPJSON represents the VIP tier.
type VIPJSON struct {
	AmountThreshold decimal.Decimal `json:"amount_threshold"`
	RatePercent     decimal.Decimal `json:"rate_percent"`
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

var hundred = decimal.NewFromInt(100)

// ScheduleFactory converts JSON schedules to tarification types.
type ScheduleFactory struct{}

// NewScheduleFactory creates a new schedule factory.
func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{}
}

// LoadFile reads and parses a schedule file.
func (f *ScheduleFactory) LoadFile(path string) ([]tarification.RateSchedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}
	return f.Parse(data)
}

// Parse parses a schedule document. Every schedule is validated; the first
// failure rejects the whole document.
func (f *ScheduleFactory) Parse(data []byte) ([]tarification.RateSchedule, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc ScheduleFileJSON
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse schedule JSON: %w: %w", generic.ErrInvalidInput, err)
	}
	if len(doc.Partners) == 0 {
		return nil, generic.InvalidField("partners", "at least one partner schedule required")
	}

	schedules := make([]tarification.RateSchedule, 0, len(doc.Partners))
	for _, sj := range doc.Partners {
		s, err := f.FromJSON(sj)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

// FromJSON converts ScheduleJSON to a validated RateSchedule.
func (f *ScheduleFactory) FromJSON(sj ScheduleJSON) (tarification.RateSchedule, error) {
	currency := generic.Currency(sj.Currency)
	if currency == "" {
		currency = generic.XOF
	}

	s := tarification.RateSchedule{
		PartnerID: sj.PartnerID,
		Name:      sj.Name,
		Currency:  currency,
		Tiers:     parseTiers(sj.Tiers, currency),
	}

	if len(sj.Categories) > 0 {
		s.CategoryTiers = make(map[tarification.Category][]tarification.Tier, len(sj.Categories))
		for name, tiers := range sj.Categories {
			s.CategoryTiers[tarification.Category(name)] = parseTiers(tiers, currency)
		}
	}

	if sj.VIP != nil {
		s.VIP = &tarification.VIPTier{
			AmountThreshold: generic.Amount{Value: sj.VIP.AmountThreshold, Currency: currency},
			Rate:            sj.VIP.RatePercent.Div(hundred),
		}
	}

	if len(sj.FlatFees) > 0 {
		s.FlatFees = make(map[string]generic.Amount, len(sj.FlatFees))
		for name, v := range sj.FlatFees {
			s.FlatFees[name] = generic.Amount{Value: v, Currency: currency}
		}
	}

	if len(sj.Riders) > 0 {
		s.RiderRates = make(map[string]decimal.Decimal, len(sj.Riders))
		for name, p := range sj.Riders {
			s.RiderRates[name] = p.Div(hundred)
		}
	}

	if err := s.Validate(); err != nil {
		return tarification.RateSchedule{}, err
	}
	return s, nil
}

// ToJSON converts a RateSchedule back to its JSON form, rates in percent.
func (f *ScheduleFactory) ToJSON(s *tarification.RateSchedule) ScheduleJSON {
	sj := ScheduleJSON{
		PartnerID: s.PartnerID,
		Name:      s.Name,
		Currency:  string(s.Currency),
		Tiers:     toTierJSON(s.Tiers),
	}

	if len(s.CategoryTiers) > 0 {
		sj.Categories = make(map[string][]TierJSON, len(s.CategoryTiers))
		for cat, tiers := range s.CategoryTiers {
			sj.Categories[string(cat)] = toTierJSON(tiers)
		}
	}

	if s.VIP != nil {
		sj.VIP = &VIPJSON{
			AmountThreshold: s.VIP.AmountThreshold.Value,
			RatePercent:     s.VIP.Rate.Mul(hundred),
		}
	}

	if len(s.FlatFees) > 0 {
		sj.FlatFees = make(map[string]decimal.Decimal, len(s.FlatFees))
		for name, fee := range s.FlatFees {
			sj.FlatFees[name] = fee.Value
		}
	}

	if len(s.RiderRates) > 0 {
		sj.Riders = make(map[string]decimal.Decimal, len(s.RiderRates))
		for name, rate := range s.RiderRates {
			sj.Riders[name] = rate.Mul(hundred)
		}
	}

	return sj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseTiers(tj []TierJSON, currency generic.Currency) []tarification.Tier {
	tiers := make([]tarification.Tier, 0, len(tj))
	for _, t := range tj {
		tiers = append(tiers, tarification.Tier{
			DurationMin: t.DurationMin,
			DurationMax: t.DurationMax,
			AmountMax:   generic.Amount{Value: t.AmountMax, Currency: currency},
			Rate:        t.RatePercent.Div(hundred),
		})
	}
	tarification.SortTiers(tiers)
	return tiers
}

func toTierJSON(tiers []tarification.Tier) []TierJSON {
	out := make([]TierJSON, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, TierJSON{
			DurationMin: t.DurationMin,
			DurationMax: t.DurationMax,
			AmountMax:   t.AmountMax.Value,
			RatePercent: t.Rate.Mul(hundred),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DurationMin < out[j].DurationMin })
	return out
}
