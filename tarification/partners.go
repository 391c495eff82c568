package tarification

import (
	"github.com/shopspring/decimal"
	"github.com/warp/indemnity-engine/generic"
)

// =============================================================================
// BUILT-IN PARTNER SCHEDULES
// =============================================================================
//
// Default tables used when no schedule file is configured. A file loaded
// through factory.ScheduleFactory replaces all of them.

const (
	PartnerCOFIDEC   = "COFIDEC"
	PartnerUNACOOPEC = "UNACOOPEC"
	PartnerCREPMF    = "CREPMF"
	PartnerADVANS    = "ADVANS"
)

// FeePrevoyance is the fixed prévoyance premium component.
const FeePrevoyance = "prevoyance"

// Riders offered by the built-in partners.
const (
	RiderJobLoss         = "job_loss"
	RiderTotalDisability = "total_disability"
)

func pct(s string) decimal.Decimal {
	return generic.MustParseDecimal(s).Div(decimal.NewFromInt(100))
}

func xof(v int64) generic.Amount { return generic.NewAmountFromInt(v, generic.XOF) }

func band(lo, hi int, amountMax int64, ratePct string) Tier {
	return Tier{DurationMin: lo, DurationMax: hi, AmountMax: xof(amountMax), Rate: pct(ratePct)}
}

// DefaultSchedules returns fresh copies of the built-in partner tables.
func DefaultSchedules() []RateSchedule {
	return []RateSchedule{
		{
			PartnerID: PartnerCOFIDEC,
			Name:      "COFIDEC crédit protégé",
			Currency:  generic.XOF,
			Tiers: []Tier{
				band(1, 6, 5_000_000, "0.80"),
				band(7, 12, 10_000_000, "1.00"),
				band(13, 24, 15_000_000, "1.50"),
				band(25, 36, 20_000_000, "2.00"),
			},
			CategoryTiers: map[Category][]Tier{
				CategoryEmployee: {
					band(1, 12, 10_000_000, "0.60"),
					band(13, 36, 20_000_000, "1.20"),
				},
			},
			VIP:      &VIPTier{AmountThreshold: xof(50_000_000), Rate: pct("2.50")},
			FlatFees: map[string]generic.Amount{FeePrevoyance: xof(25_000)},
			RiderRates: map[string]decimal.Decimal{
				RiderJobLoss:         pct("0.50"),
				RiderTotalDisability: pct("0.30"),
			},
		},
		{
			PartnerID: PartnerUNACOOPEC,
			Name:      "UNACOOPEC assurance emprunteur",
			Currency:  generic.XOF,
			Tiers: []Tier{
				band(1, 12, 8_000_000, "1.25"),
				band(13, 24, 12_000_000, "1.75"),
				band(25, 48, 20_000_000, "2.25"),
			},
			FlatFees:   map[string]generic.Amount{FeePrevoyance: xof(20_000)},
			RiderRates: map[string]decimal.Decimal{RiderJobLoss: pct("0.60")},
		},
		{
			PartnerID: PartnerCREPMF,
			Name:      "CREPMF microcrédit",
			Currency:  generic.XOF,
			Tiers: []Tier{
				band(1, 12, 3_000_000, "1.10"),
				band(13, 24, 5_000_000, "1.60"),
			},
			FlatFees: map[string]generic.Amount{FeePrevoyance: xof(15_000)},
		},
		{
			PartnerID: PartnerADVANS,
			Name:      "ADVANS protection crédit",
			Currency:  generic.XOF,
			Tiers: []Tier{
				band(1, 6, 2_000_000, "0.90"),
				band(7, 18, 6_000_000, "1.40"),
				band(19, 36, 10_000_000, "1.90"),
			},
			CategoryTiers: map[Category][]Tier{
				CategoryEmployee: {band(1, 36, 10_000_000, "0.75")},
			},
			VIP:        &VIPTier{AmountThreshold: xof(30_000_000), Rate: pct("2.20")},
			FlatFees:   map[string]generic.Amount{FeePrevoyance: xof(10_000)},
			RiderRates: map[string]decimal.Decimal{RiderJobLoss: pct("0.40")},
		},
	}
}

// NewDefaultRegistry registers the built-in tables.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultSchedules()...)
	if err != nil {
		// The built-in tables are constants; failing here is a programming error.
		panic(err)
	}
	return r
}
