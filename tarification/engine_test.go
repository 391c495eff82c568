package tarification_test

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/tarification"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newEngine(t *testing.T) *tarification.Engine {
	t.Helper()
	return tarification.NewEngine(tarification.NewDefaultRegistry())
}

func xof(v int64) generic.Amount { return generic.NewAmountFromInt(v, generic.XOF) }

func assertAmount(t *testing.T, expected string, got generic.Amount, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, got.Value.Equal(generic.MustParseDecimal(expected)),
		append([]any{"expected %s, got %s", expected, got.Value.String()}, msgAndArgs...)...)
}

// =============================================================================
// QUOTE SCENARIOS
// =============================================================================

func TestQuote_COFIDEC_EightMonths(t *testing.T) {
	// GIVEN: COFIDEC 7-12 month band at 1.00% with a 10M cap, prévoyance 25 000
	// WHEN: Quoting 3 000 000 over 8 months, standard category
	// THEN: proportional 30 000, total 55 000, within limits

	engine := newEngine(t)

	q, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "COFIDEC",
		PrincipalAmount: xof(3_000_000),
		DurationMonths:  8,
		Category:        tarification.CategoryStandard,
	})
	require.NoError(t, err)

	assertAmount(t, "30000", q.Components[tarification.ComponentProportional])
	assertAmount(t, "25000", q.Components[tarification.FeePrevoyance])
	assertAmount(t, "55000", q.TotalTTC)
	assert.True(t, q.WithinLimits)
	assert.Empty(t, q.Violations)
	assert.False(t, q.IsVIP)
	assert.True(t, q.AppliedRate.Equal(decimal.RequireFromString("0.01")))
	require.NotNil(t, q.AmountCeiling)
	assertAmount(t, "10000000", *q.AmountCeiling)
}

func TestQuote_WithRiders(t *testing.T) {
	engine := newEngine(t)

	q, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "COFIDEC",
		PrincipalAmount: xof(2_000_000),
		DurationMonths:  18,
		Riders:          []string{tarification.RiderTotalDisability, tarification.RiderJobLoss},
	})
	require.NoError(t, err)

	// 2M x 1.50% + 25 000 + 2M x 0.50% + 2M x 0.30%
	assertAmount(t, "30000", q.Components[tarification.ComponentProportional])
	assertAmount(t, "10000", q.Components["rider_job_loss"])
	assertAmount(t, "6000", q.Components["rider_total_disability"])
	assertAmount(t, "71000", q.TotalTTC)
	assert.Equal(t, []string{"proportional", "prevoyance", "rider_job_loss", "rider_total_disability"}, q.ComponentNames())
}

func TestQuote_UnknownRider_InvalidInput(t *testing.T) {
	engine := newEngine(t)

	_, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "CREPMF",
		PrincipalAmount: xof(1_000_000),
		DurationMonths:  6,
		Riders:          []string{tarification.RiderJobLoss},
	})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestQuote_DurationOutsideEveryBand_StillDisplayable(t *testing.T) {
	// GIVEN: COFIDEC bands stop at 36 months
	// WHEN: Simulating 48 months
	// THEN: No error, DurationExceeded recorded, no proportional component

	engine := newEngine(t)

	q, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "COFIDEC",
		PrincipalAmount: xof(3_000_000),
		DurationMonths:  48,
	})
	require.NoError(t, err)

	assert.False(t, q.WithinLimits)
	assert.True(t, q.Violates(tarification.DurationExceeded))
	assert.False(t, q.Violates(tarification.AmountExceeded))
	_, hasProportional := q.Components[tarification.ComponentProportional]
	assert.False(t, hasProportional, "no band matched, so no rate may be guessed")
	assert.Nil(t, q.AmountCeiling)
	assertAmount(t, "25000", q.TotalTTC)
}

func TestQuote_AmountExceeded(t *testing.T) {
	engine := newEngine(t)

	q, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "COFIDEC",
		PrincipalAmount: xof(12_000_000),
		DurationMonths:  8,
	})
	require.NoError(t, err)

	assert.False(t, q.WithinLimits)
	assert.Equal(t, []tarification.Constraint{tarification.AmountExceeded}, q.Violations)
	assertAmount(t, "120000", q.Components[tarification.ComponentProportional])
}

func TestQuote_VIPTier(t *testing.T) {
	engine := newEngine(t)

	q, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "COFIDEC",
		PrincipalAmount: xof(40_000_000),
		DurationMonths:  60,
		IsVIP:           true,
	})
	require.NoError(t, err)

	assert.True(t, q.IsVIP)
	assert.True(t, q.WithinLimits, "VIP tier uses its own threshold and skips duration bands")
	assertAmount(t, "1000000", q.Components[tarification.ComponentProportional])
	assertAmount(t, "50000000", *q.AmountCeiling)

	over, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "COFIDEC",
		PrincipalAmount: xof(60_000_000),
		DurationMonths:  12,
		IsVIP:           true,
	})
	require.NoError(t, err)
	assert.True(t, over.Violates(tarification.AmountExceeded))
}

func TestQuote_VIPRequestedWithoutVIPTier_UsesBands(t *testing.T) {
	engine := newEngine(t)

	q, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "UNACOOPEC",
		PrincipalAmount: xof(4_000_000),
		DurationMonths:  10,
		IsVIP:           true,
	})
	require.NoError(t, err)

	assert.False(t, q.IsVIP)
	assertAmount(t, "50000", q.Components[tarification.ComponentProportional])
}

func TestQuote_EmployeeCategory_ResolvedBeforeTierLookup(t *testing.T) {
	// GIVEN: COFIDEC employees use a 1-12 band at 0.60% instead of 1.00%
	engine := newEngine(t)

	q, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "COFIDEC",
		PrincipalAmount: xof(3_000_000),
		DurationMonths:  8,
		Category:        tarification.CategoryEmployee,
	})
	require.NoError(t, err)

	assertAmount(t, "18000", q.Components[tarification.ComponentProportional])
	assert.Equal(t, tarification.CategoryEmployee, q.Category)
}

func TestQuote_UnknownCategory_FailsClosed(t *testing.T) {
	engine := newEngine(t)

	_, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "CREPMF",
		PrincipalAmount: xof(1_000_000),
		DurationMonths:  8,
		Category:        tarification.CategoryEmployee,
	})
	assert.ErrorIs(t, err, generic.ErrUnknownSchedule)
}

func TestQuote_InvalidInput(t *testing.T) {
	engine := newEngine(t)

	cases := map[string]tarification.QuoteRequest{
		"zero principal":     {PartnerID: "COFIDEC", PrincipalAmount: xof(0), DurationMonths: 8},
		"negative principal": {PartnerID: "COFIDEC", PrincipalAmount: xof(-5), DurationMonths: 8},
		"zero duration":      {PartnerID: "COFIDEC", PrincipalAmount: xof(100), DurationMonths: 0},
		"negative duration":  {PartnerID: "COFIDEC", PrincipalAmount: xof(100), DurationMonths: -3},
		"wrong currency":     {PartnerID: "COFIDEC", PrincipalAmount: generic.NewAmountFromInt(100, "EUR"), DurationMonths: 3},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Quote(req)
			assert.ErrorIs(t, err, generic.ErrInvalidInput)
		})
	}
}

func TestQuote_UnknownPartner(t *testing.T) {
	engine := newEngine(t)

	_, err := engine.Quote(tarification.QuoteRequest{
		PartnerID:       "NOPE",
		PrincipalAmount: xof(1_000),
		DurationMonths:  3,
	})
	var upe *generic.UnknownPartnerError
	require.ErrorAs(t, err, &upe)
	assert.Equal(t, "NOPE", upe.PartnerID)
}

func TestQuote_PartnerIDIsCaseInsensitive(t *testing.T) {
	engine := newEngine(t)

	q, err := engine.Quote(tarification.QuoteRequest{PartnerID: "cofidec", PrincipalAmount: xof(1_000_000), DurationMonths: 3})
	require.NoError(t, err)
	assert.Equal(t, "COFIDEC", q.PartnerID)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestQuote_ReferentialTransparency(t *testing.T) {
	engine := newEngine(t)
	req := tarification.QuoteRequest{
		PartnerID:       "ADVANS",
		PrincipalAmount: xof(5_500_000),
		DurationMonths:  14,
		Riders:          []string{tarification.RiderJobLoss},
	}

	first, err := engine.Quote(req)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]tarification.PremiumQuote, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q, err := engine.Quote(req)
			assert.NoError(t, err)
			results[i] = q
		}(i)
	}
	wg.Wait()

	for _, q := range results {
		assert.Equal(t, first, q)
	}
}

func TestQuote_TierMonotonicity(t *testing.T) {
	// For a fixed duration, WithinLimits flips to false once the principal
	// passes the band cap and never comes back.
	engine := newEngine(t)

	flipped := false
	for amount := int64(1_000_000); amount <= 16_000_000; amount += 250_000 {
		q, err := engine.Quote(tarification.QuoteRequest{
			PartnerID:       "COFIDEC",
			PrincipalAmount: xof(amount),
			DurationMonths:  10,
		})
		require.NoError(t, err)

		if flipped {
			assert.False(t, q.WithinLimits, "amount %d came back within limits", amount)
			continue
		}
		if !q.WithinLimits {
			flipped = true
			assert.Greater(t, amount, int64(10_000_000))
		}
	}
	assert.True(t, flipped)
}
