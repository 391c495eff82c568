package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/factory"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/tarification"
)

const scheduleDoc = `{
  "partners": [
    {
      "partner_id": "ACME",
      "name": "Acme crédit",
      "tiers": [
        {"duration_min": 13, "duration_max": 24, "amount_max": "8000000", "rate_percent": "1.50"},
        {"duration_min": 1, "duration_max": 12, "amount_max": 4000000, "rate_percent": "1.00"}
      ],
      "categories": {
        "employee": [{"duration_min": 1, "duration_max": 24, "amount_max": "8000000", "rate_percent": "0.50"}]
      },
      "vip": {"amount_threshold": "20000000", "rate_percent": "2.00"},
      "flat_fees": {"prevoyance": "12500"},
      "riders": {"job_loss": "0.25"}
    }
  ]
}`

func TestParse_BuildsValidatedSchedule(t *testing.T) {
	// GIVEN: A document with unsorted tiers and numbers in both forms
	// WHEN: Parsing it
	// THEN: Tiers are sorted, rates converted from percent, currency defaulted

	f := factory.NewScheduleFactory()
	schedules, err := f.Parse([]byte(scheduleDoc))
	require.NoError(t, err)
	require.Len(t, schedules, 1)

	s := schedules[0]
	assert.Equal(t, "ACME", s.PartnerID)
	assert.Equal(t, generic.XOF, s.Currency)
	require.Len(t, s.Tiers, 2)
	assert.Equal(t, 1, s.Tiers[0].DurationMin)
	assert.Equal(t, "0.01", s.Tiers[0].Rate.String())
	assert.Equal(t, "0.005", s.CategoryTiers[tarification.CategoryEmployee][0].Rate.String())
	assert.Equal(t, "0.02", s.VIP.Rate.String())
	assert.Equal(t, "12500", s.FlatFees["prevoyance"].Value.String())
	assert.Equal(t, "0.0025", s.RiderRates["job_loss"].String())
}

func TestParse_SchedulePricesThroughEngine(t *testing.T) {
	f := factory.NewScheduleFactory()
	schedules, err := f.Parse([]byte(scheduleDoc))
	require.NoError(t, err)

	registry, err := tarification.NewRegistry(schedules...)
	require.NoError(t, err)

	q, err := tarification.NewEngine(registry).Quote(tarification.QuoteRequest{
		PartnerID:       "ACME",
		PrincipalAmount: generic.NewAmountFromInt(2_000_000, generic.XOF),
		DurationMonths:  6,
	})
	require.NoError(t, err)
	assert.Equal(t, "32500", q.TotalTTC.Value.String())
}

func TestParse_RejectsBrokenDocuments(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"partners": [`,
		"empty":         `{"partners": []}`,
		"unknown field": `{"partners": [{"partner_id": "X", "tiers": [{"duration_min": 1, "duration_max": 12, "amount_max": "1000", "rate_percent": "1", "rate": "2"}]}]}`,
		"gap":           `{"partners": [{"partner_id": "X", "tiers": [{"duration_min": 1, "duration_max": 6, "amount_max": "1000", "rate_percent": "1"}, {"duration_min": 8, "duration_max": 12, "amount_max": "1000", "rate_percent": "1"}]}]}`,
		"zero rate":     `{"partners": [{"partner_id": "X", "tiers": [{"duration_min": 1, "duration_max": 12, "amount_max": "1000", "rate_percent": "0"}]}]}`,
		"negative fee":  `{"partners": [{"partner_id": "X", "tiers": [{"duration_min": 1, "duration_max": 12, "amount_max": "1000", "rate_percent": "1"}], "flat_fees": {"prevoyance": "-1"}}]}`,
	}

	f := factory.NewScheduleFactory()
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.Parse([]byte(doc))
			assert.ErrorIs(t, err, generic.ErrInvalidInput)
		})
	}
}

func TestToJSON_RoundTripsDefaultTables(t *testing.T) {
	f := factory.NewScheduleFactory()

	var doc factory.ScheduleFileJSON
	for _, s := range tarification.DefaultSchedules() {
		s := s
		doc.Partners = append(doc.Partners, f.ToJSON(&s))
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	parsed, err := f.Parse(data)
	require.NoError(t, err)

	registry, err := tarification.NewRegistry(parsed...)
	require.NoError(t, err)
	assert.Equal(t, tarification.NewDefaultRegistry().Partners(), registry.Partners())

	cofidec, err := registry.Lookup(tarification.PartnerCOFIDEC)
	require.NoError(t, err)
	assert.True(t, cofidec.Tiers[1].Rate.Equal(generic.MustParseDecimal("0.01")))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.json")
	require.NoError(t, os.WriteFile(path, []byte(scheduleDoc), 0o600))

	schedules, err := factory.NewScheduleFactory().LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, schedules, 1)

	_, err = factory.NewScheduleFactory().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
