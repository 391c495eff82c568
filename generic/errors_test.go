package generic_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/indemnity-engine/generic"
)

func TestStructuredErrors_UnwrapToKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{generic.InvalidField("principal_amount", "must be positive"), generic.ErrInvalidInput},
		{&generic.UnknownPartnerError{PartnerID: "ACME"}, generic.ErrUnknownPartner},
		{&generic.UnknownScheduleError{PartnerID: "COFIDEC", Category: "vip"}, generic.ErrUnknownSchedule},
		{&generic.InvalidTransitionError{Entity: "claim", From: "declared", Attempted: "paid"}, generic.ErrInvalidTransition},
		{&generic.ForbiddenError{Role: "agent", Entity: "quittance", Action: "approve"}, generic.ErrForbidden},
		{&generic.AlreadyTransitionedError{Entity: "quittance", ExpectedVersion: 1, ActualVersion: 2}, generic.ErrAlreadyTransitioned},
		{&generic.IncompleteEvidenceError{ClaimID: "c-1", Missing: []string{"identity_document"}}, generic.ErrIncompleteEvidence},
		{&generic.NotFoundError{Entity: "claim", ID: "c-1"}, generic.ErrNotFound},
	}

	for _, tc := range cases {
		wrapped := fmt.Errorf("handler: %w", tc.err)
		assert.ErrorIs(t, wrapped, tc.kind, tc.err.Error())
	}
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, generic.IsClientError(generic.InvalidField("x", "bad")))
	assert.True(t, generic.IsClientError(&generic.UnknownPartnerError{PartnerID: "X"}))
	assert.True(t, generic.IsConflict(&generic.AlreadyTransitionedError{}))
	assert.True(t, generic.IsConflict(&generic.InvalidTransitionError{}))
	assert.True(t, generic.IsNotFound(&generic.NotFoundError{Entity: "claim", ID: "x"}))
	assert.False(t, generic.IsConflict(errors.New("boom")))
}

func TestIncompleteEvidenceError_ListsMissing(t *testing.T) {
	err := &generic.IncompleteEvidenceError{ClaimID: "c-9", Missing: []string{"identity_document", "loan_statement"}}
	assert.Contains(t, err.Error(), "identity_document, loan_statement")
}

func TestAmount_RoundAndCompare(t *testing.T) {
	a := generic.NewAmountFromInt(3000000, generic.XOF).Mul(generic.MustParseDecimal("0.0125")).Round()
	assert.Equal(t, "37500", a.Value.String())

	b, err := generic.ParseAmount("37500.4", generic.XOF)
	assert.NoError(t, err)
	assert.True(t, b.Round().Equal(a))
	assert.True(t, a.LessThanOrEqual(b))
	assert.Equal(t, "75000", generic.Sum(generic.XOF, a, a).Value.String())
}

func TestMustParseDecimal_PanicsOnMalformedLiteral(t *testing.T) {
	assert.Equal(t, "0.0125", generic.MustParseDecimal("0.0125").String())
	assert.Panics(t, func() { generic.MustParseDecimal("1,25") })
}

func TestDaysBetween(t *testing.T) {
	from := generic.NewTimePoint(2026, time.September, 28)
	to := generic.NewTimePoint(2026, time.October, 18)
	assert.Equal(t, 20, generic.DaysBetween(from, to))
	assert.Equal(t, -20, generic.DaysBetween(to, from))

	late := generic.DayOf(time.Date(2026, time.October, 18, 23, 59, 0, 0, time.UTC))
	assert.True(t, late.Equal(to))
}
