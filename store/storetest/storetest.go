// Package storetest holds the behaviour every indemnity.Store must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/indemnity"
	"github.com/warp/indemnity-engine/quittance"
)

var now = time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)

func xof(v int64) generic.Amount { return generic.NewAmountFromInt(v, generic.XOF) }

// Claim builds a declared death claim on COFIDEC.
func Claim(t *testing.T, id string) claims.Claim {
	t.Helper()
	ceiling := xof(4_000_000)
	c, err := claims.Declare(id, claims.Declaration{
		Policy: claims.PolicyRef{PartnerID: "COFIDEC", PolicyID: "POL-" + id},
		PolicySnapshot: claims.PolicySnapshot{
			InsuredPrincipal: xof(5_000_000),
			DurationMonths:   36,
			Status:           claims.PolicyActive,
			CoverageCeiling:  &ceiling,
		},
		Type:                 claims.TypeDeath,
		IncidentDate:         generic.NewTimePoint(2026, 9, 12),
		Declarant:            claims.Declarant{Name: "Yao Kouassi", RelationshipToInsured: "son", Contact: "+225 07 00 00 00"},
		ClaimedAmount:        xof(4_500_000),
		OutstandingPrincipal: xof(4_200_000),
	}, []claims.DocumentKind{claims.DocDeathCertificate, claims.DocIdentityDocument}, now)
	require.NoError(t, err)
	return c
}

func record(id, entity, entityID, claimID, action, from, to string) indemnity.TransitionRecord {
	return indemnity.TransitionRecord{
		ID: id, Entity: entity, EntityID: entityID, ClaimID: claimID,
		Action: action, From: from, To: to, ActorID: "tester", Role: "admin", At: now,
	}
}

// validate moves a stored claim to Validated with two quittances and commits it.
func validate(t *testing.T, s indemnity.Store, c claims.Claim) (claims.Claim, []quittance.Quittance) {
	t.Helper()
	ctx := context.Background()

	next := c
	next.AttachedDocuments = []claims.DocumentKind{claims.DocDeathCertificate, claims.DocIdentityDocument}
	next.Status = claims.StatusValidated
	granted := xof(4_000_000)
	next.GrantedAmount = &granted
	decided := generic.DayOf(now)
	next.DecidedAt = &decided
	next.Version = c.Version + 1

	q1, err := quittance.Issue(c.ID+"-Q1", c.ID, quittance.KindPartnerReimbursement, "COFIDEC", xof(3_800_000), now)
	require.NoError(t, err)
	q2, err := quittance.Issue(c.ID+"-Q2", c.ID, quittance.KindPrevoyance, "Yao Kouassi", xof(200_000), now.Add(time.Second))
	require.NoError(t, err)

	err = s.Commit(ctx, indemnity.Changeset{
		Claim:         &indemnity.ClaimUpdate{Claim: next, PrevVersion: c.Version},
		NewQuittances: []quittance.Quittance{q1, q2},
		Records:       []indemnity.TransitionRecord{record(c.ID+"-R2", "claim", c.ID, c.ID, "validate", "declared", "validated")},
	})
	require.NoError(t, err)
	return next, []quittance.Quittance{q1, q2}
}

// Run exercises newStore against the store contract.
func Run(t *testing.T, newStore func(t *testing.T) indemnity.Store) {
	t.Run("create and read back", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := Claim(t, "C-1")

		require.NoError(t, s.CreateClaim(ctx, c, record("R-1", "claim", c.ID, c.ID, "declare", "", "declared")))

		got, err := s.GetClaim(ctx, "C-1")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, c.Policy, got.Policy)
		assert.Equal(t, claims.StatusDeclared, got.Status)
		assert.Equal(t, c.RequiredDocuments, got.RequiredDocuments)
		assert.True(t, c.OutstandingPrincipal.Equal(got.OutstandingPrincipal))
		require.NotNil(t, got.PolicySnapshot.CoverageCeiling)
		assert.True(t, got.Ceiling().Equal(xof(4_000_000)))
		assert.True(t, c.DeclaredAt.Equal(got.DeclaredAt))
		assert.Equal(t, 1, got.Version)

		err = s.CreateClaim(ctx, c, record("R-1b", "claim", c.ID, c.ID, "declare", "", "declared"))
		assert.ErrorIs(t, err, generic.ErrInvalidInput, "duplicate id")

		_, err = s.GetClaim(ctx, "missing")
		assert.ErrorIs(t, err, generic.ErrNotFound)
		_, err = s.GetQuittance(ctx, "missing")
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})

	t.Run("commit writes claim, quittances and history together", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := Claim(t, "C-2")
		require.NoError(t, s.CreateClaim(ctx, c, record("R-1", "claim", c.ID, c.ID, "declare", "", "declared")))

		validated, qs := validate(t, s, c)

		got, err := s.GetClaim(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, claims.StatusValidated, got.Status)
		assert.Equal(t, 2, got.Version)
		require.NotNil(t, got.GrantedAmount)
		assert.True(t, got.GrantedAmount.Equal(*validated.GrantedAmount))
		require.NotNil(t, got.DecidedAt)
		assert.Empty(t, got.MissingDocuments())

		listed, err := s.ListQuittances(ctx, indemnity.QuittanceFilter{ClaimID: c.ID})
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, qs[0].ID, listed[0].ID, "oldest first")
		assert.Equal(t, quittance.StageAwaitingAccountant, listed[0].Stage())
		assert.True(t, listed[1].Amount.Equal(xof(200_000)))

		history, err := s.History(ctx, "claim", c.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "declare", history[0].Action)
		assert.Equal(t, "validate", history[1].Action)
	})

	t.Run("stale version is refused and nothing is written", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := Claim(t, "C-3")
		require.NoError(t, s.CreateClaim(ctx, c, record("R-1", "claim", c.ID, c.ID, "declare", "", "declared")))
		_, qs := validate(t, s, c)

		caller := authz.Caller{ActorID: "acc-1", Role: authz.RoleAccountant}
		res, err := quittance.Transition(qs[0], authz.ActionAccountantApprove, quittance.Payload{}, caller, now)
		require.NoError(t, err)

		// First writer wins.
		require.NoError(t, s.Commit(ctx, indemnity.Changeset{
			Quittances: []indemnity.QuittanceUpdate{{Quittance: res.Quittance, PrevVersion: qs[0].Version}},
		}))

		// Second writer read the same version: its whole changeset is dropped.
		rejected, err := quittance.Transition(qs[1], authz.ActionRejectAtAccountant, quittance.Payload{Reason: "doublon"}, caller, now)
		require.NoError(t, err)
		err = s.Commit(ctx, indemnity.Changeset{
			Quittances: []indemnity.QuittanceUpdate{
				{Quittance: rejected.Quittance, PrevVersion: qs[1].Version},
				{Quittance: res.Quittance, PrevVersion: qs[0].Version},
			},
			Records: []indemnity.TransitionRecord{record("R-X", "quittance", qs[1].ID, c.ID, "reject_at_accountant", "awaiting_accountant", "rejected")},
		})
		var ate *generic.AlreadyTransitionedError
		require.ErrorAs(t, err, &ate)
		assert.Equal(t, qs[0].Version, ate.ExpectedVersion)
		assert.Equal(t, qs[0].Version+1, ate.ActualVersion)

		untouched, err := s.GetQuittance(ctx, qs[1].ID)
		require.NoError(t, err)
		assert.Equal(t, quittance.StageAwaitingAccountant, untouched.Stage())
		history, err := s.History(ctx, "quittance", qs[1].ID)
		require.NoError(t, err)
		assert.Empty(t, history)

		approved, err := s.GetQuittance(ctx, qs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, quittance.StageAwaitingExecutive, approved.Stage())
		acc, ok := approved.State.(quittance.AwaitingExecutive)
		require.True(t, ok)
		assert.Equal(t, "acc-1", acc.AccountantApproval().ActorID)
	})

	t.Run("stale claim version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := Claim(t, "C-4")
		require.NoError(t, s.CreateClaim(ctx, c, record("R-1", "claim", c.ID, c.ID, "declare", "", "declared")))

		next := c
		next.Status = claims.StatusUnderInstruction
		next.Version = 2
		require.NoError(t, s.Commit(ctx, indemnity.Changeset{Claim: &indemnity.ClaimUpdate{Claim: next, PrevVersion: 1}}))

		err := s.Commit(ctx, indemnity.Changeset{Claim: &indemnity.ClaimUpdate{Claim: next, PrevVersion: 1}})
		assert.ErrorIs(t, err, generic.ErrAlreadyTransitioned)

		err = s.Commit(ctx, indemnity.Changeset{Claim: &indemnity.ClaimUpdate{Claim: Claim(t, "ghost"), PrevVersion: 1}})
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})

	t.Run("filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := Claim(t, "C-5")
		b := Claim(t, "C-6")
		b.Policy.PartnerID = "ADVANS"
		b.CreatedAt = b.CreatedAt.Add(time.Minute)
		require.NoError(t, s.CreateClaim(ctx, a, record("R-5", "claim", a.ID, a.ID, "declare", "", "declared")))
		require.NoError(t, s.CreateClaim(ctx, b, record("R-6", "claim", b.ID, b.ID, "declare", "", "declared")))

		archived := b
		archived.IsArchived = true
		archived.Version = 2
		require.NoError(t, s.Commit(ctx, indemnity.Changeset{Claim: &indemnity.ClaimUpdate{Claim: archived, PrevVersion: 1}}))

		all, err := s.ListClaims(ctx, indemnity.ClaimFilter{IncludeArchived: true})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "C-5", all[0].ID)

		active, err := s.ListClaims(ctx, indemnity.ClaimFilter{})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "C-5", active[0].ID)

		advans, err := s.ListClaims(ctx, indemnity.ClaimFilter{PartnerID: "ADVANS", IncludeArchived: true})
		require.NoError(t, err)
		require.Len(t, advans, 1)
		assert.True(t, advans[0].IsArchived)

		declared, err := s.ListClaims(ctx, indemnity.ClaimFilter{Status: claims.StatusValidated})
		require.NoError(t, err)
		assert.Empty(t, declared)

		_, qs := validate(t, s, a)
		waiting, err := s.ListQuittances(ctx, indemnity.QuittanceFilter{Stage: quittance.StageAwaitingAccountant})
		require.NoError(t, err)
		assert.Len(t, waiting, len(qs))
		none, err := s.ListQuittances(ctx, indemnity.QuittanceFilter{Stage: quittance.StagePaid})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
