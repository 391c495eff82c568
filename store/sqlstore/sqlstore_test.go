package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/indemnity"
	"github.com/warp/indemnity-engine/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) indemnity.Store { return newTestStore(t) })
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	assert.Error(t, err)
}

func TestCorruptStateIsReported(t *testing.T) {
	// GIVEN: A quittance row whose snapshot skips the accountant approval
	// WHEN: Loading it
	// THEN: An error instead of a state the workflow could not reach

	s := newTestStore(t)
	ctx := context.Background()
	c := storetest.Claim(t, "C-1")
	require.NoError(t, s.CreateClaim(ctx, c, indemnity.TransitionRecord{ID: "R-1", Entity: "claim", EntityID: c.ID, ClaimID: c.ID, Action: "declare", To: "declared"}))

	_, err := s.db.Exec(`INSERT INTO quittances
		(id, claim_id, kind, beneficiary, amount, currency, stage, state_json, is_archived, version, created_at, updated_at)
		VALUES ('Q-1', 'C-1', 'prevoyance', 'X', '100', 'XOF', 'executive_approved',
		        '{"stage":"executive_approved","executive_id":"fpdg"}', 0, 1,
		        '2026-10-01T08:30:00.000000000Z', '2026-10-01T08:30:00.000000000Z')`)
	require.NoError(t, err)

	_, err = s.GetQuittance(ctx, "Q-1")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestHistoryKeepsInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := storetest.Claim(t, "C-1")
	require.NoError(t, s.CreateClaim(ctx, c, indemnity.TransitionRecord{ID: "R-1", Entity: "claim", EntityID: c.ID, ClaimID: c.ID, Action: "declare", To: "declared", At: c.CreatedAt}))

	next := c
	next.Version = 2
	require.NoError(t, s.Commit(ctx, indemnity.Changeset{
		Claim: &indemnity.ClaimUpdate{Claim: next, PrevVersion: 1},
		// Same timestamp, ids out of lexical order.
		Records: []indemnity.TransitionRecord{
			{ID: "R-9", Entity: "claim", EntityID: c.ID, ClaimID: c.ID, Action: "attach_document", From: "declared", To: "under_instruction", At: c.CreatedAt},
			{ID: "R-2", Entity: "claim", EntityID: c.ID, ClaimID: c.ID, Action: "start_instruction", From: "under_instruction", To: "under_instruction", At: c.CreatedAt},
		},
	}))

	history, err := s.History(ctx, "claim", c.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"R-1", "R-9", "R-2"}, []string{history[0].ID, history[1].ID, history[2].ID})
	assert.True(t, history[0].At.Equal(c.CreatedAt))
}
