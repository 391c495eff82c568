package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/indemnity"
	"github.com/warp/indemnity-engine/store/memory"
	"github.com/warp/indemnity-engine/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) indemnity.Store { return memory.New() })
}

func TestMemoryStore_CallersDoNotShareSlices(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	c := storetest.Claim(t, "C-1")
	require.NoError(t, s.CreateClaim(ctx, c, indemnity.TransitionRecord{ID: "R-1", Entity: "claim", EntityID: c.ID}))

	got, err := s.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	got.RequiredDocuments[0] = claims.DocLoanStatement

	again, err := s.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, claims.DocDeathCertificate, again.RequiredDocuments[0])
}
