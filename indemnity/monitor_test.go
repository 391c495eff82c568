package indemnity_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/indemnity"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSLAMonitor_Check(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewJSONHandler(&out, nil))
	f := newFixture(t, indemnity.WithLogger(logger), indemnity.WithSLADays(10))
	ctx := context.Background()

	// GIVEN: one claim left pending, one validated the same day
	pending, err := f.svc.Declare(ctx, agent, deathDeclaration())
	require.NoError(t, err)
	f.validatedClaim(t)

	monitor := indemnity.NewSLAMonitor(f.svc)

	// WHEN: nothing is late yet
	assert.Empty(t, monitor.Check(ctx))

	// WHEN: the pending claim sits for 11 days
	f.clock.AdvanceDays(11)
	breaches := monitor.Check(ctx)

	// THEN: only it is reported and logged
	require.Len(t, breaches, 1)
	assert.Equal(t, pending.ID, breaches[0].ClaimID)
	assert.Equal(t, 11, breaches[0].DelayDays)
	assert.Contains(t, out.String(), `"claim_id":"`+pending.ID+`"`)
	assert.Contains(t, out.String(), "claim over processing threshold")
}

func TestSLAMonitor_StartStop(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	f := newFixture(t, indemnity.WithLogger(logger))

	monitor := indemnity.NewSLAMonitor(f.svc)
	monitor.CheckInterval = 10 * time.Millisecond

	monitor.Start()
	monitor.Start() // second start is a no-op
	assert.Eventually(t, func() bool {
		return bytes.Count([]byte(out.String()), []byte("sla scan complete")) >= 2
	}, time.Second, 5*time.Millisecond)
	monitor.Stop()
	monitor.Stop()

	assert.Contains(t, out.String(), "sla monitor stopped")
}

func TestSLAMonitor_Disabled(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	f := newFixture(t, indemnity.WithLogger(logger))

	monitor := indemnity.NewSLAMonitor(f.svc)
	monitor.Enabled = false
	monitor.Start()
	monitor.Stop()

	assert.Contains(t, out.String(), "sla monitor disabled")
	assert.NotContains(t, out.String(), "sla scan complete")
}
