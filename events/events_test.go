package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/events"
)

func TestRecorder_KeepsEventsUntilFailure(t *testing.T) {
	r := events.NewRecorder()
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, events.TransitionEvent{ID: "e1"}))
	require.NoError(t, r.Publish(ctx, events.TransitionEvent{ID: "e2"}))

	// WHEN: the downstream starts failing
	boom := errors.New("broker down")
	r.FailWith(boom)

	// THEN: later publishes fail and nothing more is recorded
	assert.ErrorIs(t, r.Publish(ctx, events.TransitionEvent{ID: "e3"}), boom)
	got := r.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e2", got[1].ID)

	got[0].ID = "mutated"
	assert.Equal(t, "e1", r.Events()[0].ID)
}

func TestNop_DiscardsEvents(t *testing.T) {
	var p events.Publisher = events.Nop{}
	assert.NoError(t, p.Publish(context.Background(), events.TransitionEvent{ID: "e1"}))
}
