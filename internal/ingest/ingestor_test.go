package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestorLiveAndHistory(t *testing.T) {
	env := newTestEnv(t)
	pacer := NewPacer(testPolicy(), WithSleeper((&recordingSleeper{}).sleep))
	in := NewIngestor(env.pipeline, pacer, 8)
	in.Start(context.Background())
	defer in.Stop()

	ctx := context.Background()
	ev := textEvent("LIVE0001", "700", "hi")
	require.NoError(t, in.Live(ctx, ev))

	foreign := textEvent("DM000001", "700", "private")
	foreign.ScopeID = "700@s.whatsapp.net"
	require.NoError(t, in.Live(ctx, foreign))

	require.NoError(t, in.History(ctx, append(textEvents(3), ev)))
	require.True(t, in.WaitIdle(2*time.Second))

	snap := in.Stats()
	assert.EqualValues(t, 1, snap.Live)
	assert.EqualValues(t, 4, snap.History)
	assert.EqualValues(t, 4, snap.Stored)
	assert.EqualValues(t, 1, snap.Duplicates)
	assert.EqualValues(t, 1, snap.Ignored)
	assert.EqualValues(t, 1, snap.Drains)

	reports := in.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, 4, reports[0].Total)
}

func TestIngestorStopAbandonsDrain(t *testing.T) {
	env := newTestEnv(t)
	in := NewIngestor(env.pipeline, NewPacer(PacingPolicy{MinDelay: time.Hour, MaxDelay: time.Hour, BatchSize: 10, BatchDelay: time.Hour}), 8)
	in.Start(context.Background())

	require.NoError(t, in.History(context.Background(), textEvents(5)))
	assert.Eventually(t, func() bool { return in.Stats().Stored == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		in.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not interrupt the drain")
	}
	assert.EqualValues(t, 1, in.Stats().Stored)

	err := in.Live(context.Background(), textEvent("LATE", "1", "x"))
	assert.ErrorIs(t, err, ErrQueueStopped)
}
