package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/statuskeeper/internal/directory"
	"github.com/user/statuskeeper/internal/state"
	"github.com/user/statuskeeper/internal/types"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls atomic.Int64
	fail  map[string]error
	delay time.Duration
}

func (f *fakeFetcher) FetchMedia(ctx context.Context, ref json.RawMessage, _ types.Kind) ([]byte, error) {
	f.calls.Add(1)
	var r struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(ref, &r); err != nil {
		return nil, fmt.Errorf("invalid media reference: %w", err)
	}
	f.mu.Lock()
	err := f.fail[r.URL]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte("jpeg:" + r.URL), nil
}

type testEnv struct {
	dir      string
	store    *state.ArtifactStore
	ledger   *state.Ledger
	fetcher  *fakeFetcher
	contacts *directory.Cache
	pipeline *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:      dir,
		store:    state.NewArtifactStore(filepath.Join(dir, "artifacts"), nil),
		ledger:   state.NewLedger(filepath.Join(dir, "ingest.jsonl")),
		fetcher:  &fakeFetcher{fail: map[string]error{}},
		contacts: directory.New(),
	}
	require.NoError(t, env.store.Init(context.Background()))
	env.pipeline = NewPipeline(PipelineConfig{
		Directory: env.contacts,
		Store:     env.store,
		Fetcher:   env.fetcher,
		Ledger:    env.ledger,
		Retry:     fastPolicy(),
	})
	return env
}

func textEvent(id, sender, text string) *types.InboundEvent {
	return &types.InboundEvent{
		ID:            id,
		ScopeID:       types.BroadcastScope,
		ParticipantID: sender + "@s.whatsapp.net",
		Kind:          types.KindText,
		Text:          text,
	}
}

func imageEvent(id, sender, caption, url string) *types.InboundEvent {
	return &types.InboundEvent{
		ID:            id,
		ScopeID:       types.BroadcastScope,
		ParticipantID: sender + "@s.whatsapp.net",
		Kind:          types.KindImage,
		Caption:       caption,
		Media:         json.RawMessage(fmt.Sprintf(`{"url":%q}`, url)),
	}
}

func textEvents(n int) []*types.InboundEvent {
	out := make([]*types.InboundEvent, n)
	for i := range out {
		out[i] = textEvent(fmt.Sprintf("EV%06d", i), "100", fmt.Sprintf("status %d", i))
	}
	return out
}

func TestPipelineTextEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ev := textEvent("abcd1234ffee0011", "4915100000000", "hello")
	ev.NotifyName = "Ali"

	res, err := env.pipeline.Process(ctx, ev, types.SourceLive)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, res.Outcome)
	assert.Equal(t, "Ali_abcd1234.txt", res.Name)

	data, err := os.ReadFile(filepath.Join(env.store.Dir(), "Ali_abcd1234.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	res, err = env.pipeline.Process(ctx, ev, types.SourceHistory)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	names, err := env.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ali_abcd1234.txt"}, names)

	n, err := env.ledger.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	snap := env.pipeline.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Stored)
	assert.EqualValues(t, 1, snap.Duplicates)
}

func TestPipelineMedia(t *testing.T) {
	env := newTestEnv(t)
	env.contacts.Upsert([]types.Contact{{ID: "200@s.whatsapp.net", Name: "Bo"}})
	ctx := context.Background()

	ev := imageEvent("3EB0AABBCCDD", "200", "sunset", "u1")
	res, err := env.pipeline.Process(ctx, ev, types.SourceLive)
	require.NoError(t, err)
	assert.Equal(t, "Bo_3EB0AABB_sunset.jpg", res.Name)

	data, err := env.store.Read(ctx, res.Name)
	require.NoError(t, err)
	assert.Equal(t, "jpeg:u1", string(data))

	// A redelivery is detected before any download.
	_, err = env.pipeline.Process(ctx, ev, types.SourceHistory)
	require.NoError(t, err)
	assert.EqualValues(t, 1, env.fetcher.calls.Load())

	recs, err := env.ledger.Tail(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, state.Digest([]byte("jpeg:u1")), recs[0].Digest)
	assert.Equal(t, types.SourceLive, recs[0].Source)
}

func TestPipelineStoresMultibyteNames(t *testing.T) {
	env := newTestEnv(t)
	env.contacts.Upsert([]types.Contact{{ID: "210@s.whatsapp.net", Name: strings.Repeat("李", 50)}})
	ctx := context.Background()

	ev := imageEvent("3EB0FFEEDDCC", "210", strings.Repeat("🌸", 50), "u9")
	res, err := env.pipeline.Process(ctx, ev, types.SourceLive)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Outcome != OutcomeStored {
		t.Fatalf("outcome = %v, want stored", res.Outcome)
	}
	if len(res.Name) > state.MaxNameBytes {
		t.Errorf("name is %d bytes, want at most %d", len(res.Name), state.MaxNameBytes)
	}
	data, err := os.ReadFile(filepath.Join(env.store.Dir(), res.Name))
	if err != nil {
		t.Fatalf("read stored artifact: %v", err)
	}
	if string(data) != "jpeg:u9" {
		t.Errorf("content = %q", data)
	}
}

func TestPipelineSkipsAndIgnores(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	video := imageEvent("V1", "300", "", "v")
	video.Kind = types.KindVideo
	res, err := env.pipeline.Process(ctx, video, types.SourceLive)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)

	group := textEvent("G1", "300", "hi")
	group.ScopeID = "123@g.us"
	res, err = env.pipeline.Process(ctx, group, types.SourceLive)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	assert.Zero(t, env.fetcher.calls.Load())
	names, err := env.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPipelineFetchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fail["bad"] = errors.New("connection reset by peer")

	res, err := env.pipeline.Process(context.Background(), imageEvent("F1", "400", "", "bad"), types.SourceLive)
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.EqualValues(t, 3, env.fetcher.calls.Load())
	assert.EqualValues(t, 1, env.pipeline.Stats().Snapshot().Failed)
}

func TestBackfillContinuesAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fail["bad"] = errors.New("media not found")
	bf := NewBackfill(env.pipeline, NewPacer(testPolicy(), WithSleeper((&recordingSleeper{}).sleep)))

	other := textEvent("X1", "500", "dm")
	other.ScopeID = "500@s.whatsapp.net"
	events := []*types.InboundEvent{
		textEvent("A1", "500", "one"),
		imageEvent("B1", "500", "", "bad"),
		other,
		imageEvent("C1", "500", "cap", "ok"),
		textEvent("A1", "500", "one"),
	}

	rep := bf.Drain(context.Background(), events)
	assert.NotEmpty(t, rep.Pass)
	assert.Equal(t, 4, rep.Total)
	assert.Equal(t, 2, rep.Stored)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Zero(t, rep.Abandoned)
}

func TestBackfillAbandonsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	sleeper := func(ctx context.Context, _ time.Duration) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return ctx.Err()
	}
	bf := NewBackfill(env.pipeline, NewPacer(testPolicy(), WithSleeper(sleeper)))

	rep := bf.Drain(ctx, textEvents(10))
	assert.Equal(t, 3, rep.Stored)
	assert.Equal(t, 7, rep.Abandoned)

	names, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 3)
}

func TestConcurrentRedeliveryStoresOnce(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.delay = 20 * time.Millisecond
	ev := imageEvent("RACE0001", "600", "", "r")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(src types.Source) {
			defer wg.Done()
			_, err := env.pipeline.Process(context.Background(), ev, src)
			assert.NoError(t, err)
		}([]types.Source{types.SourceLive, types.SourceHistory}[i])
	}
	wg.Wait()

	snap := env.pipeline.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Stored)
	assert.EqualValues(t, 1, snap.Duplicates)
	names, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"600_RACE0001.jpg"}, names)
}
