package series

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-desk/internal/events"
	"risk-desk/internal/history"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/exchanges/mock"
)

const minuteMs = int64(60_000)

type staticAdapters struct {
	md       common.MarketData
	failures atomic.Int32
}

func (s *staticAdapters) Get(string) (common.MarketData, error) { return s.md, nil }
func (s *staticAdapters) RecordFailure(string)                  { s.failures.Add(1) }
func (s *staticAdapters) RecordSuccess(string)                  {}

// emptyHistory serves the first page from the mock and empty pages after.
type emptyHistory struct {
	*mock.Exchange
	pages atomic.Int32
}

func (e *emptyHistory) FetchOHLCV(ctx context.Context, symbol, tf string, since int64, limit int, params map[string]string) ([]common.Candle, error) {
	if params["endTime"] != "" && e.pages.Add(1) > 1 {
		return []common.Candle{}, nil
	}
	return e.Exchange.FetchOHLCV(ctx, symbol, tf, since, limit, params)
}

func newTestReconciler(t *testing.T, md common.MarketData, bus *events.Bus) *Reconciler {
	t.Helper()
	r := NewReconciler(Config{PollInterval: 5 * time.Millisecond, RetryInterval: 5 * time.Millisecond},
		&staticAdapters{md: md}, history.NewFetcher(0, nil, nil), bus, nil, nil)
	t.Cleanup(r.Close)
	return r
}

func waitReady(t *testing.T, sub *Subscription) *Snapshot {
	t.Helper()
	select {
	case <-sub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("series never became ready")
	}
	snap := sub.Snapshot()
	require.Equal(t, Ready, snap.Phase)
	return snap
}

func assertContinuous(t *testing.T, candles []common.Candle, step int64) {
	t.Helper()
	for i := 1; i < len(candles); i++ {
		require.Equal(t, step, candles[i].Time-candles[i-1].Time, "gap at %d", i)
	}
}

func TestSubscribeBootstrapsAndPolls(t *testing.T) {
	var clock atomic.Int64
	clock.Store(1_000*minuteMs + 30_000)
	ex := mock.New(1)
	ex.Clock = clock.Load

	bus := events.NewBus()
	ready, unsub := bus.Subscribe(events.EventSeriesReady, 4)
	defer unsub()

	r := newTestReconciler(t, ex, bus)
	key := Key{Exchange: "mock", Symbol: "BTCUSDT", Timeframe: "1"}
	sub, err := r.Subscribe(context.Background(), key)
	require.NoError(t, err)
	defer sub.Close()

	snap := waitReady(t, sub)
	require.Len(t, snap.Candles, 250)
	assertContinuous(t, snap.Candles, 60)
	tail, _ := snap.Tail()
	assert.Equal(t, 1_000*minuteMs/1000, tail.Time)

	ev := (<-ready).(events.SeriesEvent)
	assert.Equal(t, 250, ev.Length)

	clock.Store(1_002*minuteMs + 10_000)
	require.Eventually(t, func() bool {
		tail, _ := sub.Snapshot().Tail()
		return tail.Time == 1_002*minuteMs/1000
	}, 2*time.Second, 5*time.Millisecond)
	assertContinuous(t, sub.Snapshot().Candles, 60)
}

func TestLoadMorePrependsPage(t *testing.T) {
	ex := mock.New(2)
	ex.Clock = func() int64 { return 1_000*minuteMs + 30_000 }
	r := newTestReconciler(t, ex, nil)

	key := Key{Exchange: "mock", Symbol: "ETHUSDT", Timeframe: "1"}
	sub, err := r.Subscribe(context.Background(), key)
	require.NoError(t, err)
	defer sub.Close()
	before := waitReady(t, sub)

	require.NoError(t, r.LoadMore(context.Background(), key))
	after := sub.Snapshot()
	require.Len(t, after.Candles, 500)
	assertContinuous(t, after.Candles, 60)
	assert.Equal(t, before.Candles[0], after.Candles[250])
}

func TestLoadMoreEmptyPageLeavesSeries(t *testing.T) {
	ex := mock.New(3)
	ex.Clock = func() int64 { return 1_000*minuteMs + 30_000 }
	md := &emptyHistory{Exchange: ex}
	r := newTestReconciler(t, md, nil)

	key := Key{Exchange: "mock", Symbol: "BTCUSDT", Timeframe: "1"}
	sub, err := r.Subscribe(context.Background(), key)
	require.NoError(t, err)
	defer sub.Close()
	before := waitReady(t, sub)

	require.NoError(t, r.LoadMore(context.Background(), key))
	after := sub.Snapshot()
	assert.Equal(t, before.Candles, after.Candles)
	assert.True(t, after.Exhausted)
}

func TestLoadMoreFailureIsSwallowed(t *testing.T) {
	ex := mock.New(4)
	ex.Clock = func() int64 { return 1_000*minuteMs + 30_000 }
	r := newTestReconciler(t, ex, nil)

	key := Key{Exchange: "mock", Symbol: "BTCUSDT", Timeframe: "5"}
	sub, err := r.Subscribe(context.Background(), key)
	require.NoError(t, err)
	defer sub.Close()
	before := waitReady(t, sub)

	ex.SetFailure(assert.AnError)
	require.NoError(t, r.LoadMore(context.Background(), key))
	assert.Equal(t, before.Candles, sub.Snapshot().Candles)
}

func TestUnsubscribeDiscardsSeries(t *testing.T) {
	ex := mock.New(5)
	r := newTestReconciler(t, ex, nil)
	key := Key{Exchange: "mock", Symbol: "BTCUSDT", Timeframe: "1"}

	a, err := r.Subscribe(context.Background(), key)
	require.NoError(t, err)
	b, err := r.Subscribe(context.Background(), key)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	a.Close()
	_, err = r.Snapshot(key)
	require.NoError(t, err, "second subscriber keeps the series alive")

	b.Close()
	_, err = r.Snapshot(key)
	assert.ErrorIs(t, err, ErrKeyNotSubscribed)
	assert.ErrorIs(t, r.LoadMore(context.Background(), key), ErrKeyNotSubscribed)
}

func TestResetBumpsGenerationAndDropsStaleResults(t *testing.T) {
	ex := mock.New(6)
	ex.Clock = func() int64 { return 1_000*minuteMs + 30_000 }
	r := newTestReconciler(t, ex, nil)
	key := Key{Exchange: "mock", Symbol: "BTCUSDT", Timeframe: "1"}

	sub, err := r.Subscribe(context.Background(), key)
	require.NoError(t, err)
	defer sub.Close()
	first := waitReady(t, sub)

	require.NoError(t, r.Reset(key))
	second := waitReady(t, sub)
	assert.Greater(t, second.Generation, first.Generation)

	e, err := r.lookup(key)
	require.NoError(t, err)
	assert.False(t, r.apply(e, first.Generation, []common.Candle{{Time: 1_001 * 60}}), "stale generation")
}

func TestRealtimeDiscardedWhileUninitialized(t *testing.T) {
	r := NewReconciler(Config{}, &staticAdapters{md: mock.New(1)}, history.NewFetcher(0, nil, nil), nil, nil, nil)
	e := &entry{key: Key{Exchange: "mock", Symbol: "X", Timeframe: "1"}}
	e.gen.Store(1)
	e.snap.Store(&Snapshot{Phase: Uninitialized})

	assert.False(t, r.apply(e, 1, []common.Candle{{Time: 60}}))
	assert.Empty(t, e.snap.Load().Candles)
}

func TestSubscribeRejectsInvalidKey(t *testing.T) {
	r := newTestReconciler(t, mock.New(1), nil)
	_, err := r.Subscribe(context.Background(), Key{Exchange: "mock"})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPollCount(t *testing.T) {
	assert.Equal(t, 2, PollCount(120_000, 60_000, 60_000))
	assert.Equal(t, 2, PollCount(60_500, 60_000, 60_000))
	assert.Equal(t, 5, PollCount(60_000+4*60_000+1, 60_000, 60_000))
	assert.Equal(t, 250, PollCount(1<<40, 60_000, 60_000))
	assert.Equal(t, 2, PollCount(1<<40, 60_000, 0))
}

func TestResetAfterLastUnsubscribeDoesNotReviveSeries(t *testing.T) {
	ex := mock.New(7)
	ex.Clock = func() int64 { return 1_000*minuteMs + 30_000 }
	r := newTestReconciler(t, ex, nil)
	key := Key{Exchange: "mock", Symbol: "BTCUSDT", Timeframe: "1"}

	sub, err := r.Subscribe(context.Background(), key)
	require.NoError(t, err)
	waitReady(t, sub)

	// Reset resolved the entry, then the last subscriber left.
	e, err := r.lookup(key)
	require.NoError(t, err)
	sub.Close()

	assert.False(t, r.restart(e))
	assert.ErrorIs(t, r.Reset(key), ErrKeyNotSubscribed)
	assert.Empty(t, r.Keys())

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("series loop outlived its last subscription")
	}
}

func TestPollAfterLongStallBackfillsRealBars(t *testing.T) {
	var clock atomic.Int64
	clock.Store(1_000*minuteMs + 30_000)
	ex := mock.New(2)
	ex.Clock = clock.Load

	r := newTestReconciler(t, ex, nil)
	key := Key{Exchange: "mock", Symbol: "BTCUSDT", Timeframe: "1"}
	sub, err := r.Subscribe(context.Background(), key)
	require.NoError(t, err)
	defer sub.Close()
	waitReady(t, sub)

	// 400 bars behind is more than one poll returns.
	clock.Store(1_400*minuteMs + 10_000)
	require.Eventually(t, func() bool {
		tail, _ := sub.Snapshot().Tail()
		return tail.Time == 1_400*minuteMs/1000
	}, 2*time.Second, 5*time.Millisecond)

	candles := sub.Snapshot().Candles
	assertContinuous(t, candles, 60)
	for _, c := range candles {
		if c.Time > 1_000*60 {
			require.Positive(t, c.Volume, "synthetic bar at %d", c.Time)
		}
	}

	want, err := ex.FetchOHLCV(context.Background(), "BTCUSDT", "1m", 1_100*minuteMs, 1, nil)
	require.NoError(t, err)
	i, ok := find(candles, 1_100*60)
	require.True(t, ok)
	assert.Equal(t, want[0], candles[i])
}
