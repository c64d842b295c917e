package series

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"risk-desk/internal/events"
	"risk-desk/internal/history"
	"risk-desk/internal/monitor"
	"risk-desk/internal/timeframe"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/logger"
)

// Adapters resolves exchange ids to market-data adapters and tracks their
// health. *gateway.Manager implements it.
type Adapters interface {
	Get(exchange string) (common.MarketData, error)
	RecordFailure(exchange string)
	RecordSuccess(exchange string)
}

// Config tunes the reconciler.
type Config struct {
	PollInterval   time.Duration // realtime poll period, default 200ms
	RetryInterval  time.Duration // bootstrap retry period, default 2s
	UpdateTailSize int           // candles carried by series.updated, default 2
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 2 * time.Second
	}
	if c.UpdateTailSize <= 0 {
		c.UpdateTailSize = 2
	}
	return c
}

// Reconciler owns every subscribed series. Each key runs one goroutine
// that bootstraps history and then polls the realtime tail; all writes to
// a key's snapshot go through that key's entry.
type Reconciler struct {
	cfg      Config
	adapters Adapters
	fetcher  *history.Fetcher
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
	log      *zap.Logger

	mu      sync.RWMutex
	entries map[Key]*entry
	gens    atomic.Uint64
	wg      sync.WaitGroup
}

type entry struct {
	key  Key
	tf   timeframe.Spec
	refs int // guarded by Reconciler.mu

	snap atomic.Pointer[Snapshot]
	gen  atomic.Uint64

	mu     sync.Mutex // guards ready, cancel and snapshot writes
	ready  chan struct{}
	cancel context.CancelFunc
}

// NewReconciler wires a reconciler. bus and metrics may be nil.
func NewReconciler(cfg Config, adapters Adapters, fetcher *history.Fetcher, bus *events.Bus, metrics *monitor.SystemMetrics, log *zap.Logger) *Reconciler {
	return &Reconciler{
		cfg:      cfg.withDefaults(),
		adapters: adapters,
		fetcher:  fetcher,
		bus:      bus,
		metrics:  metrics,
		log:      logger.OrNop(log).With(zap.String("component", "reconciler")),
		entries:  make(map[Key]*entry),
	}
}

// Subscription is one consumer's handle on a series.
type Subscription struct {
	ID  string
	Key Key

	r    *Reconciler
	e    *entry
	once sync.Once
}

// Snapshot returns the latest published snapshot.
func (s *Subscription) Snapshot() *Snapshot { return s.e.snap.Load() }

// Ready is closed when the series reaches READY. After a reset the
// channel is replaced; call Ready again to wait for the new bootstrap.
func (s *Subscription) Ready() <-chan struct{} {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.e.ready
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.r.unsubscribe(s.Key) })
}

// Subscribe registers interest in key, starting its series on first use.
// ctx bounds only the adapter lookup; the series lives until the last
// subscription closes.
func (r *Reconciler) Subscribe(ctx context.Context, key Key) (*Subscription, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := r.adapters.Get(key.Exchange); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{key: key, tf: timeframe.Resolve(key.Timeframe, key.Exchange)}
		r.entries[key] = e
		r.start(e)
		r.metrics.AddSeries(1)
		r.log.Info("series created", zap.String("key", key.String()), zap.String("wire", e.tf.Wire))
	}
	e.refs++
	r.mu.Unlock()

	return &Subscription{ID: uuid.NewString(), Key: key, r: r, e: e}, nil
}

// Snapshot returns the current snapshot for key.
func (r *Reconciler) Snapshot(key Key) (*Snapshot, error) {
	e, err := r.lookup(key)
	if err != nil {
		return nil, err
	}
	return e.snap.Load(), nil
}

// Keys lists subscribed keys.
func (r *Reconciler) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Unsubscribe drops one reference to key.
func (r *Reconciler) Unsubscribe(key Key) error {
	if _, err := r.lookup(key); err != nil {
		return err
	}
	r.unsubscribe(key)
	return nil
}

func (r *Reconciler) unsubscribe(key Key) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	e.mu.Lock()
	e.gen.Store(r.gens.Add(1))
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
	r.metrics.AddSeries(-1)
	r.log.Info("series discarded", zap.String("key", key.String()))
}

// Reset discards key's candles and bootstraps it again. In-flight
// responses for the previous generation are dropped.
func (r *Reconciler) Reset(key Key) error {
	e, err := r.lookup(key)
	if err != nil {
		return err
	}
	if !r.restart(e) {
		return fmt.Errorf("%w: %s", ErrKeyNotSubscribed, key)
	}
	r.bus.Publish(events.EventSeriesReset, events.SeriesEvent{
		Exchange: key.Exchange, Symbol: key.Symbol, Timeframe: key.Timeframe, Kind: events.EventSeriesReset,
	})
	r.log.Info("series reset", zap.String("key", key.String()))
	return nil
}

// LoadMore prepends one older page. An empty or suppressed page leaves the
// series untouched; fetch failures are logged, never returned.
func (r *Reconciler) LoadMore(ctx context.Context, key Key) error {
	e, err := r.lookup(key)
	if err != nil {
		return err
	}
	snap := e.snap.Load()
	if snap.Phase != Ready {
		return ErrNotReady
	}
	md, err := r.adapters.Get(key.Exchange)
	if err != nil {
		r.log.Warn("load more skipped", zap.String("key", key.String()), zap.Error(err))
		return nil
	}

	var until int64
	if len(snap.Candles) > 0 {
		until = snap.Candles[0].Time*1000 - 1
	}
	gen := e.gen.Load()
	page := r.fetcher.Fetch(ctx, md, history.Request{
		Key: key.String(), Exchange: key.Exchange, Symbol: key.Symbol, TF: e.tf, Until: until,
	})
	r.record(key, "history", page.Err)
	if page.Suppressed || page.Err != nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen.Load() != gen {
		return nil
	}
	cur := e.snap.Load()
	next := *cur
	next.UpdatedAt = time.Now()
	if len(page.Candles) == 0 {
		next.Exhausted = true
		e.snap.Store(&next)
		return nil
	}
	next.Candles = MergeHistorical(cur.Candles, page.Candles, e.tf.Seconds())
	e.snap.Store(&next)
	r.metrics.IncMerge("historical")
	r.bus.Publish(events.EventSeriesUpdated, r.event(key, events.EventSeriesUpdated, next.Candles, len(next.Candles)))
	return nil
}

// Close stops every series loop and waits for them to exit.
func (r *Reconciler) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[Key]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.gen.Store(r.gens.Add(1))
		if e.cancel != nil {
			e.cancel()
		}
		e.mu.Unlock()
		r.metrics.AddSeries(-1)
	}
	r.wg.Wait()
}

func (r *Reconciler) lookup(key Key) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotSubscribed, key)
	}
	return e, nil
}

// restart relaunches e only while it is still registered, so a reset racing
// the last unsubscribe cannot revive a discarded series.
func (r *Reconciler) restart(e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[e.key] != e {
		return false
	}
	r.start(e)
	return true
}

// start (re)launches the loop for e under a fresh generation. Callers hold
// r.mu.
func (r *Reconciler) start(e *entry) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := r.gens.Add(1)

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.gen.Store(gen)
	e.ready = make(chan struct{})
	e.snap.Store(&Snapshot{Key: e.key, Phase: Uninitialized, Generation: gen, Candles: []common.Candle{}, UpdatedAt: time.Now()})
	e.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, e, gen)
	}()
}

func (r *Reconciler) run(ctx context.Context, e *entry, gen uint64) {
	log := r.log.With(zap.String("key", e.key.String()), zap.Uint64("gen", gen))

	if !r.bootstrap(ctx, e, gen, log) {
		return
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx, e, gen, log)
		}
	}
}

// bootstrap loads the first page and publishes READY. It retries until it
// succeeds or ctx is cancelled.
func (r *Reconciler) bootstrap(ctx context.Context, e *entry, gen uint64, log *zap.Logger) bool {
	for {
		md, err := r.adapters.Get(e.key.Exchange)
		if err == nil {
			page := r.fetcher.Fetch(ctx, md, history.Request{
				Key: e.key.String(), Exchange: e.key.Exchange, Symbol: e.key.Symbol, TF: e.tf,
			})
			r.record(e.key, "history", page.Err)
			if !page.Suppressed && page.Err == nil {
				return r.markReady(e, gen, page, log)
			}
		} else {
			log.Warn("adapter unavailable", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.cfg.RetryInterval):
		}
	}
}

func (r *Reconciler) markReady(e *entry, gen uint64, page history.Page, log *zap.Logger) bool {
	e.mu.Lock()
	if e.gen.Load() != gen {
		e.mu.Unlock()
		return false
	}
	candles := MergeHistorical(nil, page.Candles, e.tf.Seconds())
	e.snap.Store(&Snapshot{
		Key:        e.key,
		Phase:      Ready,
		Generation: gen,
		Candles:    candles,
		Exhausted:  len(page.Candles) == 0,
		UpdatedAt:  time.Now(),
	})
	close(e.ready)
	e.mu.Unlock()

	r.metrics.IncMerge("historical")
	r.bus.Publish(events.EventSeriesReady, r.event(e.key, events.EventSeriesReady, candles, len(candles)))
	log.Info("series ready", zap.Int("candles", len(candles)))
	return true
}

// poll fetches the realtime tail and merges it.
func (r *Reconciler) poll(ctx context.Context, e *entry, gen uint64, log *zap.Logger) {
	md, err := r.adapters.Get(e.key.Exchange)
	if err != nil {
		return
	}
	snap := e.snap.Load()
	if snap.Phase != Ready {
		return
	}
	var tailMs int64
	if tail, ok := snap.Tail(); ok {
		tailMs = tail.Time * 1000
	}
	count := PollCount(md.Now(), tailMs, e.tf.Millis())

	start := time.Now()
	candles, err := md.FetchOHLCV(ctx, e.key.Symbol, e.tf.Wire, 0, count, nil)
	r.metrics.ObserveFetch(e.key.Exchange, "poll", time.Since(start), err)
	if err != nil {
		if ctx.Err() == nil {
			r.record(e.key, "poll", err)
			log.Debug("poll failed", zap.Error(err))
		}
		return
	}
	r.record(e.key, "poll", nil)
	if tailMs > 0 {
		candles = r.backfill(ctx, md, e, tailMs/1000, candles, log)
	}
	r.apply(e, gen, candles)
}

// backfill pages history between the old tail and the oldest polled bar
// when a stall left more bars than one poll returns, so the hole is filled
// with real bars instead of synthetic ones.
func (r *Reconciler) backfill(ctx context.Context, md common.MarketData, e *entry, tail int64, polled []common.Candle, log *zap.Logger) []common.Candle {
	step := e.tf.Seconds()
	if step <= 0 || len(polled) == 0 {
		return polled
	}
	out := polled
	for out[0].Time-tail > step {
		page := r.fetcher.Fetch(ctx, md, history.Request{
			Key:      e.key.String() + "#backfill",
			Exchange: e.key.Exchange,
			Symbol:   e.key.Symbol,
			TF:       e.tf,
			Until:    out[0].Time*1000 - 1,
		})
		r.record(e.key, "backfill", page.Err)
		if page.Suppressed || page.Err != nil {
			break
		}
		i := sort.Search(len(page.Candles), func(i int) bool { return page.Candles[i].Time >= tail })
		older := page.Candles[i:]
		if len(older) == 0 || older[0].Time >= out[0].Time {
			break
		}
		j := sort.Search(len(older), func(j int) bool { return older[j].Time >= out[0].Time })
		out = append(append(make([]common.Candle, 0, j+len(out)), older[:j]...), out...)
		if i > 0 {
			break // page reached past the tail
		}
	}
	if len(out) > len(polled) {
		log.Info("tail backfilled", zap.Int("bars", len(out)-len(polled)))
	}
	return out
}

// apply merges a realtime result unless the generation moved on or the
// series is not READY.
func (r *Reconciler) apply(e *entry, gen uint64, candles []common.Candle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen.Load() != gen {
		return false
	}
	cur := e.snap.Load()
	if cur.Phase != Ready {
		return false
	}
	merged, changed := MergeRealtime(cur.Candles, candles)
	if !changed {
		return false
	}
	next := *cur
	next.Candles = GapFill(merged, e.tf.Seconds())
	next.UpdatedAt = time.Now()
	e.snap.Store(&next)

	r.metrics.IncMerge("realtime")
	n := r.cfg.UpdateTailSize
	if n > len(next.Candles) {
		n = len(next.Candles)
	}
	r.bus.Publish(events.EventSeriesUpdated, r.event(e.key, events.EventSeriesUpdated, next.Candles[len(next.Candles)-n:], len(next.Candles)))
	return true
}

func (r *Reconciler) record(key Key, kind string, err error) {
	if err == nil {
		r.adapters.RecordSuccess(key.Exchange)
		return
	}
	r.adapters.RecordFailure(key.Exchange)
	r.bus.Publish(events.EventFetchFailed, events.FetchFailure{
		Exchange: key.Exchange, Symbol: key.Symbol, Timeframe: key.Timeframe, Kind: kind, Err: err.Error(),
	})
}

func (r *Reconciler) event(key Key, kind events.Event, candles []common.Candle, length int) events.SeriesEvent {
	return events.SeriesEvent{
		Exchange:  key.Exchange,
		Symbol:    key.Symbol,
		Timeframe: key.Timeframe,
		Kind:      kind,
		Length:    length,
		Candles:   candles,
	}
}

// PollCount is max(2, ceil((now-tail)/tf)) capped at one page; the rest of
// a longer stall is paged in by backfill. Unknown timeframes and empty
// series poll 2 candles.
func PollCount(nowMs, tailMs, tfMs int64) int {
	if tfMs <= 0 || tailMs <= 0 || nowMs <= tailMs {
		return 2
	}
	n := int(math.Ceil(float64(nowMs-tailMs) / float64(tfMs)))
	if n < 2 {
		n = 2
	}
	if n > timeframe.PageLimit {
		n = timeframe.PageLimit
	}
	return n
}
