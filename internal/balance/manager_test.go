package balance

import (
	"context"
	"errors"
	"testing"
	"time"

	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/exchanges/mock"
)

type failingSource struct{}

func (failingSource) GetBalance(context.Context) (common.Balance, error) {
	return common.Balance{}, errors.New("keys required")
}

func TestResolvePrefersOverride(t *testing.T) {
	m := NewManager(mock.New(1), 0, nil)
	if err := m.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	override := 42.0
	if got := m.Resolve(&override); got == nil || *got != 42 {
		t.Fatalf("got %v", got)
	}
	if got := m.Resolve(nil); got == nil || *got != 10_000 {
		t.Fatalf("synced balance %v", got)
	}
}

func TestResolveUnknownBeforeSync(t *testing.T) {
	m := NewManager(failingSource{}, 0, nil)
	if err := m.Sync(context.Background()); err == nil {
		t.Fatal("expected sync error")
	}
	if got := m.Resolve(nil); got != nil {
		t.Fatalf("expected unknown balance, got %v", *got)
	}
}

func TestRegistryCreatesOncePerExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	r := NewRegistry(ctx, func(string) common.BalanceSource {
		calls++
		return mock.New(1)
	}, 0, nil)

	a := r.For("mock")
	b := r.For("mock")
	if a != b || calls != 1 {
		t.Fatalf("calls=%d same=%v", calls, a == b)
	}
	if got := r.Resolve("mock", nil); got == nil || *got != 10_000 {
		t.Fatalf("resolve=%v", got)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("active=%d", r.ActiveCount())
	}
}

// blockingSource holds GetBalance until release is closed.
type blockingSource struct{ release chan struct{} }

func (b blockingSource) GetBalance(ctx context.Context) (common.Balance, error) {
	select {
	case <-b.release:
		return common.Balance{Available: 1}, nil
	case <-ctx.Done():
		return common.Balance{}, ctx.Err()
	}
}

func TestRegistrySlowFirstSyncDoesNotBlockOtherExchanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := blockingSource{release: make(chan struct{})}
	r := NewRegistry(ctx, func(exchange string) common.BalanceSource {
		if exchange == "slow" {
			return slow
		}
		return mock.New(1)
	}, time.Hour, nil)

	started := make(chan struct{})
	go func() {
		close(started)
		r.For("slow")
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	done := make(chan *float64, 1)
	go func() { done <- r.Resolve("mock", nil) }()
	select {
	case got := <-done:
		if got == nil || *got != 10_000 {
			t.Fatalf("resolve=%v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first sync of one exchange blocked another")
	}
	close(slow.release)
}
