package events

import "testing"

func TestPublishDeliversAndDrops(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventSeriesUpdated, 1)
	defer unsub()

	b.Publish(EventSeriesUpdated, SeriesEvent{Symbol: "BTCUSDT"})
	b.Publish(EventSeriesUpdated, SeriesEvent{Symbol: "ETHUSDT"})

	got := (<-ch).(SeriesEvent)
	if got.Symbol != "BTCUSDT" {
		t.Fatalf("got %q", got.Symbol)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d, want 1", b.Dropped())
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventSeriesReset, 1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	if n := b.Subscribers(EventSeriesReset); n != 0 {
		t.Fatalf("subscribers=%d", n)
	}
}
