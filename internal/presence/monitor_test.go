package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"syncplayer/internal/hub"
	"syncplayer/internal/metrics"
)

type fakeHub struct {
	rooms   []string
	evicted map[string][]string
	fail    map[string]error
	delay   time.Duration

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32

	mu         sync.Mutex
	thresholds []time.Duration
}

func (f *fakeHub) RoomIDs() []string { return f.rooms }

func (f *fakeHub) Evict(ctx context.Context, roomID string, threshold time.Duration) (hub.Eviction, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	f.mu.Lock()
	f.thresholds = append(f.thresholds, threshold)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.fail[roomID]; err != nil {
		return hub.Eviction{}, err
	}
	ids := f.evicted[roomID]
	return hub.Eviction{Evicted: ids, Destroyed: roomID == "gone"}, nil
}

func TestSweep(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeHub{
		rooms:   []string{"a", "b", "c", "gone"},
		evicted: map[string][]string{"a": {"u1", "u2"}, "gone": {"u3"}},
		fail:    map[string]error{"b": boom},
	}
	m := New(f, Options{Threshold: 90 * time.Second, Logger: zerolog.Nop(), Metrics: metrics.New()})

	n, err := m.Sweep(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if n != 3 {
		t.Errorf("evicted = %d, want 3", n)
	}
	if got := f.calls.Load(); got != 4 {
		t.Errorf("Evict calls = %d, want every room checked", got)
	}
	for _, th := range f.thresholds {
		if th != 90*time.Second {
			t.Errorf("threshold = %v", th)
		}
	}
}

func TestSweepConcurrencyLimit(t *testing.T) {
	f := &fakeHub{delay: 20 * time.Millisecond}
	for i := range 10 {
		f.rooms = append(f.rooms, string(rune('a'+i)))
	}
	m := New(f, Options{Concurrency: 3, Logger: zerolog.Nop()})

	if _, err := m.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.maxActive.Load(); got > 3 {
		t.Errorf("max concurrent evictions = %d, want <= 3", got)
	}
}

func TestSweepNoRooms(t *testing.T) {
	m := New(&fakeHub{}, Options{Logger: zerolog.Nop()})
	n, err := m.Sweep(context.Background())
	if n != 0 || err != nil {
		t.Errorf("Sweep = %d, %v", n, err)
	}
}

func TestMonitorTicks(t *testing.T) {
	f := &fakeHub{rooms: []string{"a"}}
	m := New(f, Options{Interval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	m.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	if f.calls.Load() < 2 {
		t.Fatalf("sweeps = %d, want at least 2", f.calls.Load())
	}

	after := f.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if f.calls.Load() != after {
		t.Error("monitor kept sweeping after Stop")
	}
	m.Stop()
}
