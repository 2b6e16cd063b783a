// Package presence evicts members that stopped sending heartbeats.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"syncplayer/internal/hub"
	"syncplayer/internal/metrics"
)

// Evictor is the hub surface the sweep drives.
type Evictor interface {
	RoomIDs() []string
	Evict(ctx context.Context, roomID string, threshold time.Duration) (hub.Eviction, error)
}

type Options struct {
	Interval    time.Duration
	Threshold   time.Duration
	Concurrency int
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

type Monitor struct {
	hub  Evictor
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(h Evictor, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 120 * time.Second
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 90 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Monitor{
		hub:  h,
		opts: opts,
		log:  opts.Logger.With().Str("component", "presence").Logger(),
	}
}

// Start runs Sweep every Interval until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		t := time.NewTicker(m.opts.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
					m.log.Error().Err(err).Msg("presence sweep failed")
				}
			}
		}
	}(m.done)
	m.log.Info().Dur("interval", m.opts.Interval).Dur("threshold", m.opts.Threshold).Msg("presence monitor started")
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep checks every resident session once and returns how many members
// were evicted. A failure in one session does not stop the others; the
// first error is returned.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	var (
		mu      sync.Mutex
		evicted int
	)
	g := new(errgroup.Group)
	g.SetLimit(m.opts.Concurrency)
	for _, id := range m.hub.RoomIDs() {
		g.Go(func() error {
			out, err := m.hub.Evict(ctx, id, m.opts.Threshold)
			if err != nil {
				m.log.Warn().Err(err).Str("room", id).Msg("eviction failed")
				return err
			}
			if len(out.Evicted) == 0 {
				return nil
			}
			m.opts.Metrics.Evicted(len(out.Evicted))
			m.log.Info().Str("room", id).Strs("users", out.Evicted).Bool("destroyed", out.Destroyed).Msg("inactive members evicted")
			mu.Lock()
			evicted += len(out.Evicted)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return evicted, err
}
