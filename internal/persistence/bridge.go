// Package persistence writes session changes back to the room store without
// blocking the session actors. Writes for the same room and kind coalesce to
// the latest value; a failed write is kept and retried the next time that
// room changes, or a last time when its session closes.
package persistence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"syncplayer/internal/metrics"
)

// Store is the subset of the room and catalog stores the bridge writes to.
type Store interface {
	SaveRoomPlaylist(ctx context.Context, roomID string, trackIDs []string) error
	SaveRoomAdmins(ctx context.Context, roomID string, adminIDs []string) error
	IncrementPlayCount(ctx context.Context, trackID string) error
}

type kind string

const (
	kindPlaylist kind = "playlist"
	kindAdmins   kind = "admins"
	kindPlay     kind = "play_count"
)

type key struct {
	room string
	kind kind
}

type op struct {
	key   key
	track string
}

type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

type Bridge struct {
	store   Store
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending map[key][]string
	failed  map[key][]string
	final   map[key]bool
	writing *key
	queue   chan op
	running bool
	wg      sync.WaitGroup
}

func New(store Store, opts Options) *Bridge {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	return &Bridge{
		store:   store,
		timeout: opts.WriteTimeout,
		log:     opts.Logger.With().Str("component", "persistence").Logger(),
		metrics: opts.Metrics,
		pending: make(map[key][]string),
		failed:  make(map[key][]string),
		final:   make(map[key]bool),
		queue:   make(chan op, opts.QueueSize),
	}
}

// Start launches the writer. It returns once the writer is running.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.wg.Add(1)
	go b.writeLoop()
}

// Stop refuses new writes and waits for the queued ones to finish.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.queue)
	b.mu.Unlock()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.failed) + len(b.pending); n > 0 {
		b.log.Warn().Int("writes", n).Msg("unwritten room changes dropped at shutdown")
	}
}

func (b *Bridge) SavePlaylist(roomID string, trackIDs []string) {
	b.save(key{room: roomID, kind: kindPlaylist}, trackIDs)
}

func (b *Bridge) SaveAdmins(roomID string, adminIDs []string) {
	b.save(key{room: roomID, kind: kindAdmins}, adminIDs)
}

// CountPlay is fire-and-forget: a failed or dropped increment is logged and
// never retried.
func (b *Bridge) CountPlay(trackID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.enqueue(op{key: key{kind: kindPlay}, track: trackID})
}

// Flush gives every queued or failed write of a room one last attempt. A write
// that fails after Flush is dropped instead of waiting for a change that may
// never come.
func (b *Bridge) Flush(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	var retry []key
	for k := range b.failed {
		if k.room == roomID {
			retry = append(retry, k)
		}
	}
	for _, k := range retry {
		ids := b.failed[k]
		delete(b.failed, k)
		b.schedule(k, ids)
		if _, stuck := b.failed[k]; stuck {
			delete(b.failed, k)
			b.log.Warn().Str("room", k.room).Str("kind", string(k.kind)).Msg("room write dropped")
		}
	}
	for k := range b.pending {
		if k.room == roomID {
			b.final[k] = true
		}
	}
	if b.writing != nil && b.writing.room == roomID {
		b.final[*b.writing] = true
	}
}

// Discard drops queued and failed writes of a room that no longer exists.
func (b *Bridge) Discard(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.pending {
		if k.room == roomID {
			delete(b.pending, k)
		}
	}
	for k := range b.failed {
		if k.room == roomID {
			delete(b.failed, k)
		}
	}
	for k := range b.final {
		if k.room == roomID {
			delete(b.final, k)
		}
	}
	if b.writing != nil && b.writing.room == roomID {
		b.final[*b.writing] = true
	}
}

// Failed reports how many writes are waiting for a retry.
func (b *Bridge) Failed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.failed)
}

func (b *Bridge) save(k key, ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		b.log.Warn().Str("room", k.room).Str("kind", string(k.kind)).Msg("write after shutdown ignored")
		return
	}

	// Earlier failures for this room ride along with the new write.
	for fk, v := range b.failed {
		if fk.room != k.room || fk == k {
			continue
		}
		delete(b.failed, fk)
		delete(b.final, fk)
		b.schedule(fk, v)
	}
	delete(b.failed, k)
	delete(b.final, k)
	b.schedule(k, slices.Clone(ids))
}

// schedule records the latest value for k and queues a write unless one is
// already queued. Must be called with b.mu held.
func (b *Bridge) schedule(k key, ids []string) {
	_, queued := b.pending[k]
	b.pending[k] = ids
	if queued {
		return
	}
	if !b.enqueue(op{key: k}) {
		delete(b.pending, k)
		b.failed[k] = ids
	}
}

func (b *Bridge) enqueue(o op) bool {
	select {
	case b.queue <- o:
		return true
	default:
		b.metrics.PersistenceFailed("queue_full")
		b.log.Warn().Str("room", o.key.room).Str("kind", string(o.key.kind)).Msg("persistence queue full")
		return false
	}
}

func (b *Bridge) writeLoop() {
	defer b.wg.Done()
	for o := range b.queue {
		if o.key.kind == kindPlay {
			b.countPlay(o.track)
			continue
		}

		b.mu.Lock()
		ids, ok := b.pending[o.key]
		delete(b.pending, o.key)
		if ok {
			b.writing = &o.key
		}
		b.mu.Unlock()
		if !ok {
			continue // discarded
		}

		err := b.write(o.key, ids)
		b.mu.Lock()
		b.writing = nil
		_, newer := b.pending[o.key]
		last := b.final[o.key] && !newer
		if !newer {
			delete(b.final, o.key)
		}
		switch {
		case err == nil:
		case last:
			b.metrics.PersistenceFailed(string(o.key.kind))
			b.log.Error().Err(err).Str("room", o.key.room).Str("kind", string(o.key.kind)).
				Msg("room write failed after session closed, dropped")
		default:
			b.metrics.PersistenceFailed(string(o.key.kind))
			b.log.Error().Err(err).Str("room", o.key.room).Str("kind", string(o.key.kind)).
				Msg("room write failed, will retry on next change")
			if !newer {
				b.failed[o.key] = ids
			}
		}
		b.mu.Unlock()
	}
}

func (b *Bridge) write(k key, ids []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if k.kind == kindAdmins {
		return b.store.SaveRoomAdmins(ctx, k.room, ids)
	}
	return b.store.SaveRoomPlaylist(ctx, k.room, ids)
}

func (b *Bridge) countPlay(trackID string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.store.IncrementPlayCount(ctx, trackID); err != nil {
		b.metrics.PersistenceFailed(string(kindPlay))
		b.log.Warn().Err(err).Str("track", trackID).Msg("play count not recorded")
	}
}
