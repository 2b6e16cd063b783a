// Package hub serializes every mutation of a session through a per-room
// actor. Events for the same room are applied one at a time in arrival order;
// events for different rooms run in parallel.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"syncplayer/internal/metrics"
	"syncplayer/internal/session"
	"syncplayer/pkg/interfaces"
	"syncplayer/pkg/types"
)

// Persister receives best-effort write-backs. Calls must not block.
type Persister interface {
	SavePlaylist(roomID string, trackIDs []string)
	SaveAdmins(roomID string, adminIDs []string)
	CountPlay(trackID string)
	// Flush gives pending writes of a closed session a last attempt.
	Flush(roomID string)
	// Discard drops pending writes of a deleted room.
	Discard(roomID string)
}

type Options struct {
	MailboxSize      int
	ChatHistoryLimit int
	ChatMaxLength    int
	OperationTimeout time.Duration
	Now              func() time.Time
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.MailboxSize <= 0 {
		o.MailboxSize = 64
	}
	if o.ChatHistoryLimit <= 0 {
		o.ChatHistoryLimit = 200
	}
	if o.ChatMaxLength <= 0 {
		o.ChatMaxLength = 2000
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Deps are the collaborators the hub drives.
type Deps struct {
	Registry    *session.Registry
	Rooms       interfaces.RoomStore
	Catalog     interfaces.CatalogStore
	Accounts    interfaces.AccountDirectory
	Broadcaster interfaces.Broadcaster
	Persister   Persister
}

type Hub struct {
	registry    *session.Registry
	rooms       interfaces.RoomStore
	catalog     interfaces.CatalogStore
	accounts    interfaces.AccountDirectory
	broadcaster interfaces.Broadcaster
	persist     Persister

	opts    Options
	now     func() time.Time
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	actors  map[string]*actor
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type actor struct {
	roomID  string
	mailbox chan *job
	pending int // guarded by Hub.mu
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

func New(deps Deps, opts Options) *Hub {
	opts.setDefaults()
	return &Hub{
		registry:    deps.Registry,
		rooms:       deps.Rooms,
		catalog:     deps.Catalog,
		accounts:    deps.Accounts,
		broadcaster: deps.Broadcaster,
		persist:     deps.Persister,
		opts:        opts,
		now:         opts.Now,
		log:         opts.Logger.With().Str("component", "hub").Logger(),
		metrics:     opts.Metrics,
		actors:      make(map[string]*actor),
	}
}

func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.log.Info().Msg("session hub started")
	return nil
}

// Stop halts every actor after its current event. Queued events are
// abandoned and their callers receive ErrHubNotRunning.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.stopCh)
	h.mu.Unlock()

	h.wg.Wait()
	h.mu.Lock()
	h.actors = make(map[string]*actor)
	h.mu.Unlock()
	h.log.Info().Msg("session hub stopped")
	return nil
}

// submit runs fn on the room's actor and waits for its result. fn runs to
// completion even if ctx is cancelled while it is queued or running.
func (h *Hub) submit(ctx context.Context, roomID string, fn func(ctx context.Context) error) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	a, ok := h.actors[roomID]
	if !ok {
		a = &actor{roomID: roomID, mailbox: make(chan *job, h.opts.MailboxSize)}
		h.actors[roomID] = a
		h.wg.Add(1)
		go h.run(a, h.stopCh)
	}
	a.pending++
	stopCh := h.stopCh
	h.mu.Unlock()

	j := &job{ctx: context.WithoutCancel(ctx), fn: fn, done: make(chan error, 1)}
	select {
	case a.mailbox <- j:
	case <-stopCh:
		return ErrHubNotRunning
	}

	select {
	case err := <-j.done:
		return err
	case <-stopCh:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) run(a *actor, stopCh <-chan struct{}) {
	defer h.wg.Done()
	for {
		select {
		case j := <-a.mailbox:
			j.done <- h.execute(a, j)
			if h.retire(a) {
				return
			}
		case <-stopCh:
			return
		}
	}
}

// retire removes an idle actor whose session is no longer resident.
func (h *Hub) retire(a *actor) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	a.pending--
	if a.pending > 0 || h.registry.Has(a.roomID) {
		return false
	}
	delete(h.actors, a.roomID)
	return true
}

func (h *Hub) execute(a *actor, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Str("room", a.roomID).Interface("panic", r).Msg("session actor panicked")
			err = fmt.Errorf("%w: %v", ErrActorPanic, r)
		}
	}()
	ctx, cancel := context.WithTimeout(j.ctx, h.opts.OperationTimeout)
	defer cancel()
	return j.fn(ctx)
}

// Dispatch applies a decoded client event.
func (h *Hub) Dispatch(ctx context.Context, event string, req types.Request) error {
	err := h.dispatch(ctx, event, req)
	switch {
	case err == nil:
		h.metrics.Event(event, metrics.OutcomeApplied)
	case types.Kind(err) != nil:
		h.metrics.Event(event, metrics.OutcomeDeclined)
		h.log.Debug().Str("event", event).Str("room", req.Room()).Str("user", req.Actor()).Err(err).Msg("event declined")
	default:
		h.metrics.Event(event, metrics.OutcomeDeclined)
		h.log.Error().Str("event", event).Str("room", req.Room()).Str("user", req.Actor()).Err(err).Msg("event failed")
	}
	return err
}

func (h *Hub) dispatch(ctx context.Context, event string, req types.Request) error {
	switch r := req.(type) {
	case *types.JoinRequest:
		return h.Join(ctx, r)
	case *types.SeekRequest:
		return h.Seek(ctx, r)
	case *types.SyncRequest:
		return h.Sync(ctx, r)
	case *types.StepRequest:
		if event == types.EventPrev {
			return h.Prev(ctx, r)
		}
		return h.Next(ctx, r)
	case *types.SongRequest:
		if event == types.EventDeleteSong {
			return h.DeleteSong(ctx, r)
		}
		return h.PlaySong(ctx, r)
	case *types.UpdatePlaylistRequest:
		return h.UpdatePlaylist(ctx, r)
	case *types.AddSongRequest:
		return h.AddSong(ctx, r)
	case *types.ChatRequest:
		return h.Chat(ctx, r)
	case *types.VoiceRequest:
		return h.Voice(ctx, r)
	case *types.RoleRequest:
		switch event {
		case types.EventPromoteAdmin:
			return h.ChangeRole(ctx, r, types.RoleAdmin, true)
		case types.EventDemoteAdmin:
			return h.ChangeRole(ctx, r, types.RoleAdmin, false)
		case types.EventPromoteController:
			return h.ChangeRole(ctx, r, types.RoleController, true)
		case types.EventDemoteController:
			return h.ChangeRole(ctx, r, types.RoleController, false)
		}
	case *types.Base:
		switch event {
		case types.EventLeave:
			return h.Leave(ctx, r)
		case types.EventAlive:
			return h.Heartbeat(ctx, r)
		case types.EventGetRoom:
			return h.GetRoom(ctx, r)
		case types.EventPlayPause:
			return h.PlayPause(ctx, r)
		case types.EventClearChat:
			return h.ClearChat(ctx, r)
		case types.EventDeleteRoom:
			return h.DeleteRoom(ctx, r)
		}
	}
	return types.Validationf("unsupported event %q", event)
}

// Snapshot returns a copy of a resident session.
func (h *Hub) Snapshot(roomID string) (*types.Session, bool) {
	return h.registry.Get(roomID)
}

func (h *Hub) Sessions() []types.RoomSummary {
	return h.registry.List()
}

// RoomIDs lists resident sessions for the presence sweep.
func (h *Hub) RoomIDs() []string {
	return h.registry.IDs()
}

// CurrentRoom returns the resident session the user belongs to.
func (h *Hub) CurrentRoom(userID string) (*types.Session, bool) {
	id, ok := h.registry.RoomOf(userID)
	if !ok {
		return nil, false
	}
	return h.registry.Get(id)
}

// ActorCount reports live actors. Used by tests and the health endpoint.
func (h *Hub) ActorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.actors)
}

func (h *Hub) memberOf(roomID, userID string) (*types.Session, types.Member, error) {
	s, ok := h.registry.Get(roomID)
	if !ok {
		return nil, types.Member{}, types.NotFoundf("room not found")
	}
	m, ok := s.Member(userID)
	if !ok {
		return nil, types.Member{}, types.NotFoundf("user not found in the room")
	}
	return s, m, nil
}

func (h *Hub) notify(roomID, title, description string) {
	h.broadcaster.Broadcast(roomID, types.EventNotification, types.Notification{Title: title, Description: description})
}

func (h *Hub) broadcastUsers(s *types.Session) {
	h.broadcaster.Broadcast(s.ID, types.EventUsersChange, types.UsersChange{Users: s.Members, ID: s.ID})
}

// destroy tears down a session whose membership reached zero.
func (h *Hub) destroy(roomID, reason string) {
	if !h.registry.Remove(roomID) {
		return
	}
	h.broadcaster.Drop(roomID)
	h.persist.Flush(roomID)
	h.metrics.SetActiveSessions(h.registry.Len())
	h.log.Info().Str("room", roomID).Str("reason", reason).Msg("session destroyed")
}

func trackIDs(tracks []types.Track) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}

// formatClock renders seconds as m:ss, with tenths when the position is not
// on a whole second.
func formatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	tenths := int64(seconds * 10)
	mins, rest := tenths/600, tenths%600
	if rest%10 == 0 {
		return fmt.Sprintf("%d:%02d", mins, rest/10)
	}
	return fmt.Sprintf("%d:%02d.%d", mins, rest/10, rest%10)
}
