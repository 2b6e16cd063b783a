package websocket

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"syncplayer/internal/metrics"
	"syncplayer/pkg/interfaces"
	"syncplayer/pkg/types"
)

// Registry tracks the live connection of every user and the rooms users are
// subscribed to. Subscriptions are keyed by user, so a reconnecting user keeps
// receiving their room's broadcasts on the new socket.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection // userID -> connection
	rooms       map[string]map[string]struct{}   // roomID -> userIDs

	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewRegistry(log zerolog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		rooms:       make(map[string]map[string]struct{}),
		log:         log.With().Str("component", "connections").Logger(),
		metrics:     m,
	}
}

// Register makes conn the user's live connection. A previous connection of
// the same user is closed.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.connections[conn.UserID()]; ok && old.ID() != conn.ID() {
		// Closed outside the lock; Close may block on the network.
		go func() {
			if err := old.Close(); err != nil {
				r.log.Debug().Err(err).Str("user", conn.UserID()).Msg("closing replaced connection")
			}
		}()
		r.metrics.ConnectionClosed()
	}
	r.connections[conn.UserID()] = conn
	r.metrics.ConnectionOpened()
	return nil
}

// Unregister removes conn if it is still the user's live connection, and
// reports whether it was.
func (r *Registry) Unregister(conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.connections[conn.UserID()]
	if !ok || current.ID() != conn.ID() {
		return false
	}
	delete(r.connections, conn.UserID())
	r.metrics.ConnectionClosed()
	return true
}

func (r *Registry) Get(userID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[userID]
	return c, ok
}

func (r *Registry) Subscribe(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.rooms[roomID]
	if !ok {
		subs = make(map[string]struct{})
		r.rooms[roomID] = subs
	}
	subs[userID] = struct{}{}
}

func (r *Registry) Unsubscribe(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.rooms[roomID]; ok {
		delete(subs, userID)
		if len(subs) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

func (r *Registry) Drop(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

func (r *Registry) Broadcast(roomID, event string, payload any) {
	r.BroadcastExcept(roomID, "", event, payload)
}

func (r *Registry) BroadcastExcept(roomID, exceptUserID, event string, payload any) {
	frame, err := types.EncodeFrame(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding broadcast")
		return
	}

	r.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(r.rooms[roomID]))
	for userID := range r.rooms[roomID] {
		if userID == exceptUserID {
			continue
		}
		if c, ok := r.connections[userID]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		r.deliver(c, event, frame)
	}
}

func (r *Registry) SendTo(userID, event string, payload any) {
	c, ok := r.Get(userID)
	if !ok {
		return
	}
	frame, err := types.EncodeFrame(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding frame")
		return
	}
	r.deliver(c, event, frame)
}

func (r *Registry) deliver(c interfaces.Connection, event string, frame []byte) {
	err := c.Send(frame)
	switch {
	case err == nil:
	case errors.Is(err, ErrSlowConsumer):
		r.log.Warn().Str("user", c.UserID()).Str("event", event).Msg("dropping slow connection")
		_ = c.Close()
	default:
		r.log.Debug().Err(err).Str("user", c.UserID()).Str("event", event).Msg("delivery failed")
	}
}

// Subscribers lists the users subscribed to a room.
func (r *Registry) Subscribers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		out = append(out, id)
	}
	return out
}

type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.connections), Rooms: len(r.rooms)}
}

// CloseAll closes every live connection. Subscriptions are kept.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for userID, c := range r.connections {
		conns = append(conns, c)
		delete(r.connections, userID)
		r.metrics.ConnectionClosed()
	}
	r.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			r.log.Debug().Err(err).Str("user", c.UserID()).Msg("closing connection at shutdown")
		}
	}
	return len(conns)
}
