package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"syncplayer/pkg/interfaces"
	"syncplayer/pkg/types"
)

// MessageRouter handles one inbound text frame. Frames of a connection are
// handed over one at a time in arrival order.
type MessageRouter interface {
	RouteMessage(ctx context.Context, conn interfaces.Connection, data []byte)
}

type HandlerOptions struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxMessageBytes int64
}

// Handler authenticates socket upgrades and runs the read pump of each
// connection.
type Handler struct {
	registry *Registry
	accounts interfaces.AccountDirectory
	router   MessageRouter
	opts     HandlerOptions
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, accounts interfaces.AccountDirectory, router MessageRouter, opts HandlerOptions, log zerolog.Logger) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	return &Handler{
		registry: registry,
		accounts: accounts,
		router:   router,
		opts:     opts,
		log:      log.With().Str("component", "websocket").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Token extracts the access token from the token query parameter or a
// bearer Authorization header.
func Token(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

// ServeHTTP upgrades an authenticated request. Authentication happens before
// the upgrade so failures get a plain HTTP status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := Token(r)
	if token == "" {
		http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
		return
	}
	account, err := h.accounts.ResolveUser(r.Context(), token)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrAuthorization) {
			http.Error(w, "invalid access token", http.StatusUnauthorized)
			return
		}
		h.log.Error().Err(err).Msg("resolving access token")
		http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("user", account.ID).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, account, ConnectionOptions{
		BufferSize:   h.opts.BufferSize,
		WriteTimeout: h.opts.WriteTimeout,
	})
	if err := h.registry.Register(conn); err != nil {
		h.log.Error().Err(err).Msg("registering connection")
		_ = conn.Close()
		return
	}
	h.log.Info().Str("user", account.ID).Str("conn", conn.ID()).Msg("client connected")
	go h.handleConnection(conn)
}

// handleConnection runs the read pump until the socket fails. A dropped
// socket does not leave the room; presence eviction takes care of users who
// never come back.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		h.log.Info().Str("user", conn.UserID()).Str("conn", conn.ID()).Msg("client disconnected")
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("user", conn.UserID()).Msg("websocket read")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.router.RouteMessage(conn.Context(), conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
