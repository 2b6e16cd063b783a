// Package api is the HTTP surface next to the socket channel: health,
// metrics, room listing and the owner/admin room operations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"syncplayer/internal/websocket"
	"syncplayer/pkg/interfaces"
	"syncplayer/pkg/types"
)

// Rooms is the slice of the hub the HTTP surface drives.
type Rooms interface {
	Sessions() []types.RoomSummary
	Snapshot(roomID string) (*types.Session, bool)
	CurrentRoom(userID string) (*types.Session, bool)
	CreateRoom(ctx context.Context, owner types.Account, name string, trackIDs []string) (types.RoomRecord, error)
	DeleteRoom(ctx context.Context, req *types.Base) error
	ChangeRole(ctx context.Context, req *types.RoleRequest, role types.Role, grant bool) error
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource reports socket registry counters.
type StatsSource interface {
	Stats() websocket.Stats
}

type Server struct {
	rooms    Rooms
	accounts interfaces.AccountDirectory
	health   HealthChecker
	stats    StatsSource
	metrics  http.Handler
	started  time.Time
	log      zerolog.Logger
	router   *http.ServeMux
}

// Deps are the collaborators of Server. Metrics may be nil.
type Deps struct {
	Rooms    Rooms
	Accounts interfaces.AccountDirectory
	Health   HealthChecker
	Stats    StatsSource
	Metrics  http.Handler
}

func NewServer(deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		rooms:    deps.Rooms,
		accounts: deps.Accounts,
		health:   deps.Health,
		stats:    deps.Stats,
		metrics:  deps.Metrics,
		started:  time.Now(),
		log:      log.With().Str("component", "api").Logger(),
		router:   http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	authed := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(h)))
	}

	s.router.Handle("GET /health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}

	s.router.Handle("GET /api/rooms", authed(s.listRooms))
	s.router.Handle("POST /api/rooms", authed(s.createRoom))
	s.router.Handle("GET /api/rooms/current", authed(s.currentRoom))
	s.router.Handle("GET /api/rooms/{id}", authed(s.getRoom))
	s.router.Handle("DELETE /api/rooms/{id}", authed(s.deleteRoom))

	s.router.Handle("POST /api/rooms/{id}/admins/{userId}", authed(s.roleHandler(types.RoleAdmin, true)))
	s.router.Handle("DELETE /api/rooms/{id}/admins/{userId}", authed(s.roleHandler(types.RoleAdmin, false)))
	s.router.Handle("POST /api/rooms/{id}/controllers/{userId}", authed(s.roleHandler(types.RoleController, true)))
	s.router.Handle("DELETE /api/rooms/{id}/controllers/{userId}", authed(s.roleHandler(types.RoleController, false)))

	s.router.Handle("OPTIONS /", s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type CreateRoomRequest struct {
	Name    string   `json:"name"`
	SongIDs []string `json:"songIds"`
}

type RoomResponse struct {
	Room types.RoomRecord `json:"room"`
}

type SessionResponse struct {
	Session *types.Session `json:"session"`
}

type ListRoomsResponse struct {
	Rooms []types.RoomSummary `json:"rooms"`
}

type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Database    string          `json:"database"`
	Connections websocket.Stats `json:"connections"`
	Sessions    int             `json:"sessions"`
	Uptime      string          `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.rooms.Sessions()
	if rooms == nil {
		rooms = []types.RoomSummary{}
	}
	s.sendJSON(w, http.StatusOK, ListRoomsResponse{Rooms: rooms})
}

func (s *Server) currentRoom(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	snap, ok := s.rooms.CurrentRoom(acct.ID)
	if !ok {
		s.sendError(w, "You are not in a room", http.StatusNotFound)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: snap})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.rooms.Snapshot(r.PathValue("id"))
	if !ok {
		s.sendError(w, "Room is not active", http.StatusNotFound)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: snap})
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	rec, err := s.rooms.CreateRoom(r.Context(), accountFrom(r.Context()), req.Name, req.SongIDs)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, RoomResponse{Room: rec})
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	req := &types.Base{RoomID: r.PathValue("id"), UserID: accountFrom(r.Context()).ID}
	if err := s.rooms.DeleteRoom(r.Context(), req); err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Room deleted"})
}

func (s *Server) roleHandler(role types.Role, grant bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &types.RoleRequest{
			Base:         types.Base{RoomID: r.PathValue("id"), UserID: accountFrom(r.Context()).ID},
			TargetUserID: r.PathValue("userId"),
		}
		if err := req.Validate(); err != nil {
			s.sendFailure(w, err)
			return
		}
		if err := s.rooms.ChangeRole(r.Context(), req, role, grant); err != nil {
			s.sendFailure(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]string{"message": "Role updated"})
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "healthy",
		Sessions:  len(s.rooms.Sessions()),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.stats != nil {
		resp.Connections = s.stats.Stats()
	}
	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			s.log.Warn().Err(err).Msg("database health check failed")
			resp.Status = "unhealthy"
			resp.Database = "unavailable"
		}
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, resp)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch types.Kind(err) {
	case types.ErrValidation:
		return http.StatusBadRequest
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrAuthorization:
		return http.StatusForbidden
	case types.ErrCapacity:
		return http.StatusConflict
	case types.ErrPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendFailure(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", code).Msg("request failed")
	}
	s.sendError(w, types.Message(err), code)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

type accountKey struct{}

func accountFrom(ctx context.Context) types.Account {
	a, _ := ctx.Value(accountKey{}).(types.Account)
	return a
}

// authMiddleware resolves the bearer token through the account directory.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := websocket.Token(r)
		if token == "" {
			s.sendError(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		acct, err := s.accounts.ResolveUser(r.Context(), token)
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrAuthorization) {
			s.sendError(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("account lookup failed")
			s.sendError(w, "Account directory unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, acct)))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
