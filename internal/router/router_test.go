package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"syncplayer/pkg/types"
)

type mockConn struct {
	user    string
	account types.Account
	mu      sync.Mutex
	frames  []types.Frame
}

func (c *mockConn) ID() string             { return "conn-" + c.user }
func (c *mockConn) UserID() string         { return c.user }
func (c *mockConn) Close() error           { return nil }
func (c *mockConn) Account() types.Account { return c.account }

func (c *mockConn) Send(frame []byte) error {
	var f types.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *mockConn) lastError(t *testing.T) types.ErrorPayload {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("no frame sent")
	}
	f := c.frames[len(c.frames)-1]
	if f.Event != types.EventError {
		t.Fatalf("last frame = %s, want error", f.Event)
	}
	var p types.ErrorPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	return p
}

type mockHub struct {
	mu     sync.Mutex
	events []string
	reqs   []types.Request
	err    error
}

func (h *mockHub) Dispatch(ctx context.Context, event string, req types.Request) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	h.reqs = append(h.reqs, req)
	return h.err
}

func TestRouteMessageDispatches(t *testing.T) {
	hub := &mockHub{}
	r := NewRouter(hub, nil, zerolog.Nop())
	conn := &mockConn{user: "u1"}

	r.RouteMessage(context.Background(), conn, []byte(`{"event":"seek","data":{"roomId":"R","userId":"u1","seekSeconds":12}}`))

	if len(hub.events) != 1 || hub.events[0] != types.EventSeek {
		t.Fatalf("dispatched %v", hub.events)
	}
	seek, ok := hub.reqs[0].(*types.SeekRequest)
	if !ok || *seek.SeekSeconds != 12 {
		t.Errorf("request = %#v", hub.reqs[0])
	}
	if len(conn.frames) != 0 {
		t.Errorf("unexpected reply %+v", conn.frames)
	}
}

func TestRouteMessageErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		hubErr  error
		want    string
		event   string
		reached bool
	}{
		{"not json", `{{{`, nil, "malformed frame", "", false},
		{"no event", `{"data":{}}`, nil, "malformed frame", "", false},
		{"unknown event", `{"event":"dance","data":{"roomId":"R","userId":"u1"}}`, nil, "", "dance", false},
		{"impersonation", `{"event":"play-pause","data":{"roomId":"R","userId":"u2"}}`, nil, "userId does not match the authenticated user", "play-pause", false},
		{"declined", `{"event":"clear-chat","data":{"roomId":"R","userId":"u1"}}`, types.Forbiddenf("member can not clear chat"), "member can not clear chat", "clear-chat", true},
		{"internal", `{"event":"leave","data":{"roomId":"R","userId":"u1"}}`, errors.New("boom"), "internal error", "leave", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &mockHub{err: tt.hubErr}
			r := NewRouter(hub, nil, zerolog.Nop())
			conn := &mockConn{user: "u1"}

			r.RouteMessage(context.Background(), conn, []byte(tt.frame))

			p := conn.lastError(t)
			if tt.want != "" && p.Message != tt.want {
				t.Errorf("message = %q, want %q", p.Message, tt.want)
			}
			if p.Event != tt.event {
				t.Errorf("event = %q, want %q", p.Event, tt.event)
			}
			if got := len(hub.events) > 0; got != tt.reached {
				t.Errorf("hub reached = %v, want %v", got, tt.reached)
			}
		})
	}
}

func TestRouteMessageFillsJoinProfile(t *testing.T) {
	hub := &mockHub{}
	r := NewRouter(hub, nil, zerolog.Nop())
	conn := &mockConn{user: "u1", account: types.Account{ID: "u1", Name: "Ada", Email: "ada@example.com", ProfileImage: "ada.png"}}

	r.RouteMessage(context.Background(), conn, []byte(`{"event":"join","data":{"roomId":"R","userId":"u1","profileImage":"custom.png"}}`))

	join := hub.reqs[0].(*types.JoinRequest)
	if join.Name != "Ada" || join.Email != "ada@example.com" || join.ProfileImage != "custom.png" {
		t.Errorf("join = %+v", join)
	}
}

func TestRouteMessageRateLimited(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	hub := &mockHub{}
	r := NewRouter(hub, NewRateLimiter(2, func() time.Time { return now }), zerolog.Nop())
	conn := &mockConn{user: "u1"}
	frame := []byte(`{"event":"alive","data":{"roomId":"R","userId":"u1"}}`)

	for range 3 {
		r.RouteMessage(context.Background(), conn, frame)
	}
	if len(hub.events) != 2 {
		t.Errorf("dispatched %d, want 2", len(hub.events))
	}
	if p := conn.lastError(t); p.Message != "too many events, slow down" {
		t.Errorf("message = %q", p.Message)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, func() time.Time { return now })

	for i := range 3 {
		if !rl.Allow("u1") {
			t.Fatalf("event %d denied", i+1)
		}
	}
	if rl.Allow("u1") {
		t.Error("fourth event allowed")
	}
	if !rl.Allow("u2") {
		t.Error("limits leak across users")
	}

	now = now.Add(59 * time.Second)
	if rl.Allow("u1") {
		t.Error("allowed before the window reset")
	}
	now = now.Add(time.Second)
	if !rl.Allow("u1") {
		t.Error("denied after the window reset")
	}

	now = now.Add(6 * time.Minute)
	rl.Cleanup()
	if n := rl.tracked(); n != 0 {
		t.Errorf("tracked after cleanup = %d", n)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, nil)
	for range 1000 {
		if !rl.Allow("u1") {
			t.Fatal("disabled limiter denied")
		}
	}
}
