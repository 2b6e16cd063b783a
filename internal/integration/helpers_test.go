package integration

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"syncplayer/internal/app"
	"syncplayer/internal/config"
	"syncplayer/pkg/types"
)

// testEnv is a running application backed by a temp-dir SQLite database.
type testEnv struct {
	app  *app.Application
	addr string
}

type testUser struct {
	account types.Account
	token   string
}

var (
	owner = testUser{types.Account{ID: "owner", Name: "Olive", Email: "olive@example.com"}, "tok-owner"}
	guest = testUser{types.Account{ID: "guest", Name: "Gus"}, "tok-guest"}
	other = testUser{types.Account{ID: "other", Name: "Oda"}, "tok-other"}
)

var catalog = []types.Track{
	{ID: "song-a", Title: "Alpha", Length: 180},
	{ID: "song-b", Title: "Bravo", Length: 200},
	{ID: "song-c", Title: "Charlie", Length: 240},
}

// startTestApp runs the full stack on a loopback port and seeds the
// accounts and catalog above.
func startTestApp(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "integration.db")
	cfg.Database.WriteRetryDelay = 10 * time.Millisecond
	cfg.Presence.SweepInterval = time.Hour

	application, err := app.NewApplication(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	ctx := context.Background()
	for _, u := range []testUser{owner, guest, other} {
		if err := application.Store().UpsertAccount(ctx, u.account, u.token); err != nil {
			t.Fatal(err)
		}
	}
	for _, tr := range catalog {
		if err := application.Store().UpsertTrack(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if err := application.Serve(ctx, ln); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	})
	return &testEnv{app: application, addr: application.Addr()}
}

func (e *testEnv) request(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, "http://"+e.addr+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

// createRoom stores a room owned by the owner account and returns its id.
func (e *testEnv) createRoom(t *testing.T, songIDs ...string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"name": "Friday", "songIds": songIDs})
	code, data := e.request(t, http.MethodPost, "/api/rooms", owner.token, string(body))
	if code != http.StatusCreated {
		t.Fatalf("create room: %d %s", code, data)
	}
	var resp struct {
		Room types.RoomRecord `json:"room"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Room.ID
}

// client is one socket connection of a test user.
type client struct {
	t    *testing.T
	user testUser
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, u testUser) *client {
	t.Helper()
	q := url.Values{"token": {u.token}}
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+e.addr+"/ws?"+q.Encode(), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial as %s: %v (status %d)", u.account.ID, err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, user: u, conn: conn}
}

func (c *client) send(event string, data map[string]any) {
	c.t.Helper()
	if _, ok := data["userId"]; !ok {
		data["userId"] = c.user.account.ID
	}
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.WriteJSON(types.Frame{Event: event, Data: raw}); err != nil {
		c.t.Fatalf("send %s: %v", event, err)
	}
}

// expect reads frames until one named event arrives, skipping others.
func (c *client) expect(event string) types.Frame {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		var f types.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("%s waiting for %s: %v", c.user.account.ID, event, err)
		}
		if f.Event == event {
			return f
		}
	}
}

func decodeData[T any](t *testing.T, f types.Frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", f.Event, err)
	}
	return v
}
