package hub

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"syncplayer/internal/session"
	"syncplayer/pkg/types"
)

type sent struct {
	room    string
	user    string
	except  string
	event   string
	payload any
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	subs    map[string][]string
	sent    []sent
	panicOn string
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{subs: make(map[string][]string)}
}

func (b *fakeBroadcaster) Subscribe(roomID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.subs[roomID], userID) {
		b.subs[roomID] = append(b.subs[roomID], userID)
	}
}

func (b *fakeBroadcaster) Unsubscribe(roomID, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[roomID] = slices.DeleteFunc(b.subs[roomID], func(s string) bool { return s == userID })
}

func (b *fakeBroadcaster) Drop(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, roomID)
}

func (b *fakeBroadcaster) record(s sent) {
	if b.panicOn != "" && s.event == b.panicOn {
		panic("broadcast exploded")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, s)
}

func (b *fakeBroadcaster) Broadcast(roomID, event string, payload any) {
	b.record(sent{room: roomID, event: event, payload: payload})
}

func (b *fakeBroadcaster) BroadcastExcept(roomID, exceptUserID, event string, payload any) {
	b.record(sent{room: roomID, except: exceptUserID, event: event, payload: payload})
}

func (b *fakeBroadcaster) SendTo(userID, event string, payload any) {
	b.record(sent{user: userID, event: event, payload: payload})
}

func (b *fakeBroadcaster) events(event string) []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sent
	for _, s := range b.sent {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}

func (b *fakeBroadcaster) subscribers(roomID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.subs[roomID])
}

func (b *fakeBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = nil
}

type fakeStore struct {
	mu       sync.Mutex
	rooms    map[string]types.RoomRecord
	tracks   map[string]types.Track
	accounts map[string]types.Account
	deleted  []string
	loads    int
	loadHook func()

	failDelete bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:    make(map[string]types.RoomRecord),
		tracks:   make(map[string]types.Track),
		accounts: make(map[string]types.Account),
	}
}

func (f *fakeStore) LoadRoom(ctx context.Context, roomID string) (types.RoomRecord, error) {
	f.mu.Lock()
	f.loads++
	hook := f.loadHook
	rec, ok := f.rooms[roomID]
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return types.RoomRecord{}, types.NotFoundf("room not found")
	}
	return rec, nil
}

func (f *fakeStore) CreateRoom(ctx context.Context, rec types.RoomRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[rec.ID] = rec
	return nil
}

func (f *fakeStore) SaveRoomPlaylist(ctx context.Context, roomID string, ids []string) error {
	return nil
}

func (f *fakeStore) SaveRoomAdmins(ctx context.Context, roomID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.rooms[roomID]
	rec.Admins = slices.Clone(ids)
	f.rooms[roomID] = rec
	return nil
}

func (f *fakeStore) DeleteRoom(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return context.DeadlineExceeded
	}
	delete(f.rooms, roomID)
	f.deleted = append(f.deleted, roomID)
	return nil
}

func (f *fakeStore) FindTrack(ctx context.Context, id string) (types.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tracks[id]
	if !ok {
		return types.Track{}, types.NotFoundf("song not found")
	}
	return t, nil
}

func (f *fakeStore) IncrementPlayCount(ctx context.Context, id string) error { return nil }

func (f *fakeStore) ResolveUser(ctx context.Context, token string) (types.Account, error) {
	return f.LookupUser(ctx, token)
}

func (f *fakeStore) LookupUser(ctx context.Context, id string) (types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return types.Account{}, types.NotFoundf("user not found")
	}
	return a, nil
}

type fakePersister struct {
	mu        sync.Mutex
	playlists map[string][]string
	admins    map[string][]string
	plays     []string
	flushed   []string
	discarded []string
}

func newFakePersister() *fakePersister {
	return &fakePersister{playlists: make(map[string][]string), admins: make(map[string][]string)}
}

func (p *fakePersister) SavePlaylist(roomID string, ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playlists[roomID] = ids
}

func (p *fakePersister) SaveAdmins(roomID string, ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admins[roomID] = ids
}

func (p *fakePersister) CountPlay(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, id)
}

func (p *fakePersister) Flush(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed = append(p.flushed, roomID)
}

func (p *fakePersister) Discard(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discarded = append(p.discarded, roomID)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	hub     *Hub
	reg     *session.Registry
	store   *fakeStore
	bc      *fakeBroadcaster
	persist *fakePersister
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)}
	f := &fixture{
		reg:     session.NewRegistry(clk.Now),
		store:   newFakeStore(),
		bc:      newFakeBroadcaster(),
		persist: newFakePersister(),
		clock:   clk,
	}
	for _, tr := range []types.Track{
		{ID: "A", Title: "Alpha", Length: 180},
		{ID: "B", Title: "Bravo", Length: 200},
		{ID: "C", Title: "Charlie", Length: 240},
		{ID: "D", Title: "Delta", Length: 150},
	} {
		f.store.tracks[tr.ID] = tr
	}
	for _, id := range []string{"owner", "admin", "ctrl", "m1", "m2"} {
		f.store.accounts[id] = types.Account{ID: id, Name: "name-" + id}
	}
	f.store.rooms["R"] = types.RoomRecord{
		ID:       "R",
		Name:     "Room R",
		OwnerID:  "owner",
		Admins:   []string{"admin"},
		Playlist: []types.Track{f.store.tracks["A"], f.store.tracks["B"], f.store.tracks["C"]},
	}
	f.store.rooms["S"] = types.RoomRecord{ID: "S", Name: "Room S", OwnerID: "owner", Playlist: []types.Track{}}

	f.hub = New(Deps{
		Registry:    f.reg,
		Rooms:       f.store,
		Catalog:     f.store,
		Accounts:    f.store,
		Broadcaster: f.bc,
		Persister:   f.persist,
	}, Options{
		ChatHistoryLimit: 3,
		ChatMaxLength:    20,
		Now:              clk.Now,
		Logger:           zerolog.Nop(),
	})
	if err := f.hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = f.hub.Stop() })
	return f
}

func (f *fixture) join(t *testing.T, room, user string) {
	t.Helper()
	req := &types.JoinRequest{Base: types.Base{RoomID: room, UserID: user}, Name: "name-" + user}
	if err := f.hub.Join(context.Background(), req); err != nil {
		t.Fatalf("join %s/%s: %v", room, user, err)
	}
}

func (f *fixture) session(t *testing.T, room string) *types.Session {
	t.Helper()
	s, ok := f.reg.Get(room)
	if !ok {
		t.Fatalf("session %s not resident", room)
	}
	return s
}

func base(room, user string) *types.Base {
	return &types.Base{RoomID: room, UserID: user}
}

func dispatch(t *testing.T, h *Hub, event, data string) error {
	t.Helper()
	req, err := types.DecodeRequest(event, json.RawMessage(data))
	if err != nil {
		return err
	}
	return h.Dispatch(context.Background(), event, req)
}
