package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRole_Ordering(t *testing.T) {
	if !(RoleMember < RoleController && RoleController < RoleAdmin && RoleAdmin < RoleOwner) {
		t.Fatal("roles must be ordered member < controller < admin < owner")
	}
}

func TestRole_JSONRoundTrip(t *testing.T) {
	for _, r := range []Role{RoleMember, RoleController, RoleAdmin, RoleOwner} {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal %v: %v", r, err)
		}
		var got Role
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if got != r {
			t.Errorf("round trip %v: got %v", r, got)
		}
	}
	if _, err := ParseRole("superuser"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestError_KindMatching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"validation", Validationf("bad %s", "field"), ErrValidation},
		{"not found", NotFoundf("room not found"), ErrNotFound},
		{"forbidden", Forbiddenf("admin required"), ErrAuthorization},
		{"capacity", Capacityf("too long"), ErrCapacity},
		{"persistence", PersistenceErr(errors.New("disk"), "save failed"), ErrPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			if Kind(tt.err) != tt.kind {
				t.Errorf("Kind() = %v, want %v", Kind(tt.err), tt.kind)
			}
		})
	}

	if got := Message(Validationf("bad field")); got != "bad field" {
		t.Errorf("Message() = %q", got)
	}
	if got := Message(errors.New("boom")); got != "internal error" {
		t.Errorf("Message() of plain error = %q", got)
	}
}

func newTestSession() *Session {
	return &Session{
		ID:          "room-1",
		OwnerID:     "owner",
		Admins:      []string{"admin"},
		Controllers: []string{"ctrl"},
		Members: []Member{
			{ID: "owner"}, {ID: "admin"}, {ID: "ctrl"}, {ID: "m1"},
		},
		Playlist: []Track{
			{ID: "A", Length: 100}, {ID: "B", Length: 200}, {ID: "C", Length: 300},
		},
		CurrentTrackID: "B",
	}
}

func TestSession_RoleOf(t *testing.T) {
	s := newTestSession()
	tests := map[string]Role{
		"owner":    RoleOwner,
		"admin":    RoleAdmin,
		"ctrl":     RoleController,
		"m1":       RoleMember,
		"stranger": RoleMember,
	}
	for id, want := range tests {
		if got := s.RoleOf(id); got != want {
			t.Errorf("RoleOf(%s) = %v, want %v", id, got, want)
		}
	}
}

func TestSession_Normalize(t *testing.T) {
	s := newTestSession()
	s.Admins = append(s.Admins, "owner", "admin")
	s.Controllers = append(s.Controllers, "owner")
	s.Playlist = append(s.Playlist, Track{ID: "A"})
	s.Members = append(s.Members, Member{ID: "m1"})
	s.Normalize()

	if len(s.Admins) != 1 || s.Admins[0] != "admin" {
		t.Errorf("admins = %v", s.Admins)
	}
	if len(s.Controllers) != 1 || s.Controllers[0] != "ctrl" {
		t.Errorf("controllers = %v", s.Controllers)
	}
	if len(s.Playlist) != 3 {
		t.Errorf("playlist not deduplicated: %v", s.Playlist)
	}
	if len(s.Members) != 4 {
		t.Errorf("members not deduplicated: %v", s.Members)
	}
	for _, m := range s.Members {
		if m.Role != s.RoleOf(m.ID) {
			t.Errorf("member %s role %v, want %v", m.ID, m.Role, s.RoleOf(m.ID))
		}
	}
}

func TestSession_NormalizeClearsMissingCurrentTrack(t *testing.T) {
	s := newTestSession()
	s.CurrentTrackID = "Z"
	s.PositionSeconds = 42
	s.Normalize()
	if s.CurrentTrackID != "" {
		t.Errorf("current track = %q, want unset", s.CurrentTrackID)
	}
	if s.PositionSeconds != 0 {
		t.Errorf("position = %v, want 0", s.PositionSeconds)
	}

	empty := &Session{OwnerID: "o", CurrentTrackID: "A"}
	empty.Normalize()
	if empty.CurrentTrackID != "" {
		t.Error("empty playlist must leave current track unset")
	}
}

func TestSession_PositionAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSession()
	s.PositionSeconds = 10
	s.PositionSetAt = base

	if got := s.PositionAt(base.Add(5 * time.Second)); got != 15 {
		t.Errorf("playing position = %v, want 15", got)
	}
	if got := s.PositionAt(base.Add(time.Hour)); got != 200 {
		t.Errorf("position must clamp to track length, got %v", got)
	}
	s.Paused = true
	if got := s.PositionAt(base.Add(5 * time.Second)); got != 10 {
		t.Errorf("paused position = %v, want 10", got)
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := newTestSession()
	c := s.Clone()
	c.Admins[0] = "changed"
	c.Members[0].Name = "changed"
	c.Playlist[0].ID = "changed"
	if s.Admins[0] != "admin" || s.Members[0].Name != "" || s.Playlist[0].ID != "A" {
		t.Error("clone shares backing arrays with original")
	}
}

func TestSession_AuthorityPresent(t *testing.T) {
	s := &Session{OwnerID: "o", Members: []Member{{ID: "m1", Role: RoleMember}}}
	if s.AuthorityPresent() {
		t.Error("members only: no authority expected")
	}
	s.Members = append(s.Members, Member{ID: "c", Role: RoleController})
	if !s.AuthorityPresent() {
		t.Error("controller present: authority expected")
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		data    string
		wantErr error
	}{
		{"join ok", EventJoin, `{"roomId":"r","userId":"u","name":"Ann"}`, nil},
		{"missing room", EventLeave, `{"userId":"u"}`, ErrValidation},
		{"missing payload", EventAlive, ``, ErrValidation},
		{"malformed", EventSeek, `{"roomId":1}`, ErrValidation},
		{"seek ok", EventSeek, `{"roomId":"r","userId":"u","seekSeconds":12.5}`, nil},
		{"seek missing", EventSeek, `{"roomId":"r","userId":"u"}`, ErrValidation},
		{"seek negative", EventSeek, `{"roomId":"r","userId":"u","seekSeconds":-1}`, ErrValidation},
		{"next needs current", EventNext, `{"roomId":"r","userId":"u"}`, ErrValidation},
		{"next ok", EventNext, `{"roomId":"r","userId":"u","currentSongId":"A","autoPlay":true}`, nil},
		{"add song object", EventAddSong, `{"roomId":"r","userId":"u","song":{"_id":"A"}}`, nil},
		{"add song id", EventAddSong, `{"roomId":"r","userId":"u","song":"A"}`, nil},
		{"add song missing", EventAddSong, `{"roomId":"r","userId":"u"}`, ErrValidation},
		{"chat blank", EventChat, `{"roomId":"r","userId":"u","message":"   "}`, ErrValidation},
		{"chat ok", EventChat, `{"roomId":"r","userId":"u","message":"hi"}`, nil},
		{"voice empty", EventVoice, `{"roomId":"r","userId":"u"}`, ErrValidation},
		{"playlist nil", EventUpdatePlaylist, `{"roomId":"r","userId":"u"}`, ErrValidation},
		{"playlist empty id", EventUpdatePlaylist, `{"roomId":"r","userId":"u","songIds":["A",""]}`, ErrValidation},
		{"promote needs target", EventPromoteAdmin, `{"roomId":"r","userId":"u"}`, ErrValidation},
		{"unknown", "dance", `{}`, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest(tt.event, json.RawMessage(tt.data))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if req.Room() != "r" || req.Actor() != "u" {
					t.Errorf("addressing = %s/%s", req.Room(), req.Actor())
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddSongRequest_SongRef(t *testing.T) {
	req, err := DecodeRequest(EventAddSong, json.RawMessage(`{"roomId":"r","userId":"u","song":{"_id":"T1","title":"x"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := req.(*AddSongRequest).Song.ID; got != "T1" {
		t.Errorf("song id = %q", got)
	}
}

func TestChatRequest_SentAt(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := ChatRequest{}
	if !r.SentAt(fallback).Equal(fallback) {
		t.Error("zero timestamp should use fallback")
	}
	r.Timestamp = 1700000000000
	if got := r.SentAt(fallback); got.UnixMilli() != 1700000000000 {
		t.Errorf("SentAt = %v", got)
	}
	r.Timestamp = fallback.Add(48 * time.Hour).UnixMilli()
	if !r.SentAt(fallback).Equal(fallback) {
		t.Error("timestamp far ahead of the server should use fallback")
	}
	r.Timestamp = fallback.Add(time.Hour).UnixMilli()
	if got := r.SentAt(fallback); !got.Equal(fallback.Add(time.Hour)) {
		t.Errorf("small skew SentAt = %v", got)
	}
}

func TestChatRequest_ValidateTimestamp(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
		ok   bool
	}{
		{"absent", 0, true},
		{"recent", 1777665600000, true},
		{"negative", -1, false},
		{"past year 9999", 260000000000000, false},
		{"past ulid range", 9000000000000000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ChatRequest{Base: Base{RoomID: "r", UserID: "u"}, Message: "hi", Timestamp: tt.ts}
			err := r.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate = %v, want validation error", err)
			}
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	b, err := EncodeFrame(EventLeftRoom, LeftRoom{ID: "r"})
	if err != nil {
		t.Fatal(err)
	}
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatal(err)
	}
	if f.Event != EventLeftRoom || string(f.Data) != `{"_id":"r"}` {
		t.Errorf("frame = %s", b)
	}
}
