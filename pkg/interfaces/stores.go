package interfaces

import (
	"context"

	"syncplayer/pkg/types"
)

// AccountDirectory resolves user identities. Unknown users yield an error
// matching types.ErrNotFound.
type AccountDirectory interface {
	ResolveUser(ctx context.Context, token string) (types.Account, error)
	LookupUser(ctx context.Context, userID string) (types.Account, error)
}

// CatalogStore holds track metadata.
type CatalogStore interface {
	FindTrack(ctx context.Context, trackID string) (types.Track, error)
	IncrementPlayCount(ctx context.Context, trackID string) error
}

// RoomStore is the durable projection of rooms. The in-memory session is
// authoritative; writes here may lag.
type RoomStore interface {
	LoadRoom(ctx context.Context, roomID string) (types.RoomRecord, error)
	CreateRoom(ctx context.Context, room types.RoomRecord) error
	SaveRoomPlaylist(ctx context.Context, roomID string, trackIDs []string) error
	SaveRoomAdmins(ctx context.Context, roomID string, adminIDs []string) error
	DeleteRoom(ctx context.Context, roomID string) error
}

// Store is the full durable backend.
type Store interface {
	AccountDirectory
	CatalogStore
	RoomStore
	HealthCheck(ctx context.Context) error
	Close() error
}
