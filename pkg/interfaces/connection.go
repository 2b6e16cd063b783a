package interfaces

// Connection is one client socket as seen by the broadcaster.
type Connection interface {
	// ID identifies this socket; a user reconnecting gets a new ID.
	ID() string

	// UserID is the authenticated account behind the socket.
	UserID() string

	// Send queues a pre-encoded frame. It must be safe for concurrent use.
	Send(frame []byte) error

	Close() error
}

// Broadcaster fans outbound events to the sockets subscribed to a room.
// Delivery is best effort: a slow or closed socket never blocks the caller.
type Broadcaster interface {
	Subscribe(roomID, userID string)
	Unsubscribe(roomID, userID string)

	// Drop removes every subscription of a room.
	Drop(roomID string)

	Broadcast(roomID, event string, payload any)
	BroadcastExcept(roomID, exceptUserID, event string, payload any)
	SendTo(userID, event string, payload any)
}
