package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("connection write buffer full")
)

var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrMissingToken  = errors.New("missing access token")
)
