package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"syncplayer/pkg/types"
)

// Connection wraps one authenticated socket. All writes go through a single
// writer goroutine; Send never blocks the caller.
type Connection struct {
	id           string
	conn         *websocket.Conn
	account      types.Account
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

type ConnectionOptions struct {
	BufferSize   int
	WriteTimeout time.Duration
}

func NewConnection(conn *websocket.Conn, account types.Account, opts ConnectionOptions) *Connection {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		account:      account,
		writeCh:      make(chan []byte, opts.BufferSize),
		writeTimeout: opts.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string               { return c.id }
func (c *Connection) UserID() string           { return c.account.ID }
func (c *Connection) Account() types.Account   { return c.account }
func (c *Connection) Done() <-chan struct{}    { return c.ctx.Done() }
func (c *Connection) Context() context.Context { return c.ctx }

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues an encoded frame. A peer whose buffer is full is too slow to
// keep up and gets ErrSlowConsumer.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

// SendEvent encodes and queues one frame.
func (c *Connection) SendEvent(event string, payload any) error {
	frame, err := types.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
