package realtime

import (
	"context"
	"time"
	"waas-dispatch-service/internal/ports"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// WSClient is one websocket connection. Messages are queued and written by
// a single goroutine; when the queue is full new messages are dropped.
type WSClient struct {
	conn *websocket.Conn
	out  chan []byte
}

func NewWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{conn: conn, out: make(chan []byte, sendBuffer)}
}

func (c *WSClient) Send(b []byte) bool {
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// Serve registers the connection with the hub, writes the snapshot, then
// pumps live updates until the peer disconnects or ctx ends. Incoming
// messages are ignored.
func Serve(ctx context.Context, h *Hub, userID uuid.UUID, conn *websocket.Conn, snapshot []ports.ReportProgress) error {
	c := NewWSClient(conn)
	h.Subscribe(userID, c)
	defer h.Unsubscribe(userID, c)

	ctx = conn.CloseRead(ctx)

	for _, p := range snapshot {
		b, err := encodeProgress(p)
		if err != nil {
			return err
		}
		if err := c.write(ctx, b); err != nil {
			return err
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-c.out:
			if err := c.write(ctx, b); err != nil {
				return err
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (c *WSClient) write(ctx context.Context, b []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, b)
}
