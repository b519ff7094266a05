package ws

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = int64(64 * 1024)
	sendBufSize    = 256
)

// Client is one websocket connection of a user. Outbound frames go through
// a bounded queue drained by writePump.
type Client struct {
	ID     string
	UserID string
	Info   ConnInfo

	conn      *websocket.Conn
	egress    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func newClient(conn *websocket.Conn, info ConnInfo, logger *zap.Logger) *Client {
	return &Client{
		ID:     info.ConnID,
		UserID: info.UserID,
		Info:   info,
		conn:   conn,
		egress: make(chan []byte, sendBufSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("conn_id", info.ConnID), zap.String("user_id", info.UserID)),
	}
}

// Send enqueues a frame without blocking. It returns false when the client
// is closed or its queue is full.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.egress <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readPump reads frames until the connection fails and hands each one to
// handle. It returns the close reason.
func (c *Client) readPump(handle func([]byte)) string {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Debug("client disconnected")
			case errors.As(err, &ne) && ne.Timeout():
				c.logger.Info("client timed out")
			default:
				c.logger.Debug("read failed", zap.Error(err))
			}
			return err.Error()
		}
		handle(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.egress:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
