package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"messenger/internal/models"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrUnauthorized = errors.New("unauthorized")
)

// AckError is returned when the server answered a request with an error.
type AckError struct {
	Message string
}

func (e *AckError) Error() string { return e.Message }

// Handler receives the data of an inbound event.
type Handler func(data json.RawMessage)

// Conn is a websocket session with the messaging server.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	nextAck atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan models.AckPayload
	handlers map[string][]Handler

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a session authenticated with token.
func Dial(ctx context.Context, url, token string) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return dial(ctx, url, header)
}

// DialURL opens a session whose credential, if any, is carried by the url.
func DialURL(ctx context.Context, url string) (*Conn, error) {
	return dial(ctx, url, nil)
}

func dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	c := &Conn{
		ws:       ws,
		pending:  make(map[int64]chan models.AckPayload),
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// On registers fn for event. Handlers run on the read goroutine in
// registration order.
func (c *Conn) On(event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// Emit sends an event without waiting for an answer.
func (c *Conn) Emit(event string, payload any) error {
	return c.write(event, payload, 0)
}

// Request sends an event and waits for its ack.
func (c *Conn) Request(ctx context.Context, event string, payload any) (models.AckPayload, error) {
	id := c.nextAck.Add(1)
	ch := make(chan models.AckPayload, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(event, payload, id); err != nil {
		return models.AckPayload{}, err
	}

	select {
	case ack := <-ch:
		if ack.Error != "" {
			return ack, &AckError{Message: ack.Error}
		}
		return ack, nil
	case <-ctx.Done():
		return models.AckPayload{}, ctx.Err()
	case <-c.done:
		return models.AckPayload{}, ErrClosed
	}
}

// SendText sends a text message with optimistic rendering in tl. A rejected
// send removes the optimistic entry; a timeout keeps it so that a late
// message:new can still replace it.
func (c *Conn) SendText(ctx context.Context, tl *Timeline, conversationID, senderID, text string) (models.MessagePayload, error) {
	correlationID := uuid.NewString()
	temp := tl.AddOptimistic(conversationID, senderID, text, correlationID)

	ack, err := c.Request(ctx, models.EventMessageSend, models.SendRequest{
		ConversationID:  conversationID,
		Text:            text,
		ClientMessageID: correlationID,
	})
	var ackErr *AckError
	if errors.As(err, &ackErr) {
		tl.Reject(temp.ID)
		return models.MessagePayload{}, err
	}
	if err != nil {
		return temp, err
	}
	if ack.Message == nil {
		return temp, fmt.Errorf("ack without message")
	}
	tl.ApplyNew(*ack.Message)
	return *ack.Message, nil
}

// Follow keeps tl in sync with server events of one conversation.
func (c *Conn) Follow(tl *Timeline, conversationID string) {
	c.On(models.EventMessageNew, func(data json.RawMessage) {
		var msg models.MessagePayload
		if json.Unmarshal(data, &msg) == nil && msg.ConversationID == conversationID {
			tl.ApplyNew(msg)
		}
	})
	c.On(models.EventMessageDelivered, func(data json.RawMessage) {
		var ev models.DeliveredEvent
		if json.Unmarshal(data, &ev) == nil && ev.ConversationID == conversationID {
			tl.ApplyDelivered(ev.MessageID)
		}
	})
	c.On(models.EventMessageRead, func(data json.RawMessage) {
		var ev models.ReadEvent
		if json.Unmarshal(data, &ev) == nil && ev.ConversationID == conversationID {
			tl.ApplyRead(ev.MessageIDs)
		}
	})
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.shutdown()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) write(event string, payload any, ack int64) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(models.Frame{Event: event, Data: data, Ack: ack})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		if frame.Event == models.EventAck {
			var ack models.AckPayload
			_ = json.Unmarshal(frame.Data, &ack)
			c.mu.Lock()
			ch, ok := c.pending[frame.Ack]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- ack:
				default:
				}
			}
			continue
		}

		c.mu.Lock()
		handlers := append([]Handler(nil), c.handlers[frame.Event]...)
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(frame.Data)
		}
	}
}
