// ABOUTME: Execution-context side of the link with reconnecting dial and bounded requests.
// ABOUTME: A rejected or timed-out call is a recoverable error, never fatal to the caller.

package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Request timeout classes, matching the link call budget: connection-style
// calls wait longer than read-only listing calls.
const (
	ConnectTimeout = 15 * time.Second
	ListTimeout    = 5 * time.Second

	// redialDelay is the backoff between connection attempts while the
	// gateway process does not exist yet.
	redialDelay = 1500 * time.Millisecond
)

// ErrRequestTimeout indicates no answer arrived within the call budget.
var ErrRequestTimeout = errors.New("link request timed out")

// ErrClosed indicates the client was closed.
var ErrClosed = errors.New("link client closed")

// RemoteError carries an error string answered by a gateway handler.
type RemoteError struct {
	Subject string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("link %s: %s", e.Subject, e.Message)
}

type pendingCall struct {
	ch chan Frame
}

// Client is one execution context's connection to the gateway link.
type Client struct {
	url string

	mu      sync.Mutex
	ws      *websocket.Conn
	wsMu    sync.Mutex // serializes writes on ws
	pending map[string]*pendingCall
	pushes  map[string][]chan json.RawMessage
	closed  bool
}

// Dial connects to the gateway link at addr (host:port), retrying until the
// gateway process exists or ctx expires.
func Dial(ctx context.Context, addr string) (*Client, error) {
	c := &Client{
		url:     fmt.Sprintf("ws://%s/link", addr),
		pending: make(map[string]*pendingCall),
		pushes:  make(map[string][]chan json.RawMessage),
	}

	for {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			c.ws = ws
			go c.readLoop()
			return c, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dialing link at %s: %w", addr, ctx.Err())
		case <-time.After(redialDelay):
		}
	}
}

// Close tears down the connection. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	for id, p := range c.pending {
		close(p.ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ws != nil {
		return ws.Close()
	}
	return nil
}

// Request sends a request frame and decodes the response payload into out
// (which may be nil). The ctx deadline bounds the wait; a missing answer is
// reported as ErrRequestTimeout.
func (c *Client) Request(ctx context.Context, subject string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", subject, err)
	}

	id := uuid.New().String()
	call := &pendingCall{ch: make(chan Frame, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = call
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(&Frame{Type: TypeRequest, ID: id, Subject: subject, Payload: data}); err != nil {
		return fmt.Errorf("sending %s request: %w", subject, err)
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrRequestTimeout
		}
		return ctx.Err()
	case f, ok := <-call.ch:
		if !ok {
			return ErrClosed
		}
		if f.Error != "" {
			return &RemoteError{Subject: subject, Message: f.Error}
		}
		if out != nil && len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, out); err != nil {
				return fmt.Errorf("decoding %s response: %w", subject, err)
			}
		}
		return nil
	}
}

// Notify sends a request without waiting for the response beyond the write.
// Used for fire-and-forget subjects whose ack carries no information.
func (c *Client) Notify(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", subject, err)
	}
	return c.write(&Frame{Type: TypeRequest, ID: uuid.New().String(), Subject: subject, Payload: data})
}

// Pushes subscribes to push frames for a subject. The channel receives every
// push until the client closes.
func (c *Client) Pushes(subject string) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 8)
	c.mu.Lock()
	c.pushes[subject] = append(c.pushes[subject], ch)
	c.mu.Unlock()
	return ch
}

func (c *Client) write(f *Frame) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws.WriteJSON(f)
}

func (c *Client) readLoop() {
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.Close()
			return
		}

		switch f.Type {
		case TypeResponse:
			c.mu.Lock()
			call, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				select {
				case call.ch <- f:
				default:
				}
			}
		case TypePush:
			c.mu.Lock()
			subs := append([]chan json.RawMessage(nil), c.pushes[f.Subject]...)
			c.mu.Unlock()
			for _, ch := range subs {
				select {
				case ch <- f.Payload:
				default:
					// Slow subscriber; drop rather than stall the reader.
				}
			}
		}
	}
}
