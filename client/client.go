// Package client speaks the sync protocol from the other side: it dials the
// server, issues operations with completion callbacks and surfaces pushed
// events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/ws"
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client closed")
	// ErrRejected is returned by Dial when the server refuses the token.
	ErrRejected = errors.New("connection rejected by server")
)

// Event is a server-initiated frame.
type Event struct {
	Name string
	Data json.RawMessage
}

// RemoteError is an error payload received in a callback reply.
type RemoteError struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	ErrorCode any    `json:"errorCode"`
	FolderID  string `json:"folderId"`
}

func (e *RemoteError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	case e.ErrorCode != nil:
		return fmt.Sprintf("%v (folder %s)", e.ErrorCode, e.FolderID)
	default:
		return e.Name
	}
}

// Is maps the reply onto the domain sentinels, so callers can test for
// domain.ErrNotFound or domain.ErrUnauthorized.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.ErrorCode == domain.CodeNoteNotExist || e.ErrorCode == domain.CodeFolderNotExist
	case domain.ErrUnauthorized:
		return e.Name == "Unauthorized"
	case domain.ErrAuthentication:
		return e.Name == "AuthenticationError"
	}
	return false
}

type frame struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
	nextAck atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan json.RawMessage

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the websocket endpoint at rawURL. An empty token opens
// an anonymous session.
func Dial(ctx context.Context, rawURL, token string, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %s: %w", rawURL, err)
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", u.Redacted(), ErrRejected)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	c := &Client{
		conn:    conn,
		log:     log.With().Str("component", "client").Str("server", u.Host).Logger(),
		pending: make(map[int64]chan json.RawMessage),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers pushed events until the connection drops. Pushes are
// full replacements, so when the consumer falls behind the newest ones are
// dropped rather than stalling callback replies.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Send issues event without a completion callback.
func (c *Client) Send(event string, args ...any) error {
	return c.write(event, nil, args)
}

// Call issues event with a completion callback and waits for its reply.
// A reply carrying an error object is returned as *RemoteError.
func (c *Client) Call(ctx context.Context, event string, args ...any) (json.RawMessage, error) {
	ack := c.nextAck.Add(1)
	reply := make(chan json.RawMessage, 1)

	c.mu.Lock()
	c.pending[ack] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ack)
		c.mu.Unlock()
	}()

	if err := c.write(event, &ack, args); err != nil {
		return nil, err
	}

	select {
	case data := <-reply:
		if rerr := remoteError(data); rerr != nil {
			return nil, rerr
		}
		return data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) write(event string, ack *int64, args []any) error {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encoding argument %d of %s: %w", i, event, err)
		}
		raw[i] = b
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(ws.Request{Event: event, Args: raw, Ack: ack}); err != nil {
		c.Close()
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer c.Close()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn().Err(err).Msg("malformed frame")
			continue
		}

		if f.Ack != nil {
			c.mu.Lock()
			reply, ok := c.pending[*f.Ack]
			c.mu.Unlock()
			if ok {
				reply <- f.Data
			}
			continue
		}

		select {
		case c.events <- Event{Name: f.Event, Data: f.Data}:
		default:
			c.log.Warn().Str("event", f.Event).Msg("event queue full, dropping")
		}
	}
}

func remoteError(data json.RawMessage) error {
	var body struct {
		Error *RemoteError `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == nil {
		return nil
	}
	return body.Error
}
