package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ViniZap4/lumi-sync/domain"
)

// ErrSessionClosed is returned by Emit once the connection is gone.
var ErrSessionClosed = errors.New("session closed")

// Conn is the subset of a websocket connection a Session needs. Both
// gorilla and fasthttp websocket connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Session is one open connection. Its identity is fixed when it is
// created. All writes go through a single writer goroutine.
type Session struct {
	id       string
	conn     Conn
	identity *domain.Identity
	token    string

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once

	log zerolog.Logger
}

func NewSession(conn Conn, identity *domain.Identity, token string, log zerolog.Logger) *Session {
	id := uuid.NewString()
	l := log.With().Str("session_id", id)
	if identity != nil {
		l = l.Str("user_id", identity.ID)
	}
	return &Session{
		id:       id,
		conn:     conn,
		identity: identity,
		token:    token,
		send:     make(chan Message, 64),
		done:     make(chan struct{}),
		log:      l.Logger(),
	}
}

func (s *Session) ID() string { return s.id }

// Identity is nil for anonymous sessions.
func (s *Session) Identity() *domain.Identity { return s.identity }

// Emit queues a named event for the client.
func (s *Session) Emit(event string, data any) error {
	return s.enqueue(Message{Event: event, Data: data})
}

func (s *Session) reply(ack int64, data any) error {
	return s.enqueue(Message{Ack: &ack, Data: data})
}

func (s *Session) enqueue(m Message) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Close stops the session. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Done is closed when the session stops.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) writePump() {
	for {
		select {
		case m := <-s.send:
			if err := s.conn.WriteJSON(m); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// serve runs the read loop. Requests are handed to a single worker that
// runs them one at a time in arrival order, so two edits of the same note
// land in the order the client sent them. At most queue requests wait
// behind the running one; past that the read loop blocks. first, when not
// nil, runs on the worker before any request.
//
// serve returns once the connection is closed, the writer has stopped, and
// the worker has finished what was queued; late emits are dropped.
func (s *Session) serve(ctx context.Context, rt *Router, queue int, first func(context.Context)) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	if queue < 0 {
		queue = 0
	}
	pending := make(chan Request, queue)

	var g errgroup.Group
	g.Go(func() error {
		if first != nil {
			first(ctx)
		}
		for req := range pending {
			rt.Dispatch(ctx, req)
		}
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			break
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil || req.Event == "" {
			s.Emit(EventError, map[string]any{"name": "InvalidArgument", "message": "malformed frame"})
			continue
		}
		pending <- req
	}
	close(pending)

	s.Close()
	<-writerDone
	g.Wait()
}
