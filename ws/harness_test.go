package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ViniZap4/lumi-sync/auth"
	"github.com/ViniZap4/lumi-sync/errlog"
	"github.com/ViniZap4/lumi-sync/store/memory"
	"github.com/ViniZap4/lumi-sync/tree"
)

var errConnClosed = errors.New("use of closed connection")

// fakeConn is an in-memory websocket connection.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.out <- b
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type frame struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

type harness struct {
	store    *memory.Store
	accounts *auth.Accounts
	tokens   *auth.TokenService
	tree     *tree.Service
	hub      *Hub
	gateway  *Gateway
}

func newHarness(t *testing.T, fanOut bool) *harness {
	t.Helper()
	log := zerolog.Nop()
	st := memory.New()
	tokens := auth.NewTokenService(st, st, auth.DefaultTokenTTL, log)
	accounts := auth.NewAccounts(auth.NewCredentials(st, bcrypt.MinCost), tokens)
	tr := tree.NewService(st, log)
	hub := NewHub()
	b := NewBroadcaster(tr, hub, fanOut, log)
	reg, err := NewRegistry(errlog.NewSink(st, 64, log), log, NewHandlers(accounts, tr, b).Operations()...)
	require.NoError(t, err)

	return &harness{
		store:    st,
		accounts: accounts,
		tokens:   tokens,
		tree:     tr,
		hub:      hub,
		gateway:  NewGateway(hub, reg, b, 8, log),
	}
}

type client struct {
	t    *testing.T
	conn *fakeConn
	ack  int64
	done chan struct{}
}

// connect opens a session the way the HTTP handshake would.
func (h *harness) connect(t *testing.T, token string) *client {
	t.Helper()
	id, err := auth.NewAuthenticator(h.tokens).Authenticate(context.Background(), token)
	require.NoError(t, err)

	c := &client{t: t, conn: newFakeConn(), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		h.gateway.Serve(context.Background(), c.conn, id, token)
	}()
	t.Cleanup(c.close)
	return c
}

func (c *client) close() {
	c.conn.Close()
	<-c.done
}

func (c *client) emit(event string, args ...any) {
	c.t.Helper()
	c.send(event, nil, args...)
}

// call sends event with a completion callback and returns the ack number.
func (c *client) call(event string, args ...any) int64 {
	c.t.Helper()
	c.ack++
	n := c.ack
	c.send(event, &n, args...)
	return n
}

func (c *client) send(event string, ack *int64, args ...any) {
	c.t.Helper()
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		require.NoError(c.t, err)
		raw[i] = b
	}
	b, err := json.Marshal(Request{Event: event, Args: raw, Ack: ack})
	require.NoError(c.t, err)
	c.conn.in <- b
}

func (c *client) next() frame {
	c.t.Helper()
	select {
	case b := <-c.conn.out:
		var f frame
		require.NoError(c.t, json.Unmarshal(b, &f))
		return f
	case <-time.After(2 * time.Second):
		c.t.Fatal("timed out waiting for a frame")
		return frame{}
	}
}

// waitEvent skips frames until the named event arrives.
func (c *client) waitEvent(name string) json.RawMessage {
	c.t.Helper()
	for {
		f := c.next()
		if f.Event == name {
			return f.Data
		}
	}
}

// waitAck skips frames until the reply for ack n arrives.
func (c *client) waitAck(n int64) json.RawMessage {
	c.t.Helper()
	for {
		f := c.next()
		if f.Ack != nil && *f.Ack == n {
			return f.Data
		}
	}
}

// expectQuiet asserts nothing else is sent for a short while.
func (c *client) expectQuiet() {
	c.t.Helper()
	select {
	case b := <-c.conn.out:
		c.t.Fatalf("unexpected frame: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}
