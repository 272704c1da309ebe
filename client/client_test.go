package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ViniZap4/lumi-sync/auth"
	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/errlog"
	httpapi "github.com/ViniZap4/lumi-sync/http"
	"github.com/ViniZap4/lumi-sync/store/memory"
	"github.com/ViniZap4/lumi-sync/tree"
	"github.com/ViniZap4/lumi-sync/ws"
)

// startServer runs the full server stack on a loopback listener and
// returns its websocket URL.
func startServer(t *testing.T) string {
	t.Helper()
	log := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())

	st := memory.New()
	tokens := auth.NewTokenService(st, st, auth.DefaultTokenTTL, log)
	accounts := auth.NewAccounts(auth.NewCredentials(st, bcrypt.MinCost), tokens)
	tr := tree.NewService(st, log)
	hub := ws.NewHub()
	b := ws.NewBroadcaster(tr, hub, false, log)
	sink := errlog.NewSink(st, 16, log)
	reg, err := ws.NewRegistry(sink, log, ws.NewHandlers(accounts, tr, b).Operations()...)
	require.NoError(t, err)

	srv := httpapi.NewServer(ctx, ws.NewGateway(hub, reg, b, 4, log), hub, auth.NewAuthenticator(tokens), st, sink, httpapi.Options{}, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go hub.Run(ctx)
	go sink.Run(ctx)
	go srv.Listener(ln)

	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	})
	return "ws://" + ln.Addr().String() + "/ws"
}

func waitFor(t *testing.T, c *Client, name string) json.RawMessage {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "connection closed while waiting for %s", name)
			if ev.Name == name {
				return ev.Data
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func TestEndToEnd(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	anon, err := Dial(ctx, url, "", zerolog.Nop())
	require.NoError(t, err)
	defer anon.Close()
	assert.JSONEq(t, `{}`, string(waitFor(t, anon, EventUserInfo)))

	err = anon.AddFolder(ctx, "nope", "")
	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Unauthorized", rerr.Name)

	token, err := anon.Register(ctx, "alice", "secret-password")
	require.NoError(t, err)

	c, err := Dial(ctx, url, token, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	info := waitFor(t, c, EventUserInfo)
	assert.JSONEq(t, `{"username":"alice","token":"`+token+`"}`, string(info))

	initial, err := DecodeTree(waitFor(t, c, EventFolders))
	require.NoError(t, err)
	root, ok := initial.Root()
	require.True(t, ok)
	require.Len(t, initial.Children(root.ID), 1, "empty tree is seeded with one note")

	note, folder, err := c.AddNote(ctx, "Groceries", "", "milk")
	require.NoError(t, err)
	assert.Equal(t, folder.ID, note.FolderID)

	after, err := DecodeTree(waitFor(t, c, EventFolders))
	require.NoError(t, err)
	assert.Len(t, after.Children(root.ID), 2)

	require.NoError(t, c.UpdateNote(ctx, folder.ID, "milk, eggs"))
	require.NoError(t, c.UpdateNoteTitle(ctx, folder.ID, "Shopping"))

	view, err := c.GetNote(ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shopping", view.Title)
	assert.Equal(t, "milk, eggs", view.Content)

	require.NoError(t, c.DeleteFolder(ctx, folder.ID))
	_, err = c.GetNote(ctx, folder.ID)
	assert.True(t, IsNoteNotExist(err))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDial_RejectsBadToken(t *testing.T) {
	url := startServer(t)

	_, err := Dial(context.Background(), url, "forged", zerolog.Nop())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestCall_AfterClose(t *testing.T) {
	url := startServer(t)

	c, err := Dial(context.Background(), url, "", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Call(context.Background(), "login", "a", "b")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFollow_StopsOnRejection(t *testing.T) {
	url := startServer(t)

	err := Follow(context.Background(), url, "forged", zerolog.Nop(), func(context.Context, *Client) error {
		t.Fatal("connected with a forged token")
		return nil
	})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestFollow_ReconnectsUntilCancelled(t *testing.T) {
	prev := reconnectDelay
	reconnectDelay = 10 * time.Millisecond
	t.Cleanup(func() { reconnectDelay = prev })

	url := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	connects := 0
	err := Follow(ctx, url, "", zerolog.Nop(), func(_ context.Context, c *Client) error {
		connects++
		if connects == 3 {
			cancel()
			return nil
		}
		c.Close()
		return errors.New("dropped")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, connects)
}

func TestTrees(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	anon, err := Dial(ctx, url, "", zerolog.Nop())
	require.NoError(t, err)
	token, err := anon.Register(ctx, "bob", "secret-password")
	require.NoError(t, err)
	anon.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	got := make(chan Tree, 1)
	go Follow(ctx, url, token, zerolog.Nop(), Trees(func(tr Tree) {
		select {
		case got <- tr:
		default:
		}
	}))

	select {
	case tr := <-got:
		_, ok := tr.Root()
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("no tree received")
	}
}

func TestRemoteError_Message(t *testing.T) {
	err := &RemoteError{ErrorCode: domain.CodeNoteNotExist, FolderID: "f1"}
	assert.Equal(t, "noteNotExist (folder f1)", err.Error())
	assert.True(t, IsNoteNotExist(err))
	assert.False(t, IsNoteNotExist(&RemoteError{Name: "Unauthorized"}))
}

func TestSend_ErrorArrivesAsEvent(t *testing.T) {
	url := startServer(t)

	c, err := Dial(context.Background(), url, "", zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()
	waitFor(t, c, EventUserInfo)

	require.NoError(t, c.Send("deleteFolder", "anything"))

	var payload RemoteError
	require.NoError(t, json.Unmarshal(waitFor(t, c, EventError), &payload))
	assert.Equal(t, "Unauthorized", payload.Name)
	assert.ErrorIs(t, &payload, domain.ErrUnauthorized)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send("deleteFolder", "anything"), ErrClosed)
}
