package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ViniZap4/lumi-sync/auth"
	"github.com/ViniZap4/lumi-sync/client"
	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/errlog"
	"github.com/ViniZap4/lumi-sync/filesystem"
	httpapi "github.com/ViniZap4/lumi-sync/http"
	"github.com/ViniZap4/lumi-sync/store/memory"
	"github.com/ViniZap4/lumi-sync/tree"
	"github.com/ViniZap4/lumi-sync/ws"
)

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"frobnicate"})
	assert.ErrorContains(t, err, `unknown command "frobnicate"`)
}

func TestWatch_RequiresToken(t *testing.T) {
	t.Setenv("LUMI_TOKEN", "")
	err := watch(context.Background(), []string{"-url", "ws://127.0.0.1:1/ws"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "-token is required")
}

func TestPrintTree(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	root := "r"
	work := "w"
	tr := client.Tree{
		{ID: "n", Name: "todo", IsFile: true, ParentID: &work, UpdatedAt: at},
		{ID: "w", Name: "work", ParentID: &root, UpdatedAt: at},
		{ID: "r", Name: domain.RootName, UpdatedAt: at},
	}

	var buf bytes.Buffer
	printTree(&buf, tr)
	assert.Equal(t, "root (3 folders)\n  work/  2026-01-02 03:04:05\n    todo  2026-01-02 03:04:05\n", buf.String())
}

func startServer(t *testing.T) (string, *accountsFixture) {
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
	go srv.Listener(ln)
	t.Cleanup(func() {
		cancel()
		sctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		srv.Shutdown(sctx)
	})
	return "ws://" + ln.Addr().String() + "/ws", &accountsFixture{accounts: accounts, tree: tr}
}

type accountsFixture struct {
	accounts *auth.Accounts
	tree     *tree.Service
}

func TestExport_EndToEnd(t *testing.T) {
	url, fx := startServer(t)
	ctx := context.Background()

	token, id, err := fx.accounts.Register(ctx, "alice", "secret-password")
	require.NoError(t, err)
	dir, err := fx.tree.Create(ctx, id.ID, "journal", "", false)
	require.NoError(t, err)
	_, _, err = fx.tree.CreateNotePair(ctx, id.ID, dir.ID, "monday", "went well")
	require.NoError(t, err)

	out := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, export(ctx, []string{"-url", url, "-token", token, "-dir", out}, &buf))
	assert.Contains(t, buf.String(), "1 written")

	doc, err := filesystem.ReadNote(filepath.Join(out, "journal", "monday.md"))
	require.NoError(t, err)
	assert.Equal(t, "monday", doc.Title)
	assert.Equal(t, "went well", doc.Content)

	// No empty note is seeded: the tree already had content.
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
