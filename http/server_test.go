package http

import (
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ViniZap4/lumi-sync/auth"
	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/store/memory"
	"github.com/ViniZap4/lumi-sync/tree"
	"github.com/ViniZap4/lumi-sync/ws"
)

type payloads struct {
	got []map[string]any
}

func (p *payloads) RecordPayload(data map[string]any) { p.got = append(p.got, data) }

type fixture struct {
	server *Server
	store  *memory.Store
	sink   *payloads
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	st := memory.New()
	tokens := auth.NewTokenService(st, st, auth.DefaultTokenTTL, log)
	accounts := auth.NewAccounts(auth.NewCredentials(st, bcrypt.MinCost), tokens)
	tr := tree.NewService(st, log)
	hub := ws.NewHub()
	b := ws.NewBroadcaster(tr, hub, false, log)
	reg, err := ws.NewRegistry(nil, log, ws.NewHandlers(accounts, tr, b).Operations()...)
	require.NoError(t, err)

	token, _, err := accounts.Register(context.Background(), "alice", "secret-password")
	require.NoError(t, err)

	sink := &payloads{}
	srv := NewServer(context.Background(), ws.NewGateway(hub, reg, b, 4, log), hub, auth.NewAuthenticator(tokens), st, sink, Options{}, log)
	return &fixture{server: srv, store: st, sink: sink, token: token}
}

func (f *fixture) do(t *testing.T, req *nethttp.Request) (*nethttp.Response, string) {
	t.Helper()
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, httptest.NewRequest(nethttp.MethodGet, "/healthz", nil))

	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, body)
}

func TestSocket_RequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, httptest.NewRequest(nethttp.MethodGet, "/ws", nil))
	assert.Equal(t, nethttp.StatusUpgradeRequired, resp.StatusCode)
}

func TestSocket_BadTokenRejectedBeforeUpgrade(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  func() *nethttp.Request
	}{
		{
			name: "query",
			req: func() *nethttp.Request {
				return httptest.NewRequest(nethttp.MethodGet, "/ws?token=forged", nil)
			},
		},
		{
			name: "bearer",
			req: func() *nethttp.Request {
				r := httptest.NewRequest(nethttp.MethodGet, "/ws", nil)
				r.Header.Set("Authorization", "Bearer forged")
				return r
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.req()
			r.Header.Set("Connection", "Upgrade")
			r.Header.Set("Upgrade", "websocket")
			r.Header.Set("Sec-WebSocket-Version", "13")
			r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

			resp, body := f.do(t, r)
			assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
			assert.Contains(t, body, "Authentication error")
		})
	}
}

func TestPostLog(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(nethttp.MethodPost, "/api/logs", strings.NewReader(`{"message":"client crashed","screen":"editor"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := f.do(t, req)

	assert.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
	require.Len(t, f.sink.got, 1)
	assert.Equal(t, "client crashed", f.sink.got[0]["message"])
}

func TestPostLog_RejectsNonObject(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(nethttp.MethodPost, "/api/logs", strings.NewReader(`[1,2]`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := f.do(t, req)

	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.sink.got)
}

func TestListLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, f.store.InsertLog(ctx, &domain.LogEntry{ID: msg, Data: map[string]any{"message": msg}}))
	}

	t.Run("requires token", func(t *testing.T) {
		resp, _ := f.do(t, httptest.NewRequest(nethttp.MethodGet, "/api/logs", nil))
		assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("limit", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodGet, "/api/logs?limit=2", nil)
		req.Header.Set("Authorization", "Bearer "+f.token)
		resp, body := f.do(t, req)
		require.Equal(t, nethttp.StatusOK, resp.StatusCode)

		var entries []domain.LogEntry
		require.NoError(t, json.Unmarshal([]byte(body), &entries))
		assert.Len(t, entries, 2)
	})

	t.Run("bad limit", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodGet, "/api/logs?limit=zero", nil)
		req.Header.Set("X-Lumi-Token", f.token)
		resp, _ := f.do(t, req)
		assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	})
}
