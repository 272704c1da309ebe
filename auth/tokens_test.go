package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/store/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTokens(t *testing.T) (*TokenService, *memory.Store, *fakeClock) {
	t.Helper()
	st := memory.New()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewTokenService(st, st, DefaultTokenTTL, zerolog.Nop())
	s.now = clk.Now
	require.NoError(t, st.CreateUser(context.Background(), &domain.User{ID: "u1", Username: "alice"}))
	return s, st, clk
}

// failingTokens simulates an unreachable backing store.
type failingTokens struct{ *memory.Store }

func (failingTokens) Token(context.Context, string) (*domain.AuthToken, error) {
	return nil, domain.StoreUnavailable(errors.New("connection refused"))
}

func TestTokenService_IssueAndResolve(t *testing.T) {
	s, st, clk := newTestTokens(t)
	ctx := context.Background()

	token, err := s.Issue(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, token, tokenBytes*2)

	rec, err := st.Token(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(24*time.Hour), rec.ExpiresAt)

	id, err := s.Resolve(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, "alice", id.Username)
}

func TestTokenService_MultipleTokensPerUser(t *testing.T) {
	s, _, _ := newTestTokens(t)
	ctx := context.Background()

	a, err := s.Issue(ctx, "u1")
	require.NoError(t, err)
	b, err := s.Issue(ctx, "u1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	for _, tok := range []string{a, b} {
		id, err := s.Resolve(ctx, tok)
		require.NoError(t, err)
		assert.NotNil(t, id)
	}
}

func TestTokenService_ExpiredNeverResolves(t *testing.T) {
	s, st, clk := newTestTokens(t)
	ctx := context.Background()

	token, err := s.Issue(ctx, "u1")
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)

	// the record is still stored, not yet swept
	_, err = st.Token(ctx, token)
	require.NoError(t, err)

	id, err := s.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, id)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestTokenService_UnknownToken(t *testing.T) {
	s, _, _ := newTestTokens(t)

	id, err := s.Resolve(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, id)
}

func TestTokenService_StoreUnavailableIsDistinct(t *testing.T) {
	s, st, _ := newTestTokens(t)
	s.tokens = failingTokens{st}

	id, err := s.Resolve(context.Background(), "anything")
	assert.Nil(t, id)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestTokenService_RunSweeperStopsOnCancel(t *testing.T) {
	s, _, _ := newTestTokens(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
