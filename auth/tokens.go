package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/store"
)

// DefaultTokenTTL is how long an issued token stays resolvable.
const DefaultTokenTTL = 24 * time.Hour

const tokenBytes = 32

// TokenService issues opaque bearer tokens and resolves them to identities.
type TokenService struct {
	tokens store.Tokens
	users  store.Users
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

func NewTokenService(tokens store.Tokens, users store.Users, ttl time.Duration, log zerolog.Logger) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		tokens: tokens,
		users:  users,
		ttl:    ttl,
		now:    time.Now,
		log:    log.With().Str("component", "tokens").Logger(),
	}
}

func makeToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Issue creates a new token for userID with expiry fixed at now + ttl.
func (s *TokenService) Issue(ctx context.Context, userID string) (string, error) {
	token, err := makeToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	now := s.now()
	err = s.tokens.CreateToken(ctx, &domain.AuthToken{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the identity bound to token, or nil if the token is
// unknown or expired. Only store failures are returned as errors.
func (s *TokenService) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	t, err := s.tokens.Token(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t.Expired(s.now()) {
		return nil, nil
	}

	u, err := s.users.UserByID(ctx, t.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.Identity{ID: u.ID, Username: u.Username}, nil
}

// Sweep removes expired tokens from the store.
func (s *TokenService) Sweep(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpiredTokens(ctx, s.now())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *TokenService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("token sweep failed")
				continue
			}
			if n > 0 {
				s.log.Debug().Int64("removed", n).Msg("expired tokens swept")
			}
		}
	}
}
