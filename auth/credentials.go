package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/store"
)

// Credentials verifies and creates username/password identities.
type Credentials struct {
	users store.Users
	cost  int
	now   func() time.Time
}

func NewCredentials(users store.Users, cost int) *Credentials {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Credentials{users: users, cost: cost, now: time.Now}
}

func (c *Credentials) CreateUser(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.InvalidArgument("username is required")
	}
	if password == "" {
		return nil, domain.InvalidArgument("password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return nil, domain.InvalidArgument("password: %v", err)
	}

	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    c.now(),
	}
	if err := c.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, domain.ErrUsernameTaken) {
			return nil, &domain.Error{Name: "Conflict", Message: "username already taken", Err: err}
		}
		return nil, err
	}
	return u, nil
}

// Verify returns the user when password matches. Unknown users and wrong
// passwords both fail with an AuthenticationError.
func (c *Credentials) Verify(ctx context.Context, username, password string) (*domain.User, error) {
	u, err := c.users.UserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.AuthenticationFailed(errors.New("invalid username or password"))
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, domain.AuthenticationFailed(errors.New("invalid username or password"))
	}
	return u, nil
}
