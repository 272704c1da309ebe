package auth

import (
	"context"

	"github.com/ViniZap4/lumi-sync/domain"
)

// Accounts implements register and login: both end with a freshly issued token.
type Accounts struct {
	creds  *Credentials
	tokens *TokenService
}

func NewAccounts(creds *Credentials, tokens *TokenService) *Accounts {
	return &Accounts{creds: creds, tokens: tokens}
}

func (a *Accounts) Register(ctx context.Context, username, password string) (string, *domain.Identity, error) {
	u, err := a.creds.CreateUser(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	return a.issue(ctx, u)
}

func (a *Accounts) Login(ctx context.Context, username, password string) (string, *domain.Identity, error) {
	u, err := a.creds.Verify(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	return a.issue(ctx, u)
}

func (a *Accounts) issue(ctx context.Context, u *domain.User) (string, *domain.Identity, error) {
	token, err := a.tokens.Issue(ctx, u.ID)
	if err != nil {
		return "", nil, err
	}
	return token, &domain.Identity{ID: u.ID, Username: u.Username}, nil
}
