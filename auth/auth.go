package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ViniZap4/lumi-sync/domain"
)

// IdentityKey is the fiber Locals key holding the resolved *domain.Identity.
const IdentityKey = "identity"

// TokenKey is the fiber Locals key holding the raw bearer token.
const TokenKey = "token"

// Authenticator resolves the optional token presented when a connection opens.
type Authenticator struct {
	tokens *TokenService
}

func NewAuthenticator(tokens *TokenService) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Authenticate returns nil for an anonymous (empty) token, the bound
// identity for a valid one, and an AuthenticationError otherwise. A store
// failure during the lookup also rejects the connection.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, nil
	}
	id, err := a.tokens.Resolve(ctx, token)
	if err != nil {
		return nil, domain.AuthenticationFailed(err)
	}
	if id == nil {
		return nil, domain.AuthenticationFailed(errors.New("invalid or expired token"))
	}
	return id, nil
}

// TokenFromRequest reads the bearer token from the Authorization header,
// the X-Lumi-Token header, or the token query parameter, in that order.
// Browsers cannot set headers on websocket upgrades, hence the query form.
func TokenFromRequest(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if t := c.Get("X-Lumi-Token"); t != "" {
		return t
	}
	return c.Query("token")
}

// Handshake admits anonymous requests and requests with a resolvable token,
// storing the identity in Locals. A token that does not resolve is rejected
// with 401 before the handler runs.
func Handshake(a *Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := TokenFromRequest(c)
		id, err := a.Authenticate(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		if id != nil {
			c.Locals(IdentityKey, id)
			c.Locals(TokenKey, token)
		}
		return c.Next()
	}
}

// Middleware requires a resolvable token.
func Middleware(a *Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := TokenFromRequest(c)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}
		id, err := a.Authenticate(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}
		c.Locals(IdentityKey, id)
		c.Locals(TokenKey, token)
		return c.Next()
	}
}

// IdentityFrom returns the identity stored by Handshake or Middleware.
func IdentityFrom(c *fiber.Ctx) *domain.Identity {
	id, _ := c.Locals(IdentityKey).(*domain.Identity)
	return id
}
