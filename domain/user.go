package domain

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Identity is what a resolved token binds to a session.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// AuthToken is an opaque bearer token. It is never resolvable once
// ExpiresAt has passed, whether or not it has been swept yet.
type AuthToken struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether t is past its expiry at the given instant.
func (t *AuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// LogEntry is a structured error payload kept for offline inspection.
type LogEntry struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}
