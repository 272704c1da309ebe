// Package store defines the persistence contracts used by the sync server.
// Implementations return domain.ErrNotFound for missing rows and wrap
// connectivity failures with domain.StoreUnavailable.
package store

import (
	"context"
	"time"

	"github.com/ViniZap4/lumi-sync/domain"
)

type Users interface {
	// CreateUser inserts u. Returns domain.ErrUsernameTaken on a duplicate name.
	CreateUser(ctx context.Context, u *domain.User) error
	UserByUsername(ctx context.Context, username string) (*domain.User, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)
}

type Tokens interface {
	CreateToken(ctx context.Context, t *domain.AuthToken) error
	// Token returns the stored record even if it has expired; callers must
	// check ExpiresAt themselves.
	Token(ctx context.Context, token string) (*domain.AuthToken, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type Folders interface {
	// EnsureRoot returns the user's root folder, inserting candidate if the
	// user has none. At most one root exists per user.
	EnsureRoot(ctx context.Context, candidate *domain.Folder) (*domain.Folder, error)
	InsertFolder(ctx context.Context, f *domain.Folder) error
	// Folder returns a non-deleted folder owned by userID.
	Folder(ctx context.Context, userID, folderID string) (*domain.Folder, error)
	VisibleFolders(ctx context.Context, userID string) ([]domain.Folder, error)
	// SoftDeleteFolder tombstones the folder. Deleting a tombstone is a no-op.
	SoftDeleteFolder(ctx context.Context, userID, folderID string, at time.Time) error
	RenameFolder(ctx context.Context, userID, folderID, name string, at time.Time) error
	TouchFolder(ctx context.Context, userID, folderID string, at time.Time) error
}

type Notes interface {
	InsertNote(ctx context.Context, n *domain.Note) error
	NoteByFolder(ctx context.Context, userID, folderID string) (*domain.Note, error)
	UpdateNoteContent(ctx context.Context, userID, folderID, content string, at time.Time) error
	TouchNote(ctx context.Context, userID, folderID string, at time.Time) error
}

type Logs interface {
	InsertLog(ctx context.Context, e *domain.LogEntry) error
	// Logs returns up to limit entries, newest first.
	Logs(ctx context.Context, limit int) ([]domain.LogEntry, error)
}

// Store is the full persistence surface of the server.
type Store interface {
	Users
	Tokens
	Folders
	Notes
	Logs
	Close()
}
