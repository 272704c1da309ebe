// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ store.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, applies pending migrations and returns the store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err)
	}
	return &Store{pool: pool}, nil
}

// Migrate runs the embedded migrations up to the latest version.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// migrateURL rewrites a libpq style URL to the scheme the pgx/v5 migrate
// driver registers.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (s *Store) Close() {
	s.pool.Close()
}

// classify maps driver errors onto the domain taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.InvalidTextRepresentation:
			return domain.ErrNotFound
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			return domain.StoreUnavailable(err)
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return domain.StoreUnavailable(err)
	}
	return fmt.Errorf("error performing sql request: %w", err)
}

// parseID rejects ids that cannot name a row, so malformed client input
// reads as "not found" rather than a driver error.
func parseID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, domain.ErrNotFound
	}
	return u, nil
}

func parseIDs(ids ...string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		u, err := parseID(id)
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}

// execOne runs an UPDATE expected to hit exactly one row.
func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	id, err := parseID(u.ID)
	if err != nil {
		return domain.InvalidArgument("invalid user id %q", u.ID)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		id, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrUsernameTaken
		}
		return classify(err)
	}
	return nil
}

const userColumns = `id::text, username, password_hash, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, classify(err)
	}
	return u, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (s *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uid))
}

func (s *Store) CreateToken(ctx context.Context, t *domain.AuthToken) error {
	uid, err := parseID(t.UserID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO auth_tokens (token, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		t.Token, uid, t.CreatedAt, t.ExpiresAt)
	return classify(err)
}

func (s *Store) Token(ctx context.Context, token string) (*domain.AuthToken, error) {
	t := &domain.AuthToken{}
	err := s.pool.QueryRow(ctx,
		`SELECT token, user_id::text, created_at, expires_at FROM auth_tokens WHERE token = $1`, token).
		Scan(&t.Token, &t.UserID, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

const folderColumns = `id::text, name, is_file, parent_id::text, user_id::text, created_at, updated_at, is_deleted, deleted_at`

func scanFolder(row pgx.Row) (*domain.Folder, error) {
	f := &domain.Folder{}
	err := row.Scan(&f.ID, &f.Name, &f.IsFile, &f.ParentID, &f.UserID,
		&f.CreatedAt, &f.UpdatedAt, &f.IsDeleted, &f.DeletedAt)
	if err != nil {
		return nil, classify(err)
	}
	return f, nil
}

func (s *Store) EnsureRoot(ctx context.Context, candidate *domain.Folder) (*domain.Folder, error) {
	ids, err := parseIDs(candidate.ID, candidate.UserID)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO folders (id, name, is_file, parent_id, user_id, created_at, updated_at)
		 VALUES ($1, $2, FALSE, NULL, $3, $4, $5)
		 ON CONFLICT (user_id) WHERE parent_id IS NULL DO NOTHING`,
		ids[0], candidate.Name, ids[1], candidate.CreatedAt, candidate.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}

	return scanFolder(s.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND parent_id IS NULL`, ids[1]))
}

func (s *Store) InsertFolder(ctx context.Context, f *domain.Folder) error {
	ids, err := parseIDs(f.ID, f.UserID)
	if err != nil {
		return err
	}
	var parent *uuid.UUID
	if f.ParentID != nil {
		p, err := parseID(*f.ParentID)
		if err != nil {
			return err
		}
		parent = &p
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO folders (id, name, is_file, parent_id, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ids[0], f.Name, f.IsFile, parent, ids[1], f.CreatedAt, f.UpdatedAt)
	return classify(err)
}

func (s *Store) Folder(ctx context.Context, userID, folderID string) (*domain.Folder, error) {
	ids, err := parseIDs(userID, folderID)
	if err != nil {
		return nil, err
	}
	return scanFolder(s.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND id = $2 AND NOT is_deleted`,
		ids[0], ids[1]))
}

func (s *Store) VisibleFolders(ctx context.Context, userID string) ([]domain.Folder, error) {
	uid, err := parseID(userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND NOT is_deleted ORDER BY created_at, id`, uid)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, classify(rows.Err())
}

func (s *Store) SoftDeleteFolder(ctx context.Context, userID, folderID string, at time.Time) error {
	ids, err := parseIDs(userID, folderID)
	if err != nil {
		return err
	}

	// deleted_at keeps the first tombstone time
	return s.execOne(ctx,
		`UPDATE folders SET is_deleted = TRUE, deleted_at = COALESCE(deleted_at, $3)
		 WHERE user_id = $1 AND id = $2`,
		ids[0], ids[1], at)
}

func (s *Store) RenameFolder(ctx context.Context, userID, folderID, name string, at time.Time) error {
	ids, err := parseIDs(userID, folderID)
	if err != nil {
		return err
	}
	return s.execOne(ctx,
		`UPDATE folders SET name = $3, updated_at = $4 WHERE user_id = $1 AND id = $2 AND NOT is_deleted`,
		ids[0], ids[1], name, at)
}

func (s *Store) TouchFolder(ctx context.Context, userID, folderID string, at time.Time) error {
	ids, err := parseIDs(userID, folderID)
	if err != nil {
		return err
	}
	return s.execOne(ctx,
		`UPDATE folders SET updated_at = $3 WHERE user_id = $1 AND id = $2 AND NOT is_deleted`,
		ids[0], ids[1], at)
}

func (s *Store) InsertNote(ctx context.Context, n *domain.Note) error {
	ids, err := parseIDs(n.ID, n.UserID, n.FolderID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO notes (id, content, created_at, updated_at, user_id, folder_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ids[0], n.Content, n.CreatedAt, n.UpdatedAt, ids[1], ids[2])
	return classify(err)
}

func (s *Store) NoteByFolder(ctx context.Context, userID, folderID string) (*domain.Note, error) {
	ids, err := parseIDs(userID, folderID)
	if err != nil {
		return nil, err
	}

	n := &domain.Note{}
	err = s.pool.QueryRow(ctx,
		`SELECT id::text, content, created_at, updated_at, user_id::text, folder_id::text
		 FROM notes WHERE user_id = $1 AND folder_id = $2`, ids[0], ids[1]).
		Scan(&n.ID, &n.Content, &n.CreatedAt, &n.UpdatedAt, &n.UserID, &n.FolderID)
	if err != nil {
		return nil, classify(err)
	}
	return n, nil
}

func (s *Store) UpdateNoteContent(ctx context.Context, userID, folderID, content string, at time.Time) error {
	ids, err := parseIDs(userID, folderID)
	if err != nil {
		return err
	}
	return s.execOne(ctx,
		`UPDATE notes SET content = $3, updated_at = $4 WHERE user_id = $1 AND folder_id = $2`,
		ids[0], ids[1], content, at)
}

func (s *Store) TouchNote(ctx context.Context, userID, folderID string, at time.Time) error {
	ids, err := parseIDs(userID, folderID)
	if err != nil {
		return err
	}
	return s.execOne(ctx,
		`UPDATE notes SET updated_at = $3 WHERE user_id = $1 AND folder_id = $2`,
		ids[0], ids[1], at)
}

func (s *Store) InsertLog(ctx context.Context, e *domain.LogEntry) error {
	id, err := parseID(e.ID)
	if err != nil {
		return domain.InvalidArgument("invalid log id %q", e.ID)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO system_logs (id, data, timestamp) VALUES ($1, $2, $3)`, id, e.Data, e.Timestamp)
	return classify(err)
}

func (s *Store) Logs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, data, timestamp FROM system_logs ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.Data, &e.Timestamp); err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}
