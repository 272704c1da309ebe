// Package memory is a map-backed store.Store used in development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu      sync.RWMutex
	users   map[string]*domain.User // by id
	byName  map[string]string       // username -> id
	tokens  map[string]*domain.AuthToken
	folders map[string]*domain.Folder
	roots   map[string]string // userID -> root folder id
	notes   map[string]*domain.Note // by folder id
	logs    []domain.LogEntry
}

func New() *Store {
	return &Store{
		users:   make(map[string]*domain.User),
		byName:  make(map[string]string),
		tokens:  make(map[string]*domain.AuthToken),
		folders: make(map[string]*domain.Folder),
		roots:   make(map[string]string),
		notes:   make(map[string]*domain.Note),
	}
}

func (s *Store) Close() {}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[u.Username]; ok {
		return domain.ErrUsernameTaken
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byName[u.Username] = u.ID
	return nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CreateToken(ctx context.Context, t *domain.AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.tokens[t.Token] = &cp
	return nil
}

func (s *Store) Token(ctx context.Context, token string) (*domain.AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) EnsureRoot(ctx context.Context, candidate *domain.Folder) (*domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.roots[candidate.UserID]; ok {
		cp := *s.folders[id]
		return &cp, nil
	}
	cp := *candidate
	s.folders[cp.ID] = &cp
	s.roots[cp.UserID] = cp.ID
	out := cp
	return &out, nil
}

func (s *Store) InsertFolder(ctx context.Context, f *domain.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *f
	s.folders[f.ID] = &cp
	return nil
}

// folder must be called with s.mu held.
func (s *Store) folder(userID, folderID string) (*domain.Folder, bool) {
	f, ok := s.folders[folderID]
	if !ok || f.UserID != userID {
		return nil, false
	}
	return f, true
}

func (s *Store) Folder(ctx context.Context, userID, folderID string) (*domain.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.folder(userID, folderID)
	if !ok || f.IsDeleted {
		return nil, domain.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Store) VisibleFolders(ctx context.Context, userID string) ([]domain.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Folder
	for _, f := range s.folders {
		if f.UserID == userID && !f.IsDeleted {
			out = append(out, *f)
		}
	}
	// map order is random; keep listings reproducible
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SoftDeleteFolder(ctx context.Context, userID, folderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folder(userID, folderID)
	if !ok {
		return domain.ErrNotFound
	}
	if f.IsDeleted {
		return nil
	}
	f.IsDeleted = true
	f.DeletedAt = &at
	return nil
}

func (s *Store) RenameFolder(ctx context.Context, userID, folderID, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folder(userID, folderID)
	if !ok || f.IsDeleted {
		return domain.ErrNotFound
	}
	f.Name = name
	f.UpdatedAt = at
	return nil
}

func (s *Store) TouchFolder(ctx context.Context, userID, folderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folder(userID, folderID)
	if !ok || f.IsDeleted {
		return domain.ErrNotFound
	}
	f.UpdatedAt = at
	return nil
}

func (s *Store) InsertNote(ctx context.Context, n *domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	s.notes[n.FolderID] = &cp
	return nil
}

func (s *Store) NoteByFolder(ctx context.Context, userID, folderID string) (*domain.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notes[folderID]
	if !ok || n.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *Store) UpdateNoteContent(ctx context.Context, userID, folderID, content string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[folderID]
	if !ok || n.UserID != userID {
		return domain.ErrNotFound
	}
	n.Content = content
	n.UpdatedAt = at
	return nil
}

func (s *Store) TouchNote(ctx context.Context, userID, folderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[folderID]
	if !ok || n.UserID != userID {
		return domain.ErrNotFound
	}
	n.UpdatedAt = at
	return nil
}

func (s *Store) InsertLog(ctx context.Context, e *domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, *e)
	return nil
}

func (s *Store) Logs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LogEntry, 0, min(limit, len(s.logs)))
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.logs[i])
	}
	return out, nil
}
