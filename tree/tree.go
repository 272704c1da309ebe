// Package tree owns a user's folder/note hierarchy and enforces its
// invariants: one lazily created root per user, tombstone deletes, and
// note containers paired 1:1 with a note.
//
// Folder and note rows are written separately. A failure between the two
// leaves a note-container folder without a note; such orphans stay visible
// in listings and read as noteNotExist until the client deletes them.
package tree

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/store"
)

type Store interface {
	store.Folders
	store.Notes
}

type Service struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

func NewService(s Store, log zerolog.Logger) *Service {
	return &Service{
		store: s,
		now:   time.Now,
		log:   log.With().Str("component", "tree").Logger(),
	}
}

// GetRoot returns the user's root folder, creating it on first access.
func (s *Service) GetRoot(ctx context.Context, userID string) (*domain.Folder, error) {
	now := s.now()
	return s.store.EnsureRoot(ctx, &domain.Folder{
		ID:        uuid.NewString(),
		Name:      domain.RootName,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// parent resolves parentID to a live folder of the user, defaulting to the root.
func (s *Service) parent(ctx context.Context, userID, parentID string) (*domain.Folder, error) {
	if parentID == "" {
		return s.GetRoot(ctx, userID)
	}
	p, err := s.store.Folder(ctx, userID, parentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.FolderNotExist(parentID)
	}
	return p, err
}

// Create inserts a folder under parentID (or the root when empty). Names
// need not be unique within a parent.
func (s *Service) Create(ctx context.Context, userID, name, parentID string, isFile bool) (*domain.Folder, error) {
	p, err := s.parent(ctx, userID, parentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	f := &domain.Folder{
		ID:        uuid.NewString(),
		Name:      name,
		IsFile:    isFile,
		ParentID:  &p.ID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertFolder(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// ListVisible returns the user's non-deleted folders, or just the root if
// there are none.
func (s *Service) ListVisible(ctx context.Context, userID string) ([]domain.Folder, error) {
	folders, err := s.store.VisibleFolders(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(folders) > 0 {
		return folders, nil
	}
	root, err := s.GetRoot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return []domain.Folder{*root}, nil
}

// Snapshot is the listing pushed to clients: ListVisible, repaired so a
// user never sees a bare root, ordered by UpdatedAt descending.
//
// The repair writes: when only the root is visible, an empty note is
// created under it. Two sessions racing here may both create one.
func (s *Service) Snapshot(ctx context.Context, userID string) ([]domain.Folder, error) {
	folders, err := s.ListVisible(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(folders) == 1 && folders[0].IsRoot() {
		_, f, err := s.CreateNotePair(ctx, userID, folders[0].ID, "", "")
		if err != nil {
			return nil, err
		}
		s.log.Debug().Str("user_id", userID).Str("folder_id", f.ID).Msg("seeded empty note")
		folders = append(folders, *f)
	}

	slices.SortStableFunc(folders, func(a, b domain.Folder) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return folders, nil
}

// SoftDelete tombstones a folder of the user. Deleting an already deleted
// folder succeeds. The root cannot be deleted.
func (s *Service) SoftDelete(ctx context.Context, userID, folderID string) error {
	f, err := s.store.Folder(ctx, userID, folderID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// either a tombstone (no-op) or not the user's folder
		err = s.store.SoftDeleteFolder(ctx, userID, folderID, s.now())
		if errors.Is(err, domain.ErrNotFound) {
			return domain.FolderNotExist(folderID)
		}
		return err
	case err != nil:
		return err
	case f.IsRoot():
		return domain.RootProtected(folderID)
	}
	return s.store.SoftDeleteFolder(ctx, userID, folderID, s.now())
}

// CreateNotePair creates a note container folder and its note.
func (s *Service) CreateNotePair(ctx context.Context, userID, parentID, name, content string) (*domain.Note, *domain.Folder, error) {
	f, err := s.Create(ctx, userID, name, parentID, true)
	if err != nil {
		return nil, nil, err
	}

	n := &domain.Note{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
		UserID:    userID,
		FolderID:  f.ID,
	}
	if err := s.store.InsertNote(ctx, n); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("folder_id", f.ID).Msg("note insert failed after folder insert")
		return nil, nil, err
	}
	return n, f, nil
}

// GetNote reads the folder+note pair. A missing or deleted half yields a
// noteNotExist error.
func (s *Service) GetNote(ctx context.Context, userID, folderID string) (*domain.NoteView, error) {
	f, err := s.store.Folder(ctx, userID, folderID)
	if err != nil {
		return nil, notExist(err, folderID)
	}
	n, err := s.store.NoteByFolder(ctx, userID, folderID)
	if err != nil {
		return nil, notExist(err, folderID)
	}
	return &domain.NoteView{
		Title:     f.Name,
		Content:   n.Content,
		UpdatedAt: n.UpdatedAt,
		FolderID:  f.ID,
	}, nil
}

// UpdateContent replaces the note's content and stamps both rows.
func (s *Service) UpdateContent(ctx context.Context, userID, folderID, content string) error {
	if _, err := s.store.Folder(ctx, userID, folderID); err != nil {
		return notExist(err, folderID)
	}
	now := s.now()
	if err := s.store.UpdateNoteContent(ctx, userID, folderID, content, now); err != nil {
		return notExist(err, folderID)
	}
	return notExist(s.store.TouchFolder(ctx, userID, folderID, now), folderID)
}

// UpdateTitle renames the note's folder and stamps both rows.
func (s *Service) UpdateTitle(ctx context.Context, userID, folderID, title string) error {
	if _, err := s.store.NoteByFolder(ctx, userID, folderID); err != nil {
		return notExist(err, folderID)
	}
	now := s.now()
	if err := s.store.RenameFolder(ctx, userID, folderID, title, now); err != nil {
		return notExist(err, folderID)
	}
	return notExist(s.store.TouchNote(ctx, userID, folderID, now), folderID)
}

func notExist(err error, folderID string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NoteNotExist(folderID)
	}
	return err
}

