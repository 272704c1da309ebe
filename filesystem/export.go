package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/domain"
)

// NoteSource fetches note content by container folder id. A missing note
// is reported with an error matching domain.ErrNotFound.
type NoteSource interface {
	GetNote(ctx context.Context, folderID string) (*domain.NoteView, error)
}

// Stats summarises one export run.
type Stats struct {
	Dirs      int
	Written   int
	Unchanged int
	Moved     int
	Skipped   int
}

// Exporter writes a tree under Dir: directories become directories, note
// containers become <title>.md files. Re-exporting into the same directory
// rewrites only notes whose updated_at changed and moves renamed notes.
type Exporter struct {
	Dir   string
	Notes NoteSource
	Log   zerolog.Logger
}

func (e *Exporter) Export(ctx context.Context, folders []domain.Folder) (Stats, error) {
	var st Stats

	root, ok := findRoot(folders)
	if !ok {
		return st, errors.New("tree has no root folder")
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return st, err
	}
	existing, err := indexNotes(e.Dir)
	if err != nil {
		return st, fmt.Errorf("indexing %s: %w", e.Dir, err)
	}

	children := make(map[string][]domain.Folder)
	for _, f := range folders {
		if f.ParentID != nil {
			children[*f.ParentID] = append(children[*f.ParentID], f)
		}
	}

	var walk func(parentID, dir string) error
	walk = func(parentID, dir string) error {
		used := make(map[string]bool)
		for _, f := range children[parentID] {
			if err := ctx.Err(); err != nil {
				return err
			}
			if f.IsFile {
				if err := e.exportNote(ctx, f, dir, used, existing, &st); err != nil {
					return err
				}
				continue
			}

			sub := filepath.Join(dir, unique(fileName(f.Name), "", f.ID, used))
			if err := os.MkdirAll(sub, 0o755); err != nil {
				return err
			}
			st.Dirs++
			if err := walk(f.ID, sub); err != nil {
				return err
			}
		}
		return nil
	}

	err = walk(root.ID, e.Dir)
	return st, err
}

func (e *Exporter) exportNote(ctx context.Context, f domain.Folder, dir string, used map[string]bool, existing map[string]string, st *Stats) error {
	view, err := e.Notes.GetNote(ctx, f.ID)
	if errors.Is(err, domain.ErrNotFound) {
		e.Log.Warn().Str("folder_id", f.ID).Msg("note container without a note, skipping")
		st.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching note %s: %w", f.ID, err)
	}

	path := filepath.Join(dir, unique(fileName(view.Title), ".md", f.ID, used))

	if old, ok := existing[f.ID]; ok {
		if old != path {
			if err := os.Rename(old, path); err != nil {
				return err
			}
			st.Moved++
		} else if doc, err := ReadNote(path); err == nil && doc.UpdatedAt.Equal(view.UpdatedAt) && doc.Title == view.Title {
			st.Unchanged++
			return nil
		}
	}

	doc := &Document{
		FrontMatter: FrontMatter{ID: f.ID, Title: view.Title, CreatedAt: f.CreatedAt, UpdatedAt: view.UpdatedAt},
		Content:     view.Content,
	}
	if err := WriteNote(path, doc); err != nil {
		return err
	}
	st.Written++
	return nil
}

func findRoot(folders []domain.Folder) (domain.Folder, bool) {
	for _, f := range folders {
		if f.IsRoot() {
			return f, true
		}
	}
	return domain.Folder{}, false
}

// unique returns name+ext, or name with a short id suffix when a sibling
// already took it.
func unique(name, ext, id string, used map[string]bool) string {
	candidate := name + ext
	if used[candidate] {
		suffix := id
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		candidate = fmt.Sprintf("%s-%s%s", name, suffix, ext)
	}
	used[candidate] = true
	return candidate
}
