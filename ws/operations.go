package ws

import (
	"context"
	"errors"

	"github.com/ViniZap4/lumi-sync/domain"
)

// Accounts performs register and login.
type Accounts interface {
	Register(ctx context.Context, username, password string) (string, *domain.Identity, error)
	Login(ctx context.Context, username, password string) (string, *domain.Identity, error)
}

// Tree is the folder/note store as seen by the handlers.
type Tree interface {
	Create(ctx context.Context, userID, name, parentID string, isFile bool) (*domain.Folder, error)
	SoftDelete(ctx context.Context, userID, folderID string) error
	CreateNotePair(ctx context.Context, userID, parentID, name, content string) (*domain.Note, *domain.Folder, error)
	GetNote(ctx context.Context, userID, folderID string) (*domain.NoteView, error)
	UpdateContent(ctx context.Context, userID, folderID, content string) error
	UpdateTitle(ctx context.Context, userID, folderID, title string) error
}

// Handlers implements the client operations.
type Handlers struct {
	accounts    Accounts
	tree        Tree
	broadcaster *Broadcaster
}

func NewHandlers(accounts Accounts, tree Tree, broadcaster *Broadcaster) *Handlers {
	return &Handlers{accounts: accounts, tree: tree, broadcaster: broadcaster}
}

// Operations lists the unauthenticated and authenticated operation tables.
func (h *Handlers) Operations() []Operation {
	return []Operation{
		{Name: "login", Handle: h.login},
		{Name: "register", Handle: h.register},

		{Name: "getNote", Authenticated: true, Handle: h.getNote},
		{Name: "addFolder", Authenticated: true, Handle: h.addFolder},
		{Name: "deleteFolder", Authenticated: true, Handle: h.deleteFolder},
		{Name: "updateNote", Authenticated: true, Handle: h.updateNote},
		{Name: "updateNoteTitle", Authenticated: true, Handle: h.updateNoteTitle},
		{Name: "addNote", Authenticated: true, Handle: h.addNote},
	}
}

func credentials(a Args) (string, string, error) {
	username, err := a.String(0)
	if err != nil {
		return "", "", err
	}
	password, err := a.String(1)
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

// login and register do not rebind the session: the client reconnects
// with the returned token to use authenticated operations.
func (h *Handlers) login(ctx context.Context, c *Call) (any, error) {
	username, password, err := credentials(c.Args)
	if err != nil {
		return nil, err
	}
	token, id, err := h.accounts.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	h.pushQuietly(ctx, c.Session, id.ID)
	return map[string]any{"token": token}, nil
}

func (h *Handlers) register(ctx context.Context, c *Call) (any, error) {
	username, password, err := credentials(c.Args)
	if err != nil {
		return nil, err
	}
	token, id, err := h.accounts.Register(ctx, username, password)
	if err != nil {
		return nil, err
	}
	h.pushQuietly(ctx, c.Session, id.ID)
	return map[string]any{"token": token}, nil
}

func (h *Handlers) pushQuietly(ctx context.Context, s *Session, userID string) {
	if err := h.broadcaster.Push(ctx, s, userID); err != nil {
		s.log.Error().Err(err).Msg("tree push after authentication failed")
	}
}

func (h *Handlers) getNote(ctx context.Context, c *Call) (any, error) {
	folderID, err := c.Args.String(0)
	if err != nil {
		return nil, err
	}

	view, err := h.tree.GetNote(ctx, c.Identity.ID, folderID)
	if errors.Is(err, domain.ErrNotFound) {
		return map[string]any{
			"error": map[string]any{"errorCode": domain.CodeNoteNotExist, "folderId": folderID},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"note": view}, nil
}

func (h *Handlers) addFolder(ctx context.Context, c *Call) (any, error) {
	name, err := c.Args.String(0)
	if err != nil {
		return nil, err
	}
	parentID, err := c.Args.OptionalString(1)
	if err != nil {
		return nil, err
	}

	if _, err := h.tree.Create(ctx, c.Identity.ID, name, parentID, false); err != nil {
		return nil, err
	}
	return nil, h.broadcaster.Push(ctx, c.Session, c.Identity.ID)
}

func (h *Handlers) deleteFolder(ctx context.Context, c *Call) (any, error) {
	folderID, err := c.Args.String(0)
	if err != nil {
		return nil, err
	}

	if err := h.tree.SoftDelete(ctx, c.Identity.ID, folderID); err != nil {
		return nil, err
	}
	if err := h.broadcaster.Push(ctx, c.Session, c.Identity.ID); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (h *Handlers) updateNote(ctx context.Context, c *Call) (any, error) {
	folderID, err := c.Args.String(0)
	if err != nil {
		return nil, err
	}
	content, err := c.Args.String(1)
	if err != nil {
		return nil, err
	}

	if err := h.tree.UpdateContent(ctx, c.Identity.ID, folderID, content); err != nil {
		return nil, err
	}
	return nil, h.broadcaster.Push(ctx, c.Session, c.Identity.ID)
}

func (h *Handlers) updateNoteTitle(ctx context.Context, c *Call) (any, error) {
	folderID, err := c.Args.String(0)
	if err != nil {
		return nil, err
	}
	title, err := c.Args.String(1)
	if err != nil {
		return nil, err
	}

	if err := h.tree.UpdateTitle(ctx, c.Identity.ID, folderID, title); err != nil {
		return nil, err
	}
	return nil, h.broadcaster.Push(ctx, c.Session, c.Identity.ID)
}

func (h *Handlers) addNote(ctx context.Context, c *Call) (any, error) {
	name, err := c.Args.String(0)
	if err != nil {
		return nil, err
	}
	parentID, err := c.Args.OptionalString(1)
	if err != nil {
		return nil, err
	}
	content, err := c.Args.OptionalString(2)
	if err != nil {
		return nil, err
	}

	note, folder, err := h.tree.CreateNotePair(ctx, c.Identity.ID, parentID, name, content)
	if err != nil {
		return nil, err
	}
	if err := h.broadcaster.Push(ctx, c.Session, c.Identity.ID); err != nil {
		return nil, err
	}
	return map[string]any{"note": note, "folder": folder}, nil
}
