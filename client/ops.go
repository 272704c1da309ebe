package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/ws"
)

// Event names pushed by the server.
const (
	EventFolders  = ws.EventFolders
	EventUserInfo = ws.EventUserInfo
	EventError    = ws.EventError
)

// Tree is one folders push: every visible folder of the user, most
// recently updated first.
type Tree []domain.Folder

func DecodeTree(data json.RawMessage) (Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding folders: %w", err)
	}
	return t, nil
}

// Root returns the folder without a parent.
func (t Tree) Root() (domain.Folder, bool) {
	for _, f := range t {
		if f.IsRoot() {
			return f, true
		}
	}
	return domain.Folder{}, false
}

// Children returns the direct children of parentID in listing order.
func (t Tree) Children(parentID string) []domain.Folder {
	var out []domain.Folder
	for _, f := range t {
		if f.ParentID != nil && *f.ParentID == parentID {
			out = append(out, f)
		}
	}
	return out
}

// IsNoteNotExist reports whether err is the server's noteNotExist reply.
func IsNoteNotExist(err error) bool {
	var rerr *RemoteError
	return errors.As(err, &rerr) && rerr.ErrorCode == domain.CodeNoteNotExist
}

func decodeToken(data json.RawMessage) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", errors.New("reply carries no token")
	}
	return body.Token, nil
}

// Register creates an account and returns its token. The current session
// stays anonymous; dial again with the token to act as the new user.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	data, err := c.Call(ctx, "register", username, password)
	if err != nil {
		return "", err
	}
	return decodeToken(data)
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	data, err := c.Call(ctx, "login", username, password)
	if err != nil {
		return "", err
	}
	return decodeToken(data)
}

func (c *Client) GetNote(ctx context.Context, folderID string) (*domain.NoteView, error) {
	data, err := c.Call(ctx, "getNote", folderID)
	if err != nil {
		return nil, err
	}
	var body struct {
		Note *domain.NoteView `json:"note"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decoding note: %w", err)
	}
	if body.Note == nil {
		return nil, &RemoteError{Name: "NotFound", ErrorCode: domain.CodeNoteNotExist, FolderID: folderID}
	}
	return body.Note, nil
}

// AddFolder creates a directory under parentID, or under the root when
// parentID is empty.
func (c *Client) AddFolder(ctx context.Context, name, parentID string) error {
	_, err := c.Call(ctx, "addFolder", name, optional(parentID))
	return err
}

// AddNote creates a note and its container folder.
func (c *Client) AddNote(ctx context.Context, name, parentID, content string) (*domain.Note, *domain.Folder, error) {
	data, err := c.Call(ctx, "addNote", name, optional(parentID), content)
	if err != nil {
		return nil, nil, err
	}
	var body struct {
		Note   *domain.Note   `json:"note"`
		Folder *domain.Folder `json:"folder"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, nil, fmt.Errorf("decoding created note: %w", err)
	}
	return body.Note, body.Folder, nil
}

func (c *Client) DeleteFolder(ctx context.Context, folderID string) error {
	_, err := c.Call(ctx, "deleteFolder", folderID)
	return err
}

func (c *Client) UpdateNote(ctx context.Context, folderID, content string) error {
	_, err := c.Call(ctx, "updateNote", folderID, content)
	return err
}

func (c *Client) UpdateNoteTitle(ctx context.Context, folderID, title string) error {
	_, err := c.Call(ctx, "updateNoteTitle", folderID, title)
	return err
}

func optional(id string) any {
	if id == "" {
		return nil
	}
	return id
}
