package domain

import "time"

// RootName is the name given to a user's lazily created root folder.
const RootName = "root"

// Folder is a node of a user's tree. A folder with IsFile set is a note
// container and is paired 1:1 with a Note.
type Folder struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	IsFile    bool       `json:"isFile"`
	ParentID  *string    `json:"parentId"`
	UserID    string     `json:"userId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	IsDeleted bool       `json:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// IsRoot reports whether f is the user's root folder.
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}

type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	UserID    string    `json:"userId"`
	FolderID  string    `json:"folderId"`
}

// NoteView is the Folder+Note pair as returned by getNote.
type NoteView struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
	FolderID  string    `json:"folderId"`
}
