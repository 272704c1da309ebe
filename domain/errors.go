package domain

import (
	"errors"
	"fmt"
)

// Sentinels. Match with errors.Is; every *Error unwraps to one of them.
var (
	ErrAuthentication   = errors.New("authentication error")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrRootProtected    = errors.New("root folder cannot be deleted")
)

// Error codes carried in the errorCode field of serialized errors.
const (
	CodeUnauthorized   = 401
	CodeNoteNotExist   = "noteNotExist"
	CodeFolderNotExist = "folderNotExist"
)

// Error is a classified failure. Name, Code and Fields end up in the
// structured payload the client receives.
type Error struct {
	Name    string
	Code    any
	Message string
	Fields  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorFields returns the custom fields attached to e, errorCode included.
func (e *Error) ErrorFields() map[string]any {
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	if e.Code != nil {
		out["errorCode"] = e.Code
	}
	return out
}

func Unauthorized() error {
	return &Error{Name: "Unauthorized", Code: CodeUnauthorized, Message: "Unauth user", Err: ErrUnauthorized}
}

func AuthenticationFailed(cause error) error {
	msg := "Authentication error"
	if cause != nil {
		msg = fmt.Sprintf("Authentication error: %v", cause)
	}
	return &Error{Name: "AuthenticationError", Message: msg, Err: ErrAuthentication}
}

func NoteNotExist(folderID string) error {
	return &Error{
		Name:    "NotFound",
		Code:    CodeNoteNotExist,
		Message: fmt.Sprintf("note for folder %s does not exist", folderID),
		Fields:  map[string]any{"folderId": folderID},
		Err:     ErrNotFound,
	}
}

func FolderNotExist(folderID string) error {
	return &Error{
		Name:    "NotFound",
		Code:    CodeFolderNotExist,
		Message: fmt.Sprintf("folder %s does not exist", folderID),
		Fields:  map[string]any{"folderId": folderID},
		Err:     ErrNotFound,
	}
}

func StoreUnavailable(cause error) error {
	return &Error{Name: "StoreUnavailable", Message: fmt.Sprintf("store unavailable: %v", cause), Err: errors.Join(ErrStoreUnavailable, cause)}
}

func InvalidArgument(format string, args ...any) error {
	return &Error{Name: "InvalidArgument", Message: fmt.Sprintf(format, args...), Err: ErrInvalidArgument}
}

func RootProtected(folderID string) error {
	return &Error{
		Name:    "InvalidOperation",
		Message: "root folder cannot be deleted",
		Fields:  map[string]any{"folderId": folderID},
		Err:     ErrRootProtected,
	}
}
