package ws

import (
	"encoding/json"

	"github.com/ViniZap4/lumi-sync/domain"
)

// Server to client event names.
const (
	EventFolders  = "folders"
	EventUserInfo = "userInfo"
	EventError    = "error"
)

// Request is an inbound operation. Ack is set when the client supplied a
// completion callback; the reply carries the same number.
type Request struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
	Ack   *int64            `json:"ack,omitempty"`
}

// Message is an outbound frame: either a named event or a reply to Ack.
type Message struct {
	Event string `json:"event,omitempty"`
	Ack   *int64 `json:"ack,omitempty"`
	Data  any    `json:"data"`
}

// Args are the positional arguments of a Request.
type Args []json.RawMessage

// String decodes the required string argument at i.
func (a Args) String(i int) (string, error) {
	if i >= len(a) {
		return "", domain.InvalidArgument("missing argument %d", i)
	}
	var s string
	if err := json.Unmarshal(a[i], &s); err != nil {
		return "", domain.InvalidArgument("argument %d: expected string", i)
	}
	return s, nil
}

// OptionalString is like String but treats a missing or null argument as "".
func (a Args) OptionalString(i int) (string, error) {
	if i >= len(a) || string(a[i]) == "null" {
		return "", nil
	}
	return a.String(i)
}
