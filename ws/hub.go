package ws

import (
	"context"
	"errors"
	"sync"
)

// ErrHubClosed is returned by Register once the hub has shut down.
var ErrHubClosed = errors.New("hub closed")

// Hub tracks open sessions per user.
type Hub struct {
	mu       sync.RWMutex
	closed   bool
	sessions map[*Session]struct{}
	byUser   map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		byUser:   make(map[string]map[*Session]struct{}),
	}
}

// Run closes every registered session when ctx is done. Sessions
// registering afterwards are refused.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	all := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		all = append(all, s)
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// Register adds s. After shutdown s is closed and ErrHubClosed returned.
func (h *Hub) Register(s *Session) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Close()
		return ErrHubClosed
	}
	defer h.mu.Unlock()

	h.sessions[s] = struct{}{}
	if id := s.Identity(); id != nil {
		set, ok := h.byUser[id.ID]
		if !ok {
			set = make(map[*Session]struct{})
			h.byUser[id.ID] = set
		}
		set[s] = struct{}{}
	}
	return nil
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	if id := s.Identity(); id != nil {
		delete(h.byUser[id.ID], s)
		if len(h.byUser[id.ID]) == 0 {
			delete(h.byUser, id.ID)
		}
	}
}

// SessionsOf returns the open sessions bound to userID.
func (h *Hub) SessionsOf(userID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Session, 0, len(h.byUser[userID]))
	for s := range h.byUser[userID] {
		out = append(out, s)
	}
	return out
}

// Count is the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
