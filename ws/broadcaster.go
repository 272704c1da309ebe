package ws

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/domain"
)

// Snapshotter produces the full ordered listing pushed to clients.
type Snapshotter interface {
	Snapshot(ctx context.Context, userID string) ([]domain.Folder, error)
}

// Broadcaster re-pushes a user's whole tree after every change. Pushes are
// full replacements, never deltas.
type Broadcaster struct {
	tree   Snapshotter
	hub    *Hub
	fanOut bool
	log    zerolog.Logger
}

// NewBroadcaster pushes to the originating session only, or with fanOut to
// every open session of the same user as well.
func NewBroadcaster(tree Snapshotter, hub *Hub, fanOut bool, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		tree:   tree,
		hub:    hub,
		fanOut: fanOut,
		log:    log.With().Str("component", "broadcaster").Logger(),
	}
}

// Push sends userID's current tree to s as a folders event. A closed
// session is not an error.
func (b *Broadcaster) Push(ctx context.Context, s *Session, userID string) error {
	folders, err := b.tree.Snapshot(ctx, userID)
	if err != nil {
		return err
	}

	for _, t := range b.targets(s, userID) {
		if err := t.Emit(EventFolders, folders); err != nil && !errors.Is(err, ErrSessionClosed) {
			b.log.Warn().Err(err).Str("session_id", t.ID()).Msg("push failed")
		}
	}
	return nil
}

func (b *Broadcaster) targets(s *Session, userID string) []*Session {
	if !b.fanOut || b.hub == nil {
		return []*Session{s}
	}
	out := []*Session{s}
	for _, other := range b.hub.SessionsOf(userID) {
		if other != s {
			out = append(out, other)
		}
	}
	return out
}
