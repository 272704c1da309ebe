package ws

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/domain"
)

// Gateway runs the lifetime of accepted connections.
type Gateway struct {
	hub         *Hub
	registry    *Registry
	broadcaster *Broadcaster
	queue       int
	log         zerolog.Logger
}

// NewGateway serves sessions whose requests run one at a time in arrival
// order; queue bounds how many may wait behind the running one.
func NewGateway(hub *Hub, registry *Registry, broadcaster *Broadcaster, queue int, log zerolog.Logger) *Gateway {
	return &Gateway{
		hub:         hub,
		registry:    registry,
		broadcaster: broadcaster,
		queue:       queue,
		log:         log.With().Str("component", "gateway").Logger(),
	}
}

// Serve handles conn until it closes. identity was resolved by the
// handshake and is nil for anonymous connections. ctx is the server's
// context, not the connection's: queued handlers outlive a disconnect.
func (g *Gateway) Serve(ctx context.Context, conn Conn, identity *domain.Identity, token string) {
	s := NewSession(conn, identity, token, g.log)
	if err := g.hub.Register(s); err != nil {
		s.log.Warn().Err(err).Msg("session refused")
		return
	}
	defer g.hub.Unregister(s)

	rt := g.registry.Bind(s)
	s.log.Info().Bool("authenticated", identity != nil).Msg("session opened")

	info := map[string]any{}
	if identity != nil {
		info = map[string]any{"username": identity.Username, "token": token}
	}
	s.Emit(EventUserInfo, info)

	var first func(context.Context)
	if identity != nil {
		first = func(ctx context.Context) {
			if err := g.broadcaster.Push(ctx, s, identity.ID); err != nil {
				s.log.Error().Err(err).Msg("initial tree push failed")
				if g.registry.rec != nil {
					g.registry.rec.Record(err)
				}
			}
		}
	}

	s.serve(ctx, rt, g.queue, first)
	s.log.Info().Msg("session closed")
}
