package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/errlog"
)

// Call is what a handler receives: the session, its positional args and,
// for authenticated operations, the bound identity.
type Call struct {
	Session  *Session
	Identity *domain.Identity
	Args     Args
}

// Handler runs one operation. The returned value is sent through the
// completion callback when the client supplied one.
type Handler func(ctx context.Context, c *Call) (any, error)

type Operation struct {
	Name          string
	Authenticated bool
	Handle        Handler
}

// Recorder receives every handler failure for offline inspection.
type Recorder interface {
	Record(err error)
}

// Registry is the fixed table of operations. It is shared read-only; each
// connection gets its own Router from Bind.
type Registry struct {
	ops map[string]Operation
	rec Recorder
	log zerolog.Logger
}

func NewRegistry(rec Recorder, log zerolog.Logger, ops ...Operation) (*Registry, error) {
	r := &Registry{ops: make(map[string]Operation, len(ops)), rec: rec, log: log}
	for _, op := range ops {
		if op.Name == "" || op.Handle == nil {
			return nil, fmt.Errorf("operation %q is incomplete", op.Name)
		}
		if _, dup := r.ops[op.Name]; dup {
			return nil, fmt.Errorf("operation %q registered twice", op.Name)
		}
		r.ops[op.Name] = op
	}
	return r, nil
}

// Router holds one connection's handlers, each already wrapped and bound
// to that connection's session.
type Router struct {
	session  *Session
	handlers map[string]func(ctx context.Context, req Request)
	unknown  func(ctx context.Context, req Request)
}

// Bind builds the handler set for s.
func (r *Registry) Bind(s *Session) *Router {
	rt := &Router{
		session:  s,
		handlers: make(map[string]func(ctx context.Context, req Request), len(r.ops)),
	}
	for name, op := range r.ops {
		h := recoverPanics(op.Handle)
		if op.Authenticated {
			h = requireIdentity(h)
		}
		rt.handlers[name] = r.normalize(s, name, h)
	}
	rt.unknown = r.normalize(s, "unknown", func(ctx context.Context, c *Call) (any, error) {
		return nil, &domain.Error{Name: "UnknownOperation", Message: "unknown operation", Err: domain.ErrInvalidArgument}
	})
	return rt
}

// Dispatch runs the handler registered for req.Event.
func (rt *Router) Dispatch(ctx context.Context, req Request) {
	h, ok := rt.handlers[req.Event]
	if !ok {
		h = rt.unknown
	}
	h(ctx, req)
}

// requireIdentity rejects calls on anonymous sessions before the handler runs.
func requireIdentity(next Handler) Handler {
	return func(ctx context.Context, c *Call) (any, error) {
		if c.Identity == nil {
			return nil, domain.Unauthorized()
		}
		return next(ctx, c)
	}
}

func recoverPanics(next Handler) Handler {
	return func(ctx context.Context, c *Call) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				out, err = nil, fmt.Errorf("panic: %v", r)
			}
		}()
		return next(ctx, c)
	}
}

// normalize adapts a Handler to the transport: success goes to the
// callback, failure is serialized and goes to the callback or, without
// one, out of band as an error event.
func (r *Registry) normalize(s *Session, name string, h Handler) func(ctx context.Context, req Request) {
	return func(ctx context.Context, req Request) {
		data, err := h(ctx, &Call{Session: s, Identity: s.Identity(), Args: req.Args})
		if err != nil {
			r.fail(s, name, req, err)
			return
		}
		if req.Ack == nil {
			return
		}
		if data == nil {
			data = struct{}{}
		}
		if err := s.reply(*req.Ack, data); err != nil && !errors.Is(err, ErrSessionClosed) {
			s.log.Warn().Err(err).Str("op", name).Msg("reply failed")
		}
	}
}

func (r *Registry) fail(s *Session, name string, req Request, err error) {
	s.log.Error().Err(err).Str("op", name).Str("event", req.Event).Msg("operation failed")
	if r.rec != nil {
		r.rec.Record(fmt.Errorf("%s: %w", name, err))
	}

	payload := errlog.Serialize(err)
	if req.Ack != nil {
		s.reply(*req.Ack, map[string]any{"error": payload})
		return
	}
	s.Emit(EventError, payload)
}
