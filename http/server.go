// Package http exposes the sync protocol and the system log over fiber.
package http

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/auth"
	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/store"
	"github.com/ViniZap4/lumi-sync/ws"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// LogSink accepts client-reported log payloads.
type LogSink interface {
	RecordPayload(data map[string]any)
}

type Options struct {
	AllowOrigins string
}

type Server struct {
	app     *fiber.App
	ctx     context.Context
	gateway *ws.Gateway
	hub     *ws.Hub
	authn   *auth.Authenticator
	logs    store.Logs
	sink    LogSink
	log     zerolog.Logger
}

// NewServer builds the fiber app. ctx is handed to every websocket session
// and bounds the lifetime of their handlers.
func NewServer(ctx context.Context, gateway *ws.Gateway, hub *ws.Hub, authn *auth.Authenticator, logs store.Logs, sink LogSink, opts Options, log zerolog.Logger) *Server {
	s := &Server{
		ctx:     ctx,
		gateway: gateway,
		hub:     hub,
		authn:   authn,
		logs:    logs,
		sink:    sink,
		log:     log.With().Str("component", "http").Logger(),
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	origins := opts.AllowOrigins
	if origins == "" {
		origins = "*"
	}
	s.app.Use(recover.New())
	s.app.Use(requestLogger(s.log))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Lumi-Token",
	}))

	s.app.Get("/healthz", s.handleHealth)

	s.app.Use("/ws", requireUpgrade)
	s.app.Get("/ws", auth.Handshake(authn), websocket.New(s.handleSocket))

	api := s.app.Group("/api")
	api.Post("/logs", s.handlePostLog)
	api.Get("/logs", auth.Middleware(authn), s.handleListLogs)

	return s
}

// App is exposed for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("listening")
	return s.app.Listen(addr)
}

func (s *Server) Listener(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return s.app.Listener(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// handleSocket must not return while the connection is in use; Serve
// returns only after the writer and in-flight handlers are done.
func (s *Server) handleSocket(c *websocket.Conn) {
	id, _ := c.Locals(auth.IdentityKey).(*domain.Identity)
	token, _ := c.Locals(auth.TokenKey).(string)
	s.gateway.Serve(s.ctx, c, id, token)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "sessions": s.hub.Count()})
}

func (s *Server) handlePostLog(c *fiber.Ctx) error {
	var data map[string]any
	if err := c.BodyParser(&data); err != nil || data == nil {
		return fiber.NewError(fiber.StatusBadRequest, "body must be a JSON object")
	}
	s.sink.RecordPayload(data)
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleListLogs(c *fiber.Ctx) error {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := s.logs.Logs(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	} else {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	msg := err.Error()
	if code == fiber.StatusInternalServerError {
		msg = "internal error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		log.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}
