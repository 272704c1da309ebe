package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ViniZap4/lumi-sync/auth"
	"github.com/ViniZap4/lumi-sync/config"
	"github.com/ViniZap4/lumi-sync/errlog"
	httpapi "github.com/ViniZap4/lumi-sync/http"
	"github.com/ViniZap4/lumi-sync/logging"
	"github.com/ViniZap4/lumi-sync/store"
	"github.com/ViniZap4/lumi-sync/store/memory"
	"github.com/ViniZap4/lumi-sync/store/postgres"
	"github.com/ViniZap4/lumi-sync/tree"
	"github.com/ViniZap4/lumi-sync/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "lumi-sync:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	g, ctx := errgroup.WithContext(ctx)

	sink := errlog.NewSink(st, 256, log)
	tokens := auth.NewTokenService(st, st, cfg.TokenTTL, log)
	accounts := auth.NewAccounts(auth.NewCredentials(st, cfg.BcryptCost), tokens)
	tr := tree.NewService(st, log)
	hub := ws.NewHub()
	broadcaster := ws.NewBroadcaster(tr, hub, cfg.FanOut, log)

	registry, err := ws.NewRegistry(sink, log, ws.NewHandlers(accounts, tr, broadcaster).Operations()...)
	if err != nil {
		return err
	}
	gateway := ws.NewGateway(hub, registry, broadcaster, cfg.MaxInflight, log)
	srv := httpapi.NewServer(ctx, gateway, hub, auth.NewAuthenticator(tokens), st, sink,
		httpapi.Options{AllowOrigins: cfg.AllowOrigins}, log)

	g.Go(func() error {
		sink.Run(ctx)
		return nil
	})
	g.Go(func() error {
		tokens.RunSweeper(ctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.Listen(cfg.Addr())
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info().Str("addr", cfg.Addr()).Bool("fanout", cfg.FanOut).Msg("lumi-sync started")
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("LUMI_DATABASE_URL not set, using the in-memory store")
		return memory.New(), nil
	}
	st, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info().Msg("connected to postgres, migrations applied")
	return st, nil
}
