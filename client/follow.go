package client

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

var reconnectDelay = 5 * time.Second

// Follow keeps a session to rawURL open, calling fn with each new
// connection. When the connection drops it reconnects after a delay. It
// returns when ctx is done or when the server rejects the token.
func Follow(ctx context.Context, rawURL, token string, log zerolog.Logger, fn func(context.Context, *Client) error) error {
	for {
		err := followOnce(ctx, rawURL, token, log, fn)
		if errors.Is(err, ErrRejected) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().Err(err).Str("url", rawURL).Dur("retry_in", reconnectDelay).Msg("connection lost, reconnecting")
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func followOnce(ctx context.Context, rawURL, token string, log zerolog.Logger, fn func(context.Context, *Client) error) error {
	c, err := Dial(ctx, rawURL, token, log)
	if err != nil {
		return err
	}
	defer c.Close()

	log.Info().Str("url", rawURL).Msg("connected")

	// Drop the connection when ctx ends so fn unblocks.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	return fn(ctx, c)
}

// Trees calls onTree with every folders push until the connection drops.
// It is meant to be passed to Follow.
func Trees(onTree func(Tree)) func(context.Context, *Client) error {
	return func(ctx context.Context, c *Client) error {
		for ev := range c.Events() {
			if ev.Name != EventFolders {
				continue
			}
			t, err := DecodeTree(ev.Data)
			if err != nil {
				return err
			}
			onTree(t)
		}
		return ErrClosed
	}
}
