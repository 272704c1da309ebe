// Package errlog turns errors into structured payloads and records them to
// the system log without ever blocking the caller.
package errlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/domain"
	"github.com/ViniZap4/lumi-sync/store"
)

// fielder is implemented by errors that carry custom fields (errorCode,
// folderId, ...).
type fielder interface {
	ErrorFields() map[string]any
}

// Serialize returns the payload sent to clients and stored in the system
// log: message, name, the chain of wrapped messages as stack, plus any
// custom fields attached to the error.
func Serialize(err error) map[string]any {
	if err == nil {
		return nil
	}
	out := map[string]any{
		"message": err.Error(),
		"name":    Name(err),
		"stack":   chain(err),
	}

	var f fielder
	if errors.As(err, &f) {
		for k, v := range f.ErrorFields() {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}

// Name is the error class exposed to clients.
func Name(err error) string {
	var derr *domain.Error
	if errors.As(err, &derr) && derr.Name != "" {
		return derr.Name
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return "StoreUnavailable"
	}
	return "Error"
}

func chain(err error) []string {
	var out []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		out = append(out, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return out
}

// Sink records error payloads to store.Logs from a single background
// goroutine. Record never blocks; entries are dropped when the queue is full.
type Sink struct {
	logs    store.Logs
	entries chan domain.LogEntry
	log     zerolog.Logger
	now     func() time.Time
}

func NewSink(logs store.Logs, queue int, log zerolog.Logger) *Sink {
	if queue <= 0 {
		queue = 256
	}
	return &Sink{
		logs:    logs,
		entries: make(chan domain.LogEntry, queue),
		log:     log.With().Str("component", "errlog").Logger(),
		now:     time.Now,
	}
}

// Record serializes err and queues it.
func (s *Sink) Record(err error) {
	if err == nil {
		return
	}
	s.RecordPayload(Serialize(err))
}

// RecordPayload queues an already structured payload.
func (s *Sink) RecordPayload(data map[string]any) {
	e := domain.LogEntry{ID: uuid.NewString(), Data: data, Timestamp: s.now()}
	select {
	case s.entries <- e:
	default:
		s.log.Warn().Interface("data", data).Msg("system log queue full, dropping entry")
	}
}

// Run writes queued entries until ctx is done, then flushes what is left.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case e := <-s.entries:
			s.write(ctx, e)
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

func (s *Sink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-s.entries:
			s.write(ctx, e)
		default:
			return
		}
	}
}

func (s *Sink) write(ctx context.Context, e domain.LogEntry) {
	if err := s.logs.InsertLog(ctx, &e); err != nil {
		s.log.Warn().Err(err).Str("message", messageOf(e.Data)).Msg("system log write failed")
	}
}

func messageOf(data map[string]any) string {
	if m, ok := data["message"].(string); ok {
		return strings.TrimSpace(m)
	}
	return ""
}
