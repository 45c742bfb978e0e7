// Package logging holds the silent slog handler and the atomic logger slot
// that every Erathia package uses for its package-level logger.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip attribute formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Nop returns a logger that discards all output.
func Nop() *slog.Logger { return slog.New(nopHandler{}) }

// Slot is a concurrency-safe holder for a package logger.
// The zero value is not usable; create one with NewSlot.
type Slot struct {
	p atomic.Pointer[slog.Logger]
}

// NewSlot returns a slot holding a silent logger.
func NewSlot() *Slot {
	s := &Slot{}
	s.p.Store(Nop())
	return s
}

// Load returns the current logger. It never returns nil.
func (s *Slot) Load() *slog.Logger { return s.p.Load() }

// Store replaces the current logger. A nil logger restores silence.
func (s *Slot) Store(l *slog.Logger) {
	if l == nil {
		l = Nop()
	}
	s.p.Store(l)
}
