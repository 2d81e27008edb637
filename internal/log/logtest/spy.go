// Package logtest provides a log.Logger that records entries for assertions.
package logtest

import (
	"context"
	"sync"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
)

type Entry struct {
	Level string // debug|info|special|warn|error
	Msg   string
	Err   error
	KV    map[string]any
}

// Get returns the value logged under key, including With fields.
func (e Entry) Get(key string) any { return e.KV[key] }

type sink struct {
	mu      sync.Mutex
	entries []Entry
}

// Spy records every entry. Loggers derived with With share the same sink.
type Spy struct {
	s    *sink
	with []any
}

func New() *Spy { return &Spy{s: &sink{}} }

func (l *Spy) With(kv ...any) log.Logger {
	next := make([]any, 0, len(l.with)+len(kv))
	next = append(next, l.with...)
	next = append(next, kv...)
	return &Spy{s: l.s, with: next}
}

func (l *Spy) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", msg, nil, kv) }
func (l *Spy) Info(_ context.Context, msg string, kv ...any)  { l.add("info", msg, nil, kv) }
func (l *Spy) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", msg, nil, kv) }
func (l *Spy) Special(_ context.Context, msg string, kv ...any) {
	l.add("special", msg, nil, kv)
}
func (l *Spy) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", msg, err, kv)
}
func (l *Spy) Sync() error { return nil }

func (l *Spy) add(level, msg string, err error, kv []any) {
	e := Entry{Level: level, Msg: msg, Err: err, KV: map[string]any{}}
	for _, src := range [][]any{l.with, kv} {
		for i := 0; i+1 < len(src); i += 2 {
			if k, ok := src[i].(string); ok {
				e.KV[k] = src[i+1]
			}
		}
	}
	l.s.mu.Lock()
	l.s.entries = append(l.s.entries, e)
	l.s.mu.Unlock()
}

func (l *Spy) Entries() []Entry {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	out := make([]Entry, len(l.s.entries))
	copy(out, l.s.entries)
	return out
}

// Titled returns the entries written by log.Record with the given title.
func (l *Spy) Titled(title string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.KV["title"] == title {
			out = append(out, e)
		}
	}
	return out
}

// Messages returns entries whose message is msg.
func (l *Spy) Messages(msg string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func (l *Spy) Reset() {
	l.s.mu.Lock()
	l.s.entries = nil
	l.s.mu.Unlock()
}
