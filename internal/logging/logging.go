// Package logging holds the process-wide zerolog setup.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DedupWindow is how long an identical info message is suppressed.
const DedupWindow = 3 * time.Second

type Options struct {
	Level string
	// File, when set, receives JSON logs in addition to the console.
	File string
	// Console defaults to stderr.
	Console io.Writer
}

var (
	mu    sync.Mutex
	file  *os.File
	dedup *Dedup
)

// Setup configures the global logger and returns it. Call Teardown before
// exit to flush the file sink.
func Setup(opts Options) (zerolog.Logger, error) {
	mu.Lock()
	defer mu.Unlock()

	// Parse log level
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := opts.Console
	if out == nil {
		out = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), err
		}
		if file != nil {
			file.Close()
		}
		file = f
		writers = append(writers, f)
	}

	dedup = NewDedup(DedupWindow, time.Now)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Logger().
		Hook(dedup)
	return log.Logger, nil
}

// Teardown closes the file sink and clears the de-duplication state.
func Teardown() error {
	mu.Lock()
	defer mu.Unlock()

	dedup = nil
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Dedup is a zerolog hook that discards an info message identical to one
// logged less than Window ago. Other levels always pass.
type Dedup struct {
	Window time.Duration

	mu   sync.Mutex
	now  func() time.Time
	seen map[string]time.Time
}

func NewDedup(window time.Duration, now func() time.Time) *Dedup {
	return &Dedup{Window: window, now: now, seen: make(map[string]time.Time)}
}

func (d *Dedup) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level != zerolog.InfoLevel || msg == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[msg]; ok && now.Sub(last) < d.Window {
		e.Discard()
		return
	}
	d.seen[msg] = now
	for k, t := range d.seen {
		if now.Sub(t) >= d.Window {
			delete(d.seen, k)
		}
	}
}
