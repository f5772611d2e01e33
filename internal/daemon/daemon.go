// Package daemon re-runs monitoring passes on a fixed interval.
package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/carolinafsilva/estou-a-ver/internal/monitor"
)

// DefaultInterval is the pause between the end of one pass and the start
// of the next.
const DefaultInterval = 10 * time.Second

type Runner interface {
	RunPass(ctx context.Context, password []byte) (monitor.Report, error)
}

type Loop struct {
	Runner   Runner
	Interval time.Duration
	Logger   *log.Logger

	// OnPass, if set, sees every report. Used by tests and the CLI.
	OnPass func(monitor.Report)
}

func (l *Loop) setDefaults() {
	if l.Interval <= 0 {
		l.Interval = DefaultInterval
	}
	if l.Logger == nil {
		l.Logger = log.New(io.Discard, "", 0)
	}
}

// Run performs passes until ctx is done or a pass fails with a
// *monitor.ConfigError. Cancellation is only observed between passes, so a
// pass that has started always finishes its writes. Other failures are
// logged and the next pass runs after the usual interval.
func (l *Loop) Run(ctx context.Context, password []byte) error {
	l.setDefaults()
	for {
		if err := l.once(password); err != nil {
			return err
		}
		timer := time.NewTimer(l.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			l.Logger.Printf("stopping: %v", context.Cause(ctx))
			return nil
		}
	}
}

// RunOnce performs a single pass, for one-shot use.
func (l *Loop) RunOnce(ctx context.Context, password []byte) (monitor.Report, error) {
	l.setDefaults()
	rep, err := l.Runner.RunPass(ctx, password)
	if err == nil && l.OnPass != nil {
		l.OnPass(rep)
	}
	return rep, err
}

func (l *Loop) once(password []byte) error {
	// Passes run under their own context so a shutdown signal cannot cut
	// a database write short.
	rep, err := l.Runner.RunPass(context.Background(), password)
	switch {
	case err == nil:
		if l.OnPass != nil {
			l.OnPass(rep)
		}
		return nil
	case monitor.IsConfig(err):
		l.Logger.Printf("fatal: %v", err)
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		l.Logger.Printf("pass failed: %v", err)
		return nil
	}
}
