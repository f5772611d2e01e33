// Package bootstrap wires configuration, stores and notifiers into a
// monitor for the two commands.
package bootstrap

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/term"

	"github.com/carolinafsilva/estou-a-ver/internal/audit"
	"github.com/carolinafsilva/estou-a-ver/internal/config"
	cr "github.com/carolinafsilva/estou-a-ver/internal/crypto"
	"github.com/carolinafsilva/estou-a-ver/internal/monitor"
	"github.com/carolinafsilva/estou-a-ver/internal/platform"
	"github.com/carolinafsilva/estou-a-ver/internal/snapshot"
	"github.com/carolinafsilva/estou-a-ver/internal/storage"
)

var ErrPasswordMismatch = errors.New("passwords do not match")

// Env is what a command needs besides its flags.
type Env struct {
	Config config.Config
	Mode   monitor.Mode
	Logger *log.Logger
	In     *bufio.Reader
	Out    io.Writer
	// TTY, when it is a terminal, is read without echo instead of In.
	TTY *os.File
}

// Handle bundles a monitor with the resources it holds.
type Handle struct {
	Monitor *monitor.Monitor
	Reports storage.ReportStore
	Audit   *audit.Log

	mongo *mongo.Client
}

func (h *Handle) Close() {
	if h.mongo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.mongo.Disconnect(ctx)
}

// Open builds a monitor for env.Config.Directory. The evidence archive and
// report store are attached only when a Mongo URI is configured.
func Open(ctx context.Context, env Env) (*Handle, error) {
	cfg := env.Config
	h := &Handle{Audit: audit.New()}
	opts := monitor.Options{
		Dir:      cfg.Directory,
		Mode:     env.Mode,
		Suite:    cfg.Suite(),
		Snapshot: snapshot.Options{Exclude: cfg.Exclude},
		Audit:    h.Audit,
		Logger:   env.Logger,
		Notifier: notifier(env),
	}
	if env.Mode == monitor.Interactive {
		opts.Prompter = monitor.NewLinePrompter(env.In, env.Out)
	}

	if cfg.Archive.MongoURI != "" {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		cli, err := storage.ConnectMongo(cctx, cfg.Archive.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		h.mongo = cli
		reports, err := storage.NewMongoReportStore(cctx, cli, cfg.Archive.Database, cfg.Archive.Reports)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("archive: %w", err)
		}
		h.Reports = reports
		opts.Reports = reports
		opts.Evidence = storage.NewMongoBlobStore(cli, cfg.Archive.Database, cfg.Archive.Collection)
	}

	mon, err := monitor.New(opts)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.Monitor = mon
	return h, nil
}

func notifier(env Env) platform.Notifier {
	var n platform.Notifier
	switch {
	case !env.Config.NotifyEnabled():
		return nil
	case env.Mode == monitor.Interactive:
		n = platform.Multi{platform.NewConsoleNotifier(env.Out), platform.NewNotifier()}
	default:
		n = platform.NewNotifier()
	}
	return platform.NewThrottledNotifier(n, env.Config.Notify.Rate, env.Config.Notify.Burst, env.Logger)
}

// ReadPassword prompts on out and reads a password without echo when in
// is a terminal, or a single line otherwise.
func ReadPassword(env Env, prompt string) ([]byte, error) {
	fmt.Fprint(env.Out, prompt)
	if env.TTY != nil && term.IsTerminal(int(env.TTY.Fd())) {
		pw, err := term.ReadPassword(int(env.TTY.Fd()))
		fmt.Fprintln(env.Out)
		if err != nil {
			return nil, err
		}
		return pw, nil
	}
	line, err := env.In.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// ReadNewPassword asks twice and requires both answers to match.
func ReadNewPassword(env Env) ([]byte, error) {
	pw, err := ReadPassword(env, "New password: ")
	if err != nil {
		return nil, err
	}
	again, err := ReadPassword(env, "Repeat password: ")
	if err != nil {
		cr.Zero(pw)
		return nil, err
	}
	defer cr.Zero(again)
	if !bytes.Equal(pw, again) {
		cr.Zero(pw)
		return nil, ErrPasswordMismatch
	}
	return pw, nil
}

// PasswordFor asks once for a monitored directory and twice otherwise.
func PasswordFor(ctx context.Context, env Env, mon *monitor.Monitor) ([]byte, error) {
	st, err := mon.Status(ctx)
	if err != nil {
		return nil, err
	}
	if st.Monitored() {
		return ReadPassword(env, "Password: ")
	}
	return ReadNewPassword(env)
}
