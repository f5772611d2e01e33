package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/carolinafsilva/estou-a-ver/internal/bootstrap"
	"github.com/carolinafsilva/estou-a-ver/internal/config"
	cr "github.com/carolinafsilva/estou-a-ver/internal/crypto"
	"github.com/carolinafsilva/estou-a-ver/internal/daemon"
	"github.com/carolinafsilva/estou-a-ver/internal/metrics"
	"github.com/carolinafsilva/estou-a-ver/internal/monitor"
	"github.com/carolinafsilva/estou-a-ver/internal/platform"
)

func main() {
	dir := flag.String("dir", "", "directory to monitor (default: config or current directory)")
	cfgPath := flag.String("config", "", "path to a YAML config file")
	interval := flag.Duration("interval", 0, "pause between passes (default 10s)")
	exclude := flag.String("exclude", "", "comma separated glob patterns to skip")
	logPath := flag.String("log", "", `log file, "-" for stderr (default <dir>/.daemon.log)`)
	once := flag.Bool("once", false, "run a single pass and exit")
	metricsPath := flag.String("metrics", "", "write Prometheus metrics to this file after every pass")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `estoud watches a directory and re-checks it on an interval.

Do not run estouctl check or a second estoud against the same directory
while this daemon is running; passes from different processes are not
coordinated and can overwrite each other's database.

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	dieIf(err)
	if *dir != "" {
		cfg.Directory = *dir
	}
	if *interval > 0 {
		cfg.Interval = *interval
	}
	if *exclude != "" {
		cfg.Exclude = append(cfg.Exclude, strings.Split(*exclude, ",")...)
	}
	if *logPath != "" {
		cfg.LogFile = *logPath
	}
	if *metricsPath != "" {
		cfg.MetricsFile = *metricsPath
	}
	dieIf(cfg.Validate())

	if err := platform.DisableCoreDumps(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not disable core dumps:", err)
	}

	logger, closeLog, err := openLog(cfg)
	dieIf(err)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := bootstrap.Env{
		Config: cfg,
		Mode:   monitor.Daemon,
		Logger: logger,
		In:     bufio.NewReader(os.Stdin),
		Out:    os.Stderr,
		TTY:    os.Stdin,
	}
	h, err := bootstrap.Open(ctx, env)
	dieIf(err)
	defer h.Close()

	pw, err := bootstrap.PasswordFor(ctx, env, h.Monitor)
	dieIf(err)
	if err := cr.LockMemory(pw); err != nil {
		logger.Printf("mlock password: %v", err)
	}
	defer func() {
		cr.Zero(pw)
		_ = cr.UnlockMemory(pw)
	}()

	met := metrics.New()
	loop := &daemon.Loop{
		Runner:   h.Monitor,
		Interval: cfg.Interval,
		Logger:   logger,
		OnPass: func(rep monitor.Report) {
			met.Observe(rep)
			if cfg.MetricsFile != "" {
				if err := met.WriteTextfile(cfg.MetricsFile); err != nil {
					logger.Printf("metrics: %v", err)
				}
			}
			if rep.State != monitor.StateClean {
				logger.Printf("pass %s ended %s (+%d -%d ~%d), audit head %.12s",
					rep.PassID, rep.State, len(rep.Result.Added), len(rep.Result.Removed), len(rep.Result.Altered), h.Audit.Head())
			}
		},
	}

	logger.Printf("watching %s every %s", cfg.Directory, cfg.Interval)
	if *once {
		_, err = loop.RunOnce(ctx, pw)
	} else {
		err = loop.Run(ctx, pw)
	}
	if err != nil {
		logger.Printf("exit: %v", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		closeLog()
		os.Exit(1)
	}
	if err := h.Audit.Verify(); err != nil {
		logger.Printf("audit: %v", err)
	}
}

// openLog appends to the configured log file, creating it 0600.
func openLog(cfg config.Config) (*log.Logger, func(), error) {
	if cfg.LogFile == "-" {
		return log.New(os.Stderr, "[estoud] ", log.LstdFlags|log.Lshortfile), func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	closed := false
	return log.New(f, "[estoud] ", log.LstdFlags|log.Lshortfile), func() {
		if !closed {
			closed = true
			_ = f.Close()
		}
	}, nil
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
