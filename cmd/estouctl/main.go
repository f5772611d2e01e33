package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/carolinafsilva/estou-a-ver/internal/bootstrap"
	"github.com/carolinafsilva/estou-a-ver/internal/config"
	cr "github.com/carolinafsilva/estou-a-ver/internal/crypto"
	"github.com/carolinafsilva/estou-a-ver/internal/monitor"
	"github.com/carolinafsilva/estou-a-ver/internal/platform"
	"github.com/carolinafsilva/estou-a-ver/internal/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	_ = platform.DisableCoreDumps()

	ctx := context.Background()
	in := bufio.NewReader(os.Stdin)

	switch os.Args[1] {
	case "check":
		fs, common := newFlagSet("check")
		_ = fs.Parse(os.Args[2:])
		env := mustEnv(common, in)
		dieIf(cmdCheck(ctx, env))

	case "verify":
		fs, common := newFlagSet("verify")
		file := fs.String("file", "", "relative name of the file to verify")
		_ = fs.Parse(os.Args[2:])
		env := mustEnv(common, in)
		dieIf(cmdVerify(ctx, env, *file))

	case "status":
		fs, common := newFlagSet("status")
		_ = fs.Parse(os.Args[2:])
		env := mustEnv(common, in)
		dieIf(cmdStatus(ctx, env))

	case "history":
		fs, common := newFlagSet("history")
		n := fs.Int64("n", 20, "number of reports to show")
		_ = fs.Parse(os.Args[2:])
		env := mustEnv(common, in)
		dieIf(cmdHistory(ctx, env, *n))

	case "remove":
		fs, common := newFlagSet("remove")
		yes := fs.Bool("yes", false, "do not ask for confirmation")
		_ = fs.Parse(os.Args[2:])
		env := mustEnv(common, in)
		dieIf(cmdRemove(ctx, env, *yes))

	default:
		usage()
		os.Exit(2)
	}
}

type commonFlags struct {
	dir     *string
	config  *string
	exclude *string
	verbose *bool
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		dir:     fs.String("dir", "", "directory to monitor (default: config or current directory)"),
		config:  fs.String("config", "", "path to a YAML config file"),
		exclude: fs.String("exclude", "", "comma separated glob patterns to skip"),
		verbose: fs.Bool("v", false, "log pass details to stderr"),
	}
}

func mustEnv(c commonFlags, in *bufio.Reader) bootstrap.Env {
	cfg, err := config.Load(*c.config)
	dieIf(err)
	if *c.dir != "" {
		cfg.Directory = *c.dir
	}
	if *c.exclude != "" {
		cfg.Exclude = append(cfg.Exclude, strings.Split(*c.exclude, ",")...)
	}
	dieIf(cfg.Validate())

	logger := log.New(io.Discard, "", 0)
	if *c.verbose {
		logger = log.New(os.Stderr, "[estouctl] ", log.LstdFlags)
	}
	return bootstrap.Env{
		Config: cfg,
		Mode:   monitor.Interactive,
		Logger: logger,
		In:     in,
		Out:    os.Stdout,
		TTY:    os.Stdin,
	}
}

func usage() {
	fmt.Print(`estouctl commands:

  check   [-dir D] [-config F] [-exclude GLOBS] [-v]   run one verification pass
  verify  -file NAME [-dir D] [-config F]              check a single file
  status  [-dir D]                                     show which state files exist
  history [-n 20] -config F                            list recorded passes (needs archive.mongo_uri)
  remove  [-yes] [-dir D]                              stop monitoring and delete all state files

Examples:
  estouctl check -dir ~/Documents
  estouctl verify -dir ~/Documents -file notes/todo.txt
`)
}

func cmdCheck(ctx context.Context, env bootstrap.Env) error {
	h, err := bootstrap.Open(ctx, env)
	if err != nil {
		return err
	}
	defer h.Close()

	pw, err := bootstrap.PasswordFor(ctx, env, h.Monitor)
	if err != nil {
		return err
	}
	defer cr.Zero(pw)

	rep, err := h.Monitor.RunPass(ctx, pw)
	if err != nil {
		return err
	}
	printReport(env.Out, rep)
	return nil
}

func printReport(w io.Writer, rep monitor.Report) {
	switch rep.State {
	case monitor.StateCreating:
		fmt.Fprintf(w, "Now monitoring %s (%d files)\n", rep.Directory, len(rep.Result.Unchanged))
	case monitor.StateClean:
		fmt.Fprintf(w, "All %d files verified\n", len(rep.Result.Unchanged))
	case monitor.StateTampered:
		for _, c := range rep.Result.Changes() {
			fmt.Fprintf(w, "  %-8s %s\n", c.Kind, c.Name)
		}
		fmt.Fprintln(w, "Previous database backed up; signatures updated")
	case monitor.StateCorrupt:
		fmt.Fprintf(w, "Database corrupt or wrong password: %v\n", rep.Corrupt)
		if rep.Restored {
			fmt.Fprintln(w, "Backup restored; run check again")
		}
	}
	for _, s := range rep.Skipped {
		fmt.Fprintf(w, "  skipped  %s (%s)\n", s.Name, s.Reason)
	}
}

func cmdVerify(ctx context.Context, env bootstrap.Env, name string) error {
	if name == "" {
		return errors.New("-file required")
	}
	if snapshot.Hidden(name) {
		return fmt.Errorf("%s is hidden and never monitored", name)
	}
	h, err := bootstrap.Open(ctx, env)
	if err != nil {
		return err
	}
	defer h.Close()

	pw, err := bootstrap.ReadPassword(env, "Password: ")
	if err != nil {
		return err
	}
	defer cr.Zero(pw)

	ok, err := h.Monitor.VerifyFile(ctx, pw, name)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(env.Out, "%s: FAILED\n", name)
		return errors.New("signature does not match the file")
	}
	fmt.Fprintf(env.Out, "%s: OK\n", name)
	return nil
}

func cmdStatus(ctx context.Context, env bootstrap.Env) error {
	h, err := bootstrap.Open(ctx, env)
	if err != nil {
		return err
	}
	defer h.Close()
	st, err := h.Monitor.Status(ctx)
	if err != nil {
		return err
	}
	mark := func(ok bool) string {
		if ok {
			return "present"
		}
		return "missing"
	}
	fmt.Fprintf(env.Out, "directory    %s\n", env.Config.Directory)
	fmt.Fprintf(env.Out, "monitored    %v\n", st.Monitored())
	fmt.Fprintf(env.Out, "salt         %s\n", mark(st.Salt))
	fmt.Fprintf(env.Out, "database     %s\n", mark(st.Database))
	fmt.Fprintf(env.Out, "backup       %s\n", mark(st.Backup))
	fmt.Fprintf(env.Out, "private key  %s\n", mark(st.PrivateKey))
	fmt.Fprintf(env.Out, "public key   %s\n", mark(st.PublicKey))
	return nil
}

func cmdHistory(ctx context.Context, env bootstrap.Env, n int64) error {
	h, err := bootstrap.Open(ctx, env)
	if err != nil {
		return err
	}
	defer h.Close()
	if h.Reports == nil {
		return errors.New("no archive configured (archive.mongo_uri)")
	}
	reports, err := h.Reports.ListReports(ctx, env.Config.Directory, n)
	if err != nil {
		return err
	}
	for _, r := range reports {
		fmt.Fprintf(env.Out, "%s  %-8s  +%d -%d ~%d  %s\n",
			r.Started.Format(time.RFC3339), r.State, len(r.Added), len(r.Removed), len(r.Altered), r.PassID)
	}
	return nil
}

func cmdRemove(ctx context.Context, env bootstrap.Env, yes bool) error {
	h, err := bootstrap.Open(ctx, env)
	if err != nil {
		return err
	}
	defer h.Close()
	if !yes {
		ok, err := monitor.NewLinePrompter(env.In, env.Out).Confirm("Stop monitoring "+env.Config.Directory+" and delete its state files?", false)
		if err != nil || !ok {
			fmt.Fprintln(env.Out, "Nothing removed")
			return nil
		}
	}
	if err := h.Monitor.Remove(ctx); err != nil {
		return err
	}
	fmt.Fprintln(env.Out, "Monitoring removed")
	return nil
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
