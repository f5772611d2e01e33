// Package monitor runs verification passes over one directory and decides
// how to react to what they find.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carolinafsilva/estou-a-ver/internal/audit"
	cr "github.com/carolinafsilva/estou-a-ver/internal/crypto"
	"github.com/carolinafsilva/estou-a-ver/internal/keys"
	"github.com/carolinafsilva/estou-a-ver/internal/platform"
	"github.com/carolinafsilva/estou-a-ver/internal/sigdb"
	"github.com/carolinafsilva/estou-a-ver/internal/snapshot"
	"github.com/carolinafsilva/estou-a-ver/internal/storage"
)

const (
	// DaemonLogName is the daemon's log file inside the monitored directory.
	DaemonLogName = ".daemon.log"

	DefaultTitle = "Estou a Ver"

	msgMonitored = "Directory is now being monitored"
	msgCorrupt   = "Database integrity compromised"
	msgNoBackup  = "Database integrity compromised and no backup is available"
	questRestore = "Database integrity compromised. Restore the last backup?"
)

type Mode int

const (
	Interactive Mode = iota
	Daemon
)

type State int

const (
	StateCreating State = iota + 1
	StateClean
	StateTampered
	StateCorrupt
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "created"
	case StateClean:
		return "clean"
	case StateTampered:
		return "tampered"
	case StateCorrupt:
		return "corrupt"
	}
	return "unknown"
}

type Options struct {
	Dir  string
	Mode Mode

	// Slots defaults to a FileBlobStore rooted at Dir.
	Slots storage.SlotStore
	// Suite defaults to crypto.DefaultSuite.
	Suite cr.Provider

	Notifier platform.Notifier
	Prompter Prompter
	Snapshot snapshot.Options

	// Evidence receives a copy of a corrupt database in daemon mode.
	Evidence storage.BlobStore
	Reports  storage.ReportStore
	Audit    *audit.Log
	Logger   *log.Logger
	Title    string
}

// Report summarises one pass.
type Report struct {
	PassID        string
	Directory     string
	State         State
	Result        snapshot.Result
	Skipped       []snapshot.Skip
	BackupWritten bool
	Restored      bool
	Evidence      string
	Corrupt       error
	Started       time.Time
	Finished      time.Time
}

// Monitor owns the state files of one directory. Passes are serialised;
// separate processes working on the same directory are not coordinated.
type Monitor struct {
	opts   Options
	slots  storage.SlotStore
	suite  cr.Provider
	keys   *keys.Manager
	store  *sigdb.Store
	logger *log.Logger

	mu sync.Mutex
}

func New(opts Options) (*Monitor, error) {
	if opts.Dir == "" {
		return nil, &ConfigError{Op: "new", Err: errors.New("empty directory")}
	}
	if opts.Slots == nil {
		opts.Slots = storage.NewFileBlobStore(opts.Dir)
	}
	if opts.Suite == nil {
		opts.Suite = cr.DefaultSuite()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	return &Monitor{
		opts:   opts,
		slots:  opts.Slots,
		suite:  opts.Suite,
		keys:   keys.NewManager(opts.Slots, opts.Suite),
		store:  sigdb.New(opts.Slots, opts.Suite, opts.Logger),
		logger: opts.Logger,
	}, nil
}

func (m *Monitor) Dir() string { return m.opts.Dir }

// pass is the state threaded through one run. Nothing in it outlives the
// run; the key material is wiped when it ends.
type pass struct {
	id       string
	password []byte
	km       cr.KeyMaterial
	rep      *Report
}

// RunPass performs one load, diff, verify and react cycle. A corrupt
// database is an outcome, not an error: it is reported in Report.State.
// Errors are *ConfigError for problems retrying cannot fix, or I/O and
// context errors otherwise.
func (m *Monitor) RunPass(ctx context.Context, password []byte) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := Report{PassID: uuid.NewString(), Directory: m.opts.Dir, Started: time.Now()}
	p := &pass{id: rep.PassID, password: password, rep: &rep}
	defer p.km.Wipe()

	exists, err := m.store.Exists(ctx)
	if err != nil {
		return rep, &ConfigError{Op: "stat database", Err: err}
	}
	if exists {
		err = m.verify(ctx, p)
	} else {
		err = m.create(ctx, p)
	}
	rep.Finished = time.Now()
	if err != nil {
		m.logger.Printf("pass %s failed: %v", p.id, err)
		return rep, err
	}
	m.logger.Printf("pass %s: %s", p.id, rep.State)
	m.record(ctx, rep)
	return rep, nil
}

func (m *Monitor) create(ctx context.Context, p *pass) error {
	p.rep.State = StateCreating
	// Snapshot before anything is written so an unreadable directory
	// leaves no partial state behind.
	snap, err := m.snapshot(ctx)
	if err != nil {
		return err
	}
	p.rep.Skipped = snap.Skipped
	// A backup left from an earlier baseline is sealed under the old salt
	// and could never be restored.
	if err := m.store.DropBackup(ctx); err != nil {
		return err
	}
	_, km, err := m.keys.DeriveNew(ctx, p.password)
	if err != nil {
		return fmt.Errorf("monitor: derive key: %w", err)
	}
	p.km = km
	db, err := m.store.Create(ctx, p.km, snap.Hashes())
	if err != nil {
		return err
	}
	p.rep.Result = snapshot.Result{Unchanged: db.Names()}
	m.audit(p, fmt.Sprintf("database created with %d files", db.Len()))
	m.notify(msgMonitored)
	return nil
}

func (m *Monitor) verify(ctx context.Context, p *pass) error {
	salt, err := m.keys.LoadSalt(ctx)
	if err != nil {
		return &ConfigError{Op: "load salt", Err: err}
	}
	km, err := m.keys.DeriveExisting(p.password, salt)
	if err != nil {
		return &ConfigError{Op: "derive key", Err: err}
	}
	p.km = km

	db, err := m.store.Load(ctx, p.km)
	var corrupt *sigdb.CorruptError
	if errors.As(err, &corrupt) {
		return m.corrupt(ctx, p, corrupt)
	}
	if err != nil {
		return err
	}

	snap, err := m.snapshot(ctx)
	if err != nil {
		return err
	}
	p.rep.Skipped = snap.Skipped
	res := snapshot.Diff(snap, db, snapshot.NewDigestVerifier(m.suite, db.PublicKey()))
	p.rep.Result = res
	if res.Clean() {
		p.rep.State = StateClean
		m.audit(p, "clean")
		return nil
	}

	p.rep.State = StateTampered
	for _, c := range res.Changes() {
		msg := fmt.Sprintf("%s was %s", c.Name, c.Kind)
		m.audit(p, msg)
		m.notify(msg)
	}
	// The backup slot must not be replaced unless Resign can follow.
	if err := m.store.CheckKeys(ctx, p.km); err != nil {
		return m.keyFailure(ctx, p, err)
	}
	if err := m.store.Backup(ctx); err != nil {
		return err
	}
	p.rep.BackupWritten = true
	if _, err := m.store.Resign(ctx, p.km, snap.Hashes()); err != nil {
		return m.keyFailure(ctx, p, err)
	}
	m.audit(p, "database re-signed")
	return nil
}

// keyFailure routes damaged key files to the corrupt path. The database
// itself decrypted, so the files are left alone.
func (m *Monitor) keyFailure(ctx context.Context, p *pass, err error) error {
	var ce *sigdb.CorruptError
	if errors.As(err, &ce) {
		return m.corrupt(ctx, p, ce)
	}
	return err
}

func (m *Monitor) corrupt(ctx context.Context, p *pass, cause *sigdb.CorruptError) error {
	p.rep.State = StateCorrupt
	p.rep.Corrupt = cause
	m.logger.Printf("pass %s: %v", p.id, cause)
	m.audit(p, "corrupt: "+cause.Slot)

	if m.opts.Mode == Daemon {
		m.notify(msgCorrupt)
		m.archive(ctx, p)
		return nil
	}

	hasBackup, err := m.store.HasBackup(ctx)
	if err != nil {
		return err
	}
	if !hasBackup {
		m.notify(msgNoBackup)
		return nil
	}
	if m.opts.Prompter == nil {
		m.notify(msgCorrupt)
		return nil
	}
	ok, err := m.opts.Prompter.Confirm(questRestore, true)
	if err != nil {
		m.logger.Printf("pass %s: prompt: %v", p.id, err)
	}
	if !ok {
		m.audit(p, "restore declined")
		return nil
	}
	if err := m.store.Restore(ctx); err != nil {
		return err
	}
	p.rep.Restored = true
	m.audit(p, "backup restored")
	return nil
}

// archive copies the corrupt blob to the evidence store. The original stays
// where it is.
func (m *Monitor) archive(ctx context.Context, p *pass) {
	if m.opts.Evidence == nil {
		return
	}
	blob, err := m.store.Raw(ctx)
	if err != nil {
		m.logger.Printf("pass %s: read corrupt database: %v", p.id, err)
		return
	}
	id := "corrupt-" + p.id + ".aes"
	if err := m.opts.Evidence.Put(ctx, id, blob); err != nil {
		m.logger.Printf("pass %s: archive evidence: %v", p.id, err)
		return
	}
	p.rep.Evidence = id
	m.audit(p, "evidence archived as "+id)
}

func (m *Monitor) snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	snap, err := snapshot.Take(ctx, m.opts.Dir, m.suite, m.opts.Snapshot)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConfigError{Op: "snapshot", Err: err}
	}
	for _, s := range snap.Skipped {
		m.logger.Printf("skipped %s: %s", s.Name, s.Reason)
	}
	return snap, nil
}

func (m *Monitor) notify(msg string) {
	if m.opts.Notifier == nil {
		return
	}
	if err := m.opts.Notifier.Notify(m.opts.Title, msg); err != nil {
		m.logger.Printf("notify %q: %v", msg, err)
	}
}

func (m *Monitor) audit(p *pass, what string) {
	if m.opts.Audit == nil {
		return
	}
	e := m.opts.Audit.Append(p.id, what)
	m.logger.Printf("audit %.12s %s", e.Hash, what)
}

func (m *Monitor) record(ctx context.Context, rep Report) {
	if m.opts.Reports == nil {
		return
	}
	if err := m.opts.Reports.PutReport(ctx, rep.storageReport()); err != nil {
		m.logger.Printf("pass %s: record report: %v", rep.PassID, err)
	}
}

func (r Report) storageReport() storage.Report {
	return storage.Report{
		PassID:    r.PassID,
		Directory: r.Directory,
		State:     r.State.String(),
		Added:     r.Result.Added,
		Removed:   r.Result.Removed,
		Altered:   r.Result.Altered,
		Evidence:  r.Evidence,
		Started:   r.Started,
		Finished:  r.Finished,
	}
}
