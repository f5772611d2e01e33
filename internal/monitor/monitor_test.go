package monitor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/carolinafsilva/estou-a-ver/internal/audit"
	cr "github.com/carolinafsilva/estou-a-ver/internal/crypto"
	"github.com/carolinafsilva/estou-a-ver/internal/keys"
	"github.com/carolinafsilva/estou-a-ver/internal/sigdb"
	"github.com/carolinafsilva/estou-a-ver/internal/storage"
)

var password = []byte("correct horse")

type recorder struct {
	msgs []string
	err  error
}

func (r *recorder) Notify(title, message string) error {
	r.msgs = append(r.msgs, message)
	return r.err
}

type answer struct {
	yes   bool
	asked int
}

func (a *answer) Confirm(string, bool) (bool, error) {
	a.asked++
	return a.yes, nil
}

type memReports struct{ got []storage.Report }

func (m *memReports) PutReport(_ context.Context, r storage.Report) error {
	m.got = append(m.got, r)
	return nil
}

func (m *memReports) ListReports(context.Context, string, int64) ([]storage.Report, error) {
	return m.got, nil
}

type fixture struct {
	dir     string
	mon     *Monitor
	notes   *recorder
	prompt  *answer
	reports *memReports
	audit   *audit.Log
}

func newFixture(t *testing.T, mode Mode, files map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		dir:     t.TempDir(),
		notes:   &recorder{},
		prompt:  &answer{yes: true},
		reports: &memReports{},
		audit:   audit.New(),
	}
	for name, content := range files {
		f.write(t, name, content)
	}
	mon, err := New(Options{
		Dir:      f.dir,
		Mode:     mode,
		Suite:    cr.NewSuite(cr.TestKDF(), nil, cr.KeyGen{}),
		Notifier: f.notes,
		Prompter: f.prompt,
		Reports:  f.reports,
		Audit:    f.audit,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	f.mon = mon
	return f
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) read(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return b
}

func (f *fixture) exists(name string) bool {
	_, err := os.Stat(filepath.Join(f.dir, name))
	return err == nil
}

func (f *fixture) pass(t *testing.T, want State) Report {
	t.Helper()
	rep, err := f.mon.RunPass(context.Background(), password)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.State != want {
		t.Fatalf("state = %s, want %s (result %+v)", rep.State, want, rep.Result)
	}
	return rep
}

func TestFirstPassCreates(t *testing.T) {
	f := newFixture(t, Interactive, map[string]string{"a.txt": "a", "b.txt": "b"})
	rep := f.pass(t, StateCreating)
	if !reflect.DeepEqual(rep.Result.Unchanged, []string{"a.txt", "b.txt"}) {
		t.Fatalf("signed %v", rep.Result.Unchanged)
	}
	for _, name := range []string{keys.SaltName, sigdb.DatabaseName, sigdb.PrivateKeyName, sigdb.PublicKeyName} {
		if !f.exists(name) {
			t.Fatalf("%s not written", name)
		}
	}
	if f.exists(sigdb.BackupName) {
		t.Fatal("backup written on create")
	}
	if len(f.notes.msgs) != 1 || f.notes.msgs[0] != msgMonitored {
		t.Fatalf("notifications = %v", f.notes.msgs)
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	f := newFixture(t, Daemon, map[string]string{"a.txt": "a"})
	f.pass(t, StateCreating)
	db := f.read(t, sigdb.DatabaseName)

	for i := 0; i < 2; i++ {
		rep := f.pass(t, StateClean)
		if rep.BackupWritten {
			t.Fatal("clean pass wrote a backup")
		}
	}
	if f.exists(sigdb.BackupName) {
		t.Fatal("backup exists after clean passes")
	}
	if !bytes.Equal(db, f.read(t, sigdb.DatabaseName)) {
		t.Fatal("clean pass rewrote the database")
	}
}

func TestAlteredFileEndToEnd(t *testing.T) {
	f := newFixture(t, Interactive, map[string]string{"a.txt": "alpha", "b.txt": "bravo"})
	f.pass(t, StateCreating)
	before := f.read(t, sigdb.DatabaseName)
	f.notes.msgs = nil

	f.write(t, "b.txt", "bravo, changed")
	rep := f.pass(t, StateTampered)
	if !reflect.DeepEqual(rep.Result.Altered, []string{"b.txt"}) || len(rep.Result.Added)+len(rep.Result.Removed) != 0 {
		t.Fatalf("result = %+v", rep.Result)
	}
	if !reflect.DeepEqual(f.notes.msgs, []string{"b.txt was altered"}) {
		t.Fatalf("notifications = %v", f.notes.msgs)
	}
	if !rep.BackupWritten || !bytes.Equal(f.read(t, sigdb.BackupName), before) {
		t.Fatal("backup is not the pre-modification database")
	}
	f.pass(t, StateClean)
}

func TestAddedAndRemoved(t *testing.T) {
	f := newFixture(t, Daemon, map[string]string{"keep": "k", "gone": "g"})
	f.pass(t, StateCreating)
	f.notes.msgs = nil

	f.write(t, "new", "n")
	if err := os.Remove(filepath.Join(f.dir, "gone")); err != nil {
		t.Fatal(err)
	}
	rep := f.pass(t, StateTampered)
	if !reflect.DeepEqual(rep.Result.Added, []string{"new"}) ||
		!reflect.DeepEqual(rep.Result.Removed, []string{"gone"}) ||
		!reflect.DeepEqual(rep.Result.Unchanged, []string{"keep"}) {
		t.Fatalf("result = %+v", rep.Result)
	}
	want := []string{"gone was removed", "new was added"}
	if !reflect.DeepEqual(f.notes.msgs, want) {
		t.Fatalf("notifications = %v", f.notes.msgs)
	}
	f.pass(t, StateClean)
}

func TestMissingSaltIsConfigError(t *testing.T) {
	f := newFixture(t, Daemon, map[string]string{"a": "a"})
	f.pass(t, StateCreating)
	if err := os.Remove(filepath.Join(f.dir, keys.SaltName)); err != nil {
		t.Fatal(err)
	}
	db := f.read(t, sigdb.DatabaseName)

	_, err := f.mon.RunPass(context.Background(), password)
	if !IsConfig(err) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if f.exists(keys.SaltName) || !bytes.Equal(db, f.read(t, sigdb.DatabaseName)) {
		t.Fatal("config error wrote state")
	}
}

func TestUnreadableDirectoryIsConfigError(t *testing.T) {
	mon, err := New(Options{Dir: filepath.Join(t.TempDir(), "missing"), Suite: cr.NewSuite(cr.TestKDF(), nil, cr.KeyGen{})})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mon.RunPass(context.Background(), password); !IsConfig(err) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestWrongPasswordIsCorrupt(t *testing.T) {
	f := newFixture(t, Interactive, map[string]string{"a": "a"})
	f.pass(t, StateCreating)
	db := f.read(t, sigdb.DatabaseName)
	f.notes.msgs = nil

	rep, err := f.mon.RunPass(context.Background(), []byte("wrong"))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if rep.State != StateCorrupt {
		t.Fatalf("state = %s", rep.State)
	}
	var ce *sigdb.CorruptError
	if !errors.As(rep.Corrupt, &ce) {
		t.Fatalf("corrupt cause = %v", rep.Corrupt)
	}
	if f.prompt.asked != 0 {
		t.Fatal("asked to restore without a backup")
	}
	if !reflect.DeepEqual(f.notes.msgs, []string{msgNoBackup}) {
		t.Fatalf("notifications = %v", f.notes.msgs)
	}
	if !bytes.Equal(db, f.read(t, sigdb.DatabaseName)) {
		t.Fatal("corrupt pass modified the database")
	}
}

// tamperThenCorrupt leaves a backup in place and garbage in the database.
func tamperThenCorrupt(t *testing.T, f *fixture) []byte {
	t.Helper()
	f.pass(t, StateCreating)
	f.write(t, "a", "changed")
	f.pass(t, StateTampered)
	backup := f.read(t, sigdb.BackupName)
	f.write(t, sigdb.DatabaseName, "definitely not a database, just some bytes")
	f.notes.msgs = nil
	return backup
}

func TestCorruptInteractiveRestore(t *testing.T) {
	f := newFixture(t, Interactive, map[string]string{"a": "a"})
	backup := tamperThenCorrupt(t, f)

	rep := f.pass(t, StateCorrupt)
	if f.prompt.asked != 1 || !rep.Restored {
		t.Fatalf("asked %d times, restored %v", f.prompt.asked, rep.Restored)
	}
	if !bytes.Equal(f.read(t, sigdb.DatabaseName), backup) {
		t.Fatal("database is not the backup")
	}
	if f.exists(sigdb.BackupName) {
		t.Fatal("backup slot still present after restore")
	}
	// The restored database predates the edit to a.
	rep = f.pass(t, StateTampered)
	if !reflect.DeepEqual(rep.Result.Altered, []string{"a"}) {
		t.Fatalf("result = %+v", rep.Result)
	}
}

func TestCorruptInteractiveDeclined(t *testing.T) {
	f := newFixture(t, Interactive, map[string]string{"a": "a"})
	backup := tamperThenCorrupt(t, f)
	f.prompt.yes = false

	rep := f.pass(t, StateCorrupt)
	if rep.Restored {
		t.Fatal("restored after a no")
	}
	if !bytes.Equal(f.read(t, sigdb.BackupName), backup) {
		t.Fatal("backup changed")
	}
	if string(f.read(t, sigdb.DatabaseName)) != "definitely not a database, just some bytes" {
		t.Fatal("corrupt database was touched")
	}
}

func TestCorruptDaemonArchivesEvidence(t *testing.T) {
	f := newFixture(t, Daemon, map[string]string{"a": "a"})
	evidence := storage.NewFileBlobStore(t.TempDir())
	f.mon.opts.Evidence = evidence
	backup := tamperThenCorrupt(t, f)

	rep := f.pass(t, StateCorrupt)
	if f.prompt.asked != 0 || rep.Restored {
		t.Fatal("daemon mode prompted or restored")
	}
	if !reflect.DeepEqual(f.notes.msgs, []string{msgCorrupt}) {
		t.Fatalf("notifications = %v", f.notes.msgs)
	}
	if !strings.HasPrefix(rep.Evidence, "corrupt-") {
		t.Fatalf("evidence = %q", rep.Evidence)
	}
	got, err := evidence.Get(context.Background(), rep.Evidence)
	if err != nil {
		t.Fatalf("evidence get: %v", err)
	}
	live := f.read(t, sigdb.DatabaseName)
	if !bytes.Equal(got, live) {
		t.Fatal("evidence differs from the corrupt database")
	}
	if !bytes.Equal(f.read(t, sigdb.BackupName), backup) {
		t.Fatal("daemon touched the backup")
	}
}

func TestDamagedKeyKeepsPreviousBackup(t *testing.T) {
	for _, mode := range []Mode{Daemon, Interactive} {
		f := newFixture(t, mode, map[string]string{"a": "a"})
		f.prompt.yes = false
		f.pass(t, StateCreating)
		f.write(t, "a", "first change")
		f.pass(t, StateTampered)
		backup := f.read(t, sigdb.BackupName)
		live := f.read(t, sigdb.DatabaseName)

		f.write(t, "a", "second change")
		f.write(t, sigdb.PrivateKeyName, "not a sealed key")
		rep := f.pass(t, StateCorrupt)
		if rep.BackupWritten {
			t.Fatalf("mode %d: backup written", mode)
		}
		var ce *sigdb.CorruptError
		if !errors.As(rep.Corrupt, &ce) || ce.Slot != sigdb.PrivateKeyName {
			t.Fatalf("mode %d: corrupt = %v", mode, rep.Corrupt)
		}
		if !bytes.Equal(f.read(t, sigdb.BackupName), backup) {
			t.Fatalf("mode %d: previous backup overwritten", mode)
		}
		if !bytes.Equal(f.read(t, sigdb.DatabaseName), live) {
			t.Fatalf("mode %d: live database rewritten", mode)
		}
	}
}

func TestRecreateDropsStaleBackup(t *testing.T) {
	f := newFixture(t, Interactive, map[string]string{"a": "a"})
	f.pass(t, StateCreating)
	f.write(t, "a", "b")
	f.pass(t, StateTampered)
	if !f.exists(sigdb.BackupName) {
		t.Fatal("no backup after tampered pass")
	}
	if err := os.Remove(filepath.Join(f.dir, sigdb.DatabaseName)); err != nil {
		t.Fatal(err)
	}

	f.pass(t, StateCreating)
	if f.exists(sigdb.BackupName) {
		t.Fatal("backup from the previous baseline survived")
	}
	f.pass(t, StateClean)
}

func TestSymlinkedDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	target := t.TempDir()
	if err := os.WriteFile(filepath.Join(target, "a.txt"), []byte("a"), 0o600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(t.TempDir(), "watched")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, Daemon, nil)
	f.dir = link
	mon, err := New(Options{
		Dir:      link,
		Mode:     Daemon,
		Suite:    cr.NewSuite(cr.TestKDF(), nil, cr.KeyGen{}),
		Notifier: f.notes,
		Audit:    f.audit,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	f.mon = mon

	rep := f.pass(t, StateCreating)
	if !reflect.DeepEqual(rep.Result.Unchanged, []string{"a.txt"}) {
		t.Fatalf("signed %v", rep.Result.Unchanged)
	}
	f.write(t, "a.txt", "changed")
	f.write(t, "evil.sh", "x")
	rep = f.pass(t, StateTampered)
	if !reflect.DeepEqual(rep.Result.Altered, []string{"a.txt"}) || !reflect.DeepEqual(rep.Result.Added, []string{"evil.sh"}) {
		t.Fatalf("result = %+v", rep.Result)
	}
}

func TestNotifierFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, Daemon, map[string]string{"a": "a"})
	f.notes.err = errors.New("no display")
	f.pass(t, StateCreating)
	f.write(t, "a", "b")
	f.pass(t, StateTampered)
}

func TestReportsAndAudit(t *testing.T) {
	f := newFixture(t, Daemon, map[string]string{"a": "a"})
	f.pass(t, StateCreating)
	f.write(t, "b", "b")
	f.pass(t, StateTampered)
	f.pass(t, StateClean)

	var states []string
	for _, r := range f.reports.got {
		states = append(states, r.State)
		if r.PassID == "" || r.Directory != f.dir || r.Finished.Before(r.Started) {
			t.Fatalf("bad report %+v", r)
		}
	}
	if !reflect.DeepEqual(states, []string{"created", "tampered", "clean"}) {
		t.Fatalf("states = %v", states)
	}
	if !reflect.DeepEqual(f.reports.got[1].Added, []string{"b"}) {
		t.Fatalf("report added = %v", f.reports.got[1].Added)
	}
	if err := f.audit.Verify(); err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(f.audit.Entries()) < 4 {
		t.Fatalf("audit has %d entries", len(f.audit.Entries()))
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := newFixture(t, Daemon, map[string]string{"a": "a"})
	f.pass(t, StateCreating)
	f.write(t, "a", "b")
	f.pass(t, StateTampered)
	f.write(t, DaemonLogName, "log")
	f.write(t, sigdb.LegacyPrivateKeyName, "old key")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := f.mon.Remove(ctx); err != nil {
			t.Fatalf("remove #%d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "a" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("left %v", names)
	}
	st, err := f.mon.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st != (Status{}) {
		t.Fatalf("status after remove = %+v", st)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Daemon, map[string]string{"a": "a"})
	ctx := context.Background()
	if st, _ := f.mon.Status(ctx); st.Monitored() {
		t.Fatal("monitored before the first pass")
	}
	f.pass(t, StateCreating)
	st, err := f.mon.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Status{Salt: true, Database: true, PrivateKey: true, PublicKey: true}
	if st != want {
		t.Fatalf("status = %+v", st)
	}
}

func TestVerifyFile(t *testing.T) {
	f := newFixture(t, Daemon, map[string]string{"a": "a", "b": "b"})
	ctx := context.Background()
	if _, err := f.mon.VerifyFile(ctx, password, "a"); !errors.Is(err, ErrNotMonitored) {
		t.Fatalf("err = %v, want ErrNotMonitored", err)
	}
	f.pass(t, StateCreating)
	f.write(t, "b", "changed")

	if ok, err := f.mon.VerifyFile(ctx, password, "a"); err != nil || !ok {
		t.Fatalf("a: %v, %v", ok, err)
	}
	if ok, err := f.mon.VerifyFile(ctx, password, "b"); err != nil || ok {
		t.Fatalf("b: %v, %v", ok, err)
	}
	if _, err := f.mon.VerifyFile(ctx, password, "c"); !errors.Is(err, ErrUnknownFile) {
		t.Fatalf("err = %v, want ErrUnknownFile", err)
	}
	var ce *sigdb.CorruptError
	if _, err := f.mon.VerifyFile(ctx, []byte("nope"), "a"); !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CorruptError", err)
	}
}
