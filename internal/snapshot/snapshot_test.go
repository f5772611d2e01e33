package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	cr "github.com/carolinafsilva/estou-a-ver/internal/crypto"
	"github.com/carolinafsilva/estou-a-ver/internal/sigdb"
)

var suite = cr.NewSuite(cr.TestKDF(), nil, cr.KeyGen{})

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func take(t *testing.T, dir string, opts Options) *Snapshot {
	t.Helper()
	s, err := Take(context.Background(), dir, suite, opts)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	return s
}

// signed builds a database whose records are the signatures of snap.
func signed(t *testing.T, snap *Snapshot) *sigdb.Database {
	t.Helper()
	priv, pub, err := suite.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	var records []sigdb.Record
	for _, h := range snap.Hashes() {
		sig, err := suite.Sign(priv, h.Digest)
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, sigdb.Record{Name: h.Name, Signature: sig})
	}
	db, err := sigdb.NewDatabase(records, pub)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func diff(t *testing.T, dir string, db *sigdb.Database) Result {
	t.Helper()
	return Diff(take(t, dir, Options{}), db, NewDigestVerifier(suite, db.PublicKey()))
}

func TestTakeSkipsHiddenAndSpecial(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "sub/b.txt", "b")
	writeFile(t, dir, ".salt", "00")
	writeFile(t, dir, ".git/config", "x")
	writeFile(t, dir, "sub/.hidden", "h")
	if runtime.GOOS != "windows" {
		if err := os.Symlink(filepath.Join(dir, "a.txt"), filepath.Join(dir, "link")); err != nil {
			t.Fatal(err)
		}
	}

	got := take(t, dir, Options{}).Names()
	want := []string{"a.txt", "sub/b.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
}

func TestTakeExclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.go", "k")
	writeFile(t, dir, "build/out.bin", "o")
	writeFile(t, dir, "x/y/scratch.tmp", "s")

	got := take(t, dir, Options{Exclude: []string{"build/**", "**/*.tmp"}}).Names()
	if !reflect.DeepEqual(got, []string{"keep.go"}) {
		t.Fatalf("names = %v", got)
	}
	if _, err := Take(context.Background(), dir, suite, Options{Exclude: []string{"[unclosed"}}); err == nil {
		t.Fatal("expected error for a bad pattern")
	}
}

func TestTakeRootErrors(t *testing.T) {
	if _, err := Take(context.Background(), filepath.Join(t.TempDir(), "nope"), suite, Options{}); err == nil {
		t.Fatal("expected error for missing root")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	writeFile(t, dir, "a", "a")
	if _, err := Take(ctx, dir, suite, Options{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestTakeSymlinkedRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	target := t.TempDir()
	writeFile(t, target, "a.txt", "a")
	writeFile(t, target, "sub/b.txt", "b")
	root := filepath.Join(t.TempDir(), "watched")
	if err := os.Symlink(target, root); err != nil {
		t.Fatal(err)
	}

	snap := take(t, root, Options{})
	if want := []string{"a.txt", "sub/b.txt"}; !reflect.DeepEqual(snap.Names(), want) {
		t.Fatalf("names = %v, want %v", snap.Names(), want)
	}
	if snap.Root != root {
		t.Fatalf("root = %q, want %q", snap.Root, root)
	}

	db := signed(t, snap)
	writeFile(t, target, "a.txt", "changed")
	writeFile(t, target, "evil.sh", "x")
	res := diff(t, root, db)
	if !reflect.DeepEqual(res.Altered, []string{"a.txt"}) || !reflect.DeepEqual(res.Added, []string{"evil.sh"}) {
		t.Fatalf("result = %+v", res)
	}
	sig, _ := db.Signature("sub/b.txt")
	if !VerifyFile(suite, suite, root, "sub/b.txt", sig, db.PublicKey()) {
		t.Fatal("file under symlinked root does not verify")
	}
}

func TestDiffFreshIsClean(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "b.txt", "b")
	db := signed(t, take(t, dir, Options{}))

	r := diff(t, dir, db)
	if !r.Clean() || len(r.Unchanged) != 2 {
		t.Fatalf("result = %+v", r)
	}
}

func TestDiffClassifies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep", "k")
	writeFile(t, dir, "edit", "before")
	writeFile(t, dir, "gone", "g")
	writeFile(t, dir, "old-name", "r")
	db := signed(t, take(t, dir, Options{}))

	writeFile(t, dir, "edit", "after")
	writeFile(t, dir, "new", "n")
	if err := os.Remove(filepath.Join(dir, "gone")); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(dir, "old-name"), filepath.Join(dir, "new-name")); err != nil {
		t.Fatal(err)
	}

	r := diff(t, dir, db)
	want := Result{
		Added:     []string{"new", "new-name"},
		Removed:   []string{"gone", "old-name"},
		Altered:   []string{"edit"},
		Unchanged: []string{"keep"},
	}
	if !reflect.DeepEqual(r, want) {
		t.Fatalf("result = %+v\nwant     %+v", r, want)
	}
	changes := r.Changes()
	if len(changes) != 5 || changes[0] != (Change{"edit", Altered}) {
		t.Fatalf("changes = %v", changes)
	}
}

func TestDiffForeignKeyIsAltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a", "a")
	db := signed(t, take(t, dir, Options{}))
	_, otherPub, err := suite.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	r := Diff(take(t, dir, Options{}), db, NewDigestVerifier(suite, otherPub))
	if !reflect.DeepEqual(r.Altered, []string{"a"}) {
		t.Fatalf("result = %+v", r)
	}
}

func TestVerifyFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "content")
	db := signed(t, take(t, dir, Options{}))
	sig, _ := db.Signature("a.txt")
	pub := db.PublicKey()

	if !VerifyFile(suite, suite, dir, "a.txt", sig, pub) {
		t.Fatal("untouched file does not verify")
	}
	cases := map[string]struct {
		name string
		sig  []byte
		pub  []byte
	}{
		"missing":   {"nope", sig, pub},
		"escape":    {"../a.txt", sig, pub},
		"short sig": {"a.txt", sig[:10], pub},
		"nil sig":   {"a.txt", nil, pub},
		"bad pub":   {"a.txt", sig, []byte("garbage")},
	}
	for label, c := range cases {
		if VerifyFile(suite, suite, dir, c.name, c.sig, c.pub) {
			t.Errorf("%s: verified", label)
		}
	}
	writeFile(t, dir, "a.txt", "changed")
	if VerifyFile(suite, suite, dir, "a.txt", sig, pub) {
		t.Fatal("changed file verified")
	}
}

func TestHidden(t *testing.T) {
	for name, want := range map[string]bool{
		"a.txt": false, ".salt": true, "dir/.x": true, ".git/config": true, "a/b.c": false,
	} {
		if Hidden(name) != want {
			t.Errorf("Hidden(%q) = %v", name, !want)
		}
	}
}
