package snapshot

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/carolinafsilva/estou-a-ver/internal/sigdb"
)

type Kind int

const (
	Added Kind = iota + 1
	Removed
	Altered
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Altered:
		return "altered"
	}
	return "unknown"
}

type Change struct {
	Name string
	Kind Kind
}

// Result partitions the union of live and recorded names. Every name lands
// in exactly one bucket and each bucket is sorted.
type Result struct {
	Added     []string
	Removed   []string
	Altered   []string
	Unchanged []string
}

func (r Result) Clean() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Altered) == 0
}

// Changes lists every non-unchanged name ordered by name.
func (r Result) Changes() []Change {
	out := make([]Change, 0, len(r.Added)+len(r.Removed)+len(r.Altered))
	for _, n := range r.Added {
		out = append(out, Change{n, Added})
	}
	for _, n := range r.Removed {
		out = append(out, Change{n, Removed})
	}
	for _, n := range r.Altered {
		out = append(out, Change{n, Altered})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Verifier checks a stored signature against a live digest. It must not
// fail in any way other than returning false.
type Verifier interface {
	Verify(name string, digest, sig []byte) bool
}

type SignatureVerifier interface {
	Verify(pubPEM, digest, sig []byte) bool
}

type digestVerifier struct {
	v   SignatureVerifier
	pub []byte
}

// NewDigestVerifier returns a Verifier that checks signatures under pub.
func NewDigestVerifier(v SignatureVerifier, pub []byte) Verifier {
	return digestVerifier{v: v, pub: pub}
}

func (d digestVerifier) Verify(_ string, digest, sig []byte) bool {
	if len(digest) == 0 || len(sig) == 0 {
		return false
	}
	return d.v.Verify(d.pub, digest, sig)
}

// Diff classifies snap against db. A rename shows up as one removed and one
// added name.
func Diff(snap *Snapshot, db *sigdb.Database, v Verifier) Result {
	var r Result
	for _, name := range snap.Names() {
		sig, ok := db.Signature(name)
		switch {
		case !ok:
			r.Added = append(r.Added, name)
		case v.Verify(name, snap.files[name], sig):
			r.Unchanged = append(r.Unchanged, name)
		default:
			r.Altered = append(r.Altered, name)
		}
	}
	for _, name := range db.Names() {
		if _, ok := snap.files[name]; !ok {
			r.Removed = append(r.Removed, name)
		}
	}
	return r
}

// VerifyFile re-hashes root/name and checks sig under pub. Any failure,
// including a missing or non-local name, yields false.
func VerifyFile(h Hasher, v SignatureVerifier, root, name string, sig, pub []byte) bool {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return false
	}
	path := filepath.Join(root, local)
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	digest, err := hashFile(path, h)
	if err != nil {
		return false
	}
	return NewDigestVerifier(v, pub).Verify(name, digest, sig)
}
