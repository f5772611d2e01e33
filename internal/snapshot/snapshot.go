// Package snapshot hashes the regular files under a directory and compares
// the result with a signature database.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/carolinafsilva/estou-a-ver/internal/sigdb"
)

// Hasher computes the digest of a file's content.
type Hasher interface {
	Hash(r io.Reader) ([]byte, error)
}

type Options struct {
	// Exclude holds doublestar patterns matched against slash separated
	// relative names, e.g. "build/**" or "**/*.tmp".
	Exclude []string
}

// Skip is a file the walk saw but could not record.
type Skip struct {
	Name   string
	Reason string
}

// Snapshot maps relative names to content digests.
type Snapshot struct {
	Root    string
	files   map[string][]byte
	Skipped []Skip
}

// Hidden reports whether any component of the slash separated name starts
// with a dot. The monitor's own state files are all hidden.
func Hidden(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// Take walks root and hashes every regular, non-hidden file. If root is
// itself a symlink it is resolved once; symlinks below it are never
// followed. A failure to read root itself is returned; files that cannot be
// read are listed in Skipped.
func Take(ctx context.Context, root string, h Hasher, opts Options) (*Snapshot, error) {
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("snapshot: bad exclude pattern %q", p)
		}
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot: %s is not a directory", root)
	}
	// WalkDir does not descend into a symlinked root.
	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	s := &Snapshot{Root: root, files: make(map[string][]byte)}
	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == walkRoot {
			return walkErr
		}
		rel, err := filepath.Rel(walkRoot, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if walkErr != nil {
			s.skip(name, walkErr.Error())
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if excluded(name, opts.Exclude) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if err := sigdb.ValidName(name); err != nil {
			s.skip(name, err.Error())
			return nil
		}
		digest, err := hashFile(path, h)
		if err != nil {
			s.skip(name, err.Error())
			return nil
		}
		s.files[name] = digest
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return s, nil
}

func excluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func hashFile(path string, h Hasher) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return h.Hash(f)
}

func (s *Snapshot) skip(name, reason string) {
	s.Skipped = append(s.Skipped, Skip{Name: name, Reason: reason})
}

func (s *Snapshot) Len() int { return len(s.files) }

func (s *Snapshot) Digest(name string) ([]byte, bool) {
	d, ok := s.files[name]
	return d, ok
}

// Names returns the recorded names in sorted order.
func (s *Snapshot) Names() []string {
	out := make([]string, 0, len(s.files))
	for n := range s.files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Hashes returns the snapshot as input for signing, sorted by name.
func (s *Snapshot) Hashes() []sigdb.FileHash {
	names := s.Names()
	out := make([]sigdb.FileHash, len(names))
	for i, n := range names {
		out[i] = sigdb.FileHash{Name: n, Digest: s.files[n]}
	}
	return out
}
