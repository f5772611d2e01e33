package sigdb

import (
	"errors"
	"fmt"
	"sort"
)

// Record is one signed file.
type Record struct {
	Name      string
	Signature []byte
}

// FileHash is a file's SHA-256 digest awaiting a signature.
type FileHash struct {
	Name   string
	Digest []byte
}

// Database is an immutable, name-sorted set of records plus the public key
// that verifies them. Build a new one instead of modifying it.
type Database struct {
	records   []Record
	index     map[string]int
	publicKey []byte
}

var ErrDuplicateName = errors.New("sigdb: duplicate file name")

// NewDatabase copies and sorts records. Names must be unique and valid.
func NewDatabase(records []Record, publicKey []byte) (*Database, error) {
	rs := make([]Record, len(records))
	for i, r := range records {
		if err := ValidName(r.Name); err != nil {
			return nil, err
		}
		rs[i] = Record{Name: r.Name, Signature: append([]byte(nil), r.Signature...)}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Name < rs[j].Name })
	idx := make(map[string]int, len(rs))
	for i, r := range rs {
		if _, dup := idx[r.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, r.Name)
		}
		idx[r.Name] = i
	}
	return &Database{records: rs, index: idx, publicKey: append([]byte(nil), publicKey...)}, nil
}

func (d *Database) Len() int { return len(d.records) }

// Records returns a copy of the records in name order.
func (d *Database) Records() []Record {
	out := make([]Record, len(d.records))
	for i, r := range d.records {
		out[i] = Record{Name: r.Name, Signature: append([]byte(nil), r.Signature...)}
	}
	return out
}

func (d *Database) Names() []string {
	out := make([]string, len(d.records))
	for i, r := range d.records {
		out[i] = r.Name
	}
	return out
}

func (d *Database) Signature(name string) ([]byte, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.records[i].Signature, true
}

func (d *Database) PublicKey() []byte { return d.publicKey }
