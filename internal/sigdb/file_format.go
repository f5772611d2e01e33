package sigdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// On-disk record stream, before encryption:
//
//	magic   "EAV\x01"
//	count   uint32, big endian
//	siglen  uint16, big endian, shared by every record
//	count × { namelen uint16 | name | signature[siglen] }
//
// Names are strictly increasing, so the stream is canonical for a set.
const (
	magic      = "EAV\x01"
	headerSize = len(magic) + 4 + 2

	// MaxNameLen bounds a relative file name in bytes.
	MaxNameLen = 4096
)

var (
	ErrMalformed   = errors.New("sigdb: malformed record stream")
	ErrInvalidName = errors.New("sigdb: invalid file name")
)

// ValidName reports whether name can be stored in a database.
func ValidName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), MaxNameLen)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("%w: contains NUL", ErrInvalidName)
	}
	return nil
}

func encode(db *Database) ([]byte, error) {
	if uint64(len(db.records)) > math.MaxUint32 {
		return nil, fmt.Errorf("sigdb: too many records (%d)", len(db.records))
	}
	sigLen := 0
	size := headerSize
	for i, r := range db.records {
		if i == 0 {
			sigLen = len(r.Signature)
		}
		if len(r.Signature) != sigLen {
			return nil, fmt.Errorf("sigdb: signature for %q is %d bytes, want %d", r.Name, len(r.Signature), sigLen)
		}
		size += 2 + len(r.Name) + sigLen
	}
	if sigLen > math.MaxUint16 {
		return nil, fmt.Errorf("sigdb: signature length %d too large", sigLen)
	}

	out := make([]byte, 0, size)
	out = append(out, magic...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(db.records)))
	out = binary.BigEndian.AppendUint16(out, uint16(sigLen))
	for _, r := range db.records {
		out = binary.BigEndian.AppendUint16(out, uint16(len(r.Name)))
		out = append(out, r.Name...)
		out = append(out, r.Signature...)
	}
	return out, nil
}

func decode(b []byte) ([]Record, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(b))
	}
	if string(b[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	count := binary.BigEndian.Uint32(b[len(magic):])
	sigLen := int(binary.BigEndian.Uint16(b[len(magic)+4:]))
	rest := b[headerSize:]

	// Every record needs at least a length prefix, one name byte and a signature.
	if uint64(count)*uint64(3+sigLen) > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: %d records cannot fit in %d bytes", ErrMalformed, count, len(rest))
	}

	records := make([]Record, 0, count)
	prev := ""
	for i := uint32(0); i < count; i++ {
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: truncated at record %d", ErrMalformed, i)
		}
		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if n == 0 || n > MaxNameLen || len(rest) < n+sigLen {
			return nil, fmt.Errorf("%w: bad length at record %d", ErrMalformed, i)
		}
		name := string(rest[:n])
		if err := ValidName(name); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformed, i, err)
		}
		if i > 0 && name <= prev {
			return nil, fmt.Errorf("%w: record %d out of order", ErrMalformed, i)
		}
		sig := append([]byte(nil), rest[n:n+sigLen]...)
		rest = rest[n+sigLen:]
		records = append(records, Record{Name: name, Signature: sig})
		prev = name
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(rest))
	}
	return records, nil
}
