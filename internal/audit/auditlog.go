// Package audit keeps a hash chained record of what each monitoring pass
// observed and did.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

type Entry struct {
	TS   int64  `json:"ts"`
	Pass string `json:"pass"`
	What string `json:"what"`
	Hash string `json:"hash"`
}

type Log struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
	now      func() time.Time
}

func New() *Log { return &Log{now: time.Now} }

func chain(prev []byte, pass, what string) []byte {
	h := sha256.New()
	h.Write(prev)
	h.Write([]byte(pass))
	h.Write([]byte{0})
	h.Write([]byte(what))
	return h.Sum(nil)
}

func (l *Log) Append(pass, what string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := chain(l.lastHash, pass, what)
	l.lastHash = sum
	e := Entry{TS: l.now().Unix(), Pass: pass, What: what, Hash: hex.EncodeToString(sum)}
	l.entries = append(l.entries, e)
	return e
}

func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var prev []byte
	for i, e := range l.entries {
		sum := chain(prev, e.Pass, e.What)
		if hex.EncodeToString(sum) != e.Hash {
			return fmt.Errorf("audit chain broken at entry %d", i)
		}
		prev = sum
	}
	return nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Head returns the hash of the newest entry, or "" for an empty log.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return hex.EncodeToString(l.lastHash)
}
