// Package sigdb owns the encrypted signature database of a monitored
// directory and the signing key pair that produced it.
package sigdb

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log"

	cr "github.com/carolinafsilva/estou-a-ver/internal/crypto"
	"github.com/carolinafsilva/estou-a-ver/internal/storage"
)

// Slot names inside the monitored directory.
const (
	DatabaseName   = ".database.aes"
	BackupName     = ".database_backup.aes"
	PrivateKeyName = ".skpk.pem.aes"
	PublicKeyName  = ".pk.pem"

	// LegacyPrivateKeyName is a plaintext key older releases could leave
	// behind. It is never written, only removed.
	LegacyPrivateKeyName = ".skpk.pem"
)

var (
	ErrNoDatabase = errors.New("sigdb: no database")
	ErrNoBackup   = errors.New("sigdb: no backup")
)

// CorruptError reports a slot that could not be decrypted or parsed. A
// wrong password and a tampered file both end up here.
type CorruptError struct {
	Slot string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("sigdb: %s is corrupt: %v", e.Slot, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

type Store struct {
	slots  storage.SlotStore
	suite  cr.Provider
	logger *log.Logger
}

func New(slots storage.SlotStore, suite cr.Provider, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{slots: slots, suite: suite, logger: logger}
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	return s.slots.Exists(ctx, DatabaseName)
}

func (s *Store) HasBackup(ctx context.Context) (bool, error) {
	return s.slots.Exists(ctx, BackupName)
}

// Create generates a new signing key pair, signs every hash and writes the
// public key, the encrypted private key and the encrypted database, in that
// order. The database is written last so its presence implies the keys.
func (s *Store) Create(ctx context.Context, km cr.KeyMaterial, hashes []FileHash) (*Database, error) {
	priv, pub, err := s.suite.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("sigdb: generate key pair: %w", err)
	}
	_ = cr.LockMemory(priv)
	defer func() {
		cr.Zero(priv)
		_ = cr.UnlockMemory(priv)
	}()

	encPriv, err := s.suite.Encrypt(km, priv)
	if err != nil {
		return nil, fmt.Errorf("sigdb: encrypt private key: %w", err)
	}
	db, err := s.signAll(priv, pub, hashes)
	if err != nil {
		return nil, err
	}
	blob, err := s.seal(km, db)
	if err != nil {
		return nil, err
	}

	if err := s.slots.Put(ctx, PublicKeyName, pub); err != nil {
		return nil, fmt.Errorf("sigdb: write public key: %w", err)
	}
	if err := s.slots.Put(ctx, PrivateKeyName, encPriv); err != nil {
		return nil, fmt.Errorf("sigdb: write private key: %w", err)
	}
	if err := s.slots.Put(ctx, DatabaseName, blob); err != nil {
		return nil, fmt.Errorf("sigdb: write database: %w", err)
	}
	s.logger.Printf("database created with %d records", db.Len())
	return db, nil
}

// Load decrypts and parses the live database.
func (s *Store) Load(ctx context.Context, km cr.KeyMaterial) (*Database, error) {
	return s.load(ctx, km, DatabaseName)
}

// LoadBackup decrypts and parses the backup slot.
func (s *Store) LoadBackup(ctx context.Context, km cr.KeyMaterial) (*Database, error) {
	db, err := s.load(ctx, km, BackupName)
	if errors.Is(err, ErrNoDatabase) {
		return nil, ErrNoBackup
	}
	return db, err
}

func (s *Store) load(ctx context.Context, km cr.KeyMaterial, slot string) (*Database, error) {
	blob, err := s.slots.Get(ctx, slot)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoDatabase
	}
	if err != nil {
		return nil, fmt.Errorf("sigdb: read %s: %w", slot, err)
	}
	pt, err := s.suite.Decrypt(km, blob)
	if err != nil {
		return nil, &CorruptError{Slot: slot, Err: err}
	}
	defer cr.Zero(pt)
	records, err := decode(pt)
	if err != nil {
		return nil, &CorruptError{Slot: slot, Err: err}
	}

	pub, err := s.PublicKey(ctx)
	if err != nil {
		return nil, err
	}
	db, err := NewDatabase(records, pub)
	if err != nil {
		return nil, &CorruptError{Slot: slot, Err: err}
	}
	return db, nil
}

// CheckKeys decrypts the private key and confirms it still matches the
// stored public key. Nothing is written.
func (s *Store) CheckKeys(ctx context.Context, km cr.KeyMaterial) error {
	priv, _, err := s.unlock(ctx, km)
	if err != nil {
		return err
	}
	release(priv)
	return nil
}

// Resign writes a fresh database for hashes using the existing key pair.
// The private key is decrypted only for the duration of the call.
func (s *Store) Resign(ctx context.Context, km cr.KeyMaterial, hashes []FileHash) (*Database, error) {
	priv, pub, err := s.unlock(ctx, km)
	if err != nil {
		return nil, err
	}
	defer release(priv)

	db, err := s.signAll(priv, pub, hashes)
	if err != nil {
		return nil, err
	}
	blob, err := s.seal(km, db)
	if err != nil {
		return nil, err
	}
	if err := s.slots.Put(ctx, DatabaseName, blob); err != nil {
		return nil, fmt.Errorf("sigdb: write database: %w", err)
	}
	s.logger.Printf("database re-signed with %d records", db.Len())
	return db, nil
}

// unlock returns the decrypted private key, locked in memory, and the
// public key it was checked against. Callers must release priv.
func (s *Store) unlock(ctx context.Context, km cr.KeyMaterial) (priv, pub []byte, err error) {
	encPriv, err := s.slots.Get(ctx, PrivateKeyName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, &CorruptError{Slot: PrivateKeyName, Err: err}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sigdb: read private key: %w", err)
	}
	pub, err = s.PublicKey(ctx)
	if err != nil {
		return nil, nil, err
	}
	priv, err = s.suite.Decrypt(km, encPriv)
	if err != nil {
		return nil, nil, &CorruptError{Slot: PrivateKeyName, Err: err}
	}
	_ = cr.LockMemory(priv)
	if err := s.checkPair(priv, pub); err != nil {
		release(priv)
		return nil, nil, err
	}
	return priv, pub, nil
}

func release(priv []byte) {
	cr.Zero(priv)
	_ = cr.UnlockMemory(priv)
}

// checkPair makes sure priv still matches the stored public key, so a
// swapped key file is caught before it produces an unverifiable database.
func (s *Store) checkPair(priv, pub []byte) error {
	probe := sha256.Sum256([]byte("estou-a-ver key check"))
	sig, err := s.suite.Sign(priv, probe[:])
	if err != nil {
		return &CorruptError{Slot: PrivateKeyName, Err: err}
	}
	if !s.suite.Verify(pub, probe[:], sig) {
		return &CorruptError{Slot: PublicKeyName, Err: errors.New("does not match the private key")}
	}
	return nil
}

func (s *Store) signAll(priv, pub []byte, hashes []FileHash) (*Database, error) {
	records := make([]Record, 0, len(hashes))
	for _, h := range hashes {
		sig, err := s.suite.Sign(priv, h.Digest)
		if err != nil {
			return nil, fmt.Errorf("sigdb: sign %s: %w", h.Name, err)
		}
		records = append(records, Record{Name: h.Name, Signature: sig})
	}
	return NewDatabase(records, pub)
}

func (s *Store) seal(km cr.KeyMaterial, db *Database) ([]byte, error) {
	pt, err := encode(db)
	if err != nil {
		return nil, err
	}
	defer cr.Zero(pt)
	blob, err := s.suite.Encrypt(km, pt)
	if err != nil {
		return nil, fmt.Errorf("sigdb: encrypt database: %w", err)
	}
	return blob, nil
}

// PublicKey returns the stored verification key.
func (s *Store) PublicKey(ctx context.Context) ([]byte, error) {
	pub, err := s.slots.Get(ctx, PublicKeyName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &CorruptError{Slot: PublicKeyName, Err: err}
	}
	return pub, err
}

// Raw returns the live database exactly as stored.
func (s *Store) Raw(ctx context.Context) ([]byte, error) {
	b, err := s.slots.Get(ctx, DatabaseName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoDatabase
	}
	return b, err
}

// Backup copies the live database into the backup slot, replacing the
// previous backup.
func (s *Store) Backup(ctx context.Context) error {
	blob, err := s.Raw(ctx)
	if err != nil {
		return err
	}
	if err := s.slots.Put(ctx, BackupName, blob); err != nil {
		return fmt.Errorf("sigdb: write backup: %w", err)
	}
	return nil
}

// Restore moves the backup over the live database, consuming the backup.
func (s *Store) Restore(ctx context.Context) error {
	err := s.slots.Move(ctx, BackupName, DatabaseName)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNoBackup
	}
	if err != nil {
		return fmt.Errorf("sigdb: restore backup: %w", err)
	}
	s.logger.Printf("database restored from backup")
	return nil
}

// DropBackup deletes the backup slot. Deleting a missing backup is not an
// error.
func (s *Store) DropBackup(ctx context.Context) error {
	if err := s.slots.Delete(ctx, BackupName); err != nil {
		return fmt.Errorf("sigdb: delete backup: %w", err)
	}
	return nil
}

// Remove deletes the database, its backup and both key files.
func (s *Store) Remove(ctx context.Context) error {
	var errs []error
	for _, name := range []string{DatabaseName, BackupName, PrivateKeyName, PublicKeyName, LegacyPrivateKeyName} {
		if err := s.slots.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
