package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/carolinafsilva/estou-a-ver/internal/keys"
	"github.com/carolinafsilva/estou-a-ver/internal/sigdb"
	"github.com/carolinafsilva/estou-a-ver/internal/snapshot"
)

// Remove deletes every state file the monitor owns in the directory. It is
// idempotent; missing files are not errors.
func (m *Monitor) Remove(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if err := m.keys.Remove(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.store.Remove(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.slots.Delete(ctx, DaemonLogName); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("monitor: remove: %w", err)
	}
	m.logger.Printf("monitoring removed from %s", m.opts.Dir)
	return nil
}

// Status reports which state files are present.
type Status struct {
	Salt       bool
	Database   bool
	Backup     bool
	PrivateKey bool
	PublicKey  bool
}

func (s Status) Monitored() bool { return s.Database }

func (m *Monitor) Status(ctx context.Context) (Status, error) {
	var st Status
	for _, slot := range []struct {
		name string
		dst  *bool
	}{
		{keys.SaltName, &st.Salt},
		{sigdb.DatabaseName, &st.Database},
		{sigdb.BackupName, &st.Backup},
		{sigdb.PrivateKeyName, &st.PrivateKey},
		{sigdb.PublicKeyName, &st.PublicKey},
	} {
		ok, err := m.slots.Exists(ctx, slot.name)
		if err != nil {
			return Status{}, fmt.Errorf("monitor: status %s: %w", slot.name, err)
		}
		*slot.dst = ok
	}
	return st, nil
}

// VerifyFile checks one file against its stored signature without running
// a pass. Nothing is written.
func (m *Monitor) VerifyFile(ctx context.Context, password []byte, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := m.store.Exists(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotMonitored
	}
	salt, err := m.keys.LoadSalt(ctx)
	if err != nil {
		return false, &ConfigError{Op: "load salt", Err: err}
	}
	km, err := m.keys.DeriveExisting(password, salt)
	if err != nil {
		return false, &ConfigError{Op: "derive key", Err: err}
	}
	defer km.Wipe()

	db, err := m.store.Load(ctx, km)
	if err != nil {
		return false, err
	}
	sig, ok := db.Signature(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownFile, name)
	}
	return snapshot.VerifyFile(m.suite, m.suite, m.opts.Dir, name, sig, db.PublicKey()), nil
}
