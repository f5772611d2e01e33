// Package keys persists the KDF salt and rebuilds KeyMaterial from it.
package keys

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	cr "github.com/carolinafsilva/estou-a-ver/internal/crypto"
	"github.com/carolinafsilva/estou-a-ver/internal/storage"
)

// SaltName is the slot holding the hex encoded salt.
const SaltName = ".salt"

var ErrSaltMissing = errors.New("keys: salt missing or unreadable")

type Salt []byte

type Manager struct {
	slots storage.SlotStore
	suite cr.Provider
}

func NewManager(slots storage.SlotStore, suite cr.Provider) *Manager {
	return &Manager{slots: slots, suite: suite}
}

// DeriveNew generates a fresh salt, derives key material from it and
// persists the salt. It is called once per database creation.
func (m *Manager) DeriveNew(ctx context.Context, password []byte) (Salt, cr.KeyMaterial, error) {
	salt, km, err := m.suite.DeriveKey(password, nil)
	if err != nil {
		return nil, cr.KeyMaterial{}, err
	}
	if err := m.slots.Put(ctx, SaltName, []byte(hex.EncodeToString(salt))); err != nil {
		km.Wipe()
		return nil, cr.KeyMaterial{}, fmt.Errorf("keys: store salt: %w", err)
	}
	return salt, km, nil
}

// DeriveExisting recomputes the key material for a stored salt. A wrong
// password is not detected here.
func (m *Manager) DeriveExisting(password []byte, salt Salt) (cr.KeyMaterial, error) {
	if len(salt) == 0 {
		return cr.KeyMaterial{}, ErrSaltMissing
	}
	_, km, err := m.suite.DeriveKey(password, salt)
	return km, err
}

func (m *Manager) LoadSalt(ctx context.Context) (Salt, error) {
	b, err := m.slots.Get(ctx, SaltName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaltMissing, err)
	}
	salt, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaltMissing, err)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt file", ErrSaltMissing)
	}
	return salt, nil
}

func (m *Manager) Remove(ctx context.Context) error {
	return m.slots.Delete(ctx, SaltName)
}
