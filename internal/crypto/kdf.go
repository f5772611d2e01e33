package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize = 32 // AES-256 / XChaCha20 key
	IVSize  = 16 // one AES block

	seedSize = 32
)

// KDF stretches a password into a fixed-size seed.
type KDF interface {
	Name() string
	Derive(password, salt []byte) []byte
}

type Argon2idKDF struct {
	M uint32 // KiB
	T uint32
	P uint8
}

func NewArgon2idKDF() Argon2idKDF {
	return Argon2idKDF{M: 64 * 1024, T: 3, P: 4}
}

// TestKDF is a deliberately cheap profile for unit tests.
func TestKDF() Argon2idKDF {
	return Argon2idKDF{M: 8 * 1024, T: 1, P: 1}
}

func (a Argon2idKDF) Name() string { return "argon2id" }

func (a Argon2idKDF) Derive(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, a.T, a.M, a.P, seedSize)
}

type PBKDF2KDF struct {
	Iterations int
}

func NewPBKDF2KDF() PBKDF2KDF { return PBKDF2KDF{Iterations: 600_000} }

func (p PBKDF2KDF) Name() string { return "pbkdf2-sha256" }

func (p PBKDF2KDF) Derive(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, p.Iterations, seedSize, sha256.New)
}

// expandKeyMaterial splits a KDF seed into an independent key and IV.
func expandKeyMaterial(seed, salt []byte) (KeyMaterial, error) {
	stream := hkdf.New(sha256.New, seed, salt, []byte("estou-a-ver/key-material/v1"))
	km := KeyMaterial{Key: make([]byte, KeySize), IV: make([]byte, IVSize)}
	if _, err := io.ReadFull(stream, km.Key); err != nil {
		return KeyMaterial{}, fmt.Errorf("crypto: expand key: %w", err)
	}
	if _, err := io.ReadFull(stream, km.IV); err != nil {
		km.Wipe()
		return KeyMaterial{}, fmt.Errorf("crypto: expand iv: %w", err)
	}
	return km, nil
}
