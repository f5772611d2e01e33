package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// SaltSize is the length of a freshly generated KDF salt.
const SaltSize = 16

var (
	ErrDecrypt      = errors.New("crypto: malformed ciphertext")
	ErrEmptySalt    = errors.New("crypto: empty salt")
	ErrInvalidKey   = errors.New("crypto: invalid key material")
	ErrUnknownKey   = errors.New("crypto: unsupported key type")
	ErrMalformedPEM = errors.New("crypto: malformed PEM block")
)

// KeyMaterial is the symmetric key and IV derived from a password and salt.
// It is never persisted.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

// Valid reports whether km has the sizes every Cipher expects.
func (km KeyMaterial) Valid() bool {
	return len(km.Key) == KeySize && len(km.IV) == IVSize
}

// Wipe zeroes both halves in place.
func (km KeyMaterial) Wipe() {
	Zero(km.Key)
	Zero(km.IV)
}

// Provider is the capability set the monitor needs from a crypto suite.
// Implementations must be safe to call from a single goroutine at a time.
type Provider interface {
	Hash(r io.Reader) ([]byte, error)
	DeriveKey(password, salt []byte) ([]byte, KeyMaterial, error)
	Encrypt(km KeyMaterial, plaintext []byte) ([]byte, error)
	Decrypt(km KeyMaterial, ciphertext []byte) ([]byte, error)
	GenerateKeyPair() (privPEM, pubPEM []byte, err error)
	Sign(privPEM, digest []byte) ([]byte, error)
	Verify(pubPEM, digest, sig []byte) bool
}

// Suite bundles a KDF, a cipher and a signing algorithm into a Provider.
type Suite struct {
	kdf    KDF
	cipher Cipher
	keygen KeyGen
}

// NewSuite builds a Suite. Nil components fall back to the defaults
// (Argon2id, AES-256-CBC, Ed25519).
func NewSuite(kdf KDF, c Cipher, keygen KeyGen) *Suite {
	if kdf == nil {
		kdf = NewArgon2idKDF()
	}
	if c == nil {
		c = AESCBC{}
	}
	if keygen.Algo == "" {
		keygen.Algo = AlgoEd25519
	}
	return &Suite{kdf: kdf, cipher: c, keygen: keygen}
}

// DefaultSuite returns the suite used when no configuration is given.
func DefaultSuite() *Suite { return NewSuite(nil, nil, KeyGen{}) }

func (s *Suite) KDF() KDF       { return s.kdf }
func (s *Suite) Cipher() Cipher { return s.cipher }
func (s *Suite) KeyGen() KeyGen { return s.keygen }

// Hash returns the SHA-256 digest of everything read from r.
func (s *Suite) Hash(r io.Reader) ([]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// DeriveKey derives KeyMaterial from password and salt. A nil salt makes
// DeriveKey generate a fresh one, which is returned alongside the material.
func (s *Suite) DeriveKey(password, salt []byte) ([]byte, KeyMaterial, error) {
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, KeyMaterial{}, fmt.Errorf("crypto: generate salt: %w", err)
		}
	}
	if len(salt) == 0 {
		return nil, KeyMaterial{}, ErrEmptySalt
	}
	seed := s.kdf.Derive(password, salt)
	defer Zero(seed)
	km, err := expandKeyMaterial(seed, salt)
	if err != nil {
		return nil, KeyMaterial{}, err
	}
	return salt, km, nil
}

func (s *Suite) Encrypt(km KeyMaterial, plaintext []byte) ([]byte, error) {
	if !km.Valid() {
		return nil, ErrInvalidKey
	}
	return s.cipher.Encrypt(km, plaintext)
}

func (s *Suite) Decrypt(km KeyMaterial, ciphertext []byte) ([]byte, error) {
	if !km.Valid() {
		return nil, ErrInvalidKey
	}
	return s.cipher.Decrypt(km, ciphertext)
}

func (s *Suite) GenerateKeyPair() ([]byte, []byte, error) {
	return s.keygen.Generate()
}

func (s *Suite) Sign(privPEM, digest []byte) ([]byte, error) {
	return Sign(privPEM, digest)
}

func (s *Suite) Verify(pubPEM, digest, sig []byte) bool {
	return Verify(pubPEM, digest, sig)
}
