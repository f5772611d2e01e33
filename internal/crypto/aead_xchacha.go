package crypto

import (
	"crypto/rand"
	"fmt"

	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// XChaChaCipher is the authenticated alternative to AESCBC. Each blob gets a
// random nonce; the derived IV is bound in as associated data so material
// from another salt never opens it. A wrong password is reported as
// ErrDecrypt, same as any other damage.
type XChaChaCipher struct{}

func (XChaChaCipher) Name() string { return "xchacha20poly1305" }

func (XChaChaCipher) Encrypt(km KeyMaterial, plaintext []byte) ([]byte, error) {
	aead, err := xchacha.NewX(km.Key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, km.IV), nil
}

func (XChaChaCipher) Decrypt(km KeyMaterial, ciphertext []byte) ([]byte, error) {
	aead, err := xchacha.NewX(km.Key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < xchacha.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce := ciphertext[:xchacha.NonceSizeX]
	pt, err := aead.Open(nil, nonce, ciphertext[xchacha.NonceSizeX:], km.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return pt, nil
}
