package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Cipher encrypts whole blobs under KeyMaterial.
type Cipher interface {
	Name() string
	Encrypt(km KeyMaterial, plaintext []byte) ([]byte, error)
	Decrypt(km KeyMaterial, ciphertext []byte) ([]byte, error)
}

// AESCBC is AES-256-CBC with PKCS#7 padding and the IV taken from the key
// material. It does not authenticate: decrypting under the wrong key
// usually fails the padding check, but not always.
type AESCBC struct{}

func (AESCBC) Name() string { return "aes-256-cbc" }

func (AESCBC) Encrypt(km KeyMaterial, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(km.Key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, km.IV).CryptBlocks(out, padded)
	Zero(padded)
	return out, nil
}

func (AESCBC) Decrypt(km KeyMaterial, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of %d", ErrDecrypt, len(ciphertext), aes.BlockSize)
	}
	block, err := aes.NewCipher(km.Key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, km.IV).CryptBlocks(out, ciphertext)
	pt, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		Zero(out)
		return nil, err
	}
	return pt, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
		}
	}
	return b[:len(b)-n], nil
}
