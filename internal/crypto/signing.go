package crypto

import (
	stdcrypto "crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	AlgoEd25519 = "ed25519"
	AlgoRSA     = "rsa"

	// MinRSABits is the smallest RSA modulus accepted for new key pairs.
	MinRSABits = 2048

	pemPrivate = "PRIVATE KEY"
	pemPublic  = "PUBLIC KEY"
)

var ErrRSAKeyTooSmall = errors.New("crypto: RSA key size below 2048 bits")

// KeyGen describes the signing key pair generated for a new database.
type KeyGen struct {
	Algo string
	Bits int // RSA only
}

// Generate returns a PEM encoded PKCS#8 private key and PKIX public key.
func (g KeyGen) Generate() (privPEM, pubPEM []byte, err error) {
	var priv, pub any
	switch g.Algo {
	case AlgoEd25519, "":
		pk, sk, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		priv, pub = sk, pk
		defer Zero(sk)
	case AlgoRSA:
		bits := g.Bits
		if bits == 0 {
			bits = MinRSABits
		}
		if bits < MinRSABits {
			return nil, nil, ErrRSAKeyTooSmall
		}
		sk, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, nil, fmt.Errorf("crypto: generate RSA key: %w", err)
		}
		priv, pub = sk, &sk.PublicKey
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKey, g.Algo)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}
	defer Zero(der)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, nil, err
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: pemPrivate, Bytes: der})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: pemPublic, Bytes: pubDER})
	return privPEM, pubPEM, nil
}

// Sign signs a SHA-256 digest with a PEM encoded private key.
func Sign(privPEM, digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("crypto: digest must be %d bytes", sha256.Size)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil || block.Type != pemPrivate {
		return nil, ErrMalformedPEM
	}
	defer Zero(block.Bytes)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	switch k := key.(type) {
	case ed25519.PrivateKey:
		defer Zero(k)
		return ed25519.Sign(k, digest), nil
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, k, stdcrypto.SHA256, digest)
	default:
		return nil, ErrUnknownKey
	}
}

// Verify checks sig over digest. Any malformed input yields false.
func Verify(pubPEM, digest, sig []byte) bool {
	block, _ := pem.Decode(pubPEM)
	if block == nil || block.Type != pemPublic {
		return false
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false
	}
	switch k := key.(type) {
	case ed25519.PublicKey:
		return len(sig) == ed25519.SignatureSize && ed25519.Verify(k, digest, sig)
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, stdcrypto.SHA256, digest, sig) == nil
	default:
		return false
	}
}
