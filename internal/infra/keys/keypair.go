package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"qrtrust/internal/domain"
)

type Algorithm string

const (
	AlgorithmEd25519 Algorithm = "ed25519"
	// AlgorithmRSA is RSASSA-PKCS1-v1_5 over SHA-256.
	AlgorithmRSA Algorithm = "rsa"

	minRSABits = 2048
)

// KeyPair is the issuer key material, loaded once at startup. The private key
// never leaves the package; callers only get a Signer and a Verifier.
type KeyPair struct {
	alg     Algorithm
	private crypto.Signer
	public  crypto.PublicKey
}

// LoadKeyPair reads PEM files from disk. Every failure wraps
// domain.ErrSigningUnavailable; paths are reported, key bytes are not.
func LoadKeyPair(privatePath, publicPath string) (*KeyPair, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key %q: %v", domain.ErrSigningUnavailable, privatePath, err)
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read public key %q: %v", domain.ErrSigningUnavailable, publicPath, err)
	}
	return ParseKeyPair(privPEM, pubPEM)
}

func ParseKeyPair(privPEM, pubPEM []byte) (*KeyPair, error) {
	private, alg, err := parsePrivateKey(privPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}
	public, err := parsePublicKey(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}
	if !publicKeysEqual(private.Public(), public) {
		return nil, fmt.Errorf("%w: public key does not match private key", domain.ErrSigningUnavailable)
	}
	return &KeyPair{alg: alg, private: private, public: public}, nil
}

// NewEd25519KeyPair builds a pair from a 32-byte seed. Used by tests and
// local tooling that needs reproducible keys.
func NewEd25519KeyPair(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes", domain.ErrSigningUnavailable, ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{alg: AlgorithmEd25519, private: priv, public: priv.Public()}, nil
}

func (k *KeyPair) Algorithm() Algorithm {
	return k.alg
}

func (k *KeyPair) Signer() *Signer {
	return &Signer{alg: k.alg, key: k.private}
}

func (k *KeyPair) Verifier() *Verifier {
	return &Verifier{alg: k.alg, key: k.public}
}

func parsePrivateKey(data []byte) (crypto.Signer, Algorithm, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, "", fmt.Errorf("private key: no PEM block found")
	}
	//nolint:staticcheck // legacy encrypted PEM is detected only to reject it
	if block.Type == "ENCRYPTED PRIVATE KEY" || x509.IsEncryptedPEMBlock(block) {
		return nil, "", fmt.Errorf("private key: encrypted PEM is not supported")
	}

	var parsed any
	var err error
	switch block.Type {
	case "RSA PRIVATE KEY":
		parsed, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, "", fmt.Errorf("private key: unsupported PEM type %q", block.Type)
	}
	if err != nil {
		return nil, "", fmt.Errorf("private key: malformed %s", block.Type)
	}

	switch key := parsed.(type) {
	case ed25519.PrivateKey:
		return key, AlgorithmEd25519, nil
	case *rsa.PrivateKey:
		if key.N.BitLen() < minRSABits {
			return nil, "", fmt.Errorf("private key: rsa key must be at least %d bits", minRSABits)
		}
		return key, AlgorithmRSA, nil
	default:
		return nil, "", fmt.Errorf("private key: unsupported key type %T", parsed)
	}
}

func parsePublicKey(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("public key: no PEM block found")
	}
	var parsed any
	var err error
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err = x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		parsed, err = x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("public key: unsupported PEM type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("public key: malformed %s", block.Type)
	}
	switch key := parsed.(type) {
	case ed25519.PublicKey, *rsa.PublicKey:
		return key, nil
	default:
		return nil, fmt.Errorf("public key: unsupported key type %T", parsed)
	}
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	eq, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && eq.Equal(b)
}

func algorithmOf(key crypto.PublicKey) (Algorithm, bool) {
	switch key.(type) {
	case ed25519.PublicKey:
		return AlgorithmEd25519, true
	case *rsa.PublicKey:
		return AlgorithmRSA, true
	default:
		return "", false
	}
}
