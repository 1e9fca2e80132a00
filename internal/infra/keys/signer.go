package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"qrtrust/internal/domain"
)

// Signer produces attestation signatures over the UTF-8 bytes of a ledger
// reference. Both supported schemes are deterministic.
type Signer struct {
	alg Algorithm
	key crypto.Signer
}

func (s *Signer) Sign(ref domain.LedgerReference) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, domain.ErrSigningUnavailable
	}
	if strings.TrimSpace(ref.String()) == "" {
		return nil, fmt.Errorf("%w: empty ledger reference", domain.ErrSigningUnavailable)
	}
	payload := []byte(ref)

	switch s.alg {
	case AlgorithmEd25519:
		sig, err := s.key.Sign(nil, payload, crypto.Hash(0))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
		}
		return sig, nil
	case AlgorithmRSA:
		digest := sha256.Sum256(payload)
		sig, err := s.key.Sign(rand.Reader, digest[:], crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
		}
		return sig, nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", domain.ErrSigningUnavailable, s.alg)
	}
}

func (s *Signer) Algorithm() Algorithm {
	return s.alg
}

// Verifier checks attestation signatures. It only ever holds a public key.
type Verifier struct {
	alg Algorithm
	key crypto.PublicKey
}

// ParseVerifier builds a Verifier from a PEM public key, as published by the
// issuer key endpoint.
func ParseVerifier(pubPEM []byte) (*Verifier, error) {
	key, err := parsePublicKey(pubPEM)
	if err != nil {
		return nil, err
	}
	alg, _ := algorithmOf(key)
	return &Verifier{alg: alg, key: key}, nil
}

func LoadVerifier(path string) (*Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %q: %w", path, err)
	}
	return ParseVerifier(data)
}

// Verify returns domain.ErrInvalidSignature for any signature that does not
// cover exactly ref under the issuer key.
func (v *Verifier) Verify(ref domain.LedgerReference, signature []byte) error {
	if v == nil || v.key == nil {
		return errors.New("verifier has no public key")
	}
	if len(signature) == 0 {
		return fmt.Errorf("%w: empty signature", domain.ErrInvalidSignature)
	}
	payload := []byte(ref)

	switch key := v.key.(type) {
	case ed25519.PublicKey:
		if len(signature) != ed25519.SignatureSize || !ed25519.Verify(key, payload, signature) {
			return domain.ErrInvalidSignature
		}
	case *rsa.PublicKey:
		digest := sha256.Sum256(payload)
		if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
			return domain.ErrInvalidSignature
		}
	default:
		return fmt.Errorf("unsupported public key type %T", v.key)
	}
	return nil
}

func (v *Verifier) Algorithm() Algorithm {
	return v.alg
}

// PublicKeyPEM renders the verifier key as a PKIX "PUBLIC KEY" block.
func (v *Verifier) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(v.key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
