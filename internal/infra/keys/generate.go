package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
)

type GeneratedKeys struct {
	PrivatePEM []byte
	PublicPEM  []byte
}

// Generate creates a fresh issuer key pair encoded as PKCS#8 / PKIX PEM.
// rsaBits is ignored for ed25519.
func Generate(alg Algorithm, rsaBits int, random io.Reader) (GeneratedKeys, error) {
	if random == nil {
		random = rand.Reader
	}

	var private any
	var public any
	switch alg {
	case AlgorithmEd25519:
		pub, priv, err := ed25519.GenerateKey(random)
		if err != nil {
			return GeneratedKeys{}, fmt.Errorf("generate ed25519 key: %w", err)
		}
		private, public = priv, pub
	case AlgorithmRSA:
		if rsaBits == 0 {
			rsaBits = 3072
		}
		if rsaBits < minRSABits {
			return GeneratedKeys{}, fmt.Errorf("rsa key must be at least %d bits", minRSABits)
		}
		priv, err := rsa.GenerateKey(random, rsaBits)
		if err != nil {
			return GeneratedKeys{}, fmt.Errorf("generate rsa key: %w", err)
		}
		private, public = priv, &priv.PublicKey
	default:
		return GeneratedKeys{}, fmt.Errorf("unsupported algorithm %q", alg)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return GeneratedKeys{}, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return GeneratedKeys{}, fmt.Errorf("marshal public key: %w", err)
	}
	return GeneratedKeys{
		PrivatePEM: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}),
		PublicPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
	}, nil
}
