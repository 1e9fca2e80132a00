package domain

import (
	"bytes"
	"encoding/base64"
)

// LedgerReference is the opaque identifier the ledger returns for a confirmed
// anchoring transaction.
type LedgerReference string

func (r LedgerReference) String() string {
	return string(r)
}

// Attestation is the issuer's endorsement of a ledger transaction. Signature
// covers the UTF-8 bytes of LedgerReference, not the product data.
type Attestation struct {
	LedgerReference LedgerReference
	Signature       []byte
}

func (a Attestation) SignatureBase64() string {
	return base64.StdEncoding.EncodeToString(a.Signature)
}

func (a Attestation) Equal(other Attestation) bool {
	return a.LedgerReference == other.LedgerReference && bytes.Equal(a.Signature, other.Signature)
}
