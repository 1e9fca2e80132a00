package domain

import "time"

// ProductRecord is the descriptive data bound to a ledger entry at issuance.
// It is immutable once anchored; ProductID is its identity.
type ProductRecord struct {
	ProductID   string            `json:"productId"`
	Temperature float64           `json:"temperature"`
	Location    string            `json:"location"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Fingerprint is the lowercase hex SHA-256 digest of a canonical ProductRecord.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// Issuance is the unit persisted after a successful anchor and signature.
type Issuance struct {
	Record      ProductRecord
	Fingerprint Fingerprint
	Attestation Attestation
	IssuedAt    time.Time
}
