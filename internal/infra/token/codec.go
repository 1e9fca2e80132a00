package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/fingerprint"
)

const (
	// MaxTokenSize fits the binary capacity of a version 40-L QR code.
	MaxTokenSize     = 2048
	MaxReferenceSize = 256

	fieldSignature = "signature"
	fieldTxHash    = "txHash"
)

// Encode serializes an attestation to the canonical QR payload
// {"signature":"<base64>","txHash":"<ref>"}.
func Encode(att domain.Attestation) ([]byte, error) {
	if err := validateReference(att.LedgerReference.String()); err != nil {
		return nil, err
	}
	if len(att.Signature) == 0 {
		return nil, fmt.Errorf("%w: empty signature", domain.ErrMalformedToken)
	}
	out, err := fingerprint.CanonicalizeAny(map[string]any{
		fieldSignature: att.SignatureBase64(),
		fieldTxHash:    att.LedgerReference.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	if len(out) > MaxTokenSize {
		return nil, fmt.Errorf("%w: token exceeds %d bytes", domain.ErrMalformedToken, MaxTokenSize)
	}
	return out, nil
}

// Decode parses a scanned payload. Any structural problem is reported as
// domain.ErrMalformedToken; authenticity is not checked here.
func Decode(data []byte) (domain.Attestation, error) {
	if len(data) == 0 {
		return domain.Attestation{}, malformed("empty token")
	}
	if len(data) > MaxTokenSize {
		return domain.Attestation{}, malformed(fmt.Sprintf("token exceeds %d bytes", MaxTokenSize))
	}

	fields, err := readFlatObject(data)
	if err != nil {
		return domain.Attestation{}, malformed(err.Error())
	}
	if len(fields) != 2 {
		return domain.Attestation{}, malformed("token must contain exactly signature and txHash")
	}
	ref, okRef := fields[fieldTxHash]
	sigB64, okSig := fields[fieldSignature]
	if !okRef || !okSig {
		return domain.Attestation{}, malformed("token must contain exactly signature and txHash")
	}
	return DecodeFields(ref, sigB64)
}

// DecodeFields builds an attestation from a reference and a base64 signature
// presented separately. The signature must be canonical standard base64: a
// final character with non-zero padding bits is malformed, not a different
// signature. When only the signature is bad the returned attestation still
// carries the reference.
func DecodeFields(ref, signatureB64 string) (domain.Attestation, error) {
	if err := validateReference(ref); err != nil {
		return domain.Attestation{}, err
	}
	att := domain.Attestation{LedgerReference: domain.LedgerReference(ref)}
	sig, err := base64.StdEncoding.Strict().DecodeString(signatureB64)
	if err != nil || len(sig) == 0 {
		return att, malformed("signature is not valid base64")
	}
	att.Signature = sig
	return att, nil
}

// readFlatObject reads a single JSON object whose values are all strings,
// rejecting duplicate keys and trailing data.
func readFlatObject(data []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.New("invalid JSON")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("token must be a JSON object")
	}

	fields := make(map[string]string, 2)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.New("invalid JSON")
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.New("invalid JSON")
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate field %q", key)
		}
		if key != fieldSignature && key != fieldTxHash {
			return nil, fmt.Errorf("unknown field %q", key)
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, errors.New("invalid JSON")
		}
		value, ok := valTok.(string)
		if !ok {
			return nil, fmt.Errorf("field %q must be a string", key)
		}
		fields[key] = value
	}

	tok, err = dec.Token()
	if err != nil {
		return nil, errors.New("invalid JSON")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '}' {
		return nil, errors.New("invalid JSON")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after token")
	}
	return fields, nil
}

func validateReference(ref string) error {
	if ref == "" {
		return malformed("empty txHash")
	}
	if len(ref) > MaxReferenceSize {
		return malformed(fmt.Sprintf("txHash exceeds %d bytes", MaxReferenceSize))
	}
	for i := 0; i < len(ref); i++ {
		if ref[i] < 0x21 || ref[i] > 0x7e {
			return malformed("txHash must be printable ASCII")
		}
	}
	return nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedToken, reason)
}
