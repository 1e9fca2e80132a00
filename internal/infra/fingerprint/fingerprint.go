package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"qrtrust/internal/domain"
)

const (
	MaxProductIDLen = 128
	MaxLocationLen  = 256
	MaxAttributes   = 32
	MaxAttributeLen = 512

	separator = "-"
)

// Compute derives the fingerprint of a record. The serialization is
// "<productId>-<temperature>-<location>" with ECMAScript number formatting,
// followed by "-<JCS attributes>" when attributes are present.
func Compute(record domain.ProductRecord) (domain.Fingerprint, error) {
	canonical, err := Canonicalize(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return domain.Fingerprint(hex.EncodeToString(sum[:])), nil
}

// Canonicalize returns the exact bytes that Compute hashes.
func Canonicalize(record domain.ProductRecord) ([]byte, error) {
	if err := Validate(record); err != nil {
		return nil, err
	}
	temperature, err := FormatNumber(record.Temperature)
	if err != nil {
		return nil, fmt.Errorf("%w: temperature: %v", domain.ErrInvalidRecord, err)
	}

	var b strings.Builder
	b.WriteString(record.ProductID)
	b.WriteString(separator)
	b.WriteString(temperature)
	b.WriteString(separator)
	b.WriteString(record.Location)

	if len(record.Attributes) > 0 {
		attrs := make(map[string]any, len(record.Attributes))
		for k, v := range record.Attributes {
			attrs[k] = v
		}
		canonical, err := CanonicalizeAny(attrs)
		if err != nil {
			return nil, fmt.Errorf("%w: attributes: %v", domain.ErrInvalidRecord, err)
		}
		b.WriteString(separator)
		b.Write(canonical)
	}
	return []byte(b.String()), nil
}

func Validate(record domain.ProductRecord) error {
	if err := validateText("productId", record.ProductID, MaxProductIDLen); err != nil {
		return err
	}
	if err := validateText("location", record.Location, MaxLocationLen); err != nil {
		return err
	}
	if math.IsNaN(record.Temperature) || math.IsInf(record.Temperature, 0) {
		return fmt.Errorf("%w: temperature must be finite", domain.ErrInvalidRecord)
	}
	if len(record.Attributes) > MaxAttributes {
		return fmt.Errorf("%w: at most %d attributes", domain.ErrInvalidRecord, MaxAttributes)
	}
	for k, v := range record.Attributes {
		if err := validateText("attribute key", k, MaxAttributeLen); err != nil {
			return err
		}
		if !utf8.ValidString(v) || len(v) > MaxAttributeLen || hasControl(v) {
			return fmt.Errorf("%w: attribute %q has an invalid value", domain.ErrInvalidRecord, k)
		}
	}
	return nil
}

// Equal compares two fingerprints ignoring hex case and an optional 0x prefix,
// which some ledgers add on read-back.
func Equal(a, b domain.Fingerprint) bool {
	return normalize(a) == normalize(b) && normalize(a) != ""
}

func normalize(f domain.Fingerprint) string {
	s := strings.ToLower(strings.TrimSpace(string(f)))
	return strings.TrimPrefix(s, "0x")
}

func validateText(field, value string, maxLen int) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidRecord, field)
	}
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrInvalidRecord, field, maxLen)
	}
	if !utf8.ValidString(value) || hasControl(value) {
		return fmt.Errorf("%w: %s contains invalid characters", domain.ErrInvalidRecord, field)
	}
	return nil
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
