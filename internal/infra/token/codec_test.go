package token

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"qrtrust/internal/domain"
)

func TestEncodeIsCanonical(t *testing.T) {
	att := domain.Attestation{LedgerReference: "0xabc", Signature: []byte{0x01, 0x02, 0x03}}
	out, err := Encode(att)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"signature":"AQID","txHash":"0xabc"}`
	if string(out) != want {
		t.Fatalf("got %s want %s", out, want)
	}
}

func TestRoundTrip(t *testing.T) {
	atts := []domain.Attestation{
		{LedgerReference: "0x" + domain.LedgerReference(strings.Repeat("f", 64)), Signature: bytes.Repeat([]byte{0xaa}, 64)},
		{LedgerReference: "8c1f2d3e4b5a69788796a5b4c3d2e1f0", Signature: bytes.Repeat([]byte{0x5c}, 384)},
		{LedgerReference: "x", Signature: []byte{0}},
	}
	for _, att := range atts {
		encoded, err := Encode(att)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !decoded.Equal(att) {
			t.Fatalf("round trip mismatch: %+v != %+v", decoded, att)
		}
	}
}

func TestDecodeAcceptsNonCanonicalWhitespaceAndOrder(t *testing.T) {
	att, err := Decode([]byte(" {\n  \"txHash\": \"0xabc\",\n  \"signature\": \"AQID\"\n} "))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if att.LedgerReference != "0xabc" || !bytes.Equal(att.Signature, []byte{1, 2, 3}) {
		t.Fatalf("unexpected attestation %+v", att)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":              ``,
		"not json":           `hello`,
		"array":              `["AQID","0xabc"]`,
		"missing signature":  `{"txHash":"0xabc"}`,
		"missing txHash":     `{"signature":"AQID"}`,
		"unknown field":      `{"signature":"AQID","txHash":"0xabc","productId":"P100"}`,
		"duplicate field":    `{"signature":"AQID","txHash":"0xabc","txHash":"0xdef"}`,
		"numeric txHash":     `{"signature":"AQID","txHash":12}`,
		"object signature":   `{"signature":{"v":"AQID"},"txHash":"0xabc"}`,
		"empty txHash":       `{"signature":"AQID","txHash":""}`,
		"space in txHash":    `{"signature":"AQID","txHash":"0x ab"}`,
		"non ascii txHash":   `{"signature":"AQID","txHash":"0xé"}`,
		"long txHash":        `{"signature":"AQID","txHash":"` + strings.Repeat("a", MaxReferenceSize+1) + `"}`,
		"bad base64":         `{"signature":"not base64!","txHash":"0xabc"}`,
		"unpadded base64":    `{"signature":"AQI","txHash":"0xabc"}`,
		"empty signature":    `{"signature":"","txHash":"0xabc"}`,
		"trailing data":      `{"signature":"AQID","txHash":"0xabc"}{}`,
		"truncated":          `{"signature":"AQID","txHash":"0xabc"`,
		"oversized":          `{"signature":"` + strings.Repeat("A", MaxTokenSize) + `","txHash":"0xabc"}`,
		"null":               `null`,
		"nested trailing":    `{"signature":"AQID","txHash":"0xabc"} x`,
		"control in txHash":  "{\"signature\":\"AQID\",\"txHash\":\"0x\\u0001\"}",
		"uppercase key typo": `{"Signature":"AQID","txHash":"0xabc"}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(input))
			if !errors.Is(err, domain.ErrMalformedToken) {
				t.Fatalf("expected ErrMalformedToken, got %v", err)
			}
		})
	}
}

func TestEncodeRejectsInvalidAttestation(t *testing.T) {
	if _, err := Encode(domain.Attestation{LedgerReference: "", Signature: []byte{1}}); !errors.Is(err, domain.ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken for empty reference, got %v", err)
	}
	if _, err := Encode(domain.Attestation{LedgerReference: "0xabc"}); !errors.Is(err, domain.ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken for empty signature, got %v", err)
	}
}

func TestDecodeFields(t *testing.T) {
	att, err := DecodeFields("0xabc", "AQID")
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if att.LedgerReference != "0xabc" || !bytes.Equal(att.Signature, []byte{1, 2, 3}) {
		t.Fatalf("unexpected attestation %+v", att)
	}

	// "AQI=" and "AQJ=" name the same bytes; only the canonical form decodes.
	att, err = DecodeFields("0xabc", "AQJ=")
	if !errors.Is(err, domain.ErrMalformedToken) {
		t.Fatalf("expected non-zero padding bits to be malformed, got %v", err)
	}
	if att.LedgerReference != "0xabc" || att.Signature != nil {
		t.Fatalf("a bad signature keeps only the reference, got %+v", att)
	}
	if _, err := DecodeFields("0xabc", "AQI="); err != nil {
		t.Fatalf("canonical padding must decode: %v", err)
	}

	att, err = DecodeFields("", "AQID")
	if !errors.Is(err, domain.ErrMalformedToken) || att.LedgerReference != "" {
		t.Fatalf("expected empty reference to be malformed, got %+v, %v", att, err)
	}
}
