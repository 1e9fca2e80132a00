package fingerprint

import (
	"errors"
	"math"
	"strings"
	"testing"

	"qrtrust/internal/domain"
)

func TestComputeKnownVector(t *testing.T) {
	record := domain.ProductRecord{ProductID: "P100", Temperature: 4.5, Location: "Colombo"}
	canonical, err := Canonicalize(record)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(canonical) != "P100-4.5-Colombo" {
		t.Fatalf("unexpected canonical form %q", canonical)
	}
	fp, err := Compute(record)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if fp != "2091c9287cc6055847b5884038cd086a92d82c8898f810fe8bbb3da715243122" {
		t.Fatalf("unexpected fingerprint %s", fp)
	}
}

func TestComputeWithAttributes(t *testing.T) {
	record := domain.ProductRecord{
		ProductID:   "P100",
		Temperature: 4.5,
		Location:    "Colombo",
		Attributes:  map[string]string{"grade": "A", "batch": "B7"},
	}
	canonical, err := Canonicalize(record)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(canonical) != `P100-4.5-Colombo-{"batch":"B7","grade":"A"}` {
		t.Fatalf("unexpected canonical form %q", canonical)
	}
	fp, err := Compute(record)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if fp != "a29497972472df5fec5447b8558cb5489415131b1043420ed759be3a917d9685" {
		t.Fatalf("unexpected fingerprint %s", fp)
	}
}

func TestComputeDeterministic(t *testing.T) {
	record := domain.ProductRecord{
		ProductID:   "P200",
		Temperature: -18.25,
		Location:    "Kandy",
		Attributes:  map[string]string{"z": "1", "a": "2", "m": "3"},
	}
	first, err := Compute(record)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for i := 0; i < 20; i++ {
		next, err := Compute(record)
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		if next != first {
			t.Fatalf("fingerprint changed between runs: %s != %s", next, first)
		}
	}
	if len(first) != 64 || strings.ToLower(string(first)) != string(first) {
		t.Fatalf("fingerprint must be 64 lowercase hex chars, got %q", first)
	}
}

func TestComputeSensitiveToEveryField(t *testing.T) {
	base := domain.ProductRecord{ProductID: "P100", Temperature: 4.5, Location: "Colombo"}
	baseFP, err := Compute(base)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	variants := map[string]domain.ProductRecord{
		"product id":  {ProductID: "P101", Temperature: 4.5, Location: "Colombo"},
		"temperature": {ProductID: "P100", Temperature: 4.6, Location: "Colombo"},
		"location":    {ProductID: "P100", Temperature: 4.5, Location: "Galle"},
		"attributes":  {ProductID: "P100", Temperature: 4.5, Location: "Colombo", Attributes: map[string]string{"k": "v"}},
	}
	for name, record := range variants {
		t.Run(name, func(t *testing.T) {
			fp, err := Compute(record)
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			if fp == baseFP {
				t.Fatalf("expected fingerprint to change when %s changes", name)
			}
		})
	}
}

func TestComputeRejectsInvalidRecords(t *testing.T) {
	cases := map[string]domain.ProductRecord{
		"empty product id":    {ProductID: "", Temperature: 1, Location: "Colombo"},
		"blank product id":    {ProductID: "   ", Temperature: 1, Location: "Colombo"},
		"long product id":     {ProductID: strings.Repeat("p", MaxProductIDLen+1), Temperature: 1, Location: "Colombo"},
		"control in id":       {ProductID: "P\n100", Temperature: 1, Location: "Colombo"},
		"invalid utf8":        {ProductID: "P\xff", Temperature: 1, Location: "Colombo"},
		"empty location":      {ProductID: "P100", Temperature: 1, Location: ""},
		"long location":       {ProductID: "P100", Temperature: 1, Location: strings.Repeat("l", MaxLocationLen+1)},
		"nan temperature":     {ProductID: "P100", Temperature: math.NaN(), Location: "Colombo"},
		"inf temperature":     {ProductID: "P100", Temperature: math.Inf(1), Location: "Colombo"},
		"empty attribute key": {ProductID: "P100", Temperature: 1, Location: "Colombo", Attributes: map[string]string{"": "v"}},
	}
	for name, record := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compute(record)
			if !errors.Is(err, domain.ErrInvalidRecord) {
				t.Fatalf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{4.5, "4.5"},
		{5, "5"},
		{-18.25, "-18.25"},
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{100, "100"},
		{0.000001, "0.000001"},
		{1e-7, "1e-7"},
		{1e21, "1e+21"},
		{123456789012345680000, "123456789012345680000"},
		{0.1 + 0.2, "0.30000000000000004"},
	}
	for _, tc := range cases {
		got, err := FormatNumber(tc.in)
		if err != nil {
			t.Fatalf("format %v: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("format %v: got %q want %q", tc.in, got, tc.want)
		}
	}
	if _, err := FormatNumber(math.NaN()); err == nil {
		t.Fatal("expected NaN to be rejected")
	}
}

func TestCanonicalizeJSONSortsKeysAndStripsWhitespace(t *testing.T) {
	got, err := CanonicalizeJSON([]byte(`{ "b": [1, 2.50, true], "a": {"y": null, "x": "A"} }`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":{"x":"A","y":null},"b":[1,2.5,true]}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if _, err := CanonicalizeJSON([]byte(`{"a":1} {}`)); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
}

func TestEqual(t *testing.T) {
	fp := domain.Fingerprint("2091c9287cc6055847b5884038cd086a92d82c8898f810fe8bbb3da715243122")
	if !Equal(fp, domain.Fingerprint("0x"+strings.ToUpper(string(fp)))) {
		t.Fatal("expected case and prefix insensitive match")
	}
	if Equal(fp, "") || Equal("", "") {
		t.Fatal("empty fingerprints must never match")
	}
}
