package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"qrtrust/internal/domain"
	"qrtrust/internal/infra/fingerprint"
	"qrtrust/internal/infra/keys"
	"qrtrust/internal/infra/token"
	"qrtrust/internal/usecase"
)

func runFingerprint(args []string) int {
	fs := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var productID string
	var temperature string
	var location string
	attrs := attrFlag{}

	fs.StringVar(&productID, "product-id", "", "product id")
	fs.StringVar(&temperature, "temperature", "", "storage temperature in celsius")
	fs.StringVar(&location, "location", "", "origin location")
	fs.Var(&attrs, "attr", "extra attribute key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	temp, err := strconv.ParseFloat(temperature, 64)
	if err != nil {
		return fail("--temperature: %v", err)
	}
	record := domain.ProductRecord{ProductID: productID, Temperature: temp, Location: location}
	if len(attrs) > 0 {
		record.Attributes = attrs
	}
	fp, err := fingerprint.Compute(record)
	if err != nil {
		return fail("fingerprint: %v", err)
	}
	fmt.Println(fp)
	return 0
}

func runTokenEncode(args []string) int {
	fs := flag.NewFlagSet("token encode", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var txHash string
	var signature string
	var outPath string

	fs.StringVar(&txHash, "tx-hash", "", "ledger reference")
	fs.StringVar(&signature, "signature", "", "base64 signature")
	fs.StringVar(&outPath, "out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	sig, err := base64.StdEncoding.Strict().DecodeString(signature)
	if err != nil {
		return fail("--signature is not valid base64: %v", err)
	}
	payload, err := token.Encode(domain.Attestation{LedgerReference: domain.LedgerReference(txHash), Signature: sig})
	if err != nil {
		return fail("encode token: %v", err)
	}
	if outPath == "" {
		fmt.Println(string(payload))
		return 0
	}
	if err := os.WriteFile(outPath, payload, 0o644); err != nil {
		return fail("write %s: %v", outPath, err)
	}
	return 0
}

func runTokenDecode(args []string) int {
	fs := flag.NewFlagSet("token decode", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	fs.StringVar(&inPath, "in", "-", "token file or - for stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	raw, err := readInput(inPath)
	if err != nil {
		return fail("read token: %v", err)
	}
	att, err := token.Decode(raw)
	if err != nil {
		return fail("decode token: %v", err)
	}
	fmt.Printf("txHash=%s\n", att.LedgerReference)
	fmt.Printf("signature=%s\n", att.SignatureBase64())
	fmt.Printf("signature.digest=%s\n", domain.SignatureDigest(att.Signature))
	return 0
}

// runVerify checks the issuer signature only. Ledger and registry checks
// need the server.
func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	var pubPath string
	fs.StringVar(&inPath, "in", "-", "token file or - for stdin")
	fs.StringVar(&pubPath, "pubkey", "", "issuer public key PEM")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if pubPath == "" {
		return fail("verify requires --pubkey")
	}

	verifier, err := keys.LoadVerifier(pubPath)
	if err != nil {
		return fail("load public key: %v", err)
	}
	raw, err := readInput(inPath)
	if err != nil {
		return fail("read token: %v", err)
	}
	att, err := (&usecase.VerifyOffline{Verifier: verifier}).Execute(raw)
	if err != nil {
		color.Red("status=fail code=%s", domain.ErrorCode(err))
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	color.Green("status=pass")
	fmt.Printf("txHash=%s algorithm=%s\n", att.LedgerReference, verifier.Algorithm())
	return 0
}

type attrFlag map[string]string

func (a attrFlag) String() string {
	parts := make([]string, 0, len(a))
	for k, v := range a {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (a attrFlag) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	a[k] = v
	return nil
}

func readAllLimited(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, token.MaxTokenSize+1))
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSpace(string(raw))), nil
}
