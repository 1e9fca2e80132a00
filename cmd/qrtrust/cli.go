package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "keygen":
		return runKeygen(args[2:])
	case "fingerprint":
		return runFingerprint(args[2:])
	case "token":
		if len(args) >= 3 {
			switch args[2] {
			case "encode":
				return runTokenEncode(args[3:])
			case "decode":
				return runTokenDecode(args[3:])
			}
		}
	case "verify":
		return runVerify(args[2:])
	case "watermark":
		if len(args) >= 3 {
			switch args[2] {
			case "embed":
				return runWatermarkEmbed(args[3:])
			case "extract":
				return runWatermarkExtract(args[3:])
			}
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "qrtrust"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s keygen [--alg ed25519|rsa] [--rsa-bits <n>] [--out-dir <dir>] [--force]\n", name)
	fmt.Fprintf(os.Stderr, "  %s fingerprint --product-id <id> --temperature <c> --location <loc> [--attr k=v ...]\n", name)
	fmt.Fprintf(os.Stderr, "  %s token encode --tx-hash <ref> --signature <base64> [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s token decode [--in <file>|-]\n", name)
	fmt.Fprintf(os.Stderr, "  %s verify --in <token.json>|- --pubkey <public.pem>\n", name)
	fmt.Fprintf(os.Stderr, "  %s watermark embed --in <image> --out <image> --text <token> [--command <cmd>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s watermark extract --in <image> [--command <cmd>]\n", name)
}

func fail(format string, a ...any) int {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", a...)
	return 1
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return readAllLimited(os.Stdin)
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readAllLimited(f)
}
