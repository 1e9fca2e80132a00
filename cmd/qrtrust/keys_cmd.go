package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"qrtrust/internal/infra/keys"
)

func runKeygen(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var alg string
	var rsaBits int
	var outDir string
	var force bool

	fs.StringVar(&alg, "alg", string(keys.AlgorithmEd25519), "ed25519 or rsa")
	fs.IntVar(&rsaBits, "rsa-bits", 3072, "rsa modulus size")
	fs.StringVar(&outDir, "out-dir", "keys", "output directory")
	fs.BoolVar(&force, "force", false, "overwrite existing keys")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	generated, err := keys.Generate(keys.Algorithm(alg), rsaBits, nil)
	if err != nil {
		return fail("generate keys: %v", err)
	}
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return fail("create %s: %v", outDir, err)
	}
	privPath := filepath.Join(outDir, "private.pem")
	pubPath := filepath.Join(outDir, "public.pem")
	if !force {
		for _, p := range []string{privPath, pubPath} {
			if _, err := os.Stat(p); err == nil {
				return fail("%s exists; pass --force to replace it", p)
			} else if !errors.Is(err, os.ErrNotExist) {
				return fail("stat %s: %v", p, err)
			}
		}
	}
	if err := os.WriteFile(privPath, generated.PrivatePEM, 0o600); err != nil {
		return fail("write private key: %v", err)
	}
	if err := os.WriteFile(pubPath, generated.PublicPEM, 0o644); err != nil {
		return fail("write public key: %v", err)
	}
	color.Green("wrote %s and %s (%s)", privPath, pubPath, alg)
	return 0
}
