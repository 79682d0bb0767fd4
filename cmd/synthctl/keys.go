package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"strings"

	"otcswap/cmd/internal/secret"
	"otcswap/crypto"
	"otcswap/native/synth"
)

func runAuthoritiesCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("authorities", flag.ContinueOnError)
	fs.SetOutput(stderr)
	admin := fs.String("admin", "", "admin address the authorities are derived from")
	nonce := fs.Uint("nonce", uint(synth.DefaultAuthorityNonce), "derivation nonce for all three authorities")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*admin) == "" {
		fmt.Fprintln(stderr, "Usage: synthctl authorities -admin <address> [-nonce 255]")
		return 1
	}
	if *nonce > 255 {
		fmt.Fprintf(stderr, "nonce must fit in a byte, got %d\n", *nonce)
		return 1
	}
	n := uint8(*nonce)
	authorities, err := synth.DeriveAuthorities(*admin, n, n, n)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Mint authority:     %s\n", authorities.Mint)
	fmt.Fprintf(stdout, "Treasury authority: %s\n", authorities.Treasury)
	fmt.Fprintf(stdout, "Fee authority:      %s\n", authorities.Fee)
	return 0
}

func runKeygenCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "write an encrypted keystore here instead of printing the key")
	light := fs.Bool("light", false, "use light scrypt parameters (dev keys only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address())
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintf(stdout, "Private key: %s\n", hex.EncodeToString(key.Bytes()))
		return 0
	}
	pass, err := secret.NewSource(envKeystorePass, "keystore passphrase").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	strength := crypto.StandardKeystore
	if *light {
		strength = crypto.LightKeystore
	}
	if err := crypto.SaveKeystore(*out, key, pass, strength); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Keystore: %s\n", *out)
	return 0
}
