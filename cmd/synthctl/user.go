package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"otcswap/cmd/internal/secret"
	"otcswap/crypto"
	"otcswap/services/synthd/api"
)

// signingKey loads the user key from a keystore file when given, otherwise
// from the hex encoded SYNTHCTL_KEY.
func signingKey(keystorePath string) (*crypto.PrivateKey, error) {
	if path := strings.TrimSpace(keystorePath); path != "" {
		pass, err := secret.NewSource(envKeystorePass, "keystore passphrase").Get()
		if err != nil {
			return nil, err
		}
		return crypto.LoadKeystore(path, pass)
	}
	raw := strings.TrimSpace(os.Getenv(envUserKey))
	if raw == "" {
		return nil, fmt.Errorf("signing key required; set %s or pass -keystore", envUserKey)
	}
	return crypto.PrivateKeyFromHex(raw)
}

func runOperationCommand(cli *client, kind string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(kind, flag.ContinueOnError)
	fs.SetOutput(stderr)
	amount := fs.Uint64("amount", 0, "amount in base units of the input asset")
	source := fs.String("source", "", "account debited by the operation")
	destination := fs.String("destination", "", "account credited by the operation")
	nonce := fs.String("nonce", "", "replay nonce (random when empty)")
	keystorePath := fs.String("keystore", "", "keystore file holding the signing key")
	idemKey := fs.String("idempotency-key", "", "Idempotency-Key header (defaults to the nonce)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *amount == 0 || strings.TrimSpace(*source) == "" || strings.TrimSpace(*destination) == "" {
		fmt.Fprintf(stderr, "Usage: synthctl %s -amount <units> -source <account> -destination <account>\n", kind)
		return 1
	}
	key, err := signingKey(*keystorePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	req := api.OperationRequest{
		Amount:             *amount,
		SourceAccount:      strings.TrimSpace(*source),
		DestinationAccount: strings.TrimSpace(*destination),
		Nonce:              strings.TrimSpace(*nonce),
		Timestamp:          time.Now().Unix(),
	}
	if req.Nonce == "" {
		req.Nonce = uuid.NewString()
	}
	if err := req.Sign(kind, key); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	idempotency := strings.TrimSpace(*idemKey)
	if idempotency == "" {
		idempotency = req.Nonce
	}

	ctx := context.Background()
	switch kind {
	case api.KindMint:
		var resp api.MintResponse
		if err := cli.do(ctx, http.MethodPost, "/v1/mint", req, &resp, withIdempotencyKey(idempotency)); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Operation:  %s\n", resp.OperationID)
		fmt.Fprintf(stdout, "Deposited:  %s\n", resp.Deposited.Display)
		fmt.Fprintf(stdout, "Fee:        %s\n", resp.Fee.Display)
		fmt.Fprintf(stdout, "Minted:     %s\n", resp.Minted.Display)
		fmt.Fprintf(stdout, "Prices:     collateral $%s, synthetic $%s\n", resp.Prices.CollateralUSD, resp.Prices.SyntheticUSD)
	default:
		var resp api.BurnResponse
		if err := cli.do(ctx, http.MethodPost, "/v1/burn", req, &resp, withIdempotencyKey(idempotency)); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Operation:  %s\n", resp.OperationID)
		fmt.Fprintf(stdout, "Burned:     %s\n", resp.Burned.Display)
		fmt.Fprintf(stdout, "Fee:        %s\n", resp.Fee.Display)
		fmt.Fprintf(stdout, "Redeemed:   %s\n", resp.Redeemed.Display)
		fmt.Fprintf(stdout, "Prices:     collateral $%s, synthetic $%s\n", resp.Prices.CollateralUSD, resp.Prices.SyntheticUSD)
	}
	return 0
}

func runQuoteCommand(cli *client, args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: synthctl quote <mint|burn> <amount>")
		return 1
	}
	kind := strings.ToLower(strings.TrimSpace(args[0]))
	if kind != api.KindMint && kind != api.KindBurn {
		fmt.Fprintf(stderr, "unknown quote kind %q\n", args[0])
		return 1
	}
	amount, err := strconv.ParseUint(strings.TrimSpace(args[1]), 10, 64)
	if err != nil {
		fmt.Fprintf(stderr, "invalid amount: %v\n", err)
		return 1
	}
	var resp api.QuoteResponse
	if err := cli.do(context.Background(), http.MethodPost, "/v1/quote/"+kind, api.QuoteRequest{Amount: amount}, &resp); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Amount:  %s\n", resp.Amount.Display)
	fmt.Fprintf(stdout, "Fee:     %s\n", resp.Fee.Display)
	fmt.Fprintf(stdout, "Net:     %s\n", resp.Net.Display)
	fmt.Fprintf(stdout, "Output:  %s\n", resp.Output.Display)
	return 0
}

func runStatusCommand(cli *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print the raw status document")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var status api.StatusResponse
	if err := cli.do(context.Background(), http.MethodGet, "/v1/status", nil, &status); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *asJSON {
		printJSON(stdout, status)
		return 0
	}
	printConfig(stdout, status.Config)
	fmt.Fprintf(stdout, "Operator paused:    %t\n", status.OperatorPaused)
	fmt.Fprintf(stdout, "Treasury balance:   %s\n", status.TreasuryBalance.Display)
	fmt.Fprintf(stdout, "Fee balance:        %s\n", status.FeeBalance.Display)
	if status.PriceError != nil {
		fmt.Fprintf(stdout, "Prices:             unavailable (%s)\n", status.PriceError.Error)
		return 0
	}
	if status.Prices != nil {
		fmt.Fprintf(stdout, "Prices:             collateral $%s, synthetic $%s\n", status.Prices.CollateralUSD, status.Prices.SyntheticUSD)
	}
	if status.RequiredCollateral != nil {
		fmt.Fprintf(stdout, "Required:           %s\n", status.RequiredCollateral.Display)
	}
	if status.CollateralRatioBps != "" {
		fmt.Fprintf(stdout, "Collateral ratio:   %s bps\n", status.CollateralRatioBps)
	}
	return 0
}

func runEventsCommand(cli *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	after := fs.Int64("after", 0, "return events with ids greater than this cursor")
	limit := fs.Int("limit", 50, "maximum events to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	query := url.Values{}
	query.Set("after", strconv.FormatInt(*after, 10))
	query.Set("limit", strconv.Itoa(*limit))
	var page api.EventsResponse
	if err := cli.do(context.Background(), http.MethodGet, "/v1/events?"+query.Encode(), nil, &page); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(page.Events) == 0 {
		fmt.Fprintln(stdout, "No events.")
		return 0
	}
	for _, evt := range page.Events {
		fmt.Fprintf(stdout, "#%d %s %s %s\n", evt.ID, evt.RecordedAt.UTC().Format(time.RFC3339), evt.Type, formatAttributes(evt.Attributes))
	}
	fmt.Fprintf(stdout, "next cursor: %d\n", page.Next)
	return 0
}

func formatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, " ")
}
