package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"otcswap/cmd/internal/secret"
	"otcswap/services/synthd/api"
	"otcswap/services/synthd/auth"
)

// initParams is the TOML parameter file consumed by `synthctl init`.
type initParams struct {
	CollateralAsset  string `toml:"collateral_asset"`
	SyntheticAsset   string `toml:"synthetic_asset"`
	TreasuryAccount  string `toml:"treasury_account"`
	FeeAccount       string `toml:"fee_account"`
	CollateralFeed   string `toml:"collateral_feed"`
	SyntheticFeed    string `toml:"synthetic_feed"`
	FeeRateBps       uint64 `toml:"fee_rate_bps"`
	MinCollateralBps uint64 `toml:"min_collateral_bps"`
}

func loadInitParams(path string) (api.InitializeRequest, error) {
	var params initParams
	meta, err := toml.DecodeFile(path, &params)
	if err != nil {
		return api.InitializeRequest{}, fmt.Errorf("read params: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return api.InitializeRequest{}, fmt.Errorf("unknown params key %q", undecoded[0].String())
	}
	required := map[string]string{
		"collateral_asset": params.CollateralAsset,
		"synthetic_asset":  params.SyntheticAsset,
		"treasury_account": params.TreasuryAccount,
		"fee_account":      params.FeeAccount,
		"collateral_feed":  params.CollateralFeed,
		"synthetic_feed":   params.SyntheticFeed,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return api.InitializeRequest{}, fmt.Errorf("params %s is required", key)
		}
	}
	return api.InitializeRequest{
		CollateralAsset:  strings.TrimSpace(params.CollateralAsset),
		SyntheticAsset:   strings.TrimSpace(params.SyntheticAsset),
		TreasuryAccount:  strings.TrimSpace(params.TreasuryAccount),
		FeeAccount:       strings.TrimSpace(params.FeeAccount),
		CollateralFeed:   strings.TrimSpace(params.CollateralFeed),
		SyntheticFeed:    strings.TrimSpace(params.SyntheticFeed),
		FeeRateBps:       params.FeeRateBps,
		MinCollateralBps: params.MinCollateralBps,
	}, nil
}

func adminToken() (string, error) {
	return secret.NewSource(envAdminToken, "admin bearer token").Get()
}

func runInitCommand(cli *client, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	paramsPath := fs.String("params", "synth-params.toml", "TOML file with initialization parameters")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	req, err := loadInitParams(*paramsPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := adminToken()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var cfg api.ConfigResponse
	if err := cli.do(context.Background(), http.MethodPost, "/v1/admin/initialize", req, &cfg, withBearer(token)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printConfig(stdout, cfg)
	return 0
}

func runPauseCommand(cli *client, pause bool, args []string, stdout, stderr io.Writer) int {
	name := "unpause"
	if pause {
		name = "pause"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	token, err := adminToken()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var cfg api.ConfigResponse
	if err := cli.do(context.Background(), http.MethodPost, "/v1/admin/"+name, nil, &cfg, withBearer(token)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Paused: %t\n", cfg.Paused)
	return 0
}

func runParamCommand(cli *client, route string, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintf(stderr, "Usage: synthctl %s <bps>\n", commandForRoute(route))
		return 1
	}
	bps, err := strconv.ParseUint(strings.TrimSpace(args[0]), 10, 64)
	if err != nil {
		fmt.Fprintf(stderr, "invalid bps: %v\n", err)
		return 1
	}
	token, err := adminToken()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var cfg api.ConfigResponse
	if err := cli.do(context.Background(), http.MethodPost, "/v1/admin/"+route, api.ParamRequest{Bps: bps}, &cfg, withBearer(token)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Fee rate:        %d bps\n", cfg.FeeRateBps)
	fmt.Fprintf(stdout, "Min collateral:  %d bps\n", cfg.MinCollateralBps)
	return 0
}

func commandForRoute(route string) string {
	if route == "fee-rate" {
		return "set-fee"
	}
	return "set-min-collateral"
}

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "admin identity placed in the sub claim")
	issuer := fs.String("issuer", "synthctl", "iss claim")
	audience := fs.String("audience", "synthd", "aud claim")
	ttl := fs.Duration("ttl", 15*time.Minute, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*subject) == "" {
		fmt.Fprintln(stderr, "Usage: synthctl token -subject <admin address> [-ttl 15m]")
		return 1
	}
	signingSecret, err := secret.NewSource(envJWTSecret, "JWT signing secret").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := auth.IssueAdminToken(signingSecret, *issuer, *audience, strings.TrimSpace(*subject), *ttl, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func printConfig(w io.Writer, cfg api.ConfigResponse) {
	fmt.Fprintf(w, "Admin:              %s\n", cfg.AdminAuthority)
	fmt.Fprintf(w, "Mint authority:     %s\n", cfg.MintAuthority)
	fmt.Fprintf(w, "Treasury authority: %s\n", cfg.TreasuryAuthority)
	fmt.Fprintf(w, "Fee authority:      %s\n", cfg.FeeAuthority)
	fmt.Fprintf(w, "Collateral:         %s (%d decimals, feed %s)\n", cfg.CollateralAsset, cfg.CollateralDecimals, cfg.CollateralFeed)
	fmt.Fprintf(w, "Synthetic:          %s (%d decimals, feed %s)\n", cfg.SyntheticAsset, cfg.SyntheticDecimals, cfg.SyntheticFeed)
	fmt.Fprintf(w, "Treasury account:   %s\n", cfg.TreasuryAccount)
	fmt.Fprintf(w, "Fee account:        %s\n", cfg.FeeAccount)
	fmt.Fprintf(w, "Fee rate:           %d bps\n", cfg.FeeRateBps)
	fmt.Fprintf(w, "Min collateral:     %d bps\n", cfg.MinCollateralBps)
	fmt.Fprintf(w, "Paused:             %t\n", cfg.Paused)
	fmt.Fprintf(w, "Outstanding:        %s\n", cfg.TotalOutstanding.Display)
}
