package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synthd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
env: prod
tls:
  cert: cert.pem
  key: key.pem
synth:
  collateral_feed: btc-usd
  synthetic_feed: sbtc
sources:
  - name: hermes
    type: pyth
    endpoint: https://hermes.example
    feeds:
      btc-usd: "0xabc"
genesis:
  admin: otc1admin
  accounts:
    - id: treasury
      asset: zbtc
      owner: "@treasury"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7080" || cfg.GRPCAddress != ":7090" {
		t.Fatalf("unexpected listen defaults %q %q", cfg.ListenAddress, cfg.GRPCAddress)
	}
	if cfg.IdempotencyDSN == "" || cfg.NoncePath == "" {
		t.Fatalf("store paths must default")
	}
	if cfg.Synth.PriceMaxAge.Duration != 60*time.Second || cfg.Synth.AuxMaxAge.Duration != 300*time.Second {
		t.Fatalf("unexpected max ages %s %s", cfg.Synth.PriceMaxAge, cfg.Synth.AuxMaxAge)
	}
	if !cfg.Synth.Staleness() {
		t.Fatalf("staleness must default to enforced")
	}
	if cfg.Oracle.MinFeeds != 1 || cfg.Oracle.Interval.Duration != 15*time.Second {
		t.Fatalf("unexpected oracle defaults %+v", cfg.Oracle)
	}
	if cfg.Throttle.Window.Duration != time.Hour {
		t.Fatalf("unexpected throttle window %s", cfg.Throttle.Window)
	}
	if cfg.Auth.JWTSecretEnv != "SYNTHD_JWT_SECRET" {
		t.Fatalf("unexpected jwt env %q", cfg.Auth.JWTSecretEnv)
	}
	if cfg.Sources[0].Feeds["btc-usd"] != "0xabc" {
		t.Fatalf("feeds not decoded: %+v", cfg.Sources[0])
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing feeds",
			body: "env: dev\nsources: [{name: s, type: static}]\n",
			want: "collateral_feed",
		},
		{
			name: "mock outside dev",
			body: "env: prod\ntls: {cert: c, key: k}\nsynth: {collateral_feed: a, synthetic_feed: b, mock_collateral_cents: 1, mock_synthetic_cents: 1}\n",
			want: "only permitted when env is dev",
		},
		{
			name: "static outside dev",
			body: "env: prod\ntls: {cert: c, key: k}\nsynth: {collateral_feed: a, synthetic_feed: b}\nsources: [{name: s, type: static}]\n",
			want: "static sources",
		},
		{
			name: "unknown source",
			body: "env: dev\nsynth: {collateral_feed: a, synthetic_feed: b}\nsources: [{name: s, type: carrier-pigeon}]\n",
			want: "unknown type",
		},
		{
			name: "no tls in prod",
			body: "env: prod\nsynth: {collateral_feed: a, synthetic_feed: b}\nsources: [{name: s, type: pyth, endpoint: http://x}]\n",
			want: "tls",
		},
		{
			name: "genesis without admin",
			body: "env: dev\nsynth: {collateral_feed: a, synthetic_feed: b, mock_collateral_cents: 1, mock_synthetic_cents: 1}\ngenesis: {assets: [{id: zbtc, decimals: 8}]}\n",
			want: "genesis admin",
		},
		{
			name: "unknown field",
			body: "env: dev\nsynth: {collateral_feed: a, synthetic_feed: b, mock_collateral_cents: 1, mock_synthetic_cents: 1}\nlisten_adress: :1\n",
			want: "decode config",
		},
	}
	for _, tc := range cases {
		_, err := Load(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestLoadDevMock(t *testing.T) {
	path := writeConfig(t, `
env: DEV
synth:
  collateral_feed: btc-usd
  synthetic_feed: sbtc
  enforce_staleness: false
  mock_collateral_cents: 6000000
  mock_synthetic_cents: 6000000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "dev" || !cfg.Synth.UsesMock() || cfg.Synth.Staleness() {
		t.Fatalf("unexpected dev config %+v", cfg.Synth)
	}
}

func TestAuthSecretFromEnvironment(t *testing.T) {
	t.Setenv("SYNTHD_TEST_SECRET", "  hunter2 ")
	auth := AuthConfig{JWTSecretEnv: "SYNTHD_TEST_SECRET"}
	if auth.Secret() != "hunter2" {
		t.Fatalf("unexpected secret %q", auth.Secret())
	}
	if (AuthConfig{}).Secret() != "" {
		t.Fatalf("empty env name must yield empty secret")
	}
}
