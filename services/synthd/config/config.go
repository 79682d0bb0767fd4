package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

const (
	// SourcePyth polls a Hermes-compatible latest price endpoint.
	SourcePyth = "pyth"
	// SourceTrend polls the BTC/USD datapoint service used for the running value.
	SourceTrend = "trend"
	// SourceStatic serves fixed prices and is restricted to dev.
	SourceStatic = "static"

	// OwnerTreasury and OwnerFee are genesis placeholders resolved to the
	// derived program authorities.
	OwnerTreasury = "@treasury"
	OwnerFee      = "@fee"
	// AuthorityAdmin resolves to the configured admin identity.
	AuthorityAdmin = "@admin"
	// AuthorityMint resolves to the derived synthetic mint authority.
	AuthorityMint = "@mint"
)

// Config captures runtime configuration for synthd.
type Config struct {
	Env            string          `yaml:"env"`
	ListenAddress  string          `yaml:"listen"`
	GRPCAddress    string          `yaml:"grpc_listen"`
	DatabasePath   string          `yaml:"database"`
	LedgerPath     string          `yaml:"ledger"`
	IdempotencyDSN string          `yaml:"idempotency_dsn"`
	NoncePath      string          `yaml:"nonce_store"`
	OperatorPause  bool            `yaml:"operator_pause"`
	Log            LogConfig       `yaml:"log"`
	TLS            TLSConfig       `yaml:"tls"`
	Synth          SynthConfig     `yaml:"synth"`
	Oracle         OracleConfig    `yaml:"oracle"`
	Sources        []Source        `yaml:"sources"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Throttle       ThrottleConfig  `yaml:"throttle"`
	Genesis        GenesisConfig   `yaml:"genesis"`
}

// LogConfig selects the log level and optional rotated file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TLSConfig enables HTTPS on the public listener.
type TLSConfig struct {
	CertPath string `yaml:"cert"`
	KeyPath  string `yaml:"key"`
}

// Enabled reports whether both halves of the key pair are configured.
func (t TLSConfig) Enabled() bool {
	return strings.TrimSpace(t.CertPath) != "" && strings.TrimSpace(t.KeyPath) != ""
}

// SynthConfig binds the engine to its two price feeds.
type SynthConfig struct {
	CollateralFeed      string   `yaml:"collateral_feed"`
	SyntheticFeed       string   `yaml:"synthetic_feed"`
	PriceMaxAge         Duration `yaml:"price_max_age"`
	AuxMaxAge           Duration `yaml:"aux_max_age"`
	ConfidenceDivisor   uint64   `yaml:"confidence_divisor"`
	EnforceStaleness    *bool    `yaml:"enforce_staleness"`
	MockCollateralCents uint64   `yaml:"mock_collateral_cents"`
	MockSyntheticCents  uint64   `yaml:"mock_synthetic_cents"`
}

// UsesMock reports whether fixed prices replace the oracle feeds.
func (s SynthConfig) UsesMock() bool {
	return s.MockCollateralCents > 0 || s.MockSyntheticCents > 0
}

// Staleness reports whether quote age is enforced, defaulting to true.
func (s SynthConfig) Staleness() bool {
	if s.EnforceStaleness == nil {
		return true
	}
	return *s.EnforceStaleness
}

// OracleConfig tunes the aggregation loop.
type OracleConfig struct {
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
	MinFeeds int      `yaml:"min_feeds"`
}

// Source describes an upstream price feed. Feeds maps a local feed id to the
// upstream identifier (Pyth price id, datapoint field). Prices is used by
// static sources and holds cents per whole token.
type Source struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Feeds    map[string]string `yaml:"feeds"`
	Prices   map[string]uint64 `yaml:"prices"`
}

// AuthConfig configures admin bearer tokens and signed user requests.
type AuthConfig struct {
	JWTSecretEnv   string   `yaml:"jwt_secret_env"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew"`
	SignatureSkew  Duration `yaml:"signature_skew"`
	NonceRetention Duration `yaml:"nonce_retention"`
}

// Secret resolves the admin JWT HMAC secret from the environment.
func (a AuthConfig) Secret() string {
	name := strings.TrimSpace(a.JWTSecretEnv)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// ThrottleConfig caps the amount a requester may move per window. Zero limits
// disable the throttle for that action.
type ThrottleConfig struct {
	Window    Duration `yaml:"window"`
	MintLimit uint64   `yaml:"mint_limit"`
	BurnLimit uint64   `yaml:"burn_limit"`
}

// GenesisConfig seeds an empty ledger.
type GenesisConfig struct {
	Admin    string           `yaml:"admin"`
	Assets   []GenesisAsset   `yaml:"assets"`
	Accounts []GenesisAccount `yaml:"accounts"`
}

// GenesisAsset declares a ledger token.
type GenesisAsset struct {
	ID            string `yaml:"id"`
	Decimals      uint8  `yaml:"decimals"`
	MintAuthority string `yaml:"mint_authority"`
}

// GenesisAccount declares a ledger account. Balance is minted by the asset's
// genesis mint authority when the account is first created.
type GenesisAccount struct {
	ID      string `yaml:"id"`
	Asset   string `yaml:"asset"`
	Owner   string `yaml:"owner"`
	Balance uint64 `yaml:"balance"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = strings.TrimSpace(os.Getenv("SYNTH_ENV"))
	}
	if cfg.Env == "" {
		cfg.Env = "prod"
	}
	cfg.Env = strings.ToLower(cfg.Env)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/synthd.sqlite"
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "/var/data/synthd-ledger.db"
	}
	if cfg.NoncePath == "" {
		cfg.NoncePath = "/var/data/synthd-nonces"
	}
	if cfg.IdempotencyDSN == "" {
		cfg.IdempotencyDSN = "file:/var/data/synthd-idempotency.sqlite?_pragma=busy_timeout(5000)"
	}
	if cfg.GRPCAddress == "" {
		cfg.GRPCAddress = ":7090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Synth.PriceMaxAge.Duration == 0 {
		cfg.Synth.PriceMaxAge.Duration = 60 * time.Second
	}
	if cfg.Synth.AuxMaxAge.Duration == 0 {
		cfg.Synth.AuxMaxAge.Duration = 300 * time.Second
	}
	if cfg.Synth.ConfidenceDivisor == 0 {
		cfg.Synth.ConfidenceDivisor = 1000
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 15 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	if cfg.Auth.JWTSecretEnv == "" {
		cfg.Auth.JWTSecretEnv = "SYNTHD_JWT_SECRET"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Auth.SignatureSkew.Duration == 0 {
		cfg.Auth.SignatureSkew.Duration = 5 * time.Minute
	}
	if cfg.Auth.NonceRetention.Duration == 0 {
		cfg.Auth.NonceRetention.Duration = 24 * time.Hour
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Throttle.Window.Duration == 0 {
		cfg.Throttle.Window.Duration = time.Hour
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Synth.CollateralFeed) == "" || strings.TrimSpace(cfg.Synth.SyntheticFeed) == "" {
		return fmt.Errorf("synth collateral_feed and synthetic_feed must be configured")
	}
	dev := cfg.Env == "dev"
	if cfg.Synth.UsesMock() {
		if !dev {
			return fmt.Errorf("mock prices are only permitted when env is dev")
		}
		if cfg.Synth.MockCollateralCents == 0 || cfg.Synth.MockSyntheticCents == 0 {
			return fmt.Errorf("mock prices require both mock_collateral_cents and mock_synthetic_cents")
		}
	} else if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one oracle source must be configured")
	}
	for _, src := range cfg.Sources {
		switch strings.ToLower(strings.TrimSpace(src.Type)) {
		case SourcePyth, SourceTrend:
			if strings.TrimSpace(src.Endpoint) == "" {
				return fmt.Errorf("source %s: endpoint required", src.Name)
			}
		case SourceStatic:
			if !dev {
				return fmt.Errorf("source %s: static sources are only permitted when env is dev", src.Name)
			}
		default:
			return fmt.Errorf("source %s: unknown type %q", src.Name, src.Type)
		}
	}
	if !dev && !cfg.TLS.Enabled() {
		return fmt.Errorf("tls cert and key must be configured outside dev")
	}
	if cfg.Synth.PriceMaxAge.Duration < 0 || cfg.Synth.AuxMaxAge.Duration < 0 {
		return fmt.Errorf("price max ages must not be negative")
	}
	for _, asset := range cfg.Genesis.Assets {
		if strings.TrimSpace(asset.ID) == "" {
			return fmt.Errorf("genesis asset id required")
		}
	}
	for _, account := range cfg.Genesis.Accounts {
		if strings.TrimSpace(account.ID) == "" || strings.TrimSpace(account.Asset) == "" {
			return fmt.Errorf("genesis account id and asset required")
		}
		if strings.TrimSpace(account.Owner) == "" {
			return fmt.Errorf("genesis account %s: owner required", account.ID)
		}
	}
	if len(cfg.Genesis.Assets)+len(cfg.Genesis.Accounts) > 0 && strings.TrimSpace(cfg.Genesis.Admin) == "" {
		return fmt.Errorf("genesis admin required when seeding the ledger")
	}
	return nil
}
