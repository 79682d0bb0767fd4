package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"otcswap/crypto"
	"otcswap/native/synth"
	"otcswap/services/synthd/api"
	"otcswap/services/synthd/auth"
	"otcswap/services/synthd/storage"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func adminAddress() string {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x42}, crypto.AddressLength)).String()
}

func TestAuthoritiesMatchDerivation(t *testing.T) {
	admin := adminAddress()
	want, err := synth.DefaultAuthorities(admin)
	require.NoError(t, err)

	code, out, errOut := execute(t, "authorities", "-admin", admin)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, want.Mint.String())
	require.Contains(t, out, want.Treasury.String())
	require.Contains(t, out, want.Fee.String())

	code, _, errOut = execute(t, "authorities", "-admin", "nope")
	require.Equal(t, 1, code)
	require.NotEmpty(t, errOut)
}

func TestLoadInitParams(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "params.toml")
	require.NoError(t, os.WriteFile(valid, []byte(`
collateral_asset = "zbtc"
synthetic_asset = "sbtc"
treasury_account = "treasury"
fee_account = "fees"
collateral_feed = "btc-usd"
synthetic_feed = "sbtc-usd"
fee_rate_bps = 100
min_collateral_bps = 20000
`), 0o600))
	req, err := loadInitParams(valid)
	require.NoError(t, err)
	require.Equal(t, "zbtc", req.CollateralAsset)
	require.Equal(t, uint64(100), req.FeeRateBps)
	require.Equal(t, uint64(20000), req.MinCollateralBps)

	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("collateral_assett = \"zbtc\"\n"), 0o600))
	_, err = loadInitParams(unknown)
	require.ErrorContains(t, err, "unknown params key")

	missing := filepath.Join(dir, "missing.toml")
	require.NoError(t, os.WriteFile(missing, []byte("collateral_asset = \"zbtc\"\n"), 0o600))
	_, err = loadInitParams(missing)
	require.ErrorContains(t, err, "is required")
}

func TestMintSignsRequest(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	t.Setenv(envUserKey, "0x"+hex.EncodeToString(key.Bytes()))

	var seen api.OperationRequest
	var idemKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/mint", r.URL.Path)
		idemKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.MintResponse{
			OperationID: "op-1",
			Minted:      api.NewAmount(99_000_000, 8),
		})
	}))
	defer srv.Close()

	code, out, errOut := execute(t, "--endpoint", srv.URL, "mint", "-amount", "100000000", "-source", "alice-z", "-destination", "alice-s")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "0.99000000")

	require.Equal(t, key.PubKey().Address().String(), seen.Requester)
	require.Equal(t, uint64(100_000_000), seen.Amount)
	require.Equal(t, seen.Nonce, idemKey)
	digest, err := seen.Digest(api.KindMint)
	require.NoError(t, err)
	sig, err := seen.SignatureBytes()
	require.NoError(t, err)
	signer, err := crypto.RecoverAddress(digest, sig)
	require.NoError(t, err)
	require.True(t, signer.Equal(key.PubKey().Address()))
}

func TestOperationRequiresKey(t *testing.T) {
	t.Setenv(envUserKey, "")
	code, _, errOut := execute(t, "burn", "-amount", "1", "-source", "a", "-destination", "b")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, envUserKey)
}

func TestAdminCommandsSendBearer(t *testing.T) {
	t.Setenv(envAdminToken, "admin-token")
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		paths = append(paths, r.URL.Path)
		resp := api.ConfigResponse{Paused: r.URL.Path == "/v1/admin/pause", FeeRateBps: 100, MinCollateralBps: 20000}
		if r.URL.Path == "/v1/admin/fee-rate" {
			var req api.ParamRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp.FeeRateBps = req.Bps
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	code, out, errOut := execute(t, "--endpoint="+srv.URL, "pause")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "Paused: true")

	code, out, errOut = execute(t, "--endpoint", srv.URL, "set-fee", "250")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "250 bps")
	require.Equal(t, []string{"/v1/admin/pause", "/v1/admin/fee-rate"}, paths)

	code, _, _ = execute(t, "--endpoint", srv.URL, "set-fee", "lots")
	require.Equal(t, 1, code)
}

func TestErrorsCarryCodespace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "price is stale", Code: 9, Codespace: "synth"})
	}))
	defer srv.Close()

	code, _, errOut := execute(t, "--endpoint", srv.URL, "quote", "mint", "100")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "synth/9")
	require.Contains(t, errOut, "503")
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv(envJWTSecret, "shared-secret")
	admin := adminAddress()
	code, out, errOut := execute(t, "token", "-subject", admin, "-ttl", "5m")
	require.Equal(t, 0, code, errOut)

	authenticator := auth.NewAdminAuthenticator(auth.AdminConfig{Secret: "shared-secret", Issuer: "synthctl", Audience: "synthd"}, nil)
	subject, err := authenticator.Subject(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, admin, subject)
}

func TestKeygenKeystore(t *testing.T) {
	t.Setenv(envKeystorePass, "pass phrase")
	path := filepath.Join(t.TempDir(), "user.json")
	code, out, errOut := execute(t, "keygen", "-out", path, "-light")
	require.Equal(t, 0, code, errOut)
	require.NotContains(t, out, "Private key")

	key, err := crypto.LoadKeystore(path, "pass phrase")
	require.NoError(t, err)
	require.Contains(t, out, key.PubKey().Address().String())
}

func TestExportWritesEveryEvent(t *testing.T) {
	store, err := storage.Open("file:export-" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.AppendEvent(ctx, storage.EventRecord{
			OperationID: uuid.NewString(),
			Type:        "synth.minted",
			Attributes:  map[string]string{"minted": "99000000"},
			RecordedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "events.parquet")
	count, last, err := exportEvents(ctx, store, 1, path)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, int64(3), last)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(eventRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())
	rows := make([]eventRow, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, int64(2), rows[0].ID)
	require.Equal(t, "synth.minted", rows[1].Type)
	require.JSONEq(t, `{"minted":"99000000"}`, rows[1].Attributes)
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := execute(t, "launch")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "Unknown command")
}
