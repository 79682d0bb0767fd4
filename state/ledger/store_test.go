package ledger

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"otcswap/crypto"
	"otcswap/native/synth"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func address(fill byte) string {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{fill}, crypto.AddressLength)).String()
}

func TestBootstrapIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAsset(ctx, "zbtc", 8, "issuer"))
	require.NoError(t, store.CreateAsset(ctx, "zbtc", 8, "someone-else"))
	require.ErrorIs(t, store.CreateAsset(ctx, "zbtc", 6, "issuer"), ErrExists)

	require.NoError(t, store.CreateAccount(ctx, "alice", "zbtc", "alice-key"))
	require.NoError(t, store.CreateAccount(ctx, "alice", "zbtc", "alice-key"))
	require.ErrorIs(t, store.CreateAccount(ctx, "alice", "zbtc", "mallory"), ErrExists)
	require.ErrorIs(t, store.CreateAccount(ctx, "bob", "eth", "bob-key"), synth.ErrAssetNotFound)

	accounts, err := store.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "alice-key", accounts[0].Owner)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAsset(ctx, "zbtc", 8, "issuer"))
	require.NoError(t, store.CreateAccount(ctx, "alice", "zbtc", "alice-key"))

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx synth.Tx) error {
		if err := tx.Mint("zbtc", "alice", 500, "issuer"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.View(ctx, func(tx synth.Tx) error {
		account, err := tx.Account("alice")
		require.NoError(t, err)
		require.Zero(t, account.Balance)
		asset, err := tx.Asset("zbtc")
		require.NoError(t, err)
		require.Zero(t, asset.Supply)
		return nil
	})
	require.NoError(t, err)
}

func TestViewRejectsWrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAsset(ctx, "zbtc", 8, "issuer"))
	require.NoError(t, store.CreateAccount(ctx, "alice", "zbtc", "alice-key"))

	err := store.View(ctx, func(tx synth.Tx) error {
		return tx.Mint("zbtc", "alice", 1, "issuer")
	})
	require.Error(t, err)
}

func TestConfigRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.View(ctx, func(tx synth.Tx) error {
		_, err := tx.Config()
		return err
	})
	require.ErrorIs(t, err, synth.ErrNotInitialized)

	cfg := &synth.Config{
		AdminAuthority:            address(0x01),
		CollateralAsset:           "zbtc",
		SyntheticAsset:            "sbtc",
		TreasuryAccount:           "treasury",
		FeeAccount:                "fees",
		CollateralFeed:            "btc-usd",
		SyntheticFeed:             "sbtc",
		FeeRateBps:                30,
		MinCollateralBps:          25_000,
		CollateralDecimals:        8,
		SyntheticDecimals:         6,
		Paused:                    true,
		MintAuthorityNonce:        255,
		TreasuryAuthorityNonce:    254,
		FeeAuthorityNonce:         253,
		TotalSyntheticOutstanding: uint256.NewInt(123_456_789),
		CreatedAt:                 time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, store.Update(ctx, func(tx synth.Tx) error { return tx.PutConfig(cfg) }))

	var loaded *synth.Config
	require.NoError(t, store.View(ctx, func(tx synth.Tx) error {
		var err error
		loaded, err = tx.Config()
		return err
	}))
	require.Equal(t, cfg, loaded)
}

func TestEngineOverBolt(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	admin := address(0x01)
	user := address(0x02)
	auth, err := synth.DefaultAuthorities(admin)
	require.NoError(t, err)

	require.NoError(t, store.CreateAsset(ctx, "zbtc", 8, "issuer"))
	require.NoError(t, store.CreateAsset(ctx, "sbtc", 8, admin))
	require.NoError(t, store.CreateAccount(ctx, "treasury", "zbtc", auth.Treasury.String()))
	require.NoError(t, store.CreateAccount(ctx, "fees", "zbtc", auth.Fee.String()))
	require.NoError(t, store.CreateAccount(ctx, "user-z", "zbtc", user))
	require.NoError(t, store.CreateAccount(ctx, "user-s", "sbtc", user))
	require.NoError(t, store.Update(ctx, func(tx synth.Tx) error {
		if err := tx.Mint("zbtc", "user-z", 1_000_000_000, "issuer"); err != nil {
			return err
		}
		return tx.Mint("zbtc", "treasury", 150_000_000, "issuer")
	}))

	engine := synth.NewEngine(store, synth.Mock("btc-usd", 10_000_000), synth.Mock("sbtc", 10_000_000))
	_, err = engine.Initialize(ctx, synth.InitParams{
		Admin:            admin,
		CollateralAsset:  "zbtc",
		SyntheticAsset:   "sbtc",
		TreasuryAccount:  "treasury",
		FeeAccount:       "fees",
		CollateralFeed:   "btc-usd",
		SyntheticFeed:    "sbtc",
		FeeRateBps:       100,
		MinCollateralBps: 20_000,
	})
	require.NoError(t, err)

	minted, err := engine.Mint(ctx, synth.MintRequest{Requester: user, Amount: 100_000_000, SourceAccount: "user-z", DestinationAccount: "user-s"})
	require.NoError(t, err)
	require.EqualValues(t, 99_000_000, minted.Minted)

	_, err = engine.Mint(ctx, synth.MintRequest{Requester: user, Amount: 900_000_000, SourceAccount: "user-z", DestinationAccount: "user-s"})
	require.ErrorIs(t, err, synth.ErrInsufficientCollateral)

	status, err := engine.Status(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 249_000_000, status.TreasuryBalance)
	require.EqualValues(t, 99_000_000, status.Config.TotalSyntheticOutstanding.Uint64())
}
