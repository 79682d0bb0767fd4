package synth

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var errReadOnly = errors.New("synth memstore: write in read-only transaction")

// MemStore keeps ledger records and Config in memory. Writes are staged per
// transaction and merged only when the closure succeeds.
type MemStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	assets   map[string]Asset
	config   *Config
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{accounts: make(map[string]Account), assets: make(map[string]Asset)}
}

// CreateAsset registers a token with its initial mint authority.
func (m *MemStore) CreateAsset(id string, decimals uint8, mintAuthority string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id = strings.TrimSpace(id)
	m.assets[id] = Asset{ID: id, Decimals: decimals, MintAuthority: strings.TrimSpace(mintAuthority)}
}

// CreateAccount opens an empty balance for asset owned by owner.
func (m *MemStore) CreateAccount(id, asset, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id = strings.TrimSpace(id)
	m.accounts[id] = Account{ID: id, Asset: strings.TrimSpace(asset), Owner: strings.TrimSpace(owner)}
}

// Update runs fn with write access.
func (m *MemStore) Update(ctx context.Context, fn func(Tx) error) error {
	return m.run(ctx, fn, true)
}

// View runs fn with read access.
func (m *MemStore) View(ctx context.Context, fn func(Tx) error) error {
	return m.run(ctx, fn, false)
}

func (m *MemStore) run(ctx context.Context, fn func(Tx) error, writable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{
		store:    m,
		writable: writable,
		accounts: make(map[string]Account),
		assets:   make(map[string]Asset),
	}
	if err := fn(NewTx(tx)); err != nil {
		return err
	}
	if !writable {
		return nil
	}
	for id, account := range tx.accounts {
		m.accounts[id] = account
	}
	for id, asset := range tx.assets {
		m.assets[id] = asset
	}
	if tx.config != nil {
		m.config = tx.config.Clone()
	}
	return nil
}

type memTx struct {
	store    *MemStore
	writable bool
	accounts map[string]Account
	assets   map[string]Asset
	config   *Config
}

func (t *memTx) GetAccount(id string) (Account, bool, error) {
	if account, ok := t.accounts[id]; ok {
		return account, true, nil
	}
	account, ok := t.store.accounts[id]
	return account, ok, nil
}

func (t *memTx) PutAccount(account Account) error {
	if !t.writable {
		return errReadOnly
	}
	t.accounts[account.ID] = account
	return nil
}

func (t *memTx) GetAsset(id string) (Asset, bool, error) {
	if asset, ok := t.assets[id]; ok {
		return asset, true, nil
	}
	asset, ok := t.store.assets[id]
	return asset, ok, nil
}

func (t *memTx) PutAsset(asset Asset) error {
	if !t.writable {
		return errReadOnly
	}
	t.assets[asset.ID] = asset
	return nil
}

func (t *memTx) GetConfig() (*Config, bool, error) {
	if t.config != nil {
		return t.config.Clone(), true, nil
	}
	if t.store.config == nil {
		return nil, false, nil
	}
	return t.store.config.Clone(), true, nil
}

func (t *memTx) PutConfig(cfg *Config) error {
	if !t.writable {
		return errReadOnly
	}
	t.config = cfg.Clone()
	return nil
}
