package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	nonceKeyPrefix    = "nonce:"
	observedKeyPrefix = "observed:"
)

// NonceRecord is a consumed request nonce.
type NonceRecord struct {
	Requester  string
	Nonce      string
	ObservedAt time.Time
}

// NonceStore remembers consumed nonces across restarts.
type NonceStore interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// LevelDBNonceStore keeps nonces in LevelDB. Each nonce is written under its
// requester key and under an observed-at index used for pruning.
type LevelDBNonceStore struct {
	db *leveldb.DB
}

var _ NonceStore = (*LevelDBNonceStore)(nil)

// OpenNonceStore opens (or creates) the nonce database at path.
func OpenNonceStore(path string) (*LevelDBNonceStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("nonce store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve nonce store path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open nonce store: %w", err)
	}
	return &LevelDBNonceStore{db: db}, nil
}

// NewMemoryNonceStore returns a store backed by in-memory LevelDB storage.
func NewMemoryNonceStore() (*LevelDBNonceStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory nonce store: %w", err)
	}
	return &LevelDBNonceStore{db: db}, nil
}

// Close releases the database.
func (s *LevelDBNonceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureNonce records the nonce and reports whether it had already been used.
func (s *LevelDBNonceStore) EnsureNonce(ctx context.Context, record NonceRecord) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("nonce store not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	requester := strings.TrimSpace(record.Requester)
	nonce := strings.TrimSpace(record.Nonce)
	if requester == "" || nonce == "" {
		return false, fmt.Errorf("nonce record incomplete")
	}
	observed := record.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	composite := requester + "|" + nonce
	key := []byte(nonceKeyPrefix + composite)
	_, err := s.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("load nonce: %w", err)
	default:
		return true, nil
	}
	nanos := observed.UnixNano()
	batch := new(leveldb.Batch)
	batch.Put(key, encodeUnixNano(nanos))
	batch.Put([]byte(observedKey(nanos, composite)), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return false, nil
}

// PruneNonces forgets nonces observed before cutoff.
func (s *LevelDBNonceStore) PruneNonces(ctx context.Context, cutoff time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("nonce store not configured")
	}
	limit := []byte(observedKey(cutoff.UTC().UnixNano(), ""))
	iter := s.db.NewIterator(&util.Range{Start: []byte(observedKeyPrefix), Limit: limit}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		composite, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(nonceKeyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate nonces: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("prune nonces: %w", err)
	}
	return nil
}

func observedKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, composite)
}

func parseObservedKey(key []byte) (string, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return "", false
	}
	return parts[2], true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}
