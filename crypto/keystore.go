package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// KeystoreStrength selects the scrypt cost used to encrypt a keystore.
type KeystoreStrength int

const (
	// StandardKeystore uses the go-ethereum standard scrypt parameters.
	StandardKeystore KeystoreStrength = iota
	// LightKeystore trades brute-force resistance for speed in tests and
	// throwaway dev keys.
	LightKeystore
)

func (s KeystoreStrength) params() (int, int) {
	if s == LightKeystore {
		return keystore.LightScryptN, keystore.LightScryptP
	}
	return keystore.StandardScryptN, keystore.StandardScryptP
}

// SaveKeystore encrypts key into a v3 keystore file at path. The file is
// written to a sibling temp file and renamed into place with 0600 mode.
func SaveKeystore(path string, key *PrivateKey, passphrase string, strength KeystoreStrength) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	n, p := strength.params()
	encoded, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    keystoreAddress(key),
		PrivateKey: key.PrivateKey,
	}, passphrase, n, p)
	if err != nil {
		return fmt.Errorf("crypto: encrypt keystore: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadKeystore decrypts the v3 keystore at path.
func LoadKeystore(path, passphrase string) (*PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(encoded, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

func keystoreAddress(key *PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(key.PrivateKey.PublicKey)
}
