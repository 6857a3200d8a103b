package crypto

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// SaveKeystore encrypts the feeder key into an Ethereum v3 keystore file at
// path, creating the parent directory when needed. An existing file at path
// is replaced atomically.
func SaveKeystore(path string, key *FeederKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil feeder key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// The keystore API only writes into a managed directory, so stage the
	// file there and move it into place.
	staging, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	ks := keystore.NewKeyStore(staging, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}
	entries, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: keystore file was not created")
	}

	staged := filepath.Join(staging, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(staged, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadKeystore decrypts an Ethereum v3 keystore file into a feeder key.
func LoadKeystore(path, passphrase string) (*FeederKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}
	return &FeederKey{PrivateKey: decrypted.PrivateKey}, nil
}
