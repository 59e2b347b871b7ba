package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/99designs/keyring"
)

// KeyringService is the service name under which router passwords are stored
const KeyringService = "cmectl"

func openRing() (keyring.Keyring, error) {
	var backends []keyring.BackendType
	switch runtime.GOOS {
	case "darwin":
		backends = []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		backends = []keyring.BackendType{keyring.WinCredBackend}
	default:
		backends = []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend, keyring.PassBackend}
	}

	return keyring.Open(keyring.Config{
		ServiceName:     KeyringService,
		AllowedBackends: backends,
	})
}

func keyringKey(username, host string) string {
	return fmt.Sprintf("%s@%s", username, host)
}

// LookupPassword reads the router password stored for username@host.
// A missing entry yields an empty password and no error.
func LookupPassword(username, host string) (string, error) {
	ring, err := openRing()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(keyringKey(username, host))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(item.Data), nil
}

// StorePassword saves the router password for username@host
func StorePassword(username, host, password string) error {
	ring, err := openRing()
	if err != nil {
		return err
	}

	return ring.Set(keyring.Item{
		Key:         keyringKey(username, host),
		Data:        []byte(password),
		Label:       "cmectl router password",
		Description: "SSH password for " + host,
	})
}
