package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const apiTokenAccount = "api_token"

// Keychain reads and writes secrets in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type platformKeychain struct {
	keychainReader
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

// GetAPIToken returns the operator API bearer token, generating and storing
// a random one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get(keychainService, apiTokenAccount); err == nil {
		if tok = strings.TrimSpace(tok); tok != "" {
			return tok, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// IsSecret reports whether key is kept in the secret store.
func IsSecret(key string) bool {
	return specByKey(key).secret
}

// SetSecret stores a secret config key in the platform secret store.
func SetSecret(kc Keychain, key, value string) error {
	s := specByKey(key)
	if !s.secret {
		return fmt.Errorf("%q is not a secret key", key)
	}
	return kc.Set(keychainService, s.account(), value)
}
