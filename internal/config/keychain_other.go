//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretsPath is the secret store used where no OS keychain is wired:
// a 0600 JSON file of service -> account -> value.
func secretsPath() string {
	dir, ok := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "replyd", "secrets.json")
}

type secretsFile map[string]map[string]string

func readSecrets(path string) (secretsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f secretsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

func keychainGet(service, account string) ([]byte, error) {
	f, err := readSecrets(secretsPath())
	if err != nil {
		return nil, fmt.Errorf("secret store unavailable: %w", err)
	}
	v, ok := f[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %s/%s", service, account)
	}
	return []byte(v), nil
}

func keychainSet(service, account, value string) error {
	path := secretsPath()
	f, err := readSecrets(path)
	switch {
	case os.IsNotExist(err):
		f = secretsFile{}
	case err != nil:
		return err
	}
	if f == nil {
		f = secretsFile{}
	}
	if f[service] == nil {
		f[service] = map[string]string{}
	}
	f[service][account] = value

	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(out, '\n'))
}
