//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.replyd.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "replyd-data"
	}
	return filepath.Join(home, "Library", "Application Support", "replyd")
}

func secretHint(account string) string {
	return fmt.Sprintf(" or macOS Keychain (service: %s, account: %s)", keychainService, account)
}

// defaultsBackend stores settings in UserDefaults through the defaults(1)
// tool. Booleans read back as 1/0, which strconv.ParseBool accepts.
type defaultsBackend struct{}

func newPlatformBackend() Backend { return defaultsBackend{} }

func (defaultsBackend) Location() string { return "defaults domain " + defaultsDomain }

func (defaultsBackend) Lookup(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", defaultsDomain, key).CombinedOutput()
	text := strings.TrimSpace(string(out))
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		// Missing domain or key.
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, text)
	}
	return text, true, nil
}

func (defaultsBackend) Put(key string, v any) error {
	flag := "-string"
	switch v.(type) {
	case int:
		flag = "-int"
	case float64:
		flag = "-float"
	case bool:
		flag = "-bool"
	}
	out, err := exec.Command("defaults", "write", defaultsDomain, key, flag, formatValue(v)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b defaultsBackend) Remove(key string) error {
	if _, ok, _ := b.Lookup(key); !ok {
		return nil
	}
	return exec.Command("defaults", "delete", defaultsDomain, key).Run()
}
