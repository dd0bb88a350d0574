//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// xdgDir resolves an XDG base directory, falling back to $HOME/<rel>.
func xdgDir(env, rel string) (string, bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, rel), true
}

func defaultDataDir() string {
	if dir, ok := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")); ok {
		return filepath.Join(dir, "replyd")
	}
	return "replyd-data"
}

func secretHint(account string) string {
	return fmt.Sprintf(" or %s (service: %s, account: %s)", secretsPath(), keychainService, account)
}

// jsonBackend keeps settings in $XDG_CONFIG_HOME/replyd/config.json.
// Numbers and booleans are stored as JSON scalars, durations as strings.
type jsonBackend struct {
	path   string
	values map[string]any
}

func newPlatformBackend() Backend {
	dir, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		dir = "."
	}
	b := &jsonBackend{path: filepath.Join(dir, "replyd", "config.json"), values: map[string]any{}}

	raw, err := os.ReadFile(b.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		warnf("reading %s: %v. Using default values.", b.path, err)
	default:
		if err := json.Unmarshal(raw, &b.values); err != nil {
			warnf("parsing %s: %v. Using default values.", b.path, err)
			b.values = map[string]any{}
		}
	}
	return b
}

func (b *jsonBackend) Location() string { return b.path }

func (b *jsonBackend) Lookup(key string) (string, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return "", false, nil
	}
	return formatValue(v), true, nil
}

func (b *jsonBackend) Put(key string, v any) error {
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	b.values[key] = v
	return b.flush()
}

func (b *jsonBackend) Remove(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.flush()
}

func (b *jsonBackend) flush() error {
	out, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(b.path, append(out, '\n'))
}
