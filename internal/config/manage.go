package config

import (
	"fmt"
	"os"
)

// Setting is one plain config key as `replyd config show` prints it.
type Setting struct {
	Key   string
	Value string
	// Env names the variable currently overriding the stored value, if any.
	Env string
}

// ShowAll lists every non-secret key with its effective value.
func ShowAll(cfg Config) []Setting {
	out := make([]Setting, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		st := Setting{Key: s.key, Value: formatValue(s.extract(cfg))}
		if os.Getenv(s.env) != "" {
			st.Env = s.env
		}
		out = append(out, st)
	}
	return out
}

// SetKey validates value against the key's type and persists it.
func SetKey(key, value string) error {
	return setKeyIn(newPlatformBackend(), key, value)
}

// UnsetKey removes a stored value so the default applies again.
func UnsetKey(key string) error {
	return unsetKeyIn(newPlatformBackend(), key)
}

// BackendLocation describes where SetKey writes on this platform.
func BackendLocation() string {
	return newPlatformBackend().Location()
}

func plainSpec(key string) (keySpec, error) {
	s := specByKey(key)
	switch {
	case s.apply == nil:
		return s, fmt.Errorf("unknown config key: %q", key)
	case s.secret:
		return s, fmt.Errorf("%q is a secret; use environment variable %s%s", key, s.env, secretHint(s.account()))
	}
	return s, nil
}

func setKeyIn(b Backend, key, value string) error {
	s, err := plainSpec(key)
	if err != nil {
		return err
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return b.Put(key, v)
}

func unsetKeyIn(b Backend, key string) error {
	if _, err := plainSpec(key); err != nil {
		return err
	}
	return b.Remove(key)
}

// ValidKeys returns the non-secret key names in declaration order.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
