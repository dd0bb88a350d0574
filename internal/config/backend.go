package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Backend persists plain settings between runs. Lookup hands back the raw
// text form; Put receives the already parsed value so each store can keep
// its native typing (JSON numbers, `defaults -int`, ...).
type Backend interface {
	Lookup(key string) (raw string, ok bool, err error)
	Put(key string, v any) error
	Remove(key string) error
	Location() string
}

// formatValue renders a typed value in the form parseValue accepts.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Duration:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// writeFileAtomic replaces path with data via a sibling temp file, so a
// crash mid-write never leaves a truncated config or secrets file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", args...)
}
