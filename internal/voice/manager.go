// Package voice manages the brand voice: a small cached record stored as
// key/value pairs, plus importers for guideline documents.
package voice

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SetVoiceKey(key, value string) error
	GetAllVoiceKeys() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached access to the brand voice.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	base     Voice
	cached   *Voice
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		base:  Default(),
	}
}

// SetBase replaces the fallback voice used for fields the store does not
// hold, typically from a profile file loaded at startup.
func (m *Manager) SetBase(v Voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = v.merge(Default())
	m.cached = nil
}

// Get returns the stored voice with unset fields taken from the base.
func (m *Manager) Get() (Voice, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		v := m.cached.clone()
		m.mu.RUnlock()
		return v, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return m.cached.clone(), nil
	}

	keys, err := m.store.GetAllVoiceKeys()
	if err != nil {
		return Voice{}, fmt.Errorf("loading voice keys: %w", err)
	}

	v := buildVoice(keys).merge(m.base)
	m.cached = &v
	m.cachedAt = m.clock.Now()
	return v.clone(), nil
}

// Set persists one field and invalidates the cache. List fields accept a
// JSON array or a comma-separated string.
func (m *Manager) Set(field, value string) error {
	stored, err := normalizeField(field, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetVoiceKey(field, stored); err != nil {
		return fmt.Errorf("setting voice field %q: %w", field, err)
	}
	m.cached = nil
	return nil
}

// Apply persists every non-empty field of v.
func (m *Manager) Apply(v Voice) error {
	updates := map[string]string{}
	if v.Tone != "" {
		updates[FieldTone] = v.Tone
	}
	if v.Style != "" {
		updates[FieldStyle] = v.Style
	}
	if len(v.Values) > 0 {
		b, _ := json.Marshal(v.Values)
		updates[FieldValues] = string(b)
	}
	if len(v.Avoid) > 0 {
		b, _ := json.Marshal(v.Avoid)
		updates[FieldAvoid] = string(b)
	}
	if v.Guidelines != "" {
		updates[FieldGuidelines] = v.Guidelines
	}
	for _, f := range Fields {
		val, ok := updates[f]
		if !ok {
			continue
		}
		if err := m.Set(f, val); err != nil {
			return err
		}
	}
	return nil
}

// Summary returns the prompt block for the current voice. A storage error
// degrades to the base voice so reply generation never stalls on it.
func (m *Manager) Summary() string {
	v, err := m.Get()
	if err != nil {
		slog.Warn("voice unavailable, using base voice", "error", err)
		m.mu.RLock()
		v = m.base.clone()
		m.mu.RUnlock()
	}
	return v.Summary()
}

func normalizeField(field, value string) (string, error) {
	switch field {
	case FieldTone, FieldStyle, FieldGuidelines:
		return strings.TrimSpace(value), nil
	case FieldValues, FieldAvoid:
		list, err := parseList(value)
		if err != nil {
			return "", fmt.Errorf("parsing %s: %w", field, err)
		}
		b, err := json.Marshal(list)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unknown voice field %q (valid: %s)", field, strings.Join(Fields, ", "))
	}
}

func parseList(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "[") {
		var list []string
		if err := json.Unmarshal([]byte(value), &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var list []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			list = append(list, p)
		}
	}
	return list, nil
}

func buildVoice(keys map[string]string) Voice {
	var v Voice
	v.Tone = keys[FieldTone]
	v.Style = keys[FieldStyle]
	v.Guidelines = keys[FieldGuidelines]
	unmarshalVoiceKey(keys, FieldValues, &v.Values)
	unmarshalVoiceKey(keys, FieldAvoid, &v.Avoid)
	return v
}

func unmarshalVoiceKey(keys map[string]string, key string, target *[]string) {
	raw, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		slog.Warn("malformed voice key, skipping", "key", key, "error", err)
	}
}
