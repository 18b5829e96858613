package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// actionsKey groups per-action sections. Sections may also sit at the top
// level under the action's own name (the appsettings.json layout).
const actionsKey = "actions"

// Section is the opaque sub-configuration handed to an action's handler.
// The zero value is an empty, non-existent section and is safe to use.
type Section struct {
	name   string
	values map[string]any
}

// Section returns the configuration section for an action.
// actions.<name> wins over a top-level <name> key. Names match regardless of
// case. Missing sections are empty.
func (c *Config) Section(name string) Section {
	if c == nil || c.raw == nil {
		return Section{name: name}
	}
	if actions, ok := lookupFold(c.raw, actionsKey); ok {
		if am, ok := actions.(map[string]any); ok {
			if v, ok := lookupFold(am, name); ok {
				if m, ok := v.(map[string]any); ok {
					return Section{name: name, values: m}
				}
			}
		}
	}
	if v, ok := lookupFold(c.raw, name); ok {
		if m, ok := v.(map[string]any); ok {
			return Section{name: name, values: m}
		}
	}
	return Section{name: name}
}

// NewSection builds a section from literal values. Used by tests and by
// callers that construct handlers without a config file.
func NewSection(name string, values map[string]any) Section {
	return Section{name: name, values: values}
}

// Name returns the action name the section was requested for.
func (s Section) Name() string { return s.name }

// Exists reports whether the section was present in the configuration.
func (s Section) Exists() bool { return s.values != nil }

// Get resolves a dot-notation key inside the section, ignoring case.
func (s Section) Get(key string) (any, bool) {
	if s.values == nil {
		return nil, false
	}
	v, err := getValue(s.values, key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// String returns the value at key formatted as a string, or "" when absent.
func (s Section) String(key string) string {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Duration parses the value at key. Strings use time.ParseDuration; bare
// numbers are seconds. Absent keys return 0 and no error.
func (s Section) Duration(key string) (time.Duration, error) {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return 0, nil
	}
	switch val := v.(type) {
	case string:
		if secs, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("section %q key %q: %w", s.name, key, err)
		}
		return d, nil
	case int:
		return time.Duration(val) * time.Second, nil
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("section %q key %q: unsupported duration value %v", s.name, key, v)
	}
}

// Map returns a shallow copy of the section's values (never nil).
func (s Section) Map() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := lookupFold(m, part)
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}

// foldKey returns the key of m that equals key under case folding. An exact
// match wins; among several folded matches the lexically smallest is used.
func foldKey(m map[string]any, key string) (string, bool) {
	if _, ok := m[key]; ok {
		return key, true
	}
	found, ok := "", false
	for k := range m {
		if strings.EqualFold(k, key) && (!ok || k < found) {
			found, ok = k, true
		}
	}
	return found, ok
}

func lookupFold(m map[string]any, key string) (any, bool) {
	k, ok := foldKey(m, key)
	if !ok {
		return nil, false
	}
	return m[k], true
}
