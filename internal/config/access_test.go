package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSection(t *testing.T) {
	cfg := Defaults()
	cfg.raw = map[string]any{
		"echo":  map[string]any{"prefix": "top"},
		"plain": "scalar",
		"actions": map[string]any{
			"echo":   map[string]any{"prefix": "nested"},
			"divide": map[string]any{"timeout": 3, "precision": map[string]any{"digits": 4}},
		},
	}

	t.Run("actions block wins", func(t *testing.T) {
		assert.Equal(t, "nested", cfg.Section("echo").String("prefix"))
	})

	t.Run("nested keys and numbers", func(t *testing.T) {
		sec := cfg.Section("divide")
		assert.Equal(t, "divide", sec.Name())
		assert.Equal(t, "4", sec.String("precision.digits"))
		d, err := sec.Duration("timeout")
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, d)
	})

	t.Run("missing section is empty", func(t *testing.T) {
		sec := cfg.Section("unknown")
		assert.False(t, sec.Exists())
		assert.Equal(t, "", sec.String("anything"))
		assert.NotNil(t, sec.Map())
		d, err := sec.Duration("timeout")
		assert.NoError(t, err)
		assert.Zero(t, d)
	})

	t.Run("names ignore case", func(t *testing.T) {
		mixed := Defaults()
		mixed.raw = map[string]any{
			"Actions": map[string]any{"Echo": map[string]any{"Prefix": ">", "Limits": map[string]any{"Max": 2}}},
			"Divide":  map[string]any{"timeout": "1s"},
		}
		sec := mixed.Section("echo")
		assert.True(t, sec.Exists())
		assert.Equal(t, "echo", sec.Name())
		assert.Equal(t, ">", sec.String("prefix"))
		assert.Equal(t, "2", sec.String("limits.max"))
		assert.True(t, mixed.Section("DIVIDE").Exists())
	})

	t.Run("scalar top-level key is not a section", func(t *testing.T) {
		assert.False(t, cfg.Section("plain").Exists())
	})

	t.Run("nil config", func(t *testing.T) {
		var nilCfg *Config
		assert.False(t, nilCfg.Section("echo").Exists())
	})
}

func TestSectionDuration(t *testing.T) {
	sec := NewSection("x", map[string]any{
		"str":    "1500ms",
		"secs":   "2",
		"float":  0.5,
		"broken": "soon",
		"list":   []any{1},
	})

	d, err := sec.Duration("str")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = sec.Duration("secs")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	d, err = sec.Duration("float")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)

	_, err = sec.Duration("broken")
	assert.Error(t, err)
	_, err = sec.Duration("list")
	assert.Error(t, err)
}

func TestSectionMapIsCopy(t *testing.T) {
	values := map[string]any{"a": 1}
	sec := NewSection("copy", values)
	m := sec.Map()
	m["b"] = 2
	_, ok := sec.Get("b")
	assert.False(t, ok)
}
