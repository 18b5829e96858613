package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// baseCandidates are searched in order when Load is given a directory.
// The first one that exists is the base file.
var baseCandidates = []string{
	"appsettings.json",
	"config.yaml",
	"config.yml",
	"config.toml",
}

// Load reads configuration from path and applies CCGATEWAY_* environment
// overrides and defaults.
//
// path may be a directory (searched for a base file and its ".dev" overlay)
// or a single file (its overlay is the same name with ".dev" before the
// extension). A directory with no config file at all yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "."
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config path not found: %s\n"+
			"Hint: Check the path or run with -config", absPath)
	}

	var base string
	if info.IsDir() {
		for _, name := range baseCandidates {
			candidate := filepath.Join(absPath, name)
			if _, err := os.Stat(candidate); err == nil {
				base = candidate
				break
			}
		}
	} else {
		base = absPath
	}

	tree := make(map[string]any)
	var sources []string
	if base != "" {
		files := []string{base}
		if overlay := overlayPath(base); overlay != "" {
			if _, err := os.Stat(overlay); err == nil {
				files = append(files, overlay)
			}
		}
		for _, file := range files {
			layer, err := loadFile(file)
			if err != nil {
				return nil, err
			}
			mergeTrees(tree, layer)
			sources = append(sources, file)
		}
	}

	cfg, err := fromTree(tree)
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = sources

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overlayPath returns the ".dev" sibling of a base config file,
// e.g. appsettings.json -> appsettings.dev.json.
func overlayPath(base string) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if strings.HasSuffix(stem, ".dev") {
		return ""
	}
	return stem + ".dev" + ext
}

// loadFile parses a single file into a generic tree based on its extension.
func loadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	data = []byte(interpolateEnv(string(data)))

	tree := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON in %s: %w", path, err)
		}
		dec := json.NewDecoder(bytes.NewReader(std))
		dec.UseNumber()
		if err := dec.Decode(&tree); err != nil {
			return nil, fmt.Errorf("failed to parse JSON in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse TOML in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q: %s", filepath.Ext(path), path)
	}
	return normalize(tree).(map[string]any), nil
}

// typedKeys are the spellings the Config struct tags expect.
var (
	typedKeys = []string{"bindIP", "port", "plugins_dir", "log_level", "log_format", "pid_file", "admin"}
	adminKeys = []string{"enabled", "listen"}
)

// canonicalize renames keys of m that match one of keys regardless of case,
// so "BindIP" in appsettings.json decodes into Config.BindIP.
func canonicalize(m map[string]any, keys []string) {
	for _, want := range keys {
		if k, ok := foldKey(m, want); ok && k != want {
			m[want] = m[k]
			delete(m, k)
		}
	}
}

// fromTree decodes the typed fields out of a merged tree. The tree itself is
// kept for section lookups.
func fromTree(tree map[string]any) (*Config, error) {
	canonicalize(tree, typedKeys)
	if admin, ok := tree["admin"].(map[string]any); ok {
		canonicalize(admin, adminKeys)
	}
	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("marshal config tree: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.raw = tree
	return &cfg, nil
}

// mergeTrees merges src into dst. Keys match regardless of case and keep
// dst's spelling. Nested maps merge recursively; any other value in src
// replaces the one in dst.
func mergeTrees(dst, src map[string]any) {
	for k, v := range src {
		if existing, ok := foldKey(dst, k); ok {
			k = existing
		}
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				mergeTrees(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}

// normalize converts decoder-specific values into plain Go types so every
// format yields the same tree shape.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			val[k] = normalize(child)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []any:
		for i, child := range val {
			val[i] = normalize(child)
		}
		return val
	case []map[string]any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalize(child)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case int64:
		return int(val)
	default:
		return v
	}
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()
	if strings.TrimSpace(cfg.BindIP) == "" {
		cfg.BindIP = defaults.BindIP
		cfg.Warnings = append(cfg.Warnings,
			fmt.Sprintf("bindIP is not set, defaulting to %s (local connections only)", defaults.BindIP))
	}
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if cfg.PluginsDir == "" {
		cfg.PluginsDir = defaults.PluginsDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}
	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = defaults.Admin.Listen
	}
	if cfg.raw == nil {
		cfg.raw = make(map[string]any)
	}
}

// interpolateEnv replaces ${VAR} placeholders with environment values.
// Unknown variables are left untouched.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("log_format %q is not supported (use json or text)", cfg.LogFormat)
	}
	if strings.ContainsAny(cfg.BindIP, " /") {
		return fmt.Errorf("bindIP %q is not a host address", cfg.BindIP)
	}
	return nil
}
