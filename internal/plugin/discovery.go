package plugin

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const (
	supportedProtocol = 1
	manifestFilename  = "manifest.yaml"
)

// ErrPluginDirNotFound is returned when the plugin directory is missing or not a directory.
var ErrPluginDirNotFound = errors.New("plugin directory not found")

// LoadOptions tune plugin discovery.
type LoadOptions struct {
	// GatewayVersion is checked against each manifest's "requires" constraint.
	// Empty skips the check.
	GatewayVersion string
	// Logger receives structured discovery events. Nil discards them.
	Logger func(level, msg string, args ...any)
}

// Load scans pluginsDir for plugins with a manifest.yaml and registers one
// exec handler per declared action.
//
// Invalid plugins are reported in the returned diagnostics and skipped; only
// an unusable pluginsDir is an error.
func Load(pluginsDir string, opts LoadOptions) (*Registry, []string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	root, err := resolveRoot(pluginsDir)
	if err != nil {
		return nil, nil, err
	}

	var gatewayVersion *semver.Version
	if opts.GatewayVersion != "" {
		gatewayVersion, err = semver.NewVersion(opts.GatewayVersion)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid gateway version %q: %w", opts.GatewayVersion, err)
		}
	}

	registry := NewRegistry()
	var diagnostics []string
	diag := func(format string, args ...any) {
		diagnostics = append(diagnostics, fmt.Sprintf(format, args...))
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != manifestFilename {
			return nil
		}

		pluginPath := filepath.Dir(path)
		plugin, err := loadPlugin(pluginPath, root, gatewayVersion)
		if err != nil {
			logger("warn", "failed to load plugin", "path", pluginPath, "error", err.Error())
			diag("Failed to load plugin at %s: %v", pluginPath, err)
			return nil
		}

		handler := NewExecHandler(plugin)
		for _, action := range plugin.Actions {
			if err := registry.Register(action, handler, plugin); err != nil {
				kept := ""
				if existing, ok := registry.Get(action); ok && existing.Plugin != nil {
					kept = existing.Plugin.Path
				}
				logger("warn", "duplicate action ignored (keeping first discovered)",
					"action", action, "ignored_path", plugin.Path, "kept_path", kept)
				diag("Action %q from %s ignored: already served by %s", action, plugin.Path, kept)
				continue
			}
		}

		logger("info", "loaded plugin",
			"plugin", plugin.Name, "path", plugin.Path, "version", plugin.Version,
			"actions", strings.Join(plugin.Actions, ","), "digest", plugin.Digest)
		diag("Loaded plugin %s %s (%s) serving [%s]",
			plugin.Name, plugin.Version, shortDigest(plugin.Digest), strings.Join(plugin.Actions, ", "))
		return nil
	})
	if err != nil {
		return nil, diagnostics, fmt.Errorf("failed to scan plugin directory %s: %w", root, err)
	}

	return registry, diagnostics, nil
}

func resolveRoot(pluginsDir string) (string, error) {
	pluginsDir = strings.TrimSpace(pluginsDir)
	if pluginsDir == "" {
		return "", fmt.Errorf("%w: no directory configured", ErrPluginDirNotFound)
	}
	absRoot, err := filepath.Abs(pluginsDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve plugin directory %q: %w", pluginsDir, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrPluginDirNotFound, absRoot)
		}
		return "", fmt.Errorf("failed to stat plugin directory %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrPluginDirNotFound, absRoot)
	}
	return absRoot, nil
}

// loadPlugin reads and validates a single plugin.
func loadPlugin(pluginPath, pluginsDir string, gatewayVersion *semver.Version) (*Plugin, error) {
	manifestPath := filepath.Join(pluginPath, manifestFilename)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	if manifest.Protocol != supportedProtocol {
		return nil, fmt.Errorf("unsupported protocol version %d (supported: %d)", manifest.Protocol, supportedProtocol)
	}

	if err := checkCompatibility(&manifest, gatewayVersion); err != nil {
		return nil, err
	}

	entrypointPath := filepath.Join(pluginPath, manifest.Entrypoint)
	if err := validateTrust(entrypointPath, pluginPath, pluginsDir); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	digest, err := fileDigest(entrypointPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint entrypoint: %w", err)
	}

	actions := manifest.Actions
	if len(actions) == 0 {
		actions = ActionNames{manifest.Name}
	}

	return &Plugin{
		Name:        manifest.Name,
		Path:        pluginPath,
		Entrypoint:  entrypointPath,
		Protocol:    manifest.Protocol,
		Version:     manifest.Version,
		Description: manifest.Description,
		Actions:     actions,
		ConfigKeys:  manifest.ConfigKeys,
		Digest:      digest,
	}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not semver: %w", m.Version, err)
	}

	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}

	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}

	// Check for path traversal in entrypoint
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}

	for _, a := range m.Actions {
		if a == "" {
			return fmt.Errorf("action name is required")
		}
		if strings.ContainsAny(a, " \t\r\n") {
			return fmt.Errorf("action name %q contains whitespace", a)
		}
	}

	return nil
}

// checkCompatibility enforces the manifest's "requires" constraint.
func checkCompatibility(m *Manifest, gatewayVersion *semver.Version) error {
	if strings.TrimSpace(m.Requires) == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return fmt.Errorf("invalid requires constraint %q: %w", m.Requires, err)
	}
	if gatewayVersion == nil {
		return nil
	}
	if !constraint.Check(gatewayVersion) {
		return fmt.Errorf("plugin requires gateway %s, running %s", m.Requires, gatewayVersion)
	}
	return nil
}

// validateTrust enforces filesystem constraints on the entrypoint.
func validateTrust(entrypointPath, pluginPath, pluginsDir string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}

	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin path symlink: %w", err)
	}

	resolvedRoot, err := filepath.EvalSymlinks(pluginsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin root symlink %s: %w", pluginsDir, err)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedRoot)
	}

	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("entrypoint is a directory: %s", resolvedEntrypoint)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if pluginInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedPluginPath)
	}

	return nil
}

// fileDigest returns the hex BLAKE3 digest of a file.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
