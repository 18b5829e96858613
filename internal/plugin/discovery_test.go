package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writePlugin creates <dir>/<name>/manifest.yaml and an entrypoint script.
func writePlugin(t *testing.T, dir, name, manifest, script string, mode os.FileMode) string {
	t.Helper()
	pluginDir := filepath.Join(dir, name)
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "manifest.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if script != "" {
		if err := os.WriteFile(filepath.Join(pluginDir, "run.sh"), []byte(script), mode); err != nil {
			t.Fatalf("failed to write entrypoint: %v", err)
		}
	}
	return pluginDir
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		setupFn   func(t *testing.T) string // Returns plugins directory
		opts      LoadOptions
		wantCount int
		wantErr   bool
		checkFn   func(t *testing.T, reg *Registry, diags []string)
	}{
		{
			name: "valid plugin discovered",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "echo", `name: echo
version: 1.0.0
protocol: 1
entrypoint: run.sh
`, "#!/bin/sh\necho ok", 0755)
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry, diags []string) {
				a, ok := reg.Get("echo")
				if !ok {
					t.Fatal("echo not found")
				}
				if a.Plugin == nil || a.Plugin.Protocol != 1 {
					t.Error("protocol version mismatch")
				}
				if len(a.Plugin.Digest) != 64 {
					t.Errorf("want 64 hex digest chars, got %q", a.Plugin.Digest)
				}
				if _, ok := a.Handler.(*ExecHandler); !ok {
					t.Errorf("want exec handler, got %T", a.Handler)
				}
				if len(diags) != 1 || !strings.Contains(diags[0], "Loaded plugin echo 1.0.0") {
					t.Errorf("unexpected diagnostics: %v", diags)
				}
			},
		},
		{
			name: "plugin serving several actions",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "math", `name: math
version: 2.1.0
protocol: 1
entrypoint: run.sh
actions:
  - divide
  - name: multiply
`, "#!/bin/sh\n", 0755)
				return dir
			},
			wantCount: 2,
			checkFn: func(t *testing.T, reg *Registry, diags []string) {
				div, ok := reg.Get("divide")
				if !ok {
					t.Fatal("divide not registered")
				}
				mul, ok := reg.Get("multiply")
				if !ok {
					t.Fatal("multiply not registered")
				}
				if div.Plugin != mul.Plugin {
					t.Error("actions should share the plugin")
				}
				if _, ok := reg.Get("math"); ok {
					t.Error("plugin name should not be an action when actions are declared")
				}
			},
		},
		{
			name: "duplicate action keeps first",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				for _, name := range []string{"a-echo", "b-echo"} {
					writePlugin(t, dir, name, `name: `+name+`
version: 1.0.0
protocol: 1
entrypoint: run.sh
actions: [echo]
`, "#!/bin/sh\n", 0755)
				}
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry, diags []string) {
				a, _ := reg.Get("echo")
				if a.Plugin.Name != "a-echo" {
					t.Errorf("want first discovered plugin, got %s", a.Plugin.Name)
				}
				found := false
				for _, d := range diags {
					if strings.Contains(d, `Action "echo"`) {
						found = true
					}
				}
				if !found {
					t.Errorf("want duplicate diagnostic, got %v", diags)
				}
			},
		},
		{
			name: "directory without manifest skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				os.Mkdir(filepath.Join(dir, "no-manifest"), 0755)
				return dir
			},
			wantCount: 0,
		},
		{
			name: "unsupported protocol skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "bad-protocol", `name: bad-protocol
version: 1.0.0
protocol: 99
entrypoint: run.sh
`, "#!/bin/sh\n", 0755)
				return dir
			},
			wantCount: 0,
			checkFn: func(t *testing.T, reg *Registry, diags []string) {
				if len(diags) != 1 || !strings.Contains(diags[0], "unsupported protocol") {
					t.Errorf("want protocol diagnostic, got %v", diags)
				}
			},
		},
		{
			name: "non-executable entrypoint skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "non-exec", `name: non-exec
version: 1.0.0
protocol: 1
entrypoint: run.sh
`, "#!/bin/sh\n", 0644)
				return dir
			},
			wantCount: 0,
		},
		{
			name: "incompatible gateway version skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "future", `name: future
version: 1.0.0
protocol: 1
entrypoint: run.sh
requires: ">= 2.0.0"
`, "#!/bin/sh\n", 0755)
				writePlugin(t, dir, "current", `name: current
version: 1.0.0
protocol: 1
entrypoint: run.sh
requires: "^1.0"
`, "#!/bin/sh\n", 0755)
				return dir
			},
			opts:      LoadOptions{GatewayVersion: "1.2.0"},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry, diags []string) {
				if _, ok := reg.Get("current"); !ok {
					t.Error("compatible plugin should load")
				}
				if _, ok := reg.Get("future"); ok {
					t.Error("incompatible plugin should be skipped")
				}
			},
		},
		{
			name: "nonexistent directory",
			setupFn: func(t *testing.T) string {
				return "/nonexistent/path"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pluginsDir := tt.setupFn(t)

			var logged []string
			opts := tt.opts
			opts.Logger = func(level, msg string, args ...any) {
				logged = append(logged, level+": "+msg)
			}

			reg, diags, err := Load(pluginsDir, opts)

			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if reg.Len() != tt.wantCount {
					t.Errorf("Load() registered %d actions, want %d (logs: %v)", reg.Len(), tt.wantCount, logged)
				}

				if tt.checkFn != nil {
					tt.checkFn(t, reg, diags)
				}
			}
		})
	}
}

func TestLoadMissingDirIsSentinel(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent"), LoadOptions{})
	if !errors.Is(err, ErrPluginDirNotFound) {
		t.Fatalf("want ErrPluginDirNotFound, got %v", err)
	}

	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, []byte("x"), 0644)
	_, _, err = Load(file, LoadOptions{})
	if !errors.Is(err, ErrPluginDirNotFound) {
		t.Fatalf("want ErrPluginDirNotFound for a file, got %v", err)
	}
}

func TestLoadInvalidGatewayVersion(t *testing.T) {
	_, _, err := Load(t.TempDir(), LoadOptions{GatewayVersion: "not-a-version"})
	if err == nil {
		t.Fatal("want error for invalid gateway version")
	}
}

func TestValidateManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest *Manifest
		wantErr  bool
	}{
		{
			name: "valid manifest",
			manifest: &Manifest{
				Name:       "test",
				Version:    "1.0.0",
				Protocol:   1,
				Entrypoint: "run.sh",
			},
			wantErr: false,
		},
		{
			name: "missing name",
			manifest: &Manifest{
				Version:    "1.0.0",
				Protocol:   1,
				Entrypoint: "run.sh",
			},
			wantErr: true,
		},
		{
			name: "missing version",
			manifest: &Manifest{
				Name:       "test",
				Protocol:   1,
				Entrypoint: "run.sh",
			},
			wantErr: true,
		},
		{
			name: "non-semver version",
			manifest: &Manifest{
				Name:       "test",
				Version:    "banana",
				Protocol:   1,
				Entrypoint: "run.sh",
			},
			wantErr: true,
		},
		{
			name: "missing protocol",
			manifest: &Manifest{
				Name:       "test",
				Version:    "1.0.0",
				Entrypoint: "run.sh",
			},
			wantErr: true,
		},
		{
			name: "missing entrypoint",
			manifest: &Manifest{
				Name:     "test",
				Version:  "1.0.0",
				Protocol: 1,
			},
			wantErr: true,
		},
		{
			name: "path traversal in entrypoint",
			manifest: &Manifest{
				Name:       "test",
				Version:    "1.0.0",
				Protocol:   1,
				Entrypoint: "../evil/run.sh",
			},
			wantErr: true,
		},
		{
			name: "action with whitespace",
			manifest: &Manifest{
				Name:       "test",
				Version:    "1.0.0",
				Protocol:   1,
				Entrypoint: "run.sh",
				Actions:    ActionNames{"two words"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateManifest(tt.manifest)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateManifest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckCompatibility(t *testing.T) {
	if err := checkCompatibility(&Manifest{Requires: "not a constraint !!"}, nil); err == nil {
		t.Error("want error for malformed constraint")
	}
	if err := checkCompatibility(&Manifest{Requires: ">= 1.0"}, nil); err != nil {
		t.Errorf("unknown gateway version should skip the check: %v", err)
	}
}

func TestValidateTrust(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(t *testing.T) (entrypoint, pluginPath, pluginsDir string)
		wantErr bool
	}{
		{
			name: "valid executable",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)

				entrypoint := filepath.Join(pluginDir, "run.sh")
				os.WriteFile(entrypoint, []byte("#!/bin/sh\n"), 0755)

				return entrypoint, pluginDir, dir
			},
			wantErr: false,
		},
		{
			name: "non-executable",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)

				entrypoint := filepath.Join(pluginDir, "run.sh")
				os.WriteFile(entrypoint, []byte("#!/bin/sh\n"), 0644)

				return entrypoint, pluginDir, dir
			},
			wantErr: true,
		},
		{
			name: "symlink escaping the plugin directory",
			setupFn: func(t *testing.T) (string, string, string) {
				outside := t.TempDir()
				target := filepath.Join(outside, "evil.sh")
				os.WriteFile(target, []byte("#!/bin/sh\n"), 0755)

				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)
				entrypoint := filepath.Join(pluginDir, "run.sh")
				if err := os.Symlink(target, entrypoint); err != nil {
					t.Skip("symlinks not supported")
				}
				return entrypoint, pluginDir, dir
			},
			wantErr: true,
		},
		{
			name: "world-writable plugin directory",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)

				if err := os.Chmod(pluginDir, 0777); err != nil {
					t.Skip("cannot set world-writable on this filesystem")
				}
				info, _ := os.Stat(pluginDir)
				if info.Mode().Perm()&0002 == 0 {
					t.Skip("filesystem does not support world-writable directories")
				}

				entrypoint := filepath.Join(pluginDir, "run.sh")
				os.WriteFile(entrypoint, []byte("#!/bin/sh\n"), 0755)

				return entrypoint, pluginDir, dir
			},
			wantErr: true,
		},
		{
			name: "nonexistent entrypoint",
			setupFn: func(t *testing.T) (string, string, string) {
				dir := t.TempDir()
				pluginDir := filepath.Join(dir, "test")
				os.Mkdir(pluginDir, 0755)

				return filepath.Join(pluginDir, "nonexistent.sh"), pluginDir, dir
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entrypoint, pluginPath, pluginsDir := tt.setupFn(t)

			err := validateTrust(entrypoint, pluginPath, pluginsDir)

			if (err != nil) != tt.wantErr {
				t.Errorf("validateTrust() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPluginServesAction(t *testing.T) {
	plugin := &Plugin{
		Actions: ActionNames{"divide", "multiply"},
	}

	if !plugin.ServesAction("divide") {
		t.Error("should serve divide")
	}
	if plugin.ServesAction("add") {
		t.Error("should not serve add")
	}
}
