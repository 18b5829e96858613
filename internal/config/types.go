package config

const (
	// DefaultBindIP keeps the gateway reachable from the local host only.
	DefaultBindIP = "127.0.0.1"

	// DefaultPort is the public ROUTER port existing clients connect to.
	DefaultPort = 55555
)

// Config represents the complete ccgateway configuration.
//
// The typed fields cover the gateway's own settings. Everything else in the
// source files (for example one section per action) stays available through
// Section.
type Config struct {
	BindIP     string      `yaml:"bindIP"`
	Port       int         `yaml:"port"`
	PluginsDir string      `yaml:"plugins_dir"`
	LogLevel   string      `yaml:"log_level"`
	LogFormat  string      `yaml:"log_format"`
	PIDFile    string      `yaml:"pid_file,omitempty"`
	Admin      AdminConfig `yaml:"admin"`

	// SourceFiles lists the files that were merged, base first.
	SourceFiles []string `yaml:"-"`
	// Warnings collects non-fatal notices produced while loading
	// (for example a defaulted bind address). Callers log them.
	Warnings []string `yaml:"-"`

	raw map[string]any
}

// AdminConfig defines the optional admin HTTP server.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults returns a Config with every default applied and no sections.
func Defaults() *Config {
	return &Config{
		BindIP:     DefaultBindIP,
		Port:       DefaultPort,
		PluginsDir: "./plugins",
		LogLevel:   "info",
		LogFormat:  "json",
		Admin: AdminConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8081",
		},
		raw: make(map[string]any),
	}
}
