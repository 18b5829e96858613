package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. CCGATEWAY_BIND_IP.
const EnvPrefix = "ccgateway"

// envOverrides holds the settings that may be overridden from the environment.
// Empty/zero values mean "not set".
type envOverrides struct {
	BindIP      string `envconfig:"BIND_IP"`
	Port        int    `envconfig:"PORT"`
	PluginsDir  string `envconfig:"PLUGINS_DIR"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	LogFormat   string `envconfig:"LOG_FORMAT"`
	PIDFile     string `envconfig:"PID_FILE"`
	AdminListen string `envconfig:"ADMIN_LISTEN"`
}

// applyEnv overlays CCGATEWAY_* variables onto cfg. It runs after the files
// are merged and before defaults, so an empty file plus env is a full config.
func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config:env - %w", err)
	}

	if env.BindIP != "" {
		cfg.BindIP = env.BindIP
	}
	if env.Port != 0 {
		cfg.Port = env.Port
	}
	if env.PluginsDir != "" {
		cfg.PluginsDir = env.PluginsDir
	}
	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}
	if env.LogFormat != "" {
		cfg.LogFormat = env.LogFormat
	}
	if env.PIDFile != "" {
		cfg.PIDFile = env.PIDFile
	}
	if env.AdminListen != "" {
		cfg.Admin.Listen = env.AdminListen
	}
	return nil
}
