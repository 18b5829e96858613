package plugin

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ActionNames lists the actions a plugin serves.
//
// Accepted formats:
//   - string array: actions: [echo, shout]
//   - object array: actions: [{name: echo}, {name: shout}]
type ActionNames []string

func (a *ActionNames) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*a = nil
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("actions must be a list")
	}

	out := make(ActionNames, 0, len(n.Content))
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, strings.TrimSpace(item.Value))
		case yaml.MappingNode:
			var obj struct {
				Name string `yaml:"name"`
			}
			if err := item.Decode(&obj); err != nil {
				return fmt.Errorf("invalid action entry: %w", err)
			}
			out = append(out, strings.TrimSpace(obj.Name))
		default:
			return fmt.Errorf("invalid action entry (must be string or object)")
		}
	}

	*a = out
	return nil
}

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	Protocol    int         `yaml:"protocol"`
	Entrypoint  string      `yaml:"entrypoint"`
	Description string      `yaml:"description,omitempty"`
	Requires    string      `yaml:"requires,omitempty"` // semver constraint on the gateway version
	Actions     ActionNames `yaml:"actions,omitempty"`
	ConfigKeys  *ConfigKeys `yaml:"config_keys,omitempty"`
}

// ConfigKeys defines required and optional configuration keys for a plugin.
type ConfigKeys struct {
	Required []string `yaml:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty"`
}

// Plugin represents a discovered and validated executable plugin.
type Plugin struct {
	Name        string      // Plugin name from manifest
	Path        string      // Absolute path to plugin directory
	Entrypoint  string      // Absolute path to entrypoint executable
	Protocol    int         // Protocol version
	Version     string      // Plugin version (semver)
	Description string      // Human-readable description
	Actions     ActionNames // Actions served, defaults to [Name]
	ConfigKeys  *ConfigKeys
	Digest      string // BLAKE3 of the entrypoint at discovery time, hex
}

// ServesAction checks if the plugin serves a given action.
func (p *Plugin) ServesAction(name string) bool {
	for _, a := range p.Actions {
		if a == name {
			return true
		}
	}
	return false
}
