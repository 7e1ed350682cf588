package apps

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Settings are the per-application options passed on to the server configuration.
type Settings struct {
	Environment  string `toml:"environment"`
	MaxPoolSize  int    `toml:"max_pool_size"`
	MinInstances int    `toml:"min_instances"`
}

// Options that may only be set in the global configuration file.
var globalOnlyOptions = []string{"address", "port", "max_pool_size", "daemonize"}

// DisallowedOptionError is returned when a local settings file sets a global-only option.
type DisallowedOptionError struct {
	Option string
	File   string
}

func (e *DisallowedOptionError) Error() string {
	return fmt.Sprintf("the '%s' option may not be set in %s", e.Option, e.File)
}

// MergeLocalSettings applies the settings file at path on top of defaults.
// A missing file leaves defaults untouched.
func MergeLocalSettings(defaults Settings, path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return defaults, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return defaults, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, name := range globalOnlyOptions {
		if _, set := raw[name]; set {
			return defaults, &DisallowedOptionError{Option: name, File: path}
		}
	}

	var local Settings
	if err := toml.Unmarshal(data, &local); err != nil {
		return defaults, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	merged := defaults
	if local.Environment != "" {
		merged.Environment = local.Environment
	}
	if local.MinInstances > 0 {
		merged.MinInstances = local.MinInstances
	}
	return merged, nil
}
