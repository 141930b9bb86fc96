package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPresets reads a YAML presets file over the built-in defaults. Keys
// missing from the file keep their default value.
func LoadPresets(path string) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("failed to read presets file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("failed to parse presets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Configuration{}, fmt.Errorf("invalid presets: %w", err)
	}

	return cfg, nil
}

// YAML encodes c in the presets file format.
func (c Configuration) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
