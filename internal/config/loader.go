package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dump renders the resolved configuration as YAML under the `telenode:` root key.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(map[string]*Config{"telenode": cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
