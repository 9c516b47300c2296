package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// modelsFile is the on-disk shape of a model defaults file.
type modelsFile struct {
	Models []Config `yaml:"models"`
}

// LoadFile reads model configurations from a YAML file.
func LoadFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mverr.Wrap(mverr.ErrCodeConfigInvalid,
			fmt.Errorf("read models file %s: %w", path, err))
	}

	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, mverr.Wrap(mverr.ErrCodeConfigInvalid,
			fmt.Errorf("parse models file %s: %w", path, err))
	}

	return f.Models, nil
}

// LoadRegistry creates a registry populated from a YAML file. When the
// file is missing, unreadable, or lists no models, the registry stays
// empty and List falls back to the static default model set.
func LoadRegistry(path string, opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)
	if path == "" {
		return r
	}

	cfgs, err := LoadFile(path)
	if err != nil || len(cfgs) == 0 {
		return r
	}
	if err := r.Replace(cfgs); err != nil {
		// Invalid entries in the file behave like an unreachable store.
		return NewRegistry(opts...)
	}
	return r
}
