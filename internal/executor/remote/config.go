package remote

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/fusion/internal/executor"
)

var (
	// ErrInvalidConfig is returned for executor declarations that cannot be
	// turned into an executor.
	ErrInvalidConfig = errors.New("invalid executor config")
)

// Config declares one remote executor.
type Config struct {
	ID           string                `yaml:"id"`
	URL          string                `yaml:"url"`
	Headers      map[string]string     `yaml:"headers"`
	Capabilities []executor.Capability `yaml:"capabilities"`
}

type file struct {
	Executors []Config `yaml:"executors"`
}

// LoadFile reads executor declarations from a YAML file.
func LoadFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read executors file: %w", err)
	}
	cfgs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfgs, nil
}

// Parse decodes and checks executor declarations.
func Parse(data []byte) ([]Config, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(f.Executors))
	for i, c := range f.Executors {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: executor %d has no id", ErrInvalidConfig, i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: duplicate executor id %q", ErrInvalidConfig, c.ID)
		}
		seen[c.ID] = true

		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: executor %q has invalid url %q", ErrInvalidConfig, c.ID, c.URL)
		}
		for _, capability := range c.Capabilities {
			if capability.Type == "" {
				return nil, fmt.Errorf("%w: executor %q declares a capability without a type", ErrInvalidConfig, c.ID)
			}
		}
	}
	return f.Executors, nil
}
