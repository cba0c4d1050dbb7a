package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ServiceSettings configures one deployable service.
type ServiceSettings struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	Description string `yaml:"description"`
}

// ServicesConfig lists the services a deployment runs.
type ServicesConfig struct {
	Services map[string]*ServiceSettings `yaml:"services"`
}

// LoadServicesConfig loads the services configuration from config/services.yaml
func LoadServicesConfig() (*ServicesConfig, error) {
	return LoadServicesConfigFromPath(filepath.Join("config", "services.yaml"))
}

// LoadServicesConfigFromPath loads the services configuration from a specific path
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}

	for id, settings := range cfg.Services {
		if settings == nil {
			return nil, fmt.Errorf("service %s: settings are required", id)
		}
		if settings.Port == 0 {
			return nil, fmt.Errorf("service %s: port is required", id)
		}
	}

	return &cfg, nil
}

// LoadServicesConfigOrDefault loads services config or returns default if the file cannot be read
func LoadServicesConfigOrDefault(path string) *ServicesConfig {
	cfg, err := LoadServicesConfigFromPath(path)
	if err != nil {
		return DefaultServicesConfig()
	}
	return cfg
}

// DefaultServicesConfig returns the default services configuration
func DefaultServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		Services: map[string]*ServiceSettings{
			"motivation": {
				Enabled:     true,
				Port:        8090,
				Description: "Motivation journey progress and topic answers",
			},
			"accounts": {
				Enabled:     true,
				Port:        8091,
				Description: "Account provisioning, payment webhooks and transactional email",
			},
		},
	}
}

// Service returns the settings for a service, or nil when unknown.
func (c *ServicesConfig) Service(name string) *ServiceSettings {
	if c == nil {
		return nil
	}
	return c.Services[name]
}

// EnabledServices returns the enabled service names in sorted order.
func (c *ServicesConfig) EnabledServices() []string {
	var names []string
	for name, s := range c.Services {
		if s != nil && s.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
