package config

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
)

//go:embed defaults/*.yaml
var defaults embed.FS

type stepsFile struct {
	Steps []progress.Step `yaml:"steps"`
}

type topicsFile struct {
	Topics []topics.Definition `yaml:"topics"`
}

// Journey is the step catalog together with the topic forms it references.
type Journey struct {
	Catalog *progress.Catalog
	Topics  *topics.Registry
}

// LoadSteps parses a steps file. An empty path loads the built-in journey.
func LoadSteps(path string) (*progress.Catalog, error) {
	data, err := readOrDefault(path, "defaults/steps.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read steps config: %w", err)
	}
	var file stepsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse steps config: %w", err)
	}
	return progress.NewCatalog(file.Steps)
}

// LoadTopics parses a topics file. An empty path loads the built-in forms.
func LoadTopics(path string) (*topics.Registry, error) {
	data, err := readOrDefault(path, "defaults/topics.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read topics config: %w", err)
	}
	var file topicsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse topics config: %w", err)
	}
	return topics.NewRegistry(file.Topics)
}

// LoadJourney loads both files and checks that every step topic is defined.
func LoadJourney(stepsPath, topicsPath string) (*Journey, error) {
	catalog, err := LoadSteps(stepsPath)
	if err != nil {
		return nil, err
	}
	registry, err := LoadTopics(topicsPath)
	if err != nil {
		return nil, err
	}
	for _, step := range catalog.List() {
		if step.Topic == "" {
			continue
		}
		if _, err := registry.Get(step.Topic); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", step.ID, step.Name, err)
		}
	}
	return &Journey{Catalog: catalog, Topics: registry}, nil
}

func readOrDefault(path, embedded string) ([]byte, error) {
	if path == "" {
		return defaults.ReadFile(embedded)
	}
	return os.ReadFile(path)
}
