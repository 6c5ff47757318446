package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// StepAll selects every enabled stage
const StepAll = "all"

var (
	ErrInvalidRunConfig = errors.New("invalid run config")
	ErrUnknownStage     = errors.New("unknown stage")
)

// Config describes one reconstruction run
type Config struct {
	RunName    string  `yaml:"run_name"`
	OutputPath string  `yaml:"output_path"`
	Engine     string  `yaml:"engine"`
	Stages     []Stage `yaml:"stages"`
}

// Stage is an ordered group of engine operations
type Stage struct {
	Name       string      `yaml:"name"`
	Enabled    *bool       `yaml:"enabled"`
	Operations []Operation `yaml:"operations"`
}

// IsEnabled treats a missing enabled flag as true
func (s Stage) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Operation is one named engine call
type Operation struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// LoadConfig reads and validates a YAML run config
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRunConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks names and the engine type
func (c *Config) Validate() error {
	var problems []string
	if c.Engine != "" && c.Engine != "command" {
		problems = append(problems, fmt.Sprintf("unsupported engine %q", c.Engine))
	}
	if len(c.Stages) == 0 {
		problems = append(problems, "no stages defined")
	}
	seen := make(map[string]bool, len(c.Stages))
	for i, s := range c.Stages {
		if s.Name == "" {
			problems = append(problems, fmt.Sprintf("stage %d has no name", i))
			continue
		}
		if s.Name == StepAll {
			problems = append(problems, fmt.Sprintf("stage name %q is reserved", StepAll))
		}
		if seen[s.Name] {
			problems = append(problems, fmt.Sprintf("duplicate stage %q", s.Name))
		}
		seen[s.Name] = true
		for j, op := range s.Operations {
			if op.Name == "" {
				problems = append(problems, fmt.Sprintf("stage %q operation %d has no name", s.Name, j))
			}
			if op.Command == "" {
				problems = append(problems, fmt.Sprintf("stage %q operation %q has no command", s.Name, op.Name))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRunConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Select returns the stages to run for step: every enabled stage for
// StepAll or "", otherwise the named stage whether enabled or not.
func (c *Config) Select(step string) ([]Stage, error) {
	if step == "" || step == StepAll {
		var stages []Stage
		for _, s := range c.Stages {
			if s.IsEnabled() {
				stages = append(stages, s)
			}
		}
		return stages, nil
	}
	for _, s := range c.Stages {
		if s.Name == step {
			return []Stage{s}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStage, step)
}

// RunID returns run_name, or a short random identifier
func (c *Config) RunID() string {
	if name := strings.TrimSpace(c.RunName); name != "" {
		return name
	}
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
