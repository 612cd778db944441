package functions

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the YAML sidecar describing a function's triggers and
// runtime overrides. It sits next to the handler file as <name>.yaml.
type Manifest struct {
	Name     string            `yaml:"name"`
	Runtime  string            `yaml:"runtime"`
	Timeout  string            `yaml:"timeout"`
	RunOnce  bool              `yaml:"run_once"`
	Env      map[string]string `yaml:"env"`
	Triggers []triggerSpec     `yaml:"triggers"`
}

// ParseManifest parses raw manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// apply folds the manifest into a definition. Trigger specs are built into
// the typed union; an invalid trigger fails the whole manifest so a broken
// function is skipped rather than half-loaded.
func (m *Manifest) apply(def *Definition) error {
	if m.Runtime != "" {
		rt := Runtime(strings.ToLower(m.Runtime))
		switch rt {
		case RuntimeNode, RuntimePython:
			def.Runtime = rt
		default:
			return fmt.Errorf("unknown runtime %q", m.Runtime)
		}
	}

	if m.Timeout != "" {
		d, err := parseTimeout(m.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", m.Timeout, err)
		}
		def.Timeout = d
	}

	def.RunOnce = m.RunOnce

	if m.Env != nil {
		if def.Env == nil {
			def.Env = make(map[string]string, len(m.Env))
		}
		for k, v := range m.Env {
			def.Env[k] = os.ExpandEnv(v)
		}
	}

	for i := range m.Triggers {
		trigger, err := m.Triggers[i].build(def.Name)
		if err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
		def.Triggers = append(def.Triggers, trigger)
	}

	return nil
}

// parseTimeout accepts Go durations ("45s", "2m") and bare second counts.
func parseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return d, nil
	}

	var seconds int
	if _, err := fmt.Sscanf(s, "%d", &seconds); err != nil || seconds <= 0 {
		return 0, fmt.Errorf("not a duration")
	}
	return time.Duration(seconds) * time.Second, nil
}
