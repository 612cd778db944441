package functions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ErrInvalidName is returned for deploy names that are not plain
// identifiers.
var ErrInvalidName = fmt.Errorf("invalid function name")

// Deploy persists a function unit to the functions directory and triggers
// a full rescan. The code is written as a Node handler; an env mapping is
// persisted through a generated manifest so it survives restarts.
func (s *Service) Deploy(ctx context.Context, name, code string, env map[string]string) (*Definition, error) {
	if !validFunctionName(name) {
		return nil, ErrInvalidName
	}

	if err := os.MkdirAll(s.scanner.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating functions directory: %w", err)
	}

	handlerPath := filepath.Join(s.scanner.Dir(), name+".js")
	if err := os.WriteFile(handlerPath, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("writing function: %w", err)
	}

	if len(env) > 0 {
		manifest := Manifest{Name: name, Runtime: string(RuntimeNode), Env: env}
		data, err := yaml.Marshal(&manifest)
		if err != nil {
			return nil, fmt.Errorf("encoding manifest: %w", err)
		}
		manifestPath := filepath.Join(s.scanner.Dir(), name+".yaml")
		if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing manifest: %w", err)
		}
	}

	if err := s.Rescan(ctx); err != nil {
		return nil, err
	}

	def, ok := s.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("function %s did not load after deploy", name)
	}

	log.Info().Str("function", name).Msg("Function deployed")
	return def, nil
}

// Undeploy removes a function's persisted unit and rescans. Completion
// state is forgotten so a redeploy under the same name starts fresh.
func (s *Service) Undeploy(ctx context.Context, name string) (bool, error) {
	if !validFunctionName(name) {
		return false, ErrInvalidName
	}

	handler, ok := s.scanner.FindHandlerFile(name)
	if !ok {
		return false, nil
	}

	if err := os.Remove(filepath.Join(s.scanner.Dir(), handler)); err != nil {
		return false, fmt.Errorf("removing function: %w", err)
	}

	manifestPath := filepath.Join(s.scanner.Dir(), name+".yaml")
	if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("function", name).Msg("Failed to remove manifest")
	}

	s.bus.Detach(name)
	s.completed.Forget(name)

	if err := s.Rescan(ctx); err != nil {
		return true, err
	}

	log.Info().Str("function", name).Msg("Function undeployed")
	return true, nil
}

// validFunctionName accepts plain identifiers: letters, digits, dash and
// underscore, starting with a letter or digit.
func validFunctionName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
