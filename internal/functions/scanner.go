package functions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var errNotAFunction = errors.New("not a function file")

// Scanner loads function definitions from the functions directory into a
// registry. A handler file plus an optional <name>.yaml manifest make one
// function; malformed entries are skipped with a warning so one broken
// manifest never takes down the rest of the directory.
type Scanner struct {
	dir       string
	registry  *Registry
	completed *CompletedSet
	baseEnv   map[string]string
}

// NewScanner creates a scanner over dir feeding the registry.
func NewScanner(dir string, registry *Registry, completed *CompletedSet) *Scanner {
	return &Scanner{dir: dir, registry: registry, completed: completed}
}

// SetBaseEnv sets environment variables inherited by every function. A
// manifest entry under the same key wins.
func (s *Scanner) SetBaseEnv(env map[string]string) {
	s.baseEnv = env
}

// Dir returns the scanned directory.
func (s *Scanner) Dir() string {
	return s.dir
}

// Scan rebuilds the registry from the directory contents. Completed
// run-once functions are re-marked from the completed set, so a rescan
// never re-arms a bootstrap function that already succeeded.
func (s *Scanner) Scan() error {
	s.registry.Clear()

	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		log.Warn().Str("path", s.dir).Msg("Functions directory does not exist")
		return nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading functions directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			// Could be _shared or node_modules
			continue
		}

		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}

		def, err := s.loadFunction(name)
		if errors.Is(err, errNotAFunction) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Failed to load function")
			continue
		}

		s.registry.Register(def)
		log.Debug().
			Str("name", def.Name).
			Str("runtime", string(def.Runtime)).
			Int("triggers", len(def.Triggers)).
			Bool("run_once", def.RunOnce).
			Msg("Loaded function")
	}

	s.registry.SeedCompleted(s.completed)

	log.Info().Int("count", s.registry.Count()).Msg("Functions loaded")
	return nil
}

func (s *Scanner) loadFunction(filename string) (*Definition, error) {
	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filename, ext)

	runtime := detectRuntime(ext)
	if runtime == "" {
		return nil, errNotAFunction
	}

	def := &Definition{
		Name:    baseName,
		Runtime: runtime,
		Path:    filepath.Join(s.dir, filename),
		Env:     make(map[string]string, len(s.baseEnv)),
	}
	for k, v := range s.baseEnv {
		def.Env[k] = v
	}

	manifestPath := filepath.Join(s.dir, baseName+".yaml")
	if _, err := os.Stat(manifestPath); err == nil {
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		if err := manifest.apply(def); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", filepath.Base(manifestPath), err)
		}
	}

	// A function with no manifest (or no triggers in it) is still
	// invokable over HTTP at /functions/<name>/invoke.
	return def, nil
}

// detectRuntime maps a handler file extension to its runtime.
func detectRuntime(ext string) Runtime {
	switch ext {
	case ".js", ".mjs", ".cjs":
		return RuntimeNode
	case ".py":
		return RuntimePython
	default:
		return ""
	}
}

// handlerExtensions lists extensions Load and the watcher react to.
var handlerExtensions = []string{".js", ".mjs", ".cjs", ".py"}

// FindHandlerFile locates the handler file for a function name, trying
// each known extension in order.
func (s *Scanner) FindHandlerFile(name string) (string, bool) {
	for _, ext := range handlerExtensions {
		path := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return filepath.Base(path), true
		}
	}
	return "", false
}
