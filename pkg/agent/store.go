// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	telerr "github.com/teloslabs/telos/pkg/errors"
)

// Store serves agent manifests loaded from a directory. Load replaces the
// whole set atomically, so a config watcher can call it on every change and
// readers never see a half-loaded directory.
type Store struct {
	dir string

	mu     sync.RWMutex
	agents map[string]Config
}

// NewStore creates a store over a manifest directory. Call Load before use.
func NewStore(dir string) *Store {
	return &Store{dir: dir, agents: make(map[string]Config)}
}

// Load reads every .yaml/.yml manifest in the directory and swaps in the new
// set. On any error the previously loaded set stays in place.
func (s *Store) Load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return telerr.New(telerr.CodeConfiguration, "cannot read agent manifest directory", err).
			WithContext("dir", s.dir)
	}

	next := make(map[string]Config)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		cfg, err := LoadManifest(path)
		if err != nil {
			return err
		}
		if _, dup := next[cfg.Name]; dup {
			return telerr.New(telerr.CodeConfiguration,
				fmt.Sprintf("agent %q is defined twice", cfg.Name), nil).
				WithContext("path", path)
		}
		next[cfg.Name] = cfg
	}

	s.mu.Lock()
	s.agents = next
	s.mu.Unlock()
	return nil
}

// LoadManifest reads and validates a single manifest file.
func LoadManifest(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, telerr.New(telerr.CodeConfiguration, "cannot read agent manifest", err).
			WithContext("path", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, telerr.New(telerr.CodeConfiguration, "cannot parse agent manifest", err).
			WithContext("path", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, telerr.New(telerr.CodeConfiguration, "invalid agent manifest", err).
			WithContext("path", path)
	}
	return cfg, nil
}

// Get returns the manifest for an agent name.
func (s *Store) Get(name string) (Config, error) {
	s.mu.RLock()
	cfg, ok := s.agents[name]
	s.mu.RUnlock()
	if !ok {
		return Config{}, telerr.New(telerr.CodeConfiguration,
			fmt.Sprintf("unknown agent %q", name), nil)
	}
	return cfg, nil
}

// Names returns the loaded agent names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded agents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}
