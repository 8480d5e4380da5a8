package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"sync"

	"github.com/banshee-data/inspec/internal/fsutil"
	"github.com/banshee-data/inspec/internal/monitoring"
)

// DefaultPath is where the device keeps its settings.
const DefaultPath = "config.txt"

// maxFileSize bounds the settings file; anything larger is treated as corrupt.
const maxFileSize = 64 * 1024

// Store owns the persisted Settings. Lookups never fail: missing or invalid
// keys are replaced by their defaults and the repaired file is written back.
type Store struct {
	fs   fsutil.FileSystem
	path string

	mu       sync.Mutex
	settings Settings
}

// OpenStore loads the settings file at path, creating it with defaults if it
// does not exist. The returned slice names every key that was repaired.
func OpenStore(fsys fsutil.FileSystem, path string) (*Store, []string, error) {
	s := &Store{
		fs:       fsys,
		path:     filepath.Clean(path),
		settings: Defaults(),
	}

	repaired, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	if len(repaired) > 0 {
		monitoring.Logf("config: repaired %d setting(s) in %s: %v", len(repaired), s.path, repaired)
		if err := s.save(s.settings); err != nil {
			return nil, repaired, err
		}
	}
	return s, repaired, nil
}

func (s *Store) load() ([]string, error) {
	data, err := s.fs.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Names(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxFileSize {
		monitoring.Logf("config: %s is %d bytes (max %d), resetting to defaults", s.path, len(data), maxFileSize)
		return Names(), nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		monitoring.Logf("config: failed to parse %s, resetting to defaults: %v", s.path, err)
		return Names(), nil
	}

	var repaired []string
	for _, f := range fields {
		msg, ok := raw[f.name]
		if !ok || !f.decode(&s.settings, msg) {
			repaired = append(repaired, f.name)
		}
	}
	return repaired, nil
}

// decode applies a single JSON value, reporting false (and leaving the default
// in place) when it has the wrong type or violates the field's constraints.
func (f field) decode(s *Settings, msg json.RawMessage) bool {
	switch f.kind {
	case KindString:
		var v string
		if json.Unmarshal(msg, &v) != nil || f.checkString(v) != nil {
			return false
		}
		*f.str(s) = v
	case KindFloat:
		var v float64
		if json.Unmarshal(msg, &v) != nil || f.checkBounds(v) != nil {
			return false
		}
		*f.flt(s) = v
	case KindInt:
		var v float64
		if json.Unmarshal(msg, &v) != nil || v != math.Trunc(v) || f.checkBounds(v) != nil {
			return false
		}
		*f.num(s) = int(v)
	}
	return true
}

func (s *Store) save(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := s.fs.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Set validates a single setting, persists the file and only then applies
// it. It reports whether the camera must be reconfigured. A value that fails
// validation or cannot be written leaves the stored settings untouched.
func (s *Store) Set(name, value string) (sensor bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	if err := next.Set(name, value); err != nil {
		return false, err
	}
	if err := s.save(next); err != nil {
		return false, err
	}
	s.settings = next
	return IsSensorSetting(name), nil
}
