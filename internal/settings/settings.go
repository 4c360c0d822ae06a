package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Settings are the user's display preferences.
type Settings struct {
	ShowReliefImages bool `json:"show_relief_images"`
}

func Defaults() Settings {
	return Settings{ShowReliefImages: false}
}

type Store interface {
	Load() (Settings, error)
	Save(s Settings) error
}

// FileStore keeps settings in a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns the settings file below the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config directory: %w", err)
	}
	return filepath.Join(dir, "mapview", "settings.json"), nil
}

// Load reads the settings. On first access the defaults are written so
// they stay fixed across runs.
func (s *FileStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		defaults := Defaults()
		if err := s.write(defaults); err != nil {
			return defaults, err
		}
		return defaults, nil
	}
	if err != nil {
		return Defaults(), fmt.Errorf("failed to read settings: %w", err)
	}

	settings := Defaults()
	if err := json.Unmarshal(data, &settings); err != nil {
		return Defaults(), fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}
	return settings, nil
}

func (s *FileStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(settings)
}

func (s *FileStore) write(settings Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	// Write atomically
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// MemoryStore keeps settings for the lifetime of the process only.
type MemoryStore struct {
	mu       sync.Mutex
	settings Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settings: Defaults()}
}

func (s *MemoryStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.settings, nil
}

func (s *MemoryStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings
	return nil
}
