package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrStorageUnavailable indicates client-local storage could not be read or written.
var ErrStorageUnavailable = errors.New("identity: storage unavailable")

// Storage is a client-local key/value store. Load returns "" and no error for a missing key.
type Storage interface {
	Load(key string) (string, error)
	Store(key, value string) error
}

// MemoryStorage keeps values for the lifetime of the process.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Load(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

func (s *MemoryStorage) Store(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// FileStorage persists values as a flat JSON object in a single file.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// DefaultFilePath returns the state file location under the user config directory.
func DefaultFilePath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return filepath.Join(dir, appName, "state.json"), nil
}

func (s *FileStorage) Path() string {
	return s.path
}

func (s *FileStorage) Load(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.read()
	if err != nil {
		return "", err
	}
	return values[key], nil
}

func (s *FileStorage) Store(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.read()
	if err != nil {
		return err
	}
	values[key] = value
	return s.write(values)
}

func (s *FileStorage) read() (map[string]string, error) {
	if s.path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrStorageUnavailable)
	}
	payload, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	values := make(map[string]string)
	if len(payload) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, fmt.Errorf("%w: corrupt state file: %v", ErrStorageUnavailable, err)
	}
	return values, nil
}

// write replaces the file through a rename so readers never see a partial document.
func (s *FileStorage) write(values map[string]string) error {
	payload, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	temp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(payload); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
