// Package artifact stores the outputs of side-effecting tools: a set of
// generated files merged by filename and a chat log of generation exchanges.
// The session core only depends on the Store contract; callers inject the
// implementation.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// File is one generated file. Name identifies it; merging is by Name with
// last-write-wins semantics.
type File struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatEntry is one entry in the generation chat log.
type ChatEntry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists generated files and the chat log.
type Store interface {
	// Files returns the current file set.
	Files() ([]File, error)

	// MergeFiles merges files into the set by name. An incoming file with
	// an existing name overwrites it; no duplicates are appended.
	MergeFiles(files []File) error

	// Chat returns the chat log in append order.
	Chat() ([]ChatEntry, error)

	// AppendChat appends entries to the chat log, assigning ids to
	// entries that lack one.
	AppendChat(entries ...ChatEntry) error
}

// MemoryStore is an in-memory Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]File
	order []string
	chat  []ChatEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]File)}
}

// Files returns the file set in first-seen order.
func (s *MemoryStore) Files() ([]File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]File, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.files[name])
	}
	return out, nil
}

// MergeFiles merges by name, last-write-wins.
func (s *MemoryStore) MergeFiles(files []File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, f := range files {
		if f.UpdatedAt.IsZero() {
			f.UpdatedAt = now
		}
		if _, ok := s.files[f.Name]; !ok {
			s.order = append(s.order, f.Name)
		}
		s.files[f.Name] = f
	}
	return nil
}

// Chat returns the chat log.
func (s *MemoryStore) Chat() ([]ChatEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChatEntry, len(s.chat))
	copy(out, s.chat)
	return out, nil
}

// AppendChat appends entries, assigning missing ids.
func (s *MemoryStore) AppendChat(entries ...ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.chat = append(s.chat, e)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)

// JSONStore implements Store using a JSON file for persistence.
type JSONStore struct {
	path string
	mu   sync.Mutex
	mem  *MemoryStore
}

// storeData is the JSON structure for the store file.
type storeData struct {
	Version   int         `json:"version"`
	UpdatedAt string      `json:"updated_at"`
	Files     []File      `json:"files"`
	Chat      []ChatEntry `json:"chat"`
}

const currentVersion = 1

// NewJSONStore creates a new JSON-based store at the given path.
// If the file doesn't exist, it will be created on first save.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		path: path,
		mem:  NewMemoryStore(),
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := store.load(); err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
	}

	return store, nil
}

// load reads the store from disk.
func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	if err := s.mem.MergeFiles(stored.Files); err != nil {
		return err
	}
	return s.mem.AppendChat(stored.Chat...)
}

// save writes the store to disk.
func (s *JSONStore) save() error {
	files, _ := s.mem.Files()
	chat, _ := s.mem.Chat()

	stored := storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Files:     files,
		Chat:      chat,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Write to temp file first, then rename (atomic write)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Files returns the current file set.
func (s *JSONStore) Files() ([]File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Files()
}

// MergeFiles merges by name and persists.
func (s *JSONStore) MergeFiles(files []File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.MergeFiles(files); err != nil {
		return err
	}
	return s.save()
}

// Chat returns the chat log.
func (s *JSONStore) Chat() ([]ChatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Chat()
}

// AppendChat appends entries and persists.
func (s *JSONStore) AppendChat(entries ...ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.AppendChat(entries...); err != nil {
		return err
	}
	return s.save()
}

// Path returns the file path of the store.
func (s *JSONStore) Path() string {
	return s.path
}

var _ Store = (*JSONStore)(nil)
