package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Record describes one launch. It is keyed by the client token sent with the
// create request, so it exists even when the instance id is not known yet.
type Record struct {
	ClientToken   string    `json:"client_token"`
	InstanceID    string    `json:"instance_id,omitempty"`
	Region        string    `json:"region"`
	Zone          string    `json:"zone"`
	ImageID       string    `json:"image_id"`
	InstanceType  string    `json:"instance_type"`
	KeyName       string    `json:"key_name"`
	SecurityGroup string    `json:"security_group"`
	Status        string    `json:"status"`
	Endpoint      string    `json:"endpoint,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists launch records.
type Store interface {
	Save(ctx context.Context, record Record) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// fileState is the on-disk layout of FileStore.
type fileState struct {
	UpdatedAt time.Time         `json:"updated_at"`
	Launches  map[string]Record `json:"launches"`
}

// FileStore keeps launch records in a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save inserts or replaces the record with the same client token.
func (s *FileStore) Save(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if existing, ok := st.Launches[record.ClientToken]; ok && record.CreatedAt.IsZero() {
		record.CreatedAt = existing.CreatedAt
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	st.Launches[record.ClientToken] = record
	st.UpdatedAt = now

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return os.WriteFile(s.path, data, 0600)
}

// List returns all records, oldest first.
func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(st.Launches))
	for _, r := range st.Launches {
		records = append(records, r)
	}
	sortRecords(records)
	return records, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load() (*fileState, error) {
	st := &fileState{Launches: make(map[string]Record)}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if st.Launches == nil {
		st.Launches = make(map[string]Record)
	}
	return st, nil
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
