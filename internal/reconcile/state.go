package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StateStore persists per-partition reconcile bookkeeping between runs.
type StateStore interface {
	Load(partition string) (PartitionState, bool, error)
	Store(state PartitionState) error
}

// FileStateStore keeps one JSON state file per partition under a
// directory. Writes go through a temp file and rename so a crashed run
// never leaves a torn state behind.
type FileStateStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStateStore creates the directory if needed.
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStateStore{dir: dir}, nil
}

func (s *FileStateStore) Load(partition string) (PartitionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(partition))
	if errors.Is(err, os.ErrNotExist) {
		return PartitionState{}, false, nil
	}
	if err != nil {
		return PartitionState{}, false, fmt.Errorf("read state %s: %w", partition, err)
	}
	var state PartitionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return PartitionState{}, false, fmt.Errorf("decode state %s: %w", partition, err)
	}
	return state, true, nil
}

func (s *FileStateStore) Store(state PartitionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state %s: %w", state.Partition, err)
	}
	path := s.path(state.Partition)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", state.Partition, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit state %s: %w", state.Partition, err)
	}
	return nil
}

func (s *FileStateStore) path(partition string) string {
	return filepath.Join(s.dir, partition+".state.json")
}
