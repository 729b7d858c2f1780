package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/omenworks/omen/internal/domain"
)

// LocalStore is a file-backed downstream: one processed-id set per
// partition. It stands in for an external processor in single-node
// deployments and doubles as the reference Downstream implementation.
type LocalStore struct {
	dir string
	mu  sync.Mutex
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create downstream dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

type processedFile struct {
	Partition string   `json:"partition"`
	SignalIDs []string `json:"signal_ids"`
}

func (s *LocalStore) ListProcessedIDs(_ context.Context, partition string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load(partition)
	if err != nil {
		return nil, err
	}
	return set.SignalIDs, nil
}

// Replay records the signal id; a second replay of the same id is a
// no-op.
func (s *LocalStore) Replay(_ context.Context, rec domain.LedgerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	partition := rec.Signal.LedgerPartition
	if partition == "" {
		return fmt.Errorf("replay %s: record has no ledger partition stamp", rec.Signal.SignalID)
	}
	set, err := s.load(partition)
	if err != nil {
		return err
	}
	for _, id := range set.SignalIDs {
		if id == rec.Signal.SignalID {
			return nil
		}
	}
	set.Partition = partition
	set.SignalIDs = append(set.SignalIDs, rec.Signal.SignalID)
	sort.Strings(set.SignalIDs)
	return s.store(set)
}

func (s *LocalStore) load(partition string) (processedFile, error) {
	raw, err := os.ReadFile(s.path(partition))
	if errors.Is(err, os.ErrNotExist) {
		return processedFile{Partition: partition}, nil
	}
	if err != nil {
		return processedFile{}, fmt.Errorf("read processed set %s: %w", partition, err)
	}
	var set processedFile
	if err := json.Unmarshal(raw, &set); err != nil {
		return processedFile{}, fmt.Errorf("decode processed set %s: %w", partition, err)
	}
	return set, nil
}

func (s *LocalStore) store(set processedFile) error {
	raw, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("encode processed set %s: %w", set.Partition, err)
	}
	path := s.path(set.Partition)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write processed set %s: %w", set.Partition, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit processed set %s: %w", set.Partition, err)
	}
	return nil
}

func (s *LocalStore) path(partition string) string {
	return filepath.Join(s.dir, partition+".processed.json")
}

// HTTPDownstream reconciles against a processor over HTTP: processed
// ids come from GET {base}/partitions/{name}/processed, replays go to
// POST {base}/replay. The replay endpoint must dedup on signal id.
type HTTPDownstream struct {
	base   string
	client *http.Client
}

// NewHTTPDownstream points at the processor's base URL.
func NewHTTPDownstream(base string, timeout time.Duration) *HTTPDownstream {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDownstream{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type processedResponse struct {
	SignalIDs []string `json:"signal_ids"`
}

func (d *HTTPDownstream) ListProcessedIDs(ctx context.Context, partition string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/partitions/%s/processed", d.base, url.PathEscape(partition))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build processed request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list processed %s: %w", partition, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list processed %s: unexpected status %d", partition, resp.StatusCode)
	}
	var payload processedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode processed %s: %w", partition, err)
	}
	return payload.SignalIDs, nil
}

func (d *HTTPDownstream) Replay(ctx context.Context, rec domain.LedgerRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode replay %s: %w", rec.Signal.SignalID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+"/replay", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build replay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("replay %s: %w", rec.Signal.SignalID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("replay %s: unexpected status %d", rec.Signal.SignalID, resp.StatusCode)
	}
	return nil
}
