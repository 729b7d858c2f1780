package ledger

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/omenworks/omen/internal/domain"
)

// maxRecordBytes bounds a single ledger line during scans.
const maxRecordBytes = 4 << 20

// Manifest returns the on-disk manifest for a partition.
func (l *Ledger) Manifest(name string) (Manifest, error) {
	p, err := l.partition(name)
	if err != nil {
		return Manifest{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exists {
		return Manifest{}, fmt.Errorf("partition %s: %w", name, ErrPartitionNotFound)
	}
	return p.manifest, nil
}

// Read returns a partition's records up to its manifest highwater, from
// whichever tier currently holds the segment. Lines past the highwater
// are an unacknowledged tail and are not surfaced.
func (l *Ledger) Read(name string) ([]domain.LedgerRecord, error) {
	p, err := l.partition(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exists {
		return nil, fmt.Errorf("partition %s: %w", name, ErrPartitionNotFound)
	}
	highwater := p.manifest.HighwaterSequence
	if highwater == 0 {
		return nil, nil
	}

	rc, err := openData(p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	var out []domain.LedgerRecord
	for scanner.Scan() && int64(len(out)) < highwater {
		var rec domain.LedgerRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("partition %s line %d: %w", name, len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan partition %s: %w", name, err)
	}
	return out, nil
}

// SignalIDs returns the signal ids recorded in a partition, in append
// order.
func (l *Ledger) SignalIDs(name string) ([]string, error) {
	records, err := l.Read(name)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.Signal.SignalID)
	}
	return ids, nil
}

// FindRecord returns the ledger record for one signal in a partition.
func (l *Ledger) FindRecord(name, signalID string) (domain.LedgerRecord, error) {
	records, err := l.Read(name)
	if err != nil {
		return domain.LedgerRecord{}, err
	}
	for _, rec := range records {
		if rec.Signal.SignalID == signalID {
			return rec, nil
		}
	}
	return domain.LedgerRecord{}, fmt.Errorf("signal %s in partition %s: %w", signalID, name, domain.ErrSignalNotFound)
}

// Verify walks a partition checking every record checksum, the stamped
// partition name, and that sequences run 1..highwater without gaps.
// Returns the number of records verified.
func (l *Ledger) Verify(name string) (int64, error) {
	records, err := l.Read(name)
	if err != nil {
		return 0, err
	}
	manifest, err := l.Manifest(name)
	if err != nil {
		return 0, err
	}

	var prev int64
	for i, rec := range records {
		if err := rec.Verify(); err != nil {
			return int64(i), err
		}
		if rec.Signal.LedgerPartition != name {
			return int64(i), fmt.Errorf("partition %s: record %s stamped for %q: %w",
				name, rec.Signal.SignalID, rec.Signal.LedgerPartition, ErrPartitionMismatch)
		}
		if rec.Signal.LedgerSequence != prev+1 {
			return int64(i), fmt.Errorf("partition %s: sequence %d follows %d: %w",
				name, rec.Signal.LedgerSequence, prev, ErrSequenceGap)
		}
		prev = rec.Signal.LedgerSequence
	}
	if prev != manifest.HighwaterSequence {
		return int64(len(records)), fmt.Errorf("partition %s: last sequence %d, highwater %d: %w",
			name, prev, manifest.HighwaterSequence, ErrSequenceGap)
	}
	return int64(len(records)), nil
}

// openData opens the partition segment from the hot, warm or cold tier.
// Caller holds p.mu.
func openData(p *partition) (io.ReadCloser, error) {
	f, err := os.Open(p.dataPath())
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open partition %s: %w", p.name, err)
	}

	for _, path := range []string{p.gzPath(), p.archivePath()} {
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open partition %s: %w", p.name, err)
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open compressed partition %s: %w", p.name, err)
		}
		return &gzReadCloser{gz: gz, file: f}, nil
	}
	return nil, fmt.Errorf("partition %s data segment: %w", p.name, ErrPartitionNotFound)
}

type gzReadCloser struct {
	gz   *gzip.Reader
	file *os.File
}

func (r *gzReadCloser) Read(p []byte) (int, error) { return r.gz.Read(p) }

func (r *gzReadCloser) Close() error {
	gzErr := r.gz.Close()
	if err := r.file.Close(); err != nil {
		return err
	}
	return gzErr
}
