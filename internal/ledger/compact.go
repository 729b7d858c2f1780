package ledger

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CompactReport lists what one retention pass did.
type CompactReport struct {
	Compressed []string `json:"compressed,omitempty"`
	Archived   []string `json:"archived,omitempty"`
	Deleted    []string `json:"deleted,omitempty"`
}

// Compact runs the retention lifecycle over every partition: sealed
// segments past the hot tier are gzipped in place, compressed segments
// past the warm tier move to the archive directory, and expired cold
// segments are deleted when retention allows it. Unsealed partitions
// are never touched.
func (l *Ledger) Compact() (CompactReport, error) {
	report := CompactReport{}
	names, err := l.Partitions()
	if err != nil {
		return report, err
	}

	now := l.clock().UTC()
	for _, name := range names {
		p, err := l.partition(name)
		if err != nil {
			return report, err
		}

		p.mu.Lock()
		err = l.compactOne(p, now, &report)
		p.mu.Unlock()
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (l *Ledger) compactOne(p *partition, now time.Time, report *CompactReport) error {
	if !p.manifest.Sealed() {
		return nil
	}
	age, ok := l.partitionAgeDays(p.name, now)
	if !ok {
		return nil
	}
	ret := l.cfg.Retention

	if age > ret.HotDays && ret.Compression == "gzip" {
		done, err := l.compress(p)
		if err != nil {
			return err
		}
		if done {
			report.Compressed = append(report.Compressed, p.name)
			l.logger.Info().Str("partition", p.name).Msg("partition compressed")
		}
	}

	if age > ret.HotDays+ret.WarmDays {
		done, err := l.archive(p)
		if err != nil {
			return err
		}
		if done {
			report.Archived = append(report.Archived, p.name)
			l.logger.Info().Str("partition", p.name).Msg("partition archived")
		}
	}

	if ret.DeleteExpired && age > ret.HotDays+ret.WarmDays+ret.ColdDays {
		done, err := l.expire(p)
		if err != nil {
			return err
		}
		if done {
			report.Deleted = append(report.Deleted, p.name)
			l.logger.Warn().Str("partition", p.name).Msg("partition expired and deleted")
		}
	}
	return nil
}

// compress gzips the hot segment and removes it. Caller holds p.mu.
func (l *Ledger) compress(p *partition) (bool, error) {
	src, err := os.Open(p.dataPath())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open partition %s: %w", p.name, err)
	}
	defer src.Close()

	tmp := p.gzPath() + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return false, fmt.Errorf("create compressed partition %s: %w", p.name, err)
	}

	gz, err := gzip.NewWriterLevel(out, l.compressionLevel())
	if err != nil {
		out.Close()
		return false, fmt.Errorf("compress partition %s: %w", p.name, err)
	}
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		out.Close()
		return false, fmt.Errorf("compress partition %s: %w", p.name, err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return false, fmt.Errorf("compress partition %s: %w", p.name, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return false, fmt.Errorf("sync compressed partition %s: %w", p.name, err)
	}
	if err := out.Close(); err != nil {
		return false, fmt.Errorf("close compressed partition %s: %w", p.name, err)
	}

	if err := os.Rename(tmp, p.gzPath()); err != nil {
		return false, fmt.Errorf("publish compressed partition %s: %w", p.name, err)
	}
	if err := os.Remove(p.dataPath()); err != nil {
		return false, fmt.Errorf("remove hot segment %s: %w", p.name, err)
	}
	return true, nil
}

// archive moves the compressed segment into the archive directory.
// Caller holds p.mu.
func (l *Ledger) archive(p *partition) (bool, error) {
	if _, err := os.Stat(p.gzPath()); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Join(p.dir, archiveDir), 0o755); err != nil {
		return false, fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.Rename(p.gzPath(), p.archivePath()); err != nil {
		return false, fmt.Errorf("archive partition %s: %w", p.name, err)
	}
	return true, nil
}

// expire deletes the archived segment and the manifest. Caller holds
// p.mu.
func (l *Ledger) expire(p *partition) (bool, error) {
	if _, err := os.Stat(p.archivePath()); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(p.archivePath()); err != nil {
		return false, fmt.Errorf("delete archived partition %s: %w", p.name, err)
	}
	if err := os.Remove(p.manifestPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("delete manifest %s: %w", p.name, err)
	}
	p.exists = false
	return true, nil
}

func (l *Ledger) partitionAgeDays(name string, now time.Time) (int, bool) {
	day, err := time.Parse(partitionLayout, strings.TrimSuffix(name, LateSuffix))
	if err != nil {
		return 0, false
	}
	return int(now.Sub(day).Hours() / 24), true
}

func (l *Ledger) compressionLevel() int {
	level := l.cfg.Retention.CompressionLevel
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return gzip.DefaultCompression
	}
	return level
}
