// Package ledger is the durable source of truth: append-only JSONL
// partitioned by observation day, with per-partition manifests carrying
// the highwater sequence readers trust. Appends are serialized per
// partition and synced before the highwater moves, so a reader never
// sees a torn tail.
package ledger

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
)

const (
	partitionLayout = "2006-01-02"

	// LateSuffix marks the sibling partition that takes records whose
	// observation day was already sealed.
	LateSuffix = "-late"

	archiveDir = "archive"
)

var (
	ErrPartitionSealed   = errors.New("partition sealed")
	ErrPartitionNotFound = errors.New("partition not found")
	ErrSequenceGap       = errors.New("ledger sequence gap")
	ErrPartitionMismatch = errors.New("record stamped for different partition")
	ErrSchemaDowngrade   = errors.New("schema major below partition's recorded version")
)

// PartitionFor derives the partition key from an observation time.
func PartitionFor(observedAt time.Time) string {
	return observedAt.UTC().Format(partitionLayout)
}

// IsLate reports whether name is a late-arrival partition.
func IsLate(name string) bool { return strings.HasSuffix(name, LateSuffix) }

// RetentionConfig drives the hot → warm → cold → delete lifecycle.
// Ages are measured in whole days from the partition's observation day.
type RetentionConfig struct {
	HotDays          int    `yaml:"hot_days"`
	WarmDays         int    `yaml:"warm_days"`
	ColdDays         int    `yaml:"cold_days"`
	DeleteExpired    bool   `yaml:"delete_expired"`
	Compression      string `yaml:"compression"`
	CompressionLevel int    `yaml:"compression_level"`
}

// Config locates the ledger on disk and sets its sealing policy.
type Config struct {
	BasePath           string          `yaml:"base_path"`
	AutoSealAfterHours int             `yaml:"auto_seal_after_hours"`
	SealGraceHours     int             `yaml:"seal_grace_period_hours"`
	Retention          RetentionConfig `yaml:"retention"`
}

// DefaultConfig seals a day-partition 26 hours after the day starts
// (24h window + 2h grace) and keeps a week of uncompressed segments.
func DefaultConfig() Config {
	return Config{
		BasePath:           "data/ledger",
		AutoSealAfterHours: 24,
		SealGraceHours:     2,
		Retention: RetentionConfig{
			HotDays:          7,
			WarmDays:         30,
			ColdDays:         90,
			DeleteExpired:    false,
			Compression:      "gzip",
			CompressionLevel: gzip.DefaultCompression,
		},
	}
}

// Manifest is the per-partition read barrier. HighwaterSequence only
// moves after the record behind it is durably on disk.
type Manifest struct {
	Partition         string     `json:"partition"`
	HighwaterSequence int64      `json:"highwater_sequence"`
	ManifestRevision  int64      `json:"manifest_revision"`
	SchemaVersion     string     `json:"schema_version,omitempty"`
	SealedAt          *time.Time `json:"sealed_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Sealed reports whether the partition is closed to writes.
func (m Manifest) Sealed() bool { return m.SealedAt != nil }

// Ledger is the partitioned append-only store.
type Ledger struct {
	cfg    Config
	logger zerolog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	parts map[string]*partition
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock injects the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New opens a ledger rooted at cfg.BasePath, creating it if needed.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Ledger, error) {
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultConfig().BasePath
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	l := &Ledger{
		cfg:    cfg,
		logger: logger,
		clock:  time.Now,
		parts:  map[string]*partition{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append durably writes the envelope to its observation-day partition
// and returns it stamped with {ledger_partition, ledger_sequence,
// ledger_written_at}. When the day partition is already sealed the
// record lands in its -late sibling instead.
func (l *Ledger) Append(ev domain.SignalEvent) (domain.SignalEvent, error) {
	name := PartitionFor(ev.ObservedAt)
	p, err := l.partition(name)
	if err != nil {
		return domain.SignalEvent{}, err
	}

	p.mu.Lock()
	if p.manifest.Sealed() {
		p.mu.Unlock()
		p, err = l.partition(name + LateSuffix)
		if err != nil {
			return domain.SignalEvent{}, err
		}
		p.mu.Lock()
		if p.manifest.Sealed() {
			p.mu.Unlock()
			return domain.SignalEvent{}, fmt.Errorf("partition %s: %w", p.name, ErrPartitionSealed)
		}
	}
	defer p.mu.Unlock()

	schema, err := admitSchema(p.manifest, ev.SchemaVersion)
	if err != nil {
		return domain.SignalEvent{}, err
	}

	seq := p.manifest.HighwaterSequence + 1
	written := l.clock().UTC()
	ev.LedgerPartition = p.name
	ev.LedgerSequence = seq
	ev.LedgerWrittenAt = &written

	rec, err := domain.NewLedgerRecord(ev)
	if err != nil {
		return domain.SignalEvent{}, err
	}
	line, err := domain.CanonicalJSON(rec)
	if err != nil {
		return domain.SignalEvent{}, fmt.Errorf("encode ledger record %s: %w", ev.SignalID, err)
	}
	if err := p.writeLine(line); err != nil {
		return domain.SignalEvent{}, err
	}

	p.manifest.HighwaterSequence = seq
	p.manifest.ManifestRevision++
	p.manifest.SchemaVersion = schema
	p.manifest.UpdatedAt = written
	if err := p.storeManifest(); err != nil {
		return domain.SignalEvent{}, err
	}
	return ev, nil
}

// admitSchema enforces the one-way schema door: once a partition holds
// records at major N it never accepts a major below N. It returns the
// version the manifest should record after the append, raised when the
// record carries a newer one.
func admitSchema(m Manifest, version string) (string, error) {
	if version == "" || version == m.SchemaVersion {
		return m.SchemaVersion, nil
	}
	if m.SchemaVersion == "" {
		return version, nil
	}
	recorded, err := semver.NewVersion(m.SchemaVersion)
	if err != nil {
		return "", fmt.Errorf("partition %s manifest schema %q: %w", m.Partition, m.SchemaVersion, err)
	}
	incoming, err := semver.NewVersion(version)
	if err != nil {
		return "", fmt.Errorf("record schema %q: %w", version, err)
	}
	if incoming.Major() < recorded.Major() {
		return "", fmt.Errorf("partition %s holds schema %s, record carries %s: %w",
			m.Partition, m.SchemaVersion, version, ErrSchemaDowngrade)
	}
	if incoming.GreaterThan(recorded) {
		return version, nil
	}
	return m.SchemaVersion, nil
}

// Seal closes a partition to writes. Sealing twice is a no-op.
func (l *Ledger) Seal(name string) error {
	p, err := l.partition(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.manifest.Sealed() {
		return nil
	}

	now := l.clock().UTC()
	p.manifest.SealedAt = &now
	p.manifest.ManifestRevision++
	p.manifest.UpdatedAt = now
	if err := p.storeManifest(); err != nil {
		return err
	}
	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
	l.logger.Info().
		Str("partition", name).
		Int64("highwater", p.manifest.HighwaterSequence).
		Msg("partition sealed")
	return nil
}

// SweepSeals seals every partition whose deadline has passed: day
// partitions auto_seal_after_hours + grace after the day starts, late
// partitions once they have been quiet for the same span. Returns the
// partitions sealed by this sweep.
func (l *Ledger) SweepSeals() ([]string, error) {
	names, err := l.Partitions()
	if err != nil {
		return nil, err
	}

	now := l.clock().UTC()
	var sealed []string
	for _, name := range names {
		p, err := l.partition(name)
		if err != nil {
			return sealed, err
		}

		p.mu.Lock()
		due := !p.manifest.Sealed() && l.sealDue(p.manifest, now)
		p.mu.Unlock()
		if !due {
			continue
		}
		if err := l.Seal(name); err != nil {
			return sealed, err
		}
		sealed = append(sealed, name)
	}
	return sealed, nil
}

// Partitions lists every partition with a manifest on disk, sorted.
func (l *Ledger) Partitions() ([]string, error) {
	entries, err := os.ReadDir(l.cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("list ledger dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".manifest.json"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close releases open partition files.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, p := range l.parts {
		p.mu.Lock()
		if p.file != nil {
			if err := p.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			p.file = nil
		}
		p.mu.Unlock()
	}
	return firstErr
}

func (l *Ledger) sealDue(m Manifest, now time.Time) bool {
	window := time.Duration(l.cfg.AutoSealAfterHours+l.cfg.SealGraceHours) * time.Hour
	if IsLate(m.Partition) {
		return !m.UpdatedAt.IsZero() && now.Sub(m.UpdatedAt) >= window
	}
	day, err := time.Parse(partitionLayout, m.Partition)
	if err != nil {
		return false
	}
	return !now.Before(day.Add(window))
}

func (l *Ledger) partition(name string) (*partition, error) {
	l.mu.Lock()
	p, ok := l.parts[name]
	if !ok {
		p = &partition{name: name, dir: l.cfg.BasePath}
		l.parts[name] = p
	}
	l.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// partition is the per-partition write state. All field access happens
// under mu.
type partition struct {
	mu       sync.Mutex
	name     string
	dir      string
	file     *os.File
	manifest Manifest
	exists   bool
	loaded   bool
}

func (p *partition) dataPath() string     { return filepath.Join(p.dir, p.name+".jsonl") }
func (p *partition) gzPath() string       { return filepath.Join(p.dir, p.name+".jsonl.gz") }
func (p *partition) archivePath() string  { return filepath.Join(p.dir, archiveDir, p.name+".jsonl.gz") }
func (p *partition) manifestPath() string { return filepath.Join(p.dir, p.name+".manifest.json") }

func (p *partition) load() error {
	if p.loaded {
		return nil
	}
	body, err := os.ReadFile(p.manifestPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		p.manifest = Manifest{Partition: p.name}
	case err != nil:
		return fmt.Errorf("read manifest %s: %w", p.name, err)
	default:
		if err := json.Unmarshal(body, &p.manifest); err != nil {
			return fmt.Errorf("decode manifest %s: %w", p.name, err)
		}
		p.exists = true
	}
	p.loaded = true
	return nil
}

func (p *partition) writeLine(line []byte) error {
	if p.file == nil {
		f, err := os.OpenFile(p.dataPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open partition %s: %w", p.name, err)
		}
		p.file = f
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := p.file.Write(buf); err != nil {
		return fmt.Errorf("append to partition %s: %w", p.name, err)
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("sync partition %s: %w", p.name, err)
	}
	return nil
}

// storeManifest writes via temp file + rename so readers always see a
// complete manifest.
func (p *partition) storeManifest() error {
	body, err := json.MarshalIndent(p.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", p.name, err)
	}
	tmp := p.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", p.name, err)
	}
	if err := os.Rename(tmp, p.manifestPath()); err != nil {
		return fmt.Errorf("publish manifest %s: %w", p.name, err)
	}
	p.exists = true
	return nil
}
