// Package config assembles the service configuration. Components own
// their config types; this package composes them into one tree, loads
// an optional YAML file, applies OMEN_* environment overrides and
// validates the result before anything starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/omenworks/omen/internal/attest"
	"github.com/omenworks/omen/internal/generator"
	"github.com/omenworks/omen/internal/ledger"
	"github.com/omenworks/omen/internal/metrics"
	"github.com/omenworks/omen/internal/pipeline"
	"github.com/omenworks/omen/internal/publish"
	"github.com/omenworks/omen/internal/reconcile"
	"github.com/omenworks/omen/internal/registry"
	"github.com/omenworks/omen/internal/sources"
	"github.com/omenworks/omen/internal/sources/news"
)

// EnvConfigPath names the YAML file when no --config flag is given.
const EnvConfigPath = "OMEN_CONFIG"

// ServerConfig holds the HTTP edge settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// DefaultServerConfig binds local-only on 8080.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// RulesConfig carries the audited floors an operator may override. The
// values land in the validator chain and the market adapter; everything
// else in the rule chain keeps its registry default.
type RulesConfig struct {
	MinLiquidityUSD float64 `yaml:"min_liquidity_usd" validate:"gte=0"`
	MinVolumeUSD    float64 `yaml:"min_volume_usd" validate:"gte=0"`
}

// DefaultRulesConfig loads the registry baselines.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		MinLiquidityUSD: registry.MustParam("min_liquidity_usd").Value,
		MinVolumeUSD:    registry.MustParam("min_volume_usd").Value,
	}
}

// StorageConfig selects the persistence backends. An empty PostgresDSN
// keeps signals in memory; an empty HistoryPath keeps the probability
// history in memory; an empty RedisAddr keeps gate decisions in process.
type StorageConfig struct {
	PostgresDSN   string        `yaml:"postgres_dsn"`
	QueryTimeout  time.Duration `yaml:"query_timeout" validate:"gte=0"`
	HistoryPath   string        `yaml:"history_path"`
	HistoryWindow time.Duration `yaml:"history_window" validate:"gte=0"`
	RedisAddr     string        `yaml:"redis_addr"`
}

// DefaultStorageConfig keeps every backend in process.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		QueryTimeout:  5 * time.Second,
		HistoryWindow: 24 * time.Hour,
	}
}

// ActivityConfig sizes the operator-facing rings. Zero means the
// package default.
type ActivityConfig struct {
	LogCapacity     int `yaml:"log_capacity" validate:"gte=0"`
	TrackerCapacity int `yaml:"tracker_capacity" validate:"gte=0"`
}

// StreamConfig tunes the SSE/WebSocket fan-out.
type StreamConfig struct {
	Buffer    int           `yaml:"buffer" validate:"gte=0"`
	Heartbeat time.Duration `yaml:"heartbeat" validate:"gte=0"`
}

// DefaultStreamConfig buffers 16 events per subscriber and heartbeats
// every 15 seconds.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{Buffer: 16, Heartbeat: 15 * time.Second}
}

// Config is the whole service tree.
type Config struct {
	Server       ServerConfig                `yaml:"server"`
	Rules        RulesConfig                 `yaml:"rules"`
	Orchestrator pipeline.OrchestratorConfig `yaml:"orchestrator"`
	Validator    pipeline.ValidatorConfig    `yaml:"validator"`
	DLQ          pipeline.DLQConfig          `yaml:"dlq"`
	SourceGuard  sources.GuardConfig         `yaml:"source_guard"`
	NewsGate     news.GateConfig             `yaml:"news_gate"`
	LiveGate     attest.GateConfig           `yaml:"live_gate"`
	Ledger       ledger.Config               `yaml:"ledger"`
	Reconcile    reconcile.Config            `yaml:"reconcile"`
	Webhook      publish.Config              `yaml:"webhook"`
	Generator    generator.Config            `yaml:"generator"`
	Metrics      metrics.Config              `yaml:"metrics"`
	Storage      StorageConfig               `yaml:"storage"`
	Activity     ActivityConfig              `yaml:"activity"`
	Stream       StreamConfig                `yaml:"stream"`
}

// Default returns the tree every deployment starts from: live mode off,
// in-process storage, registry rule floors.
func Default() Config {
	return Config{
		Server:       DefaultServerConfig(),
		Rules:        DefaultRulesConfig(),
		Orchestrator: pipeline.DefaultOrchestratorConfig(),
		Validator:    pipeline.DefaultValidatorConfig(),
		DLQ:          pipeline.DefaultDLQConfig(),
		SourceGuard:  sources.DefaultGuardConfig(),
		NewsGate:     news.DefaultGateConfig(),
		LiveGate:     attest.DefaultGateConfig(),
		Ledger:       ledger.DefaultConfig(),
		Reconcile:    reconcile.DefaultConfig(),
		Webhook:      publish.DefaultConfig(),
		Generator:    generator.DefaultConfig(),
		Metrics:      metrics.DefaultConfig(),
		Storage:      DefaultStorageConfig(),
		Stream:       DefaultStreamConfig(),
	}
}

// Load builds the configuration in order: defaults, then the YAML file
// when path (or OMEN_CONFIG) names one, then environment overrides,
// then validation. Later layers win.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv maps the OMEN_* variables onto the tree. Unset variables
// leave the file/default values alone; unparseable ones are ignored the
// same way, so a typo degrades to the default instead of crashing.
func applyEnv(cfg *Config) {
	envString("OMEN_RULESET_VERSION", &cfg.Orchestrator.RulesetVersion)
	envFloat("OMEN_MIN_LIQUIDITY_USD", &cfg.Rules.MinLiquidityUSD)
	envFloat("OMEN_MIN_VOLUME_USD", &cfg.Rules.MinVolumeUSD)
	envFloat("OMEN_MIN_CONFIDENCE_FOR_OUTPUT", &cfg.Orchestrator.MinConfidence)

	envString("OMEN_LEDGER_BASE_PATH", &cfg.Ledger.BasePath)
	envInt("OMEN_RETENTION_HOT_DAYS", &cfg.Ledger.Retention.HotDays)
	envInt("OMEN_RETENTION_WARM_DAYS", &cfg.Ledger.Retention.WarmDays)
	envInt("OMEN_RETENTION_COLD_DAYS", &cfg.Ledger.Retention.ColdDays)
	envInt("OMEN_RETENTION_AUTO_SEAL_HOURS", &cfg.Ledger.AutoSealAfterHours)
	envString("OMEN_RETENTION_COMPRESSION", &cfg.Ledger.Retention.Compression)
	envInt("OMEN_RETENTION_COMPRESSION_LEVEL", &cfg.Ledger.Retention.CompressionLevel)

	envBool("OMEN_ALLOW_LIVE_MODE", &cfg.LiveGate.AllowLiveMode)
	envFloat("OMEN_MIN_REAL_SOURCE_RATIO", &cfg.LiveGate.MinRealSourceRatio)
	envList("OMEN_REQUIRED_REAL_SOURCES", &cfg.LiveGate.RequiredRealSources)

	envSeconds("OMEN_SIGNAL_POLL_INTERVAL", &cfg.Generator.PollInterval)
	envString("OMEN_WEBHOOK_URL", &cfg.Webhook.URL)
	envString("OMEN_WEBHOOK_SECRET", &cfg.Webhook.Secret)
	envString("OMEN_DOWNSTREAM_URL", &cfg.Reconcile.DownstreamURL)

	envInt("HTTP_PORT", &cfg.Server.Port)
	envString("REDIS_ADDR", &cfg.Storage.RedisAddr)
	envString("PG_DSN", &cfg.Storage.PostgresDSN)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// envList splits a comma-separated variable, trimming blanks.
func envList(name string, dst *[]string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

// envSeconds reads a bare integer as seconds; a Go duration string like
// "90s" or "2m" works too.
func envSeconds(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// Validate runs the struct checks plus the semantic ones tags cannot
// express. The returned error names the offending field.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if _, err := c.RulesetSemver(); err != nil {
		return err
	}

	ret := c.Ledger.Retention
	if ret.HotDays > 0 && ret.WarmDays > 0 && ret.WarmDays < ret.HotDays {
		return fmt.Errorf("config: retention warm_days %d below hot_days %d", ret.WarmDays, ret.HotDays)
	}
	if ret.WarmDays > 0 && ret.ColdDays > 0 && ret.ColdDays < ret.WarmDays {
		return fmt.Errorf("config: retention cold_days %d below warm_days %d", ret.ColdDays, ret.WarmDays)
	}
	switch ret.Compression {
	case "", "none", "gzip":
	default:
		return fmt.Errorf("config: unsupported retention compression %q", ret.Compression)
	}

	if c.LiveGate.MinRealSourceRatio < 0 || c.LiveGate.MinRealSourceRatio > 1 {
		return fmt.Errorf("config: min_real_source_ratio %.2f outside [0, 1]", c.LiveGate.MinRealSourceRatio)
	}
	if c.Orchestrator.MinConfidence < 0 || c.Orchestrator.MinConfidence > 1 {
		return fmt.Errorf("config: min_confidence_for_output %.2f outside [0, 1]", c.Orchestrator.MinConfidence)
	}
	return nil
}

// RulesetSemver parses the configured ruleset version. Signals and
// ledger records carry the raw string; version comparisons go through
// the parsed form.
func (c Config) RulesetSemver() (*semver.Version, error) {
	v, err := semver.NewVersion(c.Orchestrator.RulesetVersion)
	if err != nil {
		return nil, fmt.Errorf("config: ruleset_version %q: %w", c.Orchestrator.RulesetVersion, err)
	}
	return v, nil
}

// Addr renders the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
