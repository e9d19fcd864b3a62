package config

import (
	"errors"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rollupscan/batch-indexer/internal/common"
	"github.com/rollupscan/batch-indexer/internal/logger"
)

// Config is the complete configuration for the batch indexer.
type Config struct {
	// Indexer contains the extraction pipeline configuration
	Indexer IndexerConfig `yaml:"indexer" json:"indexer" toml:"indexer"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// IndexerConfig configures the live extraction loop and the reconciler.
type IndexerConfig struct {
	// L1RPCURL is the L1 execution node endpoint (needs subscription support)
	L1RPCURL string `yaml:"l1_rpc_url" json:"l1_rpc_url" toml:"l1_rpc_url"`

	// L2RPCURL is the L2 execution node endpoint
	L2RPCURL string `yaml:"l2_rpc_url" json:"l2_rpc_url" toml:"l2_rpc_url"`

	// InboxAddress is the rollup inbox contract emitting batch events
	InboxAddress string `yaml:"inbox_address" json:"inbox_address" toml:"inbox_address"`

	// WrapperAddress is the forced-inclusion wrapper contract
	WrapperAddress string `yaml:"wrapper_address" json:"wrapper_address" toml:"wrapper_address"`

	// L1GenesisTimestamp is the beacon genesis timestamp used for slot derivation
	L1GenesisTimestamp uint64 `yaml:"l1_genesis_timestamp" json:"l1_genesis_timestamp" toml:"l1_genesis_timestamp"`

	// SlotDuration is the L1 slot length
	SlotDuration common.Duration `yaml:"slot_duration" json:"slot_duration" toml:"slot_duration"`

	// FinalizationBuffer is the number of blocks near the tip excluded from backfill
	FinalizationBuffer uint64 `yaml:"finalization_buffer" json:"finalization_buffer" toml:"finalization_buffer"`

	// MinL1Block and MinL2Block bound backfill to post-deployment history
	MinL1Block uint64 `yaml:"min_l1_block" json:"min_l1_block" toml:"min_l1_block"`
	MinL2Block uint64 `yaml:"min_l2_block" json:"min_l2_block" toml:"min_l2_block"`

	// DedupWindowSize is the number of recent header hashes kept for duplicate filtering
	DedupWindowSize int `yaml:"dedup_window_size" json:"dedup_window_size" toml:"dedup_window_size"`

	// DryRun performs all read-side work but logs writes instead of committing them
	DryRun bool `yaml:"dry_run" json:"dry_run" toml:"dry_run"`

	// Bus routes events through an in-process message bus instead of calling
	// the pipeline directly
	Bus *BusConfig `yaml:"bus,omitempty" json:"bus,omitempty" toml:"bus,omitempty"`

	// Reconciler contains gap detection and backfill configuration
	Reconciler ReconcilerConfig `yaml:"reconciler" json:"reconciler" toml:"reconciler"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// DB contains the downstream store configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`
}

// ApplyDefaults sets default values for optional indexer configuration fields.
func (c *IndexerConfig) ApplyDefaults() {
	if c.SlotDuration.Duration == 0 {
		c.SlotDuration = common.NewDuration(12 * time.Second)
	}
	if c.FinalizationBuffer == 0 {
		c.FinalizationBuffer = 64
	}
	if c.DedupWindowSize == 0 {
		c.DedupWindowSize = 1000
	}

	c.Reconciler.ApplyDefaults()

	if c.Bus != nil {
		c.Bus.ApplyDefaults()
	}
	if c.Retry != nil {
		c.Retry.ApplyDefaults()
	}

	c.DB.ApplyDefaults()
}

// Validate checks that required settings for enabled subsystems are present.
func (c *IndexerConfig) Validate() error {
	if c.L1RPCURL == "" {
		return errors.New("indexer.l1_rpc_url is required")
	}
	if c.L2RPCURL == "" {
		return errors.New("indexer.l2_rpc_url is required")
	}
	if c.InboxAddress == "" {
		return errors.New("indexer.inbox_address is required")
	}
	if !ethcommon.IsHexAddress(c.InboxAddress) {
		return fmt.Errorf("indexer.inbox_address %q is not a valid address", c.InboxAddress)
	}
	if c.WrapperAddress != "" && !ethcommon.IsHexAddress(c.WrapperAddress) {
		return fmt.Errorf("indexer.wrapper_address %q is not a valid address", c.WrapperAddress)
	}
	// Writes are enabled unless dry-run, and the committing store needs a path.
	if !c.DryRun && c.DB.Path == "" {
		return errors.New("indexer.db.path is required unless dry_run is set")
	}
	return nil
}

// BusConfig configures the in-process event bus transport.
type BusConfig struct {
	// Enabled switches event delivery from direct pipeline calls to
	// publish/consume over the bus
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// Buffer is the bus channel capacity; publishers block when it is full
	Buffer int `yaml:"buffer" json:"buffer" toml:"buffer"`
}

// ApplyDefaults sets default values for bus configuration.
func (b *BusConfig) ApplyDefaults() {
	if b.Buffer == 0 {
		b.Buffer = 256
	}
}

// ReconcilerConfig configures the gap detection and backfill cycle.
type ReconcilerConfig struct {
	// PollInterval is how often a reconciliation cycle runs
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// Lookback is how many blocks behind the store head each cycle rescans
	Lookback uint64 `yaml:"lookback" json:"lookback" toml:"lookback"`

	// StartupLookback is the larger window used by the eager cycle at boot
	StartupLookback uint64 `yaml:"startup_lookback" json:"startup_lookback" toml:"startup_lookback"`

	// ProbeTimeout bounds the RPC health probe at the top of each cycle
	ProbeTimeout common.Duration `yaml:"probe_timeout" json:"probe_timeout" toml:"probe_timeout"`
}

// ApplyDefaults sets default values for the reconciler configuration.
func (r *ReconcilerConfig) ApplyDefaults() {
	if r.PollInterval.Duration == 0 {
		r.PollInterval = common.NewDuration(time.Minute)
	}
	if r.Lookback == 0 {
		r.Lookback = 100
	}
	if r.StartupLookback == 0 {
		r.StartupLookback = 1000
	}
	if r.ProbeTimeout.Duration == 0 {
		r.ProbeTimeout = common.NewDuration(5 * time.Second)
	}
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents the SQLite store configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error"
	Level string `yaml:"level" json:"level" toml:"level"`

	// Development enables console encoding and stack traces
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels overrides the level per component, keyed by
	// component name ("orchestrator", "reconciler", ...)
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"`
}

// ApplyDefaults sets default values for logging configuration.
func (l *LoggingConfig) ApplyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.Level != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.Level)]; !valid {
			return fmt.Errorf("logging.level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component,
// falling back to Level when no override is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[common.ToLowerWithTrim(component)]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.Level)
}

// MetricsConfig represents Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP server runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the host:port the metrics server binds to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path serving metrics
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for metrics configuration.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// ApplyDefaults applies defaults across the whole configuration tree.
func (c *Config) ApplyDefaults() {
	c.Indexer.ApplyDefaults()

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate validates the whole configuration tree.
func (c *Config) Validate() error {
	if err := c.Indexer.Validate(); err != nil {
		return err
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// InboxAddr returns the parsed inbox contract address.
func (c *IndexerConfig) InboxAddr() ethcommon.Address {
	return ethcommon.HexToAddress(c.InboxAddress)
}

// WrapperAddr returns the parsed wrapper contract address, or the zero
// address when no wrapper is configured.
func (c *IndexerConfig) WrapperAddr() ethcommon.Address {
	if c.WrapperAddress == "" {
		return ethcommon.Address{}
	}
	return ethcommon.HexToAddress(c.WrapperAddress)
}
