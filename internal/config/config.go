// Package config loads the engine's tunables from a TOML or YAML file with
// KATRA_-prefixed environment variable overrides, following the same
// viper.New()-per-file idiom the rest of the corpus uses for validation and
// doctor checks rather than a single global viper singleton.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of engine tunables, spanning every package that
// reads a limit or threshold rather than deriving one from data.
type Config struct {
	// DataDir is the root directory holding tier1/index.db (which also
	// carries the vector, graph, and Tier-2 index tables), the tier2/
	// bucket directories, and the message bus's chat/chat.db.
	DataDir string `mapstructure:"data_dir"`

	Tier1 Tier1Config `mapstructure:"tier1"`
	Tier2 Tier2Config `mapstructure:"tier2"`

	Vector VectorConfig `mapstructure:"vector"`
	Graph  GraphConfig  `mapstructure:"graph"`

	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	Consolidate ConsolidateConfig `mapstructure:"consolidate"`
	Budget      BudgetConfig      `mapstructure:"budget"`

	MessageBus MessageBusConfig `mapstructure:"message_bus"`

	Maintenance MaintenanceConfig `mapstructure:"maintenance"`

	Summarizer SummarizerConfig `mapstructure:"summarizer"`
}

type Tier1Config struct {
	DedupWindow time.Duration `mapstructure:"dedup_window"`
}

type Tier2Config struct {
	MaxBucketFileMB int `mapstructure:"max_bucket_file_mb"`
}

type VectorConfig struct {
	// Scheme selects the embedding strategy: "hash", "tfidf", or "external".
	Scheme              string  `mapstructure:"scheme"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	// HashDimensions is the fixed vector width used by the "hash" scheme.
	HashDimensions int `mapstructure:"hash_dimensions"`
}

type GraphConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxSimilarEdges    int           `mapstructure:"max_similar_edges"`
	SimilarityThreshold float64      `mapstructure:"similarity_threshold"`
	TemporalWindow     time.Duration `mapstructure:"temporal_window"`
}

type RetrievalConfig struct {
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`
	DefaultLimit      int     `mapstructure:"default_limit"`
}

type ConsolidateConfig struct {
	TooOldAfter          time.Duration `mapstructure:"too_old_after"`
	RecentlyAccessedWithin time.Duration `mapstructure:"recently_accessed_within"`
	// IgnoreWindow filters out the "just accessed it to evaluate it for
	// archival" artifact of a Query's last_accessed touch-up: an access
	// within IgnoreWindow of now never counts as recently_accessed.
	IgnoreWindow         time.Duration `mapstructure:"ignore_window"`
	HighEmotionThreshold float64       `mapstructure:"high_emotion_threshold"`
	HighCentralityThreshold float64    `mapstructure:"high_centrality_threshold"`
}

type BudgetConfig struct {
	SoftLimit  int `mapstructure:"soft_limit"`
	HardLimit  int `mapstructure:"hard_limit"`
	BatchSize  int `mapstructure:"batch_size"`
}

type MessageBusConfig struct {
	BroadcastTTL  time.Duration `mapstructure:"broadcast_ttl"`
	StaleTimeout  time.Duration `mapstructure:"stale_timeout"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	// MaxMessageLength is MEETING_MAX_MESSAGE_LENGTH: say() content longer
	// than this is rejected with katraerr.KindInputTooLong. Zero or less
	// disables the check.
	MaxMessageLength int `mapstructure:"max_message_length"`
	// MaxActiveCIs is MEETING_MAX_ACTIVE_CIS: a configuration-time advisory
	// cap on registered agents; register never hard-fails past it.
	MaxActiveCIs int `mapstructure:"max_active_cis"`
	// MaxHistoryCount bounds history(count)'s returned slice regardless of
	// the caller-requested count.
	MaxHistoryCount int `mapstructure:"max_history_count"`
}

type MaintenanceConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// CriticalWriteFloor is the minimum record.Importance ([0,1]) a write
	// must carry to be accepted while health is critical; lower-importance
	// writes are refused with katraerr.KindTierFull (spec §4.9).
	CriticalWriteFloor float64 `mapstructure:"critical_write_floor"`
	// Capacity is the Tier-1 record count treated as 100% full for health's
	// fill percentage. Spec §4.9 names the three health tiers but leaves
	// the capacity and the low/high fill thresholds as a deployment
	// tunable (§9 Open Question (c) is the closest named precedent for
	// "configurable, not hardcoded").
	Capacity int `mapstructure:"capacity"`
	// LowFillThreshold/HighFillThreshold are fractions of Capacity:
	// healthy below Low, degraded below High, critical at or above High.
	LowFillThreshold  float64 `mapstructure:"low_fill_threshold"`
	HighFillThreshold float64 `mapstructure:"high_fill_threshold"`
	// ArchiveOlderThanDays is the auto_consolidate cutoff spec §4.9 step 3
	// names directly ("older than 7 days").
	ArchiveOlderThanDays int `mapstructure:"archive_older_than_days"`
}

type SummarizerConfig struct {
	Model      string        `mapstructure:"model"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Default returns the engine's out-of-the-box tunables, matching the
// defaults named in spec §9's Open Question resolutions and §4's default
// callouts (e.g. the maintenance loop's 6-hour tick).
func Default() *Config {
	return &Config{
		DataDir: ".katra",
		Tier1: Tier1Config{
			DedupWindow: 2 * time.Second,
		},
		Tier2: Tier2Config{
			MaxBucketFileMB: 10,
		},
		Vector: VectorConfig{
			Scheme:              "tfidf",
			SimilarityThreshold: 0.75,
			HashDimensions:      256,
		},
		Graph: GraphConfig{
			Enabled:             true,
			MaxSimilarEdges:     5,
			SimilarityThreshold: 0.75,
			TemporalWindow:      10 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			SemanticThreshold: 0.3,
			DefaultLimit:      20,
		},
		Consolidate: ConsolidateConfig{
			TooOldAfter:             30 * 24 * time.Hour,
			RecentlyAccessedWithin:  7 * 24 * time.Hour,
			IgnoreWindow:            5 * time.Minute,
			HighEmotionThreshold:    0.7,
			HighCentralityThreshold: 0.6,
		},
		Budget: BudgetConfig{
			SoftLimit: 500,
			HardLimit: 1000,
			BatchSize: 50,
		},
		MessageBus: MessageBusConfig{
			BroadcastTTL:     24 * time.Hour,
			StaleTimeout:     5 * time.Minute,
			QueueCapacity:    1000,
			MaxMessageLength: 1024,
			MaxActiveCIs:     32,
			MaxHistoryCount:  100,
		},
		Maintenance: MaintenanceConfig{
			Interval:             6 * time.Hour,
			CriticalWriteFloor:   0.5,
			Capacity:             10000,
			LowFillThreshold:     0.7,
			HighFillThreshold:    0.9,
			ArchiveOlderThanDays: 7,
		},
		Summarizer: SummarizerConfig{
			Model:      "claude-3-5-haiku-20241022",
			MaxRetries: 3,
			Timeout:    30 * time.Second,
		},
	}
}

// Load reads path (TOML or YAML, inferred from extension) over top of the
// defaults, then applies KATRA_-prefixed environment variable overrides. An
// empty path loads defaults with only environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("KATRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	// AutomaticEnv alone doesn't reach Unmarshal's mapstructure pass unless
	// each key is bound, so bind every leaf explicitly.
	for _, key := range envBindableKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

var envBindableKeys = []string{
	"data_dir",
	"tier1.dedup_window",
	"tier2.max_bucket_file_mb",
	"vector.scheme",
	"vector.similarity_threshold",
	"vector.hash_dimensions",
	"graph.enabled",
	"graph.max_similar_edges",
	"graph.similarity_threshold",
	"graph.temporal_window",
	"retrieval.semantic_threshold",
	"retrieval.default_limit",
	"consolidate.too_old_after",
	"consolidate.recently_accessed_within",
	"consolidate.ignore_window",
	"consolidate.high_emotion_threshold",
	"consolidate.high_centrality_threshold",
	"budget.soft_limit",
	"budget.hard_limit",
	"budget.batch_size",
	"message_bus.broadcast_ttl",
	"message_bus.stale_timeout",
	"message_bus.queue_capacity",
	"message_bus.max_message_length",
	"message_bus.max_active_cis",
	"message_bus.max_history_count",
	"maintenance.interval",
	"maintenance.critical_write_floor",
	"maintenance.capacity",
	"maintenance.low_fill_threshold",
	"maintenance.high_fill_threshold",
	"maintenance.archive_older_than_days",
	"summarizer.model",
	"summarizer.max_retries",
	"summarizer.timeout",
}
