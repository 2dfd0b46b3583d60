package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memuri/internal/cache"
	"github.com/fyrsmithlabs/memuri/internal/embeddings"
	"github.com/fyrsmithlabs/memuri/internal/gating"
	"github.com/fyrsmithlabs/memuri/internal/memory"
	"github.com/fyrsmithlabs/memuri/internal/reranker"
	"github.com/fyrsmithlabs/memuri/internal/retrain"
	"github.com/fyrsmithlabs/memuri/internal/retrieval"
	"github.com/fyrsmithlabs/memuri/internal/vectorstore"
)

// Config is the full memurid configuration tree.
type Config struct {
	Gating      gating.Config      `koanf:"gating"`
	Retrieval   retrieval.Config   `koanf:"retrieval"`
	Rerank      reranker.Config    `koanf:"rerank"`
	Retrain     retrain.Config     `koanf:"retrain"`
	Rules       RulesConfig        `koanf:"rules"`
	Embeddings  embeddings.Config  `koanf:"embeddings"`
	VectorStore vectorstore.Config `koanf:"vectorstore"`
	Cache       cache.Config       `koanf:"cache"`
	Feedback    FeedbackConfig     `koanf:"feedback"`
	Sweep       SweepConfig        `koanf:"sweep"`
	Logging     LoggingConfig      `koanf:"logging"`
	Telemetry   TelemetryConfig    `koanf:"telemetry"`
	Ops         OpsConfig          `koanf:"ops"`
}

// FeedbackConfig selects the feedback store backend.
type FeedbackConfig struct {
	// Path to the SQLite database. Empty selects the in-memory store.
	Path string `koanf:"path"`
}

// SweepConfig controls the background retention sweep.
type SweepConfig struct {
	// Interval between sweeps. Default: 10m.
	Interval Duration `koanf:"interval"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string `koanf:"level"`

	// Format is json or console. Default: json.
	Format string `koanf:"format"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	// Enabled turns OTLP trace export on.
	Enabled bool `koanf:"enabled"`

	// ServiceName reported on spans. Default: memurid.
	ServiceName string `koanf:"service_name"`

	// Endpoint is the OTLP gRPC collector address. Default: localhost:4317.
	Endpoint string `koanf:"endpoint"`

	// SampleRate in [0,1]. Default: 1.
	SampleRate float64 `koanf:"sample_rate"`
}

// OpsConfig controls the operational HTTP listener.
type OpsConfig struct {
	// Listen address for /healthz and /metrics. Default: :9090.
	Listen string `koanf:"listen"`
}

// CategoryRuleConfig is one category's gating rule and retention policy in
// configuration form.
type CategoryRuleConfig struct {
	Action              string   `koanf:"action"`
	ConfidenceThreshold float64  `koanf:"confidence_threshold"`
	TTL                 Duration `koanf:"ttl"`
	Priority            int      `koanf:"priority"`
	MaxAge              Duration `koanf:"max_age"`
	MaxCount            int      `koanf:"max_count"`
}

// RulesConfig is the category rule table in configuration form. An empty
// table selects the built-in defaults.
type RulesConfig struct {
	Categories map[string]CategoryRuleConfig `koanf:"categories"`
	Default    *CategoryRuleConfig           `koanf:"default"`
}

func (c CategoryRuleConfig) entry() memory.CategoryEntry {
	return memory.CategoryEntry{
		Rule: memory.GatingRule{
			Action:              memory.GatingAction(c.Action),
			ConfidenceThreshold: c.ConfidenceThreshold,
			TTL:                 c.TTL.Duration(),
			Priority:            c.Priority,
		},
		Retention: memory.RetentionPolicy{
			MaxAge:   c.MaxAge.Duration(),
			MaxCount: c.MaxCount,
		},
	}
}

// BuildRuleTable converts the configured rules into a validated table. An
// empty configuration yields the built-in default table.
func (r RulesConfig) BuildRuleTable() (*memory.RuleTable, error) {
	if len(r.Categories) == 0 && r.Default == nil {
		return memory.DefaultRuleTable(), nil
	}

	defaults := memory.CategoryEntry{Rule: memory.DefaultRule, Retention: memory.DefaultRetention}
	if r.Default != nil {
		defaults = r.Default.entry()
	}

	entries := make(map[memory.Category]memory.CategoryEntry, len(r.Categories))
	for key, rule := range r.Categories {
		entries[memory.Category(key)] = rule.entry()
	}

	table, err := memory.NewRuleTable(entries, defaults)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return table, nil
}

// ApplyDefaults fills in zero values across all sections.
func (c *Config) ApplyDefaults() {
	c.Gating.ApplyDefaults()
	c.Retrieval.ApplyDefaults()
	c.Rerank.ApplyDefaults()
	c.Retrain.ApplyDefaults()
	c.Cache.ApplyDefaults()

	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = Duration(10 * time.Minute)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "memurid"
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1
	}
	if c.Ops.Listen == "" {
		c.Ops.Listen = ":9090"
	}
}

// Validate checks all sections and the rule table.
func (c *Config) Validate() error {
	if err := c.Gating.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Rerank.Validate(); err != nil {
		return err
	}
	if err := c.Retrain.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if _, err := c.Rules.BuildRuleTable(); err != nil {
		return err
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate %v outside [0,1]", c.Telemetry.SampleRate)
	}
	return nil
}
