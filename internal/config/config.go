package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/screening-cli/internal/decision"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Crossref  CrossrefConfig  `yaml:"crossref" mapstructure:"crossref"`
	Parse     ParseConfig     `yaml:"parse" mapstructure:"parse"`
	Chunk     ChunkConfig     `yaml:"chunk" mapstructure:"chunk"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Decision  DecisionConfig  `yaml:"decision" mapstructure:"decision"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures checkpoint persistence.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// CrossrefConfig holds Crossref lookup settings.
type CrossrefConfig struct {
	Mailto string `yaml:"mailto" mapstructure:"mailto"`
}

// ParseConfig configures PDF text extraction.
type ParseConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	PdfInfoPath   string `yaml:"pdfinfo_path" mapstructure:"pdfinfo_path"`
}

// ChunkConfig configures the text chunking fed to extraction stages.
type ChunkConfig struct {
	Size    int `yaml:"size" mapstructure:"size"`
	Overlap int `yaml:"overlap" mapstructure:"overlap"`
}

// PipelineConfig configures orchestration behavior.
type PipelineConfig struct {
	SourceTimeoutSecs int     `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
	ReviewConfidence  float64 `yaml:"review_confidence" mapstructure:"review_confidence"`
	EnrichMaxAttempts int     `yaml:"enrich_max_attempts" mapstructure:"enrich_max_attempts"`
	ConsolidatePasses int     `yaml:"consolidate_passes" mapstructure:"consolidate_passes"`
}

// DecisionConfig configures the inclusion pathways for the review.
type DecisionConfig struct {
	TargetGap   string             `yaml:"target_gap" mapstructure:"target_gap"`
	Anchors     []string           `yaml:"anchors" mapstructure:"anchors"`
	Elements    []decision.Element `yaml:"elements" mapstructure:"elements"`
	MinElements int                `yaml:"min_elements" mapstructure:"min_elements"`
}

// Rules converts the config section into decision rules.
func (d DecisionConfig) Rules() decision.Rules {
	return decision.Rules{
		TargetGap:   d.TargetGap,
		Anchors:     d.Anchors,
		Elements:    d.Elements,
		MinElements: d.MinElements,
	}
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields the screen command needs before a run starts.
func (c *Config) Validate() error {
	var missing []string
	if c.Anthropic.Key == "" {
		missing = append(missing, "anthropic.key is required")
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "file" {
		missing = append(missing, "store.driver must be sqlite or file")
	}
	if c.Chunk.Size <= 0 || c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		missing = append(missing, "chunk.overlap must be >= 0 and less than chunk.size")
	}
	if c.Pipeline.ReviewConfidence < 0 || c.Pipeline.ReviewConfidence > 1 {
		missing = append(missing, "pipeline.review_confidence must be between 0 and 1")
	}
	if c.Anthropic.RequestsPerSec <= 0 {
		missing = append(missing, "anthropic.requests_per_sec must be > 0")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "screening.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.requests_per_sec", 0.25)
	v.SetDefault("parse.pdftotext_path", "pdftotext")
	v.SetDefault("parse.pdfinfo_path", "pdfinfo")
	v.SetDefault("chunk.size", 12000)
	v.SetDefault("chunk.overlap", 800)
	v.SetDefault("pipeline.source_timeout_secs", 30)
	v.SetDefault("pipeline.review_confidence", 0.75)
	v.SetDefault("pipeline.enrich_max_attempts", 3)
	v.SetDefault("pipeline.consolidate_passes", 5)
	v.SetDefault("decision.min_elements", 2)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
