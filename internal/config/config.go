package config

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Overpass  OverpassConfig  `yaml:"overpass" mapstructure:"overpass"`
	Shapefile ShapefileConfig `yaml:"shapefile" mapstructure:"shapefile"`
	Newswire  NewswireConfig  `yaml:"newswire" mapstructure:"newswire"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Validate  ValidateConfig  `yaml:"validate" mapstructure:"validate"`
	Context   ContextConfig   `yaml:"context" mapstructure:"context"`
	Decision  DecisionConfig  `yaml:"decision" mapstructure:"decision"`
	Trust     TrustConfig     `yaml:"trust" mapstructure:"trust"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GeocodeConfig configures the reverse geocoder used for region resolution.
type GeocodeConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateRPS   float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// OverpassConfig configures the OSM Overpass reference source.
type OverpassConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the Overpass query timeout as a duration.
func (o OverpassConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSecs) * time.Second
}

// ShapefileConfig configures the local shapefile reference source.
type ShapefileConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Name    string `yaml:"name" mapstructure:"name"`
}

// NewswireConfig configures the report search API.
type NewswireConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	PageSize int    `yaml:"page_size" mapstructure:"page_size"`
}

// AnthropicConfig configures the text-reasoning collaborator.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExtractConfig configures feature extraction.
type ExtractConfig struct {
	// ConnectivityToleranceMeters is the max distance from an intersection
	// or signal to the nearest segment before it is flagged.
	ConnectivityToleranceMeters float64 `yaml:"connectivity_tolerance_meters" mapstructure:"connectivity_tolerance_meters"`
}

// ValidateConfig configures external validation.
type ValidateConfig struct {
	MatchToleranceMeters float64 `yaml:"match_tolerance_meters" mapstructure:"match_tolerance_meters"`
	SourceTimeoutSecs    int     `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
	StageTimeoutSecs     int     `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	// Required hard-fails the run when all sources are down instead of
	// degrading to the neutral default.
	Required bool `yaml:"required" mapstructure:"required"`
}

// SourceTimeout returns the per-source timeout as a duration.
func (v ValidateConfig) SourceTimeout() time.Duration {
	return time.Duration(v.SourceTimeoutSecs) * time.Second
}

// StageTimeout returns the whole-stage timeout as a duration.
func (v ValidateConfig) StageTimeout() time.Duration {
	return time.Duration(v.StageTimeoutSecs) * time.Second
}

// ContextConfig configures the context analysis stage.
type ContextConfig struct {
	WindowDays       int `yaml:"window_days" mapstructure:"window_days"`
	MaxReports       int `yaml:"max_reports" mapstructure:"max_reports"`
	AssessConcurrent int `yaml:"assess_concurrent" mapstructure:"assess_concurrent"`
	StageTimeoutSecs int `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
}

// StageTimeout returns the whole-stage timeout as a duration.
func (c ContextConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSecs) * time.Second
}

// Window returns the report search window as a duration.
func (c ContextConfig) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// DecisionConfig holds the decision weights, recommendation thresholds, and
// degraded-mode neutral defaults. Weights must sum to 1.0.
type DecisionConfig struct {
	TrustWeight      float64 `yaml:"trust_weight" mapstructure:"trust_weight"`
	ValidationWeight float64 `yaml:"validation_weight" mapstructure:"validation_weight"`
	NewsWeight       float64 `yaml:"news_weight" mapstructure:"news_weight"`

	ApproveThreshold float64 `yaml:"approve_threshold" mapstructure:"approve_threshold"`
	ReviewThreshold  float64 `yaml:"review_threshold" mapstructure:"review_threshold"`

	NeutralValidation float64 `yaml:"neutral_validation" mapstructure:"neutral_validation"`
	NeutralNews       float64 `yaml:"neutral_news" mapstructure:"neutral_news"`

	AutoMergeEnabled        bool    `yaml:"auto_merge_enabled" mapstructure:"auto_merge_enabled"`
	AutoMergeTrustThreshold float64 `yaml:"auto_merge_trust_threshold" mapstructure:"auto_merge_trust_threshold"`
}

// Validate checks the weight and threshold invariants.
func (d DecisionConfig) Validate() error {
	sum := d.TrustWeight + d.ValidationWeight + d.NewsWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return eris.Errorf("config: decision weights sum to %.4f, want 1.0", sum)
	}
	if d.ReviewThreshold >= d.ApproveThreshold {
		return eris.Errorf("config: review threshold %.1f must be below approve threshold %.1f",
			d.ReviewThreshold, d.ApproveThreshold)
	}
	return nil
}

// TrustConfig holds the default score, per-outcome adjustment magnitudes, and
// write-retry settings for the trust store.
type TrustConfig struct {
	DefaultScore float64 `yaml:"default_score" mapstructure:"default_score"`

	ApproveMagnitude     float64 `yaml:"approve_magnitude" mapstructure:"approve_magnitude"`
	RejectMagnitude      float64 `yaml:"reject_magnitude" mapstructure:"reject_magnitude"`
	WrongRejectMagnitude float64 `yaml:"wrong_reject_magnitude" mapstructure:"wrong_reject_magnitude"`
	FieldMagnitude       float64 `yaml:"field_magnitude" mapstructure:"field_magnitude"`

	WriteRetries  int `yaml:"write_retries" mapstructure:"write_retries"`
	HistoryWindow int `yaml:"history_window" mapstructure:"history_window"`
}

// RegistryConfig points at the optional keyword/source definition file.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ROADMERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "roadmerge.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "roadmerge/1.0")
	v.SetDefault("geocode.rate_rps", 1)
	v.SetDefault("overpass.enabled", true)
	v.SetDefault("overpass.base_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout_secs", 25)
	v.SetDefault("shapefile.name", "dot_centerlines")
	v.SetDefault("newswire.base_url", "https://newsapi.org/v2")
	v.SetDefault("newswire.page_size", 20)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("extract.connectivity_tolerance_meters", 25)
	v.SetDefault("validate.match_tolerance_meters", 30)
	v.SetDefault("validate.source_timeout_secs", 20)
	v.SetDefault("validate.stage_timeout_secs", 60)
	v.SetDefault("validate.required", false)
	v.SetDefault("context.window_days", 30)
	v.SetDefault("context.max_reports", 10)
	v.SetDefault("context.assess_concurrent", 4)
	v.SetDefault("context.stage_timeout_secs", 90)
	v.SetDefault("decision.trust_weight", 0.40)
	v.SetDefault("decision.validation_weight", 0.35)
	v.SetDefault("decision.news_weight", 0.25)
	v.SetDefault("decision.approve_threshold", 80)
	v.SetDefault("decision.review_threshold", 60)
	v.SetDefault("decision.neutral_validation", 50)
	v.SetDefault("decision.neutral_news", 50)
	v.SetDefault("decision.auto_merge_enabled", false)
	v.SetDefault("decision.auto_merge_trust_threshold", 90)
	v.SetDefault("trust.default_score", 50)
	v.SetDefault("trust.approve_magnitude", 2)
	v.SetDefault("trust.reject_magnitude", 3)
	v.SetDefault("trust.wrong_reject_magnitude", 1)
	v.SetDefault("trust.field_magnitude", 0.5)
	v.SetDefault("trust.write_retries", 3)
	v.SetDefault("trust.history_window", 5)

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

	if err := cfg.Decision.Validate(); err != nil {
		return nil, err
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
