package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP trigger server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AdapterConfig is the per-engine configuration spec.md §6 enumerates:
// {adapter.baseUrl, adapter.enabled, adapter.timeoutSeconds}.
type AdapterConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	Enabled        bool   `json:"enabled"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SearchConfig holds one AdapterConfig per known SearchEngine. Extension point:
// adding an engine means adding a field here and to the Search Adapter Set's
// registration, never branching on engine name elsewhere in the core.
type SearchConfig struct {
	Brave      AdapterConfig `json:"brave"`
	Serper     AdapterConfig `json:"serper"`
	Searxng    AdapterConfig `json:"searxng"`
	Perplexica AdapterConfig `json:"perplexica"`
}

// CacheConfig controls the Query Cache (spec.md §4.4).
type CacheConfig struct {
	MaxSize    int `json:"max_size" env:"CACHE_MAX_SIZE"`
	TTLSeconds int `json:"ttl_seconds" env:"CACHE_TTL_SECONDS"`
}

// JudgeConfig carries the Metadata Judge's weights, keyword lists, and
// threshold as configuration rather than code (spec.md §4.7).
type JudgeConfig struct {
	Threshold float64 `json:"threshold" env:"JUDGE_THRESHOLD"`

	FundingKeywordWeight    float64 `json:"funding_keyword_weight" env:"JUDGE_WEIGHT_FUNDING"`
	DomainCredibilityWeight float64 `json:"domain_credibility_weight" env:"JUDGE_WEIGHT_CREDIBILITY"`
	GeographicWeight        float64 `json:"geographic_weight" env:"JUDGE_WEIGHT_GEOGRAPHIC"`
	OrganizationTypeWeight  float64 `json:"organization_type_weight" env:"JUDGE_WEIGHT_ORGTYPE"`

	FundingKeywordSaturation   int `json:"funding_keyword_saturation" env:"JUDGE_SATURATION_FUNDING"`
	GeographicSaturation       int `json:"geographic_saturation" env:"JUDGE_SATURATION_GEOGRAPHIC"`
	OrganizationTypeSaturation int `json:"organization_type_saturation" env:"JUDGE_SATURATION_ORGTYPE"`

	FundingKeywords     []string `json:"funding_keywords"`
	ScamPatterns        []string `json:"scam_patterns"`
	CredibleTLDs        []string `json:"credible_tlds"`
	GeographicKeywords  []string `json:"geographic_keywords"`
	OrganizationTypeKws []string `json:"organization_type_keywords"`
}

// BreakerConfig controls every adapter's circuit breaker (spec.md §4.3).
type BreakerConfig struct {
	FailureRatio     float64 `json:"failure_ratio" env:"BREAKER_FAILURE_RATIO"`
	WindowSize       int     `json:"window_size" env:"BREAKER_WINDOW_SIZE"`
	CooldownSeconds  int     `json:"cooldown_seconds" env:"BREAKER_COOLDOWN_SECONDS"`
	HalfOpenMaxProbe int     `json:"half_open_max_probe" env:"BREAKER_HALF_OPEN_MAX_PROBE"`
}

// OrchestratorConfig controls the Search Orchestrator fan-out (spec.md §4.6).
type OrchestratorConfig struct {
	BatchDeadlineSeconds int `json:"batch_deadline_seconds" env:"ORCHESTRATOR_BATCH_DEADLINE_SECONDS"`
}

// LMConfig controls the language-model chat-completion endpoint used by
// Query Generation (spec.md §4.5, §6, §9).
type LMConfig struct {
	BaseURL        string  `json:"base_url" env:"LM_BASE_URL"`
	Model          string  `json:"model" env:"LM_MODEL"`
	TimeoutSeconds int     `json:"timeout_seconds" env:"LM_TIMEOUT_SECONDS"`
	Temperature    float64 `json:"temperature" env:"LM_TEMPERATURE"`
	MaxTokens      int     `json:"max_tokens" env:"LM_MAX_TOKENS"`
}

// QuerygenConfig controls Query Generation's strategy templates and
// configuration-driven mappers (spec.md §4.5).
type QuerygenConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" env:"QUERYGEN_TIMEOUT_SECONDS"`

	// CategoryDescriptions maps a Category tag to the textual phrase a
	// strategy substitutes into its rendered query/prompt.
	CategoryDescriptions map[string]string `json:"category_descriptions"`

	// GeographicDescriptions maps a geographic-scope code (e.g. "BALKANS")
	// to the phrase used in rendered output; falls back to the raw scope
	// string verbatim when no mapping is configured.
	GeographicDescriptions map[string]string `json:"geographic_descriptions"`

	// KeywordStyleEngines lists engines that use the short keyword-phrase
	// strategy; every other known engine uses the prompt-style strategy.
	KeywordStyleEngines []string `json:"keyword_style_engines"`

	// FallbackQueries is returned, capped to RequestedCount, whenever a
	// strategy's external call fails.
	FallbackQueries []string `json:"fallback_queries"`
}

// SchedulerConfig controls the SCHEDULED discovery-session cron trigger and
// what a scheduled session searches for.
type SchedulerConfig struct {
	Enabled         bool     `json:"enabled" env:"SCHEDULER_ENABLED"`
	CronSchedule    string   `json:"cron_schedule" env:"SCHEDULER_CRON_SCHEDULE"`
	Engines         []string `json:"engines"`
	Categories      []string `json:"categories"`
	GeographicScope string   `json:"geographic_scope" env:"SCHEDULER_GEOGRAPHIC_SCOPE"`
	MaxResults      int      `json:"max_results" env:"SCHEDULER_MAX_RESULTS"`
}

// Config is the top-level configuration structure covering every item
// spec.md §6 enumerates as the configuration surface, plus the ambient
// server/database/logging groups.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Logging      LoggingConfig      `json:"logging"`
	Search       SearchConfig       `json:"search"`
	Cache        CacheConfig        `json:"cache"`
	Judge        JudgeConfig        `json:"judge"`
	Breaker      BreakerConfig      `json:"breaker"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	LM           LMConfig           `json:"lm"`
	Querygen     QuerygenConfig     `json:"querygen"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePrefix: "fundingdiscovery",
		},
		Search: SearchConfig{
			Brave:      AdapterConfig{Enabled: false, TimeoutSeconds: 10},
			Serper:     AdapterConfig{Enabled: false, TimeoutSeconds: 10},
			Searxng:    AdapterConfig{Enabled: true, TimeoutSeconds: 10, BaseURL: "http://localhost:8888"},
			Perplexica: AdapterConfig{Enabled: false, TimeoutSeconds: 10},
		},
		Cache: CacheConfig{
			MaxSize:    10000,
			TTLSeconds: 24 * 3600,
		},
		Judge: JudgeConfig{
			Threshold:                  0.60,
			FundingKeywordWeight:       2.0,
			DomainCredibilityWeight:    1.5,
			GeographicWeight:           1.0,
			OrganizationTypeWeight:     0.8,
			FundingKeywordSaturation:   3,
			GeographicSaturation:       2,
			OrganizationTypeSaturation: 2,
			FundingKeywords: []string{
				"grant", "grants", "scholarship", "scholarships", "fellowship",
				"fellowships", "funding", "award", "stipend", "bursary",
			},
			ScamPatterns: []string{"free-money", "guaranteed-grant", "no-fee-grant"},
			CredibleTLDs: []string{".gov", ".edu", ".org", ".eu"},
			GeographicKeywords: []string{
				"bulgaria", "bulgarian", "romania", "romanian", "serbia",
				"serbian", "balkans", "eastern europe",
			},
			OrganizationTypeKws: []string{
				"foundation", "ngo", "nonprofit", "non-profit", "institute",
				"trust", "charity", "fund",
			},
		},
		Breaker: BreakerConfig{
			FailureRatio:     0.5,
			WindowSize:       10,
			CooldownSeconds:  30,
			HalfOpenMaxProbe: 1,
		},
		Orchestrator: OrchestratorConfig{
			BatchDeadlineSeconds: 10,
		},
		LM: LMConfig{
			BaseURL:        "http://localhost:1234/v1",
			Model:          "local-model",
			TimeoutSeconds: 30,
			Temperature:    0.3,
			MaxTokens:      512,
		},
		Querygen: QuerygenConfig{
			TimeoutSeconds: 30,
			CategoryDescriptions: map[string]string{
				"EDUCATION":   "education and scholarships",
				"RESEARCH":    "research and academic projects",
				"ARTS":        "arts and culture",
				"HEALTH":      "health and medical programs",
				"YOUTH":       "youth development",
				"ENVIRONMENT": "environmental and climate projects",
			},
			GeographicDescriptions: map[string]string{
				"BALKANS":        "the Balkans region",
				"EASTERN_EUROPE": "Eastern Europe",
				"EU":             "the European Union",
				"GLOBAL":         "any country worldwide",
			},
			KeywordStyleEngines: []string{"BRAVE", "SERPER", "SEARXNG"},
			FallbackQueries: []string{
				"grants for nonprofits eastern europe",
				"scholarship funding opportunities balkans",
				"foundation grants education funding",
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:         false,
			CronSchedule:    "0 */6 * * *",
			Engines:         []string{"SEARXNG"},
			Categories:      []string{"EDUCATION", "RESEARCH"},
			GeographicScope: "BALKANS",
			MaxResults:      10,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

// applyDatabaseURLOverride lets DATABASE_URL override any file-based DSN, so
// local/container runs can be configured with a single env var.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if c.Cache.MaxSize <= 0 {
		c.Cache.MaxSize = 10000
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 24 * 3600
	}
	if c.Judge.Threshold <= 0 {
		c.Judge.Threshold = 0.60
	}
	if c.Orchestrator.BatchDeadlineSeconds <= 0 {
		c.Orchestrator.BatchDeadlineSeconds = 10
	}
	if c.LM.TimeoutSeconds <= 0 {
		c.LM.TimeoutSeconds = 30
	}
	if c.Querygen.TimeoutSeconds <= 0 {
		c.Querygen.TimeoutSeconds = 30
	}
}
