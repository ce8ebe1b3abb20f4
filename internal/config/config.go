package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values. The file layout mirrors the
// sections of the ingestion config file; every secret can also be supplied
// through the environment.
type Config struct {
	Translator TranslatorConfig `yaml:"translator"`
	Search     SearchConfig     `yaml:"search"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Processing ProcessingConfig `yaml:"processing"`
	Retry      RetryConfig      `yaml:"retry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// DatabasePath is the SQLite file backing the local index and run ledger.
	DatabasePath string `yaml:"database_path"`
}

// TranslatorConfig configures the translation and detection provider.
type TranslatorConfig struct {
	Endpoint           string        `yaml:"endpoint"`
	SubscriptionKey    string        `yaml:"subscription_key"`
	Region             string        `yaml:"region"`
	APIVersion         string        `yaml:"api_version"`
	BatchSize          int           `yaml:"batch_size"`
	MaxCharsPerRequest int           `yaml:"max_chars_per_request"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Timeout            time.Duration `yaml:"timeout"`
}

// SearchConfig configures the search index provider.
type SearchConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	ServiceName string        `yaml:"service_name"`
	AdminKey    string        `yaml:"admin_key"`
	IndexName   string        `yaml:"index_name"`
	APIVersion  string        `yaml:"api_version"`
	BatchSize   int           `yaml:"batch_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider        string        `yaml:"provider"` // azure, openai or local
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"api_key"`
	Deployment      string        `yaml:"deployment"`
	Model           string        `yaml:"model"`
	APIVersion      string        `yaml:"api_version"`
	Dimension       int           `yaml:"dimension"`
	BatchSize       int           `yaml:"batch_size"`
	MaxChars        int           `yaml:"max_chars"`
	TokensPerMinute int           `yaml:"tokens_per_minute"`
	Concurrency     int           `yaml:"concurrency"`
	CacheSize       int           `yaml:"cache_size"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ProcessingConfig holds pipeline settings.
type ProcessingConfig struct {
	ChunkSize           int      `yaml:"chunk_size"`
	ChunkOverlap        int      `yaml:"chunk_overlap"`
	MinChunkSize        int      `yaml:"min_chunk_size"`
	MinTextChars        int      `yaml:"min_text_chars"`
	MaxConcurrentFiles  int      `yaml:"max_concurrent_files"`
	TranslationEnabled  bool     `yaml:"translation_enabled"`
	ForceTranslation    bool     `yaml:"force_translation"`
	TargetLanguage      string   `yaml:"target_language"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	SupportedFormats    []string `yaml:"supported_formats"`
	SupportedLanguages  []string `yaml:"supported_languages"`
	HashInChunkID       bool     `yaml:"hash_in_chunk_id"`
}

// RetryConfig configures the shared retry policy.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint served by `serve`.
// An empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Translator: TranslatorConfig{
			APIVersion:         "3.0",
			BatchSize:          25,
			MaxCharsPerRequest: 5000,
			RequestsPerSecond:  10,
			Timeout:            30 * time.Second,
		},
		Search: SearchConfig{
			IndexName:  "multilingual-documents",
			APIVersion: "2023-11-01",
			BatchSize:  100,
			Timeout:    30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:        "",
			Deployment:      "text-embedding-ada-002",
			Model:           "text-embedding-ada-002",
			APIVersion:      "2023-12-01-preview",
			Dimension:       1536,
			BatchSize:       16,
			MaxChars:        8000 * 4,
			TokensPerMinute: 120000,
			Concurrency:     4,
			CacheSize:       10000,
			Timeout:         30 * time.Second,
		},
		Processing: ProcessingConfig{
			ChunkSize:           1000,
			ChunkOverlap:        100,
			MinChunkSize:        50,
			MinTextChars:        50,
			MaxConcurrentFiles:  5,
			TranslationEnabled:  true,
			ForceTranslation:    false,
			TargetLanguage:      "en",
			ConfidenceThreshold: 0.5,
			SupportedFormats:    []string{"pdf", "docx", "txt", "md", "html"},
			SupportedLanguages: []string{
				"en", "es", "fr", "de", "it", "pt", "nl", "ro", "pl", "sv",
				"ru", "tr", "ar", "zh", "ja", "ko", "hi",
			},
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   30 * time.Second,
		},
		Logging: LoggingConfig{
			File:  "ragingest.log",
			Level: "INFO",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		DatabasePath: "ragingest.db",
	}
}

// Load reads the optional config file at path and applies environment
// overrides on top of it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.clearPlaceholders()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes a template config file. Existing files are left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	cfg := Default()
	cfg.Translator.Endpoint = "https://your-translator-name.cognitiveservices.azure.com/"
	cfg.Translator.SubscriptionKey = "your-translator-key-here"
	cfg.Translator.Region = "your-region-here"
	cfg.Search.ServiceName = "your-search-service"
	cfg.Search.AdminKey = "your-search-admin-key"
	cfg.Embedding.Endpoint = "https://your-openai-name.openai.azure.com/"
	cfg.Embedding.APIKey = "your-openai-key"
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyEnv() {
	c.Translator.Endpoint = getEnv("RAG_TRANSLATOR_ENDPOINT", c.Translator.Endpoint)
	c.Translator.SubscriptionKey = getEnv("RAG_TRANSLATOR_KEY", c.Translator.SubscriptionKey)
	c.Translator.Region = getEnv("RAG_TRANSLATOR_REGION", c.Translator.Region)

	c.Search.Endpoint = getEnv("RAG_SEARCH_ENDPOINT", c.Search.Endpoint)
	c.Search.ServiceName = getEnv("RAG_SEARCH_SERVICE", c.Search.ServiceName)
	c.Search.AdminKey = getEnv("RAG_SEARCH_ADMIN_KEY", c.Search.AdminKey)
	c.Search.IndexName = getEnv("RAG_SEARCH_INDEX", c.Search.IndexName)

	c.Embedding.Provider = getEnv("RAG_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Endpoint = getEnv("RAG_EMBEDDING_ENDPOINT", c.Embedding.Endpoint)
	c.Embedding.APIKey = getEnv("RAG_EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", c.Embedding.APIKey))
	c.Embedding.Deployment = getEnv("RAG_EMBEDDING_DEPLOYMENT", c.Embedding.Deployment)
	c.Embedding.Model = getEnv("RAG_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.TokensPerMinute = getEnvInt("RAG_EMBEDDING_TPM", c.Embedding.TokensPerMinute)

	c.Processing.MaxConcurrentFiles = getEnvInt("RAG_MAX_CONCURRENT_FILES", c.Processing.MaxConcurrentFiles)
	c.Processing.TargetLanguage = getEnv("RAG_TARGET_LANGUAGE", c.Processing.TargetLanguage)
	if v := os.Getenv("RAG_TRANSLATION_ENABLED"); v != "" {
		c.Processing.TranslationEnabled = v == "true" || v == "1"
	}

	c.DatabasePath = getEnv("RAG_DB_PATH", c.DatabasePath)
	c.Logging.File = getEnv("RAG_LOG_FILE", c.Logging.File)
	c.Logging.Level = getEnv("RAG_LOG_LEVEL", c.Logging.Level)
	c.Metrics.Address = getEnv("RAG_METRICS_ADDRESS", c.Metrics.Address)
}

// clearPlaceholders drops template values written by WriteDefault so an
// unfilled template falls back to the offline providers.
func (c *Config) clearPlaceholders() {
	for _, s := range []*string{
		&c.Translator.Endpoint, &c.Translator.SubscriptionKey, &c.Translator.Region,
		&c.Search.ServiceName, &c.Search.AdminKey,
		&c.Embedding.Endpoint, &c.Embedding.APIKey,
	} {
		if isPlaceholder(*s) {
			*s = ""
		}
	}
}

func isPlaceholder(s string) bool {
	return strings.Contains(s, "your-")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	p := c.Processing
	if p.ChunkSize <= 0 {
		errs = append(errs, errors.New("processing.chunk_size must be positive"))
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		errs = append(errs, errors.New("processing.chunk_overlap must be in [0, chunk_size)"))
	}
	if p.MaxConcurrentFiles <= 0 {
		errs = append(errs, errors.New("processing.max_concurrent_files must be positive"))
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		errs = append(errs, errors.New("processing.confidence_threshold must be in [0, 1]"))
	}
	if p.TargetLanguage == "" {
		errs = append(errs, errors.New("processing.target_language is required"))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, errors.New("embedding.dimension must be positive"))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, errors.New("embedding.batch_size must be positive"))
	}
	if c.Translator.BatchSize <= 0 {
		errs = append(errs, errors.New("translator.batch_size must be positive"))
	}
	if c.Search.IndexName == "" {
		errs = append(errs, errors.New("search.index_name is required"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	return errors.Join(errs...)
}

// TranslatorConfigured reports whether the remote translator can be used.
func (c *Config) TranslatorConfigured() bool {
	return c.Translator.Endpoint != "" && c.Translator.SubscriptionKey != ""
}

// SearchEndpoint returns the search service URL, derived from the service
// name when no endpoint is set.
func (c *Config) SearchEndpoint() string {
	if c.Search.Endpoint != "" {
		return strings.TrimRight(c.Search.Endpoint, "/")
	}
	if c.Search.ServiceName != "" {
		return fmt.Sprintf("https://%s.search.windows.net", c.Search.ServiceName)
	}
	return ""
}

// SearchConfigured reports whether the remote search index can be used.
func (c *Config) SearchConfigured() bool {
	return c.SearchEndpoint() != "" && c.Search.AdminKey != ""
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() slog.Level {
	return parseLogLevel(c.Logging.Level)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
