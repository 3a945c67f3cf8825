package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Store     StoreConfig     `mapstructure:"store"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Search    SearchConfig    `mapstructure:"search"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	AuthToken    string `mapstructure:"auth_token"`    // bearer token for the scrape endpoints
	EmbedTimeout int    `mapstructure:"embed_timeout"` // seconds, background embedding run
}

// BlobConfig selects the object store that holds the trends document
type BlobConfig struct {
	Type   string `mapstructure:"type"`   // minio, fs, sqlite, memory
	Prefix string `mapstructure:"prefix"` // key prefix, e.g. now-trending/
	Key    string `mapstructure:"key"`    // document name under the prefix

	Root       string `mapstructure:"root"`        // fs backend
	SQLitePath string `mapstructure:"sqlite_path"` // sqlite backend

	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ObjectKey returns the full key of the trends document.
func (b BlobConfig) ObjectKey() string {
	return b.Prefix + b.Key
}

// StoreConfig holds document store tuning
type StoreConfig struct {
	CacheTTL      int `mapstructure:"cache_ttl"`      // seconds
	RetentionDays int `mapstructure:"retention_days"` // topic and scrape pruning window
}

// CacheDuration returns the cache freshness window.
func (s StoreConfig) CacheDuration() time.Duration {
	return time.Duration(s.CacheTTL) * time.Second
}

// Retention returns the pruning window.
func (s StoreConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// EmbeddingConfig holds embedding service configuration
type EmbeddingConfig struct {
	Provider  string  `mapstructure:"provider"` // openai, ollama
	BaseURL   string  `mapstructure:"base_url"`
	APIKey    string  `mapstructure:"api_key"`
	Model     string  `mapstructure:"model"`
	BatchSize int     `mapstructure:"batch_size"`
	Timeout   int     `mapstructure:"timeout"`    // seconds
	RateLimit float64 `mapstructure:"rate_limit"` // batch requests per second, 0 = unlimited
}

// OllamaConfig holds Ollama-related configuration
type OllamaConfig struct {
	Host           string `mapstructure:"host"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	Timeout        int    `mapstructure:"timeout"` // seconds
}

// ScraperConfig holds trend source configuration
type ScraperConfig struct {
	Geo            string  `mapstructure:"geo"`
	RSSURL         string  `mapstructure:"rss_url"`
	SerpAPIURL     string  `mapstructure:"serpapi_url"`
	SerpAPIKey     string  `mapstructure:"serpapi_key"`
	BrowserlessURL string  `mapstructure:"browserless_url"`
	BrowserlessKey string  `mapstructure:"browserless_key"`
	Timeout        int     `mapstructure:"timeout"`    // seconds per source
	RateLimit      float64 `mapstructure:"rate_limit"` // source requests per second, 0 = unlimited
}

// SearchConfig holds query defaults
type SearchConfig struct {
	DefaultLimit   int     `mapstructure:"default_limit"`
	MinSimilarity  float64 `mapstructure:"min_similarity"`
	TrendingWindow int     `mapstructure:"trending_window"` // hours
	TrendingLimit  int     `mapstructure:"trending_limit"`
	Strategy       string  `mapstructure:"strategy"` // linear, parallel
	Workers        int     `mapstructure:"workers"`  // parallel scan goroutines, 0 = GOMAXPROCS
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			AuthToken:    "dev-secret",
			EmbedTimeout: 300,
		},
		Blob: BlobConfig{
			Type:       "fs",
			Prefix:     "now-trending/",
			Key:        "trends.json",
			Root:       "./data",
			SQLitePath: "./data/blobs.db",
			Endpoint:   "http://localhost:9000",
			Bucket:     "nowtrending",
			Region:     "us-east-1",
		},
		Store: StoreConfig{
			CacheTTL:      60,
			RetentionDays: 30,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			BatchSize: 100,
			Timeout:   60,
			RateLimit: 2,
		},
		Ollama: OllamaConfig{
			Host:           "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			Timeout:        120,
		},
		Scraper: ScraperConfig{
			Geo:            "US",
			RSSURL:         "https://trends.google.com/trending/rss",
			SerpAPIURL:     "https://serpapi.com/search.json",
			BrowserlessURL: "https://chrome.browserless.io/function",
			Timeout:        60,
			RateLimit:      1,
		},
		Search: SearchConfig{
			DefaultLimit:   20,
			MinSimilarity:  0.25,
			TrendingWindow: 24,
			TrendingLimit:  50,
			Strategy:       "linear",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Loader reads configuration and keeps the viper instance for watching
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader for the given config file, or the default
// locations when configPath is empty
func NewLoader(configPath string) *Loader {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in default locations
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".nowtrending"))
		}
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Environment variable overrides
	v.SetEnvPrefix("NOWTRENDING")
	v.AutomaticEnv()

	v.BindEnv("server.host", "NOWTRENDING_SERVER_HOST")
	v.BindEnv("server.port", "NOWTRENDING_SERVER_PORT")
	v.BindEnv("server.auth_token", "NOWTRENDING_SERVER_AUTH_TOKEN", "CRON_SECRET")
	v.BindEnv("blob.type", "NOWTRENDING_BLOB_TYPE")
	v.BindEnv("blob.root", "NOWTRENDING_BLOB_ROOT")
	v.BindEnv("blob.sqlite_path", "NOWTRENDING_BLOB_SQLITE_PATH")
	v.BindEnv("blob.endpoint", "NOWTRENDING_BLOB_ENDPOINT")
	v.BindEnv("blob.bucket", "NOWTRENDING_BLOB_BUCKET")
	v.BindEnv("blob.access_key", "NOWTRENDING_BLOB_ACCESS_KEY", "MINIO_ACCESS_KEY")
	v.BindEnv("blob.secret_key", "NOWTRENDING_BLOB_SECRET_KEY", "MINIO_SECRET_KEY")
	v.BindEnv("embedding.provider", "NOWTRENDING_EMBEDDING_PROVIDER")
	v.BindEnv("embedding.api_key", "NOWTRENDING_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("embedding.model", "NOWTRENDING_EMBEDDING_MODEL")
	v.BindEnv("ollama.host", "NOWTRENDING_OLLAMA_HOST")
	v.BindEnv("ollama.embedding_model", "NOWTRENDING_OLLAMA_EMBEDDING_MODEL")
	v.BindEnv("scraper.serpapi_key", "NOWTRENDING_SCRAPER_SERPAPI_KEY", "SERPAPI_KEY")
	v.BindEnv("scraper.browserless_key", "NOWTRENDING_SCRAPER_BROWSERLESS_KEY", "BROWSERLESS_KEY")
	v.BindEnv("search.strategy", "NOWTRENDING_SEARCH_STRATEGY")
	v.BindEnv("log.level", "NOWTRENDING_LOG_LEVEL")

	return &Loader{v: v}
}

// Load reads the config file (if any) and environment on top of the defaults
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		// Config file not found, use defaults
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFileUsed returns the file Load read, or "" when running on defaults
// and environment only
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch re-reads the configuration whenever the config file changes and
// hands the result to onChange. Reload errors are passed through as well.
func (l *Loader) Watch(onChange func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.Load())
	})
	l.v.WatchConfig()
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
