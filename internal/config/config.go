package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Source  SourceConfig  `yaml:"source" mapstructure:"source"`
	Scrape  ScrapeConfig  `yaml:"scrape" mapstructure:"scrape"`
	Extract ExtractConfig `yaml:"extract" mapstructure:"extract"`
	Process ProcessConfig `yaml:"process" mapstructure:"process"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// StorageConfig configures the object-storage backend for raw source files.
type StorageConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	LocalDir    string `yaml:"local_dir" mapstructure:"local_dir"`
	SupabaseURL string `yaml:"supabase_url" mapstructure:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key" mapstructure:"supabase_key"`
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
}

// SourceConfig points at the publication site.
type SourceConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	CurrentPage    string `yaml:"current_page" mapstructure:"current_page"`
	HistoricalPage string `yaml:"historical_page" mapstructure:"historical_page"`
}

// ScrapeConfig configures download behavior.
type ScrapeConfig struct {
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	IncludeBulletins bool    `yaml:"include_bulletins" mapstructure:"include_bulletins"`
}

// ExtractConfig configures file parsing.
type ExtractConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	TempDir       string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// ProcessConfig configures the processing worker pool.
type ProcessConfig struct {
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	InsertBatchSize int `yaml:"insert_batch_size" mapstructure:"insert_batch_size"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the configuration is usable for the given command
// mode. All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "scrape", "process", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Storage.Driver == "supabase" && (c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "") {
		problems = append(problems, "storage.supabase_url and storage.supabase_key are required for the supabase driver")
	}
	if c.Process.Concurrency < 1 || c.Process.Concurrency > 50 {
		problems = append(problems, "process.concurrency must be between 1 and 50")
	}
	if c.Process.InsertBatchSize < 1 {
		problems = append(problems, "process.insert_batch_size must be > 0")
	}
	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
	v.SetEnvPrefix("SIPSA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("storage.driver", "supabase")
	v.SetDefault("storage.local_dir", "data/storage")
	v.SetDefault("storage.bucket", "sipsa-files")
	v.SetDefault("source.base_url", "https://www.dane.gov.co")
	v.SetDefault("source.current_page", "/index.php/estadisticas-por-tema/agropecuario/sistema-de-informacion-de-precios-sipsa/mayoristas-boletin-diario")
	v.SetDefault("source.historical_page", "/index.php/estadisticas-por-tema/agropecuario/sistema-de-informacion-de-precios-sipsa/componente-precios-mayoristas")
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; sipsa-pipeline/1.0)")
	v.SetDefault("scrape.timeout_secs", 30)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.requests_per_sec", 1.0)
	v.SetDefault("scrape.include_bulletins", false)
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("extract.temp_dir", "/tmp/sipsa")
	v.SetDefault("process.concurrency", 4)
	v.SetDefault("process.insert_batch_size", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
