package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pipeline-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Board      BoardConfig      `yaml:"board" mapstructure:"board"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`

	// Postgres pool sizing; zero values fall back to the store defaults.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// BoardConfig configures the kanban board UI.
type BoardConfig struct {
	SortKey          string `yaml:"sort_key" mapstructure:"sort_key"`
	RefreshSecs      int    `yaml:"refresh_secs" mapstructure:"refresh_secs"`
	StaleAfterDays   int    `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	CelebrateOnWon   bool   `yaml:"celebrate_on_won" mapstructure:"celebrate_on_won"`
	CurrencySymbol   string `yaml:"currency_symbol" mapstructure:"currency_symbol"`
	CompactThreshold int    `yaml:"compact_threshold" mapstructure:"compact_threshold"`
}

// SalesforceConfig holds Salesforce JWT auth and push settings.
type SalesforceConfig struct {
	ClientID       string  `yaml:"client_id" mapstructure:"client_id"`
	Username       string  `yaml:"username" mapstructure:"username"`
	KeyPath        string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL       string  `yaml:"login_url" mapstructure:"login_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// ImportConfig configures CSV import batching.
type ImportConfig struct {
	BatchSize     int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("board.sort_key", "manual")
	v.SetDefault("board.refresh_secs", 30)
	v.SetDefault("board.stale_after_days", 14)
	v.SetDefault("board.celebrate_on_won", true)
	v.SetDefault("board.currency_symbol", "$")
	v.SetDefault("board.compact_threshold", 8)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.requests_per_sec", 5.0)
	v.SetDefault("import.batch_size", 500)
	v.SetDefault("import.max_concurrent", 4)
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

// Validate checks that the configuration is usable for the given mode.
// Modes correspond to command entry points: "board", "serve", "import",
// "export", and "push". All collected problems are reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "board", "serve", "import", "export", "push":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "board":
		if _, err := model.ParseSortKey(c.Board.SortKey); err != nil {
			problems = append(problems, "board.sort_key must be one of value, date, alpha, manual")
		}
		if c.Board.RefreshSecs < 0 {
			problems = append(problems, "board.refresh_secs must be >= 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "import":
		if c.Import.BatchSize < 1 {
			problems = append(problems, "import.batch_size must be >= 1")
		}
		if c.Import.MaxConcurrent < 1 || c.Import.MaxConcurrent > 32 {
			problems = append(problems, "import.max_concurrent must be between 1 and 32")
		}
	case "push":
		if c.Salesforce.ClientID == "" {
			problems = append(problems, "salesforce.client_id is required")
		}
		if c.Salesforce.Username == "" {
			problems = append(problems, "salesforce.username is required")
		}
		if c.Salesforce.KeyPath == "" {
			problems = append(problems, "salesforce.key_path is required")
		}
		if c.Salesforce.RequestsPerSec <= 0 {
			problems = append(problems, "salesforce.requests_per_sec must be > 0")
		}
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
