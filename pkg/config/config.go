package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Game      GameConfig
	Collector CollectorConfig
	Verifier  VerifierConfig
	Scheduler SchedulerConfig
	Sources   []SourceConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type StorageConfig struct {
	Engine       string // "sqlite" or "local"
	SQLitePath   string
	LocalPath    string
	WriteRetries int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type GameConfig struct {
	AnchorDate   string
	AnchorNumber int
}

type CollectorConfig struct {
	TimeoutSec int
	UserAgent  string
}

type VerifierConfig struct {
	VerifiedThreshold  float64
	CandidateThreshold float64
	MinSources         int
	AgreementBonus     float64
}

type SchedulerConfig struct {
	TickSec            int
	DailyCutoffMinute  int
	MaxRetries         int
	RetryDelaySec      int
	BackfillDelaySec   int
	AdminRatePerMinute int
}

// SourceConfig describes one verification source, including which
// extraction strategy applies to its response body.
type SourceConfig struct {
	Name        string
	URLTemplate string
	Weight      float64
	IsActive    bool
	Extractor   string // "json", "regex" or "html"
	Field       string // json: field name
	Pattern     string // regex: pattern with one capture group
	Selector    string // html: css selector
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/puzzlerank")

	viper.SetEnvPrefix("PUZZLERANK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("storage.engine", "sqlite")
	viper.SetDefault("storage.sqlitePath", "./data/predictions.db")
	viper.SetDefault("storage.localPath", "./data/predictions.json")
	viper.SetDefault("storage.writeRetries", 3)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 60)

	// Game #0 was published on 2021-06-19.
	viper.SetDefault("game.anchorDate", "2021-06-19")
	viper.SetDefault("game.anchorNumber", 0)

	viper.SetDefault("collector.timeoutSec", 10)
	viper.SetDefault("collector.userAgent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	viper.SetDefault("verifier.verifiedThreshold", 0.7)
	viper.SetDefault("verifier.candidateThreshold", 0.3)
	viper.SetDefault("verifier.minSources", 2)
	viper.SetDefault("verifier.agreementBonus", 0.2)

	viper.SetDefault("scheduler.tickSec", 60)
	viper.SetDefault("scheduler.dailyCutoffMinute", 1)
	viper.SetDefault("scheduler.maxRetries", 3)
	viper.SetDefault("scheduler.retryDelaySec", 30)
	viper.SetDefault("scheduler.backfillDelaySec", 2)
	viper.SetDefault("scheduler.adminRatePerMinute", 30)

	viper.SetDefault("sources", defaultSources())

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

func defaultSources() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":        "nyt",
			"urlTemplate": "https://www.nytimes.com/svc/wordle/v2/{date}.json",
			"weight":      0.35,
			"isActive":    true,
			"extractor":   "json",
			"field":       "solution",
		},
		{
			"name":        "tomsguide",
			"urlTemplate": "https://www.tomsguide.com/news/wordle-today",
			"weight":      0.3,
			"isActive":    true,
			"extractor":   "regex",
			"pattern":     `answer (?:to|for) today.{0,40}?\b([A-Za-z]{5})\b`,
		},
		{
			"name":        "techradar",
			"urlTemplate": "https://www.techradar.com/news/wordle-today",
			"weight":      0.25,
			"isActive":    true,
			"extractor":   "regex",
			"pattern":     `today's Wordle answer.{0,40}?\b([A-Z]{5})\b`,
		},
		{
			"name":        "wordfinder",
			"urlTemplate": "https://wordfinder.yourdictionary.com/wordle/answers/",
			"weight":      0.2,
			"isActive":    true,
			"extractor":   "html",
			"selector":    "table tbody tr:first-child td:last-child",
		},
	}
}
