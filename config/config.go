package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string
	DBPath      string
	LogFile     string
	SourcesFile string

	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Render    RenderConfig
	LLM       LLMConfig
	S3        S3Config
	API       APIConfig

	Families map[string]Family
}

type SchedulerConfig struct {
	Cron         string
	PollInterval time.Duration
}

type ScraperConfig struct {
	Timeout       time.Duration
	RetentionDays int
	ZeroThreshold int
	ProxyURL      string
}

type RenderConfig struct {
	Backend  string
	Headless bool
}

type LLMConfig struct {
	APIKey   string
	Model    string
	MaxChars int
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

type APIConfig struct {
	Addr string
}

// Family bounds how a strategy family is scraped within a batch.
type Family struct {
	Concurrency int           `yaml:"concurrency"`
	Delay       time.Duration `yaml:"delay"`
}

// Browser-rendered families are expensive and share one local browser, so
// they run one at a time with a longer pause.
var defaultFamilies = map[string]Family{
	"rentcafe":   {Concurrency: 2, Delay: 200 * time.Millisecond},
	"sightmap":   {Concurrency: 2, Delay: 200 * time.Millisecond},
	"funnel":     {Concurrency: 2, Delay: 200 * time.Millisecond},
	"appfolio":   {Concurrency: 2, Delay: 200 * time.Millisecond},
	"bozzuto":    {Concurrency: 2, Delay: 200 * time.Millisecond},
	"ppm":        {Concurrency: 1, Delay: time.Second},
	"realpage":   {Concurrency: 1, Delay: time.Second},
	"groupfox":   {Concurrency: 1, Delay: time.Second},
	"securecafe": {Concurrency: 1, Delay: time.Second},
	"llm":        {Concurrency: 1, Delay: time.Second},
}

// DefaultFamily applies to families with no entry.
var DefaultFamily = Family{Concurrency: 1, Delay: time.Second}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "scraper.db"),
		LogFile:     getEnv("LOG_FILE", "scraper.log"),
		SourcesFile: getEnv("SOURCES_FILE", "config/sources.yaml"),
		Scheduler: SchedulerConfig{
			Cron:         getEnv("SCRAPE_CRON", "0 6 * * *"),
			PollInterval: getEnvDuration("COMMAND_POLL_INTERVAL", 2*time.Second),
		},
		Scraper: ScraperConfig{
			Timeout:       getEnvDuration("SCRAPE_TIMEOUT", 3*time.Minute),
			RetentionDays: getEnvInt("RUN_RETENTION_DAYS", 30),
			ZeroThreshold: getEnvInt("ZERO_THRESHOLD", 5),
			ProxyURL:      os.Getenv("PROXY_URL"),
		},
		Render: RenderConfig{
			Backend:  getEnv("RENDERER", "playwright"),
			Headless: getEnv("HEADLESS", "true") != "false",
		},
		LLM: LLMConfig{
			APIKey:   os.Getenv("ANTHROPIC_API_KEY"),
			Model:    os.Getenv("LLM_MODEL"),
			MaxChars: getEnvInt("LLM_MAX_CHARS", 40000),
		},
		S3: S3Config{
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Prefix:    os.Getenv("S3_PREFIX"),
		},
		API: APIConfig{
			Addr: getEnv("API_ADDR", ":8080"),
		},
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = getEnv("DATA_DB_PATH", "moxie.db")
	}

	families, err := LoadFamilies(getEnv("FAMILIES_FILE", "config/families.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Families = families

	return cfg, nil
}

// UsePostgres reports whether DatabaseURL names a Postgres server rather
// than a SQLite file.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// Family returns the limits for a strategy family.
func (c *Config) Family(id string) Family {
	if f, ok := c.Families[id]; ok {
		return f
	}
	return DefaultFamily
}

// LoadFamilies returns the built-in family limits overlaid with path. A
// missing file is not an error.
func LoadFamilies(path string) (map[string]Family, error) {
	families := make(map[string]Family, len(defaultFamilies))
	for id, f := range defaultFamilies {
		families[id] = f
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return families, nil
		}
		return nil, err
	}

	var file struct {
		Families map[string]Family `yaml:"families"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for id, f := range file.Families {
		base, ok := families[id]
		if !ok {
			base = DefaultFamily
		}
		if f.Concurrency > 0 {
			base.Concurrency = f.Concurrency
		}
		if f.Delay > 0 {
			base.Delay = f.Delay
		}
		families[id] = base
	}
	return families, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
