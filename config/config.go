package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres  PostgresConfig
	Redis     RedisConfig
	S3        S3Config
	Queue     QueueConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Dedup     DedupConfig
	API       APIConfig
	DBPath    string
	LogLevel  string
	Sites     map[string]*SiteConfig
}

type PostgresConfig struct {
	DBURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type QueueConfig struct {
	Concurrency     int
	MaxAttempts     int
	BackoffBase     time.Duration
	FailedRetention time.Duration
}

type CacheConfig struct {
	TTL time.Duration
}

type SchedulerConfig struct {
	RecheckCron      string
	RecheckInterval  time.Duration
	RecheckBatchSize int
}

type ScraperConfig struct {
	InterSiteDelay time.Duration
	RequestTimeout time.Duration
	ProxyURL       string
}

// DedupConfig exposes the hand-tuned similarity constants so they can be
// overridden without a rebuild.
type DedupConfig struct {
	Threshold        float64
	NameWeight       float64
	BrandWeight      float64
	PartNumberWeight float64
	PriceWeight      float64
}

type APIConfig struct {
	Addr string
}

type SiteConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Handler        string            `yaml:"handler"` // browser, html, api
	BaseURL        string            `yaml:"base_url"`
	Endpoints      map[string]string `yaml:"endpoints"`
	Cron           string            `yaml:"cron"`
	RateLimit      RateLimitConfig   `yaml:"rate_limit"`
	Facets         []Facet           `yaml:"facets"`
	MaxSearchLimit int               `yaml:"max_search_limit"`
}

// RateLimitConfig is a token bucket definition: Tokens requests allowed
// per Interval.
type RateLimitConfig struct {
	Tokens   int           `yaml:"tokens"`
	Interval time.Duration `yaml:"interval"`
}

// Facet is one make x year-range slice of a catalog crawl.
type Facet struct {
	Make      string `yaml:"make"`
	YearStart int    `yaml:"year_start"`
	YearEnd   int    `yaml:"year_end"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			DBURL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Queue: QueueConfig{
			Concurrency:     getEnvInt("QUEUE_CONCURRENCY", 5),
			MaxAttempts:     getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase:     getEnvDuration("QUEUE_BACKOFF_BASE", 2*time.Second),
			FailedRetention: getEnvDuration("QUEUE_FAILED_RETENTION", 72*time.Hour),
		},
		Cache: CacheConfig{
			TTL: getEnvDuration("CACHE_TTL", time.Hour),
		},
		Scheduler: SchedulerConfig{
			RecheckCron:      getEnv("RECHECK_CRON", "0 */6 * * *"),
			RecheckInterval:  getEnvDuration("RECHECK_INTERVAL", 6*time.Hour),
			RecheckBatchSize: getEnvInt("RECHECK_BATCH_SIZE", 100),
		},
		Scraper: ScraperConfig{
			InterSiteDelay: getEnvDuration("INTER_SITE_DELAY", 5*time.Second),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			ProxyURL:       os.Getenv("PROXY_URL"),
		},
		Dedup: DedupConfig{
			Threshold:        getEnvFloat("DEDUP_THRESHOLD", 0.9),
			NameWeight:       getEnvFloat("DEDUP_NAME_WEIGHT", 0.3),
			BrandWeight:      getEnvFloat("DEDUP_BRAND_WEIGHT", 0.2),
			PartNumberWeight: getEnvFloat("DEDUP_PART_NUMBER_WEIGHT", 0.3),
			PriceWeight:      getEnvFloat("DEDUP_PRICE_WEIGHT", 0.2),
		},
		API: APIConfig{
			Addr: getEnv("API_ADDR", ":8090"),
		},
		DBPath:   getEnv("DB_PATH", "partscout.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Sites:    make(map[string]*SiteConfig),
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSiteConfigs() error {
	configDir := "config/sites"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return err
		}
		if site.RateLimit.Tokens == 0 {
			site.RateLimit = RateLimitConfig{Tokens: 10, Interval: time.Minute}
		}

		c.Sites[site.ID] = &site
	}

	return nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
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
