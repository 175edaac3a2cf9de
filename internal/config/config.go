package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"credit_pool/internal/models"
	"credit_pool/internal/pricing"
	"credit_pool/internal/providers"
)

// Config holds configuration for the credit pool service.
type Config struct {
	HTTPPort    string
	JWTSecret   []byte
	Log         LogConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Redis       RedisConfig
	Provider    ProviderConfig
	Pricing     pricing.Config
	Catalog     []pricing.CatalogEntry
	Routing     RoutingConfig
	Release     models.ReleaseTerms
	EarnOut     EarnOutConfig
	Encryption  EncryptionConfig
	LoggingSink LoggingSinkConfig
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Pretty bool
}

// DatabaseConfig holds database connection settings.
// An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
	AutoMigrate     bool
}

// CacheConfig holds cache settings
type CacheConfig struct {
	PricingCacheSize int
	PricingCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProviderConfig holds provider-related settings
type ProviderConfig struct {
	RequestTimeout time.Duration // Timeout for credential checks
	Settings       map[models.ProviderKind]providers.Settings
}

// RoutingConfig holds the router's scoring weights and candidate window.
type RoutingConfig struct {
	CostWeight         float64 `yaml:"cost"`
	ReliabilityWeight  float64 `yaml:"reliability"`
	AvailabilityWeight float64 `yaml:"availability"`
	LoadWeight         float64 `yaml:"load"`
	TopN               int     `yaml:"top_n"`
}

// EarnOutConfig controls asynchronous contributor payouts.
type EarnOutConfig struct {
	Enabled      bool
	QueueName    string
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// ReconcileAfter is how old an unpaid release must be before the sweep
	// publishes it again.
	ReconcileAfter time.Duration
}

// EncryptionConfig holds the secret used to seal pooled credentials.
type EncryptionConfig struct {
	Secret string
}

// LoggingSinkConfig holds configuration for the usage archive. S3 wins when
// a bucket is set; otherwise records go to rotated local files.
type LoggingSinkConfig struct {
	Enabled       bool          // Whether to archive usage records
	BufferSize    int           // In-memory queue size
	FlushSize     int           // Flush after this many records
	FlushInterval time.Duration // Flush after this duration
	S3Bucket      string        // S3 bucket name
	S3Region      string        // AWS region
	S3Prefix      string        // Prefix for S3 keys (e.g., "usage/")
	S3Endpoint    string        // Custom endpoint for S3-compatible stores
	PodName       string        // Pod identifier for multi-pod deployments
	FileTemplate  string        // Local file template with one %s, e.g. "/var/log/creditpool/usage-%s.jsonl"
	MaxFileSize   int64         // Rotate local files past this size
	MaxFiles      int           // Keep at most this many local files
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads an optional .env file, then the environment, then the optional
// YAML file named by POOL_CONFIG_FILE.
func Load() (*Config, error) {
	envFile := getEnvString("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "8080"),
		JWTSecret: []byte(getEnvString("JWT_SECRET", "")),
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			QueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 10*time.Second),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Cache: CacheConfig{
			PricingCacheSize: getEnvInt("CACHE_PRICING_SIZE", 500),
			PricingCacheTTL:  getEnvDuration("CACHE_PRICING_TTL", 15*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:      getEnvBool("REDIS_ENABLED", false),
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Provider: ProviderConfig{
			RequestTimeout: getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Pricing: pricing.DefaultConfig(),
		Catalog: pricing.DefaultCatalog(),
		Routing: RoutingConfig{
			CostWeight:         getEnvFloat("ROUTING_WEIGHT_COST", 0.40),
			ReliabilityWeight:  getEnvFloat("ROUTING_WEIGHT_RELIABILITY", 0.30),
			AvailabilityWeight: getEnvFloat("ROUTING_WEIGHT_AVAILABILITY", 0.20),
			LoadWeight:         getEnvFloat("ROUTING_WEIGHT_LOAD", 0.10),
			TopN:               getEnvInt("ROUTING_TOP_N", 3),
		},
		Release: models.ReleaseTerms{
			InitialRate: getEnvFloat("DEPOSIT_INITIAL_RATE", 0.10),
			FeeRate:     getEnvFloat("DEPOSIT_FEE_RATE", 0.10),
		},
		EarnOut: EarnOutConfig{
			Enabled:      getEnvBool("EARNOUT_ENABLED", true),
			QueueName:    getEnvString("EARNOUT_QUEUE_NAME", "earnout"),
			BatchSize:    getEnvInt("EARNOUT_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("EARNOUT_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("EARNOUT_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("EARNOUT_RETRY_BACKOFF", time.Second),

			ReconcileAfter: getEnvDuration("EARNOUT_RECONCILE_AFTER", 5*time.Minute),
		},
		Encryption: EncryptionConfig{
			Secret: getEnvString("ENCRYPTION_SECRET", ""),
		},
		LoggingSink: LoggingSinkConfig{
			Enabled:       getEnvBool("LOGGING_SINK_ENABLED", false),
			BufferSize:    getEnvInt("LOGGING_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("LOGGING_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("LOGGING_SINK_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("LOGGING_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("LOGGING_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("LOGGING_SINK_S3_PREFIX", "usage/"),
			S3Endpoint:    getEnvString("LOGGING_SINK_S3_ENDPOINT", ""),
			PodName:       getEnvString("POD_NAME", "creditpool-0"),
			FileTemplate:  getEnvString("LOGGING_SINK_FILE", ""),
			MaxFileSize:   int64(getEnvInt("LOGGING_SINK_MAX_FILE_SIZE", 100<<20)),
			MaxFiles:      getEnvInt("LOGGING_SINK_MAX_FILES", 10),
		},
	}

	if path := os.Getenv("POOL_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig is the shape of the optional YAML pool configuration file.
type fileConfig struct {
	Pricing   *pricing.Config                            `yaml:"pricing"`
	Catalog   []pricing.CatalogEntry                     `yaml:"catalog"`
	Routing   *RoutingConfig                             `yaml:"routing"`
	Release   *models.ReleaseTerms                       `yaml:"release"`
	Providers map[models.ProviderKind]providers.Settings `yaml:"providers"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pool config %s: %w", path, err)
	}
	return c.applyYAML(data)
}

func (c *Config) applyYAML(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse pool config: %w", err)
	}

	if fc.Pricing != nil {
		c.Pricing = fc.Pricing.Merge(c.Pricing)
	}
	if len(fc.Catalog) > 0 {
		c.Catalog = fc.Catalog
	}
	if fc.Routing != nil {
		r := *fc.Routing
		if r.TopN == 0 {
			r.TopN = c.Routing.TopN
		}
		c.Routing = r
	}
	if fc.Release != nil {
		c.Release = *fc.Release
	}
	if len(fc.Providers) > 0 {
		c.Provider.Settings = fc.Providers
	}
	return nil
}

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if err := c.Pricing.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	r := c.Routing
	if r.CostWeight < 0 || r.ReliabilityWeight < 0 || r.AvailabilityWeight < 0 || r.LoadWeight < 0 {
		problems = append(problems, "routing weights must not be negative")
	}
	if r.CostWeight+r.ReliabilityWeight+r.AvailabilityWeight+r.LoadWeight <= 0 {
		problems = append(problems, "routing weights must not all be zero")
	}
	if r.TopN < 1 {
		problems = append(problems, "routing top_n must be at least 1")
	}
	if c.Release.InitialRate <= 0 || c.Release.InitialRate > 1 {
		problems = append(problems, "release initial_rate must be in (0, 1]")
	}
	if c.Release.FeeRate < 0 || c.Release.FeeRate >= 1 {
		problems = append(problems, "release fee_rate must be in [0, 1)")
	}
	for kind := range c.Provider.Settings {
		if !kind.IsValid() {
			problems = append(problems, fmt.Sprintf("unsupported provider %q in settings", kind))
		}
	}
	if ls := c.LoggingSink; ls.Enabled {
		switch {
		case ls.S3Bucket == "" && ls.FileTemplate == "":
			problems = append(problems, "LOGGING_SINK_S3_BUCKET or LOGGING_SINK_FILE is required when the sink is enabled")
		case ls.S3Bucket == "" && strings.Count(ls.FileTemplate, "%s") != 1:
			problems = append(problems, "LOGGING_SINK_FILE must contain exactly one %s")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
