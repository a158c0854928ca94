package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Queues    QueueConfig
	Retry     RetryConfig
	Catalogue CatalogueConfig
	FileShare FileShareConfig
	S3        S3Config
	Builder   BuilderConfig
	Scheduler SchedulerConfig
	Standards StandardsConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	RateLimit RateLimitConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces repository and queue keys
	KeyPrefix string
}

type QueueConfig struct {
	Backend           string // redis | memory
	BatchSize         int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	JobRequestQueue   string
}

// BuildRequestQueue returns the queue name carrying build requests for a standard
func (q QueueConfig) BuildRequestQueue(standard string) string {
	return fmt.Sprintf("%s-build-requests", standard)
}

// BuildResponseQueue returns the queue name carrying builder responses for a standard
func (q QueueConfig) BuildResponseQueue(standard string) string {
	return fmt.Sprintf("%s-build-responses", standard)
}

type RetryConfig struct {
	BaseDelay  time.Duration
	MaxRetries int
}

type CatalogueConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type FileShareConfig struct {
	Backend       string // http | s3
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	BusinessUnit  string
	ExpiryPeriod  time.Duration
	ManifestName  string
	PublicBaseURL string
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	Prefix          string
}

type BuilderConfig struct {
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	S100    string // cron spec, empty disables
	S63     string
	S57     string
}

// Spec returns the cron spec configured for a standard
func (s SchedulerConfig) Spec(standard string) string {
	switch standard {
	case "s100":
		return s.S100
	case "s63":
		return s.S63
	case "s57":
		return s.S57
	}
	return ""
}

type StandardsConfig struct {
	S100WorkspaceKey          string
	S100ProductSpecifications []string
	S63NameTemplate           string
	S57NameTemplate           string
}

type JWTConfig struct {
	Secret string
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type RateLimitConfig struct {
	SubmitPerHour int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("CATALOGUE_API_KEY")
	readSecret("FILESHARE_API_KEY")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")
	readSecret("S100_WORKSPACE_KEY")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("redis.key_prefix", "REDIS_KEY_PREFIX")
	_ = v.BindEnv("queues.backend", "QUEUE_BACKEND")
	_ = v.BindEnv("queues.batch_size", "QUEUE_BATCH_SIZE")
	_ = v.BindEnv("queues.poll_interval", "QUEUE_POLL_INTERVAL")
	_ = v.BindEnv("queues.visibility_timeout", "QUEUE_VISIBILITY_TIMEOUT")
	_ = v.BindEnv("queues.job_request_queue", "QUEUE_JOB_REQUESTS")
	_ = v.BindEnv("retry.base_delay", "RETRY_BASE_DELAY")
	_ = v.BindEnv("retry.max_retries", "RETRY_MAX_RETRIES")
	_ = v.BindEnv("catalogue.base_url", "CATALOGUE_BASE_URL")
	_ = v.BindEnv("catalogue.api_key", "CATALOGUE_API_KEY")
	_ = v.BindEnv("catalogue.timeout", "CATALOGUE_TIMEOUT")
	_ = v.BindEnv("fileshare.backend", "FILESHARE_BACKEND")
	_ = v.BindEnv("fileshare.base_url", "FILESHARE_BASE_URL")
	_ = v.BindEnv("fileshare.api_key", "FILESHARE_API_KEY")
	_ = v.BindEnv("fileshare.timeout", "FILESHARE_TIMEOUT")
	_ = v.BindEnv("fileshare.business_unit", "FILESHARE_BUSINESS_UNIT")
	_ = v.BindEnv("fileshare.expiry_period", "FILESHARE_EXPIRY_PERIOD")
	_ = v.BindEnv("fileshare.manifest_name", "FILESHARE_MANIFEST_NAME")
	_ = v.BindEnv("fileshare.public_base_url", "FILESHARE_PUBLIC_BASE_URL")
	_ = v.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("s3.region", "S3_REGION")
	_ = v.BindEnv("s3.bucket", "S3_BUCKET")
	_ = v.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = v.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = v.BindEnv("s3.force_path_style", "S3_FORCE_PATH_STYLE")
	_ = v.BindEnv("s3.prefix", "S3_PREFIX")
	_ = v.BindEnv("builder.queue", "BUILDER_QUEUE")
	_ = v.BindEnv("builder.max_retry", "BUILDER_MAX_RETRY")
	_ = v.BindEnv("builder.retention", "BUILDER_RETENTION")
	_ = v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	_ = v.BindEnv("scheduler.s100", "SCHEDULER_S100")
	_ = v.BindEnv("scheduler.s63", "SCHEDULER_S63")
	_ = v.BindEnv("scheduler.s57", "SCHEDULER_S57")
	_ = v.BindEnv("standards.s100_workspace_key", "S100_WORKSPACE_KEY")
	_ = v.BindEnv("standards.s100_product_specifications", "S100_PRODUCT_SPECIFICATIONS")
	_ = v.BindEnv("standards.s63_name_template", "S63_NAME_TEMPLATE")
	_ = v.BindEnv("standards.s57_name_template", "S57_NAME_TEMPLATE")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = v.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = v.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Queues: QueueConfig{
			Backend:           v.GetString("queues.backend"),
			BatchSize:         v.GetInt("queues.batch_size"),
			PollInterval:      v.GetDuration("queues.poll_interval"),
			VisibilityTimeout: v.GetDuration("queues.visibility_timeout"),
			JobRequestQueue:   v.GetString("queues.job_request_queue"),
		},
		Retry: RetryConfig{
			BaseDelay:  v.GetDuration("retry.base_delay"),
			MaxRetries: v.GetInt("retry.max_retries"),
		},
		Catalogue: CatalogueConfig{
			BaseURL: v.GetString("catalogue.base_url"),
			APIKey:  v.GetString("catalogue.api_key"),
			Timeout: v.GetDuration("catalogue.timeout"),
		},
		FileShare: FileShareConfig{
			Backend:       v.GetString("fileshare.backend"),
			BaseURL:       v.GetString("fileshare.base_url"),
			APIKey:        v.GetString("fileshare.api_key"),
			Timeout:       v.GetDuration("fileshare.timeout"),
			BusinessUnit:  v.GetString("fileshare.business_unit"),
			ExpiryPeriod:  v.GetDuration("fileshare.expiry_period"),
			ManifestName:  v.GetString("fileshare.manifest_name"),
			PublicBaseURL: v.GetString("fileshare.public_base_url"),
		},
		S3: S3Config{
			Endpoint:        v.GetString("s3.endpoint"),
			Region:          v.GetString("s3.region"),
			Bucket:          v.GetString("s3.bucket"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			ForcePathStyle:  v.GetBool("s3.force_path_style"),
			Prefix:          v.GetString("s3.prefix"),
		},
		Builder: BuilderConfig{
			Queue:     v.GetString("builder.queue"),
			MaxRetry:  v.GetInt("builder.max_retry"),
			Retention: v.GetDuration("builder.retention"),
		},
		Scheduler: SchedulerConfig{
			Enabled: v.GetBool("scheduler.enabled"),
			S100:    v.GetString("scheduler.s100"),
			S63:     v.GetString("scheduler.s63"),
			S57:     v.GetString("scheduler.s57"),
		},
		Standards: StandardsConfig{
			S100WorkspaceKey:          v.GetString("standards.s100_workspace_key"),
			S100ProductSpecifications: splitList(v.GetStringSlice("standards.s100_product_specifications")),
			S63NameTemplate:           v.GetString("standards.s63_name_template"),
			S57NameTemplate:           v.GetString("standards.s57_name_template"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		OIDC: OIDCConfig{
			Issuer:   v.GetString("oidc.issuer"),
			ClientID: v.GetString("oidc.client_id"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: v.GetInt("ratelimit.submit_per_hour"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "es")

	v.SetDefault("queues.backend", "redis")
	v.SetDefault("queues.batch_size", 16)
	v.SetDefault("queues.poll_interval", 5*time.Second)
	v.SetDefault("queues.visibility_timeout", 5*time.Minute)
	v.SetDefault("queues.job_request_queue", "job-requests")

	v.SetDefault("retry.base_delay", 2*time.Second)
	v.SetDefault("retry.max_retries", 3)

	v.SetDefault("catalogue.base_url", "http://localhost:8081")
	v.SetDefault("catalogue.timeout", 60*time.Second)

	v.SetDefault("fileshare.backend", "http")
	v.SetDefault("fileshare.base_url", "http://localhost:8082")
	v.SetDefault("fileshare.timeout", 120*time.Second)
	v.SetDefault("fileshare.business_unit", "ADDS")
	v.SetDefault("fileshare.expiry_period", 24*time.Hour)
	v.SetDefault("fileshare.manifest_name", "products.json")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.prefix", "batches")

	v.SetDefault("builder.queue", "builds")
	v.SetDefault("builder.max_retry", 0)
	v.SetDefault("builder.retention", 24*time.Hour)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.s100", "@every 1h")
	v.SetDefault("scheduler.s63", "@every 1h")
	v.SetDefault("scheduler.s57", "@every 1h")

	v.SetDefault("standards.s100_product_specifications", []string{"101", "102", "104", "111"})
	v.SetDefault("standards.s63_name_template", "V01X01_{date}")
	v.SetDefault("standards.s57_name_template", "S57_{date}")

	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("ratelimit.submit_per_hour", 60)
	v.SetDefault("gateway.enabled", false)
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Queues.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported queue backend %q", c.Queues.Backend)
	}
	switch c.FileShare.Backend {
	case "http", "s3":
	default:
		return fmt.Errorf("unsupported file share backend %q", c.FileShare.Backend)
	}
	if c.FileShare.Backend == "s3" && c.S3.Bucket == "" {
		return fmt.Errorf("s3 bucket is required when fileshare.backend is s3")
	}
	if c.Queues.BatchSize <= 0 {
		return fmt.Errorf("queues.batch_size must be positive")
	}
	if c.Queues.PollInterval <= 0 {
		return fmt.Errorf("queues.poll_interval must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
