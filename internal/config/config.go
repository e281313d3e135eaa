package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Reasoning ReasoningConfig
	Groq      GroqConfig
	Gemini    GeminiConfig
	Image     MediaServiceConfig
	Video     MediaServiceConfig
	Pipeline  PipelineConfig
	R2        R2Config
	NATS      NATSConfig
	Database  DatabaseConfig
	Reaper    ReaperConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	ApiDomain string
}

type LogConfig struct {
	Level      string
	Format     string // json, text
	Output     string // stdout, file, both
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	DecksPerHour     int
	RevisionsPerHour int
}

type ReasoningConfig struct {
	Provider string // groq or gemini
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type MediaServiceConfig struct {
	BaseURL string
	APIKey  string
}

// PipelineConfig holds the orchestration knobs.
type PipelineConfig struct {
	BatchSize           int
	MinUnits            int
	MaxUnits            int
	DefaultUnits        int
	ManualMinUnits      int
	ManualMaxUnits      int
	MaxStructureUnits   int
	StructureMaxTokens  int
	AdvisorMaxTokens    int
	AdvisorContextChars int
	AspectRatio         string
	ImageTimeout        time.Duration
	VideoTimeout        time.Duration
	VideoMaxRetries     int
	VideoBackoffBase    time.Duration
	VideoMotion         string
	VideoDuration       float64
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type DatabaseConfig struct {
	DSN string
}

type ReaperConfig struct {
	Enabled    bool
	Interval   time.Duration
	StaleAfter time.Duration
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("GEMINI_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("VIDEO_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("DATABASE_DSN")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
	_ = v.BindEnv("log.output", "LOG_OUTPUT")
	_ = v.BindEnv("log.file_path", "LOG_FILE_PATH")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("ratelimit.decks_per_hour", "RATELIMIT_DECKS_PER_HOUR")
	_ = v.BindEnv("ratelimit.revisions_per_hour", "RATELIMIT_REVISIONS_PER_HOUR")
	_ = v.BindEnv("reasoning.provider", "REASONING_PROVIDER")
	_ = v.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = v.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = v.BindEnv("groq.model", "GROQ_MODEL")
	_ = v.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("gemini.model", "GEMINI_MODEL")
	_ = v.BindEnv("image.base_url", "IMAGE_SERVICE_URL")
	_ = v.BindEnv("image.api_key", "IMAGE_API_KEY")
	_ = v.BindEnv("video.base_url", "VIDEO_SERVICE_URL")
	_ = v.BindEnv("video.api_key", "VIDEO_API_KEY")
	_ = v.BindEnv("pipeline.batch_size", "PIPELINE_BATCH_SIZE")
	_ = v.BindEnv("pipeline.video_max_retries", "PIPELINE_VIDEO_MAX_RETRIES")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("nats.url", "NATS_URL")
	_ = v.BindEnv("nats.subject_prefix", "NATS_SUBJECT_PREFIX")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("reaper.enabled", "REAPER_ENABLED")
	_ = v.BindEnv("reaper.interval", "REAPER_INTERVAL")
	_ = v.BindEnv("reaper.stale_after", "REAPER_STALE_AFTER")

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			FilePath:   v.GetString("log.file_path"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			DecksPerHour:     v.GetInt("ratelimit.decks_per_hour"),
			RevisionsPerHour: v.GetInt("ratelimit.revisions_per_hour"),
		},
		Reasoning: ReasoningConfig{
			Provider: strings.ToLower(v.GetString("reasoning.provider")),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		Gemini: GeminiConfig{
			APIKey: v.GetString("gemini.api_key"),
			Model:  v.GetString("gemini.model"),
		},
		Image: MediaServiceConfig{
			BaseURL: v.GetString("image.base_url"),
			APIKey:  v.GetString("image.api_key"),
		},
		Video: MediaServiceConfig{
			BaseURL: v.GetString("video.base_url"),
			APIKey:  v.GetString("video.api_key"),
		},
		Pipeline: PipelineConfig{
			BatchSize:           v.GetInt("pipeline.batch_size"),
			MinUnits:            v.GetInt("pipeline.min_units"),
			MaxUnits:            v.GetInt("pipeline.max_units"),
			DefaultUnits:        v.GetInt("pipeline.default_units"),
			ManualMinUnits:      v.GetInt("pipeline.manual_min_units"),
			ManualMaxUnits:      v.GetInt("pipeline.manual_max_units"),
			MaxStructureUnits:   v.GetInt("pipeline.max_structure_units"),
			StructureMaxTokens:  v.GetInt("pipeline.structure_max_tokens"),
			AdvisorMaxTokens:    v.GetInt("pipeline.advisor_max_tokens"),
			AdvisorContextChars: v.GetInt("pipeline.advisor_context_chars"),
			AspectRatio:         v.GetString("pipeline.aspect_ratio"),
			ImageTimeout:        v.GetDuration("pipeline.image_timeout"),
			VideoTimeout:        v.GetDuration("pipeline.video_timeout"),
			VideoMaxRetries:     v.GetInt("pipeline.video_max_retries"),
			VideoBackoffBase:    v.GetDuration("pipeline.video_backoff_base"),
			VideoMotion:         v.GetString("pipeline.video_motion"),
			VideoDuration:       v.GetFloat64("pipeline.video_duration"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		NATS: NATSConfig{
			URL:           v.GetString("nats.url"),
			SubjectPrefix: v.GetString("nats.subject_prefix"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		Reaper: ReaperConfig{
			Enabled:    v.GetBool("reaper.enabled"),
			Interval:   v.GetDuration("reaper.interval"),
			StaleAfter: v.GetDuration("reaper.stale_after"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/deckforge.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("gateway.enabled", false)

	v.SetDefault("ratelimit.decks_per_hour", 10)
	v.SetDefault("ratelimit.revisions_per_hour", 30)

	v.SetDefault("reasoning.provider", "groq")
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("gemini.model", "gemini-1.5-flash")

	// Pipeline defaults
	v.SetDefault("pipeline.batch_size", 3)
	v.SetDefault("pipeline.min_units", 8)
	v.SetDefault("pipeline.max_units", 15)
	v.SetDefault("pipeline.default_units", 12)
	v.SetDefault("pipeline.manual_min_units", 1)
	v.SetDefault("pipeline.manual_max_units", 30)
	v.SetDefault("pipeline.max_structure_units", 40)
	v.SetDefault("pipeline.structure_max_tokens", 8192)
	v.SetDefault("pipeline.advisor_max_tokens", 256)
	v.SetDefault("pipeline.advisor_context_chars", 4000)
	v.SetDefault("pipeline.aspect_ratio", "16:9")
	v.SetDefault("pipeline.image_timeout", 30*time.Second)
	v.SetDefault("pipeline.video_timeout", 90*time.Second)
	v.SetDefault("pipeline.video_max_retries", 2)
	v.SetDefault("pipeline.video_backoff_base", time.Second)
	v.SetDefault("pipeline.video_motion", "slow-zoom")
	v.SetDefault("pipeline.video_duration", 5.0)

	v.SetDefault("nats.subject_prefix", "deckforge.jobs")

	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval", 5*time.Minute)
	v.SetDefault("reaper.stale_after", 2*time.Hour)
}
