package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

// CrisisPolicy decides what happens to a user turn that tripped the safety check.
type CrisisPolicy string

const (
	CrisisDiscard CrisisPolicy = "discard" // nothing is persisted
	CrisisRecord  CrisisPolicy = "record"  // the user turn is kept, flagged, with no reply
)

// DistortionPolicy decides whether the distortion annotation is persisted.
type DistortionPolicy string

const (
	DistortionAnnotate  DistortionPolicy = "annotate"
	DistortionTransient DistortionPolicy = "transient"
)

type Config struct {
	Mode Mode

	Port string

	GCPProjectID string
	GCPLocation  string
	ModelName    string
	GeminiAPIKey string
	UseMockLLM   bool // true = use mock even on GCP

	LLMTimeout        time.Duration
	CrisisRetries     int
	ReplyRetries      int
	DistortionRetries int
	RetryBaseDelay    time.Duration

	StorageBackend string // "memory", "firestore", "redis" or "sql"
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SQLDriver      string // "sqlite" or "mysql"
	SQLDSN         string

	HistoryWindow    int
	CrisisPolicy     CrisisPolicy
	DistortionPolicy DistortionPolicy

	AMQPURL  string
	TTSQueue string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "local")
	v.SetDefault("port", "8080")
	v.SetDefault("gcp_location", "us-central1")
	v.SetDefault("model_name", "gemini-2.5-flash-lite")
	v.SetDefault("llm_timeout", "20s")
	v.SetDefault("crisis_retries", 1)
	v.SetDefault("reply_retries", 1)
	v.SetDefault("distortion_retries", 0)
	v.SetDefault("retry_base_delay", "300ms")
	v.SetDefault("storage_backend", "memory")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("sql_driver", "sqlite")
	v.SetDefault("sql_dsn", "file:aris.db?cache=shared")
	v.SetDefault("history_window", 20)
	v.SetDefault("crisis_policy", string(CrisisDiscard))
	v.SetDefault("distortion_policy", string(DistortionAnnotate))
	v.SetDefault("tts_queue", "aris.tts")
}

// Load reads ARIS_* env vars (and an optional config file) and builds the config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARIS")
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("aris")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	mode := ModeLocal
	if v.GetString("mode") == "gcp" {
		mode = ModeGCP
	}

	cfg := &Config{
		Mode: mode,

		Port: v.GetString("port"),

		GCPProjectID: v.GetString("gcp_project"),
		GCPLocation:  v.GetString("gcp_location"),
		ModelName:    v.GetString("model_name"),
		GeminiAPIKey: v.GetString("gemini_api_key"),

		LLMTimeout:        v.GetDuration("llm_timeout"),
		CrisisRetries:     v.GetInt("crisis_retries"),
		ReplyRetries:      v.GetInt("reply_retries"),
		DistortionRetries: v.GetInt("distortion_retries"),
		RetryBaseDelay:    v.GetDuration("retry_base_delay"),

		StorageBackend: v.GetString("storage_backend"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		SQLDriver:      v.GetString("sql_driver"),
		SQLDSN:         v.GetString("sql_dsn"),

		HistoryWindow:    v.GetInt("history_window"),
		CrisisPolicy:     CrisisPolicy(v.GetString("crisis_policy")),
		DistortionPolicy: DistortionPolicy(v.GetString("distortion_policy")),

		AMQPURL:  v.GetString("amqp_url"),
		TTSQueue: v.GetString("tts_queue"),
	}

	if v.IsSet("use_mock_llm") {
		cfg.UseMockLLM = v.GetBool("use_mock_llm")
	} else {
		cfg.UseMockLLM = mode == ModeLocal
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// Minimal validation in GCP mode
	if c.Mode == ModeGCP && c.GCPProjectID == "" {
		return fmt.Errorf("ARIS_GCP_PROJECT must be set in gcp mode")
	}
	if c.StorageBackend == "firestore" && c.GCPProjectID == "" {
		return fmt.Errorf("ARIS_GCP_PROJECT is required for the firestore backend")
	}
	switch c.StorageBackend {
	case "memory", "firestore", "redis", "sql":
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	switch c.SQLDriver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unknown sql driver %q", c.SQLDriver)
	}
	switch c.CrisisPolicy {
	case CrisisDiscard, CrisisRecord:
	default:
		return fmt.Errorf("unknown crisis policy %q", c.CrisisPolicy)
	}
	switch c.DistortionPolicy {
	case DistortionAnnotate, DistortionTransient:
	default:
		return fmt.Errorf("unknown distortion policy %q", c.DistortionPolicy)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("ARIS_LLM_TIMEOUT must be positive")
	}
	if c.CrisisRetries < 0 || c.ReplyRetries < 0 || c.DistortionRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("ARIS_HISTORY_WINDOW must not be negative")
	}
	return nil
}
