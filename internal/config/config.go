package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Scheduler  SchedulerConfig
	Automation AutomationConfig
	Session    SessionConfig
	Upload     UploadConfig
	Log        LogConfig
}

type ServerConfig struct {
	Address         string
	JWTSecret       string
	TokenTTL        time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Timezone    string
	Location    *time.Location
	MissedGrace time.Duration
}

type AutomationConfig struct {
	URL           string
	Timeout       time.Duration
	RatePerMinute int
	MessageMax    int
}

type SessionConfig struct {
	BaseDir         string
	PairingDir      string
	PairingAttempts int
	PairingInterval time.Duration
}

type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

type LogConfig struct {
	Level string
	JSON  bool
}

// LoadAll reads the whole configuration from the environment and reports every
// problem at once.
func LoadAll() (*Config, error) {
	var errs []error
	str := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:         getEnv("SERVER_ADDRESS", ":8080"),
			JWTSecret:       str("JWT_SECRET"),
			TokenTTL:        time.Duration(num("TOKEN_TTL_MINUTES", 720)) * time.Minute,
			ShutdownTimeout: time.Duration(num("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Database: DatabaseConfig{
			PostgresURL: str("POSTGRES_URL"),
		},
		Automation: AutomationConfig{
			URL:           str("AUTOMATION_URL"),
			Timeout:       time.Duration(num("AUTOMATION_TIMEOUT_SECONDS", 60)) * time.Second,
			RatePerMinute: num("AUTOMATION_RATE_PER_MINUTE", 0),
			MessageMax:    num("MESSAGE_MAX", 4096),
		},
		Scheduler: SchedulerConfig{
			Timezone:    getEnv("SCHED_TIMEZONE", "Local"),
			MissedGrace: time.Duration(num("SCHED_MISSED_GRACE_SECONDS", 300)) * time.Second,
		},
		Session: SessionConfig{
			BaseDir:         getEnv("SESSION_DIR", "sessions"),
			PairingDir:      getEnv("PAIRING_DIR", "static"),
			PairingAttempts: num("PAIRING_ATTEMPTS", 30),
			PairingInterval: time.Duration(num("PAIRING_INTERVAL_SECONDS", 3)) * time.Second,
		},
		Upload: UploadConfig{
			Dir:      getEnv("UPLOAD_DIR", "uploads"),
			MaxBytes: int64(num("UPLOAD_MAX_BYTES", 16<<20)),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			JSON:  getEnv("LOG_FORMAT", "json") == "json",
		},
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Redis = redisCfg

	if len(errs) == 0 {
		errs = append(errs, validate(cfg)...)
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}
	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		errs = append(errs, errors.Wrapf(err, "invalid SCHED_TIMEZONE %q", cfg.Scheduler.Timezone))
	}
	cfg.Scheduler.Location = loc

	if cfg.Scheduler.MissedGrace < 0 {
		errs = append(errs, errors.New("SCHED_MISSED_GRACE_SECONDS must be >= 0"))
	}
	if cfg.Automation.Timeout <= 0 {
		errs = append(errs, errors.New("AUTOMATION_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Automation.RatePerMinute < 0 {
		errs = append(errs, errors.New("AUTOMATION_RATE_PER_MINUTE must be >= 0"))
	}
	if cfg.Automation.MessageMax <= 0 {
		errs = append(errs, errors.New("MESSAGE_MAX must be > 0"))
	}
	if cfg.Session.PairingAttempts <= 0 {
		errs = append(errs, errors.New("PAIRING_ATTEMPTS must be > 0"))
	}
	if cfg.Session.PairingInterval <= 0 {
		errs = append(errs, errors.New("PAIRING_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_BYTES must be > 0"))
	}
	if cfg.Server.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL_MINUTES must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return "", errors.Newf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, errors.Newf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
