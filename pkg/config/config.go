package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Log      LogConfig
	Sync     SyncConfig
	SendGrid SendGridConfig
	Revert   RevertConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Enabled reports whether a Redis host was configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type LogConfig struct {
	Level  string
	Format string
}

// SyncConfig is the admin-facing option surface consumed at the start of every run.
type SyncConfig struct {
	GenerateCalendarEvents bool

	EnrolNotice bool
	EnrolText   string

	RMFinishNotice bool
	RMFinishText   string

	StudentFinishNotice bool
	StudentFinishText   string

	Inactivity6Notice bool
	Inactivity6Text   string

	Inactivity18Notice bool
	Inactivity18Text   string

	Inactivity24Notice      bool
	Inactivity24RMText      string
	Inactivity24StudentText string

	GradeOverride  bool
	Convalidations bool

	Timezone            string
	Interval            time.Duration
	StrictDedup         bool
	LegacyDelete        bool
	DispatchMaxAttempts int
	SentRetention       time.Duration
	AdminUserID         int64
	ReviewRole          string
}

// SendGridConfig enables e-mail copies of dispatched notices.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// Enabled reports whether e-mail delivery is configured.
func (s SendGridConfig) Enabled() bool {
	return s.APIKey != ""
}

// RevertConfig governs the confirmation flow of the revert utility.
type RevertConfig struct {
	ConfirmationTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 8*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Sync = SyncConfig{
		GenerateCalendarEvents:  v.GetBool("SYNC_GENERATE_CALENDAR_EVENTS"),
		EnrolNotice:             v.GetBool("SYNC_ENROL_NOTICE"),
		EnrolText:               v.GetString("SYNC_ENROL_TEXT"),
		RMFinishNotice:          v.GetBool("SYNC_RM_FINISH_NOTICE"),
		RMFinishText:            v.GetString("SYNC_RM_FINISH_TEXT"),
		StudentFinishNotice:     v.GetBool("SYNC_ST_FINISH_NOTICE"),
		StudentFinishText:       v.GetString("SYNC_ST_FINISH_TEXT"),
		Inactivity6Notice:       v.GetBool("SYNC_INACTIVITY6_NOTICE"),
		Inactivity6Text:         v.GetString("SYNC_INACTIVITY6_TEXT"),
		Inactivity18Notice:      v.GetBool("SYNC_INACTIVITY18_NOTICE"),
		Inactivity18Text:        v.GetString("SYNC_INACTIVITY18_TEXT"),
		Inactivity24Notice:      v.GetBool("SYNC_INACTIVITY24_NOTICE"),
		Inactivity24RMText:      v.GetString("SYNC_INACTIVITY24_RM_TEXT"),
		Inactivity24StudentText: v.GetString("SYNC_INACTIVITY24_STUDENT_TEXT"),
		GradeOverride:           v.GetBool("SYNC_GRADE_OVERRIDE"),
		Convalidations:          v.GetBool("SYNC_CONVALIDATIONS"),
		Timezone:                v.GetString("SYNC_TIMEZONE"),
		Interval:                parseDuration(v.GetString("SYNC_INTERVAL"), time.Hour),
		StrictDedup:             v.GetBool("SYNC_STRICT_DEDUP"),
		LegacyDelete:            v.GetBool("SYNC_LEGACY_DELETE"),
		DispatchMaxAttempts:     v.GetInt("SYNC_DISPATCH_MAX_ATTEMPTS"),
		SentRetention:           parseDuration(v.GetString("SYNC_SENT_RETENTION"), 30*24*time.Hour),
		AdminUserID:             v.GetInt64("SYNC_ADMIN_USER_ID"),
		ReviewRole:              v.GetString("SYNC_REVIEW_ROLE"),
	}

	cfg.SendGrid = SendGridConfig{
		APIKey:    v.GetString("SENDGRID_API_KEY"),
		FromEmail: v.GetString("SENDGRID_FROM_EMAIL"),
		FromName:  v.GetString("SENDGRID_FROM_NAME"),
	}

	cfg.Revert = RevertConfig{
		ConfirmationTTL: parseDuration(v.GetString("REVERT_CONFIRMATION_TTL"), 10*time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "moodle")
	v.SetDefault("DB_PASSWORD", "moodle")
	v.SetDefault("DB_NAME", "moodle")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 4)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)

	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "8h")
	v.SetDefault("JWT_ISSUER", "sma-program-sync")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SYNC_GENERATE_CALENDAR_EVENTS", false)
	v.SetDefault("SYNC_ENROL_NOTICE", false)
	v.SetDefault("SYNC_ENROL_TEXT", "")
	v.SetDefault("SYNC_RM_FINISH_NOTICE", false)
	v.SetDefault("SYNC_RM_FINISH_TEXT", "")
	v.SetDefault("SYNC_ST_FINISH_NOTICE", false)
	v.SetDefault("SYNC_ST_FINISH_TEXT", "")
	v.SetDefault("SYNC_INACTIVITY6_NOTICE", false)
	v.SetDefault("SYNC_INACTIVITY6_TEXT", "")
	v.SetDefault("SYNC_INACTIVITY18_NOTICE", false)
	v.SetDefault("SYNC_INACTIVITY18_TEXT", "")
	v.SetDefault("SYNC_INACTIVITY24_NOTICE", false)
	v.SetDefault("SYNC_INACTIVITY24_RM_TEXT", "")
	v.SetDefault("SYNC_INACTIVITY24_STUDENT_TEXT", "")
	v.SetDefault("SYNC_GRADE_OVERRIDE", false)
	v.SetDefault("SYNC_CONVALIDATIONS", false)
	v.SetDefault("SYNC_TIMEZONE", "UTC")
	v.SetDefault("SYNC_INTERVAL", "1h")
	v.SetDefault("SYNC_STRICT_DEDUP", true)
	v.SetDefault("SYNC_LEGACY_DELETE", false)
	v.SetDefault("SYNC_DISPATCH_MAX_ATTEMPTS", 3)
	v.SetDefault("SYNC_SENT_RETENTION", "720h")
	v.SetDefault("SYNC_ADMIN_USER_ID", 2)
	v.SetDefault("SYNC_REVIEW_ROLE", "gradereviewer")

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("SENDGRID_FROM_EMAIL", "noreply@example.com")
	v.SetDefault("SENDGRID_FROM_NAME", "Campus")

	v.SetDefault("REVERT_CONFIRMATION_TTL", "10m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// viper reports a missing explicit config file as a plain fs error.
func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}
