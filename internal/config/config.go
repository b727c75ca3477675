package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/router-for-me/ratelimitd/internal/ratelimit"
	"github.com/router-for-me/ratelimitd/internal/settings"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath        = "CONFIG_PATH"
	EnvDBConnection      = "DB_CONNECTION"
	EnvJWTSecret         = "JWT_SECRET"
	EnvJWTExpiry         = "JWT_EXPIRY"
	EnvRedisAddr         = "REDIS_ADDR"
	EnvRedisPassword     = "REDIS_PASSWORD"
	EnvRedisDB           = "REDIS_DB"
	EnvAdminPasswordHash = "ADMIN_PASSWORD_HASH"
	EnvAdminTOTPSecret   = "ADMIN_TOTP_SECRET"
	EnvLogLevel          = "LOG_LEVEL"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads a .env file when present and resolves the config path from the environment.
func LoadFromEnv() (AppConfig, error) {
	if errDotenv := godotenv.Load(); errDotenv != nil && !errors.Is(errDotenv, os.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", errDotenv)
	}
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`

	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For is honored. Empty trusts none.
	TrustedProxies []string `yaml:"trusted-proxies"`
}

// DatabaseConfig holds the state database settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds the durable counter store settings.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"`
	Breaker  time.Duration `yaml:"breaker"`
}

// LoggingConfig holds logrus settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AdminConfig holds administrator credentials.
type AdminConfig struct {
	Username           string `yaml:"username"`
	PasswordHash       string `yaml:"password-hash"`
	TOTPSecret         string `yaml:"totp-secret"`
	LoginRatePerMinute int    `yaml:"login-rate-per-minute"`
	// RateLimit admits authenticated admin calls through the limiter, keyed by username.
	RateLimit          bool   `yaml:"rate-limit"`
}

// LimitsConfig holds limiter tables and maintenance settings.
type LimitsConfig struct {
	Services        map[ratelimit.ServiceName]ratelimit.Config `yaml:"services"`
	IPTiers         map[ratelimit.IPTier]ratelimit.Config      `yaml:"ip_tiers"`
	Anomaly         ratelimit.AnomalyThresholds                `yaml:"anomaly"`
	CleanupInterval time.Duration                              `yaml:"cleanup_interval"`
	Retention       time.Duration                              `yaml:"retention"`
}

// File is the full YAML configuration.
type File struct {
	DatabaseDSN string         `yaml:"database-dsn"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Logging     LoggingConfig  `yaml:"logging"`
	JWT         JWTConfig      `yaml:"jwt"`
	Admin       AdminConfig    `yaml:"admin"`
	Limits      LimitsConfig   `yaml:"limits"`
}

// Load reads the YAML config file, applies environment overrides and defaults, and validates it.
func Load(configPath string) (*File, error) {
	cfg := &File{}
	data, errRead := os.ReadFile(configPath)
	if errRead != nil && !errors.Is(errRead, os.ErrNotExist) {
		return nil, fmt.Errorf("read config file: %w", errRead)
	}
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// LoadLimits reads only the limits section of the config file.
func LoadLimits(configPath string) (LimitsConfig, error) {
	cfg, errLoad := Load(configPath)
	if errLoad != nil {
		return LimitsConfig{}, errLoad
	}
	return cfg.Limits, nil
}

// DSN returns the configured database DSN.
func (f *File) DSN() (string, error) {
	if dsn := strings.TrimSpace(f.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(f.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// Validate checks every limit table and listener setting.
func (f *File) Validate() error {
	if f.Server.Port <= 0 || f.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", f.Server.Port)
	}
	for _, proxy := range f.Server.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("config: invalid trusted proxy %q", proxy)
		}
	}
	if f.Redis.Enabled && strings.TrimSpace(f.Redis.Addr) == "" {
		return errors.New("config: redis enabled without addr")
	}
	for name, limits := range f.Limits.Services {
		if errValidate := limits.Validate(); errValidate != nil {
			return fmt.Errorf("config: limits.services.%s: %w", name, errValidate)
		}
	}
	for tier, limits := range f.Limits.IPTiers {
		if !tier.Valid() {
			return fmt.Errorf("config: limits.ip_tiers.%s: %w", tier, ratelimit.ErrUnknownTier)
		}
		if errValidate := limits.Validate(); errValidate != nil {
			return fmt.Errorf("config: limits.ip_tiers.%s: %w", tier, errValidate)
		}
	}
	return nil
}

func validProxy(proxy string) bool {
	proxy = strings.TrimSpace(proxy)
	if _, errAddr := netip.ParseAddr(proxy); errAddr == nil {
		return true
	}
	_, errPrefix := netip.ParsePrefix(proxy)
	return errPrefix == nil
}

func (f *File) applyEnv() {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		f.DatabaseDSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		f.Redis.Addr = addr
		f.Redis.Enabled = true
	}
	if password := os.Getenv(EnvRedisPassword); password != "" {
		f.Redis.Password = password
	}
	if dbRaw := strings.TrimSpace(os.Getenv(EnvRedisDB)); dbRaw != "" {
		if db, errParse := strconv.Atoi(dbRaw); errParse == nil && db >= 0 {
			f.Redis.DB = db
		}
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		f.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			f.JWT.Expiry = expiry
		}
	}
	if hash := strings.TrimSpace(os.Getenv(EnvAdminPasswordHash)); hash != "" {
		f.Admin.PasswordHash = hash
	}
	if secret := strings.TrimSpace(os.Getenv(EnvAdminTOTPSecret)); secret != "" {
		f.Admin.TOTPSecret = secret
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		f.Logging.Level = level
	}
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 12 * time.Hour

func (f *File) applyDefaults() {
	if f.Server.Port == 0 {
		f.Server.Port = settings.DefaultPort
	}
	if strings.TrimSpace(f.Redis.Prefix) == "" {
		f.Redis.Prefix = settings.DefaultRedisPrefix
	}
	if f.Redis.Timeout <= 0 {
		f.Redis.Timeout = settings.DefaultRedisTimeout
	}
	if f.Redis.Breaker <= 0 {
		f.Redis.Breaker = settings.DefaultBreakerDuration
	}
	if f.Redis.DB < 0 {
		f.Redis.DB = 0
	}
	if strings.TrimSpace(f.Logging.Level) == "" {
		f.Logging.Level = settings.DefaultLogLevel
	}
	if f.JWT.Expiry <= 0 {
		f.JWT.Expiry = defaultJWTExpiry
	}
	if strings.TrimSpace(f.Admin.Username) == "" {
		f.Admin.Username = settings.DefaultAdminUsername
	}
	if f.Admin.LoginRatePerMinute <= 0 {
		f.Admin.LoginRatePerMinute = settings.DefaultLoginRatePerMinute
	}
	if f.Limits.CleanupInterval <= 0 {
		f.Limits.CleanupInterval = settings.DefaultCleanupInterval
	}
	if f.Limits.Retention <= 0 {
		f.Limits.Retention = settings.DefaultRetention
	}
}
