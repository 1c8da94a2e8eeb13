package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StartTimeLayout is the layout accepted by LBMS_START_TIME.
const StartTimeLayout = "2006/01/02 15:04:05"

// Config holds everything needed to build and serve a library.
type Config struct {
	DBPath        string
	SnapshotStore string // "sqlite" or "redis"
	RedisAddr     string
	SnapshotTTL   time.Duration // redis only; zero keeps snapshots forever
	HTTPAddr      string
	CORSOrigins   []string
	LogLevel      slog.Level

	StartTime time.Time
	OpenHour  int
	CloseHour int

	MaxLoans      int
	FineThreshold int
	FinePerDay    int
	LoanPeriod    time.Duration
	HistoryLimit  int

	AdminUser     string
	AdminPassword string
	PasswordCost  int // bcrypt cost; zero uses the bcrypt default
}

// Default returns the configuration used when nothing is set in the environment.
func Default() Config {
	return Config{
		DBPath:        "lbms.db",
		SnapshotStore: "sqlite",
		RedisAddr:     "localhost:6379",
		HTTPAddr:      ":8080",
		LogLevel:      slog.LevelInfo,
		StartTime:     time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC),
		OpenHour:      8,
		CloseHour:     19,
		MaxLoans:      5,
		FineThreshold: 0,
		FinePerDay:    2,
		LoanPeriod:    7 * 24 * time.Hour,
		HistoryLimit:  20,
		AdminUser:     "admin",
		AdminPassword: "admin",
	}
}

// LoadEnv reads an optional .env file and then the LBMS_* environment variables.
// A missing .env file is not an error.
func LoadEnv(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, starting from Default.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not a number", key, v))
			return
		}
		*dst = n
	}

	str("LBMS_DB_PATH", &cfg.DBPath)
	str("LBMS_SNAPSHOT_STORE", &cfg.SnapshotStore)
	str("LBMS_REDIS_ADDR", &cfg.RedisAddr)
	str("LBMS_HTTP_ADDR", &cfg.HTTPAddr)
	str("LBMS_ADMIN_USER", &cfg.AdminUser)
	str("LBMS_ADMIN_PASSWORD", &cfg.AdminPassword)
	num("LBMS_OPEN_HOUR", &cfg.OpenHour)
	num("LBMS_CLOSE_HOUR", &cfg.CloseHour)
	num("LBMS_MAX_LOANS", &cfg.MaxLoans)
	num("LBMS_FINE_THRESHOLD", &cfg.FineThreshold)
	num("LBMS_FINE_PER_DAY", &cfg.FinePerDay)
	num("LBMS_HISTORY_LIMIT", &cfg.HistoryLimit)
	num("LBMS_PASSWORD_COST", &cfg.PasswordCost)

	var loanDays int
	num("LBMS_LOAN_DAYS", &loanDays)
	if loanDays > 0 {
		cfg.LoanPeriod = time.Duration(loanDays) * 24 * time.Hour
	}

	if v := strings.TrimSpace(getenv("LBMS_START_TIME")); v != "" {
		t, err := time.ParseInLocation(StartTimeLayout, v, time.UTC)
		if err != nil {
			errs = append(errs, fmt.Sprintf("LBMS_START_TIME=%q must look like %q", v, StartTimeLayout))
		} else {
			cfg.StartTime = t
		}
	}

	if v := strings.TrimSpace(getenv("LBMS_CORS_ORIGINS")); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if v := strings.TrimSpace(getenv("LBMS_SNAPSHOT_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Sprintf("LBMS_SNAPSHOT_TTL=%q is not a duration", v))
		} else {
			cfg.SnapshotTTL = d
		}
	}

	if v := strings.TrimSpace(getenv("LBMS_LOG_LEVEL")); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Sprintf("LBMS_LOG_LEVEL=%q is not a level", v))
		}
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, cfg.Validate()
}

// Validate checks the cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.OpenHour < 0 || c.OpenHour > 23, c.CloseHour < 0 || c.CloseHour > 23:
		return fmt.Errorf("opening hours must be within 0-23")
	case c.OpenHour >= c.CloseHour:
		return fmt.Errorf("open hour %d must be before close hour %d", c.OpenHour, c.CloseHour)
	case c.StartTime.Hour() < c.OpenHour || c.StartTime.Hour() >= c.CloseHour:
		return fmt.Errorf("start time %s must fall within opening hours %d-%d", c.StartTime.Format(StartTimeLayout), c.OpenHour, c.CloseHour)
	case c.MaxLoans < 1:
		return fmt.Errorf("max loans must be at least 1")
	case c.FineThreshold < 0 || c.FinePerDay < 0:
		return fmt.Errorf("fine settings must not be negative")
	case c.LoanPeriod <= 0:
		return fmt.Errorf("loan period must be positive")
	case c.HistoryLimit < 1:
		return fmt.Errorf("history limit must be at least 1")
	case c.PasswordCost != 0 && (c.PasswordCost < 4 || c.PasswordCost > 31):
		return fmt.Errorf("password cost %d must be within 4-31", c.PasswordCost)
	case c.SnapshotStore != "sqlite" && c.SnapshotStore != "redis":
		return fmt.Errorf("unknown snapshot store %q", c.SnapshotStore)
	}
	for _, o := range c.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("cors origin %q must start with http:// or https://", o)
		}
	}
	return nil
}
