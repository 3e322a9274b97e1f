// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, locking, the scheduler cadence, reminder leads, and the
// credentials of the chat transport and the booking system.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/appointment-notifier/internal/domain"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SchedulerConfig controls reminder planning and the background tick.
type SchedulerConfig struct {
	Interval        time.Duration  // SCHEDULER_INTERVAL
	Leads           []domain.Lead  // REMINDER_LEADS, largest lead first
	Grace           time.Duration  // REMINDER_GRACE
	CleanupHorizon  time.Duration  // CLEANUP_HORIZON
	DispatchTimeout time.Duration  // DISPATCH_TIMEOUT
	Location        *time.Location // TIMEZONE
	TemplatesPath   string         // TEMPLATES_PATH, optional YAML overrides
}

// LockConfig selects the per-appointment lock backend.
type LockConfig struct {
	Backend       string // memory|redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// TelegramConfig holds the chat transport credentials. An empty Token
// switches delivery to the log transport.
type TelegramConfig struct {
	Token       string
	APIBase     string
	AdminChatID string
}

// BookingConfig holds YCLIENTS credentials used for detail lookups.
type BookingConfig struct {
	APIBase      string
	PartnerToken string
	UserToken    string
	Login        string
	Password     string
	CompanyID    string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // webhook/admin request bodies
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS          CORSConfig
	Security      SecurityConfig
	WebhookSecret string

	Scheduler SchedulerConfig
	Lock      LockConfig
	Telegram  TelegramConfig
	Booking   BookingConfig

	// Observability
	OTEL OTELConfig
}

// DefaultLeads is the REMINDER_LEADS default.
const DefaultLeads = "lead_3d=72h,lead_1d=24h,lead_2h=2h"

// DefaultCompanyID is the studio the original deployment served.
const DefaultCompanyID = "530777"

// LockTTLFactor is the minimum ratio of LOCK_TTL to DISPATCH_TIMEOUT. One
// webhook event can hold its lock across an auth call, a record fetch and its
// retry, two send attempts and an escalation, each bounded by the dispatch
// timeout.
const LockTTLFactor = 6

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	dispatchTimeout := getdur("DISPATCH_TIMEOUT", 15*time.Second)
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "notifier.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		WebhookSecret: getenv("WEBHOOK_SECRET", ""),

		Scheduler: SchedulerConfig{
			Interval:        getdur("SCHEDULER_INTERVAL", 45*time.Second),
			Grace:           getdur("REMINDER_GRACE", 60*time.Second),
			CleanupHorizon:  getdur("CLEANUP_HORIZON", 24*time.Hour),
			DispatchTimeout: dispatchTimeout,
			TemplatesPath:   getenv("TEMPLATES_PATH", ""),
		},
		Lock: LockConfig{
			Backend:       strings.ToLower(getenv("LOCK_BACKEND", "memory")),
			RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			TTL:           getdur("LOCK_TTL", LockTTLFactor*dispatchTimeout),
		},
		Telegram: TelegramConfig{
			Token:       getenv("TELEGRAM_TOKEN", ""),
			APIBase:     getenv("TELEGRAM_API_BASE", ""),
			AdminChatID: getenv("ADMIN_CHAT_ID", ""),
		},
		Booking: BookingConfig{
			APIBase:      getenv("YCLIENTS_API_BASE", ""),
			PartnerToken: getenv("YCLIENTS_PARTNER_TOKEN", ""),
			UserToken:    getenv("YCLIENTS_USER_TOKEN", ""),
			Login:        getenv("YCLIENTS_LOGIN", ""),
			Password:     getenv("YCLIENTS_PASSWORD", ""),
			CompanyID:    getenv("YCLIENTS_COMPANY_ID", DefaultCompanyID),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "appointment-notifier"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}

	leads, err := ParseLeads(getenv("REMINDER_LEADS", DefaultLeads))
	if err != nil {
		return cfg, err
	}
	cfg.Scheduler.Leads = leads
	if cfg.Scheduler.Interval <= 0 {
		return cfg, errors.New("SCHEDULER_INTERVAL must be > 0")
	}
	if cfg.Scheduler.Grace < 0 {
		return cfg, errors.New("REMINDER_GRACE must be >= 0")
	}
	if cfg.Scheduler.CleanupHorizon <= 0 {
		return cfg, errors.New("CLEANUP_HORIZON must be > 0")
	}
	if cfg.Scheduler.DispatchTimeout <= 0 {
		return cfg, errors.New("DISPATCH_TIMEOUT must be > 0")
	}
	loc, err := time.LoadLocation(getenv("TIMEZONE", "Europe/Moscow"))
	if err != nil {
		return cfg, fmt.Errorf("TIMEZONE: %w", err)
	}
	cfg.Scheduler.Location = loc

	switch cfg.Lock.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Lock.RedisAddr) == "" {
			return cfg, errors.New("REDIS_ADDR must be set when LOCK_BACKEND=redis")
		}
	default:
		return cfg, errors.New("LOCK_BACKEND must be one of: memory, redis")
	}
	if cfg.Lock.TTL <= 0 {
		return cfg, errors.New("LOCK_TTL must be > 0")
	}
	if cfg.Lock.Backend == "redis" && cfg.Lock.TTL < LockTTLFactor*cfg.Scheduler.DispatchTimeout {
		return cfg, fmt.Errorf("LOCK_TTL (%s) must be >= %d x DISPATCH_TIMEOUT (%s) when LOCK_BACKEND=redis",
			cfg.Lock.TTL, LockTTLFactor, cfg.Scheduler.DispatchTimeout)
	}

	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ParseLeads parses "kind=duration" pairs separated by commas, e.g.
// "lead_3d=72h,lead_1d=24h,lead_2h=2h". The result is ordered from the
// largest lead to the smallest.
func ParseLeads(s string) ([]domain.Lead, error) {
	parts := splitCSV(s)
	if len(parts) == 0 {
		return nil, errors.New("REMINDER_LEADS must not be empty")
	}
	seen := make(map[string]struct{}, len(parts))
	out := make([]domain.Lead, 0, len(parts))
	for _, p := range parts {
		kind, dur, ok := strings.Cut(p, "=")
		kind = strings.TrimSpace(kind)
		if !ok || kind == "" {
			return nil, fmt.Errorf("REMINDER_LEADS: bad entry %q", p)
		}
		d, err := time.ParseDuration(strings.TrimSpace(dur))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("REMINDER_LEADS: bad duration in %q", p)
		}
		if _, dup := seen[kind]; dup {
			return nil, fmt.Errorf("REMINDER_LEADS: duplicate kind %q", kind)
		}
		seen[kind] = struct{}{}
		out = append(out, domain.Lead{Kind: domain.ReminderKind(kind), Duration: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Duration > out[j].Duration })
	return out, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
