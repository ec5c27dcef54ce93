package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"spin-rewards/internal/models"
)

const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

var defaultSectors = "5,10,10,15,20,25,50,100"

type Config struct {
	HTTPPort   string
	CORSOrigin string

	// BotToken is the hosting-platform application token the init-data
	// signature is derived from. Without it no signed action can be accepted.
	BotToken        string
	AuthMaxAge      time.Duration
	AuthAgeEnforced bool

	StoreBackend  string
	StoreURL      string
	StoreKey      string
	DatabaseURL   string
	StoreTimeout  time.Duration
	LedgerRetries int

	AdReward         decimal.Decimal
	CommissionRate   decimal.Decimal
	DailyAdMax       int
	DailySpinMax     int
	MinWithdraw      decimal.Decimal
	WithdrawDailyMax decimal.Decimal // zero disables the per-day cap
	CommissionAudit  bool
	WheelSectors     []decimal.Decimal
	SectorCacheTTL   time.Duration

	AdminPassword   string
	AdminTOTPSecret string
	AdminAllowedIPs []string
	JWTSecret       string
	JWTIssuer       string
}

func Load() (*Config, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		_ = godotenv.Load(path)
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		HTTPPort:   getEnv("HTTP_PORT", "8080"),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		BotToken:        os.Getenv("BOT_TOKEN"),
		AuthMaxAge:      getDuration("AUTH_MAX_AGE", 24*time.Hour),
		AuthAgeEnforced: getBool("AUTH_AGE_ENFORCED", true),

		StoreBackend:  getEnv("STORE_BACKEND", BackendREST),
		StoreURL:      os.Getenv("STORE_URL"),
		StoreKey:      os.Getenv("STORE_SERVICE_KEY"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StoreTimeout:  getDuration("STORE_TIMEOUT", 10*time.Second),
		LedgerRetries: getInt("LEDGER_RETRIES", 3),

		AdReward:         getDecimal("AD_REWARD", "10"),
		CommissionRate:   getDecimal("COMMISSION_RATE", "0.05"),
		DailyAdMax:       getInt("DAILY_AD_MAX", 30),
		DailySpinMax:     getInt("DAILY_SPIN_MAX", 10),
		MinWithdraw:      getDecimal("MIN_WITHDRAW", "400"),
		WithdrawDailyMax: getDecimal("WITHDRAW_DAILY_MAX", "0"),
		CommissionAudit:  getBool("COMMISSION_AUDIT", true),
		SectorCacheTTL:   getDuration("SECTOR_CACHE_TTL", 30*time.Second),

		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
		AdminTOTPSecret: os.Getenv("ADMIN_TOTP_SECRET"),
		AdminAllowedIPs: splitCSV(os.Getenv("ADMIN_ALLOWED_IPS")),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       getEnv("JWT_ISSUER", "spin-rewards"),
	}

	if cfg.BotToken == "" {
		return nil, errors.New("BOT_TOKEN is required")
	}

	switch cfg.StoreBackend {
	case BackendREST:
		if cfg.StoreURL == "" || cfg.StoreKey == "" {
			return nil, errors.New("STORE_URL and STORE_SERVICE_KEY are required for the rest backend")
		}
	case BackendPostgres, BackendSQLite:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for sql backends")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.CommissionRate.Sign() <= 0 || cfg.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.New("COMMISSION_RATE must be between 0 and 1")
	}
	if cfg.AdReward.Sign() <= 0 {
		return nil, errors.New("AD_REWARD must be positive")
	}
	if cfg.MinWithdraw.Sign() <= 0 {
		return nil, errors.New("MIN_WITHDRAW must be positive")
	}
	if cfg.DailyAdMax <= 0 || cfg.DailySpinMax <= 0 {
		return nil, errors.New("daily ceilings must be positive")
	}

	sectors, err := parseSectors(getEnv("WHEEL_SECTORS", defaultSectors))
	if err != nil {
		return nil, err
	}
	cfg.WheelSectors = sectors

	return cfg, nil
}

// AdminEnabled reports whether the admin route group can be mounted. All
// three secrets must be present; a partially configured admin surface stays
// off.
func (c *Config) AdminEnabled() bool {
	return c.AdminPassword != "" && c.AdminTOTPSecret != "" && c.JWTSecret != ""
}

func parseSectors(raw string) ([]decimal.Decimal, error) {
	sectors, err := models.ParseSectorList(raw)
	if err != nil {
		return nil, fmt.Errorf("WHEEL_SECTORS: %w", err)
	}
	return sectors, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return time.Duration(v) * time.Second
	}
	return def
}

func getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func getDecimal(key, def string) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		raw = def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.RequireFromString(def)
	}
	return v
}
