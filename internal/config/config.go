package config

import (
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chat-escrow/backend/internal/ledger"
	"github.com/chat-escrow/backend/internal/models"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Notification delivery modes.
const (
	NotifyDirect = "direct"
	NotifyRedis  = "redis"
)

type Config struct {
	// Storage
	PostgresDSN string // empty disables the audit log
	RedisURL    string

	// Bot
	BotToken       string
	BotInternalURL string
	InternalToken  string // shared secret the bot sends on /internal calls
	NotifyMode     string

	// Branding
	Brand     string // used in renamed group titles
	BotBioTag string // bio marker that unlocks the discounted fee

	// Ledger indexers
	BscScanAPIKey   string
	BscScanURL      string
	TronGridAPIKey  string
	TronGridURL     string
	LedgerTimeout   time.Duration
	BscScanRPS      float64
	TronGridRPS     float64
	EscrowAddresses map[models.Pair]string

	// Escrow timings
	DepositCooldown time.Duration
	TradeStartGrace time.Duration

	// Monitor
	MonitorInterval     time.Duration
	MonitorConcurrency  int
	MonitorFailureAlert int

	// Fees
	FeeStandardBPS int
	FeeDiscountBPS int

	// Admin
	AdminTelegramIDs []int64

	// Bio lookup
	TMEFetchTimeoutMS int

	// Auth
	WebAppSecret   string
	JWTSecret      string
	JWTExpiration  time.Duration
	InitDataMaxAge time.Duration

	// Server
	APIPort string
}

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		BotToken:       getEnv("BOT_TOKEN", ""),
		BotInternalURL: getEnv("BOT_INTERNAL_URL", "http://localhost:8081"),
		InternalToken:  getEnv("INTERNAL_TOKEN", ""),
		NotifyMode:     strings.ToLower(getEnv("NOTIFY_MODE", NotifyDirect)),

		Brand:     getEnv("BRAND", "PAGAL Bot"),
		BotBioTag: getEnv("BOT_BIO_TAG", "@PagaLEscrowBot"),

		BscScanAPIKey:  getEnv("BSCSCAN_API_KEY", ""),
		BscScanURL:     getEnv("BSCSCAN_URL", ledger.DefaultBscScanURL),
		TronGridAPIKey: getEnv("TRONGRID_API_KEY", ""),
		TronGridURL:    getEnv("TRONGRID_URL", ledger.DefaultTronGridURL),
		LedgerTimeout:  time.Duration(getEnvInt("LEDGER_TIMEOUT_MS", 10000)) * time.Millisecond,
		BscScanRPS:     float64(getEnvInt("BSCSCAN_RPS", 5)),
		TronGridRPS:    float64(getEnvInt("TRONGRID_RPS", 10)),
		EscrowAddresses: map[models.Pair]string{
			{Asset: models.AssetUSDT, Network: models.NetworkBSC}:  getEnv("ESCROW_ADDRESS_USDT_BSC", models.DefaultDepositAddresses[models.Pair{Asset: models.AssetUSDT, Network: models.NetworkBSC}]),
			{Asset: models.AssetUSDT, Network: models.NetworkTRON}: getEnv("ESCROW_ADDRESS_USDT_TRON", models.DefaultDepositAddresses[models.Pair{Asset: models.AssetUSDT, Network: models.NetworkTRON}]),
		},

		DepositCooldown: time.Duration(getEnvInt("DEPOSIT_COOLDOWN_MINUTES", 20)) * time.Minute,
		TradeStartGrace: time.Duration(getEnvInt("TRADE_GRACE_SECONDS", 60)) * time.Second,

		MonitorInterval:     time.Duration(getEnvInt("MONITOR_INTERVAL_SECONDS", 30)) * time.Second,
		MonitorConcurrency:  getEnvInt("MONITOR_CONCURRENCY", 4),
		MonitorFailureAlert: getEnvInt("MONITOR_FAILURE_ALERT", 10),

		FeeStandardBPS: getEnvInt("FEE_STANDARD_BPS", 100),
		FeeDiscountBPS: getEnvInt("FEE_DISCOUNT_BPS", 50),

		AdminTelegramIDs: parseIDList(getEnv("ADMIN_TELEGRAM_IDS", "")),

		TMEFetchTimeoutMS: getEnvInt("TME_FETCH_TIMEOUT_MS", 5000),

		WebAppSecret:   getEnv("WEBAPP_SECRET", ""),
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		JWTExpiration:  time.Duration(getEnvInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,
		InitDataMaxAge: time.Duration(getEnvInt("INIT_DATA_MAX_AGE_SECONDS", 300)) * time.Second,

		APIPort: getEnv("API_PORT", "3000"),
	}

	if cfg.WebAppSecret == "" && cfg.BotToken != "" {
		cfg.WebAppSecret = cfg.BotToken
	}

	return cfg
}

func (c *Config) IsAdmin(telegramID int64) bool {
	return slices.Contains(c.AdminTelegramIDs, telegramID)
}

// EscrowAddress resolves the escrow-owned address of a pair.
func (c *Config) EscrowAddress(p models.Pair) (string, bool) {
	addr, ok := c.EscrowAddresses[p]
	return addr, ok && addr != ""
}

// Validate warns about missing optional keys and drops escrow address
// overrides that do not parse on their network.
func (c *Config) Validate(log *zap.Logger) {
	if c.BotToken == "" {
		log.Warn("BOT_TOKEN is not set")
	}
	if c.InternalToken == "" {
		log.Warn("INTERNAL_TOKEN is not set, internal API is unauthenticated")
	}
	if c.JWTSecret == "change-me-in-production" {
		log.Warn("JWT_SECRET is default, change in production")
	}
	if c.BscScanAPIKey == "" {
		log.Warn("BSCSCAN_API_KEY is not set, BSC deposits will not be detected")
	}
	if c.TronGridAPIKey == "" {
		log.Warn("TRONGRID_API_KEY is not set, TRON deposits will not be detected")
	}
	if c.NotifyMode != NotifyDirect && c.NotifyMode != NotifyRedis {
		log.Warn("unknown NOTIFY_MODE, using direct", zap.String("notify_mode", c.NotifyMode))
		c.NotifyMode = NotifyDirect
	}
	if c.MonitorConcurrency <= 0 {
		c.MonitorConcurrency = 1
	}
	if c.MonitorInterval <= 0 {
		log.Warn("MONITOR_INTERVAL_SECONDS must be positive, using 30")
		c.MonitorInterval = 30 * time.Second
	}

	for pair, addr := range c.EscrowAddresses {
		if err := ledger.ValidateAddress(pair.Network, addr); err != nil {
			log.Error("escrow address override rejected, using default",
				zap.String("pair", pair.String()),
				zap.String("address", addr),
				zap.Error(err),
			)
			c.EscrowAddresses[pair] = models.DefaultDepositAddresses[pair]
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseIDList(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
