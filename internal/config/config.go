package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-faster/errors"
	"github.com/set-night/tasker/internal/domain"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Core
	DatabaseURL string `env:"DATABASE_URL"`
	Store       string `env:"STORE" envDefault:"postgres"`
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`

	// Server
	HTTPPort      int           `env:"HTTP_PORT" envDefault:"8080"`
	UploadDir     string        `env:"UPLOAD_DIR" envDefault:"./uploads"`
	MaxFileSize   int           `env:"MAX_FILE_SIZE" envDefault:"10485760"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	BotUsername   string        `env:"BOT_USERNAME" envDefault:"avitotasker_bot"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	// Moderation bot; disabled when empty
	BotToken string  `env:"BOT_TOKEN"`
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

	// Telegram moderation feed
	LogTelegramChatID    int64 `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError        int   `env:"LOG_TOPIC_ERROR"`
	LogTopicSubmission   int   `env:"LOG_TOPIC_SUBMISSION"`
	LogTopicVerdict      int   `env:"LOG_TOPIC_VERDICT"`
	LogTopicWithdrawal   int   `env:"LOG_TOPIC_WITHDRAWAL"`
	LogTopicRegistration int   `env:"LOG_TOPIC_REGISTRATION"`

	Rules Rules
}

// Rules are the engine constants. They are injected into every service at
// construction time and never read from globals.
type Rules struct {
	LeaseDuration       time.Duration   `env:"LEASE_DURATION" envDefault:"24h"`
	MaxActiveLeases     int             `env:"MAX_ACTIVE_LEASES" envDefault:"10"`
	CommissionRate      decimal.Decimal `env:"REFERRAL_COMMISSION" envDefault:"0.5"`
	MinWithdrawal       int64           `env:"MIN_WITHDRAWAL" envDefault:"100"`
	BalanceCeiling      int64           `env:"BALANCE_CEILING" envDefault:"1000000000000000"`
	SimpleTaskPrice     int64           `env:"SIMPLE_TASK_PRICE" envDefault:"50"`
	PhoneTaskPrice      int64           `env:"PHONE_TASK_PRICE" envDefault:"150"`
	StoreTimeout        time.Duration   `env:"STORE_TIMEOUT" envDefault:"5s"`
	LockTimeout         time.Duration   `env:"LOCK_TIMEOUT" envDefault:"2s"`
	ReclaimInterval     time.Duration   `env:"RECLAIM_INTERVAL" envDefault:"1m"`
	ReclaimBatchSize    int             `env:"RECLAIM_BATCH_SIZE" envDefault:"100"`
	LeaseSelectAttempts int             `env:"LEASE_SELECT_ATTEMPTS" envDefault:"3"`
	LeaseCandidates     int             `env:"LEASE_CANDIDATES" envDefault:"5"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return nil, errors.Errorf("unknown STORE %q", cfg.Store)
	}
	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres store")
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate rules")
	}
	return cfg, nil
}

// DefaultRules returns the rules with every envDefault applied.
func DefaultRules() Rules {
	var r Rules
	if err := env.ParseWithOptions(&r, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return r
}

func (r Rules) Validate() error {
	switch {
	case r.LeaseDuration <= 0:
		return errors.New("LEASE_DURATION must be positive")
	case r.MaxActiveLeases <= 0:
		return errors.New("MAX_ACTIVE_LEASES must be positive")
	case r.CommissionRate.IsNegative() || r.CommissionRate.GreaterThan(decimal.NewFromInt(1)):
		return errors.New("REFERRAL_COMMISSION must be within [0, 1]")
	case r.MinWithdrawal <= 0:
		return errors.New("MIN_WITHDRAWAL must be positive")
	case r.BalanceCeiling <= 0:
		return errors.New("BALANCE_CEILING must be positive")
	case r.SimpleTaskPrice <= 0 || r.PhoneTaskPrice <= 0:
		return errors.New("task prices must be positive")
	case r.StoreTimeout <= 0:
		return errors.New("STORE_TIMEOUT must be positive")
	case r.ReclaimBatchSize <= 0 || r.LeaseSelectAttempts <= 0 || r.LeaseCandidates <= 0:
		return errors.New("batch sizes and attempts must be positive")
	}
	return nil
}

// PriceFor reports the configured price of a task kind.
func (r Rules) PriceFor(kind domain.TaskKind) (int64, bool) {
	switch kind {
	case domain.TaskKindSimple:
		return r.SimpleTaskPrice, true
	case domain.TaskKindPhone:
		return r.PhoneTaskPrice, true
	default:
		return 0, false
	}
}

func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// ReferralLink is the deep link a referred user opens to register.
func (c *Config) ReferralLink(userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=ref_%d", c.BotUsername, userID)
}
