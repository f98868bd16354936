package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`

	Platform    PlatformConfig    `mapstructure:"platform"`
	Competition CompetitionConfig `mapstructure:"competition"`
	Automation  AutomationConfig  `mapstructure:"automation"`
	PriceFeed   PriceFeedConfig   `mapstructure:"price_feed"`
	PriceStream PriceStreamConfig `mapstructure:"price_stream"`
	Sampler     SamplerConfig     `mapstructure:"sampler"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	// ReadyTimeout bounds the startup ping loop; past it the engine starts in
	// degraded mode (no recovery, automation off).
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

// PlatformConfig seeds per-competition betting parameters.
type PlatformConfig struct {
	BetAmountSOL   float64 `mapstructure:"bet_amount_sol"`
	PlatformFeeBps int     `mapstructure:"platform_fee_bps"`
}

type CompetitionConfig struct {
	StartDelay     time.Duration `mapstructure:"start_delay"`
	VotingDuration time.Duration `mapstructure:"voting_duration"`
	ActiveDuration time.Duration `mapstructure:"active_duration"`
	// ResolutionWindow is the sampling interval length used for the start and
	// end TWAP baselines at resolution.
	ResolutionWindow time.Duration `mapstructure:"resolution_window"`
	// RetryInterval is how long a failed phase persistence waits before the
	// same transition is retried.
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type AutomationConfig struct {
	Enabled                   bool          `mapstructure:"enabled"`
	MaxConcurrentCompetitions int           `mapstructure:"max_concurrent_competitions"`
	AutoCreateInterval        time.Duration `mapstructure:"auto_create_interval"`
	TickInterval              time.Duration `mapstructure:"tick_interval"`
	MaxFailures               int           `mapstructure:"max_failures"`
	// PairCooldown de-prioritizes token pairs used within this window.
	PairCooldown time.Duration `mapstructure:"pair_cooldown"`
}

type PriceFeedConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PriceStreamConfig struct {
	URL             string        `mapstructure:"url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type SamplerConfig struct {
	ActiveInterval     time.Duration `mapstructure:"active_interval"`
	BackgroundInterval time.Duration `mapstructure:"background_interval"`
	Retention          time.Duration `mapstructure:"retention"`
	PruneInterval      time.Duration `mapstructure:"prune_interval"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.ready_timeout", "10s")

	v.SetDefault("platform.bet_amount_sol", 0.1)
	v.SetDefault("platform.platform_fee_bps", 1500)

	v.SetDefault("competition.start_delay", "5m")
	v.SetDefault("competition.voting_duration", "15m")
	v.SetDefault("competition.active_duration", "1h")
	v.SetDefault("competition.resolution_window", "5m")
	v.SetDefault("competition.retry_interval", "30s")

	v.SetDefault("automation.enabled", false)
	v.SetDefault("automation.max_concurrent_competitions", 3)
	v.SetDefault("automation.auto_create_interval", "1h")
	v.SetDefault("automation.tick_interval", "30s")
	v.SetDefault("automation.max_failures", 5)
	v.SetDefault("automation.pair_cooldown", "24h")

	v.SetDefault("price_feed.base_url", "https://lite-api.jup.ag/price/v2")
	v.SetDefault("price_feed.timeout", "10s")

	v.SetDefault("price_stream.url", "")
	v.SetDefault("price_stream.refresh_interval", "30s")

	v.SetDefault("sampler.active_interval", "5s")
	v.SetDefault("sampler.background_interval", "60s")
	v.SetDefault("sampler.retention", "24h")
	v.SetDefault("sampler.prune_interval", "10m")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
