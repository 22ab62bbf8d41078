package config

import "strings"

// Config is the top-level configuration for the trading core.
type Config struct {
	App       AppConfig       `toml:"app"`
	Broker    BrokerConfig    `toml:"broker"`
	Books     BooksConfig     `toml:"books"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// BrokerConfig selects and configures the broker backend.
type BrokerConfig struct {
	Name      string `toml:"name"` // "alpaca" | "simulator"
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
	DataURL   string `toml:"data_url"`
	Paper     bool   `toml:"paper"`
}

// BookConfig holds per-book allocation and risk limits.
type BookConfig struct {
	Allocation        float64 `toml:"allocation"`          // dollars allocated to the book
	MaxPositionPct    float64 `toml:"max_position_pct"`    // hard cap on a single buy, percent
	MaxPositionUSD    float64 `toml:"max_position_usd"`    // absolute dollar ceiling per buy (0 = none)
	MinConfidence     float64 `toml:"min_confidence"`      // hard floor, below this a proposal is denied
	AutoApproveConf   float64 `toml:"auto_approve_conf"`   // below this a proposal needs manual review
	DailyLossLimitPct float64 `toml:"daily_loss_limit_pct"`
	MaxPositions      int     `toml:"max_positions"` // capacity, open positions
}

type BooksConfig struct {
	Main  BookConfig `toml:"main"`
	Penny BookConfig `toml:"penny"`
}

// RiskConfig holds cross-book risk settings.
type RiskConfig struct {
	AutoApprove         bool    `toml:"auto_approve"`           // initial value of the runtime toggle
	ManualReviewSizePct float64 `toml:"manual_review_size_pct"` // above this a buy always needs manual review
	ConsecutiveLossMax  int     `toml:"consecutive_loss_max"`
}

type ExecutionConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	PollTimeoutSeconds  int `toml:"poll_timeout_seconds"`
}

type StoreConfig struct {
	DBPath      string `toml:"db_path"`
	JournalPath string `toml:"journal_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet tracks which config paths were explicitly set in the file, so
// defaults only fill what the operator left out.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes a single field's default rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
