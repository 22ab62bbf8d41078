package config

import "strings"

// Default limits mirror the paper account this system was first run
// against: a small two-book split with a conservative MAIN sleeve and a
// tightly capped PENNY sleeve.
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9980"

	defaultBrokerName = "simulator"

	defaultMainAllocation    = 75.0
	defaultMainMaxPosPct     = 30.0
	defaultMainMinConf       = 0.65
	defaultMainAutoConf      = 0.70
	defaultMainDailyLossPct  = 5.0
	defaultMainMaxPositions  = 8
	defaultPennyAllocation   = 25.0
	defaultPennyMaxPosPct    = 100.0
	defaultPennyMaxPosUSD    = 8.0
	defaultPennyMinConf      = 0.60
	defaultPennyAutoConf     = 0.60
	defaultPennyDailyLossPct = 15.0
	defaultPennyMaxPositions = 5

	defaultManualReviewSizePct = 30.0
	defaultConsecutiveLossMax  = 3

	defaultPollIntervalSeconds = 2
	defaultPollTimeoutSeconds  = 90

	defaultStoreDBPath      = "data/tradedesk.db"
	defaultStoreJournalPath = "data/journal.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Books.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.name", &b.Name, defaultBrokerName),
		boolFieldDefault("broker.paper", &b.Paper, true),
	)
}

func (b *BooksConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	b.Main.applyDefaults(keys, "books.main", BookConfig{
		Allocation:        defaultMainAllocation,
		MaxPositionPct:    defaultMainMaxPosPct,
		MinConfidence:     defaultMainMinConf,
		AutoApproveConf:   defaultMainAutoConf,
		DailyLossLimitPct: defaultMainDailyLossPct,
		MaxPositions:      defaultMainMaxPositions,
	})
	b.Penny.applyDefaults(keys, "books.penny", BookConfig{
		Allocation:        defaultPennyAllocation,
		MaxPositionPct:    defaultPennyMaxPosPct,
		MaxPositionUSD:    defaultPennyMaxPosUSD,
		MinConfidence:     defaultPennyMinConf,
		AutoApproveConf:   defaultPennyAutoConf,
		DailyLossLimitPct: defaultPennyDailyLossPct,
		MaxPositions:      defaultPennyMaxPositions,
	})
}

func (b *BookConfig) applyDefaults(keys keySet, prefix string, def BookConfig) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault(prefix+".allocation", &b.Allocation, def.Allocation),
		floatFieldDefault(prefix+".max_position_pct", &b.MaxPositionPct, def.MaxPositionPct),
		floatFieldDefault(prefix+".max_position_usd", &b.MaxPositionUSD, def.MaxPositionUSD),
		floatFieldDefault(prefix+".min_confidence", &b.MinConfidence, def.MinConfidence),
		floatFieldDefault(prefix+".auto_approve_conf", &b.AutoApproveConf, def.AutoApproveConf),
		floatFieldDefault(prefix+".daily_loss_limit_pct", &b.DailyLossLimitPct, def.DailyLossLimitPct),
		fieldDefault{
			key:   prefix + ".max_positions",
			need:  func() bool { return b.MaxPositions <= 0 },
			apply: func() { b.MaxPositions = def.MaxPositions },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("risk.auto_approve", &r.AutoApprove, false),
		floatFieldDefault("risk.manual_review_size_pct", &r.ManualReviewSizePct, defaultManualReviewSizePct),
		fieldDefault{
			key:   "risk.consecutive_loss_max",
			need:  func() bool { return r.ConsecutiveLossMax <= 0 },
			apply: func() { r.ConsecutiveLossMax = defaultConsecutiveLossMax },
		},
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "execution.poll_interval_seconds",
			need:  func() bool { return e.PollIntervalSeconds <= 0 },
			apply: func() { e.PollIntervalSeconds = defaultPollIntervalSeconds },
		},
		fieldDefault{
			key:   "execution.poll_timeout_seconds",
			need:  func() bool { return e.PollTimeoutSeconds <= 0 },
			apply: func() { e.PollTimeoutSeconds = defaultPollTimeoutSeconds },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.db_path", &s.DBPath, defaultStoreDBPath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultStoreJournalPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
