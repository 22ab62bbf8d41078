package app

import (
	"context"
	"fmt"

	"tradedesk/internal/approval"
	"tradedesk/internal/broker"
	"tradedesk/internal/config"
	"tradedesk/internal/domain"
	"tradedesk/internal/events"
	"tradedesk/internal/execution"
	"tradedesk/internal/ledger"
	"tradedesk/internal/logger"
	"tradedesk/internal/notifier"
	"tradedesk/internal/risk"
	"tradedesk/internal/store/gormstore"
	"tradedesk/internal/store/journal"
	adminhttp "tradedesk/internal/transport/http/admin"
)

// buildApp wires every component by hand. The config watcher is the
// single source of truth for runtime settings; components read it
// through a closure so hot reloads apply without re-wiring.
func buildApp(cfgPath string) (*App, error) {
	watcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	currentCfg := watcher.Current
	cfg := currentCfg()

	store, err := gormstore.NewGormStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	audit, err := journal.Open(cfg.Store.JournalPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	brk, err := buildBroker(cfg.Broker)
	if err != nil {
		store.Close()
		audit.Close()
		return nil, err
	}
	logger.Infof("broker backend: %s", brk.Name())

	notify := buildNotifier(cfg.Notify)
	hub := events.NewHub()

	wash := ledger.NewWashSaleLedger(store)
	positions := ledger.NewPositionLedger(store, wash)
	breaker := risk.NewCircuitBreaker(store)
	breaker.OnTrip(func(evt domain.BreakerEvent) {
		if err := audit.Append(context.Background(), "breaker_tripped",
			fmt.Sprintf("breaker:%d", evt.ID),
			map[string]any{"eventType": evt.EventType, "scope": evt.ScopeLabel(), "reason": evt.Reason},
		); err != nil {
			logger.Warnf("journal breaker trip: %v", err)
		}
	})
	gate := risk.NewGate(store, breaker, wash)
	engine := execution.NewEngine(store, brk, positions, breaker, hub, notify, audit, currentCfg)
	queue := approval.NewQueue(store, gate, engine, hub, notify, audit, currentCfg)

	server, err := adminhttp.NewServer(cfg.App.HTTPAddr, &adminhttp.Router{
		Queue:     queue,
		Breaker:   breaker,
		Positions: positions,
		Journal:   audit,
		Hub:       hub,
		Config:    currentCfg,
	})
	if err != nil {
		store.Close()
		audit.Close()
		return nil, fmt.Errorf("build admin server: %w", err)
	}

	watcher.Subscribe(func(next *config.Config) {
		logger.SetLevel(next.App.LogLevel)
	})

	return &App{
		watcher: watcher,
		store:   store,
		journal: audit,
		hub:     hub,
		engine:  engine,
		queue:   queue,
		server:  server,
	}, nil
}

func buildBroker(cfg config.BrokerConfig) (broker.Broker, error) {
	switch cfg.Name {
	case "alpaca":
		return broker.NewAlpacaBroker(broker.AlpacaOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
			DataURL:   cfg.DataURL,
		}), nil
	case "simulator":
		return broker.NewSimulator(), nil
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Name)
	}
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if cfg.Telegram.Enabled {
		return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	return notifier.LogNotifier{}
}
