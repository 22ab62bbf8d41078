package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Books.Main.validate("books.main"); err != nil {
		return err
	}
	if err := c.Books.Penny.validate("books.penny"); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if c.Execution.PollIntervalSeconds > c.Execution.PollTimeoutSeconds {
		return fmt.Errorf("execution.poll_interval_seconds exceeds poll_timeout_seconds")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Name)) {
	case "alpaca":
		if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
			return fmt.Errorf("broker.api_key and broker.api_secret are required for alpaca")
		}
	case "simulator":
	default:
		return fmt.Errorf("broker.name must be alpaca or simulator, got %q", b.Name)
	}
	return nil
}

func (b BookConfig) validate(prefix string) error {
	if b.Allocation <= 0 {
		return fmt.Errorf("%s.allocation must be > 0", prefix)
	}
	if b.MaxPositionPct <= 0 || b.MaxPositionPct > 100 {
		return fmt.Errorf("%s.max_position_pct must be in (0, 100]", prefix)
	}
	if b.MinConfidence < 0 || b.MinConfidence > 1 {
		return fmt.Errorf("%s.min_confidence must be in [0, 1]", prefix)
	}
	if b.AutoApproveConf < b.MinConfidence {
		return fmt.Errorf("%s.auto_approve_conf must be >= min_confidence", prefix)
	}
	if b.MaxPositions <= 0 {
		return fmt.Errorf("%s.max_positions must be > 0", prefix)
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.ManualReviewSizePct <= 0 {
		return fmt.Errorf("risk.manual_review_size_pct must be > 0")
	}
	return nil
}
