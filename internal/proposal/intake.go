// Package proposal validates inbound proposal JSON at the boundary and
// converts it into the typed domain record. Payloads that do not pass the
// schema never reach the risk gate.
package proposal

import (
	"encoding/json"
	"fmt"
	"strings"

	"tradedesk/internal/domain"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["ticker", "book", "action", "confidence"],
  "properties": {
    "ticker":          {"type": "string", "minLength": 1, "maxLength": 10, "pattern": "^[A-Za-z.\\-]+$"},
    "book":            {"type": "string"},
    "action":          {"type": "string"},
    "confidence":      {"type": "number", "minimum": 0, "maximum": 1},
    "size_pct":        {"type": "number", "minimum": 0, "maximum": 100},
    "rationale":       {"type": "string"},
    "stop_loss_pct":   {"type": "number", "exclusiveMinimum": 0},
    "take_profit_pct": {"type": "number", "exclusiveMinimum": 0}
  }
}`

var schema = jsonschema.MustCompileString("proposal.json", schemaJSON)

// Parse validates raw JSON and returns the typed proposal. The raw bytes
// are preserved on the record for auditing.
func Parse(raw []byte) (*domain.Proposal, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("proposal payload is not valid JSON")
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("proposal payload decode: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("proposal payload rejected: %w", err)
	}

	body := gjson.ParseBytes(raw)
	book, err := domain.ParseBook(body.Get("book").String())
	if err != nil {
		return nil, err
	}
	direction, err := domain.ParseDirection(body.Get("action").String())
	if err != nil {
		return nil, err
	}

	p := &domain.Proposal{
		Ticker:     strings.ToUpper(strings.TrimSpace(body.Get("ticker").String())),
		Book:       book,
		Direction:  direction,
		Confidence: body.Get("confidence").Float(),
		SizePct:    body.Get("size_pct").Float(),
		Rationale:  body.Get("rationale").String(),
		Status:     domain.StatusPending,
		RawPayload: json.RawMessage(raw),
	}
	if v := body.Get("stop_loss_pct"); v.Exists() {
		f := v.Float()
		p.StopLossPct = &f
	}
	if v := body.Get("take_profit_pct"); v.Exists() {
		f := v.Float()
		p.TakeProfitPct = &f
	}
	if direction == domain.Buy && p.SizePct <= 0 {
		return nil, fmt.Errorf("buy proposal requires size_pct > 0")
	}
	return p, nil
}
