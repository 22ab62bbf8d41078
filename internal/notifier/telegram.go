package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	telegramAPI   = "https://api.telegram.org"
	sendAttempts  = 3
	retryBaseWait = 300 * time.Millisecond
)

// Telegram pushes notifications to a chat or channel via the Bot API.
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client

	// BaseURL overrides the API host, for tests.
	BaseURL string
}

type sendMessagePayload struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NewTelegram builds a notifier with a 15s request timeout.
func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{BotToken: botToken, ChatID: chatID, Client: &http.Client{Timeout: 15 * time.Second}}
}

// SendText sends a text message, retrying transient failures with a
// linearly growing wait between attempts.
func (t *Telegram) SendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram notifier is not configured")
	}
	body, err := json.Marshal(sendMessagePayload{ChatID: t.ChatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * retryBaseWait)
		}
		if lastErr = t.post(body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", sendAttempts, lastErr)
}

func (t *Telegram) post(body []byte) error {
	base := t.BaseURL
	if base == "" {
		base = telegramAPI
	}
	resp, err := t.Client.Post(
		fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken),
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return nil
}
