package notifier

import "tradedesk/internal/logger"

// Compile-time interface check.
var _ TextNotifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the log. It is the default when no
// external channel is configured.
type LogNotifier struct{}

// SendText logs the message and never fails.
func (LogNotifier) SendText(text string) error {
	logger.Infof("notify: %s", text)
	return nil
}
