package mail

import (
	"strings"

	"gopkg.in/gomail.v2"

	"drugshop-serverless/internal/observability"
)

// LogTransport records message envelopes instead of delivering them. Bodies are not
// logged because reset mails carry verification codes.
type LogTransport struct {
	logger *observability.Logger
}

func NewLogTransport(logger *observability.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) DialAndSend(messages ...*gomail.Message) error {
	for _, msg := range messages {
		t.logger.Info("mail_logged", map[string]any{
			"to":      maskAddress(strings.Join(msg.GetHeader("To"), ",")),
			"subject": strings.Join(msg.GetHeader("Subject"), " "),
		})
	}
	return nil
}
