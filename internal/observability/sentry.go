package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend:       scrubAuthHeaders,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// scrubAuthHeaders drops bearer tokens and cron secrets from captured requests.
func scrubAuthHeaders(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}
	for name := range event.Request.Headers {
		switch name {
		case "Authorization", "authorization", "Cookie", "cookie":
			event.Request.Headers[name] = "[redacted]"
		}
	}
	event.Request.Data = ""
	return event
}
