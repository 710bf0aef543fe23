package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"drugshop-serverless/internal/observability"
)

const defaultTimeout = 10 * time.Second

// Transport delivers fully built messages. *gomail.Dialer satisfies it.
type Transport interface {
	DialAndSend(m ...*gomail.Message) error
}

type Metrics interface {
	RecordMailDispatch(template string, ok bool)
}

type Config struct {
	From     string
	FromName string
	Timeout  time.Duration
	CodeTTL  time.Duration
}

// Mailer renders the transactional templates and hands them to a Transport.
// Every send is bounded by Config.Timeout; failures are logged and reported as false.
type Mailer struct {
	transport Transport
	cfg       Config
	logger    *observability.Logger
	metrics   Metrics
	now       func() time.Time
}

func NewMailer(transport Transport, cfg Config, logger *observability.Logger) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 15 * time.Minute
	}
	if cfg.FromName == "" {
		cfg.FromName = "Winal Drug Shop"
	}

	return &Mailer{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *Mailer) WithMetrics(metrics Metrics) *Mailer {
	m.metrics = metrics
	return m
}

func NewSMTPTransport(host string, port int, username, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, username, password)
}

func (m *Mailer) SendPasswordResetEmail(ctx context.Context, to, name, code string) bool {
	return m.send(ctx, templatePasswordReset, to, templateData{
		Name:          displayName(name),
		Code:          code,
		ExpiryMinutes: int(m.cfg.CodeTTL.Minutes()),
	})
}

func (m *Mailer) SendWelcomeEmail(ctx context.Context, to, name string) bool {
	return m.send(ctx, templateWelcome, to, templateData{Name: displayName(name)})
}

func (m *Mailer) send(ctx context.Context, name, to string, data templateData) bool {
	msg, err := m.build(name, to, data)
	if err != nil {
		m.report(name, to, err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.transport.DialAndSend(msg)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("mail dispatch: %w", ctx.Err())
	}

	if err != nil {
		m.report(name, to, err)
		return false
	}

	if m.metrics != nil {
		m.metrics.RecordMailDispatch(name, true)
	}
	return true
}

func (m *Mailer) build(name, to string, data templateData) (*gomail.Message, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown mail template %q", name)
	}

	data.Shop = m.cfg.FromName
	data.Year = m.now().Year()

	html, text, err := tmpl.render(data)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.cfg.From, m.cfg.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subjectFor(tmpl, m.cfg.FromName))
	msg.SetBody("text/plain", text)
	msg.AddAlternative("text/html", html)
	return msg, nil
}

func (m *Mailer) report(name, to string, err error) {
	if m.metrics != nil {
		m.metrics.RecordMailDispatch(name, false)
	}
	m.logger.Error("mail_dispatch_failed", map[string]any{
		"template": name,
		"to":       maskAddress(to),
		"error":    err.Error(),
		"timeout":  errors.Is(err, context.DeadlineExceeded),
	})
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Customer"
	}
	return name
}

// maskAddress keeps the first character of the local part and the domain.
func maskAddress(addr string) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
