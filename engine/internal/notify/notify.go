// Package notify delivers alarm notifications.
//
// Mail goes out through shoutrrr's smtp service. A failed send returns an
// error and the caller leaves the trigger unprocessed for the next run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"golang.org/x/time/rate"
)

// ErrNoRecipient is returned when a message has no recipient address.
var ErrNoRecipient = errors.New("message has no recipient")

// Message is one outbound notification.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Notifier sends messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds mail transport settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`

	// Encryption is passed to shoutrrr as is: "auto", "none", "explicit" or "implicit".
	Encryption string `yaml:"encryption"`

	// RatePerMinute caps outbound sends. Zero disables limiting.
	RatePerMinute int `yaml:"rate_per_minute"`
}

// SMTPNotifier sends mail through shoutrrr.
type SMTPNotifier struct {
	config SMTPConfig
	logger *slog.Logger
	send   func(rawURL, message string) error
}

// NewSMTPNotifier creates a mail notifier.
func NewSMTPNotifier(config SMTPConfig, logger *slog.Logger) *SMTPNotifier {
	if config.Port == 0 {
		config.Port = 587
	}
	return &SMTPNotifier{
		config: config,
		logger: logger.With("component", "smtp_notifier"),
		send:   shoutrrr.Send,
	}
}

// Send delivers msg. An empty From uses the configured sender.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.From == "" {
		msg.From = n.config.From
	}

	if err := n.send(n.serviceURL(msg), msg.Body); err != nil {
		return fmt.Errorf("sending mail to %s: %w", msg.To, err)
	}
	n.logger.Debug("mail sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// serviceURL renders the shoutrrr smtp URL for one message.
func (n *SMTPNotifier) serviceURL(msg Message) string {
	u := url.URL{
		Scheme: "smtp",
		Host:   net.JoinHostPort(n.config.Host, strconv.Itoa(n.config.Port)),
		Path:   "/",
	}
	if n.config.Username != "" {
		u.User = url.UserPassword(n.config.Username, n.config.Password)
	}

	q := url.Values{}
	q.Set("from", msg.From)
	q.Set("to", msg.To)
	q.Set("subject", msg.Subject)
	if n.config.Encryption != "" {
		q.Set("encryption", n.config.Encryption)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier for deployments without SMTP.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "log_notifier")}
}

// Send logs msg.
func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	n.logger.Info("notification",
		"to", msg.To,
		"subject", msg.Subject,
		"body", strings.TrimSpace(msg.Body),
	)
	return nil
}

// RateLimited wraps a notifier with a token bucket.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute sends per minute through next.
// A non-positive perMinute returns next unchanged.
func NewRateLimited(next Notifier, perMinute int) Notifier {
	if perMinute <= 0 {
		return next
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

// Send waits for a token, then delegates.
func (r *RateLimited) Send(ctx context.Context, msg Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Send(ctx, msg)
}
