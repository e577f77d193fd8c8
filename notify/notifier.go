package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// Notifier sends a message to a single recipient.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, to, subject, body string) error

func (f NotifierFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

// IsMailbox reports whether addr is a plain deliverable address such as
// "ops@hospital.org". Admin usernames and display-name forms are rejected.
func IsMailbox(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.ContainsAny(addr, " <>\"") {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return false
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return false
	}
	domain := addr[at+1:]
	return strings.Contains(domain, ".") && !strings.HasSuffix(domain, ".") && !strings.HasPrefix(domain, ".")
}

// HTTPNotifier posts messages to a mail gateway as JSON
// {"from","to","subject","body"} with an optional bearer token.
type HTTPNotifier struct {
	URL        string
	Token      string
	From       string
	HTTPClient *http.Client
}

// NewHTTPNotifier returns a gateway client with a 10s timeout.
func NewHTTPNotifier(url, token, from string) *HTTPNotifier {
	return &HTTPNotifier{
		URL:        url,
		Token:      token,
		From:       from,
		HTTPClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (n *HTTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	if n.URL == "" {
		return errors.New("notify: gateway url not configured")
	}
	raw, err := json.Marshal(map[string]string{
		"from":    n.From,
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: gateway status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// LogNotifier writes messages to a logger instead of delivering them.
// It exists for local development; it would leak codes into logs in
// production, so NewLogNotifier refuses to be used there.
type LogNotifier struct {
	logger *slog.Logger
}

// ErrLogNotifierInProduction is returned when a LogNotifier is requested in production mode.
var ErrLogNotifierInProduction = errors.New("notify: log notifier must not be used in production")

// NewLogNotifier refuses production mode: it would write codes to the log.
func NewLogNotifier(logger *slog.Logger, production bool) (*LogNotifier, error) {
	if production {
		return nil, ErrLogNotifierInProduction
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}, nil
}

func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.logger.InfoContext(ctx, "notification", "to", to, "subject", subject, "body", body)
	return nil
}
