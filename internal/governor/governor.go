package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/audit"
	"github.com/MrEthical07/hospitalauth/internal/counter"
	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/metrics"
	"github.com/MrEthical07/hospitalauth/notify"
)

// Audit actions emitted by the governor itself.
const (
	ActionAccountLocked     = "account_locked"
	ActionStuffingSuspected = "credential_stuffing_suspected"
	ActionLockoutCleared    = "lockout_cleared"
	ActionLockoutExpired    = "lockout_expired"
	ActionLoginBaseline     = "login_baseline"
)

const (
	baselineTTL = 30 * 24 * time.Hour
	unknownIP   = "unknown"
)

// Config holds thresholds and windows.
type Config struct {
	IPWindow time.Duration
	IPLimit  int64

	IdentifierWindow time.Duration
	IdentifierLimit  int64

	LockoutDuration time.Duration

	StuffingWindow    time.Duration
	StuffingThreshold int64

	LockAlertSuppression     time.Duration
	StuffingAlertSuppression time.Duration

	// SecurityTeam, when set, receives a copy of lockout alerts.
	SecurityTeam string
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		IPWindow:                 time.Hour,
		IPLimit:                  10,
		IdentifierWindow:         24 * time.Hour,
		IdentifierLimit:          5,
		LockoutDuration:          15 * time.Minute,
		StuffingWindow:           time.Hour,
		StuffingThreshold:        3,
		LockAlertSuppression:     15 * time.Minute,
		StuffingAlertSuppression: time.Hour,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.IPWindow <= 0 || c.IdentifierWindow <= 0 || c.StuffingWindow <= 0 {
		return errors.New("governor: counter windows must be > 0")
	}
	if c.IPLimit <= 0 || c.IdentifierLimit <= 0 || c.StuffingThreshold <= 0 {
		return errors.New("governor: limits must be > 0")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("governor: lockout duration must be > 0")
	}
	if c.LockAlertSuppression <= 0 || c.StuffingAlertSuppression <= 0 {
		return errors.New("governor: alert suppression windows must be > 0")
	}
	return nil
}

// ContactResolver returns the alert mailbox for identifier, or "".
type ContactResolver func(ctx context.Context, identifier string) string

// Attempt identifies the actor behind a failure or success.
type Attempt struct {
	Identifier string
	IP         string
	UserAgent  string
}

// Governor evaluates and records sign-in attempts.
type Governor struct {
	store    counter.Store
	cfg      Config
	notifier *notify.Dispatcher
	recorder *audit.Recorder
	contact  ContactResolver
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Governor.
type Option func(*Governor)

// WithNotifier sets where lockout and stuffing alerts are sent.
func WithNotifier(d *notify.Dispatcher) Option { return func(g *Governor) { g.notifier = d } }

// WithRecorder sets the audit recorder for lockout events.
func WithRecorder(r *audit.Recorder) Option { return func(g *Governor) { g.recorder = r } }

// WithContactResolver sets how an identifier maps to its alert mailbox.
func WithContactResolver(fn ContactResolver) Option { return func(g *Governor) { g.contact = fn } }

// WithLogger sets the logger. Nil keeps the discarding default.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock replaces time.Now for lock expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a Governor over store.
func New(store counter.Store, cfg Config, opts ...Option) (*Governor, error) {
	if store == nil {
		return nil, errors.New("governor: counter store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Governor{
		store:  store,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.recorder == nil {
		g.recorder = audit.NewRecorder(nil, nil)
	}
	return g, nil
}

func ipKey(ip string) string            { return "ip:" + orUnknown(ip) }
func identifierKey(id string) string    { return "id:" + id }
func stuffingKey(ip, id string) string  { return "stuff:" + orUnknown(ip) + "|" + id }
func lockKey(id string) string          { return "lock:" + id }
func lockAlertKey(id string) string     { return "alert:lock:" + id }
func stuffingAlertKey(id string) string { return "alert:stuff:" + id }
func baselineKey(id string) string      { return "baseline:" + id }

func orUnknown(ip string) string {
	if ip == "" {
		return unknownIP
	}
	return ip
}

// CheckIP returns [failure.ErrRateLimited] once the IP window is exhausted.
func (g *Governor) CheckIP(ctx context.Context, ip string) error {
	n, err := g.store.Count(ctx, ipKey(ip))
	if err != nil {
		return err
	}
	if n >= g.cfg.IPLimit {
		metrics.RateLimited.WithLabelValues("ip").Inc()
		return failure.ErrRateLimited
	}
	return nil
}

// CheckLockout returns a [*failure.LockedError] while identifier is locked.
// An expired record is deleted and the identifier is treated as open.
func (g *Governor) CheckLockout(ctx context.Context, identifier string) error {
	if identifier == "" {
		return nil
	}
	rec, err := g.readLock(ctx, identifier)
	if err != nil || rec == nil {
		return err
	}
	now := g.now()
	if !now.Before(rec.ExpiresAt) {
		if err := g.store.Delete(ctx, lockKey(identifier)); err != nil {
			return err
		}
		g.recorder.Emit(ctx, audit.Event{
			Action:     ActionLockoutExpired,
			Identifier: identifier,
			Outcome:    audit.OutcomeSuccess,
			Severity:   audit.SeverityInfo,
			Detail:     map[string]string{"expired_at": rec.ExpiresAt.UTC().Format(time.RFC3339)},
		})
		return nil
	}
	return &failure.LockedError{Remaining: rec.ExpiresAt.Sub(now)}
}

// RecordFailure counts a failed attempt. It returns the error the caller
// should surface instead of its own when a threshold was reached: a
// [*failure.LockedError] when the identifier is (or becomes) locked, or
// [failure.ErrRateLimited] when the IP window is exhausted. A nil verdict
// means the original failure stands.
func (g *Governor) RecordFailure(ctx context.Context, a Attempt) (verdict error, err error) {
	ipCount, err := g.store.Increment(ctx, ipKey(a.IP), g.cfg.IPWindow)
	if err != nil {
		return nil, err
	}
	if a.Identifier != "" {
		idCount, err := g.store.Increment(ctx, identifierKey(a.Identifier), g.cfg.IdentifierWindow)
		if err != nil {
			return nil, err
		}
		stuffCount, err := g.store.Increment(ctx, stuffingKey(a.IP, a.Identifier), g.cfg.StuffingWindow)
		if err != nil {
			return nil, err
		}

		if idCount >= g.cfg.IdentifierLimit {
			return g.lock(ctx, a, idCount)
		}
		if stuffCount >= g.cfg.StuffingThreshold {
			g.suspectStuffing(ctx, a, stuffCount)
		}
	}
	if ipCount >= g.cfg.IPLimit {
		metrics.RateLimited.WithLabelValues("ip").Inc()
		return failure.ErrRateLimited, nil
	}
	return nil, nil
}

// RecordSuccess clears every counter, the lockout record and both alert
// markers for the attempt, and records a location baseline.
func (g *Governor) RecordSuccess(ctx context.Context, a Attempt) error {
	keys := []string{ipKey(a.IP)}
	if a.Identifier != "" {
		keys = append(keys,
			identifierKey(a.Identifier),
			stuffingKey(a.IP, a.Identifier),
			lockKey(a.Identifier),
			lockAlertKey(a.Identifier),
			stuffingAlertKey(a.Identifier),
		)
	}
	if err := g.store.Delete(ctx, keys...); err != nil {
		return err
	}
	if a.Identifier != "" {
		g.recordBaseline(ctx, a)
	}
	return nil
}

// ClearLockout removes the lockout record and the identifier counter, as a
// completed password reset does.
func (g *Governor) ClearLockout(ctx context.Context, identifier string) error {
	if identifier == "" {
		return nil
	}
	if err := g.store.Delete(ctx, lockKey(identifier), identifierKey(identifier), lockAlertKey(identifier)); err != nil {
		return err
	}
	g.recorder.Emit(ctx, audit.Event{
		Action:     ActionLockoutCleared,
		Identifier: identifier,
		Outcome:    audit.OutcomeSuccess,
		Severity:   audit.SeverityInfo,
	})
	return nil
}

type lockRecord struct {
	Locked    bool      `json:"locked"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (g *Governor) readLock(ctx context.Context, identifier string) (*lockRecord, error) {
	raw, err := g.store.Get(ctx, lockKey(identifier))
	if errors.Is(err, counter.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec lockRecord
	if err := json.Unmarshal(raw, &rec); err != nil || !rec.Locked {
		// An unreadable record cannot hold an account locked.
		_ = g.store.Delete(ctx, lockKey(identifier))
		return nil, nil
	}
	return &rec, nil
}

func (g *Governor) lock(ctx context.Context, a Attempt, failures int64) (error, error) {
	var (
		rec     lockRecord
		created bool
	)
	for attempt := 0; attempt < 3 && !created; attempt++ {
		now := g.now()
		rec = lockRecord{Locked: true, LockedAt: now.UTC(), ExpiresAt: now.Add(g.cfg.LockoutDuration).UTC()}
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		created, err = g.store.SetIfAbsent(ctx, lockKey(a.Identifier), raw, g.cfg.LockoutDuration)
		if err != nil {
			return nil, err
		}
		if created {
			break
		}
		// A record already exists. It either still holds the account, or it
		// had expired and CheckLockout just removed it.
		err = g.CheckLockout(ctx, a.Identifier)
		var locked *failure.LockedError
		if errors.As(err, &locked) {
			return locked, nil
		}
		if err != nil {
			return nil, err
		}
	}
	if !created {
		return &failure.LockedError{Remaining: g.cfg.LockoutDuration}, nil
	}

	metrics.Lockouts.Inc()
	loc := g.recorder.Locate(ctx, a.IP)
	g.recorder.Emit(ctx, audit.Event{
		Action:     ActionAccountLocked,
		Identifier: a.Identifier,
		IP:         a.IP,
		UserAgent:  a.UserAgent,
		Country:    loc.Country,
		City:       loc.City,
		Outcome:    audit.OutcomeFailed,
		Severity:   audit.SeverityCritical,
		Detail: map[string]string{
			"failures":   fmt.Sprintf("%d", failures),
			"expires_at": rec.ExpiresAt.Format(time.RFC3339),
		},
	})

	if g.claimAlert(ctx, lockAlertKey(a.Identifier), g.cfg.LockAlertSuppression) {
		body := fmt.Sprintf(
			"Your hospital administrator account was locked after repeated failed sign-in attempts.\n\n"+
				"Last attempt from: %s (%s)\nThe account unlocks automatically at %s UTC.\n\n"+
				"If this was not you, reset your password and contact the security team.",
			orUnknown(a.IP), loc, rec.ExpiresAt.Format("2006-01-02 15:04"))
		g.alert(ctx, a.Identifier, "Security alert: account locked", body)
		if g.cfg.SecurityTeam != "" {
			g.notifier.Send(ctx, g.cfg.SecurityTeam, "Administrator account locked: "+a.Identifier, body)
		}
	}
	return &failure.LockedError{Remaining: g.cfg.LockoutDuration}, nil
}

func (g *Governor) suspectStuffing(ctx context.Context, a Attempt, failures int64) {
	loc := g.recorder.Locate(ctx, a.IP)
	g.recorder.Emit(ctx, audit.Event{
		Action:     ActionStuffingSuspected,
		Identifier: a.Identifier,
		IP:         a.IP,
		UserAgent:  a.UserAgent,
		Country:    loc.Country,
		City:       loc.City,
		Outcome:    audit.OutcomeFailed,
		Severity:   audit.SeverityWarning,
		Detail:     map[string]string{"failures": fmt.Sprintf("%d", failures)},
	})
	if g.claimAlert(ctx, stuffingAlertKey(a.Identifier), g.cfg.StuffingAlertSuppression) {
		body := fmt.Sprintf(
			"We noticed multiple failed sign-in attempts on your hospital administrator account from %s (%s).\n\n"+
				"If this was not you, consider resetting your password.",
			orUnknown(a.IP), loc)
		g.alert(ctx, a.Identifier, "Security alert: multiple failed sign-in attempts", body)
	}
}

// claimAlert sets a suppression marker and reports whether this caller won it.
func (g *Governor) claimAlert(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := g.store.SetIfAbsent(ctx, key, []byte("1"), ttl)
	if err != nil {
		g.logger.WarnContext(ctx, "alert suppression marker unavailable", "error", err)
		return false
	}
	return ok
}

func (g *Governor) alert(ctx context.Context, identifier, subject, body string) {
	if g.notifier == nil || g.contact == nil {
		return
	}
	to := g.contact(ctx, identifier)
	if to == "" {
		g.logger.InfoContext(ctx, "no alert mailbox for account; alert skipped", "subject", subject)
		return
	}
	g.notifier.Send(ctx, to, subject, body)
}

type baseline struct {
	IP        string `json:"ip"`
	Country   string `json:"country"`
	City      string `json:"city"`
	UserAgent string `json:"user_agent"`
}

func (g *Governor) recordBaseline(ctx context.Context, a Attempt) {
	loc := g.recorder.Locate(ctx, a.IP)
	current := baseline{IP: a.IP, Country: loc.Country, City: loc.City, UserAgent: a.UserAgent}

	detail := map[string]string{}
	if raw, err := g.store.Get(ctx, baselineKey(a.Identifier)); err == nil {
		var prev baseline
		if json.Unmarshal(raw, &prev) == nil {
			if prev.Country != current.Country {
				detail["new_country"] = "true"
				detail["previous_country"] = prev.Country
			}
			if prev.UserAgent != current.UserAgent {
				detail["new_user_agent"] = "true"
			}
			if prev.IP != current.IP {
				detail["previous_ip"] = prev.IP
			}
		}
	}
	if raw, err := json.Marshal(current); err == nil {
		if err := g.store.Set(ctx, baselineKey(a.Identifier), raw, baselineTTL); err != nil {
			g.logger.WarnContext(ctx, "login baseline not stored", "error", err)
		}
	}

	if len(detail) == 0 {
		detail = nil
	}
	g.recorder.Emit(ctx, audit.Event{
		Action:     ActionLoginBaseline,
		Identifier: a.Identifier,
		IP:         a.IP,
		UserAgent:  a.UserAgent,
		Country:    loc.Country,
		City:       loc.City,
		Outcome:    audit.OutcomeSuccess,
		Severity:   audit.SeverityInfo,
		Detail:     detail,
	})
}
