package reset

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/audit"
	"github.com/MrEthical07/hospitalauth/internal/challenge"
	"github.com/MrEthical07/hospitalauth/internal/counter"
	"github.com/MrEthical07/hospitalauth/internal/credential"
	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/metrics"
	"github.com/MrEthical07/hospitalauth/notify"
	"github.com/MrEthical07/hospitalauth/password"
)

// ActionReplay is the audit action for a step against a completed session.
const ActionReplay = "password_reset_replay"

// ErrNoMailbox is returned by Request when the account has nowhere to
// receive the code. Callers hide it behind the generic response.
var ErrNoMailbox = errors.New("reset: account has no contact mailbox")

// Config configures an [Orchestrator].
type Config struct {
	SessionTTL         time.Duration
	CompletedRetention time.Duration
	MaxCodeFailures    int
	CodePeriod         uint
	CodeSkew           uint
	SecurityTeam       string
}

// DefaultConfig returns the standard reset settings.
func DefaultConfig(production bool) Config {
	ch := challenge.DefaultConfig(production)
	return Config{
		SessionTTL:         30 * time.Minute,
		CompletedRetention: 10 * time.Minute,
		MaxCodeFailures:    3,
		CodePeriod:         ch.Period,
		CodeSkew:           ch.Skew,
	}
}

// Validate rejects non-positive TTLs, failure limit or code period.
func (c Config) Validate() error {
	if c.SessionTTL <= 0 || c.CompletedRetention <= 0 {
		return errors.New("reset: ttls must be > 0")
	}
	if c.MaxCodeFailures <= 0 {
		return errors.New("reset: max code failures must be > 0")
	}
	if c.CodePeriod == 0 {
		return errors.New("reset: code period must be > 0")
	}
	return nil
}

// LockoutClearer removes lockout state for an identifier.
type LockoutClearer interface {
	ClearLockout(ctx context.Context, identifier string) error
}

// Deps are the collaborators of an [Orchestrator].
type Deps struct {
	Store    counter.Store
	Verifier *credential.Verifier
	Accounts account.Repository
	Hasher   password.Hasher
	Lockouts LockoutClearer
	Notifier *notify.Dispatcher
	Recorder *audit.Recorder
	Logger   *slog.Logger
}

// Orchestrator runs the reset state machine.
type Orchestrator struct {
	Deps
	cfg Config
	now func() time.Time
}

// New returns an Orchestrator. Store, Accounts and Verifier are required;
// the other dependencies have working defaults.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil || deps.Verifier == nil || deps.Accounts == nil {
		return nil, errors.New("reset: store, verifier and accounts are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Hasher == nil {
		deps.Hasher = password.NewMulti(0)
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.NewRecorder(nil, nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{Deps: deps, cfg: cfg, now: time.Now}, nil
}

// WithClock overrides the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	if now != nil {
		o.now = now
	}
	return o
}

// Origin is where a step came from.
type Origin struct {
	IP        string
	UserAgent string
}

// Initiated is the result of a successful request step.
type Initiated struct {
	PrimaryToken string
	ExpiresAt    time.Time
}

// Request starts a reset for identifier at facilityCode and mails the
// primary token and code to the account's contact mailbox.
func (o *Orchestrator) Request(ctx context.Context, identifier, facilityCode string, from Origin) (*Initiated, error) {
	res, err := o.Verifier.Resolve(ctx, identifier, facilityCode)
	if err != nil {
		metrics.ResetSteps.WithLabelValues("request", "rejected").Inc()
		return nil, err
	}
	contact := account.ContactAddress(res.Admin)
	if contact == "" {
		metrics.ResetSteps.WithLabelValues("request", "rejected").Inc()
		return nil, ErrNoMailbox
	}

	primary, err := newPrimaryToken()
	if err != nil {
		return nil, err
	}
	secret, err := challenge.NewSecret(res.Admin.Identifier)
	if err != nil {
		return nil, err
	}
	now := o.now()
	code, err := challenge.CodeAt(secret, now, o.cfg.CodePeriod)
	if err != nil {
		return nil, err
	}

	id := account.NormalizeIdentifier(identifier)
	sess := Session{
		AccountID:      res.Admin.ID,
		Identifier:     id,
		CodeHash:       challenge.HashCode(code),
		Secret:         secret,
		SecondaryToken: newSecondaryToken(),
		Status:         StatusInitiated,
		IP:             from.IP,
		UserAgent:      from.UserAgent,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := o.Store.Set(ctx, sessionKey(id, primary), raw, o.cfg.SessionTTL); err != nil {
		return nil, err
	}

	minutes := int(o.cfg.SessionTTL / time.Minute)
	o.Notifier.Send(ctx, contact, "Password reset verification code", fmt.Sprintf(
		"A password reset was requested for your hospital administrator account.\n\n"+
			"Verification code: %s\nReset token: %s\n\nBoth expire in %d minutes. "+
			"If you did not request this, ignore this message and contact the security team.",
		code, primary, minutes))
	if o.cfg.SecurityTeam != "" {
		loc := o.Recorder.Locate(ctx, from.IP)
		o.Notifier.Send(ctx, o.cfg.SecurityTeam, "Password reset requested: "+res.Admin.Identifier, fmt.Sprintf(
			"A password reset was requested for %s from %s (%s), user agent %q.",
			res.Admin.Identifier, orUnknown(from.IP), loc, from.UserAgent))
	}

	metrics.ResetSteps.WithLabelValues("request", "initiated").Inc()
	return &Initiated{PrimaryToken: primary, ExpiresAt: now.Add(o.cfg.SessionTTL)}, nil
}

// Verify checks the mailed code for the session named by primary and
// returns a freshly minted secondary token.
func (o *Orchestrator) Verify(ctx context.Context, identifier, primary, code string, from Origin) (string, error) {
	id := account.NormalizeIdentifier(identifier)
	sess, _, err := o.load(ctx, id, primary)
	if err != nil {
		metrics.ResetSteps.WithLabelValues("verify", "expired").Inc()
		return "", err
	}
	if sess.Status == StatusCompleted {
		o.replay(ctx, sess, "verify", from)
		return "", failure.ErrResetSequenceViolation
	}
	if sess.Status != StatusInitiated {
		metrics.ResetSteps.WithLabelValues("verify", "sequence_violation").Inc()
		return "", failure.ErrResetSequenceViolation
	}

	if !challenge.Match(code, sess.CodeHash, sess.Secret, o.now(), o.cfg.CodePeriod, o.cfg.CodeSkew) {
		n, err := o.Store.Increment(ctx, failuresKey(id, primary), o.cfg.SessionTTL)
		if err != nil {
			return "", err
		}
		if n >= int64(o.cfg.MaxCodeFailures) {
			if err := o.Store.Delete(ctx, sessionKey(id, primary), failuresKey(id, primary)); err != nil {
				return "", err
			}
			metrics.ResetSteps.WithLabelValues("verify", "destroyed").Inc()
			return "", failure.ErrTooManyAttempts
		}
		metrics.ResetSteps.WithLabelValues("verify", "invalid_code").Inc()
		return "", &failure.CodeError{Remaining: o.cfg.MaxCodeFailures - int(n)}
	}

	secondary := newSecondaryToken()
	err = o.Store.Update(ctx, sessionKey(id, primary), func(current []byte) (counter.Mutation, error) {
		cur, err := decode(current)
		if err != nil || cur.Status != StatusInitiated {
			return counter.Mutation{}, failure.ErrResetSequenceViolation
		}
		cur.CompletedSteps = append(cur.CompletedSteps, StepEmailVerification)
		cur.Status = StatusEmailVerified
		cur.SecondaryToken = secondary
		cur.UpdatedAt = o.now().UTC()
		raw, err := json.Marshal(cur)
		if err != nil {
			return counter.Mutation{}, err
		}
		return counter.Mutation{Value: raw, TTL: o.cfg.SessionTTL}, nil
	})
	if err != nil {
		return "", err
	}
	if err := o.Store.Delete(ctx, failuresKey(id, primary)); err != nil {
		o.Logger.WarnContext(ctx, "reset failure counter not cleared", "error", err)
	}
	metrics.ResetSteps.WithLabelValues("verify", "verified").Inc()
	return secondary, nil
}

// CompleteRequest is the final reset step.
type CompleteRequest struct {
	Identifier      string
	PrimaryToken    string
	SecondaryToken  string
	NewPassword     string
	ConfirmPassword string
}

// Complete sets the new password once the session has been verified.
func (o *Orchestrator) Complete(ctx context.Context, req CompleteRequest, from Origin) error {
	id := account.NormalizeIdentifier(req.Identifier)
	sess, _, err := o.load(ctx, id, req.PrimaryToken)
	if errors.Is(err, failure.ErrChallengeExpired) {
		metrics.ResetSteps.WithLabelValues("complete", "sequence_violation").Inc()
		return failure.ErrResetSequenceViolation
	}
	if err != nil {
		return err
	}
	if sess.Status == StatusCompleted {
		o.replay(ctx, sess, "complete", from)
		return failure.ErrResetSequenceViolation
	}
	if !sess.hasStep(StepEmailVerification) || sess.Status != StatusEmailVerified ||
		subtle.ConstantTimeCompare([]byte(sess.SecondaryToken), []byte(req.SecondaryToken)) != 1 {
		metrics.ResetSteps.WithLabelValues("complete", "sequence_violation").Inc()
		return failure.ErrResetSequenceViolation
	}

	if req.NewPassword != req.ConfirmPassword {
		return failure.ErrPasswordMismatch
	}
	if err := password.Validate(req.NewPassword); err != nil {
		return fmt.Errorf("%w: %v", failure.ErrPasswordPolicy, err)
	}

	admin, err := o.Accounts.FindByIdentifier(ctx, id)
	if err != nil {
		return fmt.Errorf("reset: load account: %w", err)
	}
	if admin.ID != sess.AccountID {
		return failure.ErrResetSequenceViolation
	}
	if same, _ := o.Hasher.Verify(req.NewPassword, admin.PasswordHash); same {
		metrics.ResetSteps.WithLabelValues("complete", "reuse").Inc()
		return failure.ErrPasswordReuse
	}
	hash, err := o.Hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}

	// Claim the session before touching the account so the step can only
	// succeed once.
	var previous []byte
	err = o.Store.Update(ctx, sessionKey(id, req.PrimaryToken), func(current []byte) (counter.Mutation, error) {
		cur, err := decode(current)
		if err != nil || cur.Status != StatusEmailVerified || cur.SecondaryToken != sess.SecondaryToken {
			return counter.Mutation{}, failure.ErrResetSequenceViolation
		}
		previous = current
		cur.Status = StatusCompleted
		cur.UpdatedAt = o.now().UTC()
		raw, err := json.Marshal(cur)
		if err != nil {
			return counter.Mutation{}, err
		}
		return counter.Mutation{Value: raw, TTL: o.cfg.CompletedRetention}, nil
	})
	if err != nil {
		return err
	}

	if err := o.Accounts.SetPasswordHash(ctx, admin.ID, hash); err != nil {
		if previous != nil {
			if rerr := o.Store.Set(ctx, sessionKey(id, req.PrimaryToken), previous, o.cfg.SessionTTL); rerr != nil {
				o.Logger.ErrorContext(ctx, "reset session not restored after failed password write", "error", rerr)
			}
		}
		return fmt.Errorf("reset: set password: %w", err)
	}
	if err := o.Accounts.ClearMustChangeFlag(ctx, admin.ID); err != nil {
		o.Logger.WarnContext(ctx, "must-change flag not cleared", "error", err)
	}
	if o.Lockouts != nil {
		if err := o.Lockouts.ClearLockout(ctx, id); err != nil {
			o.Logger.WarnContext(ctx, "lockout not cleared after reset", "error", err)
		}
	}

	o.notifyCompleted(ctx, admin, from)
	metrics.ResetSteps.WithLabelValues("complete", "completed").Inc()
	return nil
}

func (o *Orchestrator) notifyCompleted(ctx context.Context, admin *account.Admin, from Origin) {
	loc := o.Recorder.Locate(ctx, from.IP)
	when := o.now().UTC().Format("2006-01-02 15:04 MST")
	body := fmt.Sprintf(
		"The password for hospital administrator account %s was changed at %s.\n\n"+
			"Location: %s\nIP address: %s\nDevice: %s\n\n"+
			"If you did not make this change, contact the security team immediately.",
		admin.Identifier, when, loc, orUnknown(from.IP), from.UserAgent)
	o.Notifier.Send(ctx, account.ContactAddress(admin), "Your password was changed", body)
	if o.cfg.SecurityTeam != "" {
		o.Notifier.Send(ctx, o.cfg.SecurityTeam, "Password reset completed: "+admin.Identifier, body)
	}
}

func (o *Orchestrator) replay(ctx context.Context, sess *Session, step string, from Origin) {
	metrics.ResetSteps.WithLabelValues(step, "replay").Inc()
	loc := o.Recorder.Locate(ctx, from.IP)
	o.Recorder.Emit(ctx, audit.Event{
		Action:     ActionReplay,
		Identifier: sess.Identifier,
		IP:         from.IP,
		UserAgent:  from.UserAgent,
		Country:    loc.Country,
		City:       loc.City,
		Outcome:    audit.OutcomeFailed,
		Severity:   audit.SeverityWarning,
		Detail: map[string]string{
			"step":         step,
			"completed_at": sess.UpdatedAt.Format(time.RFC3339),
			"original_ip":  sess.IP,
		},
	})
}

func (o *Orchestrator) load(ctx context.Context, identifier, primary string) (*Session, []byte, error) {
	if identifier == "" || !validPrimary(primary) {
		return nil, nil, failure.ErrChallengeExpired
	}
	raw, err := o.Store.Get(ctx, sessionKey(identifier, primary))
	if errors.Is(err, counter.ErrNotFound) {
		return nil, nil, failure.ErrChallengeExpired
	}
	if err != nil {
		return nil, nil, err
	}
	sess, err := decode(raw)
	if err != nil {
		_ = o.Store.Delete(ctx, sessionKey(identifier, primary))
		return nil, nil, failure.ErrChallengeExpired
	}
	return sess, raw, nil
}

func decode(raw []byte) (*Session, error) {
	if raw == nil {
		return nil, counter.ErrNotFound
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func orUnknown(ip string) string {
	if ip == "" {
		return "unknown"
	}
	return ip
}
