package hospitalauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/hospitalauth/account"
	"github.com/MrEthical07/hospitalauth/internal/audit"
	"github.com/MrEthical07/hospitalauth/internal/challenge"
	"github.com/MrEthical07/hospitalauth/internal/counter"
	"github.com/MrEthical07/hospitalauth/internal/credential"
	"github.com/MrEthical07/hospitalauth/internal/device"
	"github.com/MrEthical07/hospitalauth/internal/geo"
	"github.com/MrEthical07/hospitalauth/internal/governor"
	"github.com/MrEthical07/hospitalauth/internal/pipeline"
	"github.com/MrEthical07/hospitalauth/internal/reset"
	"github.com/MrEthical07/hospitalauth/notify"
	"github.com/MrEthical07/hospitalauth/password"
	"github.com/MrEthical07/hospitalauth/token"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const geoLookupTimeout = 2 * time.Second

// Builder assembles an [Engine]. A Builder is used once; configure it
// during initialization and call Build.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	accounts account.Repository
	hasher   password.Hasher
	notifier notify.Notifier
	logger   *slog.Logger
	sink     AuditSink
	geoURL   string
	locator  geo.Locator
	tracer   trace.Tracer
	now      func() time.Time

	built bool
}

// New returns a Builder with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing every counter, challenge and reset
// session. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccounts sets the account repository. Required.
func (b *Builder) WithAccounts(repo account.Repository) *Builder {
	b.accounts = repo
	return b
}

// WithHasher overrides the password hasher. The default hashes with bcrypt
// at Config.Password.BcryptCost and also verifies argon2id hashes.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithNotifier sets the mail channel for codes and alerts. Without one no
// message is sent.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLogger sets the structured logger. The default discards.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go. The default logs them.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithGeoLookup resolves audit locations through the JSON lookup service
// at baseURL.
func (b *Builder) WithGeoLookup(baseURL string) *Builder {
	b.geoURL = baseURL
	return b
}

// WithTracer sets the tracer for operation spans. The default uses the
// global provider.
func (b *Builder) WithTracer(tracer trace.Tracer) *Builder {
	b.tracer = tracer
	return b
}

// WithClock overrides the time source of every component. Intended for
// tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) withLocator(l geo.Locator) *Builder {
	b.locator = l
	return b
}

// Build validates the configuration and wires the components.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account repository required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	hasher := b.hasher
	if hasher == nil {
		hasher = password.NewMulti(cfg.Password.BcryptCost)
	}

	// -------- AUDIT --------
	sink := b.sink
	if sink == nil {
		sink = audit.NewSlogSink(logger)
	}
	dispatcher := audit.NewDispatcher(audit.DispatcherConfig{
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
	}, sink)

	locator := b.locator
	if locator == nil && b.geoURL != "" {
		locator = geo.NewHTTPLocator(b.geoURL, geoLookupTimeout, logger)
	}
	recorder := audit.NewRecorder(dispatcher, locator).WithClock(now)

	// -------- NOTIFICATIONS --------
	if b.notifier == nil {
		logger.Warn("no notifier configured: verification codes and alerts will not be delivered")
	}
	notifier := notify.NewDispatcher(b.notifier, cfg.Notify.Timeout, logger)
	notifier.OnFailure(func(ctx context.Context, _, subject string, err error) {
		recorder.Emit(ctx, audit.Event{
			Action:   ActionNotificationFailed,
			Outcome:  audit.OutcomeError,
			Severity: audit.SeverityWarning,
			Detail:   map[string]string{"subject": subject, "error": err.Error()},
		})
	})

	// -------- COMPONENTS --------
	store := counter.NewRedisStore(b.redis, cfg.RedisPrefix)

	tokens, err := token.NewIssuer(cfg.tokenConfig())
	if err != nil {
		dispatcher.Close()
		return nil, err
	}
	tokens.WithClock(now)

	accounts := b.accounts
	gov, err := governor.New(store, cfg.governorConfig(),
		governor.WithNotifier(notifier),
		governor.WithRecorder(recorder),
		governor.WithLogger(logger),
		governor.WithClock(now),
		governor.WithContactResolver(func(ctx context.Context, identifier string) string {
			admin, err := accounts.FindByIdentifier(ctx, identifier)
			if err != nil {
				return ""
			}
			return account.ContactAddress(admin)
		}),
	)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	challenges, err := challenge.NewIssuer(store, notifier, cfg.challengeConfig(), logger)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}
	challenges.WithClock(now)

	verifier := credential.NewVerifier(accounts, hasher, cfg.Policy.RelaxedFacilityMatch)

	resets, err := reset.New(reset.Deps{
		Store:    store,
		Verifier: verifier,
		Accounts: accounts,
		Hasher:   hasher,
		Lockouts: gov,
		Notifier: notifier,
		Recorder: recorder,
		Logger:   logger,
	}, cfg.resetConfig())
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("password reset: %w", err)
	}
	resets.WithClock(now)

	b.built = true
	return &Engine{
		config:     cfg,
		accounts:   accounts,
		verifier:   verifier,
		governor:   gov,
		challenges: challenges,
		devices:    device.NewRegistry(store, cfg.Device.TrustTTL),
		resets:     resets,
		tokens:     tokens,
		recorder:   recorder,
		audit:      dispatcher,
		notifier:   notifier,
		logger:     logger,
		tracing:    pipeline.Tracing(b.tracer),
		now:        now,
	}, nil
}
