package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/MrEthical07/hospitalauth/internal/metrics"
)

// DefaultTimeout bounds one delivery when none is configured.
const DefaultTimeout = 5 * time.Second

// FailureHook observes a failed delivery.
type FailureHook func(ctx context.Context, to, subject string, err error)

// Dispatcher sends notifications in the background with a bounded timeout.
// Failures are logged, counted, and reported to the hook; they are never
// returned to the caller.
type Dispatcher struct {
	notifier  Notifier
	timeout   time.Duration
	logger    *slog.Logger
	onFailure FailureHook
	wg        sync.WaitGroup
}

// NewDispatcher wraps notifier. A zero timeout uses 5s; a nil logger discards.
func NewDispatcher(notifier Notifier, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{notifier: notifier, timeout: timeout, logger: logger}
}

// OnFailure registers hook for failed deliveries.
func (d *Dispatcher) OnFailure(hook FailureHook) {
	d.onFailure = hook
}

// Send schedules delivery. An empty recipient is skipped silently.
func (d *Dispatcher) Send(ctx context.Context, to, subject, body string) {
	if d == nil || d.notifier == nil || to == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(detached, to, subject, body)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, to, subject, body string) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("notifier panic: %v", r)
			}
		}()
		errCh <- d.notifier.Send(ctx, to, subject, body)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err == nil {
		metrics.Notifications.WithLabelValues("sent").Inc()
		return
	}

	metrics.Notifications.WithLabelValues("failed").Inc()
	wrapped := fmt.Errorf("%w: %v", failure.ErrNotificationDeliveryFailed, err)
	d.logger.WarnContext(ctx, "notification delivery failed", "subject", subject, "error", wrapped)
	if d.onFailure != nil {
		d.onFailure(ctx, to, subject, wrapped)
	}
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
