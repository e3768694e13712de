package notify

import (
	"context"
	"errors"
	"sync"
	"time"
	"waas-dispatch-service/internal/ports"

	"github.com/rs/zerolog"
)

const DefaultSendTimeout = 10 * time.Second

var ErrClosed = errors.New("notifier closed")

// Async hands every notification to a background goroutine so callers never
// wait on the broker. Each delivery gets its own timeout and is detached
// from the caller's context. Failures are logged.
type Async struct {
	next    ports.Notifier
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsync(next ports.Notifier, timeout time.Duration, log zerolog.Logger) *Async {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Async{next: next, timeout: timeout, log: log}
}

// Send schedules delivery and returns immediately.
func (a *Async) Send(ctx context.Context, n ports.Notification) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		if err := a.next.Send(sctx, n); err != nil {
			a.log.Warn().Err(err).Str("recipient", n.Recipient).Msg("notification delivery failed")
		}
	}()
	return nil
}

// Close stops accepting notifications and waits for in-flight deliveries,
// or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
