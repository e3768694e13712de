package routing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"waas-dispatch-service/internal/domain"
)

// maxRetryAfter caps how long a rate-limited call may stall a dispatch.
const maxRetryAfter = 30 * time.Second

// upstreamError is a failed exchange with ORS: an HTTP error status, or a
// transport failure when Status is 0. It matches domain.ErrExternalService.
type upstreamError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *upstreamError) Error() string {
	if e.Status == 0 {
		return "ors transport: " + e.Err.Error()
	}
	return fmt.Sprintf("ors status %d: %s", e.Status, e.Body)
}

func (e *upstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrExternalService}
	}
	return []error{domain.ErrExternalService, e.Err}
}

// transient reports whether the same request may succeed later.
func (e *upstreamError) transient() bool {
	switch e.Status {
	case 0:
		var netErr net.Error
		return errors.As(e.Err, &netErr)
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// postJSON sends payload to path and returns the successful response.
// Transient failures are retried up to maxAttempts; the delay doubles per
// attempt and a 429 waits at least as long as its Retry-After asks.
func (o *ORSOptimizer) postJSON(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	url := o.baseURL + path
	wait := o.backoff

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build ors request: %w", err)
		}
		req.Header.Set("Authorization", o.apiKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")

		resp, uerr := o.send(req)
		if uerr == nil {
			return resp, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, &upstreamError{Err: err}
		}
		if !uerr.transient() || attempt >= o.maxAttempts {
			return nil, uerr
		}

		delay := max(wait, uerr.RetryAfter)
		o.log.Debug().
			Int("attempt", attempt).
			Int("status", uerr.Status).
			Dur("delay", delay).
			Msg("ors call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &upstreamError{Err: ctx.Err()}
		case <-timer.C:
		}
		wait *= 2
	}
}

func (o *ORSOptimizer) send(req *http.Request) (*http.Response, *upstreamError) {
	resp, err := o.session.Do(req)
	if err != nil {
		return nil, &upstreamError{Err: err}
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil, &upstreamError{
		Status:     resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP date. Unparseable or past
// values yield 0; long waits are capped at maxRetryAfter.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}

	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
	}

	return min(max(d, 0), maxRetryAfter)
}
