package infra

import (
	"context"
	"errors"
	"fmt"

	"pdv/internal/fiscal"
)

// BreakerTransport guards a fiscal.Transport with a CircuitBreaker. An open
// breaker surfaces as fiscal.ErrUnavailable, which callers record without
// ever reaching the authority.
type BreakerTransport struct {
	next fiscal.Transport
	cb   *CircuitBreaker
}

func NewBreakerTransport(next fiscal.Transport, cb *CircuitBreaker) *BreakerTransport {
	return &BreakerTransport{next: next, cb: cb}
}

// Breaker exposes the underlying breaker for health checks and the retry sweep.
func (t *BreakerTransport) Breaker() *CircuitBreaker { return t.cb }

func (t *BreakerTransport) Submit(ctx context.Context, s fiscal.Submission) (*fiscal.Ack, error) {
	var ack *fiscal.Ack
	err := t.cb.Execute(func() error {
		var err error
		ack, err = t.next.Submit(ctx, s)
		return err
	})
	return ack, t.wrap(err)
}

func (t *BreakerTransport) Cancel(ctx context.Context, r fiscal.CancelRequest) (*fiscal.Ack, error) {
	var ack *fiscal.Ack
	err := t.cb.Execute(func() error {
		var err error
		ack, err = t.next.Cancel(ctx, r)
		return err
	})
	return ack, t.wrap(err)
}

func (t *BreakerTransport) Query(ctx context.Context, q fiscal.QueryRequest) (*fiscal.StatusReport, error) {
	var rep *fiscal.StatusReport
	err := t.cb.Execute(func() error {
		var err error
		rep, err = t.next.Query(ctx, q)
		return err
	})
	return rep, t.wrap(err)
}

func (t *BreakerTransport) wrap(err error) error {
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%s: %w: %v", t.cb.Name(), fiscal.ErrUnavailable, err)
	}
	return err
}

// IsTransportFailure is the breaker classifier for fiscal transports: only
// failures to get an answer count, rejections and caller cancellations do not.
func IsTransportFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, fiscal.ErrUnavailable) {
		return true
	}
	_, ok := fiscal.AsTransportError(err)
	return ok
}

var _ fiscal.Transport = (*BreakerTransport)(nil)
