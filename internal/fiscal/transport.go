package fiscal

import (
	"context"
	"errors"
	"fmt"
)

// Submission is one emission attempt. Reference is stable across attempts of
// the same document and is sent as the idempotency key.
type Submission struct {
	Kind           Kind
	Reference      string
	AccessKey      string
	DocumentNumber int64
	Payload        []byte
}

// CancelRequest asks the authority to void an accepted document.
type CancelRequest struct {
	Kind          Kind
	Reference     string
	AccessKey     string
	Protocol      string
	Justification string
	Payload       []byte
}

// QueryRequest looks a document up by access key, or by Reference when the
// key is assigned remotely and the acknowledgment was lost.
type QueryRequest struct {
	Kind      Kind
	AccessKey string
	Reference string
}

// Ack is the authority's answer to a submission or cancellation.
// Accepted=false is an explicit rejection, not a transport failure.
type Ack struct {
	Accepted  bool
	AccessKey string
	Protocol  string
	Code      string
	Message   string
}

// RemoteState is the authority's view of a document.
type RemoteState string

const (
	RemoteAuthorized RemoteState = "authorized"
	RemoteCancelled  RemoteState = "cancelled"
	RemoteRejected   RemoteState = "rejected"
	RemoteNotFound   RemoteState = "not_found"
)

// StatusReport is the answer to a status query.
type StatusReport struct {
	AccessKey string      `json:"access_key"`
	State     RemoteState `json:"state"`
	Protocol  string      `json:"protocol,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Transport is the boundary to an authority or device. Implementations must
// honor ctx deadlines and must not retry on their own.
type Transport interface {
	Submit(ctx context.Context, s Submission) (*Ack, error)
	Cancel(ctx context.Context, r CancelRequest) (*Ack, error)
	Query(ctx context.Context, q QueryRequest) (*StatusReport, error)
}

// TransportError is a failure to get an answer at all.
// MaybeDelivered is false only when the request certainly never left.
type TransportError struct {
	Op             string
	Timeout        bool
	MaybeDelivered bool
	Err            error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("fiscal %s: timeout: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("fiscal %s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrUnavailable marks a transport that refused to try (e.g. open circuit).
var ErrUnavailable = errors.New("fiscal transport unavailable")

// AsTransportError extracts a *TransportError from err's chain.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	ok := errors.As(err, &te)
	return te, ok
}
