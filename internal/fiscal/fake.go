package fiscal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// FakeTransport is an in-process authority used by tests and the "fake"
// transport mode. It is idempotent per Reference and can be scripted to fail.
type FakeTransport struct {
	mu      sync.Mutex
	cnpj    string
	issued  time.Time
	seq     int64
	byRef   map[string]*fakeDoc
	byKey   map[string]*fakeDoc
	failSub int
	reject  int
	loseAck int
	failCan int
	down    bool

	submits, cancels, queries int
}

type fakeDoc struct {
	key      string
	protocol string
	state    RemoteState
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		cnpj:   "11222333000181",
		issued: time.Now(),
		byRef:  make(map[string]*fakeDoc),
		byKey:  make(map[string]*fakeDoc),
	}
}

// FailNextSubmit makes the next n submissions fail before reaching the authority.
func (f *FakeTransport) FailNextSubmit(n int) { f.mu.Lock(); f.failSub += n; f.mu.Unlock() }

// RejectNextSubmit makes the next n submissions come back rejected.
func (f *FakeTransport) RejectNextSubmit(n int) { f.mu.Lock(); f.reject += n; f.mu.Unlock() }

// LoseNextAck authorizes the next n submissions but times out before answering.
func (f *FakeTransport) LoseNextAck(n int) { f.mu.Lock(); f.loseAck += n; f.mu.Unlock() }

// FailNextCancel makes the next n cancellations fail in transit.
func (f *FakeTransport) FailNextCancel(n int) { f.mu.Lock(); f.failCan += n; f.mu.Unlock() }

// SetUnavailable toggles a full outage.
func (f *FakeTransport) SetUnavailable(down bool) { f.mu.Lock(); f.down = down; f.mu.Unlock() }

// Calls returns how many submit, cancel and query calls were received.
func (f *FakeTransport) Calls() (submits, cancels, queries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.cancels, f.queries
}

// Authorized returns how many distinct documents the fake has authorized.
func (f *FakeTransport) Authorized() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.byRef {
		if d.state == RemoteAuthorized {
			n++
		}
	}
	return n
}

func (f *FakeTransport) Submit(ctx context.Context, s Submission) (*Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++

	if err := f.precheck(ctx, "submit"); err != nil {
		return nil, err
	}
	if f.failSub > 0 {
		f.failSub--
		return nil, &TransportError{Op: "submit", Err: errors.New("connection refused")}
	}
	if d, ok := f.byRef[s.Reference]; ok && d.state == RemoteAuthorized {
		return &Ack{Accepted: true, AccessKey: d.key, Protocol: d.protocol, Code: "204", Message: "duplicate, already authorized"}, nil
	}
	if f.reject > 0 {
		f.reject--
		return &Ack{Accepted: false, AccessKey: s.AccessKey, Code: "539", Message: "rejected by fake authority"}, nil
	}

	f.seq++
	key := s.AccessKey
	if key == "" {
		var err error
		key, err = BuildAccessKey(KeyParts{
			State: "SP", IssuedAt: f.issued, CNPJ: f.cnpj, Model: s.Kind.Model(),
			Series: 1, Number: f.seq, EmissionType: 1, NumericCode: int(f.seq),
		})
		if err != nil {
			return nil, &TransportError{Op: "submit", Err: err}
		}
	}
	d := &fakeDoc{key: key, protocol: fmt.Sprintf("1%014d", f.seq), state: RemoteAuthorized}
	f.byRef[s.Reference] = d
	f.byKey[key] = d

	if f.loseAck > 0 {
		f.loseAck--
		return nil, &TransportError{Op: "submit", Timeout: true, MaybeDelivered: true, Err: context.DeadlineExceeded}
	}
	return &Ack{Accepted: true, AccessKey: d.key, Protocol: d.protocol, Code: "100", Message: "authorized"}, nil
}

func (f *FakeTransport) Cancel(ctx context.Context, r CancelRequest) (*Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++

	if err := f.precheck(ctx, "cancel"); err != nil {
		return nil, err
	}
	if f.failCan > 0 {
		f.failCan--
		return nil, &TransportError{Op: "cancel", Err: errors.New("connection reset")}
	}
	d, ok := f.byKey[r.AccessKey]
	if !ok {
		return &Ack{Accepted: false, AccessKey: r.AccessKey, Code: "217", Message: "document not found"}, nil
	}
	if d.state != RemoteCancelled {
		f.seq++
		d.state = RemoteCancelled
		d.protocol = fmt.Sprintf("2%014d", f.seq)
	}
	return &Ack{Accepted: true, AccessKey: d.key, Protocol: d.protocol, Code: "135", Message: "cancellation registered"}, nil
}

func (f *FakeTransport) Query(ctx context.Context, q QueryRequest) (*StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++

	if err := f.precheck(ctx, "query"); err != nil {
		return nil, err
	}
	d, ok := f.byKey[q.AccessKey]
	if !ok && q.Reference != "" {
		d, ok = f.byRef[q.Reference]
	}
	if !ok {
		return &StatusReport{AccessKey: q.AccessKey, State: RemoteNotFound}, nil
	}
	return &StatusReport{AccessKey: d.key, State: d.state, Protocol: d.protocol}, nil
}

func (f *FakeTransport) precheck(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if f.down {
		return fmt.Errorf("fiscal %s: %w", op, ErrUnavailable)
	}
	return nil
}

var _ Transport = (*FakeTransport)(nil)
