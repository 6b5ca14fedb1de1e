package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"pdv/internal/domainerr"
	"pdv/internal/fiscal"
	"pdv/internal/model"
	"pdv/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nfce = string(fiscal.KindNFCe)

func TestEmit_AuthorizesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	doc, err := h.fiscal.Emit(ctx, sale.ID, nfce)
	require.NoError(t, err)
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	require.NotNil(t, doc.AccessKey)
	assert.True(t, fiscal.ValidAccessKey(*doc.AccessKey))
	require.NotNil(t, doc.ProtocolNumber)
	assert.Equal(t, 1, doc.Attempts)
	assert.EqualValues(t, 1, doc.DocumentNumber)
	assert.Contains(t, doc.Payload, *doc.AccessKey)

	_, err = h.fiscal.Emit(ctx, sale.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrAlreadyEmitted)

	submits, _, _ := h.nfce.Calls()
	assert.Equal(t, 1, submits)
}

func TestEmit_ConcurrentCallsSubmitOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.fiscal.Emit(ctx, sale.ID, nfce)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, domainerr.CodeOf(err) == domainerr.ErrAlreadyEmitted.Code ||
			domainerr.CodeOf(err) == domainerr.ErrEmissionInProgress.Code, "unexpected error %v", err)
	}
	assert.Equal(t, 1, ok)
	submits, _, _ := h.nfce.Calls()
	assert.Equal(t, 1, submits)
}

func TestEmit_Preconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")

	open, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.fiscal.Emit(ctx, open.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrSaleNotFinalized)

	_, err = h.fiscal.Emit(ctx, uuid.New(), nfce)
	assert.ErrorIs(t, err, domainerr.ErrSaleNotFound)

	sale := h.finalizedSale(t, p, "1")
	_, err = h.fiscal.Emit(ctx, sale.ID, "nfe")
	assert.ErrorIs(t, err, domainerr.ErrUnsupportedKind)

	onlyNFCe := service.NewFiscalEmitter(service.FiscalConfig{
		UnitOfWork: h.store,
		Builder:    fiscal.NewBuilder(testIssuer()),
		Transports: map[fiscal.Kind]fiscal.Transport{fiscal.KindNFCe: h.nfce},
	})
	_, err = onlyNFCe.Emit(ctx, sale.ID, string(fiscal.KindSAT))
	assert.ErrorIs(t, err, domainerr.ErrUnsupportedKind)
}

func TestEmit_TransportFailureIsRecordedAndRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	h.nfce.FailNextSubmit(1)
	doc, err := h.fiscal.Emit(ctx, sale.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrFiscalTransport)
	assert.Equal(t, domainerr.External, domainerr.CategoryOf(err))
	require.NotNil(t, doc)
	assert.Equal(t, model.FiscalError, doc.Status)
	assert.Equal(t, model.FailureTransport, *doc.ErrorCategory)
	assert.False(t, doc.OutcomeUnknown)
	require.NotNil(t, doc.NextAttemptAt)
	key := *doc.AccessKey

	got, err := h.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SaleFinalized, got.Status)

	doc, err = h.fiscal.Emit(ctx, sale.ID, nfce)
	require.NoError(t, err)
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	assert.Equal(t, 2, doc.Attempts)
	assert.Equal(t, key, *doc.AccessKey)
	assert.Nil(t, doc.LastError)
}

func TestEmit_RejectionIsNotScheduled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	h.nfce.RejectNextSubmit(1)
	doc, err := h.fiscal.Emit(ctx, sale.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrFiscalRejected)
	assert.Equal(t, model.FiscalError, doc.Status)
	assert.Equal(t, model.FailureRejected, *doc.ErrorCategory)
	assert.Nil(t, doc.NextAttemptAt)
	assert.Contains(t, *doc.LastError, "539")

	due, err := h.fiscal.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	attention, err := h.fiscal.ListAttention(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, attention, 1)
}

func TestEmit_LostAcknowledgmentIsReconciledNotResubmitted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	h.nfce.LoseNextAck(1)
	doc, err := h.fiscal.Emit(ctx, sale.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrFiscalTimeout)
	assert.Equal(t, model.FiscalError, doc.Status)
	assert.True(t, doc.OutcomeUnknown)
	assert.Equal(t, model.FailureTimeout, *doc.ErrorCategory)

	doc, err = h.fiscal.Emit(ctx, sale.ID, nfce)
	require.NoError(t, err)
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	assert.False(t, doc.OutcomeUnknown)

	submits, _, queries := h.nfce.Calls()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 1, queries)
	assert.Equal(t, 1, h.nfce.Authorized())
}

func TestEmit_UnknownOutcomeNotDeliveredIsResubmitted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	// An outage: nothing reaches the authority.
	h.nfce.SetUnavailable(true)
	doc, err := h.fiscal.Emit(ctx, sale.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrFiscalUnavailable)
	assert.False(t, doc.OutcomeUnknown)
	h.nfce.SetUnavailable(false)

	doc, err = h.fiscal.Emit(ctx, sale.ID, nfce)
	require.NoError(t, err)
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	submits, _, queries := h.nfce.Calls()
	assert.Equal(t, 2, submits)
	assert.Equal(t, 0, queries)
}

func TestEmit_DeviceKindGetsKeyFromDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "KG", "40.00", "5")
	sale := h.finalizedSale(t, p, "0.750")

	doc, err := h.fiscal.Emit(ctx, sale.ID, string(fiscal.KindSAT))
	require.NoError(t, err)
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	require.NotNil(t, doc.AccessKey)
	kind, ok := fiscal.KindOfKey(*doc.AccessKey)
	require.True(t, ok)
	assert.Equal(t, fiscal.KindSAT, kind)
	assert.Contains(t, doc.Payload, "<CFe>")

	rep, err := h.fiscal.QueryStatus(ctx, *doc.AccessKey)
	require.NoError(t, err)
	assert.Equal(t, fiscal.RemoteAuthorized, rep.State)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	_, err := h.fiscal.Cancel(ctx, sale.ID, nfce, "issued against the wrong sale")
	assert.ErrorIs(t, err, domainerr.ErrNothingToCancel)

	_, err = h.fiscal.Emit(ctx, sale.ID, nfce)
	require.NoError(t, err)

	_, err = h.fiscal.Cancel(ctx, sale.ID, nfce, "short")
	assert.ErrorIs(t, err, domainerr.ErrInvalidJustification)

	h.nfce.FailNextCancel(1)
	doc, err := h.fiscal.Cancel(ctx, sale.ID, nfce, "issued against the wrong sale")
	assert.ErrorIs(t, err, domainerr.ErrFiscalTransport)
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	assert.True(t, doc.CancellationPending)

	doc, err = h.fiscal.Cancel(ctx, sale.ID, nfce, "issued against the wrong sale")
	require.NoError(t, err)
	assert.Equal(t, model.FiscalCancelled, doc.Status)
	assert.False(t, doc.CancellationPending)
	require.NotNil(t, doc.CancellationProtocol)
	assert.Equal(t, 2, doc.CancellationAttempts)

	_, err = h.fiscal.Cancel(ctx, sale.ID, nfce, "issued against the wrong sale")
	assert.ErrorIs(t, err, domainerr.ErrNothingToCancel)
	_, err = h.fiscal.Emit(ctx, sale.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrAlreadyEmitted)

	rep, err := h.fiscal.QueryStatus(ctx, *doc.AccessKey)
	require.NoError(t, err)
	assert.Equal(t, fiscal.RemoteCancelled, rep.State)
}

func TestQueryStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.fiscal.QueryStatus(ctx, "123")
	assert.ErrorIs(t, err, domainerr.ErrInvalidAccessKey)

	rep, err := h.fiscal.QueryStatus(ctx, "35260312345678000195650010000000011123456782")
	require.NoError(t, err)
	assert.Equal(t, fiscal.RemoteNotFound, rep.State)

	h.nfce.SetUnavailable(true)
	_, err = h.fiscal.QueryStatus(ctx, "35260312345678000195650010000000011123456782")
	assert.ErrorIs(t, err, domainerr.ErrFiscalUnavailable)
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	_, err := h.fiscal.Reconcile(ctx, sale.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrDocumentNotFound)

	h.nfce.LoseNextAck(1)
	_, err = h.fiscal.Emit(ctx, sale.ID, nfce)
	require.Error(t, err)

	doc, err := h.fiscal.Reconcile(ctx, sale.ID, nfce)
	require.NoError(t, err)
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	assert.False(t, doc.OutcomeUnknown)
	assert.NotNil(t, doc.ProtocolNumber)
	submits, _, _ := h.nfce.Calls()
	assert.Equal(t, 1, submits)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	h := newHarness(t, withMaxAttempts(2))
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	h.nfce.FailNextSubmit(5)
	_, err := h.fiscal.Emit(ctx, sale.ID, nfce)
	require.Error(t, err)

	var due []model.FiscalDocument
	require.Eventually(t, func() bool {
		due, err = h.fiscal.Due(ctx, 10)
		return err == nil && len(due) == 1
	}, time.Second, 5*time.Millisecond)

	outcome, err := h.fiscal.Retry(ctx, due[0])
	assert.Error(t, err)
	assert.Equal(t, service.RetryExhausted, outcome)

	doc, err := h.fiscal.Get(ctx, sale.ID, nfce)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Attempts)
	assert.Nil(t, doc.NextAttemptAt)
}

func TestRetry_EmitsDueDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	h.nfce.LoseNextAck(1)
	_, err := h.fiscal.Emit(ctx, sale.ID, nfce)
	require.Error(t, err)

	var due []model.FiscalDocument
	require.Eventually(t, func() bool {
		due, err = h.fiscal.Due(ctx, 10)
		return err == nil && len(due) == 1
	}, time.Second, 5*time.Millisecond)

	outcome, err := h.fiscal.Retry(ctx, due[0])
	require.NoError(t, err)
	assert.Equal(t, service.RetryEmitted, outcome)
	assert.Equal(t, 1, h.nfce.Authorized())
}

func TestListAttention_ShowsFailedDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	h.nfce.RejectNextSubmit(1)
	_, err := h.fiscal.Emit(ctx, sale.ID, nfce)
	require.Error(t, err)

	attention, err := h.fiscal.ListAttention(ctx, 10)
	require.NoError(t, err)
	require.Len(t, attention, 1)
	assert.Equal(t, sale.ID, attention[0].SaleID)
}

func TestRetry_StopsForCancelledSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	h.nfce.FailNextSubmit(1)
	_, err := h.fiscal.Emit(ctx, sale.ID, nfce)
	require.Error(t, err)
	_, err = h.sales.CancelSale(ctx, sale.ID, "customer gave up at checkout")
	require.NoError(t, err)

	doc, err := h.fiscal.Get(ctx, sale.ID, nfce)
	require.NoError(t, err)
	outcome, err := h.fiscal.Retry(ctx, *doc)
	require.NoError(t, err)
	assert.Equal(t, service.RetrySkipped, outcome)

	doc, err = h.fiscal.Get(ctx, sale.ID, nfce)
	require.NoError(t, err)
	assert.Nil(t, doc.NextAttemptAt)
	require.NotNil(t, doc.ErrorCategory)
	assert.Equal(t, model.FailureSaleVoided, *doc.ErrorCategory)
	submits, _, _ := h.nfce.Calls()
	assert.Equal(t, 1, submits)

	// Voided documents need no operator.
	attention, err := h.fiscal.ListAttention(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, attention)
	due, err := h.fiscal.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

// blockingTransport parks submissions until release is closed.
type blockingTransport struct {
	*fiscal.FakeTransport
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTransport) Submit(ctx context.Context, s fiscal.Submission) (*fiscal.Ack, error) {
	close(b.entered)
	<-b.release
	return b.FakeTransport.Submit(ctx, s)
}

func TestEmit_InProgressWhileSubmitting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	bt := &blockingTransport{FakeTransport: fiscal.NewFakeTransport(), entered: make(chan struct{}), release: make(chan struct{})}
	emitter := service.NewFiscalEmitter(service.FiscalConfig{
		UnitOfWork:    h.store,
		Builder:       fiscal.NewBuilder(testIssuer()),
		Transports:    map[fiscal.Kind]fiscal.Transport{fiscal.KindNFCe: bt},
		SubmitTimeout: 5 * time.Second,
		StaleAfter:    time.Minute,
	})

	done := make(chan error, 1)
	go func() {
		_, err := emitter.Emit(ctx, sale.ID, nfce)
		done <- err
	}()
	<-bt.entered

	_, err := emitter.Emit(ctx, sale.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrEmissionInProgress)
	_, err = emitter.Reconcile(ctx, sale.ID, nfce)
	assert.ErrorIs(t, err, domainerr.ErrEmissionInProgress)

	close(bt.release)
	require.NoError(t, <-done)
	doc, err := emitter.Get(ctx, sale.ID, nfce)
	require.NoError(t, err)
	assert.Equal(t, model.FiscalEmitted, doc.Status)
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{FakeTransport: fiscal.NewFakeTransport(), entered: make(chan struct{}), release: make(chan struct{})}
}

func TestRetry_DoesNotReclaimInFlightSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	bt := newBlockingTransport()
	emitter := service.NewFiscalEmitter(service.FiscalConfig{
		UnitOfWork:    h.store,
		Builder:       fiscal.NewBuilder(testIssuer()),
		Transports:    map[fiscal.Kind]fiscal.Transport{fiscal.KindNFCe: bt},
		SubmitTimeout: 5 * time.Second,
	})

	done := make(chan error, 1)
	go func() {
		_, err := emitter.Emit(ctx, sale.ID, nfce)
		done <- err
	}()
	<-bt.entered

	due, err := emitter.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	doc, err := emitter.Get(ctx, sale.ID, nfce)
	require.NoError(t, err)
	require.Equal(t, model.FiscalProcessing, doc.Status)
	_, err = emitter.Retry(ctx, *doc)
	assert.ErrorIs(t, err, domainerr.ErrEmissionInProgress)

	close(bt.release)
	require.NoError(t, <-done)
	submits, _, _ := bt.Calls()
	assert.Equal(t, 1, submits)
}

// stepClock is a pinned clock tests move by hand.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDue_StalenessFollowsEmitterClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	clock := &stepClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	bt := newBlockingTransport()
	emitter := service.NewFiscalEmitter(service.FiscalConfig{
		UnitOfWork:    h.store,
		Builder:       fiscal.NewBuilder(testIssuer()),
		Transports:    map[fiscal.Kind]fiscal.Transport{fiscal.KindNFCe: bt},
		SubmitTimeout: 5 * time.Second,
		StaleAfter:    time.Minute,
		Now:           clock.Now,
	})

	done := make(chan error, 1)
	go func() {
		_, err := emitter.Emit(ctx, sale.ID, nfce)
		done <- err
	}()
	<-bt.entered

	due, err := emitter.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	clock.Advance(2 * time.Minute)
	due, err = emitter.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, sale.ID, due[0].SaleID)

	close(bt.release)
	require.NoError(t, <-done)
}
