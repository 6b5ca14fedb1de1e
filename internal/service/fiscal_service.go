package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"pdv/internal/domainerr"
	"pdv/internal/fiscal"
	"pdv/internal/metrics"
	"pdv/internal/model"
	"pdv/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FiscalEmitter produces and voids fiscal documents for finalized sales.
// A document is claimed (status processing) in a short transaction before
// any external call, so two Emit calls for the same sale and kind can never
// both reach the authority. No transaction is held while the transport runs.
type FiscalEmitter interface {
	Emit(ctx context.Context, saleID uuid.UUID, kind string) (*model.FiscalDocument, error)
	Cancel(ctx context.Context, saleID uuid.UUID, kind, justification string) (*model.FiscalDocument, error)
	QueryStatus(ctx context.Context, accessKey string) (*fiscal.StatusReport, error)
	// Reconcile applies the authority's view of the document to the local row.
	Reconcile(ctx context.Context, saleID uuid.UUID, kind string) (*model.FiscalDocument, error)
	Get(ctx context.Context, saleID uuid.UUID, kind string) (*model.FiscalDocument, error)
	ListAttention(ctx context.Context, limit int) ([]model.FiscalDocument, error)

	// Due lists documents the retry sweep should drive now.
	Due(ctx context.Context, limit int) ([]model.FiscalDocument, error)
	// Retry takes one automatic step on a due document.
	Retry(ctx context.Context, doc model.FiscalDocument) (RetryOutcome, error)
}

// RetryOutcome reports what a Retry step achieved.
type RetryOutcome string

const (
	RetryEmitted   RetryOutcome = "emitted"
	RetryCancelled RetryOutcome = "cancelled"
	RetryFailed    RetryOutcome = "failed"
	RetryExhausted RetryOutcome = "exhausted"
	RetrySkipped   RetryOutcome = "skipped"
)

// FiscalConfig carries the emitter's collaborators and limits.
type FiscalConfig struct {
	UnitOfWork    repository.UnitOfWork
	Builder       *fiscal.Builder
	Transports    map[fiscal.Kind]fiscal.Transport
	Metrics       *metrics.Metrics
	SubmitTimeout time.Duration
	MaxAttempts   int
	// StaleAfter is how long a document may sit in processing before the
	// sweep assumes its submitter died. It is raised to at least
	// minStaleFactor×SubmitTimeout.
	StaleAfter    time.Duration
	RetryBase     time.Duration
	Now           Clock
}

type fiscalService struct {
	uow         repository.UnitOfWork
	builder     *fiscal.Builder
	transports  map[fiscal.Kind]fiscal.Transport
	metrics     *metrics.Metrics
	timeout     time.Duration
	maxAttempts int
	staleAfter  time.Duration
	retryBase   time.Duration
	now         Clock
}

func NewFiscalEmitter(cfg FiscalConfig) FiscalEmitter {
	s := &fiscalService{
		uow:         cfg.UnitOfWork,
		builder:     cfg.Builder,
		transports:  cfg.Transports,
		metrics:     cfg.Metrics,
		timeout:     cfg.SubmitTimeout,
		maxAttempts: cfg.MaxAttempts,
		staleAfter:  cfg.StaleAfter,
		retryBase:   cfg.RetryBase,
		now:         orNow(cfg.Now),
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 8
	}
	if s.retryBase <= 0 {
		s.retryBase = 30 * time.Second
	}
	floor := minStaleFactor * s.timeout
	switch {
	case s.staleAfter <= 0:
		s.staleAfter = defaultStaleAfter
		if s.staleAfter < floor {
			s.staleAfter = floor
		}
	case s.staleAfter < floor:
		log.Warn().Dur("stale_after", s.staleAfter).Dur("raised_to", floor).
			Msg("fiscal_service: stale-after shorter than an in-flight attempt, raising it")
		s.staleAfter = floor
	}
	return s
}

const (
	maxRetryDelay     = 30 * time.Minute
	defaultStaleAfter = 2 * time.Minute
	// An attempt may run a reconciling query and a submission, each bounded
	// by the submit timeout, before it records its result.
	minStaleFactor    = 3
)

// inFlight reports whether a processing document may still have a live
// submitter.
func (s *fiscalService) inFlight(doc *model.FiscalDocument) bool {
	if doc.Status != model.FiscalProcessing {
		return false
	}
	since := doc.UpdatedAt
	if doc.ClaimedAt != nil {
		since = *doc.ClaimedAt
	}
	return since.After(s.now().Add(-s.staleAfter))
}

func (s *fiscalService) transport(kind string) (fiscal.Kind, fiscal.Transport, error) {
	k, ok := fiscal.ParseKind(kind)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", domainerr.ErrUnsupportedKind, kind)
	}
	t, ok := s.transports[k]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q is not enabled", domainerr.ErrUnsupportedKind, kind)
	}
	return k, t, nil
}

// ── Emit ──────────────────────────────────────────────────────────────────────

func (s *fiscalService) Emit(ctx context.Context, saleID uuid.UUID, kind string) (*model.FiscalDocument, error) {
	return s.emit(ctx, saleID, kind, false)
}

type claimed struct {
	doc       model.FiscalDocument
	reconcile bool
	// submit is false when the sale was cancelled and the claim exists only
	// to learn whether an earlier attempt reached the authority.
	submit bool
	// buildErr is set when the payload could not be built; the document
	// was committed in error and nothing must be sent.
	buildErr error
}

func (s *fiscalService) emit(ctx context.Context, saleID uuid.UUID, kind string, reclaim bool) (*model.FiscalDocument, error) {
	k, transport, err := s.transport(kind)
	if err != nil {
		return nil, err
	}
	c, err := s.claim(ctx, saleID, k, reclaim)
	if err != nil {
		return nil, err
	}
	doc := &c.doc
	if c.buildErr != nil {
		return doc, fmt.Errorf("%w: %v", domainerr.ErrPayloadInvalid, c.buildErr)
	}

	logger := log.With().Str("sale_id", saleID.String()).Str("kind", kind).Int("attempt", doc.Attempts).Logger()

	if c.reconcile {
		rep, err := s.query(ctx, k, transport, doc)
		if err != nil {
			logger.Warn().Err(err).Msg("fiscal_service: reconcile before resubmit failed")
			return s.fail(ctx, doc, "query", err, true)
		}
		switch rep.State {
		case fiscal.RemoteAuthorized:
			logger.Info().Msg("fiscal_service: earlier attempt was authorized")
			return s.emitted(ctx, doc, rep.AccessKey, rep.Protocol)
		case fiscal.RemoteCancelled:
			return doc, s.finish(ctx, doc, func(d *model.FiscalDocument) {
				now := s.now()
				d.Status = model.FiscalCancelled
				d.CancelledAt = &now
				d.OutcomeUnknown = false
				d.NextAttemptAt = nil
				d.CancellationPending = false
			})
		}
	}

	if !c.submit {
		err := s.finish(ctx, doc, func(d *model.FiscalDocument) {
			msg := "sale cancelled before the document was authorized"
			cat := model.FailureSaleVoided
			d.Status = model.FiscalError
			d.LastError = &msg
			d.ErrorCategory = &cat
			d.OutcomeUnknown = false
			d.NextAttemptAt = nil
		})
		return doc, err
	}

	sub := fiscal.Submission{
		Kind:           k,
		Reference:      doc.ID.String(),
		DocumentNumber: doc.DocumentNumber,
		Payload:        []byte(doc.Payload),
	}
	if doc.AccessKey != nil {
		sub.AccessKey = *doc.AccessKey
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	ack, err := transport.Submit(callCtx, sub)
	cancel()
	if err != nil {
		s.metrics.FiscalCall(kind, "submit", failureCategory(err), time.Since(start))
		logger.Warn().Err(err).Msg("fiscal_service: submission failed")
		return s.fail(ctx, doc, "submit", err, false)
	}
	if !ack.Accepted {
		s.metrics.FiscalCall(kind, "submit", model.FailureRejected, time.Since(start))
		logger.Warn().Str("code", ack.Code).Str("message", ack.Message).Msg("fiscal_service: document rejected")
		return s.rejected(ctx, doc, ack)
	}
	s.metrics.FiscalCall(kind, "submit", "ok", time.Since(start))
	logger.Info().Str("access_key", ack.AccessKey).Msg("fiscal_service: document authorized")
	return s.emitted(ctx, doc, ack.AccessKey, ack.Protocol)
}

// claim moves the document to processing under the sale's row lock, creating
// it and its payload on first use.
func (s *fiscalService) claim(ctx context.Context, saleID uuid.UUID, kind fiscal.Kind, reclaim bool) (*claimed, error) {
	var c *claimed
	err := s.uow.RunInTx(ctx, func(tx repository.Store) error {
		sale, err := tx.Sales().LockByID(ctx, saleID)
		if err != nil {
			return notFound(err, domainerr.ErrSaleNotFound)
		}
		doc, err := tx.FiscalDocuments().FindBySaleAndKind(ctx, saleID, string(kind))
		switch {
		case errors.Is(err, repository.ErrNotFound):
			doc = nil
		case err != nil:
			return err
		}

		c = &claimed{submit: true}
		if doc != nil {
			switch doc.Status {
			case model.FiscalEmitted, model.FiscalCancelled:
				return domainerr.ErrAlreadyEmitted
			case model.FiscalProcessing:
				if !reclaim || s.inFlight(doc) {
					return domainerr.ErrEmissionInProgress
				}
				// The submitter died mid-flight; it may have been delivered.
				c.reconcile = true
			}
			if doc.OutcomeUnknown {
				c.reconcile = true
			}
		}

		if sale.Status != model.SaleFinalized {
			if sale.Status != model.SaleCancelled || doc == nil || !c.reconcile {
				return domainerr.ErrSaleNotFinalized
			}
			c.submit = false
		}

		if doc == nil {
			n, err := tx.Sequences().Next(ctx, fmt.Sprintf("%s:%d", kind, s.builder.Issuer().Series), "")
			if err != nil {
				return fmt.Errorf("allocate document number: %w", err)
			}
			doc = &model.FiscalDocument{SaleID: saleID, Kind: string(kind), Status: model.FiscalNotEmitted, DocumentNumber: n}
			if err := tx.FiscalDocuments().Create(ctx, doc); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return domainerr.ErrEmissionInProgress
				}
				return err
			}
		}

		if doc.Payload == "" {
			if err := s.prepare(ctx, tx, doc, sale); err != nil {
				msg := err.Error()
				cat := model.FailurePayload
				doc.Status = model.FiscalError
				doc.LastError = &msg
				doc.ErrorCategory = &cat
				doc.NextAttemptAt = nil
				c.buildErr = err
				c.doc = *doc
				return tx.FiscalDocuments().Update(ctx, doc)
			}
		}

		claimedAt := s.now()
		doc.Status = model.FiscalProcessing
		doc.ClaimedAt = &claimedAt
		doc.Attempts++
		if c.reconcile {
			doc.OutcomeUnknown = true
		}
		if err := tx.FiscalDocuments().Update(ctx, doc); err != nil {
			return err
		}
		c.doc = *doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// prepare renders the payload once. IssuedAt and the access key are kept for
// every later attempt so resubmissions are byte-identical.
func (s *fiscalService) prepare(ctx context.Context, tx repository.Store, doc *model.FiscalDocument, sale *model.Sale) error {
	reg, err := tx.Registers().FindByID(ctx, sale.RegisterID)
	if err != nil {
		return fmt.Errorf("load register: %w", err)
	}
	issued := s.now()
	if doc.IssuedAt != nil {
		issued = *doc.IssuedAt
	}
	prep, err := s.builder.Emission(fiscal.DocumentInfo{
		Kind:         fiscal.Kind(doc.Kind),
		DocumentID:   doc.ID,
		Number:       doc.DocumentNumber,
		IssuedAt:     issued,
		RegisterCode: reg.Code,
	}, sale)
	if err != nil {
		return err
	}
	doc.Payload = string(prep.Payload)
	doc.IssuedAt = &issued
	if prep.AccessKey != "" {
		doc.AccessKey = &prep.AccessKey
	}
	return nil
}

func (s *fiscalService) query(ctx context.Context, kind fiscal.Kind, t fiscal.Transport, doc *model.FiscalDocument) (*fiscal.StatusReport, error) {
	q := fiscal.QueryRequest{Kind: kind, Reference: doc.ID.String()}
	if doc.AccessKey != nil {
		q.AccessKey = *doc.AccessKey
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	rep, err := t.Query(callCtx, q)
	if err != nil {
		s.metrics.FiscalCall(string(kind), "query", failureCategory(err), time.Since(start))
		return nil, err
	}
	s.metrics.FiscalCall(string(kind), "query", "ok", time.Since(start))
	return rep, nil
}

func (s *fiscalService) emitted(ctx context.Context, doc *model.FiscalDocument, key, protocol string) (*model.FiscalDocument, error) {
	err := s.finish(ctx, doc, func(d *model.FiscalDocument) {
		now := s.now()
		d.Status = model.FiscalEmitted
		if key != "" {
			d.AccessKey = &key
		}
		if protocol != "" {
			d.ProtocolNumber = &protocol
		}
		d.EmittedAt = &now
		d.LastError = nil
		d.ErrorCategory = nil
		d.OutcomeUnknown = false
		d.NextAttemptAt = nil
	})
	if err != nil {
		return doc, err
	}

	// The sale may have been cancelled while the submission was in flight.
	sale, err := s.uow.Sales().FindByID(ctx, doc.SaleID)
	if err == nil && sale.Status == model.SaleCancelled && sale.CancellationReason != nil {
		log.Info().Str("sale_id", doc.SaleID.String()).Msg("fiscal_service: sale cancelled during emission, voiding document")
		if cancelled, err := s.Cancel(ctx, doc.SaleID, doc.Kind, *sale.CancellationReason); err == nil {
			return cancelled, nil
		}
		if d, err := s.uow.FiscalDocuments().FindBySaleAndKind(ctx, doc.SaleID, doc.Kind); err == nil {
			return d, nil
		}
	}
	return doc, nil
}

// fail records a transport failure. keepUnknown holds OutcomeUnknown when
// the failed call was a reconciliation of an earlier uncertain attempt.
func (s *fiscalService) fail(ctx context.Context, doc *model.FiscalDocument, op string, cause error, keepUnknown bool) (*model.FiscalDocument, error) {
	category := failureCategory(cause)
	unknown := maybeDelivered(cause) || keepUnknown
	err := s.finish(ctx, doc, func(d *model.FiscalDocument) {
		msg := fmt.Sprintf("%s: %v", op, cause)
		d.Status = model.FiscalError
		d.LastError = &msg
		d.ErrorCategory = &category
		d.OutcomeUnknown = unknown
		d.NextAttemptAt = s.nextAttempt(d.Attempts)
	})
	if err != nil {
		return doc, err
	}
	return doc, fmt.Errorf("%w: %v", externalError(category), cause)
}

func (s *fiscalService) rejected(ctx context.Context, doc *model.FiscalDocument, ack *fiscal.Ack) (*model.FiscalDocument, error) {
	msg := strings.TrimSpace(ack.Code + " " + ack.Message)
	err := s.finish(ctx, doc, func(d *model.FiscalDocument) {
		cat := model.FailureRejected
		d.Status = model.FiscalError
		d.LastError = &msg
		d.ErrorCategory = &cat
		d.OutcomeUnknown = false
		d.NextAttemptAt = nil
	})
	if err != nil {
		return doc, err
	}
	return doc, fmt.Errorf("%w: %s", domainerr.ErrFiscalRejected, msg)
}

// finish reloads the document, applies mutate and saves it. doc receives the
// stored result.
func (s *fiscalService) finish(ctx context.Context, doc *model.FiscalDocument, mutate func(d *model.FiscalDocument)) error {
	return s.uow.RunInTx(ctx, func(tx repository.Store) error {
		d, err := tx.FiscalDocuments().FindBySaleAndKind(ctx, doc.SaleID, doc.Kind)
		if err != nil {
			return err
		}
		mutate(d)
		if err := tx.FiscalDocuments().Update(ctx, d); err != nil {
			return err
		}
		*doc = *d
		return nil
	})
}

// nextAttempt schedules the sweep with exponential backoff, or returns nil
// once attempts are exhausted.
func (s *fiscalService) nextAttempt(attempts int) *time.Time {
	if attempts >= s.maxAttempts {
		return nil
	}
	delay := s.retryBase
	for i := 1; i < attempts && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	t := s.now().Add(delay)
	return &t
}

// ── Cancel ────────────────────────────────────────────────────────────────────

func (s *fiscalService) Cancel(ctx context.Context, saleID uuid.UUID, kind, justification string) (*model.FiscalDocument, error) {
	justification = strings.TrimSpace(justification)
	if n := utf8.RuneCountInString(justification); n < minJustification || n > maxJustification {
		return nil, domainerr.ErrInvalidJustification
	}
	k, transport, err := s.transport(kind)
	if err != nil {
		return nil, err
	}

	var (
		doc     model.FiscalDocument
		payload []byte
	)
	err = s.uow.RunInTx(ctx, func(tx repository.Store) error {
		sale, err := tx.Sales().LockByID(ctx, saleID)
		if err != nil {
			return notFound(err, domainerr.ErrSaleNotFound)
		}
		d, err := tx.FiscalDocuments().FindBySaleAndKind(ctx, saleID, kind)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domainerr.ErrNothingToCancel
			}
			return err
		}
		if d.Status != model.FiscalEmitted || d.AccessKey == nil {
			return domainerr.ErrNothingToCancel
		}
		reg, err := tx.Registers().FindByID(ctx, sale.RegisterID)
		if err != nil {
			return fmt.Errorf("load register: %w", err)
		}
		info := fiscal.CancelInfo{
			Kind:          k,
			Number:        d.DocumentNumber,
			AccessKey:     *d.AccessKey,
			Justification: justification,
			RequestedAt:   s.now(),
			RegisterCode:  reg.Code,
		}
		if d.ProtocolNumber != nil {
			info.Protocol = *d.ProtocolNumber
		}
		payload, err = s.builder.Cancellation(info)
		if err != nil {
			return fmt.Errorf("%w: %v", domainerr.ErrPayloadInvalid, err)
		}
		// Pending until the authority answers; the sweep picks it up if
		// this process dies before then.
		next := s.now().Add(s.staleAfter)
		d.CancellationJustification = &justification
		d.CancellationPending = true
		d.CancellationAttempts++
		d.NextAttemptAt = &next
		if err := tx.FiscalDocuments().Update(ctx, d); err != nil {
			return err
		}
		doc = *d
		return nil
	})
	if err != nil {
		return nil, err
	}

	req := fiscal.CancelRequest{
		Kind:          k,
		Reference:     doc.ID.String(),
		AccessKey:     *doc.AccessKey,
		Justification: justification,
		Payload:       payload,
	}
	if doc.ProtocolNumber != nil {
		req.Protocol = *doc.ProtocolNumber
	}
	logger := log.With().Str("sale_id", saleID.String()).Str("kind", kind).Int("attempt", doc.CancellationAttempts).Logger()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	ack, err := transport.Cancel(callCtx, req)
	cancel()
	if err != nil {
		category := failureCategory(err)
		s.metrics.FiscalCall(kind, "cancel", category, time.Since(start))
		logger.Warn().Err(err).Msg("fiscal_service: cancellation failed")
		ferr := s.finish(ctx, &doc, func(d *model.FiscalDocument) {
			msg := err.Error()
			d.CancellationError = &msg
			d.NextAttemptAt = s.nextAttempt(d.CancellationAttempts)
		})
		if ferr != nil {
			return &doc, ferr
		}
		return &doc, fmt.Errorf("%w: %v", externalError(category), err)
	}
	if !ack.Accepted {
		s.metrics.FiscalCall(kind, "cancel", model.FailureRejected, time.Since(start))
		msg := strings.TrimSpace(ack.Code + " " + ack.Message)
		logger.Warn().Str("code", ack.Code).Str("message", ack.Message).Msg("fiscal_service: cancellation rejected")
		ferr := s.finish(ctx, &doc, func(d *model.FiscalDocument) {
			d.CancellationError = &msg
			d.NextAttemptAt = nil
		})
		if ferr != nil {
			return &doc, ferr
		}
		return &doc, fmt.Errorf("%w: %s", domainerr.ErrFiscalRejected, msg)
	}

	s.metrics.FiscalCall(kind, "cancel", "ok", time.Since(start))
	logger.Info().Str("protocol", ack.Protocol).Msg("fiscal_service: document cancelled")
	err = s.finish(ctx, &doc, func(d *model.FiscalDocument) {
		now := s.now()
		d.Status = model.FiscalCancelled
		d.CancelledAt = &now
		if ack.Protocol != "" {
			d.CancellationProtocol = &ack.Protocol
		}
		d.CancellationError = nil
		d.CancellationPending = false
		d.NextAttemptAt = nil
	})
	return &doc, err
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *fiscalService) QueryStatus(ctx context.Context, accessKey string) (*fiscal.StatusReport, error) {
	accessKey = strings.TrimPrefix(strings.TrimSpace(accessKey), "CFe")
	if !fiscal.ValidAccessKey(accessKey) {
		return nil, domainerr.ErrInvalidAccessKey
	}
	k, _ := fiscal.KindOfKey(accessKey)
	_, t, err := s.transport(string(k))
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	rep, err := t.Query(callCtx, fiscal.QueryRequest{Kind: k, AccessKey: accessKey})
	if err != nil {
		category := failureCategory(err)
		s.metrics.FiscalCall(string(k), "query", category, time.Since(start))
		return nil, fmt.Errorf("%w: %v", externalError(category), err)
	}
	s.metrics.FiscalCall(string(k), "query", "ok", time.Since(start))
	return rep, nil
}

func (s *fiscalService) Reconcile(ctx context.Context, saleID uuid.UUID, kind string) (*model.FiscalDocument, error) {
	k, t, err := s.transport(kind)
	if err != nil {
		return nil, err
	}
	doc, err := s.Get(ctx, saleID, kind)
	if err != nil {
		return nil, err
	}
	if s.inFlight(doc) {
		return doc, domainerr.ErrEmissionInProgress
	}
	if doc.Status == model.FiscalNotEmitted {
		return doc, nil
	}
	rep, err := s.query(ctx, k, t, doc)
	if err != nil {
		return doc, fmt.Errorf("%w: %v", externalError(failureCategory(err)), err)
	}

	err = s.finish(ctx, doc, func(d *model.FiscalDocument) {
		now := s.now()
		switch rep.State {
		case fiscal.RemoteAuthorized:
			if d.Status == model.FiscalCancelled {
				return
			}
			d.Status = model.FiscalEmitted
			if rep.AccessKey != "" {
				key := rep.AccessKey
				d.AccessKey = &key
			}
			if rep.Protocol != "" && d.ProtocolNumber == nil {
				p := rep.Protocol
				d.ProtocolNumber = &p
			}
			if d.EmittedAt == nil {
				d.EmittedAt = &now
			}
			d.LastError, d.ErrorCategory = nil, nil
			d.OutcomeUnknown = false
			if !d.CancellationPending {
				d.NextAttemptAt = nil
			}
		case fiscal.RemoteCancelled:
			d.Status = model.FiscalCancelled
			if d.CancelledAt == nil {
				d.CancelledAt = &now
			}
			d.CancellationPending = false
			d.CancellationError = nil
			d.OutcomeUnknown = false
			d.NextAttemptAt = nil
		case fiscal.RemoteRejected:
			if d.Status == model.FiscalEmitted {
				return
			}
			cat := model.FailureRejected
			msg := strings.TrimSpace("rejected " + rep.Message)
			d.Status = model.FiscalError
			d.ErrorCategory = &cat
			d.LastError = &msg
			d.OutcomeUnknown = false
			d.NextAttemptAt = nil
		case fiscal.RemoteNotFound:
			if d.Status == model.FiscalEmitted {
				log.Warn().Str("sale_id", saleID.String()).Str("kind", kind).
					Msg("fiscal_service: authority does not know an emitted document")
				return
			}
			// Never arrived: safe to submit again on the next sweep.
			if d.OutcomeUnknown {
				d.OutcomeUnknown = false
				d.NextAttemptAt = &now
			}
		}
	})
	return doc, err
}

func (s *fiscalService) Get(ctx context.Context, saleID uuid.UUID, kind string) (*model.FiscalDocument, error) {
	doc, err := s.uow.FiscalDocuments().FindBySaleAndKind(ctx, saleID, kind)
	if err != nil {
		return nil, notFound(err, domainerr.ErrDocumentNotFound)
	}
	return doc, nil
}

func (s *fiscalService) ListAttention(ctx context.Context, limit int) ([]model.FiscalDocument, error) {
	return s.uow.FiscalDocuments().ListAttention(ctx, limit)
}

// ── Retry ─────────────────────────────────────────────────────────────────────

func (s *fiscalService) Due(ctx context.Context, limit int) ([]model.FiscalDocument, error) {
	now := s.now()
	return s.uow.FiscalDocuments().ListDue(ctx, repository.DueFilter{
		Now:         now,
		StaleBefore: now.Add(-s.staleAfter),
		Limit:       limit,
	})
}

func (s *fiscalService) Retry(ctx context.Context, doc model.FiscalDocument) (RetryOutcome, error) {
	if doc.Status == model.FiscalEmitted && doc.CancellationPending {
		if doc.CancellationJustification == nil {
			return RetrySkipped, nil
		}
		d, err := s.Cancel(ctx, doc.SaleID, doc.Kind, *doc.CancellationJustification)
		switch {
		case err == nil:
			return RetryCancelled, nil
		case d != nil && d.CancellationPending && d.NextAttemptAt == nil && d.CancellationAttempts >= s.maxAttempts:
			return RetryExhausted, err
		default:
			return RetryFailed, err
		}
	}

	d, err := s.emit(ctx, doc.SaleID, doc.Kind, true)
	if errors.Is(err, domainerr.ErrSaleNotFinalized) {
		// Sale voided before anything was sent; stop scheduling it.
		ferr := s.finish(ctx, &doc, func(d *model.FiscalDocument) {
			msg := "sale is not finalized"
			cat := model.FailureSaleVoided
			d.LastError = &msg
			d.ErrorCategory = &cat
			d.OutcomeUnknown = false
			d.NextAttemptAt = nil
		})
		return RetrySkipped, ferr
	}
	if d == nil {
		return RetryFailed, err
	}
	switch {
	case d.Status == model.FiscalEmitted:
		return RetryEmitted, nil
	case d.Status == model.FiscalCancelled:
		return RetryCancelled, nil
	case err != nil && d.Status == model.FiscalError && d.Attempts >= s.maxAttempts:
		return RetryExhausted, err
	case err != nil:
		return RetryFailed, err
	}
	return RetrySkipped, nil
}

// ── Failure classification ────────────────────────────────────────────────────

func failureCategory(err error) string {
	if errors.Is(err, fiscal.ErrUnavailable) {
		return model.FailureUnavailable
	}
	if te, ok := fiscal.AsTransportError(err); ok && te.Timeout {
		return model.FailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTimeout
	}
	return model.FailureTransport
}

// maybeDelivered reports whether the authority may have acted on the call.
func maybeDelivered(err error) bool {
	if errors.Is(err, fiscal.ErrUnavailable) {
		return false
	}
	if te, ok := fiscal.AsTransportError(err); ok {
		return te.MaybeDelivered
	}
	return true
}

func externalError(category string) *domainerr.Error {
	switch category {
	case model.FailureTimeout:
		return domainerr.ErrFiscalTimeout
	case model.FailureUnavailable:
		return domainerr.ErrFiscalUnavailable
	case model.FailureRejected:
		return domainerr.ErrFiscalRejected
	default:
		return domainerr.ErrFiscalTransport
	}
}
