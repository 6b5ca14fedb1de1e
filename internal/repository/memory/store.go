// Package memory is an in-process repository.UnitOfWork. Transactions run
// one at a time against a staged copy of the state that replaces the live
// state only when the callback succeeds, so callers get the same atomicity and
// isolation they get from Postgres. It backs the service and HTTP tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pdv/internal/model"
	"pdv/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type state struct {
	sales     map[uuid.UUID]*model.Sale
	products  map[uuid.UUID]*model.Product
	registers map[uuid.UUID]*model.Register
	docs      map[uuid.UUID]*model.FiscalDocument
	inventory []model.InventoryMovement
	cash      []model.CashMovement
	sequences map[string]int64
}

func newState() *state {
	return &state{
		sales:     make(map[uuid.UUID]*model.Sale),
		products:  make(map[uuid.UUID]*model.Product),
		registers: make(map[uuid.UUID]*model.Register),
		docs:      make(map[uuid.UUID]*model.FiscalDocument),
		sequences: make(map[string]int64),
	}
}

func (st *state) clone() *state {
	cp := newState()
	for id, s := range st.sales {
		cp.sales[id] = cloneSale(s)
	}
	for id, p := range st.products {
		v := *p
		cp.products[id] = &v
	}
	for id, r := range st.registers {
		v := *r
		cp.registers[id] = &v
	}
	for id, d := range st.docs {
		v := *d
		cp.docs[id] = &v
	}
	cp.inventory = append([]model.InventoryMovement(nil), st.inventory...)
	cp.cash = append([]model.CashMovement(nil), st.cash...)
	for k, v := range st.sequences {
		cp.sequences[k] = v
	}
	return cp
}

func cloneSale(s *model.Sale) *model.Sale {
	v := *s
	v.Lines = append([]model.SaleLine(nil), s.Lines...)
	v.Payments = append([]model.Payment(nil), s.Payments...)
	v.FiscalDocuments = append([]model.FiscalDocument(nil), s.FiscalDocuments...)
	return &v
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store { return &Store{st: newState()} }

var _ repository.UnitOfWork = (*Store)(nil)

func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	staged := s.st.clone()
	if err := fn(&view{store: s, tx: staged}); err != nil {
		return err
	}
	s.st = staged
	return nil
}

func (s *Store) root() *view { return &view{store: s} }

func (s *Store) Sales() repository.SaleRepository         { return saleRepo{s.root()} }
func (s *Store) Products() repository.ProductRepository   { return productRepo{s.root()} }
func (s *Store) Registers() repository.RegisterRepository { return registerRepo{s.root()} }
func (s *Store) Movements() repository.MovementRepository { return movementRepo{s.root()} }
func (s *Store) FiscalDocuments() repository.FiscalDocumentRepository {
	return fiscalRepo{s.root()}
}
func (s *Store) Sequences() repository.SequenceRepository { return sequenceRepo{s.root()} }

// view is either the live store (tx == nil, each call takes the lock) or a
// transaction's staged state (lock already held by RunInTx).
type view struct {
	store *Store
	tx    *state
}

func (v *view) do(fn func(st *state) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.st)
}

func (v *view) Sales() repository.SaleRepository         { return saleRepo{v} }
func (v *view) Products() repository.ProductRepository   { return productRepo{v} }
func (v *view) Registers() repository.RegisterRepository { return registerRepo{v} }
func (v *view) Movements() repository.MovementRepository { return movementRepo{v} }
func (v *view) FiscalDocuments() repository.FiscalDocumentRepository {
	return fiscalRepo{v}
}
func (v *view) Sequences() repository.SequenceRepository { return sequenceRepo{v} }

func stamp(created *time.Time, id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if created.IsZero() {
		*created = time.Now()
	}
}

// ── Sales ─────────────────────────────────────────────────────────────────────

type saleRepo struct{ v *view }

func (r saleRepo) Create(_ context.Context, s *model.Sale) error {
	return r.v.do(func(st *state) error {
		stamp(&s.CreatedAt, &s.ID)
		s.UpdatedAt = s.CreatedAt
		for _, other := range st.sales {
			if other.RegisterID == s.RegisterID && other.SequenceNumber == s.SequenceNumber {
				return repository.ErrConflict
			}
		}
		cp := cloneSale(s)
		cp.Lines, cp.Payments, cp.FiscalDocuments = nil, nil, nil
		st.sales[s.ID] = cp
		return nil
	})
}

func (r saleRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Sale, error) {
	var out *model.Sale
	err := r.v.do(func(st *state) error {
		s, ok := st.sales[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = cloneSale(s)
		out.FiscalDocuments = docsOf(st, id)
		return nil
	})
	return out, err
}

func (r saleRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	return r.FindByID(ctx, id)
}

func (r saleRepo) Update(_ context.Context, s *model.Sale) error {
	return r.v.do(func(st *state) error {
		old, ok := st.sales[s.ID]
		if !ok {
			return repository.ErrNotFound
		}
		cp := cloneSale(s)
		cp.Lines, cp.Payments, cp.FiscalDocuments = old.Lines, old.Payments, nil
		cp.UpdatedAt = time.Now()
		st.sales[s.ID] = cp
		return nil
	})
}

func (r saleRepo) AddLine(_ context.Context, l *model.SaleLine) error {
	return r.v.do(func(st *state) error {
		s, ok := st.sales[l.SaleID]
		if !ok {
			return repository.ErrNotFound
		}
		stamp(&l.CreatedAt, &l.ID)
		s.Lines = append(s.Lines, *l)
		return nil
	})
}

func (r saleRepo) AddPayments(_ context.Context, payments []model.Payment) error {
	return r.v.do(func(st *state) error {
		for i := range payments {
			p := &payments[i]
			s, ok := st.sales[p.SaleID]
			if !ok {
				return repository.ErrNotFound
			}
			stamp(&p.CreatedAt, &p.ID)
			s.Payments = append(s.Payments, *p)
		}
		return nil
	})
}

func (r saleRepo) List(_ context.Context, f repository.SaleFilter) ([]model.Sale, error) {
	var out []model.Sale
	err := r.v.do(func(st *state) error {
		for _, s := range st.sales {
			if f.RegisterID != nil && s.RegisterID != *f.RegisterID {
				continue
			}
			if f.CustomerID != nil && (s.CustomerID == nil || *s.CustomerID != *f.CustomerID) {
				continue
			}
			if f.Status != "" && s.Status != f.Status {
				continue
			}
			if f.From != "" && s.BusinessDate < f.From {
				continue
			}
			if f.To != "" && s.BusinessDate > f.To {
				continue
			}
			out = append(out, *cloneSale(s))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, err
}

func docsOf(st *state, saleID uuid.UUID) []model.FiscalDocument {
	var docs []model.FiscalDocument
	for _, d := range st.docs {
		if d.SaleID == saleID {
			docs = append(docs, *d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Kind < docs[j].Kind })
	return docs
}

// ── Products ──────────────────────────────────────────────────────────────────

type productRepo struct{ v *view }

func (r productRepo) Create(_ context.Context, p *model.Product) error {
	return r.v.do(func(st *state) error {
		stamp(&p.CreatedAt, &p.ID)
		for _, other := range st.products {
			if other.Code == p.Code {
				return repository.ErrConflict
			}
		}
		v := *p
		st.products[p.ID] = &v
		return nil
	})
}

func (r productRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	var out *model.Product
	err := r.v.do(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return repository.ErrNotFound
		}
		v := *p
		out = &v
		return nil
	})
	return out, err
}

func (r productRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return r.FindByID(ctx, id)
}

func (r productRepo) UpdateStock(_ context.Context, id uuid.UUID, qty decimal.Decimal) error {
	return r.v.do(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return repository.ErrNotFound
		}
		p.Stock = qty
		p.UpdatedAt = time.Now()
		return nil
	})
}

// ── Registers ─────────────────────────────────────────────────────────────────

type registerRepo struct{ v *view }

func (r registerRepo) Create(_ context.Context, reg *model.Register) error {
	return r.v.do(func(st *state) error {
		stamp(&reg.CreatedAt, &reg.ID)
		for _, other := range st.registers {
			if other.Code == reg.Code {
				return repository.ErrConflict
			}
		}
		v := *reg
		st.registers[reg.ID] = &v
		return nil
	})
}

func (r registerRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Register, error) {
	var out *model.Register
	err := r.v.do(func(st *state) error {
		reg, ok := st.registers[id]
		if !ok {
			return repository.ErrNotFound
		}
		v := *reg
		out = &v
		return nil
	})
	return out, err
}

func (r registerRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Register, error) {
	return r.FindByID(ctx, id)
}

func (r registerRepo) FindOpenByOperator(_ context.Context, operatorID uuid.UUID) (*model.Register, error) {
	var out *model.Register
	err := r.v.do(func(st *state) error {
		for _, reg := range st.registers {
			if reg.Status != model.RegisterOpen || reg.OperatorID == nil || *reg.OperatorID != operatorID {
				continue
			}
			if out == nil || (reg.OpenedAt != nil && (out.OpenedAt == nil || reg.OpenedAt.After(*out.OpenedAt))) {
				v := *reg
				out = &v
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r registerRepo) Update(_ context.Context, reg *model.Register) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.registers[reg.ID]; !ok {
			return repository.ErrNotFound
		}
		v := *reg
		v.UpdatedAt = time.Now()
		st.registers[reg.ID] = &v
		return nil
	})
}

// ── Movements ─────────────────────────────────────────────────────────────────

type movementRepo struct{ v *view }

func (r movementRepo) AppendInventory(_ context.Context, m *model.InventoryMovement) error {
	return r.v.do(func(st *state) error {
		stamp(&m.CreatedAt, &m.ID)
		st.inventory = append(st.inventory, *m)
		return nil
	})
}

func (r movementRepo) AppendCash(_ context.Context, m *model.CashMovement) error {
	return r.v.do(func(st *state) error {
		stamp(&m.CreatedAt, &m.ID)
		st.cash = append(st.cash, *m)
		return nil
	})
}

func (r movementRepo) ListInventory(_ context.Context, f repository.MovementFilter) ([]model.InventoryMovement, error) {
	var out []model.InventoryMovement
	err := r.v.do(func(st *state) error {
		for _, m := range st.inventory {
			if f.OwnerID != nil && m.ProductID != *f.OwnerID {
				continue
			}
			if f.SaleID != nil && (m.SaleID == nil || *m.SaleID != *f.SaleID) {
				continue
			}
			if !f.Since.IsZero() && m.CreatedAt.Before(f.Since) {
				continue
			}
			out = append(out, m)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r movementRepo) ListCash(_ context.Context, f repository.MovementFilter) ([]model.CashMovement, error) {
	var out []model.CashMovement
	err := r.v.do(func(st *state) error {
		for _, m := range st.cash {
			if f.OwnerID != nil && m.RegisterID != *f.OwnerID {
				continue
			}
			if f.SaleID != nil && (m.SaleID == nil || *m.SaleID != *f.SaleID) {
				continue
			}
			if !f.Since.IsZero() && m.CreatedAt.Before(f.Since) {
				continue
			}
			out = append(out, m)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r movementRepo) SumInventory(_ context.Context, productID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := r.v.do(func(st *state) error {
		for _, m := range st.inventory {
			if m.ProductID == productID {
				sum = sum.Add(m.Delta)
			}
		}
		return nil
	})
	return sum, err
}

func (r movementRepo) SumCash(_ context.Context, registerID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := r.v.do(func(st *state) error {
		for _, m := range st.cash {
			if m.RegisterID == registerID {
				sum = sum.Add(m.Amount)
			}
		}
		return nil
	})
	return sum, err
}

// ── Fiscal documents ──────────────────────────────────────────────────────────

type fiscalRepo struct{ v *view }

func (r fiscalRepo) Create(_ context.Context, d *model.FiscalDocument) error {
	return r.v.do(func(st *state) error {
		for _, other := range st.docs {
			if other.SaleID == d.SaleID && other.Kind == d.Kind {
				return repository.ErrConflict
			}
		}
		stamp(&d.CreatedAt, &d.ID)
		d.UpdatedAt = d.CreatedAt
		v := *d
		st.docs[d.ID] = &v
		return nil
	})
}

func (r fiscalRepo) Update(_ context.Context, d *model.FiscalDocument) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.docs[d.ID]; !ok {
			return repository.ErrNotFound
		}
		d.UpdatedAt = time.Now()
		v := *d
		st.docs[d.ID] = &v
		return nil
	})
}

func (r fiscalRepo) FindBySaleAndKind(_ context.Context, saleID uuid.UUID, kind string) (*model.FiscalDocument, error) {
	return r.find(func(d *model.FiscalDocument) bool { return d.SaleID == saleID && d.Kind == kind })
}

func (r fiscalRepo) FindByAccessKey(_ context.Context, accessKey string) (*model.FiscalDocument, error) {
	return r.find(func(d *model.FiscalDocument) bool { return d.AccessKey != nil && *d.AccessKey == accessKey })
}

func (r fiscalRepo) find(match func(d *model.FiscalDocument) bool) (*model.FiscalDocument, error) {
	var out *model.FiscalDocument
	err := r.v.do(func(st *state) error {
		for _, d := range st.docs {
			if match(d) {
				v := *d
				out = &v
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r fiscalRepo) ListBySale(_ context.Context, saleID uuid.UUID) ([]model.FiscalDocument, error) {
	var out []model.FiscalDocument
	err := r.v.do(func(st *state) error {
		out = docsOf(st, saleID)
		return nil
	})
	return out, err
}

func (r fiscalRepo) ListDue(_ context.Context, f repository.DueFilter) ([]model.FiscalDocument, error) {
	due := func(d *model.FiscalDocument) bool {
		nextDue := d.NextAttemptAt != nil && !d.NextAttemptAt.After(f.Now)
		switch {
		case d.Status == model.FiscalError && nextDue:
			return true
		case d.Status == model.FiscalProcessing:
			since := d.UpdatedAt
			if d.ClaimedAt != nil {
				since = *d.ClaimedAt
			}
			return since.Before(f.StaleBefore)
		case d.CancellationPending && nextDue:
			return true
		}
		return false
	}
	return r.list(due, f.Limit, true)
}

func (r fiscalRepo) ListAttention(_ context.Context, limit int) ([]model.FiscalDocument, error) {
	return r.list(func(d *model.FiscalDocument) bool {
		voided := d.ErrorCategory != nil && *d.ErrorCategory == model.FailureSaleVoided
		return (d.Status == model.FiscalError && !voided) || d.CancellationPending
	}, limit, false)
}

func (r fiscalRepo) list(match func(d *model.FiscalDocument) bool, limit int, oldestFirst bool) ([]model.FiscalDocument, error) {
	var out []model.FiscalDocument
	err := r.v.do(func(st *state) error {
		for _, d := range st.docs {
			if match(d) {
				out = append(out, *d)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if oldestFirst {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// ── Sequences ─────────────────────────────────────────────────────────────────

type sequenceRepo struct{ v *view }

func (r sequenceRepo) Next(_ context.Context, scope, period string) (int64, error) {
	var next int64
	err := r.v.do(func(st *state) error {
		key := scope + "|" + period
		st.sequences[key]++
		next = st.sequences[key]
		return nil
	})
	return next, err
}
