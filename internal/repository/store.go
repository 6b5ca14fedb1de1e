package repository

import (
	"context"
	"time"

	"pdv/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store groups the repositories the sale core reads and writes.
// A Store handed to a RunInTx callback is bound to that transaction and must
// not be used after the callback returns.
type Store interface {
	Sales() SaleRepository
	Products() ProductRepository
	Registers() RegisterRepository
	Movements() MovementRepository
	FiscalDocuments() FiscalDocumentRepository
	Sequences() SequenceRepository
}

// UnitOfWork is a Store that can also open transactions. Everything fn does
// through its Store argument commits together or not at all.
type UnitOfWork interface {
	Store
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

type SaleRepository interface {
	Create(ctx context.Context, s *model.Sale) error
	// FindByID loads the sale with lines, payments and fiscal documents.
	FindByID(ctx context.Context, id uuid.UUID) (*model.Sale, error)
	// LockByID takes the sale's row lock for the rest of the transaction, then loads it.
	LockByID(ctx context.Context, id uuid.UUID) (*model.Sale, error)
	// Update persists header fields only; lines and payments are append-only.
	Update(ctx context.Context, s *model.Sale) error
	AddLine(ctx context.Context, l *model.SaleLine) error
	AddPayments(ctx context.Context, payments []model.Payment) error
	List(ctx context.Context, filter SaleFilter) ([]model.Sale, error)
}

type SaleFilter struct {
	RegisterID *uuid.UUID
	CustomerID *uuid.UUID
	Status     string
	// From / To are inclusive business dates (yyyy-mm-dd).
	From  string
	To    string
	Limit int
}

type ProductRepository interface {
	Create(ctx context.Context, p *model.Product) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	LockByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	// UpdateStock is reserved for the inventory ledger, which appends the movement.
	UpdateStock(ctx context.Context, id uuid.UUID, qty decimal.Decimal) error
}

type RegisterRepository interface {
	Create(ctx context.Context, r *model.Register) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Register, error)
	LockByID(ctx context.Context, id uuid.UUID) (*model.Register, error)
	// FindOpenByOperator returns the most recently opened register the
	// operator currently holds.
	FindOpenByOperator(ctx context.Context, operatorID uuid.UUID) (*model.Register, error)
	Update(ctx context.Context, r *model.Register) error
}

type MovementRepository interface {
	AppendInventory(ctx context.Context, m *model.InventoryMovement) error
	AppendCash(ctx context.Context, m *model.CashMovement) error
	ListInventory(ctx context.Context, filter MovementFilter) ([]model.InventoryMovement, error)
	ListCash(ctx context.Context, filter MovementFilter) ([]model.CashMovement, error)
	SumInventory(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error)
	SumCash(ctx context.Context, registerID uuid.UUID) (decimal.Decimal, error)
}

// MovementFilter selects movements by owner (product or register) and/or sale,
// oldest first. A zero Since means no lower bound.
type MovementFilter struct {
	OwnerID *uuid.UUID
	SaleID  *uuid.UUID
	Since   time.Time
	Limit   int
}

type FiscalDocumentRepository interface {
	// Create fails with ErrConflict when (sale, kind) already exists.
	Create(ctx context.Context, d *model.FiscalDocument) error
	Update(ctx context.Context, d *model.FiscalDocument) error
	FindBySaleAndKind(ctx context.Context, saleID uuid.UUID, kind string) (*model.FiscalDocument, error)
	FindByAccessKey(ctx context.Context, accessKey string) (*model.FiscalDocument, error)
	ListBySale(ctx context.Context, saleID uuid.UUID) ([]model.FiscalDocument, error)
	ListDue(ctx context.Context, filter DueFilter) ([]model.FiscalDocument, error)
	ListAttention(ctx context.Context, limit int) ([]model.FiscalDocument, error)
}

// DueFilter selects documents the retry sweep should look at: errors whose
// next attempt is due, submissions claimed before StaleBefore and still in
// processing, and due cancellations.
type DueFilter struct {
	Now         time.Time
	StaleBefore time.Time
	Limit       int
}

type SequenceRepository interface {
	// Next atomically increments and returns the counter for (scope, period).
	// Inside a transaction the increment rolls back with it.
	Next(ctx context.Context, scope, period string) (int64, error)
}
