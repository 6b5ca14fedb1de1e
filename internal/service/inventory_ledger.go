package service

import (
	"context"
	"fmt"

	"pdv/internal/domainerr"
	"pdv/internal/model"
	"pdv/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryLedger owns product stock. Stock only changes through movement
// appends, each taken under the product's row lock so concurrent debits of
// the same product are linearized.
type InventoryLedger interface {
	// Debit takes qty out of stock for a sale inside tx. Fails with
	// ErrInsufficientStock instead of going negative.
	Debit(ctx context.Context, tx repository.Store, productID uuid.UUID, qty decimal.Decimal, saleID uuid.UUID) (*model.InventoryMovement, error)
	// Reverse appends the equal-and-opposite entry of m inside tx.
	Reverse(ctx context.Context, tx repository.Store, m model.InventoryMovement) (*model.InventoryMovement, error)

	Adjust(ctx context.Context, productID uuid.UUID, delta decimal.Decimal, note string) (*model.InventoryMovement, error)
	Level(ctx context.Context, productID uuid.UUID) (*model.Product, error)
	Movements(ctx context.Context, productID uuid.UUID, limit int) ([]model.InventoryMovement, error)
	Reconcile(ctx context.Context, productID uuid.UUID) (*StockReconciliation, error)
}

// StockReconciliation compares the stored stock with the movement log.
type StockReconciliation struct {
	ProductID   uuid.UUID       `json:"product_id"`
	Stock       decimal.Decimal `json:"stock"`
	MovementSum decimal.Decimal `json:"movement_sum"`
	Consistent  bool            `json:"consistent"`
}

type inventoryLedger struct {
	uow repository.UnitOfWork
}

func NewInventoryLedger(uow repository.UnitOfWork) InventoryLedger {
	return &inventoryLedger{uow: uow}
}

func (l *inventoryLedger) Debit(ctx context.Context, tx repository.Store, productID uuid.UUID, qty decimal.Decimal, saleID uuid.UUID) (*model.InventoryMovement, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: debit of %s", domainerr.ErrInvalidQuantity, qty)
	}
	return l.apply(ctx, tx, productID, qty.Neg(), &saleID, model.StockSaleDebit, "")
}

func (l *inventoryLedger) Reverse(ctx context.Context, tx repository.Store, m model.InventoryMovement) (*model.InventoryMovement, error) {
	return l.apply(ctx, tx, m.ProductID, m.Delta.Neg(), m.SaleID, model.StockCancellationCredit, "reversal of "+m.ID.String())
}

// ── Adjust ────────────────────────────────────────────────────────────────────
// Stock receipts and count corrections. Not tied to a sale.

func (l *inventoryLedger) Adjust(ctx context.Context, productID uuid.UUID, delta decimal.Decimal, note string) (*model.InventoryMovement, error) {
	if delta.IsZero() {
		return nil, fmt.Errorf("%w: adjustment must not be zero", domainerr.ErrInvalidQuantity)
	}
	var mov *model.InventoryMovement
	err := l.uow.RunInTx(ctx, func(tx repository.Store) error {
		p, err := tx.Products().FindByID(ctx, productID)
		if err != nil {
			return notFound(err, domainerr.ErrProductNotFound)
		}
		if !fitsUnit(delta, p.Unit) {
			return fmt.Errorf("%w: %s takes at most %d decimals", domainerr.ErrInvalidQuantity, p.Unit, model.UnitPrecision(p.Unit))
		}
		mov, err = l.apply(ctx, tx, productID, delta, nil, model.StockAdjustment, note)
		return err
	})
	return mov, err
}

func (l *inventoryLedger) Level(ctx context.Context, productID uuid.UUID) (*model.Product, error) {
	p, err := l.uow.Products().FindByID(ctx, productID)
	if err != nil {
		return nil, notFound(err, domainerr.ErrProductNotFound)
	}
	return p, nil
}

func (l *inventoryLedger) Movements(ctx context.Context, productID uuid.UUID, limit int) ([]model.InventoryMovement, error) {
	if _, err := l.Level(ctx, productID); err != nil {
		return nil, err
	}
	return l.uow.Movements().ListInventory(ctx, repository.MovementFilter{OwnerID: &productID, Limit: limit})
}

func (l *inventoryLedger) Reconcile(ctx context.Context, productID uuid.UUID) (*StockReconciliation, error) {
	var rec *StockReconciliation
	err := l.uow.RunInTx(ctx, func(tx repository.Store) error {
		p, err := tx.Products().FindByID(ctx, productID)
		if err != nil {
			return notFound(err, domainerr.ErrProductNotFound)
		}
		sum, err := tx.Movements().SumInventory(ctx, productID)
		if err != nil {
			return err
		}
		rec = &StockReconciliation{
			ProductID:   productID,
			Stock:       p.Stock,
			MovementSum: sum,
			Consistent:  p.Stock.Equal(sum),
		}
		return nil
	})
	return rec, err
}

// apply locks the product, checks the resulting level and appends the movement.
func (l *inventoryLedger) apply(ctx context.Context, tx repository.Store, productID uuid.UUID, delta decimal.Decimal, saleID *uuid.UUID, reason, note string) (*model.InventoryMovement, error) {
	p, err := tx.Products().LockByID(ctx, productID)
	if err != nil {
		return nil, notFound(err, domainerr.ErrProductNotFound)
	}
	after := p.Stock.Add(delta)
	if after.IsNegative() {
		return nil, fmt.Errorf("%w: %s has %s, needs %s", domainerr.ErrInsufficientStock, p.Code, p.Stock, delta.Neg())
	}
	if err := tx.Products().UpdateStock(ctx, productID, after); err != nil {
		return nil, fmt.Errorf("update stock: %w", err)
	}
	mov := &model.InventoryMovement{
		ProductID:      productID,
		Delta:          delta,
		QuantityBefore: p.Stock,
		QuantityAfter:  after,
		SaleID:         saleID,
		Reason:         reason,
		Note:           note,
	}
	if err := tx.Movements().AppendInventory(ctx, mov); err != nil {
		return nil, fmt.Errorf("append inventory movement: %w", err)
	}
	return mov, nil
}

// fitsUnit reports whether q carries no more decimals than unit allows.
func fitsUnit(q decimal.Decimal, unit string) bool {
	return q.Equal(q.Truncate(model.UnitPrecision(unit)))
}
