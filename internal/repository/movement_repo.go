package repository

import (
	"context"

	"pdv/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// movementRepo only inserts; reversals are new rows.
type movementRepo struct{ db *gorm.DB }

func (r *movementRepo) AppendInventory(ctx context.Context, m *model.InventoryMovement) error {
	return translate(r.db.WithContext(ctx).Create(m).Error)
}

func (r *movementRepo) AppendCash(ctx context.Context, m *model.CashMovement) error {
	return translate(r.db.WithContext(ctx).Create(m).Error)
}

func (r *movementRepo) ListInventory(ctx context.Context, filter MovementFilter) ([]model.InventoryMovement, error) {
	q := r.db.WithContext(ctx).Model(&model.InventoryMovement{})
	if filter.OwnerID != nil {
		q = q.Where("product_id = ?", *filter.OwnerID)
	}
	if filter.SaleID != nil {
		q = q.Where("sale_id = ?", *filter.SaleID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	var movs []model.InventoryMovement
	err := q.Order("created_at ASC").Limit(clampLimit(filter.Limit)).Find(&movs).Error
	return movs, translate(err)
}

func (r *movementRepo) ListCash(ctx context.Context, filter MovementFilter) ([]model.CashMovement, error) {
	q := r.db.WithContext(ctx).Model(&model.CashMovement{})
	if filter.OwnerID != nil {
		q = q.Where("register_id = ?", *filter.OwnerID)
	}
	if filter.SaleID != nil {
		q = q.Where("sale_id = ?", *filter.SaleID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	var movs []model.CashMovement
	err := q.Order("created_at ASC").Limit(clampLimit(filter.Limit)).Find(&movs).Error
	return movs, translate(err)
}

func (r *movementRepo) SumInventory(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.WithContext(ctx).Model(&model.InventoryMovement{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("product_id = ?", productID).
		Row().Scan(&sum)
	return sum, translate(err)
}

func (r *movementRepo) SumCash(ctx context.Context, registerID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.WithContext(ctx).Model(&model.CashMovement{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("register_id = ?", registerID).
		Row().Scan(&sum)
	return sum, translate(err)
}

func clampLimit(limit int) int {
	if limit < 1 || limit > 1000 {
		return 1000
	}
	return limit
}
