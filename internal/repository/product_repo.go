package repository

import (
	"context"

	"pdv/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type productRepo struct{ db *gorm.DB }

func (r *productRepo) Create(ctx context.Context, p *model.Product) error {
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *productRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var p model.Product
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *productRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var p model.Product
	if err := lockRow(ctx, r.db, &p, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) UpdateStock(ctx context.Context, id uuid.UUID, qty decimal.Decimal) error {
	res := r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", id).Update("stock", qty)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
