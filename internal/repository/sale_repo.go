package repository

import (
	"context"

	"pdv/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type saleRepo struct{ db *gorm.DB }

func (r *saleRepo) Create(ctx context.Context, s *model.Sale) error {
	return translate(r.db.WithContext(ctx).Omit(clause.Associations).Create(s).Error)
}

func (r *saleRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	var s model.Sale
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("FiscalDocuments").
		First(&s, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *saleRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	// Lock the header row only; the preloads below run as plain reads.
	if err := lockRow(ctx, r.db.Select("id"), &model.Sale{}, id); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

func (r *saleRepo) Update(ctx context.Context, s *model.Sale) error {
	return translate(r.db.WithContext(ctx).Omit(clause.Associations).Save(s).Error)
}

func (r *saleRepo) AddLine(ctx context.Context, l *model.SaleLine) error {
	return translate(r.db.WithContext(ctx).Create(l).Error)
}

func (r *saleRepo) AddPayments(ctx context.Context, payments []model.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Create(&payments).Error)
}

func (r *saleRepo) List(ctx context.Context, filter SaleFilter) ([]model.Sale, error) {
	q := r.db.WithContext(ctx).Model(&model.Sale{})
	if filter.RegisterID != nil {
		q = q.Where("register_id = ?", *filter.RegisterID)
	}
	if filter.CustomerID != nil {
		q = q.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.From != "" {
		q = q.Where("business_date >= ?", filter.From)
	}
	if filter.To != "" {
		q = q.Where("business_date <= ?", filter.To)
	}
	limit := filter.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}

	var sales []model.Sale
	err := q.Preload("Payments").
		Order("opened_at ASC, sequence_number ASC").
		Limit(limit).
		Find(&sales).Error
	return sales, translate(err)
}
