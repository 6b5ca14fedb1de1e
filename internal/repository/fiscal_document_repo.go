package repository

import (
	"context"

	"pdv/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type fiscalDocumentRepo struct{ db *gorm.DB }

func (r *fiscalDocumentRepo) Create(ctx context.Context, d *model.FiscalDocument) error {
	return translate(r.db.WithContext(ctx).Create(d).Error)
}

func (r *fiscalDocumentRepo) Update(ctx context.Context, d *model.FiscalDocument) error {
	return translate(r.db.WithContext(ctx).Save(d).Error)
}

func (r *fiscalDocumentRepo) FindBySaleAndKind(ctx context.Context, saleID uuid.UUID, kind string) (*model.FiscalDocument, error) {
	var d model.FiscalDocument
	err := r.db.WithContext(ctx).Where("sale_id = ? AND kind = ?", saleID, kind).First(&d).Error
	if err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (r *fiscalDocumentRepo) FindByAccessKey(ctx context.Context, accessKey string) (*model.FiscalDocument, error) {
	var d model.FiscalDocument
	if err := r.db.WithContext(ctx).Where("access_key = ?", accessKey).First(&d).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (r *fiscalDocumentRepo) ListBySale(ctx context.Context, saleID uuid.UUID) ([]model.FiscalDocument, error) {
	var docs []model.FiscalDocument
	err := r.db.WithContext(ctx).Where("sale_id = ?", saleID).Order("created_at ASC").Find(&docs).Error
	return docs, translate(err)
}

func (r *fiscalDocumentRepo) ListDue(ctx context.Context, filter DueFilter) ([]model.FiscalDocument, error) {
	var docs []model.FiscalDocument
	err := r.db.WithContext(ctx).
		Where("(status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?)", model.FiscalError, filter.Now).
		Or("(status = ? AND COALESCE(claimed_at, updated_at) < ?)", model.FiscalProcessing, filter.StaleBefore).
		Or("(cancellation_pending = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?)", true, filter.Now).
		Order("updated_at ASC").
		Limit(clampLimit(filter.Limit)).
		Find(&docs).Error
	return docs, translate(err)
}

func (r *fiscalDocumentRepo) ListAttention(ctx context.Context, limit int) ([]model.FiscalDocument, error) {
	var docs []model.FiscalDocument
	err := r.db.WithContext(ctx).
		Where("(status = ? AND (error_category IS NULL OR error_category <> ?)) OR cancellation_pending = ?",
			model.FiscalError, model.FailureSaleVoided, true).
		Order("updated_at DESC").
		Limit(clampLimit(limit)).
		Find(&docs).Error
	return docs, translate(err)
}
