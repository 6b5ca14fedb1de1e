package repository

import (
	"context"

	"pdv/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type registerRepo struct{ db *gorm.DB }

func (r *registerRepo) Create(ctx context.Context, reg *model.Register) error {
	return translate(r.db.WithContext(ctx).Create(reg).Error)
}

func (r *registerRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Register, error) {
	var reg model.Register
	if err := r.db.WithContext(ctx).First(&reg, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &reg, nil
}

func (r *registerRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Register, error) {
	var reg model.Register
	if err := lockRow(ctx, r.db, &reg, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *registerRepo) FindOpenByOperator(ctx context.Context, operatorID uuid.UUID) (*model.Register, error) {
	var reg model.Register
	err := r.db.WithContext(ctx).
		Where("operator_id = ? AND status = ?", operatorID, model.RegisterOpen).
		Order("opened_at DESC").
		First(&reg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &reg, nil
}

func (r *registerRepo) Update(ctx context.Context, reg *model.Register) error {
	return translate(r.db.WithContext(ctx).Save(reg).Error)
}
