package repository

import (
	"context"

	"gorm.io/gorm"
)

type sequenceRepo struct{ db *gorm.DB }

// Next is a single upsert, so concurrent callers serialize on the counter row
// and each observes a distinct value.
func (r *sequenceRepo) Next(ctx context.Context, scope, period string) (int64, error) {
	var next int64
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO sequence_counters (scope, period, last_value) VALUES (?, ?, 1)
		ON CONFLICT (scope, period)
		DO UPDATE SET last_value = sequence_counters.last_value + 1
		RETURNING last_value`, scope, period).Scan(&next).Error
	return next, translate(err)
}
