package repository

import (
	"context"
	"fmt"
	"time"

	"pdv/internal/domainerr"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxTxAttempts = 3

type gormStore struct{ db *gorm.DB }

// NewStore returns the Postgres-backed UnitOfWork.
func NewStore(db *gorm.DB) UnitOfWork { return &gormStore{db: db} }

func (s *gormStore) Sales() SaleRepository                     { return &saleRepo{db: s.db} }
func (s *gormStore) Products() ProductRepository               { return &productRepo{db: s.db} }
func (s *gormStore) Registers() RegisterRepository             { return &registerRepo{db: s.db} }
func (s *gormStore) Movements() MovementRepository             { return &movementRepo{db: s.db} }
func (s *gormStore) FiscalDocuments() FiscalDocumentRepository { return &fiscalDocumentRepo{db: s.db} }
func (s *gormStore) Sequences() SequenceRepository             { return &sequenceRepo{db: s.db} }

// RunInTx runs fn in a database transaction. Serialization failures and
// deadlocks restart fn from scratch, up to maxTxAttempts times.
func (s *gormStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&gormStore{db: tx})
		})
		if err == nil || !isRetryable(err) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("repository: transaction conflict, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", domainerr.ErrConcurrentModification, err)
}

// lockRow takes a FOR UPDATE lock on a single row of dest's table.
func lockRow(ctx context.Context, db *gorm.DB, dest interface{}, id interface{}) error {
	return translate(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(dest).Error)
}
