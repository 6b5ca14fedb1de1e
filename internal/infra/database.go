package infra

import (
	"fmt"

	"pdv/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase establishes a GORM connection backed by pgx and brings the
// schema up to date.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations creates or updates every table, then applies the idempotent
// DDL that AutoMigrate cannot express. Integration tests call it directly.
func RunMigrations(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
		return fmt.Errorf("pgcrypto: %w", err)
	}
	if err := db.AutoMigrate(
		&model.Product{},
		&model.Register{},
		&model.Sale{},
		&model.SaleLine{},
		&model.Payment{},
		&model.FiscalDocument{},
		&model.InventoryMovement{},
		&model.CashMovement{},
		&model.SequenceCounter{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	if err := applySchemaPatches(db); err != nil {
		return fmt.Errorf("schema patches: %w", err)
	}
	return nil
}

// applySchemaPatches runs idempotent DDL statements that GORM AutoMigrate
// cannot handle on its own (check constraints, partial indexes).
func applySchemaPatches(db *gorm.DB) error {
	patches := []string{
		// stock never goes negative, whatever path writes it
		`DO $$ BEGIN
		  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_products_stock_non_negative') THEN
		    ALTER TABLE products ADD CONSTRAINT chk_products_stock_non_negative CHECK (stock >= 0);
		  END IF;
		END $$`,
		// partial index for the fiscal retry sweep
		`CREATE INDEX IF NOT EXISTS idx_fiscal_documents_due
		    ON fiscal_documents (next_attempt_at)
		    WHERE status IN ('error', 'processing') OR cancellation_pending`,
		// movement lookups by sale, used by cancellation reversals
		`CREATE INDEX IF NOT EXISTS idx_inventory_movements_sale
		    ON inventory_movements (sale_id) WHERE sale_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_cash_movements_sale
		    ON cash_movements (sale_id) WHERE sale_id IS NOT NULL`,
	}

	for _, sql := range patches {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", sql[:min(len(sql), 60)], err)
		}
	}
	return nil
}
