// cmd/seed provisions a register and a small demo catalog.
// Usage: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"pdv/internal/config"
	"pdv/internal/infra"
	"pdv/internal/model"
	"pdv/internal/repository"
	"pdv/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type seedProduct struct {
	code, name, unit, price, stock, ncm string
}

var catalog = []seedProduct{
	{"7894900011517", "Refrigerante Cola 2L", "UN", "9.99", "48", "22021000"},
	{"7891000053508", "Biscoito Recheado 140g", "UN", "3.49", "120", "19053100"},
	{"7896005800027", "Arroz Tipo 1 5kg", "UN", "27.90", "30", "10063021"},
	{"2000000000015", "Queijo Mussarela", "KG", "49.90", "12.500", "04061010"},
	{"2000000000022", "Banana Prata", "KG", "6.99", "40.000", "08039000"},
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	store := repository.NewStore(db)
	inventory := service.NewInventoryLedger(store)

	reg := model.Register{Code: "001", Name: "Caixa 001", Status: model.RegisterClosed}
	if err := store.Registers().Create(ctx, &reg); errors.Is(err, repository.ErrConflict) {
		if err := db.WithContext(ctx).Where("code = ?", reg.Code).First(&reg).Error; err != nil {
			log.Fatal().Err(err).Msg("seed: load existing register")
		}
		log.Info().Str("register_id", reg.ID.String()).Msg("seed: register already exists")
	} else if err != nil {
		log.Fatal().Err(err).Msg("seed: create register")
	} else {
		log.Info().Str("register_id", reg.ID.String()).Msg("seed: register created")
	}

	for _, sp := range catalog {
		if err := seed(ctx, db, store, inventory, sp); err != nil {
			log.Fatal().Err(err).Str("code", sp.code).Msg("seed: product")
		}
	}
	log.Info().Int("products", len(catalog)).Msg("seed: done")
}

// seed creates the product once and loads its opening stock through the
// ledger, so the movement log accounts for every unit.
func seed(ctx context.Context, db *gorm.DB, store repository.UnitOfWork, inventory service.InventoryLedger, sp seedProduct) error {
	var existing model.Product
	err := db.WithContext(ctx).Where("code = ?", sp.code).First(&existing).Error
	if err == nil {
		log.Info().Str("code", sp.code).Str("stock", existing.Stock.String()).Msg("seed: product already exists")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	p := model.Product{
		Code:                sp.code,
		Name:                sp.name,
		Unit:                sp.unit,
		UnitPrice:           decimal.RequireFromString(sp.price),
		Active:              true,
		StockTracked:        true,
		Stock:               decimal.Zero,
		TaxOrigin:           "0",
		TaxClassification:   sp.ncm,
		FiscalOperationCode: "5102",
		TaxSituationCode:    "102",
		TaxRate:             decimal.Zero,
	}
	if err := store.Products().Create(ctx, &p); err != nil {
		return err
	}
	if _, err := inventory.Adjust(ctx, p.ID, decimal.RequireFromString(sp.stock), "opening stock"); err != nil {
		return err
	}
	log.Info().Str("code", sp.code).Str("product_id", p.ID.String()).Msg("seed: product created")
	return nil
}
