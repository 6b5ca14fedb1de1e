package service_test

import (
	"context"
	"testing"
	"time"

	"pdv/internal/fiscal"
	"pdv/internal/model"
	"pdv/internal/repository/memory"
	"pdv/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testIssuer() fiscal.Issuer {
	return fiscal.Issuer{
		CNPJ:              "12345678000195",
		Name:              "Mercado Exemplo Ltda",
		TradeName:         "Mercado Exemplo",
		StateRegistration: "123456789",
		TaxRegime:         1,
		Address: fiscal.Address{
			Street: "Rua A", Number: "10", District: "Centro",
			CityCode: "3550308", City: "Sao Paulo", State: "SP", ZipCode: "01001000",
		},
		Environment:       2,
		Series:            1,
		SoftwareHouseCNPJ: "16716114000172",
		SignAC:            "SGR-SAT SISTEMA DE GESTAO E RETAGUARDA DO SAT",
	}
}

// harness wires the real services over the in-memory store and fake transports.
type harness struct {
	store     *memory.Store
	inventory service.InventoryLedger
	cash      service.CashLedger
	fiscal    service.FiscalEmitter
	sales     service.SaleOrchestrator
	nfce      *fiscal.FakeTransport
	sat       *fiscal.FakeTransport

	registerID uuid.UUID
	operatorID uuid.UUID
}

type harnessOptions struct {
	maxAttempts int
	inline      bool
}

type harnessOption func(*harnessOptions)

// withInlineEmission emits NFC-e right after every finalize.
func withInlineEmission() harnessOption {
	return func(o *harnessOptions) { o.inline = true }
}

func withMaxAttempts(n int) harnessOption {
	return func(o *harnessOptions) { o.maxAttempts = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	o := harnessOptions{maxAttempts: 3}
	for _, opt := range opts {
		opt(&o)
	}
	h := &harness{
		store:      memory.New(),
		nfce:       fiscal.NewFakeTransport(),
		sat:        fiscal.NewFakeTransport(),
		operatorID: uuid.New(),
	}
	h.inventory = service.NewInventoryLedger(h.store)
	h.cash = service.NewCashLedger(h.store, nil)
	h.fiscal = service.NewFiscalEmitter(service.FiscalConfig{
		UnitOfWork: h.store,
		Builder:    fiscal.NewBuilder(testIssuer()),
		Transports: map[fiscal.Kind]fiscal.Transport{
			fiscal.KindNFCe: h.nfce,
			fiscal.KindSAT:  h.sat,
		},
		SubmitTimeout: time.Second,
		MaxAttempts:   o.maxAttempts,
		RetryBase:     time.Millisecond,
	})
	sc := service.SaleConfig{
		UnitOfWork: h.store,
		Inventory:  h.inventory,
		Cash:       h.cash,
		Fiscal:     h.fiscal,
	}
	if o.inline {
		sc.Trigger = service.NewInlineEmission(h.fiscal, []string{string(fiscal.KindNFCe)})
	}
	h.sales = service.NewSaleOrchestrator(sc)

	h.registerID = h.newRegister(t, "001")
	_, err := h.cash.OpenRegister(context.Background(), h.registerID, h.operatorID, d("100.00"))
	require.NoError(t, err)
	return h
}

func (h *harness) newRegister(t *testing.T, code string) uuid.UUID {
	t.Helper()
	reg := &model.Register{Code: code, Name: "Caixa " + code, Status: model.RegisterClosed}
	require.NoError(t, h.store.Registers().Create(context.Background(), reg))
	return reg.ID
}

// newProduct creates a catalog row and loads its stock through the ledger.
func (h *harness) newProduct(t *testing.T, code, unit, price, stock string) uuid.UUID {
	t.Helper()
	p := &model.Product{
		Code:                code,
		Name:                "Produto " + code,
		Unit:                unit,
		UnitPrice:           d(price),
		Active:              true,
		StockTracked:        true,
		Stock:               decimal.Zero,
		TaxOrigin:           "0",
		TaxClassification:   "22021000",
		FiscalOperationCode: "5102",
		TaxSituationCode:    "102",
		TaxRate:             decimal.Zero,
	}
	require.NoError(t, h.store.Products().Create(context.Background(), p))
	if q := d(stock); q.IsPositive() {
		_, err := h.inventory.Adjust(context.Background(), p.ID, q, "initial load")
		require.NoError(t, err)
	}
	return p.ID
}

func (h *harness) stock(t *testing.T, productID uuid.UUID) decimal.Decimal {
	t.Helper()
	p, err := h.inventory.Level(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (h *harness) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	reg, err := h.cash.Register(context.Background(), h.registerID)
	require.NoError(t, err)
	return reg.Balance
}

// finalizedSale opens a sale with one line and pays it exactly in cash.
func (h *harness) finalizedSale(t *testing.T, productID uuid.UUID, qty string) *model.Sale {
	t.Helper()
	ctx := context.Background()
	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	sale, err = h.sales.AddLine(ctx, sale.ID, productID, d(qty), nil)
	require.NoError(t, err)
	sale, err = h.sales.FinalizeSale(ctx, sale.ID, []service.PaymentInput{{Method: model.PaymentCash, Amount: sale.Total}})
	require.NoError(t, err)
	return sale
}
