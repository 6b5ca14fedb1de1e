package service_test

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"

	"pdv/internal/domainerr"
	"pdv/internal/fiscal"
	"pdv/internal/model"
	"pdv/internal/repository"
	"pdv/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cash(amount string) []service.PaymentInput {
	return []service.PaymentInput{{Method: model.PaymentCash, Amount: d(amount)}}
}

func saleMovements(t *testing.T, h *harness, saleID uuid.UUID) ([]model.InventoryMovement, []model.CashMovement) {
	t.Helper()
	ctx := context.Background()
	inv, err := h.store.Movements().ListInventory(ctx, repository.MovementFilter{SaleID: &saleID})
	require.NoError(t, err)
	cm, err := h.store.Movements().ListCash(ctx, repository.MovementFilter{SaleID: &saleID})
	require.NoError(t, err)
	return inv, cm
}

// ── Scenarios ─────────────────────────────────────────────────────────────────

func TestFinalizeSale_TwoLinesPaidInCash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	q := h.newProduct(t, "Q", "UN", "5.00", "10")

	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, p, d("2"), nil)
	require.NoError(t, err)
	sale, err = h.sales.AddLine(ctx, sale.ID, q, d("1"), nil)
	require.NoError(t, err)
	assert.True(t, sale.Total.Equal(d("25.00")))

	sale, err = h.sales.FinalizeSale(ctx, sale.ID, cash("30.00"))
	require.NoError(t, err)
	assert.Equal(t, model.SaleFinalized, sale.Status)
	assert.True(t, sale.Total.Equal(d("25.00")))
	assert.True(t, sale.Change.Equal(d("5.00")))
	assert.True(t, sale.AmountTendered.Equal(d("30.00")))
	require.NotNil(t, sale.FinalizedAt)

	assert.True(t, h.stock(t, p).Equal(d("8")))
	assert.True(t, h.stock(t, q).Equal(d("9")))
	assert.True(t, h.balance(t).Equal(d("125.00")))

	inv, cm := saleMovements(t, h, sale.ID)
	assert.Len(t, inv, 2)
	require.Len(t, cm, 1)
	assert.True(t, cm[0].Amount.Equal(d("25.00")))
}

func TestFinalizeSale_InsufficientStockRecordsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "2")

	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, p, d("2"), nil)
	require.NoError(t, err)

	// Stock drops to 1 between cart and checkout.
	_, err = h.inventory.Adjust(ctx, p, d("-1"), "damaged")
	require.NoError(t, err)

	_, err = h.sales.FinalizeSale(ctx, sale.ID, cash("20.00"))
	assert.ErrorIs(t, err, domainerr.ErrInsufficientStock)

	inv, cm := saleMovements(t, h, sale.ID)
	assert.Empty(t, inv)
	assert.Empty(t, cm)
	assert.True(t, h.stock(t, p).Equal(d("1")))
	assert.True(t, h.balance(t).Equal(d("100.00")))

	got, err := h.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SaleOpen, got.Status)
	assert.Empty(t, got.Payments)
}

func TestAddLine_StockPreCheckCoversCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "1")

	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, p, d("2"), nil)
	assert.ErrorIs(t, err, domainerr.ErrInsufficientStock)

	_, err = h.sales.AddLine(ctx, sale.ID, p, d("1"), nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, p, d("1"), nil)
	assert.ErrorIs(t, err, domainerr.ErrInsufficientStock)
}

func TestCancelSale_RestoresStockAndCash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	q := h.newProduct(t, "Q", "UN", "5.00", "10")

	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, p, d("2"), nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, q, d("1"), nil)
	require.NoError(t, err)
	_, err = h.sales.FinalizeSale(ctx, sale.ID, cash("30.00"))
	require.NoError(t, err)

	sale, err = h.sales.CancelSale(ctx, sale.ID, "customer changed their mind")
	require.NoError(t, err)
	assert.Equal(t, model.SaleCancelled, sale.Status)
	require.NotNil(t, sale.CancellationReason)

	assert.True(t, h.stock(t, p).Equal(d("10")))
	assert.True(t, h.stock(t, q).Equal(d("10")))
	assert.True(t, h.balance(t).Equal(d("100.00")))

	inv, cm := saleMovements(t, h, sale.ID)
	assert.Len(t, inv, 4)
	assert.Len(t, cm, 2)
	for _, id := range []uuid.UUID{p, q} {
		rec, err := h.inventory.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Consistent)
	}
}

// ── OpenSale ──────────────────────────────────────────────────────────────────

func TestOpenSale_RequiresOpenRegister(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	closed := h.newRegister(t, "002")
	_, err := h.sales.OpenSale(ctx, closed, h.operatorID, nil)
	assert.ErrorIs(t, err, domainerr.ErrRegisterNotOpen)

	_, err = h.sales.OpenSale(ctx, uuid.New(), h.operatorID, nil)
	assert.ErrorIs(t, err, domainerr.ErrRegisterNotFound)
}

func TestOpenSale_NumbersAreGaplessUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const n = 25

	var (
		mu      sync.Mutex
		numbers []string
		wg      sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, sale.SequenceNumber)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, numbers, n)
	sort.Strings(numbers)
	prefix := numbers[0][:8]
	for i, num := range numbers {
		assert.Len(t, num, 12)
		assert.Equal(t, prefix, num[:8])
		assert.Equal(t, i+1, atoi(t, num[8:]))
	}

	// Another register has its own counter.
	other := h.newRegister(t, "002")
	_, err := h.cash.OpenRegister(ctx, other, h.operatorID, decimal.Zero)
	require.NoError(t, err)
	sale, err := h.sales.OpenSale(ctx, other, h.operatorID, nil)
	require.NoError(t, err)
	assert.Equal(t, prefix+"0001", sale.SequenceNumber)
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}

// ── AddLine / ApplyDiscount ───────────────────────────────────────────────────

func TestAddLine_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	un := h.newProduct(t, "UN1", "UN", "3.00", "10")
	kg := h.newProduct(t, "KG1", "KG", "40.00", "5")

	inactive := &model.Product{Code: "OFF", Name: "Off", Unit: "UN", UnitPrice: d("1"), Active: false,
		TaxClassification: "22021000", TaxOrigin: "0", FiscalOperationCode: "5102", TaxSituationCode: "102"}
	require.NoError(t, h.store.Products().Create(ctx, inactive))

	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)

	_, err = h.sales.AddLine(ctx, sale.ID, un, d("0"), nil)
	assert.ErrorIs(t, err, domainerr.ErrInvalidQuantity)
	_, err = h.sales.AddLine(ctx, sale.ID, un, d("1.5"), nil)
	assert.ErrorIs(t, err, domainerr.ErrInvalidQuantity)
	_, err = h.sales.AddLine(ctx, sale.ID, kg, d("0.7505"), nil)
	assert.ErrorIs(t, err, domainerr.ErrInvalidQuantity)
	_, err = h.sales.AddLine(ctx, sale.ID, uuid.New(), d("1"), nil)
	assert.ErrorIs(t, err, domainerr.ErrProductNotFound)
	_, err = h.sales.AddLine(ctx, sale.ID, inactive.ID, d("1"), nil)
	assert.ErrorIs(t, err, domainerr.ErrProductInactive)
	neg := d("-1")
	_, err = h.sales.AddLine(ctx, sale.ID, un, d("1"), &neg)
	assert.ErrorIs(t, err, domainerr.ErrInvalidPrice)
	_, err = h.sales.AddLine(ctx, uuid.New(), un, d("1"), nil)
	assert.ErrorIs(t, err, domainerr.ErrSaleNotFound)

	sale, err = h.sales.AddLine(ctx, sale.ID, kg, d("0.750"), nil)
	require.NoError(t, err)
	override := d("2.50")
	sale, err = h.sales.AddLine(ctx, sale.ID, un, d("2"), &override)
	require.NoError(t, err)

	require.Len(t, sale.Lines, 2)
	assert.True(t, sale.Lines[0].Total.Equal(d("30.00")))
	assert.True(t, sale.Lines[1].Total.Equal(d("5.00")))
	assert.Equal(t, 2, sale.Lines[1].Position)
	assert.Equal(t, "22021000", sale.Lines[1].TaxClassification)
	assert.True(t, sale.Subtotal.Equal(d("35.00")))
}

func TestApplyDiscount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")

	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, p, d("3"), nil)
	require.NoError(t, err)

	_, err = h.sales.ApplyDiscount(ctx, sale.ID, d("30.01"))
	assert.ErrorIs(t, err, domainerr.ErrInvalidDiscount)
	_, err = h.sales.ApplyDiscount(ctx, sale.ID, d("-1"))
	assert.ErrorIs(t, err, domainerr.ErrInvalidDiscount)

	sale, err = h.sales.ApplyDiscount(ctx, sale.ID, d("4.50"))
	require.NoError(t, err)
	assert.True(t, sale.Total.Equal(d("25.50")))

	// Total keeps tracking Σ lines − discount as lines are added.
	sale, err = h.sales.AddLine(ctx, sale.ID, p, d("1"), nil)
	require.NoError(t, err)
	assert.True(t, sale.Total.Equal(d("35.50")))

	sale, err = h.sales.FinalizeSale(ctx, sale.ID, cash("35.50"))
	require.NoError(t, err)
	assert.True(t, h.balance(t).Equal(d("135.50")))
	assert.True(t, sale.Change.IsZero())
}

// ── FinalizeSale ──────────────────────────────────────────────────────────────

func TestFinalizeSale_PaymentRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")

	empty, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.FinalizeSale(ctx, empty.ID, cash("10.00"))
	assert.ErrorIs(t, err, domainerr.ErrEmptySale)

	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, p, d("2"), nil)
	require.NoError(t, err)

	_, err = h.sales.FinalizeSale(ctx, sale.ID, cash("19.99"))
	assert.ErrorIs(t, err, domainerr.ErrInsufficientPayment)

	_, err = h.sales.FinalizeSale(ctx, sale.ID, []service.PaymentInput{{Method: "voucher", Amount: d("20")}})
	assert.ErrorIs(t, err, domainerr.ErrInvalidPayment)

	_, err = h.sales.FinalizeSale(ctx, sale.ID, []service.PaymentInput{{Method: model.PaymentCash, Amount: d("0")}})
	assert.ErrorIs(t, err, domainerr.ErrInvalidPayment)

	// Change cannot be handed out of a card payment.
	_, err = h.sales.FinalizeSale(ctx, sale.ID, []service.PaymentInput{
		{Method: model.PaymentCash, Amount: d("1.00")},
		{Method: model.PaymentDebitCard, Amount: d("24.00")},
	})
	assert.ErrorIs(t, err, domainerr.ErrInvalidPayment)

	assert.True(t, h.stock(t, p).Equal(d("10")))
	assert.True(t, h.balance(t).Equal(d("100.00")))

	sale, err = h.sales.FinalizeSale(ctx, sale.ID, []service.PaymentInput{
		{Method: model.PaymentCash, Amount: d("10.00")},
		{Method: model.PaymentCreditCard, Amount: d("7.00")},
		{Method: model.PaymentInstantTransfer, Amount: d("5.00")},
	})
	require.NoError(t, err)
	assert.True(t, sale.Change.Equal(d("2.00")))
	assert.Len(t, sale.Payments, 3)
	// The register is credited with the total, not the tendered amount.
	assert.True(t, h.balance(t).Equal(d("120.00")))
}

func TestFinalizeSale_TwiceFailsWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	_, err := h.sales.FinalizeSale(ctx, sale.ID, cash("10.00"))
	assert.ErrorIs(t, err, domainerr.ErrSaleNotOpen)

	_, err = h.sales.AddLine(ctx, sale.ID, p, d("1"), nil)
	assert.ErrorIs(t, err, domainerr.ErrSaleNotOpen)

	inv, cm := saleMovements(t, h, sale.ID)
	assert.Len(t, inv, 1)
	assert.Len(t, cm, 1)
	assert.True(t, h.stock(t, p).Equal(d("9")))

	_, err = h.sales.CancelSale(ctx, sale.ID, "wrong product scanned")
	require.NoError(t, err)
	_, err = h.sales.FinalizeSale(ctx, sale.ID, cash("10.00"))
	assert.ErrorIs(t, err, domainerr.ErrSaleNotOpen)
	assert.True(t, h.stock(t, p).Equal(d("10")))
}

func TestFinalizeSale_UntrackedProductKeepsStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := &model.Product{Code: "SVC", Name: "Gift wrap", Unit: "UN", UnitPrice: d("3.00"), Active: true,
		StockTracked: false, TaxClassification: "48239090", TaxOrigin: "0", FiscalOperationCode: "5102", TaxSituationCode: "102"}
	require.NoError(t, h.store.Products().Create(ctx, svc))

	sale := h.finalizedSale(t, svc.ID, "2")
	inv, cm := saleMovements(t, h, sale.ID)
	assert.Empty(t, inv)
	assert.Len(t, cm, 1)
}

func TestFinalizeSale_StockIsLinearizable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "HOT", "UN", "10.00", "5")
	const buyers = 12

	sales := make([]uuid.UUID, buyers)
	for i := range sales {
		sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
		require.NoError(t, err)
		_, err = h.sales.AddLine(ctx, sale.ID, p, d("1"), nil)
		require.NoError(t, err)
		sales[i] = sale.ID
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for _, id := range sales {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := h.sales.FinalizeSale(ctx, id, cash("10.00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, domainerr.ErrInsufficientStock):
				fail++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, buyers-5, fail)
	assert.True(t, h.stock(t, p).IsZero())
	assert.True(t, h.balance(t).Equal(d("150.00")))
	rec, err := h.inventory.Reconcile(ctx, p)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
}

// ── CancelSale ────────────────────────────────────────────────────────────────

func TestCancelSale_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")

	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, p, d("1"), nil)
	require.NoError(t, err)

	_, err = h.sales.CancelSale(ctx, sale.ID, "too short")
	assert.ErrorIs(t, err, domainerr.ErrInvalidJustification)

	// An open sale is cancelled without touching any ledger.
	sale, err = h.sales.CancelSale(ctx, sale.ID, "customer left the store")
	require.NoError(t, err)
	assert.Equal(t, model.SaleCancelled, sale.Status)
	inv, cm := saleMovements(t, h, sale.ID)
	assert.Empty(t, inv)
	assert.Empty(t, cm)

	_, err = h.sales.CancelSale(ctx, sale.ID, "customer left the store")
	assert.ErrorIs(t, err, domainerr.ErrAlreadyCancelled)

	_, err = h.sales.CancelSale(ctx, uuid.New(), "customer left the store")
	assert.ErrorIs(t, err, domainerr.ErrSaleNotFound)
}

func TestCancelSale_AllowedAfterRegisterClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	_, err := h.cash.CloseRegister(ctx, h.registerID, d("110.00"), nil)
	require.NoError(t, err)

	_, err = h.sales.CancelSale(ctx, sale.ID, "returned on the next day")
	require.NoError(t, err)
	assert.True(t, h.balance(t).Equal(d("-10.00")))
	rec, err := h.cash.Reconcile(ctx, h.registerID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
}

// ── Fiscal integration ────────────────────────────────────────────────────────

func TestFinalizeSale_InlineEmission(t *testing.T) {
	h := newHarness(t, withInlineEmission())
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")

	sale := h.finalizedSale(t, p, "2")
	require.Len(t, sale.FiscalDocuments, 1)
	doc := sale.FiscalDocuments[0]
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	require.NotNil(t, doc.AccessKey)
	assert.Len(t, *doc.AccessKey, 44)

	sale, err := h.sales.CancelSale(ctx, sale.ID, "customer returned the goods")
	require.NoError(t, err)
	require.Len(t, sale.FiscalDocuments, 1)
	assert.Equal(t, model.FiscalCancelled, sale.FiscalDocuments[0].Status)
	_, cancels, _ := h.nfce.Calls()
	assert.Equal(t, 1, cancels)
}

func TestFinalizeSale_ZeroTotalIsEmittedWithoutPayments(t *testing.T) {
	h := newHarness(t, withInlineEmission())
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")

	sale, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, sale.ID, p, d("1"), nil)
	require.NoError(t, err)
	_, err = h.sales.ApplyDiscount(ctx, sale.ID, d("10.00"))
	require.NoError(t, err)

	sale, err = h.sales.FinalizeSale(ctx, sale.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SaleFinalized, sale.Status)
	assert.True(t, sale.Total.IsZero())
	assert.Empty(t, sale.Payments)
	assert.True(t, h.balance(t).Equal(d("100.00")))

	require.Len(t, sale.FiscalDocuments, 1)
	doc := sale.FiscalDocuments[0]
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	assert.Nil(t, doc.ErrorCategory)
	assert.Contains(t, doc.Payload, "<tPag>90</tPag><vPag>0.00</vPag>")
}

func TestFinalizeSale_EmissionFailureKeepsSale(t *testing.T) {
	h := newHarness(t, withInlineEmission())
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	h.nfce.SetUnavailable(true)

	sale := h.finalizedSale(t, p, "1")
	assert.Equal(t, model.SaleFinalized, sale.Status)
	require.Len(t, sale.FiscalDocuments, 1)
	assert.Equal(t, model.FiscalError, sale.FiscalDocuments[0].Status)
	assert.Equal(t, model.FailureUnavailable, *sale.FiscalDocuments[0].ErrorCategory)
	assert.True(t, h.stock(t, p).Equal(d("9")))
}

func TestCancelSale_FiscalFailureLeavesCancellationPending(t *testing.T) {
	h := newHarness(t, withInlineEmission())
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "10")
	sale := h.finalizedSale(t, p, "1")

	h.nfce.FailNextCancel(1)
	sale, err := h.sales.CancelSale(ctx, sale.ID, "customer returned the goods")
	require.NoError(t, err)
	assert.Equal(t, model.SaleCancelled, sale.Status)
	doc := sale.FiscalDocuments[0]
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	assert.True(t, doc.CancellationPending)
	require.NotNil(t, doc.CancellationError)

	attention, err := h.fiscal.ListAttention(ctx, 10)
	require.NoError(t, err)
	require.Len(t, attention, 1)

	outcome, err := h.fiscal.Retry(ctx, attention[0])
	require.NoError(t, err)
	assert.Equal(t, service.RetryCancelled, outcome)

	got, err := h.fiscal.Get(ctx, sale.ID, string(fiscal.KindNFCe))
	require.NoError(t, err)
	assert.Equal(t, model.FiscalCancelled, got.Status)
	assert.False(t, got.CancellationPending)
}

// ── Queries ───────────────────────────────────────────────────────────────────

func TestListSalesAndSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "P", "UN", "10.00", "20")

	first := h.finalizedSale(t, p, "2")
	_ = h.finalizedSale(t, p, "1")
	cancelled := h.finalizedSale(t, p, "3")
	_, err := h.sales.CancelSale(ctx, cancelled.ID, "duplicate checkout by mistake")
	require.NoError(t, err)

	withChange, err := h.sales.OpenSale(ctx, h.registerID, h.operatorID, nil)
	require.NoError(t, err)
	_, err = h.sales.AddLine(ctx, withChange.ID, p, d("1"), nil)
	require.NoError(t, err)
	_, err = h.sales.FinalizeSale(ctx, withChange.ID, cash("50.00"))
	require.NoError(t, err)

	finalized, err := h.sales.ListSales(ctx, repository.SaleFilter{Status: model.SaleFinalized})
	require.NoError(t, err)
	assert.Len(t, finalized, 3)

	sum, err := h.sales.Summary(ctx, first.BusinessDate, first.BusinessDate)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 1, sum.CancelledCount)
	assert.True(t, sum.Total.Equal(d("40.00")))
	assert.True(t, sum.ByMethod[model.PaymentCash].Equal(d("40.00")))
}
