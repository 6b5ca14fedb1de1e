package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"pdv/internal/domainerr"
	"pdv/internal/metrics"
	"pdv/internal/model"
	"pdv/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// SaleOrchestrator drives a sale from open to finalized or cancelled.
// Finalize and cancel touch stock, cash and the sale in one transaction;
// fiscal work happens only after that transaction commits.
type SaleOrchestrator interface {
	OpenSale(ctx context.Context, registerID, operatorID uuid.UUID, customerID *uuid.UUID) (*model.Sale, error)
	AddLine(ctx context.Context, saleID, productID uuid.UUID, quantity decimal.Decimal, unitPrice *decimal.Decimal) (*model.Sale, error)
	ApplyDiscount(ctx context.Context, saleID uuid.UUID, amount decimal.Decimal) (*model.Sale, error)
	FinalizeSale(ctx context.Context, saleID uuid.UUID, payments []PaymentInput) (*model.Sale, error)
	CancelSale(ctx context.Context, saleID uuid.UUID, justification string) (*model.Sale, error)
	GetSale(ctx context.Context, saleID uuid.UUID) (*model.Sale, error)
	ListSales(ctx context.Context, filter repository.SaleFilter) ([]model.Sale, error)
	Summary(ctx context.Context, from, to string) (*SalesSummary, error)
}

// PaymentInput is one tender offered at finalize.
type PaymentInput struct {
	Method           string
	Amount           decimal.Decimal
	AuthorizationRef *string
	CardBrand        *string
}

// SalesSummary aggregates finalized sales over a business-date range.
type SalesSummary struct {
	From           string                     `json:"from"`
	To             string                     `json:"to"`
	Count          int                        `json:"count"`
	CancelledCount int                        `json:"cancelled_count"`
	Gross          decimal.Decimal            `json:"gross"`
	Discount       decimal.Decimal            `json:"discount"`
	Total          decimal.Decimal            `json:"total"`
	ByMethod       map[string]decimal.Decimal `json:"by_method"`
}

// EmissionTrigger is told about every sale that committed as finalized.
// Implementations must not fail the caller: the sale is already final.
type EmissionTrigger interface {
	SaleFinalized(ctx context.Context, saleID uuid.UUID)
}

// SaleConfig carries the orchestrator's collaborators.
type SaleConfig struct {
	UnitOfWork repository.UnitOfWork
	Inventory  InventoryLedger
	Cash       CashLedger
	Fiscal     FiscalEmitter
	Trigger    EmissionTrigger
	Metrics    *metrics.Metrics
	Location   *time.Location
	Now        Clock
}

type saleService struct {
	uow       repository.UnitOfWork
	inventory InventoryLedger
	cash      CashLedger
	fiscal    FiscalEmitter
	trigger   EmissionTrigger
	metrics   *metrics.Metrics
	loc       *time.Location
	now       Clock
}

func NewSaleOrchestrator(cfg SaleConfig) SaleOrchestrator {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &saleService{
		uow:       cfg.UnitOfWork,
		inventory: cfg.Inventory,
		cash:      cfg.Cash,
		fiscal:    cfg.Fiscal,
		trigger:   cfg.Trigger,
		metrics:   cfg.Metrics,
		loc:       loc,
		now:       orNow(cfg.Now),
	}
}

const (
	minJustification = 15
	maxJustification = 255
)

// ── OpenSale ──────────────────────────────────────────────────────────────────

// OpenSale numbers the sale <yyyyMMdd><counter> from a counter scoped to the
// register and business day. The counter increments inside the transaction,
// so an aborted open leaves no gap.
func (s *saleService) OpenSale(ctx context.Context, registerID, operatorID uuid.UUID, customerID *uuid.UUID) (*model.Sale, error) {
	var sale *model.Sale
	err := s.uow.RunInTx(ctx, func(tx repository.Store) error {
		if _, err := s.cash.RequireOpen(ctx, tx, registerID); err != nil {
			return err
		}
		now := s.now().In(s.loc)
		period := now.Format("20060102")
		n, err := tx.Sequences().Next(ctx, "sale:"+registerID.String(), period)
		if err != nil {
			return fmt.Errorf("allocate sale number: %w", err)
		}
		sale = &model.Sale{
			SequenceNumber: fmt.Sprintf("%s%04d", period, n),
			RegisterID:     registerID,
			OperatorID:     operatorID,
			CustomerID:     customerID,
			BusinessDate:   now.Format("2006-01-02"),
			Status:         model.SaleOpen,
			Subtotal:       decimal.Zero,
			Discount:       decimal.Zero,
			Total:          decimal.Zero,
			OpenedAt:       now,
		}
		return tx.Sales().Create(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("sale_id", sale.ID.String()).Str("number", sale.SequenceNumber).Msg("sale_service: sale opened")
	return sale, nil
}

// ── AddLine ───────────────────────────────────────────────────────────────────

// AddLine snapshots the product into a new line. The stock check here is
// advisory; FinalizeSale re-checks under lock.
func (s *saleService) AddLine(ctx context.Context, saleID, productID uuid.UUID, quantity decimal.Decimal, unitPrice *decimal.Decimal) (*model.Sale, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", domainerr.ErrInvalidQuantity)
	}
	if unitPrice != nil && (!unitPrice.IsPositive() || !unitPrice.Equal(unitPrice.Truncate(2))) {
		return nil, fmt.Errorf("%w: %s", domainerr.ErrInvalidPrice, unitPrice)
	}

	var sale *model.Sale
	err := s.uow.RunInTx(ctx, func(tx repository.Store) error {
		var err error
		sale, err = tx.Sales().LockByID(ctx, saleID)
		if err != nil {
			return notFound(err, domainerr.ErrSaleNotFound)
		}
		if sale.Status != model.SaleOpen {
			return domainerr.ErrSaleNotOpen
		}
		p, err := tx.Products().FindByID(ctx, productID)
		if err != nil {
			return notFound(err, domainerr.ErrProductNotFound)
		}
		if !p.Active {
			return domainerr.ErrProductInactive
		}
		if !fitsUnit(quantity, p.Unit) {
			return fmt.Errorf("%w: %s takes at most %d decimals", domainerr.ErrInvalidQuantity, p.Unit, model.UnitPrecision(p.Unit))
		}
		if p.StockTracked {
			inCart := decimal.Zero
			for _, l := range sale.Lines {
				if l.ProductID == productID {
					inCart = inCart.Add(l.Quantity)
				}
			}
			if p.Stock.LessThan(inCart.Add(quantity)) {
				return fmt.Errorf("%w: %s has %s, cart needs %s", domainerr.ErrInsufficientStock, p.Code, p.Stock, inCart.Add(quantity))
			}
		}

		price := p.UnitPrice
		if unitPrice != nil {
			price = *unitPrice
		}
		line := model.SaleLine{
			SaleID:              saleID,
			Position:            len(sale.Lines) + 1,
			ProductID:           p.ID,
			ProductCode:         p.Code,
			ProductName:         p.Name,
			Unit:                p.Unit,
			UnitPrice:           price,
			Quantity:            quantity,
			Total:               price.Mul(quantity).Round(2),
			StockTracked:        p.StockTracked,
			TaxOrigin:           p.TaxOrigin,
			TaxClassification:   p.TaxClassification,
			FiscalOperationCode: p.FiscalOperationCode,
			TaxSituationCode:    p.TaxSituationCode,
			TaxRate:             p.TaxRate,
		}
		if err := tx.Sales().AddLine(ctx, &line); err != nil {
			return fmt.Errorf("add sale line: %w", err)
		}
		sale.Lines = append(sale.Lines, line)
		recompute(sale)
		return tx.Sales().Update(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// ApplyDiscount sets the sale-level discount, replacing any previous one.
func (s *saleService) ApplyDiscount(ctx context.Context, saleID uuid.UUID, amount decimal.Decimal) (*model.Sale, error) {
	if amount.IsNegative() || !amount.Equal(amount.Truncate(2)) {
		return nil, fmt.Errorf("%w: %s", domainerr.ErrInvalidDiscount, amount)
	}
	var sale *model.Sale
	err := s.uow.RunInTx(ctx, func(tx repository.Store) error {
		var err error
		sale, err = tx.Sales().LockByID(ctx, saleID)
		if err != nil {
			return notFound(err, domainerr.ErrSaleNotFound)
		}
		if sale.Status != model.SaleOpen {
			return domainerr.ErrSaleNotOpen
		}
		if amount.GreaterThan(sale.Subtotal) {
			return fmt.Errorf("%w: %s exceeds subtotal %s", domainerr.ErrInvalidDiscount, amount, sale.Subtotal)
		}
		sale.Discount = amount
		recompute(sale)
		return tx.Sales().Update(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// recompute keeps total == Σ line totals − discount.
func recompute(sale *model.Sale) {
	sub := decimal.Zero
	for _, l := range sale.Lines {
		sub = sub.Add(l.Total)
	}
	sale.Subtotal = sub
	sale.Total = sub.Sub(sale.Discount)
}

// ── FinalizeSale ──────────────────────────────────────────────────────────────

// FinalizeSale debits stock per stock-tracked line, credits the register with
// the sale total and records the payments, all or nothing. Emission is
// triggered after commit and never undoes the sale.
func (s *saleService) FinalizeSale(ctx context.Context, saleID uuid.UUID, payments []PaymentInput) (*model.Sale, error) {
	start := time.Now()
	for _, p := range payments {
		if !model.IsValidPaymentMethod(p.Method) {
			return nil, fmt.Errorf("%w: unknown method %q", domainerr.ErrInvalidPayment, p.Method)
		}
		if !p.Amount.IsPositive() || !p.Amount.Equal(p.Amount.Truncate(2)) {
			return nil, fmt.Errorf("%w: amount %s", domainerr.ErrInvalidPayment, p.Amount)
		}
	}

	var sale *model.Sale
	err := s.uow.RunInTx(ctx, func(tx repository.Store) error {
		var err error
		sale, err = tx.Sales().LockByID(ctx, saleID)
		if err != nil {
			return notFound(err, domainerr.ErrSaleNotFound)
		}
		if sale.Status != model.SaleOpen {
			return domainerr.ErrSaleNotOpen
		}
		if len(sale.Lines) == 0 {
			return domainerr.ErrEmptySale
		}
		tendered, change, err := settle(sale.Total, payments)
		if err != nil {
			return err
		}

		// Lock products in id order so concurrent finalizes cannot deadlock.
		lines := append([]model.SaleLine(nil), sale.Lines...)
		sort.SliceStable(lines, func(i, j int) bool {
			return bytes.Compare(lines[i].ProductID[:], lines[j].ProductID[:]) < 0
		})
		for _, l := range lines {
			if !l.StockTracked {
				continue
			}
			if _, err := s.inventory.Debit(ctx, tx, l.ProductID, l.Quantity, sale.ID); err != nil {
				return err
			}
		}

		if sale.Total.IsPositive() {
			if _, err := s.cash.CreditSale(ctx, tx, sale.RegisterID, sale.Total, sale.ID, sale.OperatorID); err != nil {
				return err
			}
		} else if _, err := s.cash.RequireOpen(ctx, tx, sale.RegisterID); err != nil {
			return err
		}

		rows := make([]model.Payment, len(payments))
		for i, p := range payments {
			rows[i] = model.Payment{
				SaleID:           sale.ID,
				Method:           p.Method,
				Amount:           p.Amount,
				AuthorizationRef: p.AuthorizationRef,
				CardBrand:        p.CardBrand,
			}
		}
		if len(rows) > 0 {
			if err := tx.Sales().AddPayments(ctx, rows); err != nil {
				return fmt.Errorf("record payments: %w", err)
			}
		}
		sale.Payments = append(sale.Payments, rows...)

		now := s.now()
		sale.Status = model.SaleFinalized
		sale.AmountTendered = tendered
		sale.Change = change
		sale.FinalizedAt = &now
		return tx.Sales().Update(ctx, sale)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SaleFinalized(time.Since(start))
	log.Info().
		Str("sale_id", sale.ID.String()).
		Str("number", sale.SequenceNumber).
		Str("total", sale.Total.StringFixed(2)).
		Msg("sale_service: sale finalized")

	if s.trigger != nil {
		s.trigger.SaleFinalized(ctx, sale.ID)
	}
	return s.GetSale(ctx, sale.ID)
}

// settle checks the tenders against total. Change can only come out of cash.
func settle(total decimal.Decimal, payments []PaymentInput) (tendered, change decimal.Decimal, err error) {
	cash := decimal.Zero
	for _, p := range payments {
		tendered = tendered.Add(p.Amount)
		if p.Method == model.PaymentCash {
			cash = cash.Add(p.Amount)
		}
	}
	if tendered.LessThan(total) {
		return tendered, decimal.Zero, fmt.Errorf("%w: paid %s of %s", domainerr.ErrInsufficientPayment, tendered, total)
	}
	change = tendered.Sub(total)
	if change.GreaterThan(cash) {
		return tendered, change, fmt.Errorf("%w: change %s exceeds cash tendered %s", domainerr.ErrInvalidPayment, change, cash)
	}
	return tendered, change, nil
}

// ── CancelSale ────────────────────────────────────────────────────────────────

// CancelSale voids an open or finalized sale. A finalized sale gets the
// inverse of every stock and cash movement it caused; emitted fiscal
// documents are then cancelled with the authority outside the transaction.
func (s *saleService) CancelSale(ctx context.Context, saleID uuid.UUID, justification string) (*model.Sale, error) {
	justification = strings.TrimSpace(justification)
	if n := utf8.RuneCountInString(justification); n < minJustification || n > maxJustification {
		return nil, domainerr.ErrInvalidJustification
	}

	var (
		sale         *model.Sale
		wasFinalized bool
	)
	err := s.uow.RunInTx(ctx, func(tx repository.Store) error {
		var err error
		sale, err = tx.Sales().LockByID(ctx, saleID)
		if err != nil {
			return notFound(err, domainerr.ErrSaleNotFound)
		}
		if sale.Status == model.SaleCancelled {
			return domainerr.ErrAlreadyCancelled
		}
		wasFinalized = sale.Status == model.SaleFinalized
		if wasFinalized {
			if err := s.reverseMovements(ctx, tx, sale); err != nil {
				return err
			}
		}
		now := s.now()
		sale.Status = model.SaleCancelled
		sale.CancelledAt = &now
		sale.CancellationReason = &justification
		return tx.Sales().Update(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SaleCancelled()
	log.Info().Str("sale_id", saleID.String()).Bool("was_finalized", wasFinalized).Msg("sale_service: sale cancelled")

	if wasFinalized && s.fiscal != nil {
		for _, d := range sale.FiscalDocuments {
			if d.Status != model.FiscalEmitted {
				continue
			}
			if _, err := s.fiscal.Cancel(ctx, saleID, d.Kind, justification); err != nil {
				log.Warn().Err(err).Str("sale_id", saleID.String()).Str("kind", d.Kind).
					Msg("sale_service: fiscal cancellation failed, left pending")
			}
		}
	}
	return s.GetSale(ctx, saleID)
}

func (s *saleService) reverseMovements(ctx context.Context, tx repository.Store, sale *model.Sale) error {
	stock, err := tx.Movements().ListInventory(ctx, repository.MovementFilter{SaleID: &sale.ID})
	if err != nil {
		return err
	}
	sort.SliceStable(stock, func(i, j int) bool {
		return bytes.Compare(stock[i].ProductID[:], stock[j].ProductID[:]) < 0
	})
	for _, m := range stock {
		if m.Reason != model.StockSaleDebit {
			continue
		}
		if _, err := s.inventory.Reverse(ctx, tx, m); err != nil {
			return fmt.Errorf("reverse stock movement %s: %w", m.ID, err)
		}
	}

	cash, err := tx.Movements().ListCash(ctx, repository.MovementFilter{SaleID: &sale.ID})
	if err != nil {
		return err
	}
	for _, m := range cash {
		if m.Reason != model.CashSaleCredit {
			continue
		}
		if _, err := s.cash.Reverse(ctx, tx, m, &sale.OperatorID); err != nil {
			return fmt.Errorf("reverse cash movement %s: %w", m.ID, err)
		}
	}
	return nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *saleService) GetSale(ctx context.Context, saleID uuid.UUID) (*model.Sale, error) {
	sale, err := s.uow.Sales().FindByID(ctx, saleID)
	if err != nil {
		return nil, notFound(err, domainerr.ErrSaleNotFound)
	}
	return sale, nil
}

func (s *saleService) ListSales(ctx context.Context, filter repository.SaleFilter) ([]model.Sale, error) {
	return s.uow.Sales().List(ctx, filter)
}

// Summary totals sales whose business date falls in [from, to]. Cash is
// counted net of change.
func (s *saleService) Summary(ctx context.Context, from, to string) (*SalesSummary, error) {
	sales, err := s.uow.Sales().List(ctx, repository.SaleFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	sum := &SalesSummary{From: from, To: to, ByMethod: make(map[string]decimal.Decimal)}
	for _, sale := range sales {
		switch sale.Status {
		case model.SaleCancelled:
			sum.CancelledCount++
			continue
		case model.SaleOpen:
			continue
		}
		sum.Count++
		sum.Gross = sum.Gross.Add(sale.Subtotal)
		sum.Discount = sum.Discount.Add(sale.Discount)
		sum.Total = sum.Total.Add(sale.Total)
		for _, p := range sale.Payments {
			sum.ByMethod[p.Method] = sum.ByMethod[p.Method].Add(p.Amount)
		}
		if sale.Change.IsPositive() {
			sum.ByMethod[model.PaymentCash] = sum.ByMethod[model.PaymentCash].Sub(sale.Change)
		}
	}
	return sum, nil
}
