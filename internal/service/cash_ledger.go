package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pdv/internal/domainerr"
	"pdv/internal/model"
	"pdv/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CashLedger owns register balances. Like stock, a balance only moves through
// appended CashMovements taken under the register's row lock.
type CashLedger interface {
	// RequireOpen locks the register inside tx and fails unless it is open.
	RequireOpen(ctx context.Context, tx repository.Store, registerID uuid.UUID) (*model.Register, error)
	// CreditSale adds a finalized sale's total to an open register inside tx.
	CreditSale(ctx context.Context, tx repository.Store, registerID uuid.UUID, amount decimal.Decimal, saleID, operatorID uuid.UUID) (*model.CashMovement, error)
	// Reverse appends the inverse of m inside tx, whatever the register state.
	Reverse(ctx context.Context, tx repository.Store, m model.CashMovement, operatorID *uuid.UUID) (*model.CashMovement, error)

	OpenRegister(ctx context.Context, registerID, operatorID uuid.UUID, openingBalance decimal.Decimal) (*model.Register, error)
	CloseRegister(ctx context.Context, registerID uuid.UUID, declared decimal.Decimal, notes *string) (*model.Register, error)
	RecordMovement(ctx context.Context, registerID uuid.UUID, kind string, amount decimal.Decimal, description string, operatorID uuid.UUID) (*model.CashMovement, error)
	Register(ctx context.Context, registerID uuid.UUID) (*model.Register, error)
	// CurrentRegister returns the register the operator has open.
	CurrentRegister(ctx context.Context, operatorID uuid.UUID) (*model.Register, error)
	Movements(ctx context.Context, registerID uuid.UUID, limit int) ([]model.CashMovement, error)
	Summary(ctx context.Context, registerID uuid.UUID) (*CashSummary, error)
	Reconcile(ctx context.Context, registerID uuid.UUID) (*CashReconciliation, error)
}

// CashSummary totals the current (or last) session's movements per reason.
type CashSummary struct {
	RegisterID uuid.UUID                  `json:"register_id"`
	Status     string                     `json:"status"`
	Balance    decimal.Decimal            `json:"balance"`
	OpenedAt   *time.Time                 `json:"opened_at,omitempty"`
	ByReason   map[string]decimal.Decimal `json:"by_reason"`
	Movements  int                        `json:"movements"`
}

// CashReconciliation compares the stored balance with the movement log.
type CashReconciliation struct {
	RegisterID  uuid.UUID       `json:"register_id"`
	Balance     decimal.Decimal `json:"balance"`
	MovementSum decimal.Decimal `json:"movement_sum"`
	Consistent  bool            `json:"consistent"`
}

type cashLedger struct {
	uow repository.UnitOfWork
	now Clock
}

func NewCashLedger(uow repository.UnitOfWork, now Clock) CashLedger {
	return &cashLedger{uow: uow, now: orNow(now)}
}

func (l *cashLedger) RequireOpen(ctx context.Context, tx repository.Store, registerID uuid.UUID) (*model.Register, error) {
	reg, err := tx.Registers().LockByID(ctx, registerID)
	if err != nil {
		return nil, notFound(err, domainerr.ErrRegisterNotFound)
	}
	if reg.Status != model.RegisterOpen {
		return nil, domainerr.ErrRegisterNotOpen
	}
	return reg, nil
}

func (l *cashLedger) CreditSale(ctx context.Context, tx repository.Store, registerID uuid.UUID, amount decimal.Decimal, saleID, operatorID uuid.UUID) (*model.CashMovement, error) {
	reg, err := l.RequireOpen(ctx, tx, registerID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: sale credit of %s", domainerr.ErrInvalidAmount, amount)
	}
	return l.append(ctx, tx, reg, amount, &saleID, model.CashSaleCredit, "", &operatorID)
}

func (l *cashLedger) Reverse(ctx context.Context, tx repository.Store, m model.CashMovement, operatorID *uuid.UUID) (*model.CashMovement, error) {
	reg, err := tx.Registers().LockByID(ctx, m.RegisterID)
	if err != nil {
		return nil, notFound(err, domainerr.ErrRegisterNotFound)
	}
	return l.append(ctx, tx, reg, m.Amount.Neg(), m.SaleID, model.CashCancellationDebit, "reversal of "+m.ID.String(), operatorID)
}

// ── Register lifecycle ────────────────────────────────────────────────────────

func (l *cashLedger) OpenRegister(ctx context.Context, registerID, operatorID uuid.UUID, openingBalance decimal.Decimal) (*model.Register, error) {
	if openingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance %s", domainerr.ErrInvalidAmount, openingBalance)
	}
	var out *model.Register
	err := l.uow.RunInTx(ctx, func(tx repository.Store) error {
		reg, err := tx.Registers().LockByID(ctx, registerID)
		if err != nil {
			return notFound(err, domainerr.ErrRegisterNotFound)
		}
		if reg.Status == model.RegisterOpen {
			return domainerr.ErrRegisterAlreadyOpen
		}
		now := l.now()
		reg.Status = model.RegisterOpen
		reg.OperatorID = &operatorID
		reg.OpeningBalance = openingBalance
		reg.OpenedAt = &now
		reg.ClosedAt = nil
		reg.ExpectedAmount, reg.DeclaredAmount, reg.Deviation, reg.DeviationPct = nil, nil, nil, nil
		reg.DeviationClass, reg.ClosingNotes = nil, nil
		if _, err := l.append(ctx, tx, reg, openingBalance, nil, model.CashOpening, "opening balance", &operatorID); err != nil {
			return err
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("register_id", registerID.String()).Str("opening", openingBalance.StringFixed(2)).Msg("cash_ledger: register opened")
	return out, nil
}

// CloseRegister compares the declared count with the ledger balance, records
// the deviation and empties the drawer with a closing movement. A critical
// deviation (> 5 %) requires notes.
func (l *cashLedger) CloseRegister(ctx context.Context, registerID uuid.UUID, declared decimal.Decimal, notes *string) (*model.Register, error) {
	if declared.IsNegative() {
		return nil, fmt.Errorf("%w: declared amount %s", domainerr.ErrInvalidAmount, declared)
	}
	var out *model.Register
	err := l.uow.RunInTx(ctx, func(tx repository.Store) error {
		reg, err := l.RequireOpen(ctx, tx, registerID)
		if err != nil {
			return err
		}
		expected := reg.Balance
		deviation := declared.Sub(expected)
		pct := deviationPct(deviation, expected)
		class := classifyDeviation(pct)
		if class == model.DeviationCritical && (notes == nil || strings.TrimSpace(*notes) == "") {
			return domainerr.ErrNotesRequired
		}

		if !expected.IsZero() {
			if _, err := l.append(ctx, tx, reg, expected.Neg(), nil, model.CashClosing, "closing count", reg.OperatorID); err != nil {
				return err
			}
		}
		now := l.now()
		reg.Status = model.RegisterClosed
		reg.ClosedAt = &now
		reg.ExpectedAmount = &expected
		reg.DeclaredAmount = &declared
		reg.Deviation = &deviation
		reg.DeviationPct = &pct
		reg.DeviationClass = &class
		reg.ClosingNotes = notes
		if err := tx.Registers().Update(ctx, reg); err != nil {
			return err
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("register_id", registerID.String()).Str("deviation", out.Deviation.StringFixed(2)).
		Str("class", *out.DeviationClass).Msg("cash_ledger: register closed")
	return out, nil
}

// RecordMovement posts a manual withdrawal (negative) or supply (positive).
// amount is always given as a positive value.
func (l *cashLedger) RecordMovement(ctx context.Context, registerID uuid.UUID, kind string, amount decimal.Decimal, description string, operatorID uuid.UUID) (*model.CashMovement, error) {
	if kind != model.CashWithdrawal && kind != model.CashSupply {
		return nil, domainerr.ErrInvalidMovementKind
	}
	if !amount.IsPositive() {
		return nil, domainerr.ErrInvalidAmount
	}
	var mov *model.CashMovement
	err := l.uow.RunInTx(ctx, func(tx repository.Store) error {
		reg, err := l.RequireOpen(ctx, tx, registerID)
		if err != nil {
			return err
		}
		signed := amount
		if kind == model.CashWithdrawal {
			if reg.Balance.LessThan(amount) {
				return fmt.Errorf("%w: balance %s, withdrawal %s", domainerr.ErrInsufficientCash, reg.Balance, amount)
			}
			signed = amount.Neg()
		}
		mov, err = l.append(ctx, tx, reg, signed, nil, kind, description, &operatorID)
		return err
	})
	return mov, err
}

func (l *cashLedger) Register(ctx context.Context, registerID uuid.UUID) (*model.Register, error) {
	reg, err := l.uow.Registers().FindByID(ctx, registerID)
	if err != nil {
		return nil, notFound(err, domainerr.ErrRegisterNotFound)
	}
	return reg, nil
}

func (l *cashLedger) CurrentRegister(ctx context.Context, operatorID uuid.UUID) (*model.Register, error) {
	reg, err := l.uow.Registers().FindOpenByOperator(ctx, operatorID)
	if err != nil {
		return nil, notFound(err, domainerr.ErrRegisterNotFound)
	}
	return reg, nil
}

func (l *cashLedger) Movements(ctx context.Context, registerID uuid.UUID, limit int) ([]model.CashMovement, error) {
	if _, err := l.Register(ctx, registerID); err != nil {
		return nil, err
	}
	return l.uow.Movements().ListCash(ctx, repository.MovementFilter{OwnerID: &registerID, Limit: limit})
}

func (l *cashLedger) Summary(ctx context.Context, registerID uuid.UUID) (*CashSummary, error) {
	reg, err := l.Register(ctx, registerID)
	if err != nil {
		return nil, err
	}
	filter := repository.MovementFilter{OwnerID: &registerID}
	if reg.OpenedAt != nil {
		filter.Since = *reg.OpenedAt
	}
	movs, err := l.uow.Movements().ListCash(ctx, filter)
	if err != nil {
		return nil, err
	}
	sum := &CashSummary{
		RegisterID: registerID,
		Status:     reg.Status,
		Balance:    reg.Balance,
		OpenedAt:   reg.OpenedAt,
		ByReason:   make(map[string]decimal.Decimal),
		Movements:  len(movs),
	}
	for _, m := range movs {
		sum.ByReason[m.Reason] = sum.ByReason[m.Reason].Add(m.Amount)
	}
	return sum, nil
}

func (l *cashLedger) Reconcile(ctx context.Context, registerID uuid.UUID) (*CashReconciliation, error) {
	var rec *CashReconciliation
	err := l.uow.RunInTx(ctx, func(tx repository.Store) error {
		reg, err := tx.Registers().FindByID(ctx, registerID)
		if err != nil {
			return notFound(err, domainerr.ErrRegisterNotFound)
		}
		sum, err := tx.Movements().SumCash(ctx, registerID)
		if err != nil {
			return err
		}
		rec = &CashReconciliation{
			RegisterID:  registerID,
			Balance:     reg.Balance,
			MovementSum: sum,
			Consistent:  reg.Balance.Equal(sum),
		}
		return nil
	})
	return rec, err
}

// append writes the movement and the new balance; reg must be locked in tx.
func (l *cashLedger) append(ctx context.Context, tx repository.Store, reg *model.Register, amount decimal.Decimal, saleID *uuid.UUID, reason, description string, operatorID *uuid.UUID) (*model.CashMovement, error) {
	before := reg.Balance
	reg.Balance = before.Add(amount)
	mov := &model.CashMovement{
		RegisterID:    reg.ID,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  reg.Balance,
		SaleID:        saleID,
		Reason:        reason,
		Description:   description,
		OperatorID:    operatorID,
	}
	if err := tx.Movements().AppendCash(ctx, mov); err != nil {
		return nil, fmt.Errorf("append cash movement: %w", err)
	}
	if err := tx.Registers().Update(ctx, reg); err != nil {
		return nil, fmt.Errorf("update register balance: %w", err)
	}
	return mov, nil
}

var hundred = decimal.NewFromInt(100)

// deviationPct is deviation as a percentage of expected. With nothing
// expected, any difference counts as 100 %.
func deviationPct(deviation, expected decimal.Decimal) decimal.Decimal {
	if expected.IsZero() {
		if deviation.IsZero() {
			return decimal.Zero
		}
		return hundred
	}
	return deviation.Div(expected.Abs()).Mul(hundred).Round(2)
}

// classifyDeviation: normal |pct| <= 1, warning <= 5, critical > 5.
func classifyDeviation(pct decimal.Decimal) string {
	abs := pct.Abs()
	switch {
	case abs.LessThanOrEqual(decimal.NewFromInt(1)):
		return model.DeviationNormal
	case abs.LessThanOrEqual(decimal.NewFromInt(5)):
		return model.DeviationWarning
	default:
		return model.DeviationCritical
	}
}
