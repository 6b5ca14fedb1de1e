package service_test

import (
	"context"
	"testing"

	"pdv/internal/domainerr"
	"pdv/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustLoadsStockThroughMovements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "ARROZ", "UN", "25.90", "10")

	mov, err := h.inventory.Adjust(ctx, p, d("-3"), "breakage")
	require.NoError(t, err)
	assert.Equal(t, model.StockAdjustment, mov.Reason)
	assert.True(t, mov.QuantityBefore.Equal(d("10")))
	assert.True(t, mov.QuantityAfter.Equal(d("7")))
	assert.True(t, h.stock(t, p).Equal(d("7")))

	movs, err := h.inventory.Movements(ctx, p, 0)
	require.NoError(t, err)
	assert.Len(t, movs, 2)

	rec, err := h.inventory.Reconcile(ctx, p)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.True(t, rec.MovementSum.Equal(d("7")))
}

func TestAdjustValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	un := h.newProduct(t, "LATA", "UN", "4.50", "2")
	kg := h.newProduct(t, "QUEIJO", "KG", "40.00", "0")

	_, err := h.inventory.Adjust(ctx, un, d("0"), "")
	assert.ErrorIs(t, err, domainerr.ErrInvalidQuantity)

	_, err = h.inventory.Adjust(ctx, un, d("1.5"), "")
	assert.ErrorIs(t, err, domainerr.ErrInvalidQuantity)

	_, err = h.inventory.Adjust(ctx, kg, d("1.255"), "receipt")
	assert.NoError(t, err)

	_, err = h.inventory.Adjust(ctx, kg, d("0.0001"), "")
	assert.ErrorIs(t, err, domainerr.ErrInvalidQuantity)

	_, err = h.inventory.Adjust(ctx, uuid.New(), d("1"), "")
	assert.ErrorIs(t, err, domainerr.ErrProductNotFound)
}

func TestAdjustNeverDrivesStockNegative(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.newProduct(t, "OVO", "UN", "1.00", "2")

	_, err := h.inventory.Adjust(ctx, p, d("-3"), "count")
	assert.ErrorIs(t, err, domainerr.ErrInsufficientStock)
	assert.True(t, h.stock(t, p).Equal(d("2")))

	movs, err := h.inventory.Movements(ctx, p, 0)
	require.NoError(t, err)
	assert.Len(t, movs, 1)
}
