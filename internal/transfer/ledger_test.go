package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func newLedgerBackedService(stock *inventory.MemoryRepository) (*Service, *inventory.Service) {
	ledger := inventory.NewService(stock, nil, inventory.ServiceConfig{})
	svc := NewService(newMemoryRepo(), ledger, fakeLocations{locA: true, locB: true}, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC) }
	return svc, ledger
}

func TestDispatchThroughStockLedger(t *testing.T) {
	stock := inventory.NewMemoryRepository()
	stock.Seed(10, locA, 30, 0)
	stock.Seed(11, locA, 8, 0)
	svc, ledger := newLedgerBackedService(stock)
	ctx := tenantCtx()

	// an open order holds 6 of the 8 units of product 11 at the source
	_, err := ledger.Reserve(ctx, inventory.StockInput{ProductID: 11, LocationID: locA, Quantity: 6, Reference: inventory.OrderRef(9)})
	require.NoError(t, err)

	tr, err := svc.Create(ctx, CreateInput{FromLocationID: locA, ToLocationID: locB, Items: []ItemInput{
		{ProductID: 10, Quantity: 10},
		{ProductID: 11, Quantity: 5},
	}})
	require.NoError(t, err)

	_, err = svc.MarkInTransit(ctx, tr.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Contains(t, err.Error(), "line 2")
	require.Equal(t, int64(30), stock.ItemAt(10, locA).Quantity)
	require.Empty(t, stock.MovementsAt(10, locA))
	require.Equal(t, int64(8), stock.ItemAt(11, locA).Quantity)
	require.Equal(t, int64(6), stock.ItemAt(11, locA).ReservedQuantity)
	got, err := svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	_, err = ledger.Release(ctx, inventory.StockInput{ProductID: 11, LocationID: locA, Quantity: 3, Reference: inventory.OrderRef(9)})
	require.NoError(t, err)

	tr, err = svc.MarkInTransit(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, tr.Status)
	require.Equal(t, int64(20), stock.ItemAt(10, locA).Quantity)
	src := stock.ItemAt(11, locA)
	require.Equal(t, int64(3), src.Quantity)
	require.Equal(t, int64(3), src.ReservedQuantity)
	out := stock.MovementsAt(11, locA)
	require.Len(t, out, 3)
	require.Equal(t, inventory.MovementTransferOut, out[2].Type)
	require.Equal(t, inventory.TransferRef(tr.ID), out[2].Reference)
	require.Zero(t, out[2].ReservedDelta)

	tr, err = svc.Complete(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, tr.Status)
	require.Equal(t, int64(10), stock.ItemAt(10, locB).Quantity)
	require.Equal(t, int64(5), stock.ItemAt(11, locB).Quantity)
	in := stock.MovementsAt(11, locB)
	require.Len(t, in, 1)
	require.Equal(t, inventory.MovementTransferIn, in[0].Type)
	require.Equal(t, int64(5), in[0].Quantity)
}
