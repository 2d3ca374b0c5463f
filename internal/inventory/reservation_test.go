package inventory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestReservationManagerReserveIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Seed(10, 1, 50, 0)
	svc, _, _ := newTestService(repo)
	mgr := NewReservationManager(svc)
	ctx := tenantCtx()
	lines := []ReservationLine{{ProductID: 10, LocationID: 1, Quantity: 20}}

	_, err := mgr.Reserve(ctx, OrderRef(5), lines)
	require.NoError(t, err)
	results, err := mgr.Reserve(ctx, OrderRef(5), lines)
	require.NoError(t, err)
	require.Nil(t, results[0].Movement)
	require.Equal(t, int64(20), repo.ItemAt(10, 1).ReservedQuantity)

	// smaller is a no-op, larger tops up
	_, err = mgr.Reserve(ctx, OrderRef(5), []ReservationLine{{ProductID: 10, LocationID: 1, Quantity: 5}})
	require.NoError(t, err)
	results, err = mgr.Reserve(ctx, OrderRef(5), []ReservationLine{{ProductID: 10, LocationID: 1, Quantity: 26}})
	require.NoError(t, err)
	require.Equal(t, int64(6), results[0].Movement.ReservedDelta)
	require.Equal(t, int64(26), repo.ItemAt(10, 1).ReservedQuantity)
	require.Len(t, repo.MovementsAt(10, 1), 2)
	requireLedgerInvariants(t, repo)
}

func TestReservationManagerTopUpRespectsAvailable(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Seed(10, 1, 10, 0)
	svc, _, _ := newTestService(repo)
	mgr := NewReservationManager(svc)
	ctx := tenantCtx()

	_, err := mgr.Reserve(ctx, OrderRef(1), []ReservationLine{{ProductID: 10, LocationID: 1, Quantity: 8}})
	require.NoError(t, err)
	_, err = mgr.Reserve(ctx, OrderRef(1), []ReservationLine{{ProductID: 10, LocationID: 1, Quantity: 11}})
	require.ErrorIs(t, err, shared.ErrInsufficientAvailableStock)
	require.Equal(t, int64(8), repo.ItemAt(10, 1).ReservedQuantity)
}

func TestReservationManagerReleaseIsForgiving(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Seed(10, 1, 50, 0)
	repo.Seed(11, 1, 50, 0)
	svc, _, _ := newTestService(repo)
	mgr := NewReservationManager(svc)
	ctx := tenantCtx()

	results, err := mgr.Release(ctx, OrderRef(77), []ReservationLine{{ProductID: 10, LocationID: 1, Quantity: 3}})
	require.NoError(t, err, "missing key is already released")
	require.Nil(t, results[0].Movement)

	_, err = mgr.Reserve(ctx, OrderRef(77), []ReservationLine{
		{ProductID: 10, LocationID: 1, Quantity: 4},
		{ProductID: 11, LocationID: 1, Quantity: 6},
	})
	require.NoError(t, err)

	_, err = mgr.Release(ctx, OrderRef(77), []ReservationLine{{ProductID: 10, LocationID: 1, Quantity: 9}})
	require.ErrorIs(t, err, shared.ErrInvalidReleaseAmount)

	results, err = mgr.ReleaseAll(ctx, OrderRef(77))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Zero(t, repo.ItemAt(10, 1).ReservedQuantity)
	require.Zero(t, repo.ItemAt(11, 1).ReservedQuantity)

	results, err = mgr.ReleaseAll(ctx, OrderRef(77))
	require.NoError(t, err)
	require.Empty(t, results)
	requireLedgerInvariants(t, repo)
}

func TestReservationManagerRejectsManualReference(t *testing.T) {
	svc, _, _ := newTestService(NewMemoryRepository())
	_, err := NewReservationManager(svc).Reserve(tenantCtx(), ManualRef(), []ReservationLine{{ProductID: 1, Quantity: 1}})
	require.ErrorIs(t, err, shared.ErrValidation)
}
