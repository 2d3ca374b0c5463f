package inventory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cucumber/godog"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type ledgerWorld struct {
	repo    *MemoryRepository
	svc     *Service
	mgr     *ReservationManager
	lastErr error
	errs    []error
}

func (w *ledgerWorld) reset() {
	w.repo = NewMemoryRepository()
	w.svc, _, _ = newTestService(w.repo)
	w.mgr = NewReservationManager(w.svc)
	w.lastErr = nil
	w.errs = nil
}

func (w *ledgerWorld) ctx() context.Context {
	return shared.ContextWithTenant(context.Background(), "feature")
}

func (w *ledgerWorld) itemHas(product, location, quantity, reserved int64) error {
	w.repo.Seed(product, location, quantity, reserved)
	return nil
}

func (w *ledgerWorld) orderReserves(order, qty, product, location int64) error {
	_, err := w.svc.Reserve(w.ctx(), StockInput{ProductID: product, LocationID: location, Quantity: qty, Reference: OrderRef(order)})
	return err
}

func (w *ledgerWorld) orderReservesKeyed(order, qty, product, location int64) error {
	_, err := w.mgr.Reserve(w.ctx(), OrderRef(order), []ReservationLine{{ProductID: product, LocationID: location, Quantity: qty}})
	return err
}

func (w *ledgerWorld) orderDeducts(order, qty, product, location int64) error {
	_, err := w.svc.Deduct(w.ctx(), StockInput{ProductID: product, LocationID: location, Quantity: qty, Reference: OrderRef(order)})
	return err
}

func (w *ledgerWorld) manualDeductAttempted(qty, product, location int64) error {
	_, w.lastErr = w.svc.Deduct(w.ctx(), StockInput{ProductID: product, LocationID: location, Quantity: qty})
	return nil
}

func (w *ledgerWorld) concurrentReserves(a, b, qty, product, location int64) error {
	var wg sync.WaitGroup
	w.errs = make([]error, 2)
	for i, order := range []int64{a, b} {
		wg.Add(1)
		go func(i int, order int64) {
			defer wg.Done()
			_, w.errs[i] = w.svc.Reserve(w.ctx(), StockInput{ProductID: product, LocationID: location, Quantity: qty, Reference: OrderRef(order)})
		}(i, order)
	}
	wg.Wait()
	return nil
}

func (w *ledgerWorld) requestFailsWith(kind string) error {
	if got := shared.Kind(w.lastErr); got != kind {
		return fmt.Errorf("expected %s, got %q (%v)", kind, got, w.lastErr)
	}
	return nil
}

func (w *ledgerWorld) reservationOutcome(succeeded, failed int, kind string) error {
	var ok, bad int
	for _, err := range w.errs {
		switch {
		case err == nil:
			ok++
		case shared.Kind(err) == kind:
			bad++
		default:
			return fmt.Errorf("unexpected error: %w", err)
		}
	}
	if ok != succeeded || bad != failed {
		return fmt.Errorf("expected %d ok and %d failed, got %d and %d", succeeded, failed, ok, bad)
	}
	return nil
}

func (w *ledgerWorld) itemState(product, location, quantity, reserved, available int64) error {
	item := w.repo.ItemAt(product, location)
	if item.Quantity != quantity || item.ReservedQuantity != reserved || item.Available() != available {
		return fmt.Errorf("expected %d/%d/%d, got %d/%d/%d", quantity, reserved, available, item.Quantity, item.ReservedQuantity, item.Available())
	}
	return nil
}

func (w *ledgerWorld) lastMovement(typ string, from, to int64) error {
	w.repo.mu.Lock()
	defer w.repo.mu.Unlock()
	if len(w.repo.state.movements) == 0 {
		return fmt.Errorf("no movements logged")
	}
	m := w.repo.state.movements[len(w.repo.state.movements)-1]
	if string(m.Type) != typ || m.PreviousQuantity != from || m.NewQuantity != to {
		return fmt.Errorf("expected %s %d->%d, got %s %d->%d", typ, from, to, m.Type, m.PreviousQuantity, m.NewQuantity)
	}
	if m.NewQuantity-m.PreviousQuantity != m.Quantity {
		return fmt.Errorf("movement delta %d does not match snapshots", m.Quantity)
	}
	return nil
}

func (w *ledgerWorld) movementCount(n int, product, location int64) error {
	if got := len(w.repo.MovementsAt(product, location)); got != n {
		return fmt.Errorf("expected %d movements, got %d", n, got)
	}
	return nil
}

func InitializeLedgerScenario(ctx *godog.ScenarioContext) {
	w := &ledgerWorld{}
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		w.reset()
		return ctx, nil
	})
	ctx.Step(`^product (\d+) at location (\d+) has (\d+) on hand and (\d+) reserved$`, w.itemHas)
	ctx.Step(`^order (\d+) reserves (\d+) of product (\d+) at location (\d+)$`, w.orderReserves)
	ctx.Step(`^order (\d+) reserves (\d+) of product (\d+) at location (\d+) through the reservation ledger$`, w.orderReservesKeyed)
	ctx.Step(`^order (\d+) deducts (\d+) of product (\d+) at location (\d+)$`, w.orderDeducts)
	ctx.Step(`^a manual deduction of (\d+) of product (\d+) at location (\d+) is attempted$`, w.manualDeductAttempted)
	ctx.Step(`^orders (\d+) and (\d+) each reserve (\d+) of product (\d+) at location (\d+) concurrently$`, w.concurrentReserves)
	ctx.Step(`^the request fails with (\w+)$`, w.requestFailsWith)
	ctx.Step(`^exactly (\d+) reservation succeeds and (\d+) fails with (\w+)$`, w.reservationOutcome)
	ctx.Step(`^product (\d+) at location (\d+) has (\d+) on hand, (\d+) reserved and (\d+) available$`, w.itemState)
	ctx.Step(`^the last movement is (\w+) from (\d+) to (\d+)$`, w.lastMovement)
	ctx.Step(`^(\d+) movements are logged for product (\d+) at location (\d+)$`, w.movementCount)
}

func TestLedgerFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeLedgerScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
