package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	GetMovement(ctx context.Context, id int64) (Movement, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error)
	StockLevel(ctx context.Context, productID int64) (StockLevel, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
	ListReservations(ctx context.Context, ref Reference) ([]Reservation, error)
}

// TxRepository exposes transactional operations used by service. Lock* methods
// hold a row lock until the transaction ends.
type TxRepository interface {
	EnsureItem(ctx context.Context, productID, locationID int64) error
	LockItem(ctx context.Context, productID, locationID int64) (Item, error)
	LockItemByID(ctx context.Context, id int64) (Item, error)
	CreateItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, item Item) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	LockReservation(ctx context.Context, ref Reference, productID, locationID int64) (Reservation, error)
	SaveReservation(ctx context.Context, r Reservation) error
	ClaimIdempotencyKey(ctx context.Context, key, fingerprint string) error
	RecordIdempotencyResult(ctx context.Context, key string, movementID int64) error
}

// LocationPort resolves the tenant default location.
type LocationPort interface {
	DefaultLocationID(ctx context.Context) (int64, error)
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	ObserveMovement(movementType string)
	ObserveRejection(operation, kind string)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache   StockCachePort
	Events  EventPublisher
	Metrics MetricsPort
	Logger  *slog.Logger
}

// Service is the stock ledger core: the only writer of item quantities.
type Service struct {
	repo      RepositoryPort
	locations LocationPort
	cache     StockCachePort
	events    EventPublisher
	metrics   MetricsPort
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, locations LocationPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		locations: locations,
		cache:     cfg.Cache,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// Operation names a ledger primitive.
type Operation string

const (
	OpReserve Operation = "reserve"
	OpRelease Operation = "release"
	OpDeduct  Operation = "deduct"
	OpRestock Operation = "restock"
	OpAdjust  Operation = "adjust"
)

// MaxQuantity bounds a single mutation and the on-hand quantity of a row.
const MaxQuantity int64 = 1_000_000_000_000

// Mutation is one ledger primitive against one (product, location). For
// OpAdjust Quantity is the signed delta. LocationID 0 means the default location.
type Mutation struct {
	Op         Operation
	ProductID  int64
	LocationID int64
	Quantity   int64
	Reference  Reference
	Reason     string
	UnitCost   decimal.NullDecimal
	Type       MovementType

	// set by ReservationManager
	keyed bool
}

// Result is the state after a mutation. Movement is nil when a keyed
// reservation call found nothing to do. Replayed marks a result rebuilt from
// an idempotency key that was already processed.
type Result struct {
	Item     Item
	Movement *Movement
	Replayed bool
}

// StockInput is the payload of reserve, release, deduct and restock.
type StockInput struct {
	ProductID      int64
	LocationID     int64
	Quantity       int64
	Reference      Reference
	Reason         string
	UnitCost       decimal.NullDecimal
	Type           MovementType
	IdempotencyKey string
}

// AdjustInput is the payload of adjust.
type AdjustInput struct {
	ProductID      int64
	LocationID     int64
	Delta          int64
	Reason         string
	IdempotencyKey string
}

func (in StockInput) mutation(op Operation) Mutation {
	return Mutation{
		Op:         op,
		ProductID:  in.ProductID,
		LocationID: in.LocationID,
		Quantity:   in.Quantity,
		Reference:  in.Reference,
		Reason:     in.Reason,
		UnitCost:   in.UnitCost,
		Type:       in.Type,
	}
}

// Reserve holds quantity for a reference without removing it from stock.
func (s *Service) Reserve(ctx context.Context, in StockInput) (Result, error) {
	return s.single(ctx, in.mutation(OpReserve), "")
}

// Release returns reserved quantity held by a reference.
func (s *Service) Release(ctx context.Context, in StockInput) (Result, error) {
	return s.single(ctx, in.mutation(OpRelease), "")
}

// Deduct removes on-hand stock, consuming the reference's reservation first.
func (s *Service) Deduct(ctx context.Context, in StockInput) (Result, error) {
	return s.single(ctx, in.mutation(OpDeduct), in.IdempotencyKey)
}

// Restock adds on-hand stock and folds unitCost into the weighted average cost.
func (s *Service) Restock(ctx context.Context, in StockInput) (Result, error) {
	return s.single(ctx, in.mutation(OpRestock), in.IdempotencyKey)
}

// Adjust applies a manual signed correction.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (Result, error) {
	m := Mutation{
		Op:         OpAdjust,
		ProductID:  in.ProductID,
		LocationID: in.LocationID,
		Quantity:   in.Delta,
		Reference:  ManualRef(),
		Reason:     in.Reason,
	}
	return s.single(ctx, m, in.IdempotencyKey)
}

func (s *Service) single(ctx context.Context, m Mutation, idemKey string) (Result, error) {
	var claim *idempotencyClaim
	if idemKey != "" {
		claim = &idempotencyClaim{key: idemKey, fingerprint: m.fingerprint()}
	}
	results, err := s.execute(ctx, []Mutation{m}, claim)
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

type idempotencyClaim struct {
	key         string
	fingerprint string
}

func (s *Service) execute(ctx context.Context, muts []Mutation, claim *idempotencyClaim) ([]Result, error) {
	var results []Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if claim != nil {
			if err := tx.ClaimIdempotencyKey(ctx, claim.key, claim.fingerprint); err != nil {
				return err
			}
		}
		var err error
		results, err = s.applyAll(ctx, tx, muts)
		if err != nil || claim == nil {
			return err
		}
		if len(results) != 1 || results[0].Movement == nil {
			return fmt.Errorf("inventory: idempotency key %q needs exactly one movement", claim.key)
		}
		return tx.RecordIdempotencyResult(ctx, claim.key, results[0].Movement.ID)
	})
	var replay *shared.ReplayError
	if claim != nil && errors.As(err, &replay) {
		res, err := s.replayed(ctx, claim.key, replay.ResultID)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	}
	if err != nil {
		s.observeRejection(muts, err)
		return nil, err
	}
	s.AfterCommit(ctx, results)
	return results, nil
}

// replayed rebuilds the result a processed key produced from its movement.
// Side effects already ran with the original request.
func (s *Service) replayed(ctx context.Context, key string, movementID int64) (Result, error) {
	if movementID == 0 {
		return Result{}, fmt.Errorf("inventory: idempotency key %q has no recorded movement", key)
	}
	mv, err := s.repo.GetMovement(ctx, movementID)
	if err != nil {
		return Result{}, fmt.Errorf("inventory: replay key %q: %w", key, err)
	}
	item, err := s.repo.GetItem(ctx, mv.ItemID)
	if err != nil {
		return Result{}, fmt.Errorf("inventory: replay key %q: %w", key, err)
	}
	item.Quantity = mv.NewQuantity
	item.ReservedQuantity = mv.NewReserved
	return Result{Item: item, Movement: &mv, Replayed: true}, nil
}

// ApplyBatch applies every mutation atomically and returns results in input
// order. Side effects are left to the caller, which must call AfterCommit once
// its own transaction commits.
func (s *Service) ApplyBatch(ctx context.Context, muts []Mutation) ([]Result, error) {
	if len(muts) == 0 {
		return nil, nil
	}
	var results []Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		results, err = s.applyAll(ctx, tx, muts)
		return err
	})
	if err != nil {
		s.observeRejection(muts, err)
		return nil, err
	}
	return results, nil
}

// AfterCommit runs post-commit side effects: cache invalidation, metrics and
// movement events. Failures are logged and never surface to the caller.
func (s *Service) AfterCommit(ctx context.Context, results []Result) {
	if len(results) == 0 {
		return
	}
	tenant := shared.TenantFromContext(ctx)
	products := make([]int64, 0, len(results))
	seen := make(map[int64]struct{}, len(results))
	events := make([]MovementRecorded, 0, len(results))
	for _, res := range results {
		if res.Movement == nil {
			continue
		}
		if _, ok := seen[res.Item.ProductID]; !ok {
			seen[res.Item.ProductID] = struct{}{}
			products = append(products, res.Item.ProductID)
		}
		if s.metrics != nil {
			s.metrics.ObserveMovement(string(res.Movement.Type))
		}
		events = append(events, MovementRecorded{
			TenantID:        tenant,
			Movement:        *res.Movement,
			ReorderPoint:    res.Item.ReorderPoint,
			ReorderQuantity: res.Item.ReorderQuantity,
		})
	}
	if s.cache != nil && len(products) > 0 {
		if err := s.cache.Invalidate(ctx, products...); err != nil {
			s.logger.Warn("inventory: invalidate stock cache", slog.Any("error", err), slog.Any("products", products))
		}
	}
	if s.events != nil && len(events) > 0 {
		if err := s.events.PublishMovementRecorded(ctx, events); err != nil {
			s.logger.Warn("inventory: publish movement events", slog.Any("error", err), slog.Int("count", len(events)))
		}
	}
}

func (s *Service) observeRejection(muts []Mutation, err error) {
	if s.metrics == nil || len(muts) == 0 {
		return
	}
	s.metrics.ObserveRejection(string(muts[0].Op), shared.Kind(err))
}

func (s *Service) applyAll(ctx context.Context, tx TxRepository, muts []Mutation) ([]Result, error) {
	resolved := make([]Mutation, len(muts))
	var defaultLocation int64
	for i, m := range muts {
		if m.Reference.Type == "" {
			m.Reference = ManualRef()
		}
		if err := m.validate(); err != nil {
			return nil, lineError(i, len(muts), err)
		}
		if m.LocationID == 0 {
			if defaultLocation == 0 {
				id, err := s.defaultLocationID(ctx)
				if err != nil {
					return nil, err
				}
				defaultLocation = id
			}
			m.LocationID = defaultLocation
		}
		resolved[i] = m
	}

	// lock rows in a global order so concurrent batches cannot deadlock
	order := make([]int, len(resolved))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ma, mb := resolved[order[a]], resolved[order[b]]
		if ma.ProductID != mb.ProductID {
			return ma.ProductID < mb.ProductID
		}
		return ma.LocationID < mb.LocationID
	})

	results := make([]Result, len(resolved))
	for _, i := range order {
		res, err := s.apply(ctx, tx, resolved[i])
		if err != nil {
			return nil, lineError(i, len(resolved), err)
		}
		results[i] = res
	}
	return results, nil
}

func (s *Service) defaultLocationID(ctx context.Context) (int64, error) {
	if s.locations == nil {
		return 0, shared.NewValidationError("locationId", "is required")
	}
	id, err := s.locations.DefaultLocationID(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, shared.NewValidationError("locationId", "is required when no default location is configured")
		}
		return 0, err
	}
	return id, nil
}

func lineError(i, total int, err error) error {
	if total <= 1 {
		return err
	}
	return fmt.Errorf("line %d: %w", i+1, err)
}

func (s *Service) apply(ctx context.Context, tx TxRepository, m Mutation) (Result, error) {
	item, err := tx.LockItem(ctx, m.ProductID, m.LocationID)
	if errors.Is(err, ErrItemNotFound) {
		// a row that does not exist holds no reservation
		if m.Op == OpRelease {
			if m.keyed {
				return Result{Item: Item{ProductID: m.ProductID, LocationID: m.LocationID}}, nil
			}
			return Result{}, fmt.Errorf("%w: releasing %d but %s holds 0", shared.ErrInvalidReleaseAmount, m.Quantity, m.Reference)
		}
		if err := tx.EnsureItem(ctx, m.ProductID, m.LocationID); err != nil {
			return Result{}, err
		}
		item, err = tx.LockItem(ctx, m.ProductID, m.LocationID)
	}
	if err != nil {
		return Result{}, err
	}
	before := item

	var change ledgerChange
	switch m.Op {
	case OpReserve:
		change, err = applyReserve(ctx, tx, &item, m)
	case OpRelease:
		change, err = applyRelease(ctx, tx, &item, m)
	case OpDeduct:
		change, err = applyDeduct(ctx, tx, &item, m)
	case OpRestock:
		change, err = applyRestock(&item, m)
	case OpAdjust:
		change, err = applyAdjust(&item, m)
	default:
		err = shared.NewValidationError("operation", fmt.Sprintf("unknown operation %q", m.Op))
	}
	if err != nil {
		return Result{}, err
	}
	if change.noop {
		return Result{Item: before}, nil
	}
	if item.ReservedQuantity < 0 || item.ReservedQuantity > item.Quantity || item.Quantity < 0 {
		return Result{}, fmt.Errorf("inventory: invariant violated for product %d at location %d", item.ProductID, item.LocationID)
	}
	if err := tx.UpdateItem(ctx, item); err != nil {
		return Result{}, err
	}
	mv := Movement{
		ItemID:           item.ID,
		ProductID:        item.ProductID,
		LocationID:       item.LocationID,
		Type:             change.movementType,
		Quantity:         item.Quantity - before.Quantity,
		PreviousQuantity: before.Quantity,
		NewQuantity:      item.Quantity,
		ReservedDelta:    item.ReservedQuantity - before.ReservedQuantity,
		PreviousReserved: before.ReservedQuantity,
		NewReserved:      item.ReservedQuantity,
		Reference:        m.Reference,
		Reason:           optionalString(m.Reason),
		UserID:           optionalString(shared.UserFromContext(ctx)),
	}
	saved, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Result{}, err
	}
	return Result{Item: item, Movement: &saved}, nil
}

type ledgerChange struct {
	movementType MovementType
	noop         bool
}

func applyReserve(ctx context.Context, tx TxRepository, item *Item, m Mutation) (ledgerChange, error) {
	res, err := lockReservation(ctx, tx, m.Reference, item)
	if err != nil {
		return ledgerChange{}, err
	}
	q := m.Quantity
	if m.keyed {
		if res.Quantity >= q {
			return ledgerChange{noop: true}, nil
		}
		q -= res.Quantity
	}
	if q > item.Available() {
		return ledgerChange{}, fmt.Errorf("%w: requested %d, available %d", shared.ErrInsufficientAvailableStock, q, item.Available())
	}
	item.ReservedQuantity += q
	res.Quantity += q
	if err := tx.SaveReservation(ctx, res); err != nil {
		return ledgerChange{}, err
	}
	return ledgerChange{movementType: MovementReservation}, nil
}

func applyRelease(ctx context.Context, tx TxRepository, item *Item, m Mutation) (ledgerChange, error) {
	res, err := lockReservation(ctx, tx, m.Reference, item)
	if err != nil {
		return ledgerChange{}, err
	}
	q := m.Quantity
	if m.keyed {
		if res.Quantity == 0 {
			return ledgerChange{noop: true}, nil
		}
		if q == 0 {
			q = res.Quantity
		}
	}
	if q > res.Quantity {
		return ledgerChange{}, fmt.Errorf("%w: releasing %d but %s holds %d", shared.ErrInvalidReleaseAmount, q, m.Reference, res.Quantity)
	}
	res.Quantity -= q
	if err := tx.SaveReservation(ctx, res); err != nil {
		return ledgerChange{}, err
	}
	item.ReservedQuantity -= min(q, item.ReservedQuantity)
	return ledgerChange{movementType: MovementReservationRelease}, nil
}

func applyDeduct(ctx context.Context, tx TxRepository, item *Item, m Mutation) (ledgerChange, error) {
	q := m.Quantity
	if q > item.Quantity {
		return ledgerChange{}, fmt.Errorf("%w: requested %d, on hand %d", shared.ErrInsufficientStock, q, item.Quantity)
	}
	var res Reservation
	var consume int64
	if m.Reference.Keyed() {
		var err error
		res, err = lockReservation(ctx, tx, m.Reference, item)
		if err != nil {
			return ledgerChange{}, err
		}
		consume = min(q, res.Quantity, item.ReservedQuantity)
	}
	if free := q - consume; free > item.Available() {
		return ledgerChange{}, fmt.Errorf("%w: requested %d, unreserved %d", shared.ErrInsufficientStock, free, item.Available())
	}
	item.Quantity -= q
	item.ReservedQuantity -= consume
	if consume > 0 {
		res.Quantity -= consume
		if err := tx.SaveReservation(ctx, res); err != nil {
			return ledgerChange{}, err
		}
	}
	t := m.Type
	if t == "" {
		t = MovementSale
		if m.Reference.Type == RefTransfer {
			t = MovementTransferOut
		}
	}
	return ledgerChange{movementType: t}, nil
}

func applyRestock(item *Item, m Mutation) (ledgerChange, error) {
	if item.Quantity > MaxQuantity-m.Quantity {
		return ledgerChange{}, shared.NewValidationError("quantity", fmt.Sprintf("would raise quantity above %d (on hand %d)", MaxQuantity, item.Quantity))
	}
	if m.UnitCost.Valid {
		item.CostPrice = decimal.NewNullDecimal(WeightedAverageCost(item.Quantity, item.CostPrice, m.Quantity, m.UnitCost.Decimal))
	}
	item.Quantity += m.Quantity
	t := m.Type
	if t == "" {
		switch m.Reference.Type {
		case RefTransfer:
			t = MovementTransferIn
		case RefOrder:
			t = MovementReturn
		default:
			t = MovementPurchase
		}
	}
	return ledgerChange{movementType: t}, nil
}

func applyAdjust(item *Item, m Mutation) (ledgerChange, error) {
	next := item.Quantity + m.Quantity
	if next > MaxQuantity {
		return ledgerChange{}, shared.NewValidationError("delta", fmt.Sprintf("would raise quantity above %d (on hand %d)", MaxQuantity, item.Quantity))
	}
	if next < 0 {
		return ledgerChange{}, shared.NewValidationError("delta", fmt.Sprintf("would make quantity negative (on hand %d)", item.Quantity))
	}
	if next < item.ReservedQuantity {
		return ledgerChange{}, shared.NewValidationError("delta", fmt.Sprintf("would drop quantity below reserved %d", item.ReservedQuantity))
	}
	item.Quantity = next
	return ledgerChange{movementType: MovementAdjustment}, nil
}

func lockReservation(ctx context.Context, tx TxRepository, ref Reference, item *Item) (Reservation, error) {
	res, err := tx.LockReservation(ctx, ref, item.ProductID, item.LocationID)
	if errors.Is(err, ErrReservationNotFound) {
		return Reservation{Reference: ref, ProductID: item.ProductID, LocationID: item.LocationID}, nil
	}
	return res, err
}

var (
	deductTypes  = map[MovementType]bool{MovementSale: true, MovementDamaged: true, MovementExpired: true, MovementTransferOut: true}
	restockTypes = map[MovementType]bool{MovementPurchase: true, MovementReturn: true, MovementTransferIn: true}
)

func (m Mutation) validate() error {
	verr := &shared.ValidationError{}
	if m.ProductID <= 0 {
		verr.Add("productId", "must be greater than 0")
	}
	if m.LocationID < 0 {
		verr.Add("locationId", "must be greater than 0")
	}
	if err := m.Reference.Validate(); err != nil {
		var refErr *shared.ValidationError
		if errors.As(err, &refErr) {
			for k, v := range refErr.Fields {
				verr.Add(k, v)
			}
		}
	}
	switch m.Op {
	case OpAdjust:
		if m.Quantity == 0 {
			verr.Add("delta", "must not be zero")
		} else if m.Quantity > MaxQuantity || m.Quantity < -MaxQuantity {
			verr.Add("delta", fmt.Sprintf("must be between -%d and %d", MaxQuantity, MaxQuantity))
		}
		if strings.TrimSpace(m.Reason) == "" {
			verr.Add("reason", "is required for adjustments")
		}
	case OpRelease:
		if m.Quantity < 0 || (m.Quantity == 0 && !m.keyed) {
			verr.Add("quantity", "must be greater than 0")
		}
	default:
		if m.Quantity <= 0 {
			verr.Add("quantity", "must be greater than 0")
		}
	}
	if m.Op != OpAdjust && m.Quantity > MaxQuantity {
		verr.Add("quantity", fmt.Sprintf("must be at most %d", MaxQuantity))
	}
	if (m.Op == OpReserve || m.Op == OpRelease) && m.Reference.Type == RefManual {
		verr.Add("referenceType", "reservations require an ORDER, PURCHASE_ORDER or TRANSFER reference")
	}
	if m.Type != "" {
		switch {
		case m.Op == OpDeduct && !deductTypes[m.Type],
			m.Op == OpRestock && !restockTypes[m.Type],
			m.Op != OpDeduct && m.Op != OpRestock:
			verr.Add("type", fmt.Sprintf("%s is not allowed for %s", m.Type, m.Op))
		}
	}
	if m.UnitCost.Valid {
		if m.Op != OpRestock {
			verr.Add("unitCost", "only applies to restock")
		} else if m.UnitCost.Decimal.IsNegative() {
			verr.Add("unitCost", "must be at least 0")
		}
	}
	return verr.OrNil()
}

func (m Mutation) fingerprint() string {
	return shared.Fingerprint(
		string(m.Op),
		fmt.Sprint(m.ProductID),
		fmt.Sprint(m.LocationID),
		fmt.Sprint(m.Quantity),
		m.Reference.String(),
		m.Reason,
		m.UnitCost.Decimal.String(),
		string(m.Type),
	)
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
