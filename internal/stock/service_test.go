package stock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dukaan-erp/dukaan-erp/internal/shared"
)

// memoryRepo mimics transactional persistence: mutations inside WithTx
// land on a copy and publish only when fn succeeds, so a failed
// consumption observably leaves nothing behind.
type memoryRepo struct {
	nextItem     int64
	nextBatch    int64
	nextMovement int64
	items        map[int64]Item
	batches      map[int64]Batch
	movements    []Movement
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextItem:  1,
		nextBatch: 1,
		items:     map[int64]Item{},
		batches:   map[int64]Batch{},
	}
}

type memoryTx struct {
	repo      *memoryRepo
	items     map[int64]Item
	batches   map[int64]Batch
	movements []Movement
}

func (m *memoryRepo) WithTx(_ context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:      m,
		items:     make(map[int64]Item, len(m.items)),
		batches:   make(map[int64]Batch, len(m.batches)),
		movements: append([]Movement(nil), m.movements...),
	}
	for id, item := range m.items {
		tx.items[id] = item
	}
	for id, batch := range m.batches {
		tx.batches[id] = batch
	}
	if err := fn(context.Background(), tx); err != nil {
		return err
	}
	m.items = tx.items
	m.batches = tx.batches
	m.movements = tx.movements
	return nil
}

func (t *memoryTx) CreateItem(_ context.Context, item Item) (Item, error) {
	for _, existing := range t.items {
		if existing.SKU == item.SKU {
			return Item{}, ErrDuplicateItem
		}
	}
	item.ID = t.repo.nextItem
	t.repo.nextItem++
	t.items[item.ID] = item
	return item, nil
}

func (t *memoryTx) GetItemForUpdate(_ context.Context, id int64) (Item, error) {
	item, ok := t.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return item, nil
}

func (t *memoryTx) UpdateItemStock(_ context.Context, id int64, qty, avgCost decimal.Decimal) error {
	item, ok := t.items[id]
	if !ok {
		return fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	item.Qty = qty
	item.AvgCost = avgCost
	t.items[id] = item
	return nil
}

func (t *memoryTx) InsertBatch(_ context.Context, batch Batch) (Batch, error) {
	batch.ID = t.repo.nextBatch
	t.repo.nextBatch++
	t.batches[batch.ID] = batch
	return batch, nil
}

func (t *memoryTx) GetBatchForUpdate(_ context.Context, id int64) (Batch, error) {
	batch, ok := t.batches[id]
	if !ok {
		return Batch{}, fmt.Errorf("batch %d: %w", id, shared.ErrNotFound)
	}
	return batch, nil
}

func (t *memoryTx) ListBatchesForUpdate(_ context.Context, itemID int64) ([]Batch, error) {
	var out []Batch
	for id := int64(1); id < t.repo.nextBatch; id++ {
		if b, ok := t.batches[id]; ok && b.ItemID == itemID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memoryTx) UpdateBatchQuantities(_ context.Context, batch Batch) error {
	existing, ok := t.batches[batch.ID]
	if !ok {
		return fmt.Errorf("batch %d: %w", batch.ID, shared.ErrNotFound)
	}
	existing.Available = batch.Available
	existing.Sold = batch.Sold
	existing.Damaged = batch.Damaged
	t.batches[batch.ID] = existing
	return nil
}

func (t *memoryTx) SetBatchStatus(_ context.Context, id int64, status BatchStatus) error {
	batch, ok := t.batches[id]
	if !ok {
		return fmt.Errorf("batch %d: %w", id, shared.ErrNotFound)
	}
	batch.Status = status
	t.batches[id] = batch
	return nil
}

func (t *memoryTx) InsertMovement(_ context.Context, movement Movement) (Movement, error) {
	t.repo.nextMovement++
	movement.ID = t.repo.nextMovement
	t.movements = append(t.movements, movement)
	return movement, nil
}

func (m *memoryRepo) GetItem(_ context.Context, id int64) (Item, error) {
	item, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return item, nil
}

func (m *memoryRepo) ListItems(_ context.Context) ([]Item, error) {
	var out []Item
	for id := int64(1); id < m.nextItem; id++ {
		if item, ok := m.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetBatch(_ context.Context, id int64) (Batch, error) {
	batch, ok := m.batches[id]
	if !ok {
		return Batch{}, fmt.Errorf("batch %d: %w", id, shared.ErrNotFound)
	}
	return batch, nil
}

func (m *memoryRepo) ListBatches(_ context.Context, itemID int64) ([]Batch, error) {
	var out []Batch
	for id := int64(1); id < m.nextBatch; id++ {
		if b, ok := m.batches[id]; ok && b.ItemID == itemID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListAllBatches(_ context.Context) ([]Batch, error) {
	var out []Batch
	for id := int64(1); id < m.nextBatch; id++ {
		if b, ok := m.batches[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListBatchesExpiringBefore(_ context.Context, cutoff time.Time) ([]Batch, error) {
	var out []Batch
	for id := int64(1); id < m.nextBatch; id++ {
		b, ok := m.batches[id]
		if ok && b.Status == BatchActive && b.ExpiryDate != nil && b.ExpiryDate.Before(cutoff) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListBatchesExpiringBetween(_ context.Context, from, to time.Time) ([]Batch, error) {
	var out []Batch
	for id := int64(1); id < m.nextBatch; id++ {
		b, ok := m.batches[id]
		if ok && b.Status == BatchActive && b.ExpiryDate != nil && b.ExpiryDate.After(from) && !b.ExpiryDate.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListMovements(_ context.Context, itemID int64, limit, offset int) ([]Movement, error) {
	var out []Movement
	skipped := 0
	for i := len(m.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if m.movements[i].ItemID != itemID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, m.movements[i])
	}
	return out, nil
}

func (m *memoryRepo) CountMovements(_ context.Context, itemID int64) (int, error) {
	total := 0
	for _, mv := range m.movements {
		if mv.ItemID == itemID {
			total++
		}
	}
	return total, nil
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, shared.AuditLog) error { return nil }

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo, noopAudit{}, nil, nil)
	svc.now = func() time.Time { return day(10) }
	return svc, repo
}

func seedItem(t *testing.T, svc *Service, method CostingMethod) Item {
	t.Helper()
	item, err := svc.CreateItem(context.Background(), Item{
		SKU:           fmt.Sprintf("SKU-%s", method),
		Name:          "Basmati Rice 5kg",
		Unit:          "bag",
		CostingMethod: method,
		TaxRate:       dec("5"),
	})
	require.NoError(t, err)
	return item
}

func receive(t *testing.T, svc *Service, itemID int64, qty, cost string, mfgDay int) Batch {
	t.Helper()
	batch, err := svc.Receive(context.Background(), ReceiveInput{
		ItemID:   itemID,
		Qty:      dec(qty),
		UnitCost: dec(cost),
		MfgDate:  day(mfgDay),
	})
	require.NoError(t, err)
	return batch
}

func TestReceiveCreatesLayerAndRecomputesAverage(t *testing.T) {
	svc, repo := newTestService(t)
	item := seedItem(t, svc, CostingFIFO)

	batch := receive(t, svc, item.ID, "10", "100", 1)
	require.True(t, batch.Received.Equal(dec("10")))
	require.True(t, batch.Available.Equal(dec("10")))
	require.NoError(t, batch.CheckInvariant())

	receive(t, svc, item.ID, "5", "120", 2)

	// The moving average is maintained even though FIFO governs
	// consumption order.
	got, err := repo.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, got.Qty.Equal(dec("15")))
	require.True(t, got.AvgCost.Equal(dec("106.6667")), "got %s", got.AvgCost)

	movements, err := repo.ListMovements(context.Background(), item.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, MovementPurchase, movements[0].Type)
	require.True(t, movements[0].QtyDelta.IsPositive())
}

func TestMovementsPagination(t *testing.T) {
	svc, _ := newTestService(t)
	item := seedItem(t, svc, CostingFIFO)
	for d := 1; d <= 5; d++ {
		receive(t, svc, item.ID, "1", "100", d)
	}

	total, err := svc.CountMovements(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, 5, total)

	// Pages draw from the repository with an offset, so the second
	// page continues where the first one stopped.
	first, err := svc.Movements(context.Background(), item.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := svc.Movements(context.Background(), item.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.NotEqual(t, first[0].ID, second[0].ID)
	require.NotEqual(t, first[1].ID, second[1].ID)

	last, err := svc.Movements(context.Background(), item.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, last, 1)
}

func TestReceiveRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)
	item := seedItem(t, svc, CostingAverage)

	_, err := svc.Receive(context.Background(), ReceiveInput{ItemID: item.ID, Qty: dec("0"), UnitCost: dec("10"), MfgDate: day(1)})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Receive(context.Background(), ReceiveInput{ItemID: item.ID, Qty: dec("1"), UnitCost: dec("-5"), MfgDate: day(1)})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = svc.Receive(context.Background(), ReceiveInput{ItemID: item.ID, Qty: dec("1"), UnitCost: dec("10.555"), MfgDate: day(1)})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestFIFOConsumeSpansBatchesOldestFirst(t *testing.T) {
	svc, repo := newTestService(t)
	item := seedItem(t, svc, CostingFIFO)

	a := receive(t, svc, item.ID, "10", "100", 1)
	b := receive(t, svc, item.ID, "5", "120", 2)

	draws, err := svc.Consume(context.Background(), ConsumeInput{
		ItemID: item.ID, Qty: dec("12"), Type: MovementSale,
	})
	require.NoError(t, err)
	require.Len(t, draws, 2)

	require.Equal(t, a.ID, draws[0].BatchID)
	require.True(t, draws[0].Qty.Equal(dec("10")))
	require.True(t, draws[0].UnitCost.Equal(dec("100")))
	require.Equal(t, b.ID, draws[1].BatchID)
	require.True(t, draws[1].Qty.Equal(dec("2")))
	require.True(t, draws[1].UnitCost.Equal(dec("120")))

	gotA, err := repo.GetBatch(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, gotA.Available.IsZero())
	require.True(t, gotA.Sold.Equal(dec("10")))
	require.NoError(t, gotA.CheckInvariant())

	gotB, err := repo.GetBatch(context.Background(), b.ID)
	require.NoError(t, err)
	require.True(t, gotB.Available.Equal(dec("3")))
	require.NoError(t, gotB.CheckInvariant())

	gotItem, err := repo.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, gotItem.Qty.Equal(dec("3")))
}

func TestLIFOConsumeDrawsNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	item := seedItem(t, svc, CostingLIFO)

	receive(t, svc, item.ID, "10", "100", 1)
	newest := receive(t, svc, item.ID, "5", "120", 2)

	draws, err := svc.Consume(context.Background(), ConsumeInput{
		ItemID: item.ID, Qty: dec("3"), Type: MovementSale,
	})
	require.NoError(t, err)
	require.Len(t, draws, 1)
	require.Equal(t, newest.ID, draws[0].BatchID)
	require.True(t, draws[0].UnitCost.Equal(dec("120")))
}

func TestAverageConsumePricesAtMaintainedAverage(t *testing.T) {
	svc, _ := newTestService(t)
	item := seedItem(t, svc, CostingAverage)

	oldest := receive(t, svc, item.ID, "10", "100", 1)
	receive(t, svc, item.ID, "10", "200", 2)

	draws, err := svc.Consume(context.Background(), ConsumeInput{
		ItemID: item.ID, Qty: dec("5"), Type: MovementSale,
	})
	require.NoError(t, err)
	require.Len(t, draws, 1)
	// Blended cost, drawn from the oldest receipt.
	require.Equal(t, oldest.ID, draws[0].BatchID)
	require.True(t, draws[0].UnitCost.Equal(dec("150")), "got %s", draws[0].UnitCost)
}

func TestInsufficientStockLeavesStateUntouched(t *testing.T) {
	svc, repo := newTestService(t)
	item := seedItem(t, svc, CostingFIFO)

	receive(t, svc, item.ID, "10", "100", 1)
	before, err := repo.GetBatch(context.Background(), 1)
	require.NoError(t, err)
	movementsBefore := len(repo.movements)

	_, err = svc.Consume(context.Background(), ConsumeInput{
		ItemID: item.ID, Qty: dec("11"), Type: MovementSale,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	after, err := repo.GetBatch(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, after.Available.Equal(before.Available))
	require.True(t, after.Sold.Equal(before.Sold))
	require.Len(t, repo.movements, movementsBefore)

	gotItem, err := repo.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, gotItem.Qty.Equal(dec("10")))
}

func TestExpiredBatchesExcludedFromConsumption(t *testing.T) {
	svc, _ := newTestService(t)
	item := seedItem(t, svc, CostingFIFO)

	// Expired before the clock's "today" (day 10).
	expiry := day(5)
	_, err := svc.Receive(context.Background(), ReceiveInput{
		ItemID: item.ID, Qty: dec("10"), UnitCost: dec("100"), MfgDate: day(1), ExpiryDate: &expiry,
	})
	require.NoError(t, err)
	receive(t, svc, item.ID, "5", "120", 2)

	_, err = svc.Consume(context.Background(), ConsumeInput{
		ItemID: item.ID, Qty: dec("6"), Type: MovementSale,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	draws, err := svc.Consume(context.Background(), ConsumeInput{
		ItemID: item.ID, Qty: dec("5"), Type: MovementSale,
	})
	require.NoError(t, err)
	require.Len(t, draws, 1)
	require.True(t, draws[0].UnitCost.Equal(dec("120")))
}

func TestMarkDamagedKeepsInvariant(t *testing.T) {
	svc, repo := newTestService(t)
	item := seedItem(t, svc, CostingFIFO)
	batch := receive(t, svc, item.ID, "10", "100", 1)

	require.NoError(t, svc.MarkDamaged(context.Background(), batch.ID, dec("3"), "", 0))

	got, err := repo.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.True(t, got.Available.Equal(dec("7")))
	require.True(t, got.Damaged.Equal(dec("3")))
	require.NoError(t, got.CheckInvariant())

	gotItem, err := repo.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, gotItem.Qty.Equal(dec("7")))

	last := repo.movements[len(repo.movements)-1]
	require.Equal(t, MovementDamage, last.Type)
	require.True(t, last.QtyDelta.Equal(dec("-3")))

	err = svc.MarkDamaged(context.Background(), batch.ID, dec("8"), "", 0)
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestExpiryScanTransitionsOverdueBatches(t *testing.T) {
	svc, repo := newTestService(t)
	item := seedItem(t, svc, CostingFIFO)

	overdue := day(8)
	b1, err := svc.Receive(context.Background(), ReceiveInput{
		ItemID: item.ID, Qty: dec("5"), UnitCost: dec("50"), MfgDate: day(1), ExpiryDate: &overdue,
	})
	require.NoError(t, err)

	soon := day(30)
	_, err = svc.Receive(context.Background(), ReceiveInput{
		ItemID: item.ID, Qty: dec("5"), UnitCost: dec("60"), MfgDate: day(2), ExpiryDate: &soon,
	})
	require.NoError(t, err)

	expired, expiringSoon, err := svc.ExpiryScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	require.Equal(t, 1, expiringSoon)

	got, err := repo.GetBatch(context.Background(), b1.ID)
	require.NoError(t, err)
	require.Equal(t, BatchExpired, got.Status)

	// A second scan finds nothing new to transition.
	expired, _, err = svc.ExpiryScan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, expired)
}

func TestValuationPricesLayersByMethod(t *testing.T) {
	svc, _ := newTestService(t)

	fifoItem := seedItem(t, svc, CostingFIFO)
	receive(t, svc, fifoItem.ID, "10", "100", 1)
	receive(t, svc, fifoItem.ID, "5", "120", 2)

	avgItem := seedItem(t, svc, CostingAverage)
	receive(t, svc, avgItem.ID, "10", "100", 1)
	receive(t, svc, avgItem.ID, "10", "200", 2)

	report, err := svc.Valuation(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.TotalItems)

	byID := map[int64]ValuationRow{}
	for _, row := range report.Items {
		byID[row.ItemID] = row
	}

	// Layer by layer at receipt cost.
	require.True(t, byID[fifoItem.ID].TotalValue.Equal(dec("1600")), "got %s", byID[fifoItem.ID].TotalValue)
	// Quantity times the maintained average.
	require.True(t, byID[avgItem.ID].TotalValue.Equal(dec("3000")), "got %s", byID[avgItem.ID].TotalValue)
	require.True(t, byID[avgItem.ID].LastPurchaseCost.Equal(dec("200")))

	require.True(t, report.TotalQuantity.Equal(dec("35")))
	require.True(t, report.TotalValue.Equal(dec("4600")))
}

func TestValuationExcludesExpiredLayers(t *testing.T) {
	svc, _ := newTestService(t)
	item := seedItem(t, svc, CostingFIFO)

	expiry := day(5)
	_, err := svc.Receive(context.Background(), ReceiveInput{
		ItemID: item.ID, Qty: dec("10"), UnitCost: dec("100"), MfgDate: day(1), ExpiryDate: &expiry,
	})
	require.NoError(t, err)
	receive(t, svc, item.ID, "5", "120", 2)

	report, err := svc.Valuation(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	require.True(t, report.Items[0].Qty.Equal(dec("5")))
	require.True(t, report.Items[0].TotalValue.Equal(dec("600")))
}

func TestCreateItemRejectsDuplicateSKU(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, CostingFIFO)

	_, err := svc.CreateItem(context.Background(), Item{
		SKU: "SKU-fifo", Name: "Duplicate", CostingMethod: CostingFIFO,
	})
	require.ErrorIs(t, err, ErrDuplicateItem)
}
