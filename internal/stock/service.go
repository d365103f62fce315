package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukaan-erp/dukaan-erp/internal/shared"
)

// RepositoryPort abstracts stock persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, itemID int64) ([]Batch, error)
	ListAllBatches(ctx context.Context) ([]Batch, error)
	ListBatchesExpiringBefore(ctx context.Context, cutoff time.Time) ([]Batch, error)
	ListBatchesExpiringBetween(ctx context.Context, from, to time.Time) ([]Batch, error)
	ListMovements(ctx context.Context, itemID int64, limit, offset int) ([]Movement, error)
	CountMovements(ctx context.Context, itemID int64) (int, error)
}

// AuditPort records stock events after commit.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns cost-layer tracking: receipts create batches,
// consumption draws them down under the item's costing method, and
// every quantity change leaves a movement row.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	locker      *shared.Locker
	idempotency *shared.IdempotencyStore
	now         func() time.Time
}

// NewService constructs the stock service.
func NewService(repo RepositoryPort, audit AuditPort, locker *shared.Locker, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, audit: audit, locker: locker, idempotency: idem, now: time.Now}
}

// CreateItem registers a new stocked product.
func (s *Service) CreateItem(ctx context.Context, item Item) (Item, error) {
	if err := item.Validate(); err != nil {
		return Item{}, err
	}
	item.Qty = decimal.Zero
	item.AvgCost = decimal.Zero
	var created Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.CreateItem(ctx, item)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, 0, "stock.item.create", "item", created.ID, map[string]any{
		"sku":    created.SKU,
		"method": string(created.CostingMethod),
	})
	return created, nil
}

// GetItem fetches one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems lists all items.
func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	return s.repo.ListItems(ctx)
}

// ListBatches lists an item's batches, newest receipt last.
func (s *Service) ListBatches(ctx context.Context, itemID int64) ([]Batch, error) {
	return s.repo.ListBatches(ctx, itemID)
}

// Movements lists a page of an item's movement trail, newest first.
func (s *Service) Movements(ctx context.Context, itemID int64, limit, offset int) ([]Movement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListMovements(ctx, itemID, limit, offset)
}

// CountMovements returns the total size of an item's movement trail.
func (s *Service) CountMovements(ctx context.Context, itemID int64) (int, error) {
	return s.repo.CountMovements(ctx, itemID)
}

// Receive creates a new cost layer for a purchase receipt. The item's
// weighted-average cost is recomputed on every receipt even when
// FIFO or LIFO governs the item's consumption order.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Batch, error) {
	if err := input.Validate(); err != nil {
		return Batch{}, err
	}
	release, err := s.lockItem(ctx, input.ItemID)
	if err != nil {
		return Batch{}, err
	}
	defer release()

	idemKey, err := s.claimKey(ctx, "receive", input.ItemID, input.RefID)
	if err != nil {
		return Batch{}, err
	}

	var batch Batch
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		batch, err = tx.InsertBatch(ctx, Batch{
			ItemID:     item.ID,
			SupplierID: input.SupplierID,
			Number:     input.Number,
			Received:   input.Qty,
			Available:  input.Qty,
			Sold:       decimal.Zero,
			Damaged:    decimal.Zero,
			UnitCost:   input.UnitCost,
			MfgDate:    input.MfgDate,
			ExpiryDate: input.ExpiryDate,
			Status:     BatchActive,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, Movement{
			ItemID:     item.ID,
			BatchID:    batch.ID,
			QtyDelta:   input.Qty,
			Type:       MovementPurchase,
			UnitCost:   input.UnitCost,
			RefID:      input.RefID,
			OccurredAt: now,
		}); err != nil {
			return err
		}
		newQty := item.Qty.Add(input.Qty)
		newAvg := item.Qty.Mul(item.AvgCost).Add(input.Qty.Mul(input.UnitCost)).DivRound(newQty, 4)
		return tx.UpdateItemStock(ctx, item.ID, newQty, newAvg)
	})
	if err != nil {
		s.releaseKey(ctx, idemKey)
		return Batch{}, err
	}
	s.record(ctx, input.ActorID, "stock.receive", "batch", batch.ID, map[string]any{
		"item_id":   input.ItemID,
		"qty":       input.Qty.String(),
		"unit_cost": input.UnitCost.String(),
	})
	return batch, nil
}

// Consume draws stock from the item's batches in the order its
// costing method dictates, splitting across batches as needed. The
// whole request fails with ErrInsufficientStock, leaving every batch
// untouched, when consumable availability cannot cover it.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) ([]Draw, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	release, err := s.lockItem(ctx, input.ItemID)
	if err != nil {
		return nil, err
	}
	defer release()

	idemKey, err := s.claimKey(ctx, "consume", input.ItemID, input.RefID)
	if err != nil {
		return nil, err
	}

	var draws []Draw
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}
		strategy, err := strategyFor(item.CostingMethod)
		if err != nil {
			return err
		}
		batches, err := tx.ListBatchesForUpdate(ctx, item.ID)
		if err != nil {
			return err
		}
		today := s.now().UTC()
		consumable := batches[:0]
		total := decimal.Zero
		for _, b := range batches {
			if b.Consumable(today) {
				consumable = append(consumable, b)
				total = total.Add(b.Available)
			}
		}
		if total.LessThan(input.Qty) {
			return fmt.Errorf("%w: item %d has %s available, %s requested",
				ErrInsufficientStock, item.ID, total, input.Qty)
		}

		remaining := input.Qty
		for _, b := range strategy.order(consumable) {
			if !remaining.IsPositive() {
				break
			}
			draw := decimal.Min(remaining, b.Available)
			b.Available = b.Available.Sub(draw)
			b.Sold = b.Sold.Add(draw)
			if err := b.CheckInvariant(); err != nil {
				return err
			}
			if err := tx.UpdateBatchQuantities(ctx, b); err != nil {
				return err
			}
			cost := strategy.drawCost(item, b)
			if _, err := tx.InsertMovement(ctx, Movement{
				ItemID:     item.ID,
				BatchID:    b.ID,
				QtyDelta:   draw.Neg(),
				Type:       input.Type,
				UnitCost:   cost,
				RefID:      input.RefID,
				OccurredAt: today,
			}); err != nil {
				return err
			}
			draws = append(draws, Draw{BatchID: b.ID, Qty: draw, UnitCost: cost})
			remaining = remaining.Sub(draw)
		}

		newQty := item.Qty.Sub(input.Qty)
		newAvg := item.AvgCost
		if !newQty.IsPositive() {
			newAvg = decimal.Zero
		}
		return tx.UpdateItemStock(ctx, item.ID, newQty, newAvg)
	})
	if err != nil {
		s.releaseKey(ctx, idemKey)
		return nil, err
	}
	s.record(ctx, input.ActorID, "stock.consume", "item", input.ItemID, map[string]any{
		"qty":     input.Qty.String(),
		"type":    string(input.Type),
		"batches": len(draws),
	})
	return draws, nil
}

// MarkDamaged moves quantity from available to damaged on one batch
// and records a damage movement priced at the batch's receipt cost.
func (s *Service) MarkDamaged(ctx context.Context, batchID int64, qty decimal.Decimal, refID string, actorID int64) error {
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	peek, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	release, err := s.lockItem(ctx, peek.ItemID)
	if err != nil {
		return err
	}
	defer release()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Available.LessThan(qty) {
			return fmt.Errorf("%w: batch %d has %s available, %s to damage",
				ErrInsufficientStock, batch.ID, batch.Available, qty)
		}
		batch.Available = batch.Available.Sub(qty)
		batch.Damaged = batch.Damaged.Add(qty)
		if err := batch.CheckInvariant(); err != nil {
			return err
		}
		if err := tx.UpdateBatchQuantities(ctx, batch); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, Movement{
			ItemID:     batch.ItemID,
			BatchID:    batch.ID,
			QtyDelta:   qty.Neg(),
			Type:       MovementDamage,
			UnitCost:   batch.UnitCost,
			RefID:      refID,
			OccurredAt: s.now().UTC(),
		}); err != nil {
			return err
		}
		item, err := tx.GetItemForUpdate(ctx, batch.ItemID)
		if err != nil {
			return err
		}
		return tx.UpdateItemStock(ctx, item.ID, item.Qty.Sub(qty), item.AvgCost)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "stock.damage", "batch", batchID, map[string]any{
		"qty": qty.String(),
	})
	return nil
}

// MarkExpired transitions a batch out of the consumable pool. The
// quantities stay on the batch as a historical record.
func (s *Service) MarkExpired(ctx context.Context, batchID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != BatchActive {
			return nil
		}
		return tx.SetBatchStatus(ctx, batchID, BatchExpired)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "stock.expire", "batch", batchID, nil)
	return nil
}

// ExpiringSoon lists active batches expiring within the window.
func (s *Service) ExpiringSoon(ctx context.Context) ([]Batch, error) {
	today := truncateDay(s.now())
	return s.repo.ListBatchesExpiringBetween(ctx, today, today.Add(ExpiryWindow))
}

// ExpiryScan transitions every active batch past its expiry date and
// reports how many batches expired and how many expire soon. Run by
// the background sweep.
func (s *Service) ExpiryScan(ctx context.Context) (expired, expiringSoon int, err error) {
	today := truncateDay(s.now())
	overdue, err := s.repo.ListBatchesExpiringBefore(ctx, today)
	if err != nil {
		return 0, 0, err
	}
	for _, b := range overdue {
		if err := s.MarkExpired(ctx, b.ID, 0); err != nil {
			return expired, 0, err
		}
		expired++
	}
	soon, err := s.ExpiringSoon(ctx)
	if err != nil {
		return expired, 0, err
	}
	return expired, len(soon), nil
}

func (s *Service) lockItem(ctx context.Context, itemID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, shared.ItemLockKey(itemID))
}

// claimKey reserves the idempotency key when the caller supplied a
// reference. Empty key means no reservation was made.
func (s *Service) claimKey(ctx context.Context, op string, itemID int64, refID string) (string, error) {
	if s.idempotency == nil || refID == "" {
		return "", nil
	}
	key := fmt.Sprintf("stock:%s:%d:%s", op, itemID, refID)
	if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" || s.idempotency == nil {
		return
	}
	_ = s.idempotency.Delete(ctx, key)
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now().UTC(),
	})
}
