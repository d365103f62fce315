package stock

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ValuationRow values one item's stock on hand.
type ValuationRow struct {
	ItemID           int64           `json:"item_id"`
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Unit             string          `json:"unit,omitempty"`
	CostingMethod    CostingMethod   `json:"costing_method"`
	Qty              decimal.Decimal `json:"qty"`
	AvgCost          decimal.Decimal `json:"avg_cost"`
	TotalValue       decimal.Decimal `json:"total_value"`
	LastPurchaseCost decimal.Decimal `json:"last_purchase_cost"`
	LastPurchaseAt   *time.Time      `json:"last_purchase_at,omitempty"`
}

// ValuationReport aggregates stock value across the organisation.
type ValuationReport struct {
	AsOf          time.Time       `json:"as_of"`
	Items         []ValuationRow  `json:"items"`
	TotalItems    int             `json:"total_items"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// Valuation prices every item's remaining stock. FIFO and LIFO items
// are valued layer by layer at each batch's receipt cost; average
// items at quantity times the maintained average cost. Expired and
// otherwise inactive batches carry no value.
func (s *Service) Valuation(ctx context.Context) (ValuationReport, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return ValuationReport{}, err
	}
	batches, err := s.repo.ListAllBatches(ctx)
	if err != nil {
		return ValuationReport{}, err
	}
	today := s.now().UTC()

	byItem := make(map[int64][]Batch, len(items))
	for _, b := range batches {
		byItem[b.ItemID] = append(byItem[b.ItemID], b)
	}

	report := ValuationReport{
		AsOf:          today,
		TotalQuantity: decimal.Zero,
		TotalValue:    decimal.Zero,
	}
	for _, item := range items {
		row := ValuationRow{
			ItemID:           item.ID,
			SKU:              item.SKU,
			Name:             item.Name,
			Unit:             item.Unit,
			CostingMethod:    item.CostingMethod,
			AvgCost:          item.AvgCost,
			Qty:              decimal.Zero,
			TotalValue:       decimal.Zero,
			LastPurchaseCost: decimal.Zero,
		}
		for _, b := range byItem[item.ID] {
			if row.LastPurchaseAt == nil || b.CreatedAt.After(*row.LastPurchaseAt) {
				at := b.CreatedAt
				row.LastPurchaseAt = &at
				row.LastPurchaseCost = b.UnitCost
			}
			if b.Status != BatchActive || b.ExpiredAt(today) {
				continue
			}
			row.Qty = row.Qty.Add(b.Available)
			if item.CostingMethod != CostingAverage {
				row.TotalValue = row.TotalValue.Add(b.Available.Mul(b.UnitCost))
			}
		}
		if item.CostingMethod == CostingAverage {
			row.TotalValue = row.Qty.Mul(item.AvgCost)
		}
		row.TotalValue = row.TotalValue.Round(2)
		report.Items = append(report.Items, row)
		report.TotalQuantity = report.TotalQuantity.Add(row.Qty)
		report.TotalValue = report.TotalValue.Add(row.TotalValue)
	}
	sort.Slice(report.Items, func(i, j int) bool {
		return report.Items[i].SKU < report.Items[j].SKU
	})
	report.TotalItems = len(report.Items)
	return report, nil
}
