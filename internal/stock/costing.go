package stock

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// costingStrategy decides batch consumption order and the unit cost
// recorded for each draw. A single strategy per item keeps valuation
// and consumption from drifting apart.
type costingStrategy interface {
	// order sorts consumable batches into draw order. The input slice
	// is sorted in place and returned.
	order(batches []Batch) []Batch
	// drawCost prices a draw from the given batch.
	drawCost(item Item, batch Batch) decimal.Decimal
}

func strategyFor(method CostingMethod) (costingStrategy, error) {
	switch method {
	case CostingFIFO:
		return fifoStrategy{}, nil
	case CostingLIFO:
		return lifoStrategy{}, nil
	case CostingAverage:
		return averageStrategy{}, nil
	default:
		return nil, fmt.Errorf("stock: unknown costing method %q", method)
	}
}

// fifoStrategy consumes the oldest manufacturing date first, falling
// back to receipt order for batches made on the same day. Draws are
// priced at the batch's own receipt cost so realised cost of goods
// sold stays historically accurate.
type fifoStrategy struct{}

func (fifoStrategy) order(batches []Batch) []Batch {
	sort.SliceStable(batches, func(i, j int) bool {
		if !batches[i].MfgDate.Equal(batches[j].MfgDate) {
			return batches[i].MfgDate.Before(batches[j].MfgDate)
		}
		return batches[i].ID < batches[j].ID
	})
	return batches
}

func (fifoStrategy) drawCost(_ Item, batch Batch) decimal.Decimal {
	return batch.UnitCost
}

// lifoStrategy consumes the newest batch first, priced at batch cost.
type lifoStrategy struct{}

func (lifoStrategy) order(batches []Batch) []Batch {
	sort.SliceStable(batches, func(i, j int) bool {
		if !batches[i].MfgDate.Equal(batches[j].MfgDate) {
			return batches[i].MfgDate.After(batches[j].MfgDate)
		}
		return batches[i].ID > batches[j].ID
	})
	return batches
}

func (lifoStrategy) drawCost(_ Item, batch Batch) decimal.Decimal {
	return batch.UnitCost
}

// averageStrategy treats all batches as one pool: draws decrement
// batches in receipt order but every draw is priced at the item's
// maintained weighted-average cost.
type averageStrategy struct{}

func (averageStrategy) order(batches []Batch) []Batch {
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].ID < batches[j].ID
	})
	return batches
}

func (averageStrategy) drawCost(item Item, _ Batch) decimal.Decimal {
	return item.AvgCost
}
