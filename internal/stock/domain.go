package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CostingMethod selects the batch consumption order for an item.
type CostingMethod string

const (
	// CostingAverage prices consumption at the item's maintained
	// weighted-average cost, drawing batches in receipt order.
	CostingAverage CostingMethod = "average"
	// CostingFIFO consumes the oldest batch first.
	CostingFIFO CostingMethod = "fifo"
	// CostingLIFO consumes the newest batch first.
	CostingLIFO CostingMethod = "lifo"
)

// Valid reports whether m is a known costing method.
func (m CostingMethod) Valid() bool {
	return m == CostingAverage || m == CostingFIFO || m == CostingLIFO
}

// BatchStatus tracks a batch's lifecycle. Batches are never deleted.
type BatchStatus string

const (
	BatchActive   BatchStatus = "active"
	BatchExpired  BatchStatus = "expired"
	BatchDamaged  BatchStatus = "damaged"
	BatchRecalled BatchStatus = "recalled"
)

// MovementType classifies an append-only stock movement.
type MovementType string

const (
	MovementPurchase   MovementType = "purchase"
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
	MovementDamage     MovementType = "damage"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementAdjustment, MovementReturn, MovementDamage:
		return true
	}
	return false
}

// Item is a stocked product. Qty aggregates the available quantity of
// its batches; AvgCost is the moving average maintained on every
// receipt regardless of the selected costing method.
type Item struct {
	ID            int64
	SKU           string
	Name          string
	Unit          string
	Qty           decimal.Decimal
	AvgCost       decimal.Decimal
	CostingMethod CostingMethod
	TaxRate       decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks item fields before creation.
func (i Item) Validate() error {
	if i.SKU == "" {
		return errors.New("stock: sku required")
	}
	if i.Name == "" {
		return errors.New("stock: name required")
	}
	if !i.CostingMethod.Valid() {
		return fmt.Errorf("stock: unknown costing method %q", i.CostingMethod)
	}
	if i.TaxRate.IsNegative() || i.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("stock: tax rate must be between 0 and 100")
	}
	return nil
}

// Batch is one cost layer: a quantity received at a specific unit
// cost. Received == Available + Sold + Damaged holds after every
// operation.
type Batch struct {
	ID         int64
	ItemID     int64
	SupplierID *int64
	Number     string
	Received   decimal.Decimal
	Available  decimal.Decimal
	Sold       decimal.Decimal
	Damaged    decimal.Decimal
	UnitCost   decimal.Decimal
	MfgDate    time.Time
	ExpiryDate *time.Time
	Status     BatchStatus
	CreatedAt  time.Time
}

// CheckInvariant verifies the batch quantity identity.
func (b Batch) CheckInvariant() error {
	if !b.Received.Equal(b.Available.Add(b.Sold).Add(b.Damaged)) {
		return fmt.Errorf("stock: batch %d: received %s != available %s + sold %s + damaged %s",
			b.ID, b.Received, b.Available, b.Sold, b.Damaged)
	}
	return nil
}

// ExpiredAt reports whether the batch's expiry date has passed.
func (b Batch) ExpiredAt(today time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return b.ExpiryDate.Before(truncateDay(today))
}

// ExpiringSoonAt reports whether the batch expires within the window.
func (b Batch) ExpiringSoonAt(today time.Time, window time.Duration) bool {
	if b.ExpiryDate == nil {
		return false
	}
	until := b.ExpiryDate.Sub(truncateDay(today))
	return until > 0 && until <= window
}

// Consumable reports whether the batch can satisfy consumption at the
// given time: active, not past expiry, with quantity on hand.
func (b Batch) Consumable(today time.Time) bool {
	return b.Status == BatchActive && !b.ExpiredAt(today) && b.Available.IsPositive()
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Movement is one append-only quantity change. QtyDelta is positive
// for inbound and negative for outbound; UnitCost is the cost the
// movement was priced at.
type Movement struct {
	ID         int64
	ItemID     int64
	BatchID    int64
	QtyDelta   decimal.Decimal
	Type       MovementType
	UnitCost   decimal.Decimal
	RefID      string
	OccurredAt time.Time
}

// ReceiveInput describes a stock receipt.
type ReceiveInput struct {
	ItemID     int64
	SupplierID *int64
	Number     string
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	MfgDate    time.Time
	ExpiryDate *time.Time
	RefID      string
	ActorID    int64
}

// Validate checks receipt fields.
func (in ReceiveInput) Validate() error {
	if in.ItemID == 0 {
		return errors.New("stock: item required")
	}
	if !in.Qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() || !in.UnitCost.Equal(in.UnitCost.Round(2)) {
		return ErrInvalidUnitCost
	}
	if in.MfgDate.IsZero() {
		return errors.New("stock: manufacturing date required")
	}
	if in.ExpiryDate != nil && !in.ExpiryDate.After(in.MfgDate) {
		return errors.New("stock: expiry date must be after manufacturing date")
	}
	return nil
}

// ConsumeInput describes a stock consumption request.
type ConsumeInput struct {
	ItemID  int64
	Qty     decimal.Decimal
	Type    MovementType
	RefID   string
	ActorID int64
}

// Validate checks consumption fields.
func (in ConsumeInput) Validate() error {
	if in.ItemID == 0 {
		return errors.New("stock: item required")
	}
	if !in.Qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if !in.Type.Valid() || in.Type == MovementPurchase {
		return fmt.Errorf("stock: invalid consumption movement type %q", in.Type)
	}
	return nil
}

// Draw reports how much was taken from one batch and at what cost.
type Draw struct {
	BatchID  int64           `json:"batch_id"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// ExpiryWindow is the horizon for the expiring-soon classification.
const ExpiryWindow = 30 * 24 * time.Hour

var (
	// ErrInsufficientStock rejects consumption exceeding the total
	// available quantity across consumable batches. Nothing is drawn
	// on failure.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrInvalidQuantity rejects zero or negative quantities.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrInvalidUnitCost rejects negative or sub-paisa unit costs.
	ErrInvalidUnitCost = errors.New("stock: invalid unit cost")
	// ErrDuplicateItem flags a SKU collision.
	ErrDuplicateItem = errors.New("stock: item with this sku already exists")
)
