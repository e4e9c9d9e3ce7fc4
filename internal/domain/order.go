package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipping  OrderStatus = "SHIPPING"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipping, OrderStatusCancelled},
	OrderStatusShipping:  {OrderStatusDelivered, OrderStatusCancelled},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipping, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether from -> to is a legal lifecycle move
func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type StatusEntry struct {
	Status OrderStatus `json:"status"`
	At     time.Time   `json:"at"`
}

// StatusHistory is an append-only log. The current status is always its last entry.
type StatusHistory struct {
	entries []StatusEntry
}

func NewStatusHistory(entries ...StatusEntry) StatusHistory {
	return StatusHistory{entries: append([]StatusEntry(nil), entries...)}
}

// Append returns a new history with e appended; the receiver is not modified
func (h StatusHistory) Append(e StatusEntry) StatusHistory {
	next := make([]StatusEntry, len(h.entries), len(h.entries)+1)
	copy(next, h.entries)
	return StatusHistory{entries: append(next, e)}
}

func (h StatusHistory) Current() OrderStatus {
	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1].Status
}

func (h StatusHistory) Entries() []StatusEntry {
	return append([]StatusEntry(nil), h.entries...)
}

func (h StatusHistory) Len() int {
	return len(h.entries)
}

func (h StatusHistory) MarshalJSON() ([]byte, error) {
	if h.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.entries)
}

func (h *StatusHistory) UnmarshalJSON(data []byte) error {
	var entries []StatusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	h.entries = entries
	return nil
}

type OrderLine struct {
	VariantID           int64 `json:"variant_id"`
	Quantity            int   `json:"quantity"`
	UnitPriceAtPurchase int64 `json:"unit_price_at_purchase"`
	OriginalUnitPrice   int64 `json:"original_unit_price"`
}

// Order is immutable after creation except for its status history.
// Version increases with every appended status and guards concurrent transitions.
type Order struct {
	ID              uuid.UUID     `json:"id"`
	OwnerRef        *string       `json:"owner_ref,omitempty"`
	Lines           []OrderLine   `json:"lines"`
	VoucherApplied  *string       `json:"voucher_applied,omitempty"`
	PointsRedeemed  int64         `json:"points_redeemed"`
	Subtotal        int64         `json:"subtotal"`
	VoucherDiscount int64         `json:"voucher_discount"`
	PointsDiscount  int64         `json:"points_discount"`
	DiscountTotal   int64         `json:"discount_total"`
	ShippingFee     int64         `json:"shipping_fee"`
	FinalTotal      int64         `json:"final_total"`
	PaymentMethod   string        `json:"payment_method"`
	StatusHistory   StatusHistory `json:"status_history"`
	Version         int           `json:"-"`
	CancelPending   bool          `json:"-"`
	CreatedAt       time.Time     `json:"created_at"`
}

func (o *Order) Status() OrderStatus {
	return o.StatusHistory.Current()
}

// StockLines returns the order lines as stock lines for reservation and restore
func (o *Order) StockLines() []StockLine {
	lines := make([]StockLine, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = StockLine{VariantID: l.VariantID, Quantity: int64(l.Quantity)}
	}
	return lines
}

// StockLine is a quantity of one variant to reserve or restore
type StockLine struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int64 `json:"quantity"`
}
