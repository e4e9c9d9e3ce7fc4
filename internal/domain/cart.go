package domain

import "time"

type Cart struct {
	ID        string     `bson:"_id,omitempty" json:"-"`
	OwnerKey  string     `bson:"owner_key" json:"-"`
	Owner     CartOwner  `bson:"owner" json:"owner"`
	Lines     []CartLine `bson:"lines" json:"lines"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// CartLine is one variant in a cart. Quantity is always >= 1 once stored.
type CartLine struct {
	VariantID int64     `bson:"variant_id" json:"variant_id"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	Checked   bool      `bson:"checked" json:"checked"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

// NewCart returns an empty cart for the owner
func NewCart(owner CartOwner) *Cart {
	now := time.Now()
	return &Cart{
		OwnerKey:  owner.Key(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Line returns the line for variantID if present
func (c *Cart) Line(variantID int64) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.VariantID == variantID {
			return l, true
		}
	}
	return CartLine{}, false
}

// Select returns the lines whose variant is in variantIDs, in cart order
func (c *Cart) Select(variantIDs []int64) []CartLine {
	wanted := make(map[int64]struct{}, len(variantIDs))
	for _, id := range variantIDs {
		wanted[id] = struct{}{}
	}
	selected := make([]CartLine, 0, len(variantIDs))
	for _, l := range c.Lines {
		if _, ok := wanted[l.VariantID]; ok {
			selected = append(selected, l)
		}
	}
	return selected
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}
