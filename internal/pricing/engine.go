package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/internal/promotion"
)

var (
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	ErrInvalidVoucher     = errors.New("invalid voucher")
)

// DefaultPointValue is the money value of one loyalty point
const DefaultPointValue int64 = 1000

type Config struct {
	PointValue int64
	// ShippingFee is charged unless the subtotal reaches FreeShippingThreshold (0 disables the waiver)
	ShippingFee           int64
	FreeShippingThreshold int64
}

type Line struct {
	VariantID int64
	Quantity  int
	UnitPrice int64
}

type Request struct {
	Lines          []Line
	Promotions     []domain.Promotion
	Voucher        *domain.Voucher
	PointsToRedeem int64
	LoyaltyBalance int64
	Now            time.Time
}

type LineResult struct {
	VariantID           int64 `json:"variant_id"`
	Quantity            int   `json:"quantity"`
	UnitPrice           int64 `json:"unit_price"`
	DiscountedUnitPrice int64 `json:"discounted_unit_price"`
	LineTotal           int64 `json:"line_total"`
	PromotionID         int64 `json:"promotion_id,omitempty"`
}

// Result is the full breakdown. DiscountTotal is the order-level part (voucher + points);
// promotion savings are already inside Subtotal and reported as PromotionDiscount.
type Result struct {
	Lines             []LineResult `json:"lines"`
	OriginalSubtotal  int64        `json:"original_subtotal"`
	PromotionDiscount int64        `json:"promotion_discount"`
	Subtotal          int64        `json:"subtotal"`
	VoucherDiscount   int64        `json:"voucher_discount"`
	PointsDiscount    int64        `json:"points_discount"`
	PointsRedeemed    int64        `json:"points_redeemed"`
	DiscountTotal     int64        `json:"discount_total"`
	ShippingFee       int64        `json:"shipping_fee"`
	FinalTotal        int64        `json:"final_total"`
}

// Engine prices a selection of cart lines. It is pure and never blocks.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.PointValue <= 0 {
		cfg.PointValue = DefaultPointValue
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) PointValue() int64 {
	return e.cfg.PointValue
}

func (e *Engine) Price(req Request) (*Result, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines selected", domain.ErrValidation)
	}
	if req.PointsToRedeem < 0 {
		return nil, fmt.Errorf("%w: points to redeem must not be negative", domain.ErrValidation)
	}
	if req.Voucher != nil && !req.Voucher.Validate() {
		return nil, fmt.Errorf("%w: %q is malformed", ErrInvalidVoucher, req.Voucher.Code)
	}

	res := &Result{Lines: make([]LineResult, 0, len(req.Lines))}
	for _, l := range req.Lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for variant %d must be positive", domain.ErrValidation, l.VariantID)
		}
		if l.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: negative price for variant %d", domain.ErrValidation, l.VariantID)
		}
		resolved := promotion.Resolve(l.VariantID, l.UnitPrice, req.Promotions, req.Now)
		qty := int64(l.Quantity)
		lineTotal := resolved.DiscountedPrice * qty

		res.Lines = append(res.Lines, LineResult{
			VariantID:           l.VariantID,
			Quantity:            l.Quantity,
			UnitPrice:           l.UnitPrice,
			DiscountedUnitPrice: resolved.DiscountedPrice,
			LineTotal:           lineTotal,
			PromotionID:         resolved.PromotionID,
		})
		res.OriginalSubtotal += l.UnitPrice * qty
		res.Subtotal += lineTotal
	}
	res.PromotionDiscount = res.OriginalSubtotal - res.Subtotal

	if req.Voucher != nil {
		res.VoucherDiscount = voucherDiscount(*req.Voucher, res.Subtotal)
	}

	if req.PointsToRedeem > 0 {
		if req.PointsToRedeem > req.LoyaltyBalance {
			return nil, fmt.Errorf("%w: requested %d, balance %d", ErrInsufficientPoints, req.PointsToRedeem, req.LoyaltyBalance)
		}
		remaining := max(0, res.Subtotal-res.VoucherDiscount)
		res.PointsDiscount = min(req.PointsToRedeem*e.cfg.PointValue, remaining)
		res.PointsRedeemed = pointsUsed(res.PointsDiscount, e.cfg.PointValue, req.PointsToRedeem)
	}

	res.DiscountTotal = res.VoucherDiscount + res.PointsDiscount
	res.ShippingFee = e.shippingFee(res.Subtotal)
	res.FinalTotal = max(0, res.Subtotal-res.VoucherDiscount-res.PointsDiscount) + res.ShippingFee
	return res, nil
}

func (e *Engine) shippingFee(subtotal int64) int64 {
	if e.cfg.FreeShippingThreshold > 0 && subtotal >= e.cfg.FreeShippingThreshold {
		return 0
	}
	return e.cfg.ShippingFee
}

// voucherDiscount never exceeds the subtotal
func voucherDiscount(v domain.Voucher, subtotal int64) int64 {
	switch v.Kind {
	case domain.DiscountPercent:
		return min(domain.PercentOf(subtotal, v.Value), subtotal)
	case domain.DiscountFixedAmount:
		return min(v.Value.IntPart(), subtotal)
	}
	return 0
}

// pointsUsed is the number of points the discount actually consumes, rounded up
func pointsUsed(discount, pointValue, requested int64) int64 {
	if discount <= 0 {
		return 0
	}
	used := (discount + pointValue - 1) / pointValue
	return min(used, requested)
}
