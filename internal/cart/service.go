package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/cart/cache"
	"github.com/fjod/go_cart/storefront-checkout/internal/cart/repository"
	"github.com/fjod/go_cart/storefront-checkout/internal/catalog"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/internal/promotion"
	"github.com/fjod/go_cart/storefront-checkout/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownVariant = errors.New("unknown variant")
	ErrLineNotFound   = repository.ErrLineNotFound
)

// StockReader reports live stock. The inventory service owns the count, whatever backend holds it.
type StockReader interface {
	Stock(ctx context.Context, variantID int64) (int64, error)
}

type Service struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	catalog catalog.VariantStore
	stock   StockReader
	log     *zap.Logger
	sfg     singleflight.Group // one repository read per owner on concurrent cache misses
	now     func() time.Time
}

func NewService(repo repository.CartRepository, c cache.CartCache, cat catalog.VariantStore, stock StockReader, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		cache:   c,
		catalog: cat,
		stock:   stock,
		log:     log,
		now:     time.Now,
	}
}

// GetCart returns the owner's cart, or an empty one when none is stored
func (s *Service) GetCart(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	if !owner.Valid() {
		return nil, fmt.Errorf("%w: cart owner is required", domain.ErrValidation)
	}
	log := logger.FromContext(ctx, s.log)

	v, err, _ := s.sfg.Do(owner.Key(), func() (any, error) {
		cart, err := s.cache.Get(ctx, owner)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn("cart cache get failed", zap.String("owner", owner.Key()), zap.Error(err))
		}

		cart, err = s.repo.GetCart(ctx, owner)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.NewCart(owner), nil
		}
		if err != nil {
			return nil, err
		}

		// filled before returning: an async fill could land after the caller's next write invalidated it
		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.cache.Set(setCtx, cart); err != nil {
			log.Warn("cart cache set failed", zap.String("owner", owner.Key()), zap.Error(err))
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (s *Service) AddItem(ctx context.Context, owner domain.CartOwner, variantID int64, quantity int) error {
	if !owner.Valid() {
		return fmt.Errorf("%w: cart owner is required", domain.ErrValidation)
	}
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", domain.ErrValidation)
	}
	found, err := s.catalog.Variants(ctx, []int64{variantID})
	if err != nil {
		return fmt.Errorf("load variant: %w", err)
	}
	if _, ok := found[variantID]; !ok {
		return fmt.Errorf("%w: %w %d", domain.ErrValidation, ErrUnknownVariant, variantID)
	}

	if err := s.repo.AddLine(ctx, owner, variantID, quantity); err != nil {
		return err
	}
	s.invalidate(ctx, owner)
	return nil
}

// UpdateQuantity sets a line's quantity; zero removes the line
func (s *Service) UpdateQuantity(ctx context.Context, owner domain.CartOwner, variantID int64, quantity int) error {
	if quantity == 0 {
		return s.RemoveItem(ctx, owner, variantID)
	}
	if quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", domain.ErrValidation)
	}
	if err := s.repo.UpdateLineQuantity(ctx, owner, variantID, quantity); err != nil {
		return err
	}
	s.invalidate(ctx, owner)
	return nil
}

func (s *Service) RemoveItem(ctx context.Context, owner domain.CartOwner, variantID int64) error {
	return s.RemoveLines(ctx, owner, variantID)
}

// RemoveLines drops the given variants, used after a checkout purchased them
func (s *Service) RemoveLines(ctx context.Context, owner domain.CartOwner, variantIDs ...int64) error {
	if len(variantIDs) == 0 {
		return nil
	}
	err := s.repo.RemoveLines(ctx, owner, variantIDs...)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return err
	}
	s.invalidate(ctx, owner)
	return nil
}

func (s *Service) ClearCart(ctx context.Context, owner domain.CartOwner) error {
	err := s.repo.DeleteCart(ctx, owner)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return err
	}
	s.invalidate(ctx, owner)
	return nil
}

// MergeRequest moves an anonymous cart into a user's cart at login.
// Lines is the client-held snapshot; when nil the stored cart of Anonymous is used.
type MergeRequest struct {
	User      domain.CartOwner
	Anonymous *domain.CartOwner
	Lines     []domain.CartLine
}

// Merge persists the merged cart and then deletes the stored anonymous cart,
// so the same snapshot is not merged again on the next login.
func (s *Service) Merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	if !req.User.Valid() || req.User.IsAnonymous() {
		return MergeResult{}, fmt.Errorf("%w: merge requires a signed-in user", domain.ErrValidation)
	}
	if req.Anonymous != nil && (!req.Anonymous.Valid() || !req.Anonymous.IsAnonymous()) {
		return MergeResult{}, fmt.Errorf("%w: invalid anonymous session", domain.ErrValidation)
	}
	log := logger.FromContext(ctx, s.log)

	lines := req.Lines
	if lines == nil && req.Anonymous != nil {
		anon, err := s.repo.GetCart(ctx, *req.Anonymous)
		switch {
		case errors.Is(err, repository.ErrCartNotFound):
		case err != nil:
			return MergeResult{}, fmt.Errorf("load anonymous cart: %w", err)
		default:
			lines = anon.Lines
		}
	}

	userCart, err := s.repo.GetCart(ctx, req.User)
	if errors.Is(err, repository.ErrCartNotFound) {
		userCart = domain.NewCart(req.User)
	} else if err != nil {
		return MergeResult{}, fmt.Errorf("load user cart: %w", err)
	}

	result := Merge(lines, userCart)
	if err := s.repo.SaveCart(ctx, result.Cart); err != nil {
		return MergeResult{}, fmt.Errorf("save merged cart: %w", err)
	}

	owners := []domain.CartOwner{req.User}
	if req.Anonymous != nil {
		owners = append(owners, *req.Anonymous)
		if err := s.repo.DeleteCart(ctx, *req.Anonymous); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
			// the merge itself is saved; a leftover anonymous cart expires with its ttl
			log.Error("delete anonymous cart after merge failed", zap.String("owner", req.Anonymous.Key()), zap.Error(err))
		}
	}
	s.invalidate(ctx, owners...)

	if result.Dropped > 0 {
		log.Info("cart merge dropped invalid lines", zap.String("owner", req.User.Key()), zap.Int("dropped", result.Dropped))
	}
	return result, nil
}

// LineView is a cart line with its current prices
type LineView struct {
	VariantID           int64 `json:"variant_id"`
	Quantity            int   `json:"quantity"`
	Checked             bool  `json:"checked"`
	OriginalUnitPrice   int64 `json:"original_unit_price"`
	DiscountedUnitPrice int64 `json:"discounted_unit_price"`
	PromotionID         int64 `json:"promotion_id,omitempty"`
	LineTotal           int64 `json:"line_total"`
	Available           bool  `json:"available"`
}

type View struct {
	Owner domain.CartOwner `json:"owner"`
	Lines []LineView       `json:"lines"`
	// CheckedTotal sums the discounted totals of checked lines
	CheckedTotal int64 `json:"checked_total"`
}

// View prices every line with the best live promotion. Variants no longer in the catalog are listed unavailable at price 0.
// A line whose stock cannot be read is listed unavailable.
func (s *Service) View(ctx context.Context, owner domain.CartOwner) (*View, error) {
	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}

	view := &View{Owner: owner, Lines: make([]LineView, 0, len(cart.Lines))}
	if cart.IsEmpty() {
		return view, nil
	}

	ids := make([]int64, len(cart.Lines))
	for i, l := range cart.Lines {
		ids[i] = l.VariantID
	}
	variants, err := s.catalog.Variants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	now := s.now()
	promotions, err := s.catalog.ActivePromotions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load promotions: %w", err)
	}

	for _, l := range cart.Lines {
		lv := LineView{VariantID: l.VariantID, Quantity: l.Quantity, Checked: l.Checked}
		if v, ok := variants[l.VariantID]; ok {
			r := promotion.Resolve(v.ID, v.UnitPrice, promotions, now)
			lv.OriginalUnitPrice = r.UnitPrice
			lv.DiscountedUnitPrice = r.DiscountedPrice
			lv.PromotionID = r.PromotionID
			lv.LineTotal = r.DiscountedPrice * int64(l.Quantity)
			lv.Available = s.available(ctx, v.ID, l.Quantity)
		}
		if lv.Checked {
			view.CheckedTotal += lv.LineTotal
		}
		view.Lines = append(view.Lines, lv)
	}
	return view, nil
}

func (s *Service) available(ctx context.Context, variantID int64, quantity int) bool {
	stock, err := s.stock.Stock(ctx, variantID)
	if err != nil {
		logger.FromContext(ctx, s.log).Warn("failed to read stock", zap.Int64("variant_id", variantID), zap.Error(err))
		return false
	}
	return stock >= int64(quantity)
}

func (s *Service) invalidate(ctx context.Context, owners ...domain.CartOwner) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, owners...); err != nil {
		logger.FromContext(ctx, s.log).Warn("cart cache invalidate failed", zap.Error(err))
	}
}
