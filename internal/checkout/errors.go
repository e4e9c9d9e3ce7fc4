package checkout

import (
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

var (
	ErrEmptySelection = fmt.Errorf("%w: no cart lines selected", domain.ErrValidation)
	// ErrPersistence means the order could not be stored. Stock was handed back, the client may retry.
	ErrPersistence = errors.New("order could not be persisted")
)
