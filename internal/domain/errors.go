package domain

import "errors"

// ErrValidation marks input rejected before any state was touched
var ErrValidation = errors.New("validation failed")
