package settlement

import (
	"errors"

	"github.com/zeusync/smartspawner/internal/core/item"
)

// Guard rejections. Nothing was touched; the caller may retry later.
var (
	ErrDisabled   = errors.New("settlement: disabled")
	ErrInProgress = errors.New("settlement: already in progress")
	ErrCooldown   = errors.New("settlement: cooling down")
)

// Validation failures are reported to the user as-is.
var (
	ErrEmpty           = errors.New("settlement: inventory is empty")
	ErrNoSellableItems = errors.New("settlement: nothing sellable")
)

var (
	ErrProviderFailure = errors.New("settlement: provider failure")
	ErrTimeout         = errors.New("settlement: timed out")
)

// Reason is the short machine-readable cause carried in a Result.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonDisabled        Reason = "disabled"
	ReasonInProgress      Reason = "in_progress"
	ReasonCooldown        Reason = "cooldown"
	ReasonEmpty           Reason = "empty"
	ReasonNoSellableItems Reason = "no_sellable_items"
	ReasonInsufficient    Reason = "insufficient_quantity"
	ReasonProviderFailure Reason = "provider_failure"
	ReasonTimeout         Reason = "timeout"
)

func IsRejection(err error) bool {
	return errors.Is(err, ErrDisabled) || errors.Is(err, ErrInProgress) || errors.Is(err, ErrCooldown)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrEmpty) || errors.Is(err, ErrNoSellableItems)
}

func IsProviderFailure(err error) bool { return errors.Is(err, ErrProviderFailure) }

func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsInvariantViolation reports an exact-quantity removal that found less
// stock than the calculation expected.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, item.ErrInsufficientQuantity) || errors.Is(err, item.ErrQuantityOverflow)
}

// ReasonOf maps an error to its Reason. Unknown errors count as provider
// failures.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrDisabled):
		return ReasonDisabled
	case errors.Is(err, ErrInProgress):
		return ReasonInProgress
	case errors.Is(err, ErrCooldown):
		return ReasonCooldown
	case errors.Is(err, ErrEmpty):
		return ReasonEmpty
	case errors.Is(err, ErrNoSellableItems):
		return ReasonNoSellableItems
	case IsInvariantViolation(err):
		return ReasonInsufficient
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	default:
		return ReasonProviderFailure
	}
}
