package item

import "errors"

var (
	ErrInvalidSignature     = errors.New("item: invalid signature")
	ErrInvalidQuantity      = errors.New("item: quantity must be positive")
	ErrInsufficientQuantity = errors.New("item: insufficient quantity")
	ErrQuantityOverflow     = errors.New("item: quantity overflow")
)
