package settlement

import (
	"context"

	"github.com/zeusync/smartspawner/internal/core/item"
)

// CustomCurrency tags totals for which neither the item nor the pricing
// provider names a currency.
const CustomCurrency = "CUSTOM"

// Actor is whoever sells. ID keys the per-actor guards, Name goes to the
// sales log.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PricingProvider quotes unit sell prices. A non-positive or missing price
// excludes the item from the sale.
type PricingProvider interface {
	UnitSellPrice(actor Actor, sig item.Signature) (float64, bool)
	CurrencyFor(sig item.Signature) (string, bool)
	DefaultCurrency() (string, bool)
	Available() bool
}

// EconomyProvider pays one currency.
type EconomyProvider interface {
	Deposit(ctx context.Context, actor Actor, amount float64) error
}

// Withdrawer is implemented by economy providers that can take back a
// deposit. It is used to reverse currencies already paid when a later
// currency of the same sale fails.
type Withdrawer interface {
	Withdraw(ctx context.Context, actor Actor, amount float64) error
}

// Economies resolves the provider for a currency.
type Economies interface {
	Provider(currency string) (EconomyProvider, bool)
}

// AuditLog records completed sales. Calls are fire-and-forget.
type AuditLog interface {
	RecordSale(actorName, itemName string, quantity int64, grossPrice float64, currency string)
}
