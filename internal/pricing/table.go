// Package pricing holds the static sell price table loaded from config.
package pricing

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zeusync/smartspawner/internal/core/item"
	"github.com/zeusync/smartspawner/internal/core/settlement"
)

// Price is the configured sell price of one item kind.
type Price struct {
	Sell     float64 `yaml:"sell" json:"sell"`
	Currency string  `yaml:"currency,omitempty" json:"currency,omitempty"`
}

// Table quotes prices by item signature. Enchanted items without their own
// entry sell at the price of their plain material.
type Table struct {
	mu       sync.RWMutex
	prices   map[item.Signature]Price
	currency string
}

var _ settlement.PricingProvider = (*Table)(nil)

// NewTable parses the configured prices. Keys use the signature text form,
// e.g. "DIAMOND" or "DIAMOND{sharpness=5}".
func NewTable(prices map[string]Price, defaultCurrency string) (*Table, error) {
	t := &Table{}
	if err := t.Update(prices, defaultCurrency); err != nil {
		return nil, err
	}
	return t, nil
}

// Update swaps the whole table, e.g. after a config reload.
func (t *Table) Update(prices map[string]Price, defaultCurrency string) error {
	parsed := make(map[item.Signature]Price, len(prices))
	for key, p := range prices {
		sig, err := item.ParseSignature(key)
		if err != nil {
			return fmt.Errorf("price %q: %w", key, err)
		}
		p.Currency = strings.ToUpper(p.Currency)
		parsed[sig] = p
	}

	t.mu.Lock()
	t.prices = parsed
	t.currency = strings.ToUpper(defaultCurrency)
	t.mu.Unlock()
	return nil
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prices)
}

func (t *Table) UnitSellPrice(_ settlement.Actor, sig item.Signature) (float64, bool) {
	p, ok := t.lookup(sig)
	return p.Sell, ok
}

func (t *Table) CurrencyFor(sig item.Signature) (string, bool) {
	p, ok := t.lookup(sig)
	return p.Currency, ok && p.Currency != ""
}

func (t *Table) DefaultCurrency() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currency, t.currency != ""
}

// Available reports whether any price is configured.
func (t *Table) Available() bool { return t.Len() > 0 }

func (t *Table) lookup(sig item.Signature) (Price, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.prices[sig]; ok {
		return p, true
	}
	p, ok := t.prices[item.NewSignature(sig.Material())]
	return p, ok
}
