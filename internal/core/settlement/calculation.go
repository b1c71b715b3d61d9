package settlement

import (
	"strings"

	"github.com/zeusync/smartspawner/internal/core/item"
)

// SaleRecord is one sold item kind.
type SaleRecord struct {
	Signature item.Signature `json:"signature"`
	Quantity  int64          `json:"quantity"`
	Gross     float64        `json:"gross"`
	Currency  string         `json:"currency"`
}

// SaleCalculation is the priced view of one inventory snapshot.
type SaleCalculation struct {
	Gross    map[string]float64
	Removals []item.Stack
	Records  []SaleRecord
	Valid    bool

	order []string
}

// Calculate prices a snapshot. Items without a positive price are left out;
// the calculation is valid only if at least one item is sellable.
func Calculate(pricing PricingProvider, actor Actor, snapshot []item.Stack) SaleCalculation {
	calc := SaleCalculation{Gross: make(map[string]float64)}
	for _, st := range snapshot {
		if st.Quantity <= 0 {
			continue
		}
		price, ok := pricing.UnitSellPrice(actor, st.Signature)
		if !ok || price <= 0 {
			continue
		}

		currency := ResolveCurrency(pricing, st.Signature)
		gross := price * float64(st.Quantity)
		if _, seen := calc.Gross[currency]; !seen {
			calc.order = append(calc.order, currency)
		}
		calc.Gross[currency] += gross
		calc.Removals = append(calc.Removals, st)
		calc.Records = append(calc.Records, SaleRecord{
			Signature: st.Signature,
			Quantity:  st.Quantity,
			Gross:     gross,
			Currency:  currency,
		})
	}
	calc.Valid = len(calc.Removals) > 0
	return calc
}

// Currencies returns the currencies of the sale in the order they first
// appear in the snapshot. Payments are made in this order.
func (c SaleCalculation) Currencies() []string {
	return append([]string(nil), c.order...)
}

func (c SaleCalculation) Items() int64 {
	var n int64
	for _, st := range c.Removals {
		n += st.Quantity
	}
	return n
}

// ResolveCurrency picks the item's currency, then the provider default, then
// CustomCurrency.
func ResolveCurrency(pricing PricingProvider, sig item.Signature) string {
	if c, ok := pricing.CurrencyFor(sig); ok && c != "" {
		return strings.ToUpper(c)
	}
	if c, ok := pricing.DefaultCurrency(); ok && c != "" {
		return strings.ToUpper(c)
	}
	return CustomCurrency
}

// Net applies the sales tax. Taxes at or below zero leave the amount as is.
func Net(gross, taxPercent float64) float64 {
	if taxPercent <= 0 {
		return gross
	}
	if taxPercent >= 100 {
		return 0
	}
	return gross * (1 - taxPercent/100)
}
