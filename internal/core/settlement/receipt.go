package settlement

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Receipt describes a completed sale.
type Receipt struct {
	Actor      Actor              `json:"actor"`
	SpawnerID  string             `json:"spawner_id"`
	Items      int64              `json:"items"`
	Gross      map[string]float64 `json:"gross"`
	Net        map[string]float64 `json:"net"`
	TaxPercent float64            `json:"tax_percent"`
	Sold       []SaleRecord       `json:"sold"`
	At         time.Time          `json:"at"`
}

// Summary is a one-line human readable description, e.g.
// "sold 1,280 items for 45 CASH, 2.5 GEM (tax 10%)".
func (r Receipt) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sold %s items for ", humanize.Comma(r.Items))

	for i, c := range slices.Sorted(maps.Keys(r.Net)) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", humanize.CommafWithDigits(r.Net[c], 2), c)
	}
	if r.TaxPercent > 0 {
		fmt.Fprintf(&b, " (tax %s%%)", humanize.Ftoa(r.TaxPercent))
	}
	return b.String()
}
