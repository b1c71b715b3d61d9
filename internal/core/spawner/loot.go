package spawner

import (
	"math/rand/v2"

	"github.com/zeusync/smartspawner/internal/core/item"
)

// LootEntry is one possible drop per production roll.
type LootEntry struct {
	Signature item.Signature `json:"signature"`
	Min       int64          `json:"min"`
	Max       int64          `json:"max"`
	Chance    float64        `json:"chance"`
}

type LootTable []LootEntry

// Roll produces the drops of `rolls` production cycles, merged by signature
// in table order.
func (t LootTable) Roll(rng *rand.Rand, rolls int) []item.Stack {
	if len(t) == 0 || rolls <= 0 {
		return nil
	}

	totals := make([]int64, len(t))
	for r := 0; r < rolls; r++ {
		for i, e := range t {
			if e.Max <= 0 || e.Signature.IsZero() {
				continue
			}
			if e.Chance < 1 && rng.Float64() >= e.Chance {
				continue
			}
			lo := max(e.Min, 0)
			hi := max(e.Max, lo)
			totals[i] += lo + rng.Int64N(hi-lo+1)
		}
	}

	var out []item.Stack
	index := make(map[item.Signature]int, len(t))
	for i, qty := range totals {
		if qty <= 0 {
			continue
		}
		sig := t[i].Signature
		if at, ok := index[sig]; ok {
			out[at].Quantity += qty
			continue
		}
		index[sig] = len(out)
		out = append(out, item.Stack{Signature: sig, Quantity: qty})
	}
	return out
}
