package item

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Aggregate maps signatures to strictly positive counts. A signature whose
// count drops to zero is removed. All methods are safe for concurrent use and
// every read observes a state between two complete mutations.
type Aggregate struct {
	mu    sync.RWMutex
	items map[Signature]int64
	total int64
}

func NewAggregate() *Aggregate {
	return &Aggregate{items: make(map[Signature]int64)}
}

// Add increases the count of sig by qty.
func (a *Aggregate) Add(sig Signature, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if sig.IsZero() {
		return ErrInvalidSignature
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.items[sig]
	if cur > math.MaxInt64-qty || a.total > math.MaxInt64-qty {
		return fmt.Errorf("%w: %s", ErrQuantityOverflow, sig)
	}
	a.items[sig] = cur + qty
	a.total += qty
	return nil
}

// AddAll adds every stack or none of them.
func (a *Aggregate) AddAll(stacks []Stack) error {
	merged, err := mergeStacks(stacks)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var sum int64
	for sig, qty := range merged {
		if a.items[sig] > math.MaxInt64-qty || sum > math.MaxInt64-qty {
			return fmt.Errorf("%w: %s", ErrQuantityOverflow, sig)
		}
		sum += qty
	}
	if a.total > math.MaxInt64-sum {
		return ErrQuantityOverflow
	}
	for sig, qty := range merged {
		a.items[sig] += qty
	}
	a.total += sum
	return nil
}

// Remove takes exactly qty of sig. Asking for more than is stored fails and
// leaves the aggregate untouched.
func (a *Aggregate) Remove(sig Signature, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.items[sig]
	if cur < qty {
		return fmt.Errorf("%w: %s has %d, want %d", ErrInsufficientQuantity, sig, cur, qty)
	}
	a.setLocked(sig, cur-qty)
	a.total -= qty
	return nil
}

// RemoveExact removes every stack or none of them.
func (a *Aggregate) RemoveExact(stacks []Stack) error {
	merged, err := mergeStacks(stacks)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for sig, qty := range merged {
		if cur := a.items[sig]; cur < qty {
			return fmt.Errorf("%w: %s has %d, want %d", ErrInsufficientQuantity, sig, cur, qty)
		}
	}
	for sig, qty := range merged {
		a.setLocked(sig, a.items[sig]-qty)
		a.total -= qty
	}
	return nil
}

// AddUpTo adds as much of the stacks as fits below limit total items, in
// order. It returns the stacks actually added.
func (a *Aggregate) AddUpTo(stacks []Stack, limit int64) []Stack {
	a.mu.Lock()
	defer a.mu.Unlock()

	var added []Stack
	for _, s := range stacks {
		if s.Quantity <= 0 || s.Signature.IsZero() {
			continue
		}
		room := limit - a.total
		if limit <= 0 {
			room = math.MaxInt64 - a.total
		}
		if room <= 0 {
			break
		}
		qty := min(s.Quantity, room)
		if a.items[s.Signature] > math.MaxInt64-qty {
			continue
		}
		a.items[s.Signature] += qty
		a.total += qty
		added = append(added, Stack{Signature: s.Signature, Quantity: qty})
	}
	return added
}

func (a *Aggregate) Count(sig Signature) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.items[sig]
}

// Total is the sum of all counts.
func (a *Aggregate) Total() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total
}

// Len is the number of distinct signatures.
func (a *Aggregate) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

func (a *Aggregate) IsEmpty() bool {
	return a.Len() == 0
}

// Snapshot returns a copy of the contents ordered by signature string.
func (a *Aggregate) Snapshot() []Stack {
	a.mu.RLock()
	out := make([]Stack, 0, len(a.items))
	for sig, qty := range a.items {
		out = append(out, Stack{Signature: sig, Quantity: qty})
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Signature.String() < out[j].Signature.String()
	})
	return out
}

// Replace swaps the contents for the given stacks, used when restoring from
// storage.
func (a *Aggregate) Replace(stacks []Stack) error {
	merged, err := mergeStacks(stacks)
	if err != nil {
		return err
	}
	var total int64
	for _, qty := range merged {
		if total > math.MaxInt64-qty {
			return ErrQuantityOverflow
		}
		total += qty
	}

	a.mu.Lock()
	a.items = merged
	a.total = total
	a.mu.Unlock()
	return nil
}

// Equal reports whether both aggregates hold the same counts.
func (a *Aggregate) Equal(other *Aggregate) bool {
	left, right := a.Snapshot(), other.Snapshot()
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func (a *Aggregate) setLocked(sig Signature, qty int64) {
	if qty == 0 {
		delete(a.items, sig)
		return
	}
	a.items[sig] = qty
}

func mergeStacks(stacks []Stack) (map[Signature]int64, error) {
	merged := make(map[Signature]int64, len(stacks))
	for _, s := range stacks {
		if s.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, s.Signature)
		}
		if s.Signature.IsZero() {
			return nil, ErrInvalidSignature
		}
		if merged[s.Signature] > math.MaxInt64-s.Quantity {
			return nil, fmt.Errorf("%w: %s", ErrQuantityOverflow, s.Signature)
		}
		merged[s.Signature] += s.Quantity
	}
	return merged, nil
}
