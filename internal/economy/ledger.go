// Package economy is an in-process multi-currency ledger. It backs the sell
// endpoint when no external economy is attached.
package economy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/zeusync/smartspawner/internal/core/settlement"
)

var (
	ErrNegativeAmount    = errors.New("economy: negative amount")
	ErrInsufficientFunds = errors.New("economy: insufficient funds")
)

// Ledger keeps balances per actor and currency. Only registered currencies
// have a provider.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]map[string]float64 // currency -> actor id -> balance
}

var _ settlement.Economies = (*Ledger)(nil)

func NewLedger(currencies ...string) *Ledger {
	l := &Ledger{accounts: make(map[string]map[string]float64, len(currencies))}
	for _, c := range currencies {
		l.Register(c)
	}
	return l
}

// Register adds a currency. Registering twice keeps the balances.
func (l *Ledger) Register(currency string) {
	currency = strings.ToUpper(currency)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[currency]; !ok {
		l.accounts[currency] = make(map[string]float64)
	}
}

func (l *Ledger) Provider(currency string) (settlement.EconomyProvider, bool) {
	currency = strings.ToUpper(currency)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[currency]; !ok {
		return nil, false
	}
	return &account{ledger: l, currency: currency}, true
}

func (l *Ledger) Balance(actorID, currency string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[strings.ToUpper(currency)][actorID]
}

// Balances returns every non-zero balance of the actor by currency.
func (l *Ledger) Balances(actorID string) map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64)
	for currency, balances := range l.accounts {
		if b := balances[actorID]; b != 0 {
			out[currency] = b
		}
	}
	return out
}

// Snapshot copies the whole ledger.
func (l *Ledger) Snapshot() map[string]map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]map[string]float64, len(l.accounts))
	for currency, balances := range l.accounts {
		out[currency] = maps.Clone(balances)
	}
	return out
}

func (l *Ledger) apply(currency, actorID string, delta float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	balances := l.accounts[currency]
	if balances[actorID]+delta < 0 {
		return fmt.Errorf("%w: %s has %.2f %s", ErrInsufficientFunds, actorID, balances[actorID], currency)
	}
	balances[actorID] += delta
	return nil
}

type account struct {
	ledger   *Ledger
	currency string
}

func (a *account) Deposit(ctx context.Context, actor settlement.Actor, amount float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount < 0 {
		return ErrNegativeAmount
	}
	return a.ledger.apply(a.currency, actor.ID, amount)
}

func (a *account) Withdraw(ctx context.Context, actor settlement.Actor, amount float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount < 0 {
		return ErrNegativeAmount
	}
	return a.ledger.apply(a.currency, actor.ID, -amount)
}
