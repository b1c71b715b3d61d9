package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zeusync/smartspawner/internal/core/events/bus"
	"github.com/zeusync/smartspawner/internal/core/item"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/spawner"
)

const (
	DefaultCooldown    = 500 * time.Millisecond
	DefaultPruneFactor = 10
	DefaultTimeout     = 5 * time.Second
	DefaultGraceWindow = 100 * time.Millisecond
	DefaultWorkers     = 4
)

type Config struct {
	Enabled bool
	// Cooldown is the minimum gap between two settlements of one actor.
	Cooldown time.Duration
	// PruneFactor times Cooldown is the age after which cooldown entries
	// are forgotten.
	PruneFactor int
	Timeout     time.Duration
	// GraceWindow is how long Settle waits for the outcome before it
	// returns StatusPending.
	GraceWindow    time.Duration
	TaxPercent     float64
	Workers        int
	LoggingEnabled bool
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.PruneFactor <= 0 {
		c.PruneFactor = DefaultPruneFactor
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.GraceWindow < 0 {
		c.GraceWindow = 0
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

type Status int

const (
	StatusRejected Status = iota + 1
	StatusPending
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRejected:
		return "rejected"
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{StatusRejected, StatusPending, StatusCompleted, StatusFailed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("settlement: unknown status %q", text)
}

// Result is the outcome of one Settle call. Receipt is set only for
// completed settlements.
type Result struct {
	Status  Status   `json:"status"`
	Reason  Reason   `json:"reason,omitempty"`
	Err     error    `json:"-"`
	Receipt *Receipt `json:"receipt,omitempty"`
}

func rejectedResult(err error) Result {
	return Result{Status: StatusRejected, Reason: ReasonOf(err), Err: err}
}

func failedResult(err error) Result {
	return Result{Status: StatusFailed, Reason: ReasonOf(err), Err: err}
}

// Failure is the payload of settlement.failed events.
type Failure struct {
	Actor     Actor  `json:"actor"`
	SpawnerID string `json:"spawner_id"`
	Reason    Reason `json:"reason"`
	Error     string `json:"error"`
}

type Stats struct {
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
	TimedOut  uint64 `json:"timed_out"`
}

// Pipeline sells a spawner's stored items for an actor.
//
// At most one settlement runs per actor and per spawner. The spawner permit
// is held from the guards until the outcome is known, so production never
// interleaves with the removal, the payment or the compensating re-add.
type Pipeline struct {
	cfg       Config
	enabled   atomic.Bool
	pricing   PricingProvider
	economies Economies
	audit     AuditLog
	events    bus.EventBus
	logger    log.Log
	now       func() time.Time

	pending   pendingSet
	cooldowns *cooldownTable
	workers   *semaphore.Weighted

	closeMu  sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	auditing sync.WaitGroup
	stop     chan struct{}
	janitor  chan struct{}

	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	timedOut  atomic.Uint64
}

// New builds a pipeline and starts its cooldown janitor. audit may be nil.
func New(cfg Config, pricing PricingProvider, economies Economies, audit AuditLog, events bus.EventBus, logger log.Log) *Pipeline {
	cfg = cfg.withDefaults()
	if events == nil {
		events = bus.Nop()
	}
	if logger == nil {
		logger = log.Provide()
	}

	p := &Pipeline{
		cfg:       cfg,
		pricing:   pricing,
		economies: economies,
		audit:     audit,
		events:    events,
		logger:    logger.Named("settlement"),
		now:       time.Now,
		cooldowns: newCooldownTable(),
		workers:   semaphore.NewWeighted(int64(cfg.Workers)),
		stop:      make(chan struct{}),
		janitor:   make(chan struct{}),
	}
	p.enabled.Store(cfg.Enabled)

	go p.pruneLoop()
	return p
}

func (p *Pipeline) SetEnabled(enabled bool) { p.enabled.Store(enabled) }

func (p *Pipeline) Enabled() bool { return p.enabled.Load() }

func (p *Pipeline) TaxPercent() float64 { return p.cfg.TaxPercent }

// InFlight reports whether the actor has a settlement running.
func (p *Pipeline) InFlight(actorID string) bool { return p.pending.has(actorID) }

func (p *Pipeline) Stats() Stats {
	return Stats{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		TimedOut:  p.timedOut.Load(),
	}
}

// Settle sells everything sellable in the spawner's inventory for actor.
//
// Guard rejections return synchronously with StatusRejected. Otherwise the
// attempt runs on the worker pool and Settle waits up to the grace window
// for its outcome. If the outcome is not known by then Settle returns
// StatusPending and onDone, when non-nil, receives the final Result later.
// onDone is never called when Settle itself returned the final Result.
func (p *Pipeline) Settle(ctx context.Context, actor Actor, sp *spawner.Spawner, onDone func(Result)) Result {
	permit, err := p.admit(actor, sp)
	if err != nil {
		p.rejected.Add(1)
		p.logger.Debug("Settlement rejected",
			log.String("actor_id", actor.ID),
			log.String("spawner_id", sp.ID()),
			log.Error(err),
		)
		return rejectedResult(err)
	}

	h := &handoff{ch: make(chan Result, 1)}
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	go func() {
		defer p.inflight.Done()
		defer cancel()

		res := p.run(attemptCtx, actor, sp, permit)
		if h.deliver(res) && onDone != nil {
			p.callback(onDone, res)
		}
	}()

	return h.wait(p.cfg.GraceWindow)
}

// Close rejects new settlements, stops the janitor and waits for running
// attempts and queued sales log writes.
func (p *Pipeline) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	p.closeMu.Unlock()

	close(p.stop)
	<-p.janitor
	p.inflight.Wait()
	p.auditing.Wait()
}

// admit runs the guards in order. On success the actor is marked pending and
// the caller owns the spawner permit.
func (p *Pipeline) admit(actor Actor, sp *spawner.Spawner) (*spawner.Permit, error) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed || !p.enabled.Load() {
		return nil, ErrDisabled
	}
	if !p.pending.mark(actor.ID) {
		return nil, ErrInProgress
	}
	if p.cooldowns.within(actor.ID, p.now(), p.cfg.Cooldown) {
		p.pending.clear(actor.ID)
		return nil, ErrCooldown
	}
	permit, ok := sp.Lock().TryAcquire()
	if !ok {
		p.pending.clear(actor.ID)
		return nil, ErrInProgress
	}

	p.inflight.Add(1)
	return permit, nil
}

// run executes the stages of one admitted attempt. Every exit records the
// cooldown, releases the permit and clears the pending marker.
func (p *Pipeline) run(ctx context.Context, actor Actor, sp *spawner.Spawner, permit *spawner.Permit) (res Result) {
	defer func() {
		p.cooldowns.record(actor.ID, p.now())
		permit.Release()
		p.pending.clear(actor.ID)
		p.report(actor, sp, res)
	}()

	if err := p.workers.Acquire(ctx, 1); err != nil {
		return failedResult(classify(err))
	}
	defer p.workers.Release(1)

	snapshot := sp.Inventory().Snapshot()
	if len(snapshot) == 0 {
		return failedResult(ErrEmpty)
	}

	calc, err := call(ctx, func() (SaleCalculation, error) {
		if !p.pricing.Available() {
			return SaleCalculation{}, fmt.Errorf("%w: pricing unavailable", ErrProviderFailure)
		}
		return Calculate(p.pricing, actor, snapshot), nil
	}, nil)
	if err != nil {
		return failedResult(err)
	}
	if !calc.Valid {
		return failedResult(ErrNoSellableItems)
	}

	if err = ctx.Err(); err != nil {
		return failedResult(classify(err))
	}
	if err = sp.Inventory().RemoveExact(calc.Removals); err != nil {
		return failedResult(fmt.Errorf("remove sold items: %w", err))
	}
	p.publish(bus.NewSpawnerEvent(bus.TypeInventoryChanged, "settlement", sp))

	net, err := p.pay(ctx, actor, calc)
	if err != nil {
		p.restore(sp, calc.Removals)
		return failedResult(err)
	}

	p.recordSales(actor, calc.Records)
	return Result{
		Status: StatusCompleted,
		Receipt: &Receipt{
			Actor:      actor,
			SpawnerID:  sp.ID(),
			Items:      calc.Items(),
			Gross:      calc.Gross,
			Net:        net,
			TaxPercent: p.cfg.TaxPercent,
			Sold:       calc.Records,
			At:         p.now(),
		},
	}
}

type payment struct {
	currency string
	provider EconomyProvider
	amount   float64
}

// pay deposits every currency bucket in order. If one fails, the ones
// already paid are reversed and the whole payment fails.
func (p *Pipeline) pay(ctx context.Context, actor Actor, calc SaleCalculation) (map[string]float64, error) {
	net := make(map[string]float64, len(calc.Gross))
	paid := make([]payment, 0, len(calc.Gross))

	for _, currency := range calc.Currencies() {
		provider, ok := p.economies.Provider(currency)
		if !ok {
			p.reverse(actor, paid)
			return nil, fmt.Errorf("%w: no economy for %s", ErrProviderFailure, currency)
		}

		pm := payment{currency: currency, provider: provider, amount: Net(calc.Gross[currency], p.cfg.TaxPercent)}
		_, err := call(ctx, func() (struct{}, error) {
			return struct{}{}, provider.Deposit(ctx, actor, pm.amount)
		}, func(_ struct{}, err error) {
			// the deposit went through after we gave up on it
			if err == nil {
				p.reverse(actor, []payment{pm})
			}
		})
		if err != nil {
			p.reverse(actor, paid)
			return nil, fmt.Errorf("deposit %s: %w", currency, err)
		}

		paid = append(paid, pm)
		net[currency] = pm.amount
	}
	return net, nil
}

func (p *Pipeline) reverse(actor Actor, paid []payment) {
	for _, pm := range paid {
		w, ok := pm.provider.(Withdrawer)
		if !ok {
			p.logger.Error("Cannot reverse deposit, economy has no withdraw",
				log.String("actor_id", actor.ID),
				log.String("currency", pm.currency),
				log.Float64("amount", pm.amount),
			)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		_, err := call(ctx, func() (struct{}, error) {
			return struct{}{}, w.Withdraw(ctx, actor, pm.amount)
		}, nil)
		cancel()
		if err != nil {
			p.logger.Error("Failed to reverse deposit",
				log.String("actor_id", actor.ID),
				log.String("currency", pm.currency),
				log.Float64("amount", pm.amount),
				log.Error(err),
			)
		}
	}
}

// restore puts the removed stacks back. A spawner destroyed in the meantime
// cannot take them; that loss is logged.
func (p *Pipeline) restore(sp *spawner.Spawner, stacks []item.Stack) {
	err := sp.Restore(stacks)
	switch {
	case errors.Is(err, spawner.ErrDestroyed):
		p.logger.Warn("Spawner destroyed during settlement, dropping restored items",
			log.String("spawner_id", sp.ID()),
			log.Int("stacks", len(stacks)),
		)
	case err != nil:
		p.logger.Error("Failed to restore sold items", log.String("spawner_id", sp.ID()), log.Error(err))
	default:
		p.publish(bus.NewSpawnerEvent(bus.TypeInventoryChanged, "settlement", sp))
	}
}

func (p *Pipeline) recordSales(actor Actor, records []SaleRecord) {
	if !p.cfg.LoggingEnabled || p.audit == nil {
		return
	}
	p.auditing.Add(1)
	go func() {
		defer p.auditing.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Sales log panicked", log.Any("panic", r))
			}
		}()
		for _, rec := range records {
			p.audit.RecordSale(actor.Name, rec.Signature.String(), rec.Quantity, rec.Gross, rec.Currency)
		}
	}()
}

func (p *Pipeline) report(actor Actor, sp *spawner.Spawner, res Result) {
	fields := []log.Field{
		log.String("actor_id", actor.ID),
		log.String("spawner_id", sp.ID()),
	}

	if res.Status == StatusCompleted {
		p.completed.Add(1)
		p.logger.Info("Settlement completed", append(fields, log.String("summary", res.Receipt.Summary()))...)
		p.publish(bus.NewEvent(bus.TypeSettlementComplete, "settlement", *res.Receipt))
		return
	}

	p.failed.Add(1)
	fields = append(fields, log.String("reason", string(res.Reason)), log.Error(res.Err))
	switch {
	case IsValidation(res.Err):
		p.logger.Debug("Settlement failed", fields...)
	case IsInvariantViolation(res.Err):
		p.logger.Warn("Settlement failed", fields...)
	case IsTimeout(res.Err):
		p.timedOut.Add(1)
		p.logger.Error("Settlement failed", fields...)
	default:
		p.logger.Error("Settlement failed", fields...)
	}

	p.publish(bus.NewEvent(bus.TypeSettlementFailed, "settlement", Failure{
		Actor:     actor,
		SpawnerID: sp.ID(),
		Reason:    res.Reason,
		Error:     res.Err.Error(),
	}))
}

func (p *Pipeline) publish(e bus.Event) {
	if err := p.events.Publish(e); err != nil {
		p.logger.Warn("Event subscriber failed", log.String("event", e.Type()), log.Error(err))
	}
}

func (p *Pipeline) callback(onDone func(Result), res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Settlement callback panicked", log.Any("panic", r))
		}
	}()
	onDone(res)
}

func (p *Pipeline) pruneLoop() {
	defer close(p.janitor)

	maxAge := p.cfg.Cooldown * time.Duration(p.cfg.PruneFactor)
	ticker := time.NewTicker(maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if n := p.cooldowns.prune(p.now(), maxAge); n > 0 {
				p.logger.Debug("Pruned cooldowns", log.Int("entries", n))
			}
		}
	}
}

// handoff passes the outcome of an attempt either to the waiting Settle call
// or, once Settle gave up waiting, to the completion callback.
type handoff struct {
	mu       sync.Mutex
	ch       chan Result
	detached bool
}

// deliver reports true if Settle already returned StatusPending and the
// result must go to the callback.
func (h *handoff) deliver(res Result) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return true
	}
	h.ch <- res
	return false
}

func (h *handoff) wait(grace time.Duration) Result {
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case res := <-h.ch:
			return res
		case <-timer.C:
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case res := <-h.ch:
		return res
	default:
		h.detached = true
		return Result{Status: StatusPending}
	}
}

// call runs fn on its own goroutine so a hung provider cannot hold an
// attempt past its deadline. If ctx ends first, late (when non-nil) receives
// fn's eventual result.
func call[T any](ctx context.Context, fn func() (T, error), late func(T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out.err = fmt.Errorf("%w: panic: %v", ErrProviderFailure, r)
			}
			done <- out
		}()
		out.val, out.err = fn()
	}()

	select {
	case out := <-done:
		return out.val, classify(out.err)
	case <-ctx.Done():
		if late != nil {
			go func() {
				out := <-done
				late(out.val, out.err)
			}()
		}
		var zero T
		return zero, classify(ctx.Err())
	}
}

// classify maps provider and context errors onto the settlement taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrProviderFailure), errors.Is(err, ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
}
