package injector

import (
	"context"
	"errors"

	"github.com/google/wire"

	"github.com/zeusync/smartspawner/internal/app"
	"github.com/zeusync/smartspawner/internal/audit"
	"github.com/zeusync/smartspawner/internal/config"
	"github.com/zeusync/smartspawner/internal/core/activity"
	"github.com/zeusync/smartspawner/internal/core/events/bus"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/observer"
	"github.com/zeusync/smartspawner/internal/core/registry"
	"github.com/zeusync/smartspawner/internal/core/settlement"
	"github.com/zeusync/smartspawner/internal/economy"
	"github.com/zeusync/smartspawner/internal/pricing"
	"github.com/zeusync/smartspawner/internal/server"
	"github.com/zeusync/smartspawner/internal/storage/sqlite"
)

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	bus.New,
	ProvideStore,
	ProvideRegistry,
	observer.NewIndex,
	ProvideScheduler,
	ProvidePricing,
	ProvideLedger,
	ProvideSalesLog,
	ProvidePipeline,
	ProvideService,
	ProvideServer,
	wire.Struct(new(App), "*"),
)

// App is the assembled process.
type App struct {
	Config  config.Config
	Logger  *log.Logger
	Store   *sqlite.Store
	Sales   *audit.SalesLog
	Service *app.Service
	Server  *server.Server
}

// Start brings the components up in dependency order.
func (a *App) Start(ctx context.Context) error {
	a.Store.Start(a.Config.Storage.FlushInterval)
	if err := a.Service.Start(ctx); err != nil {
		return err
	}
	return a.Server.Start(ctx)
}

// Stop tears the components down in reverse order. Every step runs even if
// an earlier one failed.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if err := a.Server.Stop(ctx); err != nil && !errors.Is(err, server.ErrServerNotRunning) {
		errs = append(errs, err)
	}
	errs = append(errs, a.Service.Stop(ctx), a.Sales.Close(), a.Store.Close())
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

func ProvideLogger(cfg config.Config) *log.Logger {
	return log.New(cfg.Level())
}

func ProvideStore(cfg config.Config, logger log.Log) (*sqlite.Store, error) {
	return sqlite.Open(cfg.Storage.Path, logger)
}

func ProvideRegistry(store *sqlite.Store, events bus.EventBus, logger log.Log) *registry.Registry {
	reg := registry.New(store, events, logger)
	store.Attach(reg)
	return reg
}

func ProvideScheduler(cfg config.Config, reg *registry.Registry, observers *observer.Index, events bus.EventBus, logger log.Log) *activity.Scheduler {
	return activity.New(reg, observers, events, logger, cfg.Scheduler.Activity())
}

func ProvidePricing(cfg config.Config) (*pricing.Table, error) {
	return pricing.NewTable(cfg.Prices, cfg.Settlement.DefaultCurrency)
}

// ProvideLedger registers the default currency and every currency a price
// names, so no configured sale can miss its economy.
func ProvideLedger(cfg config.Config) *economy.Ledger {
	currencies := []string{cfg.Settlement.DefaultCurrency}
	for _, p := range cfg.Prices {
		if p.Currency != "" {
			currencies = append(currencies, p.Currency)
		}
	}
	return economy.NewLedger(currencies...)
}

func ProvideSalesLog(cfg config.Config, logger log.Log) *audit.SalesLog {
	return audit.NewSalesLog(cfg.Audit.Dir, cfg.Audit.Prefix, logger)
}

func ProvidePipeline(
	cfg config.Config,
	prices *pricing.Table,
	ledger *economy.Ledger,
	sales *audit.SalesLog,
	events bus.EventBus,
	logger log.Log,
) *settlement.Pipeline {
	return settlement.New(cfg.Settlement.Pipeline(), prices, ledger, sales, events, logger)
}

func ProvideService(
	cfg config.Config,
	reg *registry.Registry,
	scheduler *activity.Scheduler,
	pipeline *settlement.Pipeline,
	observers *observer.Index,
	events bus.EventBus,
	logger log.Log,
) (*app.Service, error) {
	template, err := cfg.DefaultSpawner.Spawner()
	if err != nil {
		return nil, err
	}
	return app.New(reg, scheduler, pipeline, observers, events, logger, app.Options{
		Template:   template,
		AllowGrief: cfg.Protection.AllowGrief,
	}), nil
}

func ProvideServer(cfg config.Config, service *app.Service, events bus.EventBus, logger log.Log) (*server.Server, error) {
	srvCfg := server.DefaultServerConfig()
	srvCfg.ListenAddr = cfg.ListenAddr
	return server.NewServer(srvCfg, service, events, logger)
}
