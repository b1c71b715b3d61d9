package injector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/smartspawner/internal/config"
	"github.com/zeusync/smartspawner/internal/core/item"
	"github.com/zeusync/smartspawner/internal/core/settlement"
	"github.com/zeusync/smartspawner/internal/core/spawner"
	"github.com/zeusync/smartspawner/internal/pricing"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Storage.Path = filepath.Join(dir, "spawners.db")
	cfg.Audit.Dir = filepath.Join(dir, "audit")
	return cfg
}

func TestInitializeAppRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	assert.NotNil(t, a.Server.Addr())

	sp, err := a.Service.Place(spawner.Location{World: "world", X: 1, Y: 2, Z: 3}, 2)
	require.NoError(t, err)
	require.NoError(t, sp.Inventory().Add(item.NewSignature("GUNPOWDER"), 4))
	require.NoError(t, a.Stop(ctx))

	b, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() { _ = b.Stop(ctx) })

	loaded, ok := b.Service.Spawner(sp.ID())
	require.True(t, ok)
	assert.Equal(t, 2, loaded.StackSize())
	assert.Equal(t, int64(4), loaded.Inventory().Count(item.NewSignature("GUNPOWDER")))

	res, err := b.Service.Sell(ctx, settlement.Actor{ID: "a", Name: "A"}, sp.ID(), nil)
	require.NoError(t, err)
	require.Equal(t, settlement.StatusCompleted, res.Status, "err: %v", res.Err)
	assert.InDelta(t, 8.0, res.Receipt.Net["CASH"], 1e-9)
}

func TestProvideLedgerRegistersPriceCurrencies(t *testing.T) {
	cfg := testConfig(t)
	cfg.Prices["DIAMOND"] = pricing.Price{Sell: 5, Currency: "gem"}

	ledger := ProvideLedger(cfg)
	_, ok := ledger.Provider("CASH")
	assert.True(t, ok)
	_, ok = ledger.Provider("GEM")
	assert.True(t, ok)
	_, ok = ledger.Provider("EMERALD")
	assert.False(t, ok)
}

func TestInvalidTemplateFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.DefaultSpawner.Loot = []config.Loot{{Item: "BONE", Min: 3, Max: 1}}

	_, err := InitializeApp(cfg)
	assert.Error(t, err)
}
