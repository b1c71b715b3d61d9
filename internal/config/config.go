// Package config loads the server configuration from YAML. The document is
// checked against an embedded JSON schema before it is decoded.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/smartspawner/internal/core/activity"
	"github.com/zeusync/smartspawner/internal/core/item"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/settlement"
	"github.com/zeusync/smartspawner/internal/core/spawner"
	"github.com/zeusync/smartspawner/internal/pricing"
)

//go:embed config.schema.json
var schemaJSON string

const schemaURL = "config.schema.json"

var ErrInvalidConfig = errors.New("config: invalid")

type Config struct {
	LogLevel       string                   `yaml:"log_level"`
	ListenAddr     string                   `yaml:"listen_addr"`
	Storage        Storage                  `yaml:"storage"`
	Scheduler      Scheduler                `yaml:"scheduler"`
	Settlement     Settlement               `yaml:"settlement"`
	Audit          Audit                    `yaml:"audit"`
	Protection     Protection               `yaml:"protection"`
	Prices         map[string]pricing.Price `yaml:"prices"`
	DefaultSpawner Spawner                  `yaml:"default_spawner"`
}

type Storage struct {
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type Scheduler struct {
	Period  time.Duration `yaml:"period"`
	Workers int           `yaml:"workers"`
}

type Settlement struct {
	Enabled             bool          `yaml:"enabled"`
	Cooldown            time.Duration `yaml:"cooldown"`
	CooldownPruneFactor int           `yaml:"cooldown_prune_factor"`
	Timeout             time.Duration `yaml:"timeout"`
	GraceWindow         time.Duration `yaml:"grace_window"`
	TaxPercent          float64       `yaml:"tax_percent"`
	DefaultCurrency     string        `yaml:"default_currency"`
	Workers             int           `yaml:"workers"`
	LoggingEnabled      bool          `yaml:"logging_enabled"`
}

type Audit struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

type Protection struct {
	// AllowGrief lets explosions destroy spawners.
	AllowGrief bool `yaml:"allow_grief"`
}

type Spawner struct {
	Radius    int           `yaml:"radius"`
	Interval  time.Duration `yaml:"interval"`
	StackSize int           `yaml:"stack_size"`
	MaxStored int64         `yaml:"max_stored"`
	Loot      []Loot        `yaml:"loot"`
}

type Loot struct {
	Item   string  `yaml:"item"`
	Min    int64   `yaml:"min"`
	Max    int64   `yaml:"max"`
	Chance float64 `yaml:"chance"`
}

func Default() Config {
	return Config{
		LogLevel:   "info",
		ListenAddr: ":8080",
		Storage: Storage{
			Path:          "smartspawner.db",
			FlushInterval: 30 * time.Second,
		},
		Scheduler: Scheduler{
			Period:  activity.DefaultPeriod,
			Workers: activity.DefaultWorkers,
		},
		Settlement: Settlement{
			Enabled:             true,
			Cooldown:            settlement.DefaultCooldown,
			CooldownPruneFactor: settlement.DefaultPruneFactor,
			Timeout:             settlement.DefaultTimeout,
			GraceWindow:         settlement.DefaultGraceWindow,
			DefaultCurrency:     "CASH",
			Workers:             settlement.DefaultWorkers,
			LoggingEnabled:      true,
		},
		Audit: Audit{
			Dir:    "logs",
			Prefix: "sales",
		},
		Prices: map[string]pricing.Price{
			"BONE":      {Sell: 1},
			"ARROW":     {Sell: 0.5},
			"STRING":    {Sell: 1},
			"GUNPOWDER": {Sell: 2},
		},
		DefaultSpawner: Spawner{
			Radius:    spawner.DefaultRadius,
			Interval:  spawner.DefaultInterval,
			StackSize: 1,
			MaxStored: spawner.DefaultMaxStored,
			Loot: []Loot{
				{Item: "BONE", Min: 0, Max: 2, Chance: 1},
				{Item: "ARROW", Min: 0, Max: 2, Chance: 1},
			},
		},
	}
}

// Load reads path on top of Default. An empty path returns the defaults.
// Configured prices are merged into the default price table.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err = Validate(b); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err = cfg.check(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks a YAML document against the embedded schema.
func Validate(doc []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	var raw any
	if err = yaml.Unmarshal(doc, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if raw == nil {
		return nil
	}

	// the validator wants JSON values, so round-trip through encoding/json
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err = dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err = schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
}

func (c Config) check() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.DefaultSpawner.Spawner(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for key := range c.Prices {
		if _, err := item.ParseSignature(key); err != nil {
			return fmt.Errorf("%w: price %q: %w", ErrInvalidConfig, key, err)
		}
	}
	return nil
}

func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.LevelInfo
	}
	return lvl
}

func (s Scheduler) Activity() activity.Config {
	return activity.Config{Period: s.Period, Workers: s.Workers}
}

func (s Settlement) Pipeline() settlement.Config {
	return settlement.Config{
		Enabled:        s.Enabled,
		Cooldown:       s.Cooldown,
		PruneFactor:    s.CooldownPruneFactor,
		Timeout:        s.Timeout,
		GraceWindow:    s.GraceWindow,
		TaxPercent:     s.TaxPercent,
		Workers:        s.Workers,
		LoggingEnabled: s.LoggingEnabled,
	}
}

// Spawner converts the template into the production parameters of newly
// placed spawners.
func (s Spawner) Spawner() (spawner.Config, error) {
	loot := make(spawner.LootTable, 0, len(s.Loot))
	for _, l := range s.Loot {
		sig, err := item.ParseSignature(l.Item)
		if err != nil {
			return spawner.Config{}, fmt.Errorf("loot %q: %w", l.Item, err)
		}
		if l.Max < l.Min {
			return spawner.Config{}, fmt.Errorf("loot %q: max below min", l.Item)
		}
		chance := l.Chance
		if chance == 0 {
			chance = 1
		}
		loot = append(loot, spawner.LootEntry{Signature: sig, Min: l.Min, Max: l.Max, Chance: chance})
	}
	return spawner.Config{
		Radius:    s.Radius,
		Interval:  s.Interval,
		StackSize: s.StackSize,
		MaxStored: s.MaxStored,
		Loot:      loot,
	}, nil
}
