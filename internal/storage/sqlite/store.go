// Package sqlite persists spawners in a SQLite database. Writes are batched:
// the registry marks ids dirty and a background loop flushes them.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/zeusync/smartspawner/internal/core/item"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/spawner"
	"github.com/zeusync/smartspawner/internal/core/storage/interfaces"
	"github.com/zeusync/smartspawner/pkg/concurrent"
)

const (
	DefaultFlushInterval = 30 * time.Second
	batchSize            = 256
	encodeWorkers        = 8
)

var _ interfaces.Store = (*Store)(nil)

type Store struct {
	conn   *sqlx.DB
	logger log.Log

	mu      sync.Mutex
	source  interfaces.Source
	dirty   map[string]struct{}
	deleted map[string]struct{}

	// held across a delete or a write transaction
	writeMu sync.Mutex

	stop chan struct{}
	done chan struct{}
}

type row struct {
	ID            string `db:"id"`
	World         string `db:"world"`
	X             int    `db:"x"`
	Y             int    `db:"y"`
	Z             int    `db:"z"`
	Radius        int    `db:"radius"`
	IntervalMS    int64  `db:"interval_ms"`
	StackSize     int    `db:"stack_size"`
	Active        bool   `db:"active"`
	MaxStored     int64  `db:"max_stored"`
	LootJSON      string `db:"loot_json"`
	InventoryJSON string `db:"inventory_json"`
	UpdatedAt     int64  `db:"updated_at"`
}

// Open opens or creates the database at path.
func Open(path string, logger log.Log) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time keeps SQLITE_BUSY away
	conn.SetMaxOpenConns(1)

	if logger == nil {
		logger = log.Provide()
	}
	s := &Store{
		conn:    conn,
		logger:  logger.Named("storage"),
		dirty:   make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
	if err = s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS spawners (
		id TEXT PRIMARY KEY,
		world TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		z INTEGER NOT NULL,
		radius INTEGER NOT NULL,
		interval_ms INTEGER NOT NULL,
		stack_size INTEGER NOT NULL,
		active INTEGER NOT NULL,
		max_stored INTEGER NOT NULL,
		loot_json TEXT NOT NULL,
		inventory_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spawners_world ON spawners(world);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Attach sets where dirty ids are resolved at flush time. Without a source
// QueueSave and MarkModified only accumulate ids.
func (s *Store) Attach(src interfaces.Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

// Start flushes dirty spawners every interval until Close.
func (s *Store) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.Flush(context.Background()); err != nil {
					s.logger.Error("Periodic flush failed", log.Error(err))
				}
			}
		}
	}()
}

// Close stops the flush loop, writes what is still dirty and closes the
// database.
func (s *Store) Close() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if err := s.Flush(context.Background()); err != nil {
		s.logger.Error("Final flush failed", log.Error(err))
	}
	return s.conn.Close()
}

// QueueSave is called when a spawner is registered, which also revives an
// id deleted earlier.
func (s *Store) QueueSave(id string) {
	s.mu.Lock()
	delete(s.deleted, id)
	s.dirty[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) MarkModified(id string) { s.markDirty(id) }

func (s *Store) markDirty(id string) {
	s.mu.Lock()
	s.dirty[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) DirtyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// Flush writes every dirty spawner the source still knows. Ids the source
// has forgotten are dropped; their rows are removed by DeleteByID.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	src := s.source
	if src == nil || len(s.dirty) == 0 {
		s.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	list := make([]*spawner.Spawner, 0, len(ids))
	for _, id := range ids {
		if sp, ok := src.GetByID(id); ok {
			list = append(list, sp)
		}
	}

	if err := s.upsert(ctx, list); err != nil {
		// keep them for the next round
		for _, id := range ids {
			s.markDirty(id)
		}
		return err
	}
	s.logger.Debug("Flushed spawners", log.Int("count", len(list)))
	return nil
}

// SaveAll writes the given spawners regardless of their dirty state.
func (s *Store) SaveAll(ctx context.Context, spawners []*spawner.Spawner) error {
	if err := s.upsert(ctx, spawners); err != nil {
		return err
	}
	s.mu.Lock()
	for _, sp := range spawners {
		delete(s.dirty, sp.ID())
	}
	s.mu.Unlock()
	return nil
}

// DeleteByID removes the row and keeps the id from being written back by a
// flush that looked the spawner up before the delete.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	delete(s.dirty, id)
	s.deleted[id] = struct{}{}
	s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx, "DELETE FROM spawners WHERE id = ?", id)
	return err
}

func (s *Store) isDeleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deleted[id]
	return ok
}

// LoadAll reads every stored spawner. Rows that fail to decode are skipped
// and logged.
func (s *Store) LoadAll(ctx context.Context) (map[string]*spawner.Spawner, error) {
	var rows []row
	if err := s.conn.SelectContext(ctx, &rows, "SELECT * FROM spawners"); err != nil {
		return nil, fmt.Errorf("select spawners: %w", err)
	}

	out := make(map[string]*spawner.Spawner, len(rows))
	for _, r := range rows {
		sp, err := r.decode()
		if err != nil {
			s.logger.Warn("Skipping unreadable spawner row", log.String("spawner_id", r.ID), log.Error(err))
			continue
		}
		out[r.ID] = sp
	}
	return out, nil
}

type encoded struct {
	sp  *spawner.Spawner
	row row
}

func (s *Store) upsert(ctx context.Context, spawners []*spawner.Spawner) error {
	if len(spawners) == 0 {
		return nil
	}

	// snapshotting takes every spawner's locks; do it before the tx opens
	now := time.Now().UnixMilli()
	jobs := make([]*encoded, len(spawners))
	for i, sp := range spawners {
		jobs[i] = &encoded{sp: sp}
	}
	err := concurrent.ForEach(ctx, jobs, encodeWorkers, func(_ context.Context, j *encoded) error {
		r, err := encode(j.sp, now)
		if err != nil {
			return fmt.Errorf("encode spawner %s: %w", j.sp.ID(), err)
		}
		j.row = r
		return nil
	})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR REPLACE INTO spawners
		(id, world, x, y, z, radius, interval_ms, stack_size, active,
		 max_stored, loot_json, inventory_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, batch := range concurrent.Batch(jobs, batchSize) {
		for _, j := range batch {
			r := j.row
			if s.isDeleted(r.ID) {
				continue
			}
			_, err = stmt.ExecContext(ctx,
				r.ID, r.World, r.X, r.Y, r.Z, r.Radius, r.IntervalMS, r.StackSize, r.Active,
				r.MaxStored, r.LootJSON, r.InventoryJSON, r.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert spawner %s: %w", r.ID, err)
			}
		}
		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func encode(sp *spawner.Spawner, now int64) (row, error) {
	cfg := sp.Config()
	lootJSON, err := json.Marshal(cfg.Loot)
	if err != nil {
		return row{}, err
	}
	invJSON, err := json.Marshal(sp.Inventory().Snapshot())
	if err != nil {
		return row{}, err
	}
	loc := sp.Location()
	return row{
		ID:            sp.ID(),
		World:         loc.World,
		X:             loc.X,
		Y:             loc.Y,
		Z:             loc.Z,
		Radius:        cfg.Radius,
		IntervalMS:    cfg.Interval.Milliseconds(),
		StackSize:     cfg.StackSize,
		Active:        sp.Active(),
		MaxStored:     cfg.MaxStored,
		LootJSON:      string(lootJSON),
		InventoryJSON: string(invJSON),
		UpdatedAt:     now,
	}, nil
}

func (r row) decode() (*spawner.Spawner, error) {
	var loot spawner.LootTable
	if err := json.Unmarshal([]byte(r.LootJSON), &loot); err != nil {
		return nil, fmt.Errorf("loot: %w", err)
	}
	var stacks []item.Stack
	if err := json.Unmarshal([]byte(r.InventoryJSON), &stacks); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}

	sp := spawner.New(r.ID, spawner.Location{World: r.World, X: r.X, Y: r.Y, Z: r.Z}, spawner.Config{
		Radius:    r.Radius,
		Interval:  time.Duration(r.IntervalMS) * time.Millisecond,
		StackSize: r.StackSize,
		MaxStored: r.MaxStored,
		Loot:      loot,
	})
	if err := sp.Inventory().Replace(stacks); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	sp.SetActive(r.Active)
	return sp, nil
}
