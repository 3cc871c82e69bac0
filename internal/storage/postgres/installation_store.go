// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crlink-unfurler/internal/store"
)

const defaultTable = "app_installs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// InstallationStoreConfig controls the Postgres connection pool used for installations.
type InstallationStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// InstallationStore implements store.InstallationRepository. The table is
// created on first use.
type InstallationStore struct {
	pool  pool
	table string

	initMu      sync.Mutex
	initialized bool
}

// NewInstallationStore connects to Postgres using the provided config.
func NewInstallationStore(ctx context.Context, cfg InstallationStoreConfig) (*InstallationStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewInstallationStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewInstallationStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewInstallationStoreWithPool(p pool, table string) (*InstallationStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &InstallationStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *InstallationStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ensureSchema creates the table once. A failed attempt is retried on the
// next call.
func (s *InstallationStore) ensureSchema(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return nil
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	team_id varchar(40) NOT NULL,
	enterprise_id varchar(40) NOT NULL,
	installation_blob json NOT NULL,
	PRIMARY KEY (team_id, enterprise_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	s.initialized = true
	return nil
}

// GetInstallation loads the installation for (teamID, enterpriseID).
func (s *InstallationStore) GetInstallation(ctx context.Context, teamID, enterpriseID string) (store.Installation, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return store.Installation{}, err
	}
	query := fmt.Sprintf(`SELECT installation_blob FROM %s WHERE team_id = $1 AND enterprise_id = $2`, s.table)
	var blob []byte
	if err := s.pool.QueryRow(ctx, query, teamID, enterpriseID).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Installation{}, store.ErrNotFound
		}
		return store.Installation{}, fmt.Errorf("select installation: %w", err)
	}
	var inst store.Installation
	if err := json.Unmarshal(blob, &inst); err != nil {
		return store.Installation{}, fmt.Errorf("decode installation: %w", err)
	}
	return inst, nil
}

// StoreInstallation upserts the installation keyed by (team, enterprise).
func (s *InstallationStore) StoreInstallation(ctx context.Context, inst store.Installation) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	blob, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal installation: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (team_id, enterprise_id, installation_blob)
VALUES ($1, $2, $3)
ON CONFLICT (team_id, enterprise_id) DO UPDATE
SET installation_blob = EXCLUDED.installation_blob`, s.table)
	if _, err := s.pool.Exec(ctx, query, inst.TeamID, inst.EnterpriseID, blob); err != nil {
		return fmt.Errorf("upsert installation: %w", err)
	}
	return nil
}
