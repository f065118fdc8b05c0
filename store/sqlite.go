package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flowlattice/dispatcher/dispatch"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file dispatch.Store, grounded in the teacher's
// SQLiteStore (graph/store/sqlite.go), with the generic step/checkpoint
// schema replaced by the lattice/electron/electron_dependency tables the
// durable record shapes name.
//
// WAL mode is enabled for concurrent readers; SQLite itself only ever
// allows one writer, matching the single-connection pool this store
// configures.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and migrates its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lattice (
			dispatch_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			error TEXT,
			result TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS electron (
			dispatch_id TEXT NOT NULL,
			node_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			value TEXT,
			error TEXT,
			stdout TEXT,
			stderr TEXT,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			PRIMARY KEY (dispatch_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS electron_dependency (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dispatch_id TEXT NOT NULL,
			parent_node_id INTEGER NOT NULL,
			child_node_id INTEGER NOT NULL,
			edge_name TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveLattice upserts a workflow's durable record.
func (s *SQLiteStore) SaveLattice(ctx context.Context, rec dispatch.LatticeRecord) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("store: marshal lattice result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lattice (dispatch_id, status, start_time, end_time, error, result)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(dispatch_id) DO UPDATE SET
			status=excluded.status, start_time=excluded.start_time,
			end_time=excluded.end_time, error=excluded.error, result=excluded.result
	`, rec.DispatchID, rec.Status, rec.StartTime, rec.EndTime, rec.Error, string(result))
	if err != nil {
		return fmt.Errorf("store: save lattice: %w", err)
	}
	return nil
}

// SaveElectron upserts a single node's durable record.
func (s *SQLiteStore) SaveElectron(ctx context.Context, rec dispatch.ElectronRecord) error {
	value, err := json.Marshal(rec.Value)
	if err != nil {
		return fmt.Errorf("store: marshal electron value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO electron (dispatch_id, node_id, name, status, value, error, stdout, stderr, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dispatch_id, node_id) DO UPDATE SET
			name=excluded.name, status=excluded.status, value=excluded.value,
			error=excluded.error, stdout=excluded.stdout, stderr=excluded.stderr,
			start_time=excluded.start_time, end_time=excluded.end_time
	`, rec.DispatchID, rec.NodeID, rec.Name, rec.Status, string(value), rec.Error, rec.Stdout, rec.Stderr, rec.StartTime, rec.EndTime)
	if err != nil {
		return fmt.Errorf("store: save electron: %w", err)
	}
	return nil
}

// SaveElectronDependency appends one edge record.
func (s *SQLiteStore) SaveElectronDependency(ctx context.Context, rec dispatch.ElectronDependencyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO electron_dependency (dispatch_id, parent_node_id, child_node_id, edge_name)
		VALUES (?, ?, ?, ?)
	`, rec.DispatchID, rec.ParentNodeID, rec.ChildNodeID, rec.EdgeName)
	if err != nil {
		return fmt.Errorf("store: save electron dependency: %w", err)
	}
	return nil
}

// LoadLattice returns the durable record for dispatchID, or ErrNotFound.
func (s *SQLiteStore) LoadLattice(ctx context.Context, dispatchID string) (dispatch.LatticeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dispatch_id, status, start_time, end_time, error, result
		FROM lattice WHERE dispatch_id = ?
	`, dispatchID)

	var rec dispatch.LatticeRecord
	var startTime, endTime sql.NullTime
	var resultJSON string
	if err := row.Scan(&rec.DispatchID, &rec.Status, &startTime, &endTime, &rec.Error, &resultJSON); err != nil {
		if err == sql.ErrNoRows {
			return dispatch.LatticeRecord{}, ErrNotFound
		}
		return dispatch.LatticeRecord{}, fmt.Errorf("store: load lattice: %w", err)
	}
	rec.StartTime = startTime.Time
	rec.EndTime = endTime.Time
	if resultJSON != "" {
		_ = json.Unmarshal([]byte(resultJSON), &rec.Result)
	}
	return rec, nil
}
