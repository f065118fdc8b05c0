package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowlattice/dispatcher/dispatch"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a relational dispatch.Store for production deployments
// spanning multiple worker processes, grounded in the teacher's
// MySQLStore (graph/store/mysql.go) with the same connection-pool
// tuning, migrated to the lattice/electron/electron_dependency schema.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL/MariaDB connection using dsn (e.g.
// "user:pass@tcp(localhost:3306)/dispatcher?parseTime=true") and
// migrates its schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lattice (
			dispatch_id VARCHAR(64) PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			start_time DATETIME NULL,
			end_time DATETIME NULL,
			error TEXT,
			result JSON
		)`,
		`CREATE TABLE IF NOT EXISTS electron (
			dispatch_id VARCHAR(64) NOT NULL,
			node_id INT NOT NULL,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			value JSON,
			error TEXT,
			stdout MEDIUMTEXT,
			stderr MEDIUMTEXT,
			start_time DATETIME NULL,
			end_time DATETIME NULL,
			PRIMARY KEY (dispatch_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS electron_dependency (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			dispatch_id VARCHAR(64) NOT NULL,
			parent_node_id INT NOT NULL,
			child_node_id INT NOT NULL,
			edge_name VARCHAR(255) NOT NULL,
			INDEX idx_dispatch (dispatch_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

// SaveLattice upserts a workflow's durable record.
func (s *MySQLStore) SaveLattice(ctx context.Context, rec dispatch.LatticeRecord) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("store: marshal lattice result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lattice (dispatch_id, status, start_time, end_time, error, result)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status=VALUES(status), start_time=VALUES(start_time),
			end_time=VALUES(end_time), error=VALUES(error), result=VALUES(result)
	`, rec.DispatchID, rec.Status, rec.StartTime, rec.EndTime, rec.Error, string(result))
	if err != nil {
		return fmt.Errorf("store: save lattice: %w", err)
	}
	return nil
}

// SaveElectron upserts a single node's durable record.
func (s *MySQLStore) SaveElectron(ctx context.Context, rec dispatch.ElectronRecord) error {
	value, err := json.Marshal(rec.Value)
	if err != nil {
		return fmt.Errorf("store: marshal electron value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO electron (dispatch_id, node_id, name, status, value, error, stdout, stderr, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name=VALUES(name), status=VALUES(status), value=VALUES(value),
			error=VALUES(error), stdout=VALUES(stdout), stderr=VALUES(stderr),
			start_time=VALUES(start_time), end_time=VALUES(end_time)
	`, rec.DispatchID, rec.NodeID, rec.Name, rec.Status, string(value), rec.Error, rec.Stdout, rec.Stderr, rec.StartTime, rec.EndTime)
	if err != nil {
		return fmt.Errorf("store: save electron: %w", err)
	}
	return nil
}

// SaveElectronDependency appends one edge record.
func (s *MySQLStore) SaveElectronDependency(ctx context.Context, rec dispatch.ElectronDependencyRecord) error {
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
func (s *MySQLStore) LoadLattice(ctx context.Context, dispatchID string) (dispatch.LatticeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dispatch_id, status, start_time, end_time, error, result
		FROM lattice WHERE dispatch_id = ?
	`, dispatchID)

	var rec dispatch.LatticeRecord
	var startTime, endTime sql.NullTime
	var resultJSON sql.NullString
	if err := row.Scan(&rec.DispatchID, &rec.Status, &startTime, &endTime, &rec.Error, &resultJSON); err != nil {
		if err == sql.ErrNoRows {
			return dispatch.LatticeRecord{}, ErrNotFound
		}
		return dispatch.LatticeRecord{}, fmt.Errorf("store: load lattice: %w", err)
	}
	rec.StartTime = startTime.Time
	rec.EndTime = endTime.Time
	if resultJSON.Valid && resultJSON.String != "" {
		_ = json.Unmarshal([]byte(resultJSON.String), &rec.Result)
	}
	return rec, nil
}
