package reference

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists the reference catalog and the analysis audit log in SQLite.
// The catalog itself is served from memory; the store exists so the shipped
// dataset and every scored request survive restarts and can be inspected
// with ordinary SQL tooling.
type Store struct {
	*sql.DB
	pool     *connectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

type connectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

func newConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *connectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &connectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

func (cp *connectionPool) stats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"max_lifetime_seconds": cp.maxLifetime.Seconds(),
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}
}

// AnalysisRecord is one row of the audit log: what was asked, what came back
// on top, and when.
type AnalysisRecord struct {
	ID             string    `json:"id"`
	RequestJSON    string    `json:"request"`
	TopCode        string    `json:"top_code,omitempty"`
	TopProbability float64   `json:"top_probability"`
	CandidateCount int       `json:"candidate_count"`
	ClientIP       string    `json:"client_ip,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewStore opens (creating if needed) the SQLite database under dataDir,
// runs migrations and prepares the hot statements.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "kinship.db")
	connStr := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool := newConnectionPool(db, 25, 5, 5*time.Minute)

	store := &Store{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := store.initPreparedStatements(); err != nil {
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Reference store initialized",
		"path", dbPath,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return store, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS relationships (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			abbreviation TEXT NOT NULL,
			average_cm REAL NOT NULL,
			min_cm REAL NOT NULL,
			max_cm REAL NOT NULL,
			generation INTEGER,
			position INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS distributions (
			code TEXT NOT NULL,
			bucket_range TEXT NOT NULL,
			percentage REAL NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (code, position),
			FOREIGN KEY (code) REFERENCES relationships(code)
		)`,

		`CREATE TABLE IF NOT EXISTS analyses (
			id TEXT PRIMARY KEY,
			request TEXT NOT NULL,
			top_code TEXT,
			top_probability REAL NOT NULL,
			candidate_count INTEGER NOT NULL,
			client_ip TEXT,
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_relationships_range ON relationships(min_cm, max_cm)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_top_code ON analyses(top_code)`,
	}

	for _, query := range queries {
		if _, err := s.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

func (s *Store) initPreparedStatements() error {
	statements := map[string]string{
		"upsert_relationship": `INSERT INTO relationships (code, name, abbreviation, average_cm, min_cm, max_cm, generation, position, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			abbreviation = excluded.abbreviation,
			average_cm = excluded.average_cm,
			min_cm = excluded.min_cm,
			max_cm = excluded.max_cm,
			generation = excluded.generation,
			position = excluded.position,
			updated_at = excluded.updated_at`,

		"insert_analysis": `INSERT INTO analyses (id, request, top_code, top_probability, candidate_count, client_ip, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,

		"recent_analyses": `SELECT id, request, top_code, top_probability, candidate_count, client_ip, created_at
			FROM analyses ORDER BY created_at DESC LIMIT ?`,

		"cleanup_analyses": `DELETE FROM analyses WHERE created_at < ?`,
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for name, query := range statements {
		stmt, err := s.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		s.prepared[name] = stmt
	}

	return nil
}

func (s *Store) statement(name string) (*sql.Stmt, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stmt, exists := s.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}
	return stmt, nil
}

// Seed writes the in-memory catalog into the relationships and distributions
// tables. It runs in one transaction so a crash mid-seed never leaves a
// half-written dataset.
func (s *Store) Seed(ctx context.Context, catalog *Catalog) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	upsert, err := s.statement("upsert_relationship")
	if err != nil {
		return err
	}
	upsert = tx.StmtContext(ctx, upsert)

	if _, err := tx.ExecContext(ctx, `DELETE FROM distributions`); err != nil {
		return fmt.Errorf("failed to clear distributions: %w", err)
	}

	now := time.Now().UTC()
	for i, p := range catalog.Profiles() {
		var generation interface{}
		if p.Generation != nil {
			generation = *p.Generation
		}
		if _, err := upsert.ExecContext(ctx,
			p.Code, p.Name, p.Abbreviation, p.AverageCM, p.MinCM, p.MaxCM,
			generation, i, now); err != nil {
			return fmt.Errorf("failed to seed relationship %s: %w", p.Code, err)
		}

		for j, bucket := range p.Histogram {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO distributions (code, bucket_range, percentage, position) VALUES (?, ?, ?, ?)`,
				p.Code, bucket.Range, bucket.Percentage, j); err != nil {
				return fmt.Errorf("failed to seed distribution for %s: %w", p.Code, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}

	slog.Info("Reference dataset seeded", "profiles", catalog.Len())
	return nil
}

// RecordAnalysis appends one row to the audit log and returns its ID.
func (s *Store) RecordAnalysis(ctx context.Context, requestJSON, topCode string, topProbability float64, candidateCount int, clientIP string) (string, error) {
	stmt, err := s.statement("insert_analysis")
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	var top interface{}
	if topCode != "" {
		top = topCode
	}
	if _, err := stmt.ExecContext(ctx, id, requestJSON, top, topProbability, candidateCount, clientIP, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to record analysis: %w", err)
	}
	return id, nil
}

// RecentAnalyses returns the newest limit audit-log rows.
func (s *Store) RecentAnalyses(ctx context.Context, limit int) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	stmt, err := s.statement("recent_analyses")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent analyses: %w", err)
	}
	defer rows.Close()

	records := make([]AnalysisRecord, 0, limit)
	for rows.Next() {
		var r AnalysisRecord
		var topCode sql.NullString
		var clientIP sql.NullString
		if err := rows.Scan(&r.ID, &r.RequestJSON, &topCode, &r.TopProbability, &r.CandidateCount, &clientIP, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis row: %w", err)
		}
		r.TopCode = topCode.String
		r.ClientIP = clientIP.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// CleanupAnalyses deletes audit-log rows older than the retention window and
// returns how many were removed.
func (s *Store) CleanupAnalyses(ctx context.Context, olderThan time.Duration) (int64, error) {
	stmt, err := s.statement("cleanup_analyses")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := stmt.ExecContext(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up analyses: %w", err)
	}
	return res.RowsAffected()
}

// MarshalRequest renders a request for the audit log. Errors are impossible
// for the request type's field set, but the signature keeps callers honest.
func MarshalRequest(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request for audit log: %w", err)
	}
	return string(raw), nil
}

// GetPoolStats exposes connection pool statistics for the diagnostics
// endpoint.
func (s *Store) GetPoolStats() map[string]interface{} {
	return s.pool.stats()
}

// Close releases the prepared statements and the underlying connection.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for name, stmt := range s.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	s.prepared = make(map[string]*sql.Stmt)

	return s.DB.Close()
}
