// Package database provides the storage layer for treesnap.
//
// It implements the Store interface using SQLite in WAL mode: a mirror of
// the live component tree that exports read from, an archive of finished
// exports, and a pending-write log that makes ingestion crash safe. The
// DBService struct is the primary entry point for all database operations.
package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Mr-Dark-debug/treesnap/internal/export"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrExportNotFound is returned for an unknown export id.
var ErrExportNotFound = errors.New("export not found")

// Store defines the persistence operations of the mirror daemon and the
// export archive. It is also a tree.Store, so exports can read from it
// directly.
type Store interface {
	tree.Store
	tree.CapabilityReporter

	// UpsertNode inserts or replaces a node.
	UpsertNode(ctx context.Context, n *tree.Node) error
	// BatchUpsertNodes inserts or replaces several nodes in one transaction.
	BatchUpsertNodes(ctx context.Context, nodes []*tree.Node) error
	// RemoveNodes deletes nodes; unknown ids are ignored.
	RemoveNodes(ctx context.Context, ids []tree.ID) error
	// CountNodes returns the number of mirrored nodes.
	CountNodes(ctx context.Context) (int, error)
	// SetCapabilities records what the connected runtime supports.
	SetCapabilities(ctx context.Context, c tree.Capabilities) error

	// RecordExport archives a finished export.
	RecordExport(ctx context.Context, s *export.Snapshot) error
	// ListExports returns archived exports, most recent first, without text.
	ListExports(ctx context.Context, filter ExportFilter) ([]*export.Snapshot, error)
	// GetExport returns one archived export including its text.
	GetExport(ctx context.Context, id string) (*export.Snapshot, error)

	// WritePendingPayload stores a raw payload for crash recovery.
	WritePendingPayload(payload []byte) (int64, error)
	// CommitPendingPayload marks a pending write as committed.
	CommitPendingPayload(writeID int64) error
	// GetPendingPayloads returns all payloads that haven't been committed.
	GetPendingPayloads() ([]PendingWrite, error)

	// Close gracefully shuts down the database connection.
	Close() error
}

// ExportFilter defines query parameters for the export listing.
type ExportFilter struct {
	Root  *tree.ID `json:"root,omitempty"`
	Limit int      `json:"limit"`
}

// PendingWrite represents an uncommitted ingestion payload.
type PendingWrite struct {
	WriteID   int64  `json:"write_id"`
	Payload   []byte `json:"payload"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

const capabilitiesKey = "capabilities"

// ============================================================
// DBService Implementation
// ============================================================

// DBService implements the Store interface using SQLite.
// It manages the database connection pool, prepared statements,
// and ensures thread-safe access through a read-write mutex.
type DBService struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	// Prepared statements for hot-path operations
	stmtUpsertNode    *sql.Stmt
	stmtRemoveNode    *sql.Stmt
	stmtGetNode       *sql.Stmt
	stmtInsertExport  *sql.Stmt
	stmtInsertPending *sql.Stmt
	stmtCommitPending *sql.Stmt
}

// NewDBService creates a new database service, initializes the schema,
// and prepares frequently-used statements.
//
// The path parameter specifies the SQLite database file location.
// Use ":memory:" for in-memory databases (useful for testing).
func NewDBService(path string) (*DBService, error) {
	// Enable WAL mode and other optimizations via DSN
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_cache_size=-64000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	svc := &DBService{
		db:   db,
		path: path,
	}

	if err := svc.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	if err := svc.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing statements: %w", err)
	}

	return svc, nil
}

// initSchema reads the embedded schema.sql and executes it.
func (s *DBService) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading embedded schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// prepareStatements creates prepared statements for frequently-used
// operations to minimize parsing overhead.
func (s *DBService) prepareStatements() error {
	var err error

	s.stmtUpsertNode, err = s.db.Prepare(`
		INSERT INTO nodes (node_id, kind, name, text, children, props, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			text = excluded.text,
			children = excluded.children,
			props = excluded.props,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("preparing UpsertNode: %w", err)
	}

	s.stmtRemoveNode, err = s.db.Prepare(`DELETE FROM nodes WHERE node_id = ?`)
	if err != nil {
		return fmt.Errorf("preparing RemoveNode: %w", err)
	}

	s.stmtGetNode, err = s.db.Prepare(`
		SELECT node_id, kind, name, text, children, props FROM nodes WHERE node_id = ?
	`)
	if err != nil {
		return fmt.Errorf("preparing GetNode: %w", err)
	}

	s.stmtInsertExport, err = s.db.Prepare(`
		INSERT INTO exports (export_id, root_id, created_at, kinds, style_calls, inspect_calls, duration_ns, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertExport: %w", err)
	}

	s.stmtInsertPending, err = s.db.Prepare(`
		INSERT INTO pending_writes (payload, status, created_at) VALUES (?, 'pending', ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing InsertPending: %w", err)
	}

	s.stmtCommitPending, err = s.db.Prepare(`
		UPDATE pending_writes SET status = 'committed', committed_at = ? WHERE write_id = ?
	`)
	if err != nil {
		return fmt.Errorf("preparing CommitPending: %w", err)
	}

	return nil
}

// ============================================================
// Tree Mirror
// ============================================================

// nodeColumns encodes the JSON columns of a node.
func nodeColumns(n *tree.Node) (text, children, props *string, err error) {
	if n.Kind == tree.KindText {
		text = &n.Text
	}
	if n.Children.Present() {
		b, err := json.Marshal(n.Children)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshaling children of %s: %w", n.ID, err)
		}
		str := string(b)
		children = &str
	}
	if n.Props != nil {
		b, err := json.Marshal(n.Props)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshaling props of %s: %w", n.ID, err)
		}
		str := string(b)
		props = &str
	}
	return text, children, props, nil
}

func upsert(ctx context.Context, stmt *sql.Stmt, n *tree.Node, now int64) error {
	text, children, props, err := nodeColumns(n)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, n.ID, n.Kind, n.Name, text, children, props, now); err != nil {
		return fmt.Errorf("upserting node %s: %w", n.ID, err)
	}
	return nil
}

// UpsertNode inserts or replaces a node.
func (s *DBService) UpsertNode(ctx context.Context, n *tree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return upsert(ctx, s.stmtUpsertNode, n, time.Now().UnixNano())
}

// BatchUpsertNodes inserts several nodes within a single transaction
// for improved throughput during batch ingestion.
func (s *DBService) BatchUpsertNodes(ctx context.Context, nodes []*tree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch node transaction: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt := tx.StmtContext(ctx, s.stmtUpsertNode)
	now := time.Now().UnixNano()
	for _, n := range nodes {
		if err := upsert(ctx, stmt, n, now); err != nil {
			return fmt.Errorf("batch %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch node transaction: %w", err)
	}
	return nil
}

// RemoveNodes deletes the given nodes in one transaction.
func (s *DBService) RemoveNodes(ctx context.Context, ids []tree.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning node removal transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.stmtRemoveNode)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("removing node %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing node removal transaction: %w", err)
	}
	return nil
}

// Get implements tree.Store.
func (s *DBService) Get(ctx context.Context, id tree.ID) (*tree.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		n                     tree.Node
		text, children, props sql.NullString
	)
	err := s.stmtGetNode.QueryRowContext(ctx, id).Scan(&n.ID, &n.Kind, &n.Name, &text, &children, &props)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, tree.ErrNodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying node %s: %w", id, err)
	}

	n.Text = text.String
	if children.Valid {
		if err := json.Unmarshal([]byte(children.String), &n.Children); err != nil {
			return nil, fmt.Errorf("decoding children of %s: %w", id, err)
		}
	}
	if props.Valid {
		n.Props = tree.NewProps()
		if err := json.Unmarshal([]byte(props.String), n.Props); err != nil {
			return nil, fmt.Errorf("decoding props of %s: %w", id, err)
		}
	}
	return &n, nil
}

// CountNodes returns the number of mirrored nodes.
func (s *DBService) CountNodes(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting nodes: %w", err)
	}
	return n, nil
}

// SetCapabilities records what the connected runtime supports.
func (s *DBService) SetCapabilities(ctx context.Context, c tree.Capabilities) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, capabilitiesKey, string(b))
	if err != nil {
		return fmt.Errorf("storing capabilities: %w", err)
	}
	return nil
}

// Capabilities implements tree.CapabilityReporter. Unknown or unreadable
// capabilities report nothing supported.
func (s *DBService) Capabilities() tree.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	var c tree.Capabilities
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, capabilitiesKey).Scan(&raw); err != nil {
		return c
	}
	// Non-fatal: capabilities only drive optional UI actions
	_ = json.Unmarshal([]byte(raw), &c)
	return c
}

// ============================================================
// Export Archive
// ============================================================

// RecordExport implements export.Recorder.
func (s *DBService) RecordExport(ctx context.Context, snap *export.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds, err := json.Marshal(snap.Kinds)
	if err != nil {
		return fmt.Errorf("marshaling kinds of export %s: %w", snap.ID, err)
	}
	_, err = s.stmtInsertExport.ExecContext(ctx,
		snap.ID, snap.Root, snap.CreatedAt.UnixNano(), string(kinds),
		snap.Calls.Style, snap.Calls.Inspect, int64(snap.Duration), snap.Text,
	)
	if err != nil {
		return fmt.Errorf("inserting export %s: %w", snap.ID, err)
	}
	return nil
}

// ListExports returns archived exports ordered by creation time
// descending (most recent first). Text is left empty.
func (s *DBService) ListExports(ctx context.Context, filter ExportFilter) ([]*export.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT export_id, root_id, created_at, kinds, style_calls, inspect_calls, duration_ns, '' FROM exports WHERE 1=1`
	args := make([]interface{}, 0)

	if filter.Root != nil {
		query += ` AND root_id = ?`
		args = append(args, *filter.Root)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else {
		query += ` LIMIT 100`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying exports: %w", err)
	}
	defer rows.Close()

	var snaps []*export.Snapshot
	for rows.Next() {
		snap, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// GetExport returns one archived export including its text.
func (s *DBService) GetExport(ctx context.Context, id string) (*export.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT export_id, root_id, created_at, kinds, style_calls, inspect_calls, duration_ns, body
		FROM exports WHERE export_id = ?
	`, id)
	snap, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export %s: %w", id, ErrExportNotFound)
	}
	return snap, err
}

// ============================================================
// Crash Recovery
// ============================================================

// WritePendingPayload stores a raw payload in the pending_writes table
// for crash recovery. Returns the write ID for later commitment.
func (s *DBService) WritePendingPayload(payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.stmtInsertPending.Exec(payload, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("writing pending payload: %w", err)
	}
	return result.LastInsertId()
}

// CommitPendingPayload marks a pending write as committed.
func (s *DBService) CommitPendingPayload(writeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	_, err := s.stmtCommitPending.Exec(now, writeID)
	if err != nil {
		return fmt.Errorf("committing pending payload %d: %w", writeID, err)
	}
	return nil
}

// GetPendingPayloads returns all uncommitted payloads for crash recovery.
func (s *DBService) GetPendingPayloads() ([]PendingWrite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT write_id, payload, status, created_at
		FROM pending_writes
		WHERE status = 'pending'
		ORDER BY write_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying pending payloads: %w", err)
	}
	defer rows.Close()

	var writes []PendingWrite
	for rows.Next() {
		var w PendingWrite
		if err := rows.Scan(&w.WriteID, &w.Payload, &w.Status, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning pending write: %w", err)
		}
		writes = append(writes, w)
	}
	return writes, rows.Err()
}

// Close gracefully shuts down the database, closing all prepared statements
// and the underlying connection pool.
func (s *DBService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts := []*sql.Stmt{
		s.stmtUpsertNode, s.stmtRemoveNode, s.stmtGetNode,
		s.stmtInsertExport, s.stmtInsertPending, s.stmtCommitPending,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}

// ============================================================
// Scan Helpers
// ============================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExport(row rowScanner) (*export.Snapshot, error) {
	var (
		snap           export.Snapshot
		createdAt, dur int64
		kinds          string
	)
	if err := row.Scan(
		&snap.ID, &snap.Root, &createdAt, &kinds,
		&snap.Calls.Style, &snap.Calls.Inspect, &dur, &snap.Text,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning export row: %w", err)
	}
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	snap.Duration = time.Duration(dur)
	if err := json.Unmarshal([]byte(kinds), &snap.Kinds); err != nil {
		return nil, fmt.Errorf("decoding kinds of export %s: %w", snap.ID, err)
	}
	return &snap, nil
}

var (
	_ Store           = (*DBService)(nil)
	_ export.Recorder = (*DBService)(nil)
)
