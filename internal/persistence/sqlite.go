// Package persistence stores retriever snapshots in SQLite.
//
// A store holds exactly one record set. Save replaces it in a single
// transaction and Load returns it in insertion order, so a restored engine
// scores and breaks ties exactly as the saved one did.
package persistence

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
	"github.com/fyrsmithlabs/ctxgraph/internal/vectorindex"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

const schema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	seq        INTEGER PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	content    TEXT NOT NULL,
	weight     REAL NOT NULL,
	metadata   TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	seq       INTEGER PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	kind      TEXT NOT NULL,
	weight    REAL NOT NULL,
	metadata  TEXT,
	UNIQUE(source_id, target_id, kind)
);

CREATE TABLE IF NOT EXISTS vectors (
	seq       INTEGER PRIMARY KEY,
	id        TEXT NOT NULL UNIQUE,
	embedding BLOB NOT NULL,
	text      TEXT NOT NULL,
	metadata  TEXT,
	source    TEXT NOT NULL DEFAULT ''
);
`

// Info describes the stored snapshot.
type Info struct {
	ID        string    `json:"id"`
	SavedAt   time.Time `json:"saved_at"`
	Dimension int       `json:"dimension"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
	Vectors   int       `json:"vectors"`
}

// SQLiteStore persists one retriever snapshot.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway store.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, errors.New("database path is required")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; an in-memory database is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored record set with snap in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap retriever.Snapshot) (Info, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Info{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"nodes", "edges", "vectors", "snapshot_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return Info{}, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := insertNodes(ctx, tx, snap.Nodes); err != nil {
		return Info{}, err
	}
	if err := insertEdges(ctx, tx, snap.Edges); err != nil {
		return Info{}, err
	}
	if err := insertVectors(ctx, tx, snap.Vectors); err != nil {
		return Info{}, err
	}

	info := Info{
		ID:        uuid.New().String(),
		SavedAt:   time.Now().UTC(),
		Dimension: snap.Dimension,
		Nodes:     len(snap.Nodes),
		Edges:     len(snap.Edges),
		Vectors:   len(snap.Vectors),
	}
	meta := map[string]string{
		"id":        info.ID,
		"saved_at":  info.SavedAt.Format(time.RFC3339Nano),
		"dimension": strconv.Itoa(info.Dimension),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return Info{}, fmt.Errorf("write snapshot meta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Info{}, fmt.Errorf("commit snapshot: %w", err)
	}

	s.logger.Info("snapshot saved",
		zap.String("snapshot_id", info.ID),
		zap.Int("nodes", info.Nodes),
		zap.Int("edges", info.Edges),
		zap.Int("vectors", info.Vectors))
	return info, nil
}

// Load returns the stored record set in insertion order.
func (s *SQLiteStore) Load(ctx context.Context) (retriever.Snapshot, error) {
	info, err := s.Info(ctx)
	if err != nil {
		return retriever.Snapshot{}, err
	}

	snap := retriever.Snapshot{Dimension: info.Dimension}
	if snap.Nodes, err = s.loadNodes(ctx); err != nil {
		return retriever.Snapshot{}, err
	}
	if snap.Edges, err = s.loadEdges(ctx); err != nil {
		return retriever.Snapshot{}, err
	}
	if snap.Vectors, err = s.loadVectors(ctx); err != nil {
		return retriever.Snapshot{}, err
	}

	s.logger.Info("snapshot loaded",
		zap.String("snapshot_id", info.ID),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("edges", len(snap.Edges)),
		zap.Int("vectors", len(snap.Vectors)))
	return snap, nil
}

// Info describes the stored snapshot, or returns ErrNoSnapshot.
func (s *SQLiteStore) Info(ctx context.Context) (Info, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM snapshot_meta`)
	if err != nil {
		return Info{}, fmt.Errorf("read snapshot meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Info{}, fmt.Errorf("scan snapshot meta: %w", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return Info{}, fmt.Errorf("read snapshot meta: %w", err)
	}
	if meta["id"] == "" {
		return Info{}, ErrNoSnapshot
	}

	info := Info{ID: meta["id"]}
	if info.SavedAt, err = time.Parse(time.RFC3339Nano, meta["saved_at"]); err != nil {
		return Info{}, fmt.Errorf("parse saved_at: %w", err)
	}
	if info.Dimension, err = strconv.Atoi(meta["dimension"]); err != nil {
		return Info{}, fmt.Errorf("parse dimension: %w", err)
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"nodes", &info.Nodes},
		{"edges", &info.Edges},
		{"vectors", &info.Vectors},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return Info{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return info, nil
}

func insertNodes(ctx context.Context, tx *sql.Tx, nodes []graph.Node) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (seq, id, kind, content, weight, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare node insert: %w", err)
	}
	defer stmt.Close()

	for i, n := range nodes {
		meta, err := marshalMetadata(n.Metadata)
		if err != nil {
			return fmt.Errorf("node %q: %w", n.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, n.ID, string(n.Kind), n.Content, n.Weight, meta,
			n.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert node %q: %w", n.ID, err)
		}
	}
	return nil
}

func insertEdges(ctx context.Context, tx *sql.Tx, edges []graph.Edge) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO edges (seq, source_id, target_id, kind, weight, metadata) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range edges {
		meta, err := marshalMetadata(e.Metadata)
		if err != nil {
			return fmt.Errorf("edge %s->%s: %w", e.SourceID, e.TargetID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, e.SourceID, e.TargetID, string(e.Kind), e.Weight, meta); err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", e.SourceID, e.TargetID, err)
		}
	}
	return nil
}

func insertVectors(ctx context.Context, tx *sql.Tx, entries []vectorindex.Entry) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vectors (seq, id, embedding, text, metadata, source) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare vector insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		meta, err := marshalMetadata(e.Metadata)
		if err != nil {
			return fmt.Errorf("vector %q: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, e.ID, encodeEmbedding(e.Embedding), e.Text, meta, e.Source); err != nil {
			return fmt.Errorf("insert vector %q: %w", e.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadNodes(ctx context.Context) ([]graph.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, content, weight, metadata, created_at FROM nodes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var (
			n         graph.Node
			kind      string
			meta      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&n.ID, &kind, &n.Content, &n.Weight, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Kind = graph.NodeKind(kind)
		if n.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		if n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("node %q created_at: %w", n.ID, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *SQLiteStore) loadEdges(ctx context.Context) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, kind, weight, metadata FROM edges ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var (
			e    graph.Edge
			kind string
			meta sql.NullString
		)
		if err := rows.Scan(&e.SourceID, &e.TargetID, &kind, &e.Weight, &meta); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Kind = graph.EdgeKind(kind)
		if e.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", e.SourceID, e.TargetID, err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *SQLiteStore) loadVectors(ctx context.Context) ([]vectorindex.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding, text, metadata, source FROM vectors ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var entries []vectorindex.Entry
	for rows.Next() {
		var (
			e    vectorindex.Entry
			blob []byte
			meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &blob, &e.Text, &meta, &e.Source); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		if e.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("vector %q: %w", e.ID, err)
		}
		if e.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, fmt.Errorf("vector %q: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// encodeEmbedding packs v as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}

func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMetadata(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}
