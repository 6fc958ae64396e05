// Package metastore persists structured document metadata in SQLite: one row
// per (document, version), a latest pointer per document, and chunk reference
// rows linking back to blob storage. Writes are idempotent so the persist
// stage can re-run safely after redelivery.
package metastore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"docflow/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current metadata schema version. Bump this when the
// schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("metadata schema version mismatch")

// Store manages document metadata persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Version is one persisted snapshot of a document's extracted metadata.
type Version struct {
	DocumentID          string
	Version             int
	ClientName          string
	ContentSHA256       string
	TextKey             string
	EmbeddingsPrefix    string
	ChunksCreated       int
	EmbeddingsPersisted int
	DataJSON            string
	ValidationJSON      string
	ValidationPassed    bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ChunkRef links one chunk index to its blob key.
type ChunkRef struct {
	Index   int
	BlobKey string
}

// Open initializes or connects to the metadata database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.MetadataDatabasePath())
}

// OpenPath initializes or connects to a metadata database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the location of the metadata database file.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to recreate)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// PutVersion writes a version row. Replays with the same (document_id,
// version) overwrite in place, which is what makes the persist stage
// idempotent.
func (s *Store) PutVersion(ctx context.Context, v *Version) error {
	if v == nil {
		return errors.New("version is nil")
	}
	if v.DocumentID == "" || v.Version <= 0 {
		return fmt.Errorf("version row needs document id and positive version, got %q v%d", v.DocumentID, v.Version)
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO document_versions (
            document_id, version, client_name, content_sha256, text_key,
            embeddings_prefix, chunks_created, embeddings_persisted,
            data_json, validation_json, validation_passed, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.DocumentID,
		v.Version,
		v.ClientName,
		v.ContentSHA256,
		v.TextKey,
		v.EmbeddingsPrefix,
		v.ChunksCreated,
		v.EmbeddingsPersisted,
		v.DataJSON,
		v.ValidationJSON,
		boolToInt(v.ValidationPassed),
		v.CreatedAt.Format(time.RFC3339Nano),
		v.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put version: %w", err)
	}
	return nil
}

// UpdateLatest advances the latest pointer for a document. The pointer only
// moves forward: an absent row is always written, an existing row only when
// the incoming updated_at is not older. Correct under out-of-order concurrent
// version writes.
func (s *Store) UpdateLatest(ctx context.Context, documentID string, version int, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO latest_pointers (document_id, version, updated_at)
         VALUES (?, ?, ?)
         ON CONFLICT(document_id) DO UPDATE SET
             version = excluded.version,
             updated_at = excluded.updated_at
         WHERE excluded.updated_at >= latest_pointers.updated_at`,
		documentID,
		version,
		updatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("update latest pointer: %w", err)
	}
	return nil
}

// PutChunkRefs upserts the chunk reference rows for a document.
func (s *Store) PutChunkRefs(ctx context.Context, documentID string, refs []ChunkRef) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk refs tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunk_refs (document_id, chunk_index, blob_key) VALUES (?, ?, ?)`,
			documentID, ref.Index, ref.BlobKey,
		); err != nil {
			return fmt.Errorf("put chunk ref %d: %w", ref.Index, err)
		}
	}
	return tx.Commit()
}

// ChunkRefs returns the chunk references for a document in index order.
func (s *Store) ChunkRefs(ctx context.Context, documentID string) ([]ChunkRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, blob_key FROM chunk_refs WHERE document_id = ? ORDER BY chunk_index`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunk refs: %w", err)
	}
	defer rows.Close()

	var refs []ChunkRef
	for rows.Next() {
		var ref ChunkRef
		if err := rows.Scan(&ref.Index, &ref.BlobKey); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// NextVersion returns the version number a fresh persist run should use.
func (s *Store) NextVersion(ctx context.Context, documentID string) (int, error) {
	var maxVersion sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM document_versions WHERE document_id = ?`,
		documentID).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return int(maxVersion.Int64) + 1, nil
}

// FindVersionByContent returns the version number already recorded for this
// exact content, or 0 when none exists. Redelivered persist runs use this to
// avoid minting a second version for the same payload.
func (s *Store) FindVersionByContent(ctx context.Context, documentID, contentSHA256 string) (int, error) {
	if contentSHA256 == "" {
		return 0, nil
	}
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM document_versions WHERE document_id = ? AND content_sha256 = ? ORDER BY version LIMIT 1`,
		documentID, contentSHA256).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find version by content: %w", err)
	}
	return version, nil
}

const versionColumns = `document_id, version, client_name, content_sha256, text_key,
    embeddings_prefix, chunks_created, embeddings_persisted,
    data_json, validation_json, validation_passed, created_at, updated_at`

// Latest returns the version the latest pointer names, or nil when the
// document is unknown.
func (s *Store) Latest(ctx context.Context, documentID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions
         WHERE document_id = ?
           AND version = (SELECT version FROM latest_pointers WHERE document_id = ?)`,
		documentID, documentID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	return v, nil
}

// Versions returns all stored versions of a document, newest first.
func (s *Store) Versions(ctx context.Context, documentID string) ([]*Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions WHERE document_id = ? ORDER BY version DESC`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

// ByClient returns the latest version of every document for a client.
func (s *Store) ByClient(ctx context.Context, clientName string) ([]*Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions dv
         WHERE client_name = ?
           AND version = (SELECT version FROM latest_pointers lp WHERE lp.document_id = dv.document_id)
         ORDER BY document_id`,
		clientName)
	if err != nil {
		return nil, fmt.Errorf("query by client: %w", err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*Version, error) {
	var (
		v                Version
		validationPassed int
		createdAt        string
		updatedAt        string
	)
	if err := row.Scan(
		&v.DocumentID,
		&v.Version,
		&v.ClientName,
		&v.ContentSHA256,
		&v.TextKey,
		&v.EmbeddingsPrefix,
		&v.ChunksCreated,
		&v.EmbeddingsPersisted,
		&v.DataJSON,
		&v.ValidationJSON,
		&validationPassed,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	v.ValidationPassed = validationPassed != 0

	var err error
	if v.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if v.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &v, nil
}

func collectVersions(rows *sql.Rows) ([]*Version, error) {
	var versions []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
