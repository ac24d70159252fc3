package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// busyTimeoutMillis makes SQLite retry internally on SQLITE_BUSY instead
// of failing AddChunkCAS's transaction outright when two workers race for
// the write lock on the same session row.
const busyTimeoutMillis = 5000

// SQLiteStore implements Store with an embedded, pure-Go SQLite database.
// Chunk indices are stored as a JSON array in one column; AddChunkCAS
// relies on SQLite's single-writer transaction serialization for atomicity
// rather than an in-process mutex, so it is safe across multiple server
// processes sharing one database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if absent) the database at dsn, applies
// migrations, and configures WAL mode. Use "file::memory:?cache=shared"
// for tests.
func NewSQLiteStore(ctx context.Context, dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening session store database", "dsn", dsn)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite %s: %w", dsn, err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	return nil
}

const (
	sqlUpsertSession = `INSERT INTO upload_sessions
		(upload_id, file_name, file_type, file_size, file_hash,
		 chunk_size, total_chunks, received_chunks, complete, final_path,
		 created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(upload_id) DO UPDATE SET
			received_chunks = excluded.received_chunks,
			complete = excluded.complete,
			final_path = excluded.final_path,
			expires_at = excluded.expires_at`

	sqlGetSession = `SELECT upload_id, file_name, file_type, file_size, file_hash,
		chunk_size, total_chunks, received_chunks, complete, final_path,
		created_at, expires_at
		FROM upload_sessions WHERE upload_id = ? AND expires_at > ?`

	sqlGetSessionForUpdate = `SELECT upload_id, file_name, file_type, file_size, file_hash,
		chunk_size, total_chunks, received_chunks, complete, final_path,
		created_at, expires_at
		FROM upload_sessions WHERE upload_id = ?`

	sqlFindByHash = `SELECT upload_id FROM upload_sessions
		WHERE file_hash = ? AND expires_at > ? LIMIT 1`

	sqlDeleteSession = `DELETE FROM upload_sessions WHERE upload_id = ?`

	sqlListExpired = `SELECT upload_id, file_name, file_type, file_size, file_hash,
		chunk_size, total_chunks, received_chunks, complete, final_path,
		created_at, expires_at
		FROM upload_sessions WHERE expires_at <= ?`
)

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, record *SessionRecord, ttl time.Duration) error {
	chunks, err := marshalChunks(record.ReceivedChunks)
	if err != nil {
		return fmt.Errorf("store: marshaling received_chunks for %s: %w", record.UploadID, err)
	}

	_, err = s.db.ExecContext(ctx, sqlUpsertSession,
		record.UploadID, record.FileInfo.Name, record.FileInfo.Type, record.FileInfo.Size, record.FileInfo.Hash,
		record.ChunkSize, record.TotalChunks, chunks, record.Complete, record.FinalPath,
		record.CreatedAt.Unix(), time.Now().Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: upserting session %s: %w", record.UploadID, err)
	}

	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, uploadID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, sqlGetSession, uploadID, time.Now().Unix())

	rec, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	return &rec.SessionRecord, nil
}

// FindByFileHash implements Store.
func (s *SQLiteStore) FindByFileHash(ctx context.Context, hash string) (*SessionRecord, error) {
	var uploadID string

	err := s.db.QueryRowContext(ctx, sqlFindByHash, hash, time.Now().Unix()).Scan(&uploadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: finding session by file_hash: %w", err)
	}

	return s.Get(ctx, uploadID)
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, uploadID string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteSession, uploadID); err != nil {
		return fmt.Errorf("store: deleting session %s: %w", uploadID, err)
	}

	return nil
}

// ListExpired implements Store.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]*SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlListExpired, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: listing expired sessions: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord

	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, &rec.SessionRecord)
	}

	return records, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AddChunkCAS implements CASStore. The read and write happen inside one
// transaction; SQLite serializes concurrent writers (busy_timeout causes
// a blocked writer to retry rather than fail), so no received index is
// ever lost even when multiple server processes share this database.
func (s *SQLiteStore) AddChunkCAS(ctx context.Context, uploadID string, chunkIndex int64) (*SessionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: beginning CAS transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, sqlGetSessionForUpdate, uploadID)

	rec, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	if time.Now().After(time.Unix(rec.createdExpiresAt, 0)) {
		return nil, ErrNotFound
	}

	if rec.ReceivedChunks == nil {
		rec.ReceivedChunks = make(map[int64]bool)
	}

	rec.ReceivedChunks[chunkIndex] = true

	chunks, err := marshalChunks(rec.ReceivedChunks)
	if err != nil {
		return nil, fmt.Errorf("store: marshaling received_chunks for %s: %w", uploadID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE upload_sessions SET received_chunks = ? WHERE upload_id = ?`,
		chunks, uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: updating received_chunks for %s: %w", uploadID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: committing CAS update for %s: %w", uploadID, err)
	}

	return &rec.SessionRecord, nil
}

// scannedSession carries the row's expiry alongside the public
// SessionRecord, since expiry is store bookkeeping rather than part of
// the record's own fields.
type scannedSession struct {
	SessionRecord
	createdExpiresAt int64
}

func scanSession(row interface{ Scan(...any) error }) (*scannedSession, error) {
	var (
		rec          scannedSession
		hash         sql.NullString
		finalPath    sql.NullString
		chunksJSON   string
		completeInt  int
		createdAtSec int64
		expiresAtSec int64
	)

	err := row.Scan(
		&rec.UploadID, &rec.FileInfo.Name, &rec.FileInfo.Type, &rec.FileInfo.Size, &hash,
		&rec.ChunkSize, &rec.TotalChunks, &chunksJSON, &completeInt, &finalPath,
		&createdAtSec, &expiresAtSec,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: scanning session row: %w", err)
	}

	rec.FileInfo.Hash = hash.String
	rec.FinalPath = finalPath.String
	rec.Complete = completeInt != 0
	rec.CreatedAt = time.Unix(createdAtSec, 0).UTC()
	rec.createdExpiresAt = expiresAtSec

	chunks, err := unmarshalChunks(chunksJSON)
	if err != nil {
		return nil, fmt.Errorf("store: unmarshaling received_chunks: %w", err)
	}

	rec.ReceivedChunks = chunks

	return &rec, nil
}

func marshalChunks(chunks map[int64]bool) (string, error) {
	indices := make([]int64, 0, len(chunks))
	for i, present := range chunks {
		if present {
			indices = append(indices, i)
		}
	}

	data, err := json.Marshal(indices)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func unmarshalChunks(data string) (map[int64]bool, error) {
	if strings.TrimSpace(data) == "" {
		return make(map[int64]bool), nil
	}

	var indices []int64
	if err := json.Unmarshal([]byte(data), &indices); err != nil {
		return nil, err
	}

	chunks := make(map[int64]bool, len(indices))
	for _, i := range indices {
		chunks[i] = true
	}

	return chunks, nil
}

var _ Store = (*SQLiteStore)(nil)
var _ CASStore = (*SQLiteStore)(nil)
