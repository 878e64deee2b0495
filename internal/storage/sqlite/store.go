package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/storefront-studio/internal/storage"
	"github.com/tjfontaine/storefront-studio/internal/storefront"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

// Store is a SQLite implementation of storage.Store
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// sessionRow is the sessions table row.
type sessionRow struct {
	ID        string         `db:"id"`
	ShopID    sql.NullString `db:"shop_id"`
	Status    string         `db:"status"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r sessionRow) record() *storage.SessionRecord {
	return &storage.SessionRecord{
		ID:        r.ID,
		ShopID:    r.ShopID.String,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// entryRow is the transcript_entries table row.
type entryRow struct {
	ID        string    `db:"id"`
	Origin    string    `db:"origin"`
	Text      string    `db:"text"`
	CreatedAt time.Time `db:"created_at"`
}

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			shop_id TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			session_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript_entries(session_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateSession(ctx context.Context, rec *storage.SessionRecord) error {
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = storage.StatusActive
	}

	query := `INSERT INTO sessions (id, shop_id, status, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ShopID, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.SessionRecord, error) {
	query := `SELECT id, shop_id, status, created_at, updated_at
	          FROM sessions WHERE id = ?`

	var row sessionRow
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return row.record(), nil
}

func (s *Store) UpdateSession(ctx context.Context, rec *storage.SessionRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	query := `UPDATE sessions SET shop_id = ?, status = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, rec.ShopID, rec.Status, rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("session %s: %w", rec.ID, storage.ErrNotFound)
	}

	return nil
}

func (s *Store) ListSessions(ctx context.Context, opts storage.ListOptions) ([]*storage.SessionRecord, error) {
	query := `SELECT id, shop_id, status, created_at, updated_at
	          FROM sessions WHERE (? = '' OR status = ?)
	          ORDER BY created_at DESC
	          LIMIT ? OFFSET ?`

	limit := opts.Limit
	if limit == 0 {
		limit = 100 // default limit
	}

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, opts.Status, opts.Status, limit, opts.Offset); err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	sessions := make([]*storage.SessionRecord, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.record())
	}

	return sessions, nil
}

// SaveTemplatePatch merges patch into the stored template inside a single
// transaction.
func (s *Store) SaveTemplatePatch(ctx context.Context, sessionID string, patch storefront.Configuration) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sessionExists(ctx, tx, sessionID); err != nil {
		return err
	}

	current, err := loadTemplate(ctx, tx, sessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(storefront.Merge(current, patch))
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO templates (session_id, data, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at;
	`, sessionID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetTemplate(ctx context.Context, sessionID string) (storefront.Configuration, error) {
	if err := sessionExists(ctx, s.db, sessionID); err != nil {
		return nil, err
	}

	tpl, err := loadTemplate(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		tpl = storefront.Configuration{}
	}
	return tpl, nil
}

func (s *Store) AppendEntries(ctx context.Context, sessionID string, entries ...transcript.Entry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sessionExists(ctx, tx, sessionID); err != nil {
		return err
	}

	query := `INSERT INTO transcript_entries (id, session_id, origin, text, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, query,
			e.ID, sessionID, string(e.Origin), e.Text, e.Timestamp); err != nil {
			return fmt.Errorf("failed to insert transcript entry: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return tx.Commit()
}

func (s *Store) ListEntries(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	if err := sessionExists(ctx, s.db, sessionID); err != nil {
		return nil, err
	}

	query := `SELECT id, origin, text, created_at
	          FROM transcript_entries WHERE session_id = ?
	          ORDER BY seq ASC`

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}

	entries := make([]transcript.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, transcript.Entry{
			ID:        row.ID,
			Origin:    transcript.Origin(row.Origin),
			Text:      row.Text,
			Timestamp: row.CreatedAt,
		})
	}

	return entries, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sessionExists(ctx context.Context, q sqlx.QueryerContext, id string) error {
	var one int
	err := sqlx.GetContext(ctx, q, &one, `SELECT 1 FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	return nil
}

func loadTemplate(ctx context.Context, q sqlx.QueryerContext, sessionID string) (storefront.Configuration, error) {
	var data string
	err := sqlx.GetContext(ctx, q, &data, `SELECT data FROM templates WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}
	tpl, err := storefront.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("stored template: %w", err)
	}
	return tpl, nil
}
