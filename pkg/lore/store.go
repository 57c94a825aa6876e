// Package lore persists structured world-building records alongside their
// embeddings in SQLite and ranks them by semantic similarity to free-text
// queries. Records are addressed by title for every human-facing operation;
// the integer id exists only as the storage key.
package lore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lorevault/lorevault/internal/encoding"

	_ "modernc.org/sqlite" // SQLite driver
)

// Embedder converts text into a fixed-length vector. All vectors stored
// together must come from the same model; the store does not detect mixed
// dimensions beyond length checks during scoring.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// DuplicatePolicy selects how Create treats an already-taken title.
type DuplicatePolicy string

const (
	// DuplicateSkip logs a warning and drops the new record. This keeps
	// bulk imports of overlapping data from aborting and is the default.
	DuplicateSkip DuplicatePolicy = "skip"
	// DuplicateReject returns ErrDuplicateTitle instead.
	DuplicateReject DuplicatePolicy = "reject"
)

// Config holds store configuration.
type Config struct {
	Path        string
	OnDuplicate DuplicatePolicy
	Logger      Logger
}

// DefaultConfig returns a configuration with the skip duplicate policy and a
// no-op logger.
func DefaultConfig() Config {
	return Config{
		OnDuplicate: DuplicateSkip,
		Logger:      NopLogger(),
	}
}

// Store is the SQLite-backed record store. One Store instance assumes a
// single embedding model for its whole lifetime.
type Store struct {
	db       *sql.DB
	config   Config
	embedder Embedder
	logger   Logger
	mu       sync.Mutex
	closed   bool
}

// New creates a store at path using the default configuration.
func New(path string, embedder Embedder) (*Store, error) {
	config := DefaultConfig()
	config.Path = path
	return NewWithConfig(config, embedder)
}

// NewWithConfig creates a store with custom configuration.
func NewWithConfig(config Config, embedder Embedder) (*Store, error) {
	if config.Path == "" {
		return nil, wrapError("init", fmt.Errorf("%w: database path cannot be empty", ErrInvalidConfig))
	}
	if embedder == nil {
		return nil, wrapError("init", fmt.Errorf("%w: embedder is required", ErrInvalidConfig))
	}
	if config.OnDuplicate == "" {
		config.OnDuplicate = DuplicateSkip
	}
	if config.OnDuplicate != DuplicateSkip && config.OnDuplicate != DuplicateReject {
		return nil, wrapError("init", fmt.Errorf("%w: unknown duplicate policy %q", ErrInvalidConfig, config.OnDuplicate))
	}
	if config.Logger == nil {
		config.Logger = NopLogger()
	}

	return &Store{
		config:   config,
		embedder: embedder,
		logger:   config.Logger,
	}, nil
}

// Init opens the database, creates the schema, and runs the deduplication
// self-heal pass.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}

	// _journal_mode=WAL: better concurrency for reads during writes
	// _busy_timeout=5000: wait up to 5s for a lock instead of failing
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", s.config.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(2 * time.Hour)

	s.db = db

	if err := s.createTables(ctx); err != nil {
		return wrapError("init", err)
	}

	removed, err := s.deduplicate(ctx)
	if err != nil {
		return wrapError("init", err)
	}
	if removed > 0 {
		s.logger.Warn("removed duplicate records during init", "count", removed)
	}

	s.logger.Info("database initialized", "path", s.config.Path)
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) createTables(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS lore (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		tags TEXT,
		template TEXT,
		fields TEXT,
		embedding BLOB,
		linked_entries TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_lore_title ON lore(title);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// CreateRequest carries the inputs for a new record. When Fields is non-empty
// the content is flattened from it; otherwise Content is used directly.
// LinkedEntries, when nil, are computed against the current title index.
type CreateRequest struct {
	Title         string
	Content       string
	Fields        Fields
	Tags          []string
	Template      string
	LinkedEntries []string
}

// Create persists a new record with a freshly computed embedding. A title
// that already exists is skipped with a logged warning under the default
// policy; nothing is half-written when the embedding call fails.
func (s *Store) Create(ctx context.Context, req CreateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("create", ErrStoreClosed)
	}
	if strings.TrimSpace(req.Title) == "" {
		return wrapError("create", fmt.Errorf("title cannot be empty"))
	}

	exists, err := s.titleExists(ctx, req.Title)
	if err != nil {
		return wrapError("create", err)
	}
	if exists {
		if s.config.OnDuplicate == DuplicateReject {
			return wrapError("create", fmt.Errorf("%w: %q", ErrDuplicateTitle, req.Title))
		}
		s.logger.Warn("skipping record with duplicate title", "title", req.Title)
		return nil
	}

	content := req.Content
	if len(req.Fields) > 0 {
		content = req.Fields.Flatten()
	}
	if strings.TrimSpace(content) == "" {
		content = req.Title
	}

	links := req.LinkedEntries
	if links == nil && len(req.Fields) > 0 {
		titles, err := s.titles(ctx)
		if err != nil {
			return wrapError("create", err)
		}
		links = ComputeLinks(req.Fields, req.Title, titles)
	}

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return wrapError("create", fmt.Errorf("failed to embed content: %w", err))
	}
	if err := encoding.ValidateVector(vector); err != nil {
		return wrapError("create", fmt.Errorf("embedder returned unusable vector: %w", err))
	}
	blob, err := encoding.EncodeVector(vector)
	if err != nil {
		return wrapError("create", err)
	}

	tagsJSON, err := marshalJSON(req.Tags)
	if err != nil {
		return wrapError("create", err)
	}
	fieldsJSON, err := marshalJSON(req.Fields)
	if err != nil {
		return wrapError("create", err)
	}
	linksJSON, err := marshalJSON(links)
	if err != nil {
		return wrapError("create", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lore (title, content, tags, template, fields, embedding, linked_entries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, req.Title, content, tagsJSON, req.Template, fieldsJSON, blob, linksJSON)
	if err != nil {
		return wrapError("create", fmt.Errorf("failed to insert record: %w", err))
	}

	s.logger.Debug("record created", "title", req.Title, "links", len(links))
	return nil
}

// All returns every record in storage order.
func (s *Store) All(ctx context.Context) ([]*Record, error) {
	if s.isClosed() {
		return nil, wrapError("all", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, tags, template, fields, embedding, linked_entries, created_at
		FROM lore ORDER BY id
	`)
	if err != nil {
		return nil, wrapError("all", err)
	}
	defer s.closeRows(rows, "all")

	var records []*Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, wrapError("all", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("all", err)
	}
	return records, nil
}

// GetByTitle returns the record with the given title, or ErrNotFound.
func (s *Store) GetByTitle(ctx context.Context, title string) (*Record, error) {
	if s.isClosed() {
		return nil, wrapError("get_by_title", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, tags, template, fields, embedding, linked_entries, created_at
		FROM lore WHERE title = ? ORDER BY id DESC LIMIT 1
	`, title)
	if err != nil {
		return nil, wrapError("get_by_title", err)
	}
	defer s.closeRows(rows, "get_by_title")

	if !rows.Next() {
		return nil, wrapError("get_by_title", ErrNotFound)
	}
	rec, err := s.scanRecord(rows)
	if err != nil {
		return nil, wrapError("get_by_title", err)
	}
	return rec, nil
}

// FilterOptions compose with AND semantics. Tags require the record's tag set
// to contain every listed tag; Template is an exact match; Query is a
// case-sensitive substring match against title or content.
type FilterOptions struct {
	Tags     []string
	Template string
	Query    string
}

// Filter returns the records matching every supplied criterion.
func (s *Store) Filter(ctx context.Context, opts FilterOptions) ([]*Record, error) {
	if s.isClosed() {
		return nil, wrapError("filter", ErrStoreClosed)
	}

	query := `
		SELECT id, title, content, tags, template, fields, embedding, linked_entries, created_at
		FROM lore WHERE 1=1
	`
	var args []any
	if opts.Template != "" {
		query += " AND template = ?"
		args = append(args, opts.Template)
	}
	if opts.Query != "" {
		// instr keeps the match case-sensitive, unlike LIKE
		query += " AND (instr(title, ?) > 0 OR instr(content, ?) > 0)"
		args = append(args, opts.Query, opts.Query)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("filter", err)
	}
	defer s.closeRows(rows, "filter")

	var records []*Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, wrapError("filter", err)
		}
		if !hasAllTags(rec.Tags, opts.Tags) {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("filter", err)
	}
	return records, nil
}

// UpdateRequest describes an update addressed by the record's current title.
// Template and Fields are left untouched when nil.
type UpdateRequest struct {
	Title    string
	Content  string
	Tags     []string
	Template *string
	Fields   Fields
}

// Update rewrites a record and recomputes its embedding from the new content.
// Linked entries are not recomputed, and the new title is not checked against
// other existing records: an update can create a duplicate title. That gap is
// observed behavior; the deduplication pass at Init remains the self-heal.
// Updating an absent title is a no-op.
func (s *Store) Update(ctx context.Context, originalTitle string, req UpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("update", ErrStoreClosed)
	}

	current, err := s.getByTitleLocked(ctx, originalTitle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("update target not found", "title", originalTitle)
			return nil
		}
		return wrapError("update", err)
	}

	content := req.Content
	if strings.TrimSpace(content) == "" {
		content = req.Title
	}
	template := current.Template
	if req.Template != nil {
		template = *req.Template
	}
	fields := current.Fields
	if req.Fields != nil {
		fields = req.Fields
	}

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return wrapError("update", fmt.Errorf("failed to embed content: %w", err))
	}
	if err := encoding.ValidateVector(vector); err != nil {
		return wrapError("update", fmt.Errorf("embedder returned unusable vector: %w", err))
	}
	blob, err := encoding.EncodeVector(vector)
	if err != nil {
		return wrapError("update", err)
	}

	tagsJSON, err := marshalJSON(req.Tags)
	if err != nil {
		return wrapError("update", err)
	}
	fieldsJSON, err := marshalJSON(fields)
	if err != nil {
		return wrapError("update", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE lore SET title = ?, content = ?, tags = ?, template = ?, fields = ?, embedding = ?
		WHERE id = ?
	`, req.Title, content, tagsJSON, template, fieldsJSON, blob, current.ID)
	if err != nil {
		return wrapError("update", fmt.Errorf("failed to update record: %w", err))
	}

	s.logger.Debug("record updated", "title", req.Title)
	return nil
}

// DeleteByTitle removes a record. Deleting an absent title is a no-op, and
// other records' linked entries referencing it are left dangling; readers
// resolve links best-effort.
func (s *Store) DeleteByTitle(ctx context.Context, title string) error {
	if s.isClosed() {
		return wrapError("delete_by_title", ErrStoreClosed)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM lore WHERE title = ?", title)
	if err != nil {
		return wrapError("delete_by_title", fmt.Errorf("failed to delete record: %w", err))
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("record deleted", "title", title)
	}
	return nil
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) error {
	if s.isClosed() {
		return wrapError("clear", ErrStoreClosed)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM lore"); err != nil {
		return wrapError("clear", fmt.Errorf("failed to clear records: %w", err))
	}
	s.logger.Info("cleared all records")
	return nil
}

// ClearSettings removes every setting.
func (s *Store) ClearSettings(ctx context.Context) error {
	if s.isClosed() {
		return wrapError("clear_settings", ErrStoreClosed)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings"); err != nil {
		return wrapError("clear_settings", fmt.Errorf("failed to clear settings: %w", err))
	}
	s.logger.Info("cleared all settings")
	return nil
}

// Deduplicate keeps only the most recently created record for every title
// that appears more than once and reports how many rows were removed.
func (s *Store) Deduplicate(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, wrapError("deduplicate", ErrStoreClosed)
	}
	n, err := s.deduplicate(ctx)
	if err != nil {
		return 0, wrapError("deduplicate", err)
	}
	return n, nil
}

func (s *Store) deduplicate(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM lore WHERE id NOT IN (SELECT MAX(id) FROM lore GROUP BY title)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to deduplicate: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Reembed recomputes every record's embedding from its current content, the
// migration path after an embedding model change. Provider calls run with
// bounded concurrency; row updates stay serial.
func (s *Store) Reembed(ctx context.Context, workers int) (int, error) {
	if s.isClosed() {
		return 0, wrapError("reembed", ErrStoreClosed)
	}
	if workers < 1 {
		workers = 1
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, content FROM lore ORDER BY id")
	if err != nil {
		return 0, wrapError("reembed", err)
	}

	type row struct {
		id      int64
		content string
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.content); err != nil {
			s.closeRows(rows, "reembed")
			return 0, wrapError("reembed", err)
		}
		pending = append(pending, r)
	}
	s.closeRows(rows, "reembed")
	if err := rows.Err(); err != nil {
		return 0, wrapError("reembed", err)
	}

	blobs := make([][]byte, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, r := range pending {
		g.Go(func() error {
			vector, err := s.embedder.Embed(gctx, r.content)
			if err != nil {
				return fmt.Errorf("record %d: %w", r.id, err)
			}
			if err := encoding.ValidateVector(vector); err != nil {
				return fmt.Errorf("record %d: %w", r.id, err)
			}
			blob, err := encoding.EncodeVector(vector)
			if err != nil {
				return fmt.Errorf("record %d: %w", r.id, err)
			}
			blobs[i] = blob
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, wrapError("reembed", err)
	}

	for i, r := range pending {
		if _, err := s.db.ExecContext(ctx, "UPDATE lore SET embedding = ? WHERE id = ?", blobs[i], r.id); err != nil {
			return i, wrapError("reembed", fmt.Errorf("record %d: %w", r.id, err))
		}
	}

	s.logger.Info("reembedded records", "count", len(pending))
	return len(pending), nil
}

// GetSetting returns the value stored under key, or fallback when absent.
func (s *Store) GetSetting(ctx context.Context, key, fallback string) (string, error) {
	if s.isClosed() {
		return "", wrapError("get_setting", ErrStoreClosed)
	}

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return "", wrapError("get_setting", err)
	}
	return value, nil
}

// SetSetting stores value under key, overwriting any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return wrapError("set_setting", ErrStoreClosed)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return wrapError("set_setting", err)
	}
	return nil
}

// Titles returns every stored title in storage order.
func (s *Store) Titles(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, wrapError("titles", ErrStoreClosed)
	}
	titles, err := s.titles(ctx)
	if err != nil {
		return nil, wrapError("titles", err)
	}
	return titles, nil
}

func (s *Store) titles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT title FROM lore ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows, "titles")

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

func (s *Store) titleExists(ctx context.Context, title string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM lore WHERE title = ? LIMIT 1", title).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) getByTitleLocked(ctx context.Context, title string) (*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, tags, template, fields, embedding, linked_entries, created_at
		FROM lore WHERE title = ? ORDER BY id DESC LIMIT 1
	`, title)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows, "get_by_title")

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return s.scanRecord(rows)
}

func (s *Store) scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		rec        Record
		tagsJSON   sql.NullString
		template   sql.NullString
		fieldsJSON sql.NullString
		linksJSON  sql.NullString
		blob       []byte
		createdAt  sql.NullTime
	)
	if err := rows.Scan(&rec.ID, &rec.Title, &rec.Content, &tagsJSON, &template, &fieldsJSON, &blob, &linksJSON, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.Template = template.String
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time
	}
	if err := unmarshalJSON(tagsJSON, &rec.Tags); err != nil {
		return nil, fmt.Errorf("record %d: bad tags: %w", rec.ID, err)
	}
	if err := unmarshalJSON(fieldsJSON, &rec.Fields); err != nil {
		return nil, fmt.Errorf("record %d: bad fields: %w", rec.ID, err)
	}
	if err := unmarshalJSON(linksJSON, &rec.LinkedEntries); err != nil {
		return nil, fmt.Errorf("record %d: bad linked entries: %w", rec.ID, err)
	}

	if len(blob) > 0 {
		vector, err := encoding.DecodeVector(blob)
		if err != nil {
			// A corrupt blob should not hide the record itself.
			s.logger.Warn("failed to decode stored embedding", "id", rec.ID, "error", err)
		} else {
			rec.Embedding = vector
		}
	}
	return &rec, nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) closeRows(rows *sql.Rows, op string) {
	if err := rows.Close(); err != nil {
		s.logger.Warn("failed to close rows", "op", op, "error", err)
	}
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, tag := range have {
		set[tag] = struct{}{}
	}
	for _, tag := range want {
		if _, ok := set[tag]; !ok {
			return false
		}
	}
	return true
}

// marshalJSON renders v as JSON with HTML escaping off so Unicode survives
// export round trips. Nil slices and maps become SQL NULL.
func marshalJSON(v any) (any, error) {
	switch val := v.(type) {
	case []string:
		if val == nil {
			return nil, nil
		}
	case Fields:
		if val == nil {
			return nil, nil
		}
	}
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func unmarshalJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}
