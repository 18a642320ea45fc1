package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const dbTimeout = 2 * time.Second

const fileColumns = "id, stored_payload_ref, original_name, media_type, size_bytes, content_fingerprint, is_duplicate, canonical_ref, created_at"

// fileRow is the SQL shape of a FileRecord.
type fileRow struct {
	ID                 string         `db:"id"`
	StoredPayloadRef   string         `db:"stored_payload_ref"`
	OriginalName       string         `db:"original_name"`
	MediaType          string         `db:"media_type"`
	SizeBytes          int64          `db:"size_bytes"`
	ContentFingerprint string         `db:"content_fingerprint"`
	IsDuplicate        bool           `db:"is_duplicate"`
	CanonicalRef       sql.NullString `db:"canonical_ref"`
	CreatedAt          time.Time      `db:"created_at"`
}

func (r *fileRow) record() *FileRecord {
	rec := &FileRecord{
		ID:                 r.ID,
		StoredPayloadRef:   r.StoredPayloadRef,
		OriginalName:       r.OriginalName,
		MediaType:          r.MediaType,
		SizeBytes:          r.SizeBytes,
		ContentFingerprint: r.ContentFingerprint,
		IsDuplicate:        r.IsDuplicate,
		CreatedAt:          r.CreatedAt.UTC(),
	}
	if r.CanonicalRef.Valid {
		ref := r.CanonicalRef.String
		rec.CanonicalRef = &ref
	}
	return rec
}

// SQLRepo implements Repository on MySQL, PostgreSQL or SQLite using
// prepared statements and context timeouts.
//
// One canonical row per fingerprint is enforced by the UNIQUE canonical_key
// column, which holds the fingerprint for canonical rows and NULL for
// duplicates. canonical_ref is a self foreign key with ON DELETE SET NULL.
type SQLRepo struct {
	db                *sqlx.DB
	stmtCreate        *sqlx.Stmt
	stmtGetByID       *sqlx.Stmt
	stmtFindCanonical *sqlx.Stmt
	stmtIsCanonical   *sqlx.Stmt
	stmtCountByRef    *sqlx.Stmt
}

// NewSQLRepo prepares all statements up front. The caller owns the *sqlx.DB lifetime.
func NewSQLRepo(db *sqlx.DB) (*SQLRepo, error) {
	prepare := func(name, query string) (*sqlx.Stmt, error) {
		stmt, err := db.Preparex(db.Rebind(query))
		if err != nil {
			return nil, fmt.Errorf("prepare %s: %w", name, err)
		}
		return stmt, nil
	}

	r := &SQLRepo{db: db}
	var err error
	if r.stmtCreate, err = prepare("create",
		"INSERT INTO files ("+fileColumns+", canonical_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"); err != nil {
		return nil, err
	}
	if r.stmtGetByID, err = prepare("getByID",
		"SELECT "+fileColumns+" FROM files WHERE id = ?"); err != nil {
		r.Close()
		return nil, err
	}
	if r.stmtFindCanonical, err = prepare("findCanonical",
		"SELECT "+fileColumns+" FROM files WHERE content_fingerprint = ? AND is_duplicate = ? ORDER BY created_at ASC, id ASC LIMIT 1"); err != nil {
		r.Close()
		return nil, err
	}
	if r.stmtIsCanonical, err = prepare("isCanonical",
		"SELECT COUNT(*) FROM files WHERE id = ? AND canonical_key IS NOT NULL"); err != nil {
		r.Close()
		return nil, err
	}
	if r.stmtCountByRef, err = prepare("countByRef",
		"SELECT COUNT(*) FROM files WHERE stored_payload_ref = ?"); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Create inserts a new file record.
func (r *SQLRepo) Create(ctx context.Context, rec *FileRecord) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var canonicalRef, canonicalKey any
	if rec.IsDuplicate {
		if rec.CanonicalRef == nil {
			return fmt.Errorf("repo create: duplicate without canonical ref: %w", ErrCanonicalGone)
		}
		canonicalRef = *rec.CanonicalRef
	} else {
		canonicalKey = rec.ContentFingerprint
	}
	args := []any{
		rec.ID, rec.StoredPayloadRef, rec.OriginalName, rec.MediaType, rec.SizeBytes,
		rec.ContentFingerprint, rec.IsDuplicate, canonicalRef, rec.CreatedAt, canonicalKey,
	}

	if !rec.IsDuplicate {
		_, err := r.stmtCreate.ExecContext(ctx, args...)
		return classify("repo create", err)
	}

	// Duplicates verify their canonical inside the insert transaction; the
	// foreign key covers a concurrent delete.
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("repo create begin", err)
	}
	defer tx.Rollback()

	var n int64
	if err := tx.StmtxContext(ctx, r.stmtIsCanonical).GetContext(ctx, &n, *rec.CanonicalRef); err != nil {
		return classify("repo create check", err)
	}
	if n == 0 {
		return fmt.Errorf("repo create: %w", ErrCanonicalGone)
	}
	if _, err := tx.StmtxContext(ctx, r.stmtCreate).ExecContext(ctx, args...); err != nil {
		return classify("repo create", err)
	}
	return classify("repo create commit", tx.Commit())
}

// FindCanonical returns the earliest-created canonical record for fingerprint.
func (r *SQLRepo) FindCanonical(ctx context.Context, fingerprint string) (*FileRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var row fileRow
	if err := r.stmtFindCanonical.GetContext(ctx, &row, fingerprint, false); err != nil {
		return nil, classify("repo findCanonical", err)
	}
	return row.record(), nil
}

// GetByID retrieves a file record by ID.
func (r *SQLRepo) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var row fileRow
	if err := r.stmtGetByID.GetContext(ctx, &row, id); err != nil {
		return nil, classify("repo getByID", err)
	}
	return row.record(), nil
}

// List retrieves matching records, newest first.
func (r *SQLRepo) List(ctx context.Context, f Filter) ([]*FileRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if f.NameContains != "" {
		where = append(where, "LOWER(original_name) LIKE ? ESCAPE '!'")
		args = append(args, likePattern(f.NameContains))
	}
	if f.MediaTypeContains != "" {
		where = append(where, "LOWER(media_type) LIKE ? ESCAPE '!'")
		args = append(args, likePattern(f.MediaTypeContains))
	}
	if f.MinSize != nil {
		where = append(where, "size_bytes >= ?")
		args = append(args, *f.MinSize)
	}
	if f.MaxSize != nil {
		where = append(where, "size_bytes <= ?")
		args = append(args, *f.MaxSize)
	}
	if f.CreatedFrom != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.CreatedTo.UTC())
	}

	query := "SELECT " + fileColumns + " FROM files"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = math.MaxInt32
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(f.Offset, 0))
	}

	var rows []fileRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, classify("repo list", err)
	}
	records := make([]*FileRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].record())
	}
	return records, nil
}

// MediaTypes returns the distinct media types, sorted.
func (r *SQLRepo) MediaTypes(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	types := []string{}
	if err := r.db.SelectContext(ctx, &types, "SELECT DISTINCT media_type FROM files ORDER BY media_type"); err != nil {
		return nil, classify("repo mediaTypes", err)
	}
	return types, nil
}

// Summarize aggregates counts and sizes in a single query.
func (r *SQLRepo) Summarize(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var row struct {
		Total          int64 `db:"total_files"`
		Duplicates     int64 `db:"duplicate_files"`
		TotalBytes     int64 `db:"total_bytes"`
		CanonicalBytes int64 `db:"canonical_bytes"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT
		COUNT(*) AS total_files,
		COALESCE(SUM(CASE WHEN is_duplicate THEN 1 ELSE 0 END), 0) AS duplicate_files,
		COALESCE(SUM(size_bytes), 0) AS total_bytes,
		COALESCE(SUM(CASE WHEN is_duplicate THEN 0 ELSE size_bytes END), 0) AS canonical_bytes
		FROM files`)
	if err != nil {
		return Summary{}, classify("repo summarize", err)
	}
	return Summary{
		TotalFiles:     row.Total,
		CanonicalFiles: row.Total - row.Duplicates,
		DuplicateFiles: row.Duplicates,
		TotalBytes:     row.TotalBytes,
		CanonicalBytes: row.CanonicalBytes,
	}, nil
}

// CountByPayloadRef counts records sharing ref.
func (r *SQLRepo) CountByPayloadRef(ctx context.Context, ref string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var n int64
	if err := r.stmtCountByRef.GetContext(ctx, &n, ref); err != nil {
		return 0, classify("repo countByPayloadRef", err)
	}
	return n, nil
}

// Delete removes a record and clears references to it in one transaction.
func (r *SQLRepo) Delete(ctx context.Context, id string) (*FileRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify("repo delete begin", err)
	}
	defer tx.Rollback()

	var row fileRow
	if err := tx.StmtxContext(ctx, r.stmtGetByID).GetContext(ctx, &row, id); err != nil {
		return nil, classify("repo delete", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE files SET canonical_ref = NULL WHERE canonical_ref = ?"), id); err != nil {
		return nil, classify("repo delete clear refs", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM files WHERE id = ?"), id); err != nil {
		return nil, classify("repo delete", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("repo delete commit", err)
	}
	return row.record(), nil
}

// Ping checks database connectivity.
func (r *SQLRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return classify("repo ping", r.db.PingContext(ctx))
}

// Close releases all prepared statements.
func (r *SQLRepo) Close() error {
	for _, s := range []*sqlx.Stmt{r.stmtCreate, r.stmtGetByID, r.stmtFindCanonical, r.stmtIsCanonical, r.stmtCountByRef} {
		if s != nil {
			s.Close()
		}
	}
	return nil
}

// classify maps driver errors onto the repository error set.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, ErrCanonicalExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", op, ErrCanonicalGone)
	default:
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
}

func isUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1452
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23503"
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "FOREIGN KEY"))
	}
	return false
}

// likePattern builds a case-insensitive substring pattern using '!' as the
// escape character.
func likePattern(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}
