package conflict

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/vaultsync/internal/loggy"
)

// Repository defines operations for managing conflict records in the database
type Repository interface {
	// Get retrieves a conflict record by id, nil if absent
	Get(ctx context.Context, id string) (*Record, error)

	// GetByPath retrieves the open conflict record for a path, nil if absent
	GetByPath(ctx context.Context, path string) (*Record, error)

	// Upsert creates the record or, when an open record for the same path
	// already exists, replaces its contents while keeping the original id
	Upsert(ctx context.Context, record *Record) error

	// Delete removes a conflict record by id
	Delete(ctx context.Context, id string) error

	// List retrieves all open conflict records ordered by detection time
	List(ctx context.Context) ([]*Record, error)
}

// SQLRepository implements the Repository interface using a SQL database
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

var conflictColumns = []string{
	"id", "path", "kind", "local_content", "remote_content",
	"local_modified_at", "remote_modified_at", "auto_resolvable", "detected_at",
}

// Get retrieves a conflict record by id
func (r *SQLRepository) Get(ctx context.Context, id string) (*Record, error) {
	return r.getWhere(ctx, sq.Eq{"id": id})
}

// GetByPath retrieves the open conflict record for a path
func (r *SQLRepository) GetByPath(ctx context.Context, path string) (*Record, error) {
	return r.getWhere(ctx, sq.Eq{"path": path})
}

func (r *SQLRepository) getWhere(ctx context.Context, cond sq.Eq) (*Record, error) {
	q := r.builder.Select(conflictColumns...).From("conflicts").Where(cond)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get conflict query: %w", err)
	}

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("executing get conflict query: %w", err)
	}
	return record, nil
}

// Upsert creates or replaces the open conflict record for the record's path.
// The UNIQUE constraint on path enforces at most one open record per path.
func (r *SQLRepository) Upsert(ctx context.Context, record *Record) error {
	q := r.builder.Insert("conflicts").
		Columns(conflictColumns...).
		Values(
			record.ID, record.Path, string(record.Kind),
			record.LocalContent, record.RemoteContent,
			record.LocalModifiedAt, record.RemoteModifiedAt,
			record.AutoResolvable, record.DetectedAt,
		).
		Suffix("ON CONFLICT(path) DO UPDATE SET " +
			"kind = excluded.kind, " +
			"local_content = excluded.local_content, " +
			"remote_content = excluded.remote_content, " +
			"local_modified_at = excluded.local_modified_at, " +
			"remote_modified_at = excluded.remote_modified_at, " +
			"auto_resolvable = excluded.auto_resolvable, " +
			"detected_at = excluded.detected_at")

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building upsert conflict query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing upsert conflict query: %w", err)
	}

	return nil
}

// Delete removes a conflict record by id
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	q := r.builder.Delete("conflicts").Where(sq.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete conflict query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete conflict query: %w", err)
	}

	return nil
}

// List retrieves all open conflict records ordered by detection time
func (r *SQLRepository) List(ctx context.Context) ([]*Record, error) {
	q := r.builder.Select(conflictColumns...).
		From("conflicts").
		OrderBy("detected_at ASC")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list conflicts query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list conflicts query: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conflict row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conflict rows: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var kind string
	err := row.Scan(
		&record.ID,
		&record.Path,
		&kind,
		&record.LocalContent,
		&record.RemoteContent,
		&record.LocalModifiedAt,
		&record.RemoteModifiedAt,
		&record.AutoResolvable,
		&record.DetectedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Kind = Kind(kind)
	return &record, nil
}
