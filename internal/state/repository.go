package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/vaultsync/internal/loggy"
)

// Repository defines operations for managing sync records in the database
type Repository interface {
	// Get retrieves the sync record for a path, nil if the path was never synced
	Get(ctx context.Context, path string) (*SyncRecord, error)

	// Upsert creates or replaces the sync record for a path
	Upsert(ctx context.Context, record *SyncRecord) error

	// Delete removes the sync record for a path
	Delete(ctx context.Context, path string) error

	// List retrieves all sync records ordered by path
	List(ctx context.Context) ([]*SyncRecord, error)

	// SetReadOnly updates the read-only flag for a path
	SetReadOnly(ctx context.Context, path string, readOnly bool) error

	// SetLocallyDeleted updates the local-deletion flag for a path
	SetLocallyDeleted(ctx context.Context, path string, deleted bool) error
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

// Get retrieves the sync record for a path
func (r *SQLRepository) Get(ctx context.Context, path string) (*SyncRecord, error) {
	q := r.builder.Select("path", "last_synced_hash", "last_synced_at", "read_only", "locally_deleted").
		From("sync_records").
		Where(sq.Eq{"path": path})

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync record query: %w", err)
	}

	var record SyncRecord
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&record.Path,
		&record.LastSyncedHash,
		&record.LastSyncedAt,
		&record.ReadOnly,
		&record.LocallyDeleted,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Path never synced
		}
		return nil, fmt.Errorf("executing get sync record query: %w", err)
	}

	return &record, nil
}

// Upsert creates or replaces the sync record for a path
func (r *SQLRepository) Upsert(ctx context.Context, record *SyncRecord) error {
	if record.LastSyncedAt.IsZero() {
		record.LastSyncedAt = time.Now()
	}

	q := r.builder.Insert("sync_records").
		Columns("path", "last_synced_hash", "last_synced_at", "read_only", "locally_deleted").
		Values(record.Path, record.LastSyncedHash, record.LastSyncedAt, record.ReadOnly, record.LocallyDeleted).
		Suffix("ON CONFLICT(path) DO UPDATE SET " +
			"last_synced_hash = excluded.last_synced_hash, " +
			"last_synced_at = excluded.last_synced_at, " +
			"read_only = excluded.read_only, " +
			"locally_deleted = excluded.locally_deleted")

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building upsert sync record query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing upsert sync record query: %w", err)
	}

	return nil
}

// Delete removes the sync record for a path
func (r *SQLRepository) Delete(ctx context.Context, path string) error {
	q := r.builder.Delete("sync_records").Where(sq.Eq{"path": path})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete sync record query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete sync record query: %w", err)
	}

	return nil
}

// List retrieves all sync records ordered by path
func (r *SQLRepository) List(ctx context.Context) ([]*SyncRecord, error) {
	q := r.builder.Select("path", "last_synced_hash", "last_synced_at", "read_only", "locally_deleted").
		From("sync_records").
		OrderBy("path ASC")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list sync records query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list sync records query: %w", err)
	}
	defer rows.Close()

	var records []*SyncRecord
	for rows.Next() {
		var record SyncRecord
		err := rows.Scan(
			&record.Path,
			&record.LastSyncedHash,
			&record.LastSyncedAt,
			&record.ReadOnly,
			&record.LocallyDeleted,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sync record row: %w", err)
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync record rows: %w", err)
	}

	return records, nil
}

// SetReadOnly updates the read-only flag for a path
func (r *SQLRepository) SetReadOnly(ctx context.Context, path string, readOnly bool) error {
	return r.setFlag(ctx, path, "read_only", readOnly)
}

// SetLocallyDeleted updates the local-deletion flag for a path
func (r *SQLRepository) SetLocallyDeleted(ctx context.Context, path string, deleted bool) error {
	return r.setFlag(ctx, path, "locally_deleted", deleted)
}

func (r *SQLRepository) setFlag(ctx context.Context, path, column string, value bool) error {
	q := r.builder.Update("sync_records").
		Set(column, value).
		Where(sq.Eq{"path": path})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building set %s query: %w", column, err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set %s query: %w", column, err)
	}

	return nil
}
