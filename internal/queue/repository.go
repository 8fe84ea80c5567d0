package queue

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/vaultsync/internal/loggy"
)

// Repository defines operations for managing queued operations in the database
type Repository interface {
	// Get retrieves an operation by id, nil if absent
	Get(ctx context.Context, id string) (*Operation, error)

	// GetQueuedByPath retrieves the pending operation for a path, nil if absent
	GetQueuedByPath(ctx context.Context, path string) (*Operation, error)

	// Insert stores a new operation
	Insert(ctx context.Context, op *Operation) error

	// Update replaces the mutable fields of an existing operation
	Update(ctx context.Context, op *Operation) error

	// Delete removes an operation by id
	Delete(ctx context.Context, id string) error

	// List retrieves all operations in FIFO order
	List(ctx context.Context) ([]*Operation, error)

	// ListByStatus retrieves operations with the given status in FIFO order
	ListByStatus(ctx context.Context, status Status) ([]*Operation, error)

	// CountByStatus counts operations with the given status
	CountByStatus(ctx context.Context, status Status) (int, error)

	// DeleteByStatus removes all operations with the given status
	DeleteByStatus(ctx context.Context, status Status) error
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

var operationColumns = []string{
	"id", "path", "kind", "content", "old_path",
	"queued_at", "status", "retry_count", "last_error",
}

// Get retrieves an operation by id
func (r *SQLRepository) Get(ctx context.Context, id string) (*Operation, error) {
	return r.getWhere(ctx, sq.Eq{"id": id})
}

// GetQueuedByPath retrieves the pending operation for a path
func (r *SQLRepository) GetQueuedByPath(ctx context.Context, path string) (*Operation, error) {
	return r.getWhere(ctx, sq.Eq{"path": path, "status": string(StatusQueued)})
}

func (r *SQLRepository) getWhere(ctx context.Context, cond sq.Eq) (*Operation, error) {
	q := r.builder.Select(operationColumns...).From("queue_operations").Where(cond)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get operation query: %w", err)
	}

	op, err := scanOperation(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("executing get operation query: %w", err)
	}
	return op, nil
}

// Insert stores a new operation
func (r *SQLRepository) Insert(ctx context.Context, op *Operation) error {
	q := r.builder.Insert("queue_operations").
		Columns(operationColumns...).
		Values(
			op.ID, op.Path, string(op.Kind), op.Content, op.OldPath,
			op.QueuedAt, string(op.Status), op.RetryCount, op.LastError,
		)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building insert operation query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing insert operation query: %w", err)
	}

	return nil
}

// Update replaces the mutable fields of an operation. The original queue
// time is deliberately not part of the update, so coalescing keeps it.
func (r *SQLRepository) Update(ctx context.Context, op *Operation) error {
	q := r.builder.Update("queue_operations").
		Set("kind", string(op.Kind)).
		Set("content", op.Content).
		Set("old_path", op.OldPath).
		Set("status", string(op.Status)).
		Set("retry_count", op.RetryCount).
		Set("last_error", op.LastError).
		Where(sq.Eq{"id": op.ID})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building update operation query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing update operation query: %w", err)
	}

	return nil
}

// Delete removes an operation by id
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	q := r.builder.Delete("queue_operations").Where(sq.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete operation query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete operation query: %w", err)
	}

	return nil
}

// List retrieves all operations in FIFO order
func (r *SQLRepository) List(ctx context.Context) ([]*Operation, error) {
	return r.listWhere(ctx, nil)
}

// ListByStatus retrieves operations with the given status in FIFO order
func (r *SQLRepository) ListByStatus(ctx context.Context, status Status) ([]*Operation, error) {
	return r.listWhere(ctx, sq.Eq{"status": string(status)})
}

func (r *SQLRepository) listWhere(ctx context.Context, cond sq.Eq) ([]*Operation, error) {
	q := r.builder.Select(operationColumns...).
		From("queue_operations").
		OrderBy("queued_at ASC")
	if cond != nil {
		q = q.Where(cond)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list operations query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list operations query: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning operation row: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operation rows: %w", err)
	}

	return ops, nil
}

// CountByStatus counts operations with the given status
func (r *SQLRepository) CountByStatus(ctx context.Context, status Status) (int, error) {
	q := r.builder.Select("COUNT(*)").
		From("queue_operations").
		Where(sq.Eq{"status": string(status)})

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count operations query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("executing count operations query: %w", err)
	}

	return count, nil
}

// DeleteByStatus removes all operations with the given status
func (r *SQLRepository) DeleteByStatus(ctx context.Context, status Status) error {
	q := r.builder.Delete("queue_operations").Where(sq.Eq{"status": string(status)})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete-by-status query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete-by-status query: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	var op Operation
	var kind, status string
	var oldPath, lastError sql.NullString
	err := row.Scan(
		&op.ID,
		&op.Path,
		&kind,
		&op.Content,
		&oldPath,
		&op.QueuedAt,
		&status,
		&op.RetryCount,
		&lastError,
	)
	if err != nil {
		return nil, err
	}
	op.Kind = OpKind(kind)
	op.Status = Status(status)
	op.OldPath = oldPath.String
	op.LastError = lastError.String
	return &op, nil
}
