package upload

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/vaultsync/internal/loggy"
)

// Repository defines operations for managing upload sessions in the database
type Repository interface {
	// Get retrieves a session by upload id, nil if absent
	Get(ctx context.Context, uploadID string) (*Session, error)

	// GetByPath retrieves the most recent session for a path, nil if absent
	GetByPath(ctx context.Context, path string) (*Session, error)

	// Save creates or replaces a session, persisting the full uploaded set
	Save(ctx context.Context, session *Session) error

	// Delete removes a session by upload id
	Delete(ctx context.Context, uploadID string) error

	// List retrieves all sessions ordered by start time
	List(ctx context.Context) ([]*Session, error)

	// DeleteStartedBefore removes sessions older than the cutoff, returning
	// the number removed
	DeleteStartedBefore(ctx context.Context, cutoff time.Time) (int, error)
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

var sessionColumns = []string{
	"upload_id", "path", "total_size", "chunk_size", "chunk_count",
	"uploaded_chunks", "started_at",
}

// Get retrieves a session by upload id
func (r *SQLRepository) Get(ctx context.Context, uploadID string) (*Session, error) {
	return r.getWhere(ctx, sq.Eq{"upload_id": uploadID})
}

// GetByPath retrieves the most recent session for a path
func (r *SQLRepository) GetByPath(ctx context.Context, path string) (*Session, error) {
	return r.getWhere(ctx, sq.Eq{"path": path})
}

func (r *SQLRepository) getWhere(ctx context.Context, cond sq.Eq) (*Session, error) {
	q := r.builder.Select(sessionColumns...).
		From("upload_sessions").
		Where(cond).
		OrderBy("started_at DESC").
		Limit(1)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get session query: %w", err)
	}

	session, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("executing get session query: %w", err)
	}
	return session, nil
}

// Save creates or replaces a session. The uploaded set is serialized whole on
// every save.
func (r *SQLRepository) Save(ctx context.Context, session *Session) error {
	chunks, err := json.Marshal(session.UploadedChunks)
	if err != nil {
		return fmt.Errorf("marshaling uploaded chunk set: %w", err)
	}

	q := r.builder.Insert("upload_sessions").
		Columns(sessionColumns...).
		Values(
			session.UploadID, session.Path, session.TotalSize,
			session.ChunkSize, session.ChunkCount, string(chunks),
			session.StartedAt,
		).
		Suffix("ON CONFLICT(upload_id) DO UPDATE SET uploaded_chunks = excluded.uploaded_chunks")

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building save session query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing save session query: %w", err)
	}

	return nil
}

// Delete removes a session by upload id
func (r *SQLRepository) Delete(ctx context.Context, uploadID string) error {
	q := r.builder.Delete("upload_sessions").Where(sq.Eq{"upload_id": uploadID})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete session query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete session query: %w", err)
	}

	return nil
}

// List retrieves all sessions ordered by start time
func (r *SQLRepository) List(ctx context.Context) ([]*Session, error) {
	q := r.builder.Select(sessionColumns...).
		From("upload_sessions").
		OrderBy("started_at ASC")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list sessions query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list sessions query: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// DeleteStartedBefore removes sessions older than the cutoff
func (r *SQLRepository) DeleteStartedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	q := r.builder.Delete("upload_sessions").Where(sq.Lt{"started_at": cutoff})

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building session cleanup query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing session cleanup query: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var chunks string
	err := row.Scan(
		&session.UploadID,
		&session.Path,
		&session.TotalSize,
		&session.ChunkSize,
		&session.ChunkCount,
		&chunks,
		&session.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chunks), &session.UploadedChunks); err != nil {
		return nil, fmt.Errorf("unmarshaling uploaded chunk set: %w", err)
	}
	return &session, nil
}
