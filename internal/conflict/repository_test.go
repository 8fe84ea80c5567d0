package conflict

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/vaultsync/internal/loggy"
)

func newTestRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  loggy.NewNoopLogger(),
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

func TestConflictRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create mock database")
	defer db.Close()

	repo := newTestRepository(db)

	now := time.Now()
	record := &Record{
		ID:               "conf-01HTEST",
		Path:             "notes/a.md",
		Kind:             KindContent,
		LocalContent:     []byte("local"),
		RemoteContent:    []byte("remote"),
		LocalModifiedAt:  now,
		RemoteModifiedAt: now,
		DetectedAt:       now,
	}

	t.Run("Upsert", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO conflicts").
			WithArgs(
				record.ID, record.Path, string(record.Kind),
				record.LocalContent, record.RemoteContent,
				sqlmock.AnyArg(), sqlmock.AnyArg(), false, sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.Upsert(context.Background(), record)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetByPath", func(t *testing.T) {
		rows := sqlmock.NewRows(conflictColumns).
			AddRow(record.ID, record.Path, string(record.Kind),
				record.LocalContent, record.RemoteContent, now, now, false, now)

		mock.ExpectQuery("SELECT .+ FROM conflicts WHERE path = ?").
			WithArgs(record.Path).
			WillReturnRows(rows)

		got, err := repo.GetByPath(context.Background(), record.Path)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, record.ID, got.ID)
		assert.Equal(t, KindContent, got.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetMissing", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM conflicts WHERE id = ?").
			WithArgs("conf-nope").
			WillReturnError(sql.ErrNoRows)

		got, err := repo.Get(context.Background(), "conf-nope")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Delete", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM conflicts").
			WithArgs(record.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Delete(context.Background(), record.ID)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("List", func(t *testing.T) {
		rows := sqlmock.NewRows(conflictColumns).
			AddRow("conf-1", "a.md", "content", nil, nil, now, now, false, now).
			AddRow("conf-2", "b.md", "deletion", nil, nil, now, now, false, now)

		mock.ExpectQuery("SELECT .+ FROM conflicts ORDER BY detected_at ASC").
			WillReturnRows(rows)

		records, err := repo.List(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, KindDeletion, records[1].Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
