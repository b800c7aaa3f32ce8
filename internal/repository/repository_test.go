package repository

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

var courseCols = []string{"id", "name", "type", "seats", "duration", "start_date", "end_date", "state", "active", "instructor_id", "created_at", "updated_at"}

var sessionCols = []string{"id", "course_id", "date_start", "time_start", "date_end", "time_end", "code", "created_by", "created_at"}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func courseRow(id string, seats interface{}, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(courseCols).
		AddRow(id, "Go 101", "synchronous", seats, 10, now.AddDate(0, 0, 7), now.AddDate(0, 1, 0), "planned", true, nil, now, now)
}

func expectCourseLock(mock sqlmock.Sqlmock, id string, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT .+ FROM courses WHERE id = \$1 FOR UPDATE`).WithArgs(id).WillReturnRows(rows)
}
