package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-engine-api/internal/models"
)

// ErrDuplicate reports that a unique index rejected the write.
var ErrDuplicate = errors.New("duplicate row")

const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

const courseColumns = `id, name, type, seats, duration, start_date, end_date, state, active, instructor_id, created_at, updated_at`

// lockCourse loads the course row and holds its lock until tx ends. A missing
// course yields sql.ErrNoRows unwrapped.
func lockCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (*models.Course, error) {
	var c models.Course
	if err := tx.GetContext(ctx, &c, `SELECT `+courseColumns+` FROM courses WHERE id = $1 FOR UPDATE`, courseID); err != nil {
		return nil, err
	}
	return &c, nil
}
