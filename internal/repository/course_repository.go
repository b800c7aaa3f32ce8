package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-engine-api/internal/models"
)

// CourseRepository persists courses and their lifecycle state.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns the course or sql.ErrNoRows.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	var course models.Course
	if err := r.db.GetContext(ctx, &course, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// Create inserts the course and, when given, the instructor's enrollment in one transaction.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course, instructor *models.Enrollment) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin course transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertCourse = `INSERT INTO courses (id, name, type, seats, duration, start_date, end_date, state, active, instructor_id, created_at, updated_at)
VALUES (:id, :name, :type, :seats, :duration, :start_date, :end_date, :state, :active, :instructor_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertCourse, course); err != nil {
		return fmt.Errorf("insert course: %w", err)
	}
	if instructor != nil {
		if err = insertEnrollment(ctx, tx, instructor); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit course: %w", err)
	}
	return nil
}

// ListDueForStart returns planned courses whose start date has been reached.
func (r *CourseRepository) ListDueForStart(ctx context.Context, now time.Time) ([]models.Course, error) {
	return r.listDue(ctx, models.CourseStatePlanned, "start_date", now)
}

// ListDueForFinish returns ongoing courses whose end date has been reached.
func (r *CourseRepository) ListDueForFinish(ctx context.Context, now time.Time) ([]models.Course, error) {
	return r.listDue(ctx, models.CourseStateOngoing, "end_date", now)
}

func (r *CourseRepository) listDue(ctx context.Context, state models.CourseState, column string, now time.Time) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE state = $1 AND %s <= $2 ORDER BY %s ASC`, courseColumns, column, column)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, state, now); err != nil {
		return nil, fmt.Errorf("list %s courses due by %s: %w", state, column, err)
	}
	return courses, nil
}

// TransitionState moves a course from one state to another. It reports false
// when the course was no longer in the expected state.
func (r *CourseRepository) TransitionState(ctx context.Context, id string, from, to models.CourseState, at time.Time) (bool, error) {
	const query = `UPDATE courses SET state = $3, updated_at = $4 WHERE id = $1 AND state = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("transition course %s to %s: %w", id, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition course %s rows affected: %w", id, err)
	}
	return affected == 1, nil
}
