package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-engine-api/internal/models"
)

const enrollmentColumns = `id, user_id, course_id, state, enrollment_date, motivation, expectations, final_grade, certificate_issued, attendance_hours, cancelled_at, cancellation_reason`

// EnrollmentGuard inspects the locked course state and rejects the enrollment by returning an error.
type EnrollmentGuard func(models.EnrollmentSnapshot) error

// EnrollmentRepository manages enrollment persistence.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new repository instance.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Enroll locks the course row, builds a snapshot of its live enrollments, runs
// guard and inserts enrollment when the guard passes. Guard errors are returned
// unchanged after rollback. A missing course yields sql.ErrNoRows; a racing
// duplicate yields ErrDuplicate.
func (r *EnrollmentRepository) Enroll(ctx context.Context, enrollment *models.Enrollment, guard EnrollmentGuard) (snapshot models.EnrollmentSnapshot, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return snapshot, fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	course, err := lockCourse(ctx, tx, enrollment.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return snapshot, err
		}
		return snapshot, fmt.Errorf("lock course: %w", err)
	}
	snapshot.Course = *course

	const countQuery = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND state = 'enrolled'`
	if err = tx.GetContext(ctx, &snapshot.Enrolled, countQuery, enrollment.CourseID); err != nil {
		return snapshot, fmt.Errorf("count enrollments: %w", err)
	}
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM enrollments WHERE course_id = $1 AND user_id = $2 AND state = 'enrolled')`
	if err = tx.GetContext(ctx, &snapshot.AlreadyEnrolled, existsQuery, enrollment.CourseID, enrollment.UserID); err != nil {
		return snapshot, fmt.Errorf("check active enrollment: %w", err)
	}

	if err = guard(snapshot); err != nil {
		return snapshot, err
	}

	if err = insertEnrollment(ctx, tx, enrollment); err != nil {
		return snapshot, err
	}
	if err = tx.Commit(); err != nil {
		return snapshot, fmt.Errorf("commit enrollment: %w", err)
	}
	return snapshot, nil
}

func insertEnrollment(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	const query = `INSERT INTO enrollments (` + enrollmentColumns + `)
VALUES (:id, :user_id, :course_id, :state, :enrollment_date, :motivation, :expectations, :final_grade, :certificate_issued, :attendance_hours, :cancelled_at, :cancellation_reason)`
	if _, err := tx.NamedExecContext(ctx, query, enrollment); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

// FindByID returns an enrollment by ID or sql.ErrNoRows.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindActive returns the user's live enrollment in the course or sql.ErrNoRows.
func (r *EnrollmentRepository) FindActive(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 AND course_id = $2 AND state = 'enrolled'`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active enrollment: %w", err)
	}
	return &enrollment, nil
}

// Cancel soft-deletes an enrolled row. It reports false when the row was not enrolled.
func (r *EnrollmentRepository) Cancel(ctx context.Context, id string, reason *string, at time.Time) (bool, error) {
	const query = `UPDATE enrollments SET state = 'cancelled', cancelled_at = $2, cancellation_reason = $3 WHERE id = $1 AND state = 'enrolled'`
	res, err := r.db.ExecContext(ctx, query, id, at, reason)
	if err != nil {
		return false, fmt.Errorf("cancel enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel enrollment rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListActiveByUser pages through a user's live enrollments with their course window.
func (r *EnrollmentRepository) ListActiveByUser(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	var total int
	const countQuery = `SELECT COUNT(*) FROM enrollments WHERE user_id = $1 AND state = 'enrolled'`
	if err := r.db.GetContext(ctx, &total, countQuery, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("count user enrollments: %w", err)
	}

	const query = `
SELECT
	e.id, e.user_id, e.course_id, e.state, e.enrollment_date, e.motivation, e.expectations,
	e.final_grade, e.certificate_issued, e.attendance_hours, e.cancelled_at, e.cancellation_reason,
	c.name AS course_name,
	c.type AS course_type,
	c.state AS course_state,
	c.start_date AS course_start_date,
	c.end_date AS course_end_date
FROM enrollments e
JOIN courses c ON c.id = e.course_id
WHERE e.user_id = $1 AND e.state = 'enrolled'
ORDER BY c.start_date ASC, c.name ASC
LIMIT $2 OFFSET $3`
	var items []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &items, query, filter.UserID, size, (page-1)*size); err != nil {
		return nil, 0, fmt.Errorf("list user enrollments: %w", err)
	}
	return items, total, nil
}

// List pages through enrollments joined with learner and course. Cancelled
// listings are ordered by cancellation time, everything else by enrollment date.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, int, error) {
	base := `FROM enrollments e
JOIN courses c ON c.id = e.course_id
JOIN users u ON u.id = e.user_id`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("e.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("e.state = $%d", len(args)+1))
		args = append(args, filter.State)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	orderBy := "e.enrollment_date DESC"
	if filter.State == models.EnrollmentStateCancelled {
		orderBy = "e.cancelled_at DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	query := fmt.Sprintf(`SELECT e.id, e.user_id, e.course_id, e.state, e.enrollment_date, e.motivation, e.expectations,
        e.final_grade, e.certificate_issued, e.attendance_hours, e.cancelled_at, e.cancellation_reason,
        c.name AS course_name, c.type AS course_type, c.state AS course_state,
        c.start_date AS course_start_date, c.end_date AS course_end_date,
        u.full_name AS user_name, u.email AS user_email
        %s ORDER BY %s LIMIT %d OFFSET %d`, base+clause, orderBy, size, offset)
	var items []models.EnrollmentListItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	return items, total, nil
}

// CancellationStats counts cancelled enrollments overall, for the ten courses
// with most cancellations, and per month from since onwards.
func (r *EnrollmentRepository) CancellationStats(ctx context.Context, since time.Time) (*models.CancellationStats, error) {
	stats := &models.CancellationStats{}
	if err := r.db.GetContext(ctx, &stats.Total, `SELECT COUNT(*) FROM enrollments WHERE state = 'cancelled'`); err != nil {
		return nil, fmt.Errorf("count cancellations: %w", err)
	}

	const byCourse = `
SELECT e.course_id, c.name AS course_name, COUNT(*) AS total
FROM enrollments e
JOIN courses c ON c.id = e.course_id
WHERE e.state = 'cancelled'
GROUP BY e.course_id, c.name
ORDER BY total DESC, c.name ASC
LIMIT 10`
	if err := r.db.SelectContext(ctx, &stats.ByCourse, byCourse); err != nil {
		return nil, fmt.Errorf("count cancellations by course: %w", err)
	}

	const byMonth = `
SELECT
	EXTRACT(YEAR FROM cancelled_at)::int AS year,
	EXTRACT(MONTH FROM cancelled_at)::int AS month,
	COUNT(*) AS total
FROM enrollments
WHERE state = 'cancelled' AND cancelled_at >= $1
GROUP BY 1, 2
ORDER BY 1 ASC, 2 ASC`
	if err := r.db.SelectContext(ctx, &stats.ByMonth, byMonth, since); err != nil {
		return nil, fmt.Errorf("count cancellations by month: %w", err)
	}
	return stats, nil
}
