package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-engine-api/internal/models"
)

const sessionColumns = `id, course_id, date_start, time_start, date_end, time_end, code, created_by, created_at`

const sessionOrder = `ORDER BY date_start DESC, time_start DESC`

// SessionGuard inspects the locked course and its sessions and rejects the write by returning an error.
type SessionGuard func(models.SessionSnapshot) error

// CheckInDecider picks the record to insert from the locked check-in state, or returns an error.
type CheckInDecider func(models.CheckInSnapshot) (*models.AttendanceRecord, error)

// AttendanceRepository persists attendance sessions and records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// CreateSession locks the course, runs guard over the course's sessions and
// inserts session plus the optional creator record. Guard errors are returned
// unchanged after rollback; a missing course yields sql.ErrNoRows.
func (r *AttendanceRepository) CreateSession(ctx context.Context, session *models.AttendanceSession, creator *models.AttendanceRecord, guard SessionGuard) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	snapshot, err := sessionSnapshot(ctx, tx, session.CourseID, "")
	if err != nil {
		return err
	}
	if err = guard(snapshot); err != nil {
		return err
	}

	const insertSession = `INSERT INTO attendance_sessions (` + sessionColumns + `)
VALUES (:id, :course_id, :date_start, :time_start, :date_end, :time_end, :code, :created_by, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insertSession, session); err != nil {
		return fmt.Errorf("insert attendance session: %w", err)
	}
	if creator != nil {
		if err = insertRecord(ctx, tx, creator); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance session: %w", err)
	}
	return nil
}

// UpdateSession rewrites a session's window and code. The guard sees every
// other session of the course. A missing session yields sql.ErrNoRows.
func (r *AttendanceRepository) UpdateSession(ctx context.Context, session *models.AttendanceSession, guard SessionGuard) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session update transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var courseID string
	if err = tx.GetContext(ctx, &courseID, `SELECT course_id FROM attendance_sessions WHERE id = $1`, session.ID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("find attendance session: %w", err)
	}
	session.CourseID = courseID

	snapshot, err := sessionSnapshot(ctx, tx, courseID, session.ID)
	if err != nil {
		return err
	}
	if err = guard(snapshot); err != nil {
		return err
	}

	const update = `UPDATE attendance_sessions
SET date_start = :date_start, time_start = :time_start, date_end = :date_end, time_end = :time_end, code = :code
WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, update, session); err != nil {
		return fmt.Errorf("update attendance session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance session update: %w", err)
	}
	return nil
}

func sessionSnapshot(ctx context.Context, tx *sqlx.Tx, courseID, excludeID string) (models.SessionSnapshot, error) {
	var snapshot models.SessionSnapshot
	course, err := lockCourse(ctx, tx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return snapshot, err
		}
		return snapshot, fmt.Errorf("lock course: %w", err)
	}
	snapshot.Course = *course

	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE course_id = $1 ` + sessionOrder
	args := []interface{}{courseID}
	if excludeID != "" {
		query = `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE course_id = $1 AND id <> $2 ` + sessionOrder
		args = append(args, excludeID)
	}
	if err = tx.SelectContext(ctx, &snapshot.Sessions, query, args...); err != nil {
		return snapshot, fmt.Errorf("list course sessions: %w", err)
	}
	return snapshot, nil
}

// CheckIn locks the course, gathers the sessions carrying code and the user's
// records for them, and inserts whatever decide returns. A missing course
// yields sql.ErrNoRows; a racing duplicate yields ErrDuplicate.
func (r *AttendanceRepository) CheckIn(ctx context.Context, courseID, userID, code string, decide CheckInDecider) (record *models.AttendanceRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin check-in transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	course, err := lockCourse(ctx, tx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock course: %w", err)
	}
	snapshot := models.CheckInSnapshot{Course: *course, Recorded: map[string]bool{}}

	if err = tx.GetContext(ctx, &snapshot.SessionCount, `SELECT COUNT(*) FROM attendance_sessions WHERE course_id = $1`, courseID); err != nil {
		return nil, fmt.Errorf("count course sessions: %w", err)
	}
	if snapshot.SessionCount > 0 {
		if snapshot, err = r.collectMatches(ctx, tx, snapshot, userID, code); err != nil {
			return nil, err
		}
	}

	record, err = decide(snapshot)
	if err != nil {
		return nil, err
	}
	if err = insertRecord(ctx, tx, record); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit check-in: %w", err)
	}
	return record, nil
}

func (r *AttendanceRepository) collectMatches(ctx context.Context, tx *sqlx.Tx, snapshot models.CheckInSnapshot, userID, code string) (models.CheckInSnapshot, error) {
	courseID := snapshot.Course.ID
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE course_id = $1 AND code = $2 ` + sessionOrder
	if err := tx.SelectContext(ctx, &snapshot.Matching, query, courseID, code); err != nil {
		return snapshot, fmt.Errorf("find sessions by code: %w", err)
	}

	if len(snapshot.Matching) == 0 {
		const other = `SELECT EXISTS (SELECT 1 FROM attendance_sessions WHERE code = $1 AND course_id <> $2)`
		if err := tx.GetContext(ctx, &snapshot.CodeInOtherCourse, other, code, courseID); err != nil {
			return snapshot, fmt.Errorf("find code in other courses: %w", err)
		}
		return snapshot, nil
	}

	ids := make([]string, 0, len(snapshot.Matching))
	for _, s := range snapshot.Matching {
		ids = append(ids, s.ID)
	}
	var recorded []string
	const recordedQuery = `SELECT session_id FROM attendance_records WHERE user_id = $1 AND session_id = ANY($2)`
	if err := tx.SelectContext(ctx, &recorded, recordedQuery, userID, pq.Array(ids)); err != nil {
		return snapshot, fmt.Errorf("find user records: %w", err)
	}
	for _, id := range recorded {
		snapshot.Recorded[id] = true
	}
	return snapshot, nil
}

func insertRecord(ctx context.Context, tx *sqlx.Tx, record *models.AttendanceRecord) error {
	const query = `INSERT INTO attendance_records (id, session_id, user_id, present, duration, created_at)
VALUES (:id, :session_id, :user_id, :present, :duration, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, record); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// FindSession returns a session by ID or sql.ErrNoRows.
func (r *AttendanceRepository) FindSession(ctx context.Context, id string) (*models.AttendanceSession, error) {
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance session: %w", err)
	}
	return &session, nil
}

// ListSessions returns every session of a course, newest first.
func (r *AttendanceRepository) ListSessions(ctx context.Context, courseID string) ([]models.AttendanceSession, error) {
	var sessions []models.AttendanceSession
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE course_id = $1 ` + sessionOrder
	if err := r.db.SelectContext(ctx, &sessions, query, courseID); err != nil {
		return nil, fmt.Errorf("list attendance sessions: %w", err)
	}
	return sessions, nil
}

// ListSessionSummaries returns the course's sessions with present and enrolled counts.
func (r *AttendanceRepository) ListSessionSummaries(ctx context.Context, courseID string) ([]models.SessionSummary, error) {
	const query = `
SELECT
	s.id, s.course_id, s.date_start, s.time_start, s.date_end, s.time_end, s.code, s.created_by, s.created_at,
	(SELECT COUNT(*) FROM attendance_records ar WHERE ar.session_id = s.id AND ar.present) AS present_count,
	(SELECT COUNT(*) FROM enrollments e WHERE e.course_id = s.course_id AND e.state = 'enrolled') AS enrolled_count
FROM attendance_sessions s
WHERE s.course_id = $1
ORDER BY s.date_start DESC, s.time_start DESC`
	var items []models.SessionSummary
	if err := r.db.SelectContext(ctx, &items, query, courseID); err != nil {
		return nil, fmt.Errorf("list session summaries: %w", err)
	}
	return items, nil
}

// Roster lists the course's enrolled users with their presence at the session, by name.
func (r *AttendanceRepository) Roster(ctx context.Context, session models.AttendanceSession) ([]models.RosterEntry, error) {
	const query = `
SELECT
	u.id AS user_id,
	u.full_name,
	u.email,
	COALESCE(ar.present, FALSE) AS present,
	ar.duration
FROM enrollments e
JOIN users u ON u.id = e.user_id
LEFT JOIN attendance_records ar ON ar.session_id = $2 AND ar.user_id = e.user_id
WHERE e.course_id = $1 AND e.state = 'enrolled'
ORDER BY u.full_name ASC`
	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, query, session.CourseID, session.ID); err != nil {
		return nil, fmt.Errorf("list session roster: %w", err)
	}
	return entries, nil
}

// UserRecords returns a user's attendance records within a course.
func (r *AttendanceRepository) UserRecords(ctx context.Context, courseID, userID string) ([]models.UserAttendance, error) {
	const query = `
SELECT
	ar.id, ar.session_id, ar.user_id, ar.present, ar.duration, ar.created_at,
	s.date_start AS session_date_start,
	s.time_start AS session_time_start,
	s.date_end AS session_date_end,
	s.time_end AS session_time_end
FROM attendance_records ar
JOIN attendance_sessions s ON s.id = ar.session_id
WHERE s.course_id = $1 AND ar.user_id = $2
ORDER BY s.date_start DESC, s.time_start DESC`
	var items []models.UserAttendance
	if err := r.db.SelectContext(ctx, &items, query, courseID, userID); err != nil {
		return nil, fmt.Errorf("list user attendance: %w", err)
	}
	return items, nil
}
