package models

import "time"

// EnrollmentState is the soft-delete flag of an enrollment row.
type EnrollmentState string

const (
	EnrollmentStateEnrolled  EnrollmentState = "enrolled"
	EnrollmentStateCancelled EnrollmentState = "cancelled"
)

// Enrollment binds a user to a course. Grade, certificate and attendance hours
// are written by the evaluation service.
type Enrollment struct {
	ID                 string          `db:"id" json:"id"`
	UserID             string          `db:"user_id" json:"user_id"`
	CourseID           string          `db:"course_id" json:"course_id"`
	State              EnrollmentState `db:"state" json:"state"`
	EnrollmentDate     time.Time       `db:"enrollment_date" json:"enrollment_date"`
	Motivation         *string         `db:"motivation" json:"motivation,omitempty"`
	Expectations       *string         `db:"expectations" json:"expectations,omitempty"`
	FinalGrade         *float64        `db:"final_grade" json:"final_grade,omitempty"`
	CertificateIssued  bool            `db:"certificate_issued" json:"certificate_issued"`
	AttendanceHours    *int            `db:"attendance_hours" json:"attendance_hours,omitempty"`
	CancelledAt        *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
}

// EnrollmentDetail joins the enrollment with its course window.
type EnrollmentDetail struct {
	Enrollment
	CourseName      string      `db:"course_name" json:"course_name"`
	CourseType      CourseType  `db:"course_type" json:"course_type"`
	CourseState     CourseState `db:"course_state" json:"course_state"`
	CourseStartDate time.Time   `db:"course_start_date" json:"course_start_date"`
	CourseEndDate   time.Time   `db:"course_end_date" json:"course_end_date"`
}

// EnrollmentFilter narrows and paginates enrollment listings. Empty fields match everything.
type EnrollmentFilter struct {
	UserID   string
	CourseID string
	State    EnrollmentState
	Page     int
	PageSize int
}

// EnrollmentListItem is an enrollment joined with its learner and course, as administrators see it.
type EnrollmentListItem struct {
	EnrollmentDetail
	UserName  string `db:"user_name" json:"user_name"`
	UserEmail string `db:"user_email" json:"user_email"`
}

// CourseCancellations counts cancelled enrollments of one course.
type CourseCancellations struct {
	CourseID   string `db:"course_id" json:"course_id"`
	CourseName string `db:"course_name" json:"course_name"`
	Total      int    `db:"total" json:"total"`
}

// MonthCancellations counts cancellations within one calendar month.
type MonthCancellations struct {
	Year  int `db:"year" json:"year"`
	Month int `db:"month" json:"month"`
	Total int `db:"total" json:"total"`
}

// CancellationStats aggregates cancelled enrollments.
type CancellationStats struct {
	Total    int                   `json:"total"`
	ByCourse []CourseCancellations `json:"by_course"`
	ByMonth  []MonthCancellations  `json:"by_month"`
}

// EnrollmentSnapshot is what the enrollment guard sees while the course row is locked.
type EnrollmentSnapshot struct {
	Course          Course
	Enrolled        int
	AlreadyEnrolled bool
}

// RemainingSeats returns the free seats, or nil when the course is uncapped.
func (s EnrollmentSnapshot) RemainingSeats() *int {
	if !s.Course.Capped() {
		return nil
	}
	remaining := *s.Course.Seats - s.Enrolled
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}
