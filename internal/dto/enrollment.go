package dto

import (
	"time"

	"github.com/noah-isme/course-engine-api/internal/models"
)

// EnrollRequest enrolls UserID, or the caller when empty.
type EnrollRequest struct {
	UserID       string  `json:"user_id" validate:"omitempty,uuid"`
	Motivation   *string `json:"motivation" validate:"omitempty,max=2000"`
	Expectations *string `json:"expectations" validate:"omitempty,max=2000"`
}

// EnrollmentResponse returns the new enrollment with the seats left after it.
type EnrollmentResponse struct {
	models.Enrollment
	RemainingSeats *int `json:"remaining_seats"`
}

// CancelEnrollmentRequest carries an optional reason.
type CancelEnrollmentRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

// EnrollmentStatusResponse answers whether the caller is enrolled.
type EnrollmentStatusResponse struct {
	CourseID   string             `json:"course_id"`
	Enrolled   bool               `json:"enrolled"`
	Enrollment *models.Enrollment `json:"enrollment,omitempty"`
}

// Display statuses for a learner's enrollment list.
const (
	DisplayStatusScheduled  = "scheduled"
	DisplayStatusInProgress = "in_progress"
	DisplayStatusFinished   = "finished"
)

// MyEnrollmentItem is one entry of the caller's enrollment list.
type MyEnrollmentItem struct {
	models.EnrollmentDetail
	DisplayStatus string `json:"display_status"`
}

// DisplayStatusAt derives the status shown to a learner from the course window.
func DisplayStatusAt(start, end, now time.Time) string {
	switch {
	case now.Before(start):
		return DisplayStatusScheduled
	case now.After(end):
		return DisplayStatusFinished
	default:
		return DisplayStatusInProgress
	}
}
