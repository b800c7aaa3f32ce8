package dto

import (
	"time"

	"github.com/noah-isme/course-engine-api/internal/models"
)

// SessionWindowRequest carries a session window as entered by an instructor.
type SessionWindowRequest struct {
	DateStart string `json:"date_start" validate:"required,datetime=2006-01-02"`
	TimeStart string `json:"time_start" validate:"required"`
	DateEnd   string `json:"date_end" validate:"required,datetime=2006-01-02"`
	TimeEnd   string `json:"time_end" validate:"required"`
	Code      string `json:"code" validate:"required,min=3,max=20"`
}

// CreateSessionRequest opens a check-in window.
type CreateSessionRequest struct {
	SessionWindowRequest
}

// UpdateSessionRequest corrects an existing window.
type UpdateSessionRequest struct {
	SessionWindowRequest
}

// SessionResponse renders a session with its resolved window.
type SessionResponse struct {
	ID               string     `json:"id"`
	CourseID         string     `json:"course_id"`
	Code             string     `json:"code"`
	DateStart        string     `json:"date_start"`
	TimeStart        string     `json:"time_start"`
	DateEnd          string     `json:"date_end"`
	TimeEnd          string     `json:"time_end"`
	StartsAt         time.Time  `json:"starts_at"`
	EndsAt           time.Time  `json:"ends_at"`
	Hours            float64    `json:"hours"`
	Active           bool       `json:"active"`
	MinutesRemaining int        `json:"minutes_remaining"`
	PresentCount     *int       `json:"present_count,omitempty"`
	EnrolledCount    *int       `json:"enrolled_count,omitempty"`
	CreatedBy        *string    `json:"created_by,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
}

// NewSessionResponse renders session s at now. Active means start <= now < end.
func NewSessionResponse(s models.AttendanceSession, w models.Window, now time.Time) SessionResponse {
	resp := SessionResponse{
		ID:        s.ID,
		CourseID:  s.CourseID,
		Code:      s.Code,
		DateStart: w.Start.Format(models.DateLayout),
		TimeStart: w.Start.Format(models.TimeLayout),
		DateEnd:   w.End.Format(models.DateLayout),
		TimeEnd:   w.End.Format(models.TimeLayout),
		StartsAt:  w.Start,
		EndsAt:    w.End,
		Hours:     models.RoundHours(w.Hours()),
		CreatedBy: s.CreatedBy,
	}
	if !s.CreatedAt.IsZero() {
		created := s.CreatedAt
		resp.CreatedAt = &created
	}
	if !w.Start.After(now) && w.End.After(now) {
		resp.Active = true
		resp.MinutesRemaining = w.MinutesRemaining(now)
	}
	return resp
}

// HourBudgetResponse reports how much of the course's hour budget is used.
type HourBudgetResponse struct {
	CourseID       string  `json:"course_id"`
	Duration       int     `json:"duration"`
	UsedHours      float64 `json:"used_hours"`
	AvailableHours float64 `json:"available_hours"`
}

// CheckInRequest redeems a session code.
type CheckInRequest struct {
	CourseID string `json:"course_id" validate:"required,uuid"`
	Code     string `json:"code" validate:"required,max=20"`
}

// CheckInResponse returns the new record and the session it was credited for.
type CheckInResponse struct {
	Record  models.AttendanceRecord `json:"record"`
	Session SessionResponse         `json:"session"`
}

// RosterResponse lists enrolled users for one session.
type RosterResponse struct {
	Session      SessionResponse      `json:"session"`
	PresentCount int                  `json:"present_count"`
	Total        int                  `json:"total"`
	Entries      []models.RosterEntry `json:"entries"`
}

// UserAttendanceItem is one session a user attended.
type UserAttendanceItem struct {
	Record  models.AttendanceRecord `json:"record"`
	Session SessionResponse         `json:"session"`
}

// UserAttendanceResponse summarises a user's attendance in a course.
type UserAttendanceResponse struct {
	CourseID   string               `json:"course_id"`
	UserID     string               `json:"user_id"`
	TotalHours float64              `json:"total_hours"`
	Records    []UserAttendanceItem `json:"records"`
}
