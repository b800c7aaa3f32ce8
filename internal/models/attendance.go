package models

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var clockLayouts = []string{"15:04:05.999999", "15:04:05", TimeLayout}

// AttendanceSession is a check-in window for a course. Dates and times are
// stored separately and interpreted in the engine time zone.
type AttendanceSession struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	DateStart time.Time `db:"date_start" json:"-"`
	TimeStart ClockTime `db:"time_start" json:"-"`
	DateEnd   time.Time `db:"date_end" json:"-"`
	TimeEnd   ClockTime `db:"time_end" json:"-"`
	Code      string    `db:"code" json:"code"`
	CreatedBy *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Window resolves the session's instants in loc.
func (s AttendanceSession) Window(loc *time.Location) (Window, error) {
	return NewWindow(s.DateStart.Format(DateLayout), string(s.TimeStart), s.DateEnd.Format(DateLayout), string(s.TimeEnd), loc)
}

// ClockTime is a time of day kept as "15:04:05". lib/pq hands TIME columns
// back as time.Time on year zero, so Scan accepts both forms.
type ClockTime string

// Scan implements sql.Scanner.
func (c *ClockTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = ""
	case time.Time:
		*c = ClockTime(v.Format("15:04:05"))
	case []byte:
		*c = ClockTime(v)
	case string:
		*c = ClockTime(v)
	default:
		return fmt.Errorf("scan clock time: unsupported type %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (c ClockTime) Value() (driver.Value, error) {
	if c == "" {
		return nil, nil
	}
	return string(c), nil
}

// AttendanceRecord marks one user present at one session.
type AttendanceRecord struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Present   bool      `db:"present" json:"present"`
	Duration  float64   `db:"duration" json:"duration"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SessionSummary is a session with its presence counters.
type SessionSummary struct {
	AttendanceSession
	PresentCount  int `db:"present_count" json:"present_count"`
	EnrolledCount int `db:"enrolled_count" json:"enrolled_count"`
}

// RosterEntry is one enrolled user and whether they attended a session.
type RosterEntry struct {
	UserID   string   `db:"user_id" json:"user_id"`
	FullName string   `db:"full_name" json:"full_name"`
	Email    string   `db:"email" json:"email"`
	Present  bool     `db:"present" json:"present"`
	Duration *float64 `db:"duration" json:"duration,omitempty"`
}

// UserAttendance is a user's record joined with the session it belongs to.
type UserAttendance struct {
	AttendanceRecord
	SessionDateStart time.Time `db:"session_date_start" json:"-"`
	SessionTimeStart ClockTime `db:"session_time_start" json:"-"`
	SessionDateEnd   time.Time `db:"session_date_end" json:"-"`
	SessionTimeEnd   ClockTime `db:"session_time_end" json:"-"`
}

// Session rebuilds the parent session's window fields.
func (u UserAttendance) Session() AttendanceSession {
	return AttendanceSession{
		ID:        u.SessionID,
		DateStart: u.SessionDateStart,
		TimeStart: u.SessionTimeStart,
		DateEnd:   u.SessionDateEnd,
		TimeEnd:   u.SessionTimeEnd,
	}
}

// SessionSnapshot is what the session guard sees while the course row is locked.
type SessionSnapshot struct {
	Course   Course
	Sessions []AttendanceSession
}

// CheckInSnapshot is what the check-in guard sees while the course row is locked.
type CheckInSnapshot struct {
	Course Course
	// SessionCount counts every session of the course regardless of code.
	SessionCount int
	// Matching holds the course's sessions carrying the code, newest first.
	Matching []AttendanceSession
	// Recorded lists session IDs in Matching the user already attended.
	Recorded map[string]bool
	// CodeInOtherCourse is set when no session matched here but one did elsewhere.
	CodeInOtherCourse bool
}

// Window is a closed time interval [Start, End].
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow parses date (YYYY-MM-DD) and clock (HH:MM[:SS]) strings in loc.
func NewWindow(dateStart, timeStart, dateEnd, timeEnd string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := parseInstant(dateStart, timeStart, loc)
	if err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseInstant(dateEnd, timeEnd, loc)
	if err != nil {
		return Window{}, fmt.Errorf("end: %w", err)
	}
	return Window{Start: start, End: end}, nil
}

func parseInstant(date, clock string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, err
	}
	clock = strings.TrimSpace(clock)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, clock); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time of day %q", clock)
}

// Valid reports whether the window has strictly positive length.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Hours is the window length in hours.
func (w Window) Hours() float64 {
	return w.End.Sub(w.Start).Hours()
}

// Contains reports whether t lies within the window, both ends inclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// OpenAt reports whether the window has not ended yet at t.
func (w Window) OpenAt(t time.Time) bool {
	return w.End.After(t)
}

// Upcoming reports whether the window starts after t.
func (w Window) Upcoming(t time.Time) bool {
	return w.Start.After(t)
}

// MinutesRemaining is the whole number of minutes until End, never negative.
func (w Window) MinutesRemaining(t time.Time) int {
	if !w.End.After(t) {
		return 0
	}
	return int(math.Floor(w.End.Sub(t).Minutes()))
}

// RoundHours rounds to the two decimals the store keeps.
func RoundHours(h float64) float64 {
	return math.Round(h*100) / 100
}
