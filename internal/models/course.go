package models

import "time"

// CourseType distinguishes capacity-bounded courses from self-paced ones.
type CourseType string

const (
	CourseTypeSynchronous  CourseType = "synchronous"
	CourseTypeAsynchronous CourseType = "asynchronous"
)

// CourseState is the time-driven lifecycle state of a course.
type CourseState string

const (
	CourseStatePlanned  CourseState = "planned"
	CourseStateOngoing  CourseState = "ongoing"
	CourseStateFinished CourseState = "finished"
)

// Rank orders states so planned < ongoing < finished. Unknown states rank lowest.
func (s CourseState) Rank() int {
	switch s {
	case CourseStatePlanned:
		return 1
	case CourseStateOngoing:
		return 2
	case CourseStateFinished:
		return 3
	default:
		return 0
	}
}

// Course is a scheduled offering with an hour budget and optional seat limit.
type Course struct {
	ID           string      `db:"id" json:"id"`
	Name         string      `db:"name" json:"name"`
	Type         CourseType  `db:"type" json:"type"`
	Seats        *int        `db:"seats" json:"seats,omitempty"`
	Duration     int         `db:"duration" json:"duration"`
	StartDate    time.Time   `db:"start_date" json:"start_date"`
	EndDate      time.Time   `db:"end_date" json:"end_date"`
	State        CourseState `db:"state" json:"state"`
	Active       bool        `db:"active" json:"active"`
	InstructorID *string     `db:"instructor_id" json:"instructor_id,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// Capped reports whether enrollments are bounded by Seats.
func (c Course) Capped() bool {
	return c.Type == CourseTypeSynchronous && c.Seats != nil
}

// IsInstructor reports whether userID teaches the course.
func (c Course) IsInstructor(userID string) bool {
	return c.InstructorID != nil && *c.InstructorID == userID
}

// StateAt derives the lifecycle state for the course window at now.
func (c Course) StateAt(now time.Time) CourseState {
	switch {
	case !c.EndDate.After(now):
		return CourseStateFinished
	case !c.StartDate.After(now):
		return CourseStateOngoing
	default:
		return CourseStatePlanned
	}
}
