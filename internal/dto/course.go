package dto

import (
	"time"

	"github.com/noah-isme/course-engine-api/internal/models"
)

// CreateCourseRequest is the authoring payload. Seats counts learner seats only.
type CreateCourseRequest struct {
	Name         string            `json:"name" validate:"required,max=200"`
	Type         models.CourseType `json:"type" validate:"required,oneof=synchronous asynchronous"`
	Seats        *int              `json:"seats" validate:"omitempty,min=0"`
	Duration     int               `json:"duration" validate:"required,min=1"`
	StartDate    time.Time         `json:"start_date" validate:"required"`
	EndDate      time.Time         `json:"end_date" validate:"required,gtefield=StartDate"`
	InstructorID *string           `json:"instructor_id" validate:"omitempty,uuid"`
}
