package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-engine-api/internal/dto"
	"github.com/noah-isme/course-engine-api/internal/models"
	"github.com/noah-isme/course-engine-api/pkg/clock"
	appErrors "github.com/noah-isme/course-engine-api/pkg/errors"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course, instructor *models.Enrollment) error
}

// CourseService creates courses and resolves them for other services.
type CourseService struct {
	repo      courseRepository
	users     userReader
	clock     clock.Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, users userReader, clk clock.Clock, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if clk == nil {
		clk = clock.Real{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, users: users, clock: clk, validator: validate, logger: logger}
}

// Create stores a course. Synchronous courses with an instructor reserve one
// extra seat and enroll the instructor in the same transaction.
func (s *CourseService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateCourseRequest) (*models.Course, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can create courses")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if req.Type == models.CourseTypeSynchronous && req.Seats == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "synchronous courses require seats")
	}
	if req.InstructorID != nil {
		instructor, err := s.users.FindByID(ctx, *req.InstructorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
			}
			return nil, appErrors.Internal(err, "failed to load instructor")
		}
		if instructor.Role != models.RoleInstructor && instructor.Role != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrValidation, "instructor must hold the INSTRUCTOR role")
		}
	}

	now := s.clock.Now()
	course := &models.Course{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Type:         req.Type,
		Duration:     req.Duration,
		StartDate:    req.StartDate.UTC(),
		EndDate:      req.EndDate.UTC(),
		Active:       true,
		InstructorID: req.InstructorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	course.State = course.StateAt(now)

	var instructorEnrollment *models.Enrollment
	if req.Type == models.CourseTypeSynchronous {
		seats := *req.Seats
		if req.InstructorID != nil {
			seats++
			instructorEnrollment = instructorSeat(course, *req.InstructorID, now)
		}
		course.Seats = &seats
	}

	if err := s.repo.Create(ctx, course, instructorEnrollment); err != nil {
		return nil, appErrors.Internal(err, "failed to create course")
	}
	s.logger.Info("course created",
		zap.String("course_id", course.ID),
		zap.String("type", string(course.Type)),
		zap.String("actor_id", actor.UserID),
	)
	return course, nil
}

func instructorSeat(course *models.Course, instructorID string, now time.Time) *models.Enrollment {
	return &models.Enrollment{
		ID:             uuid.NewString(),
		UserID:         instructorID,
		CourseID:       course.ID,
		State:          models.EnrollmentStateEnrolled,
		EnrollmentDate: now,
	}
}

// Get returns a course by ID.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrCourseNotFound
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	return course, nil
}
