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
	"github.com/noah-isme/course-engine-api/internal/repository"
	"github.com/noah-isme/course-engine-api/pkg/clock"
	appErrors "github.com/noah-isme/course-engine-api/pkg/errors"
)

type enrollmentRepository interface {
	Enroll(ctx context.Context, enrollment *models.Enrollment, guard repository.EnrollmentGuard) (models.EnrollmentSnapshot, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindActive(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	Cancel(ctx context.Context, id string, reason *string, at time.Time) (bool, error)
	ListActiveByUser(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, int, error)
	CancellationStats(ctx context.Context, since time.Time) (*models.CancellationStats, error)
}

type enrollmentNotifier interface {
	EnrollmentConfirmed(enrollment models.Enrollment)
	EnrollmentCancelled(enrollment models.Enrollment)
}

// EnrollmentService enforces seat limits and single active enrollment per user and course.
type EnrollmentService struct {
	repo      enrollmentRepository
	notifier  enrollmentNotifier
	cache     sessionCache
	clock     clock.Clock
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService. notifier and cache may be nil.
func NewEnrollmentService(repo enrollmentRepository, notifier enrollmentNotifier, cache sessionCache, clk clock.Clock, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *EnrollmentService {
	if clk == nil {
		clk = clock.Real{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, notifier: notifier, cache: cache, clock: clk, validator: validate, metrics: metrics, logger: logger}
}

// Enroll registers req.UserID, or the actor, in the course.
func (s *EnrollmentService) Enroll(ctx context.Context, actor *models.JWTClaims, courseID string, req dto.EnrollRequest) (resp *dto.EnrollmentResponse, err error) {
	defer func() { s.metrics.RecordEnrollment(err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	userID := req.UserID
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can enroll other users")
	}

	now := s.clock.Now()
	enrollment := &models.Enrollment{
		ID:             uuid.NewString(),
		UserID:         userID,
		CourseID:       courseID,
		State:          models.EnrollmentStateEnrolled,
		EnrollmentDate: now,
		Motivation:     req.Motivation,
		Expectations:   req.Expectations,
	}

	snapshot, err := s.repo.Enroll(ctx, enrollment, func(snap models.EnrollmentSnapshot) error {
		return checkEnrollment(snap, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.ErrCourseNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.ErrAlreadyEnrolled
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Internal(err, "failed to create enrollment")
	}

	// The snapshot was taken before the insert.
	snapshot.Enrolled++
	s.invalidateSessions(ctx, courseID)
	s.logger.Info("user enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("course_id", courseID),
		zap.String("user_id", userID),
		zap.String("actor_id", actor.UserID),
	)
	if s.notifier != nil {
		s.notifier.EnrollmentConfirmed(*enrollment)
	}
	return &dto.EnrollmentResponse{Enrollment: *enrollment, RemainingSeats: snapshot.RemainingSeats()}, nil
}

// checkEnrollment applies the enrollment preconditions in order against the locked course.
func checkEnrollment(snap models.EnrollmentSnapshot, now time.Time) error {
	course := snap.Course
	if !course.Active {
		return appErrors.ErrCourseInactive
	}
	if now.After(course.StartDate) {
		return appErrors.WithDetails(appErrors.ErrEnrollmentClosed, map[string]interface{}{
			"start_date": course.StartDate,
		})
	}
	if snap.AlreadyEnrolled {
		return appErrors.ErrAlreadyEnrolled
	}
	if course.Capped() && snap.Enrolled >= *course.Seats {
		return appErrors.WithDetails(appErrors.ErrNoCapacity, map[string]interface{}{
			"seats":           *course.Seats,
			"enrolled":        snap.Enrolled,
			"remaining_seats": 0,
		})
	}
	return nil
}

// Cancel soft-deletes an enrollment. Only its owner or an administrator may cancel it.
func (s *EnrollmentService) Cancel(ctx context.Context, actor *models.JWTClaims, enrollmentID string, req dto.CancelEnrollmentRequest) (*models.Enrollment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}
	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}
	if enrollment.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the enrolled user or an administrator can cancel")
	}
	if enrollment.State != models.EnrollmentStateEnrolled {
		return nil, appErrors.ErrEnrollmentInactive
	}

	now := s.clock.Now()
	ok, err := s.repo.Cancel(ctx, enrollmentID, req.Reason, now)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to cancel enrollment")
	}
	if !ok {
		return nil, appErrors.ErrEnrollmentInactive
	}

	enrollment.State = models.EnrollmentStateCancelled
	enrollment.CancelledAt = &now
	enrollment.CancellationReason = req.Reason
	s.invalidateSessions(ctx, enrollment.CourseID)
	s.logger.Info("enrollment cancelled", zap.String("enrollment_id", enrollmentID), zap.String("actor_id", actor.UserID))
	if s.notifier != nil {
		s.notifier.EnrollmentCancelled(*enrollment)
	}
	return enrollment, nil
}

// Status reports whether the actor holds an active enrollment in the course.
func (s *EnrollmentService) Status(ctx context.Context, actor *models.JWTClaims, courseID string) (*dto.EnrollmentStatusResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	resp := &dto.EnrollmentStatusResponse{CourseID: courseID}
	enrollment, err := s.repo.FindActive(ctx, actor.UserID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resp, nil
		}
		return nil, appErrors.Internal(err, "failed to load enrollment status")
	}
	resp.Enrolled = true
	resp.Enrollment = enrollment
	return resp, nil
}

// ListMine pages through the actor's active enrollments.
func (s *EnrollmentService) ListMine(ctx context.Context, actor *models.JWTClaims, page, pageSize int) ([]dto.MyEnrollmentItem, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.EnrollmentFilter{UserID: actor.UserID, Page: page, PageSize: pageSize}
	details, total, err := s.repo.ListActiveByUser(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list enrollments")
	}

	now := s.clock.Now()
	items := make([]dto.MyEnrollmentItem, 0, len(details))
	for _, d := range details {
		items = append(items, dto.MyEnrollmentItem{
			EnrollmentDetail: d,
			DisplayStatus:    dto.DisplayStatusAt(d.CourseStartDate, d.CourseEndDate, now),
		})
	}

	return items, pageOf(page, pageSize, total), nil
}

// List pages through all enrollments. Administrators only.
func (s *EnrollmentService) List(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can list all enrollments")
	}
	if filter.State != "" && filter.State != models.EnrollmentStateEnrolled && filter.State != models.EnrollmentStateCancelled {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "state must be enrolled or cancelled")
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list enrollments")
	}
	return nonNilItems(items), pageOf(filter.Page, filter.PageSize, total), nil
}

// ListCancelled pages through cancelled enrollments, newest cancellation first.
// Non-administrators only see their own history.
func (s *EnrollmentService) ListCancelled(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		if filter.UserID != "" && filter.UserID != actor.UserID {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can view other users' cancellations")
		}
		filter.UserID = actor.UserID
	}
	filter.State = models.EnrollmentStateCancelled
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list cancelled enrollments")
	}
	return nonNilItems(items), pageOf(filter.Page, filter.PageSize, total), nil
}

// GetCancelled returns one cancelled enrollment to its owner or an administrator.
func (s *EnrollmentService) GetCancelled(ctx context.Context, actor *models.JWTClaims, id string) (*models.Enrollment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}
	if enrollment.State != models.EnrollmentStateCancelled {
		return nil, appErrors.ErrEnrollmentNotFound
	}
	if enrollment.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the enrolled user or an administrator can view this cancellation")
	}
	return enrollment, nil
}

// CancellationStats summarises cancellations overall, for the ten most
// cancelled courses and for each of the last six calendar months.
func (s *EnrollmentService) CancellationStats(ctx context.Context, actor *models.JWTClaims) (*models.CancellationStats, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can view cancellation statistics")
	}
	now := s.clock.Now()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -(statsMonths - 1), 0)
	stats, err := s.repo.CancellationStats(ctx, since)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to compute cancellation statistics")
	}
	if stats.ByCourse == nil {
		stats.ByCourse = []models.CourseCancellations{}
	}
	if stats.ByMonth == nil {
		stats.ByMonth = []models.MonthCancellations{}
	}
	return stats, nil
}

const statsMonths = 6

func (s *EnrollmentService) invalidateSessions(ctx context.Context, courseID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, sessionsCacheKey(courseID)); err != nil {
		s.logger.Warn("failed to invalidate session cache", zap.String("course_id", courseID), zap.Error(err))
	}
}

func pageOf(page, pageSize, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}

func nonNilItems(items []models.EnrollmentListItem) []models.EnrollmentListItem {
	if items == nil {
		return []models.EnrollmentListItem{}
	}
	return items
}
