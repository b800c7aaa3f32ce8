package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
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

type checkInRepository interface {
	CheckIn(ctx context.Context, courseID, userID, code string, decide repository.CheckInDecider) (*models.AttendanceRecord, error)
}

// CheckInService redeems attendance codes.
type CheckInService struct {
	repo      checkInRepository
	cache     sessionCache
	clock     clock.Clock
	loc       *time.Location
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewCheckInService constructs CheckInService. cache may be nil.
func NewCheckInService(repo checkInRepository, cache sessionCache, clk clock.Clock, loc *time.Location, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *CheckInService {
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckInService{repo: repo, cache: cache, clock: clk, loc: loc, validator: validate, metrics: metrics, logger: logger}
}

// CheckIn records the actor present at the course session carrying req.Code
// that is open now. Credit is the full session length.
func (s *CheckInService) CheckIn(ctx context.Context, actor *models.JWTClaims, req dto.CheckInRequest) (resp *dto.CheckInResponse, err error) {
	defer func() { s.metrics.RecordCheckIn(err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req.Code = strings.TrimSpace(req.Code)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid check-in payload")
	}

	now := s.clock.Now()
	var (
		credited models.AttendanceSession
		window   models.Window
	)
	record, err := s.repo.CheckIn(ctx, req.CourseID, actor.UserID, req.Code, func(snap models.CheckInSnapshot) (*models.AttendanceRecord, error) {
		session, w, err := s.pick(snap, now)
		if err != nil {
			return nil, err
		}
		credited, window = session, w
		return &models.AttendanceRecord{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			UserID:    actor.UserID,
			Present:   true,
			Duration:  models.RoundHours(w.Hours()),
			CreatedAt: now,
		}, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.ErrCourseNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.ErrAlreadyCheckedIn
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Internal(err, "failed to record attendance")
	}

	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, sessionsCacheKey(req.CourseID))
	}
	s.logger.Info("attendance recorded",
		zap.String("session_id", record.SessionID),
		zap.String("course_id", req.CourseID),
		zap.String("user_id", actor.UserID),
		zap.Float64("hours", record.Duration),
	)
	return &dto.CheckInResponse{Record: *record, Session: dto.NewSessionResponse(credited, window, now)}, nil
}

// pick chooses the newest matching session that is open at now and not yet
// attended by the user.
func (s *CheckInService) pick(snap models.CheckInSnapshot, now time.Time) (models.AttendanceSession, models.Window, error) {
	if snap.SessionCount == 0 {
		return models.AttendanceSession{}, models.Window{}, appErrors.ErrNoSessions
	}
	if len(snap.Matching) == 0 {
		if snap.CodeInOtherCourse {
			return models.AttendanceSession{}, models.Window{}, appErrors.ErrCodeOtherCourse
		}
		return models.AttendanceSession{}, models.Window{}, appErrors.ErrInvalidCode
	}

	var (
		upcoming    *models.Window
		expired     *models.Window
		allRecorded = true
	)
	for _, session := range snap.Matching {
		w, err := session.Window(s.loc)
		if err != nil {
			return models.AttendanceSession{}, models.Window{}, fmt.Errorf("resolve session %s window: %w", session.ID, err)
		}
		if snap.Recorded[session.ID] {
			continue
		}
		allRecorded = false
		switch {
		case w.Contains(now):
			return session, w, nil
		case w.Upcoming(now):
			if upcoming == nil {
				upcoming = &w
			}
		default:
			if expired == nil {
				expired = &w
			}
		}
	}

	switch {
	case allRecorded:
		return models.AttendanceSession{}, models.Window{}, appErrors.ErrAlreadyCheckedIn
	case upcoming != nil:
		return models.AttendanceSession{}, models.Window{}, appErrors.WithDetails(appErrors.ErrSessionUpcoming, map[string]interface{}{
			"starts_at":        upcoming.Start,
			"ends_at":          upcoming.End,
			"minutes_to_start": int(upcoming.Start.Sub(now).Minutes()),
		})
	default:
		return models.AttendanceSession{}, models.Window{}, appErrors.WithDetails(appErrors.ErrSessionExpired, map[string]interface{}{
			"starts_at": expired.Start,
			"ends_at":   expired.End,
		})
	}
}
