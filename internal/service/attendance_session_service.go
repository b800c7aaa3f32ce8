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
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/course-engine-api/internal/dto"
	"github.com/noah-isme/course-engine-api/internal/models"
	"github.com/noah-isme/course-engine-api/internal/repository"
	"github.com/noah-isme/course-engine-api/pkg/cache"
	"github.com/noah-isme/course-engine-api/pkg/clock"
	appErrors "github.com/noah-isme/course-engine-api/pkg/errors"
	"github.com/noah-isme/course-engine-api/pkg/export"
)

type attendanceSessionRepository interface {
	CreateSession(ctx context.Context, session *models.AttendanceSession, creator *models.AttendanceRecord, guard repository.SessionGuard) error
	UpdateSession(ctx context.Context, session *models.AttendanceSession, guard repository.SessionGuard) error
	FindSession(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListSessions(ctx context.Context, courseID string) ([]models.AttendanceSession, error)
	ListSessionSummaries(ctx context.Context, courseID string) ([]models.SessionSummary, error)
	Roster(ctx context.Context, session models.AttendanceSession) ([]models.RosterEntry, error)
	UserRecords(ctx context.Context, courseID, userID string) ([]models.UserAttendance, error)
}

type sessionCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// ExportedFile is a rendered attachment.
type ExportedFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// AttendanceSessionConfig tunes AttendanceSessionService.
type AttendanceSessionConfig struct {
	Location *time.Location
	CacheTTL time.Duration
}

// AttendanceSessionService opens check-in windows within a course's hour budget.
type AttendanceSessionService struct {
	repo      attendanceSessionRepository
	courses   courseReader
	cache     sessionCache
	clock     clock.Clock
	loc       *time.Location
	cacheTTL  time.Duration
	group     singleflight.Group
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewAttendanceSessionService constructs the service. cache may be nil.
func NewAttendanceSessionService(repo attendanceSessionRepository, courses courseReader, cache sessionCache, clk clock.Clock, cfg AttendanceSessionConfig, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *AttendanceSessionService {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceSessionService{
		repo:      repo,
		courses:   courses,
		cache:     cache,
		clock:     clk,
		loc:       cfg.Location,
		cacheTTL:  cfg.CacheTTL,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
	}
}

// CreateSession opens a window for the course and credits the creator for it.
func (s *AttendanceSessionService) CreateSession(ctx context.Context, actor *models.JWTClaims, courseID string, req dto.CreateSessionRequest) (resp *dto.SessionResponse, err error) {
	defer func() { s.metrics.RecordSessionCreation(err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	window, err := s.parseWindow(req.SessionWindowRequest)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := newSession(courseID, req.SessionWindowRequest, window, now)
	session.CreatedBy = &actor.UserID
	creator := &models.AttendanceRecord{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    actor.UserID,
		Present:   true,
		Duration:  models.RoundHours(window.Hours()),
		CreatedAt: now,
	}

	err = s.repo.CreateSession(ctx, session, creator, func(snap models.SessionSnapshot) error {
		if !actor.IsAdmin() && !snap.Course.IsInstructor(actor.UserID) {
			return appErrors.Clone(appErrors.ErrForbidden, "only the course instructor can open attendance sessions")
		}
		return s.checkWindow(snap, window, now, false)
	})
	if err != nil {
		return nil, s.mapSessionError(err, "failed to create attendance session")
	}

	s.invalidate(ctx, courseID)
	s.logger.Info("attendance session opened",
		zap.String("session_id", session.ID),
		zap.String("course_id", courseID),
		zap.Float64("hours", creator.Duration),
		zap.String("actor_id", actor.UserID),
	)
	out := dto.NewSessionResponse(*session, window, now)
	return &out, nil
}

// UpdateSession corrects a session's window and code. The budget is rechecked
// against the other sessions of the course.
func (s *AttendanceSessionService) UpdateSession(ctx context.Context, actor *models.JWTClaims, sessionID string, req dto.UpdateSessionRequest) (*dto.SessionResponse, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can correct attendance sessions")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	window, err := s.parseWindow(req.SessionWindowRequest)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Internal(err, "failed to load attendance session")
	}

	now := s.clock.Now()
	session := newSession(existing.CourseID, req.SessionWindowRequest, window, existing.CreatedAt)
	session.ID = existing.ID
	session.CreatedBy = existing.CreatedBy

	err = s.repo.UpdateSession(ctx, session, func(snap models.SessionSnapshot) error {
		return s.checkWindow(snap, window, now, true)
	})
	if err != nil {
		return nil, s.mapSessionError(err, "failed to update attendance session")
	}

	s.invalidate(ctx, session.CourseID)
	s.logger.Info("attendance session corrected", zap.String("session_id", sessionID), zap.String("actor_id", actor.UserID))
	out := dto.NewSessionResponse(*session, window, now)
	return &out, nil
}

func (s *AttendanceSessionService) parseWindow(req dto.SessionWindowRequest) (models.Window, error) {
	window, err := models.NewWindow(req.DateStart, req.TimeStart, req.DateEnd, req.TimeEnd, s.loc)
	if err != nil {
		invalid := appErrors.Clone(appErrors.ErrInvalidWindow, "session window could not be parsed")
		invalid.Err = err
		return models.Window{}, invalid
	}
	if !window.Valid() {
		return models.Window{}, appErrors.WithDetails(appErrors.ErrInvalidWindow, map[string]interface{}{
			"starts_at": window.Start,
			"ends_at":   window.End,
		})
	}
	return window, nil
}

func newSession(courseID string, req dto.SessionWindowRequest, w models.Window, createdAt time.Time) *models.AttendanceSession {
	return &models.AttendanceSession{
		ID:        uuid.NewString(),
		CourseID:  courseID,
		DateStart: calendarDay(w.Start),
		TimeStart: models.ClockTime(w.Start.Format("15:04:05")),
		DateEnd:   calendarDay(w.End),
		TimeEnd:   models.ClockTime(w.End.Format("15:04:05")),
		Code:      strings.TrimSpace(req.Code),
		CreatedAt: createdAt,
	}
}

// calendarDay keeps the local calendar date of t for a DATE column.
func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// checkWindow rejects a window when another session is still open or when the
// course's hour budget cannot absorb it. A correction only conflicts with an
// open session when the corrected window is itself still open.
func (s *AttendanceSessionService) checkWindow(snap models.SessionSnapshot, window models.Window, now time.Time, correcting bool) error {
	var used float64
	for _, existing := range snap.Sessions {
		w, err := existing.Window(s.loc)
		if err != nil {
			return fmt.Errorf("resolve session %s window: %w", existing.ID, err)
		}
		if w.OpenAt(now) && (!correcting || window.OpenAt(now)) {
			return appErrors.WithDetails(appErrors.ErrSessionOverlap, map[string]interface{}{
				"session_id": existing.ID,
				"starts_at":  w.Start,
				"ends_at":    w.End,
			})
		}
		used += w.Hours()
	}

	requested := window.Hours()
	duration := float64(snap.Course.Duration)
	if models.RoundHours(used+requested) > duration {
		remaining := duration - used
		if remaining < 0 {
			remaining = 0
		}
		return appErrors.WithDetails(appErrors.ErrHourBudgetExceeded, map[string]interface{}{
			"duration":        snap.Course.Duration,
			"used_hours":      models.RoundHours(used),
			"remaining_hours": models.RoundHours(remaining),
			"requested_hours": models.RoundHours(requested),
		})
	}
	return nil
}

func (s *AttendanceSessionService) mapSessionError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.ErrCourseNotFound
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Internal(err, message)
}

// ListSessions returns the course's sessions newest first with presence counts
// and whether they came from cache. Active flags are computed on every call.
func (s *AttendanceSessionService) ListSessions(ctx context.Context, courseID string) ([]dto.SessionResponse, bool, error) {
	if _, err := s.course(ctx, courseID); err != nil {
		return nil, false, err
	}

	key := sessionsCacheKey(courseID)
	var entries []sessionCacheEntry
	hit := false
	if s.cache != nil {
		var err error
		if hit, err = s.cache.Get(ctx, key, &entries); err != nil {
			hit = false
		}
	}
	if !hit {
		v, err, _ := s.group.Do(key, func() (interface{}, error) {
			summaries, err := s.repo.ListSessionSummaries(ctx, courseID)
			if err != nil {
				return nil, err
			}
			fresh := make([]sessionCacheEntry, 0, len(summaries))
			for _, summary := range summaries {
				fresh = append(fresh, newSessionCacheEntry(summary))
			}
			if s.cache != nil {
				_ = s.cache.Set(ctx, key, fresh, s.cacheTTL)
			}
			return fresh, nil
		})
		if err != nil {
			return nil, false, appErrors.Internal(err, "failed to list attendance sessions")
		}
		entries = v.([]sessionCacheEntry)
	}

	now := s.clock.Now()
	out := make([]dto.SessionResponse, 0, len(entries))
	for _, entry := range entries {
		summary := entry.summary()
		w, err := summary.Window(s.loc)
		if err != nil {
			s.logger.Warn("skipping unreadable session window", zap.String("session_id", summary.ID), zap.Error(err))
			continue
		}
		resp := dto.NewSessionResponse(summary.AttendanceSession, w, now)
		present, enrolled := summary.PresentCount, summary.EnrolledCount
		resp.PresentCount = &present
		resp.EnrolledCount = &enrolled
		out = append(out, resp)
	}
	return out, hit, nil
}

func sessionsCacheKey(courseID string) string {
	return cache.Key("courses", courseID, "attendance-sessions")
}

func (s *AttendanceSessionService) invalidate(ctx context.Context, courseID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, sessionsCacheKey(courseID))
}

// sessionCacheEntry is the cached form of a session summary. Date and time
// columns are hidden from the API encoding, so they are carried explicitly.
type sessionCacheEntry struct {
	ID            string           `json:"id"`
	CourseID      string           `json:"course_id"`
	DateStart     time.Time        `json:"date_start"`
	TimeStart     models.ClockTime `json:"time_start"`
	DateEnd       time.Time        `json:"date_end"`
	TimeEnd       models.ClockTime `json:"time_end"`
	Code          string           `json:"code"`
	CreatedBy     *string          `json:"created_by,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	PresentCount  int              `json:"present_count"`
	EnrolledCount int              `json:"enrolled_count"`
}

func newSessionCacheEntry(s models.SessionSummary) sessionCacheEntry {
	return sessionCacheEntry{
		ID:            s.ID,
		CourseID:      s.CourseID,
		DateStart:     s.DateStart,
		TimeStart:     s.TimeStart,
		DateEnd:       s.DateEnd,
		TimeEnd:       s.TimeEnd,
		Code:          s.Code,
		CreatedBy:     s.CreatedBy,
		CreatedAt:     s.CreatedAt,
		PresentCount:  s.PresentCount,
		EnrolledCount: s.EnrolledCount,
	}
}

func (e sessionCacheEntry) summary() models.SessionSummary {
	return models.SessionSummary{
		AttendanceSession: models.AttendanceSession{
			ID:        e.ID,
			CourseID:  e.CourseID,
			DateStart: e.DateStart,
			TimeStart: e.TimeStart,
			DateEnd:   e.DateEnd,
			TimeEnd:   e.TimeEnd,
			Code:      e.Code,
			CreatedBy: e.CreatedBy,
			CreatedAt: e.CreatedAt,
		},
		PresentCount:  e.PresentCount,
		EnrolledCount: e.EnrolledCount,
	}
}

// HourBudget reports how many of the course's hours are already scheduled.
func (s *AttendanceSessionService) HourBudget(ctx context.Context, courseID string) (*dto.HourBudgetResponse, error) {
	course, err := s.course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.repo.ListSessions(ctx, courseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list attendance sessions")
	}
	var used float64
	for _, session := range sessions {
		w, err := session.Window(s.loc)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to resolve session window")
		}
		used += w.Hours()
	}
	available := float64(course.Duration) - used
	if available < 0 {
		available = 0
	}
	return &dto.HourBudgetResponse{
		CourseID:       courseID,
		Duration:       course.Duration,
		UsedHours:      models.RoundHours(used),
		AvailableHours: models.RoundHours(available),
	}, nil
}

// Roster lists the course's enrolled users with their presence at the session.
func (s *AttendanceSessionService) Roster(ctx context.Context, actor *models.JWTClaims, sessionID string) (*dto.RosterResponse, error) {
	session, _, err := s.sessionForStaff(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	return s.roster(ctx, *session)
}

func (s *AttendanceSessionService) roster(ctx context.Context, session models.AttendanceSession) (*dto.RosterResponse, error) {
	w, err := session.Window(s.loc)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to resolve session window")
	}
	entries, err := s.repo.Roster(ctx, session)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load session roster")
	}
	if entries == nil {
		entries = []models.RosterEntry{}
	}
	resp := &dto.RosterResponse{
		Session: dto.NewSessionResponse(session, w, s.clock.Now()),
		Total:   len(entries),
		Entries: entries,
	}
	for _, e := range entries {
		if e.Present {
			resp.PresentCount++
		}
	}
	return resp, nil
}

// ExportRoster renders the session roster as an attendance sheet.
func (s *AttendanceSessionService) ExportRoster(ctx context.Context, actor *models.JWTClaims, sessionID, format string) (*ExportedFile, error) {
	renderer, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}
	session, course, err := s.sessionForStaff(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	roster, err := s.roster(ctx, *session)
	if err != nil {
		return nil, err
	}

	table := export.Table{
		Title: fmt.Sprintf("Attendance sheet: %s", course.Name),
		Fields: []export.Field{
			{Label: "Course", Value: course.Name},
			{Label: "Window", Value: fmt.Sprintf("%s %s - %s %s", roster.Session.DateStart, roster.Session.TimeStart, roster.Session.DateEnd, roster.Session.TimeEnd)},
			{Label: "Present", Value: fmt.Sprintf("%d/%d", roster.PresentCount, roster.Total)},
		},
		Headers: []string{"Name", "Email", "Present", "Hours"},
	}
	for _, e := range roster.Entries {
		present, hours := "no", ""
		if e.Present {
			present = "yes"
		}
		if e.Duration != nil {
			hours = fmt.Sprintf("%.2f", *e.Duration)
		}
		table.Rows = append(table.Rows, []string{e.FullName, e.Email, present, hours})
	}

	body, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render attendance sheet")
	}
	return &ExportedFile{
		Filename:    fmt.Sprintf("attendance-%s-%s.%s", roster.Session.DateStart, sessionID, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

// UserRecords lists a user's attendance in a course. Users see their own;
// instructors and administrators see anyone's.
func (s *AttendanceSessionService) UserRecords(ctx context.Context, actor *models.JWTClaims, courseID, userID string) (*dto.UserAttendanceResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	course, err := s.course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != userID && !actor.IsAdmin() && !course.IsInstructor(actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another user's attendance")
	}

	rows, err := s.repo.UserRecords(ctx, courseID, userID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load user attendance")
	}
	now := s.clock.Now()
	resp := &dto.UserAttendanceResponse{CourseID: courseID, UserID: userID, Records: make([]dto.UserAttendanceItem, 0, len(rows))}
	var total float64
	for _, row := range rows {
		session := row.Session()
		session.CourseID = courseID
		w, err := session.Window(s.loc)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to resolve session window")
		}
		resp.Records = append(resp.Records, dto.UserAttendanceItem{
			Record:  row.AttendanceRecord,
			Session: dto.NewSessionResponse(session, w, now),
		})
		if row.Present {
			total += row.Duration
		}
	}
	resp.TotalHours = models.RoundHours(total)
	return resp, nil
}

func (s *AttendanceSessionService) course(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrCourseNotFound
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	return course, nil
}

func (s *AttendanceSessionService) sessionForStaff(ctx context.Context, actor *models.JWTClaims, sessionID string) (*models.AttendanceSession, *models.Course, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	session, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrSessionNotFound
		}
		return nil, nil, appErrors.Internal(err, "failed to load attendance session")
	}
	course, err := s.course(ctx, session.CourseID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin() && !course.IsInstructor(actor.UserID) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only the course instructor can view this session")
	}
	return session, course, nil
}
