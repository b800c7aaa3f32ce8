package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-engine-api/internal/dto"
	"github.com/noah-isme/course-engine-api/internal/middleware"
	"github.com/noah-isme/course-engine-api/internal/models"
	"github.com/noah-isme/course-engine-api/internal/service"
	appErrors "github.com/noah-isme/course-engine-api/pkg/errors"
	"github.com/noah-isme/course-engine-api/pkg/response"
)

type attendanceSessionService interface {
	CreateSession(ctx context.Context, actor *models.JWTClaims, courseID string, req dto.CreateSessionRequest) (*dto.SessionResponse, error)
	UpdateSession(ctx context.Context, actor *models.JWTClaims, sessionID string, req dto.UpdateSessionRequest) (*dto.SessionResponse, error)
	ListSessions(ctx context.Context, courseID string) ([]dto.SessionResponse, bool, error)
	HourBudget(ctx context.Context, courseID string) (*dto.HourBudgetResponse, error)
	Roster(ctx context.Context, actor *models.JWTClaims, sessionID string) (*dto.RosterResponse, error)
	ExportRoster(ctx context.Context, actor *models.JWTClaims, sessionID, format string) (*service.ExportedFile, error)
	UserRecords(ctx context.Context, actor *models.JWTClaims, courseID, userID string) (*dto.UserAttendanceResponse, error)
}

type checkInService interface {
	CheckIn(ctx context.Context, actor *models.JWTClaims, req dto.CheckInRequest) (*dto.CheckInResponse, error)
}

// AttendanceHandler exposes attendance session and check-in endpoints.
type AttendanceHandler struct {
	sessions attendanceSessionService
	checkIns checkInService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(sessions attendanceSessionService, checkIns checkInService) *AttendanceHandler {
	return &AttendanceHandler{sessions: sessions, checkIns: checkIns}
}

// CreateSession godoc
// @Summary Open attendance session
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.CreateSessionRequest true "Session window"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/attendance-sessions [post]
func (h *AttendanceHandler) CreateSession(c *gin.Context) {
	courseID, ok := pathID(c, "id", appErrors.ErrCourseNotFound)
	if !ok {
		return
	}
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	session, err := h.sessions.CreateSession(c.Request.Context(), claimsFromContext(c), courseID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// UpdateSession godoc
// @Summary Correct attendance session window
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.UpdateSessionRequest true "Session window"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance-sessions/{id} [put]
func (h *AttendanceHandler) UpdateSession(c *gin.Context) {
	sessionID, ok := pathID(c, "id", appErrors.ErrSessionNotFound)
	if !ok {
		return
	}
	var req dto.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	session, err := h.sessions.UpdateSession(c.Request.Context(), claimsFromContext(c), sessionID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// ListSessions godoc
// @Summary List attendance sessions
// @Tags Attendance
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/attendance-sessions [get]
func (h *AttendanceHandler) ListSessions(c *gin.Context) {
	courseID, ok := pathID(c, "id", appErrors.ErrCourseNotFound)
	if !ok {
		return
	}
	sessions, hit, err := h.sessions.ListSessions(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, sessions, nil, middleware.ExtractMeta(c))
}

// HourBudget godoc
// @Summary Course hour budget
// @Tags Attendance
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/attendance-hours [get]
func (h *AttendanceHandler) HourBudget(c *gin.Context) {
	courseID, ok := pathID(c, "id", appErrors.ErrCourseNotFound)
	if !ok {
		return
	}
	budget, err := h.sessions.HourBudget(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, budget)
}

// UserRecords godoc
// @Summary Attendance records of a user
// @Tags Attendance
// @Produce json
// @Param id path string true "Course ID"
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/attendance/users/{userId} [get]
func (h *AttendanceHandler) UserRecords(c *gin.Context) {
	courseID, ok := pathID(c, "id", appErrors.ErrCourseNotFound)
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId", errUserNotFound)
	if !ok {
		return
	}
	records, err := h.sessions.UserRecords(c.Request.Context(), claimsFromContext(c), courseID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, records)
}

// Roster godoc
// @Summary Session roster
// @Tags Attendance
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance-sessions/{id}/roster [get]
func (h *AttendanceHandler) Roster(c *gin.Context) {
	sessionID, ok := pathID(c, "id", appErrors.ErrSessionNotFound)
	if !ok {
		return
	}
	roster, err := h.sessions.Roster(c.Request.Context(), claimsFromContext(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, roster)
}

// ExportRoster godoc
// @Summary Export session roster
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Session ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance-sessions/{id}/roster/export [get]
func (h *AttendanceHandler) ExportRoster(c *gin.Context) {
	sessionID, ok := pathID(c, "id", appErrors.ErrSessionNotFound)
	if !ok {
		return
	}
	file, err := h.sessions.ExportRoster(c.Request.Context(), claimsFromContext(c), sessionID, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// CheckIn godoc
// @Summary Check in with a session code
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.CheckInRequest true "Check-in payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance-sessions/check-in [post]
func (h *AttendanceHandler) CheckIn(c *gin.Context) {
	var req dto.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.checkIns.CheckIn(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
