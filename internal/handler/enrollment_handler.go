package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/course-engine-api/internal/dto"
	"github.com/noah-isme/course-engine-api/internal/models"
	appErrors "github.com/noah-isme/course-engine-api/pkg/errors"
	"github.com/noah-isme/course-engine-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, actor *models.JWTClaims, courseID string, req dto.EnrollRequest) (*dto.EnrollmentResponse, error)
	Cancel(ctx context.Context, actor *models.JWTClaims, enrollmentID string, req dto.CancelEnrollmentRequest) (*models.Enrollment, error)
	Status(ctx context.Context, actor *models.JWTClaims, courseID string) (*dto.EnrollmentStatusResponse, error)
	ListMine(ctx context.Context, actor *models.JWTClaims, page, pageSize int) ([]dto.MyEnrollmentItem, *models.Pagination, error)
	List(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, *models.Pagination, error)
	ListCancelled(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, *models.Pagination, error)
	GetCancelled(ctx context.Context, actor *models.JWTClaims, id string) (*models.Enrollment, error)
	CancellationStats(ctx context.Context, actor *models.JWTClaims) (*models.CancellationStats, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Enroll godoc
// @Summary Enroll in course
// @Description Enrolls the caller, or user_id when the caller is an admin.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.EnrollRequest false "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	courseID, ok := pathID(c, "id", appErrors.ErrCourseNotFound)
	if !ok {
		return
	}
	var req dto.EnrollRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), claimsFromContext(c), courseID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Status godoc
// @Summary Caller enrollment status
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/enrollment [get]
func (h *EnrollmentHandler) Status(c *gin.Context) {
	courseID, ok := pathID(c, "id", appErrors.ErrCourseNotFound)
	if !ok {
		return
	}
	status, err := h.enrollments.Status(c.Request.Context(), claimsFromContext(c), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, status)
}

// ListMine godoc
// @Summary List caller enrollments
// @Tags Enrollments
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /me/enrollments [get]
func (h *EnrollmentHandler) ListMine(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	items, pagination, err := h.enrollments.ListMine(c.Request.Context(), claimsFromContext(c), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Cancel godoc
// @Summary Cancel enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.CancelEnrollmentRequest false "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id", appErrors.ErrEnrollmentNotFound)
	if !ok {
		return
	}
	var req dto.CancelEnrollmentRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	enrollment, err := h.enrollments.Cancel(c.Request.Context(), claimsFromContext(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}

// List godoc
// @Summary List all enrollments
// @Description Administrators only.
// @Tags Enrollments
// @Produce json
// @Param course_id query string false "Course ID"
// @Param user_id query string false "User ID"
// @Param state query string false "enrolled or cancelled"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter, err := enrollmentFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.State = models.EnrollmentState(c.Query("state"))
	items, pagination, err := h.enrollments.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ListCancelled godoc
// @Summary Cancellation history
// @Description Administrators see every cancellation; other users only their own.
// @Tags Enrollments
// @Produce json
// @Param course_id query string false "Course ID"
// @Param user_id query string false "User ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/cancelled [get]
func (h *EnrollmentHandler) ListCancelled(c *gin.Context) {
	filter, err := enrollmentFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, pagination, err := h.enrollments.ListCancelled(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// GetCancelled godoc
// @Summary Cancelled enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/cancelled/{id} [get]
func (h *EnrollmentHandler) GetCancelled(c *gin.Context) {
	id, ok := pathID(c, "id", appErrors.ErrEnrollmentNotFound)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.GetCancelled(c.Request.Context(), claimsFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}

// CancellationStats godoc
// @Summary Cancellation statistics
// @Description Total, top ten courses and the last six months. Administrators only.
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/cancelled/stats [get]
func (h *EnrollmentHandler) CancellationStats(c *gin.Context) {
	stats, err := h.enrollments.CancellationStats(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

func enrollmentFilterFromQuery(c *gin.Context) (models.EnrollmentFilter, error) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	filter := models.EnrollmentFilter{
		CourseID: c.Query("course_id"),
		UserID:   c.Query("user_id"),
		Page:     page,
		PageSize: size,
	}
	for name, value := range map[string]string{"course_id": filter.CourseID, "user_id": filter.UserID} {
		if value == "" {
			continue
		}
		if _, err := uuid.Parse(value); err != nil || len(value) != 36 {
			return filter, appErrors.Clone(appErrors.ErrValidation, name+" must be a UUID")
		}
	}
	return filter, nil
}

// bindOptionalJSON decodes the body when one was sent.
func bindOptionalJSON(c *gin.Context, dest interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dest); err != nil && err != io.EOF {
		return err
	}
	return nil
}
