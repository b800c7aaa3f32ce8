package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-engine-api/internal/dto"
	"github.com/noah-isme/course-engine-api/internal/middleware"
	"github.com/noah-isme/course-engine-api/internal/models"
	"github.com/noah-isme/course-engine-api/internal/service"
	appErrors "github.com/noah-isme/course-engine-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, target, nil)
	} else {
		req, _ = http.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type courseServiceMock struct {
	created  *models.Course
	err      error
	lastReq  dto.CreateCourseRequest
	lastID   string
	lastUser *models.JWTClaims
}

func (m *courseServiceMock) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateCourseRequest) (*models.Course, error) {
	m.lastReq = req
	m.lastUser = actor
	return m.created, m.err
}

func (m *courseServiceMock) Get(ctx context.Context, id string) (*models.Course, error) {
	m.lastID = id
	return m.created, m.err
}

type enrollmentServiceMock struct {
	enrollResp   *dto.EnrollmentResponse
	cancelResp   *models.Enrollment
	statusResp   *dto.EnrollmentStatusResponse
	items        []dto.MyEnrollmentItem
	err          error
	lastCourseID string
	lastReq      dto.EnrollRequest
	lastCancel   dto.CancelEnrollmentRequest
	page, size   int
	listItems    []models.EnrollmentListItem
	lastFilter   models.EnrollmentFilter
	stats        *models.CancellationStats
	calls        int
}

func (m *enrollmentServiceMock) Enroll(ctx context.Context, actor *models.JWTClaims, courseID string, req dto.EnrollRequest) (*dto.EnrollmentResponse, error) {
	m.lastCourseID = courseID
	m.lastReq = req
	return m.enrollResp, m.err
}

func (m *enrollmentServiceMock) Cancel(ctx context.Context, actor *models.JWTClaims, enrollmentID string, req dto.CancelEnrollmentRequest) (*models.Enrollment, error) {
	m.calls++
	m.lastCancel = req
	return m.cancelResp, m.err
}

func (m *enrollmentServiceMock) Status(ctx context.Context, actor *models.JWTClaims, courseID string) (*dto.EnrollmentStatusResponse, error) {
	m.lastCourseID = courseID
	return m.statusResp, m.err
}

func (m *enrollmentServiceMock) ListMine(ctx context.Context, actor *models.JWTClaims, page, pageSize int) ([]dto.MyEnrollmentItem, *models.Pagination, error) {
	m.page, m.size = page, pageSize
	return m.items, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: len(m.items)}, m.err
}

func (m *enrollmentServiceMock) List(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, *models.Pagination, error) {
	m.calls++
	m.lastFilter = filter
	return m.listItems, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: len(m.listItems)}, m.err
}

func (m *enrollmentServiceMock) ListCancelled(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, *models.Pagination, error) {
	m.calls++
	m.lastFilter = filter
	return m.listItems, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: len(m.listItems)}, m.err
}

func (m *enrollmentServiceMock) GetCancelled(ctx context.Context, actor *models.JWTClaims, id string) (*models.Enrollment, error) {
	m.calls++
	return m.cancelResp, m.err
}

func (m *enrollmentServiceMock) CancellationStats(ctx context.Context, actor *models.JWTClaims) (*models.CancellationStats, error) {
	m.calls++
	return m.stats, m.err
}

type attendanceServiceMock struct {
	session      *dto.SessionResponse
	sessions     []dto.SessionResponse
	cacheHit     bool
	budget       *dto.HourBudgetResponse
	roster       *dto.RosterResponse
	file         *service.ExportedFile
	records      *dto.UserAttendanceResponse
	checkIn      *dto.CheckInResponse
	err          error
	calls        int
	lastCourseID string
	lastUserID   string
	lastFormat   string
	lastWindow   dto.SessionWindowRequest
	lastCheckIn  dto.CheckInRequest
}

func (m *attendanceServiceMock) CreateSession(ctx context.Context, actor *models.JWTClaims, courseID string, req dto.CreateSessionRequest) (*dto.SessionResponse, error) {
	m.lastCourseID = courseID
	m.lastWindow = req.SessionWindowRequest
	return m.session, m.err
}

func (m *attendanceServiceMock) UpdateSession(ctx context.Context, actor *models.JWTClaims, sessionID string, req dto.UpdateSessionRequest) (*dto.SessionResponse, error) {
	m.lastWindow = req.SessionWindowRequest
	return m.session, m.err
}

func (m *attendanceServiceMock) ListSessions(ctx context.Context, courseID string) ([]dto.SessionResponse, bool, error) {
	m.calls++
	m.lastCourseID = courseID
	return m.sessions, m.cacheHit, m.err
}

func (m *attendanceServiceMock) HourBudget(ctx context.Context, courseID string) (*dto.HourBudgetResponse, error) {
	return m.budget, m.err
}

func (m *attendanceServiceMock) Roster(ctx context.Context, actor *models.JWTClaims, sessionID string) (*dto.RosterResponse, error) {
	m.calls++
	return m.roster, m.err
}

func (m *attendanceServiceMock) ExportRoster(ctx context.Context, actor *models.JWTClaims, sessionID, format string) (*service.ExportedFile, error) {
	m.lastFormat = format
	return m.file, m.err
}

func (m *attendanceServiceMock) UserRecords(ctx context.Context, actor *models.JWTClaims, courseID, userID string) (*dto.UserAttendanceResponse, error) {
	m.calls++
	m.lastCourseID = courseID
	m.lastUserID = userID
	return m.records, m.err
}

func (m *attendanceServiceMock) CheckIn(ctx context.Context, actor *models.JWTClaims, req dto.CheckInRequest) (*dto.CheckInResponse, error) {
	m.lastCheckIn = req
	return m.checkIn, m.err
}

const (
	courseUUID     = "6f1c9a0e-1d1b-4a53-9a55-0000000000c1"
	sessionUUID    = "6f1c9a0e-1d1b-4a53-9a55-0000000000a1"
	enrollmentUUID = "6f1c9a0e-1d1b-4a53-9a55-0000000000e1"
)

var learner = &models.JWTClaims{UserID: "9b2f7a3e-1111-4c1d-9a2b-000000000001", Role: models.RoleLearner}

func TestCourseHandlerCreate(t *testing.T) {
	svc := &courseServiceMock{created: &models.Course{ID: "course-1", Name: "Go"}}
	h := NewCourseHandler(svc)
	admin := &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}

	c, w := newContext(http.MethodPost, "/courses", `{"name":"Go","type":"synchronous","seats":10,"duration":12,"start_date":"2024-06-01T00:00:00Z","end_date":"2024-06-30T00:00:00Z"}`, admin)
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Go", svc.lastReq.Name)
	require.NotNil(t, svc.lastReq.Seats)
	assert.Equal(t, 10, *svc.lastReq.Seats)
	assert.Same(t, admin, svc.lastUser)
}

func TestCourseHandlerCreateInvalidBody(t *testing.T) {
	h := NewCourseHandler(&courseServiceMock{})

	c, w := newContext(http.MethodPost, "/courses", `{"name":`, learner)
	h.Create(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decode(t, w).Error.Code)
}

func TestCourseHandlerGetNotFound(t *testing.T) {
	h := NewCourseHandler(&courseServiceMock{err: appErrors.ErrCourseNotFound})

	c, w := newContext(http.MethodGet, "/courses/missing", "", learner)
	c.Params = gin.Params{{Key: "id", Value: courseUUID}}
	h.Get(c)

	require.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w)
	assert.Equal(t, "COURSE_NOT_FOUND", env.Error.Code)
	assert.Equal(t, appErrors.KindNotFound, env.Error.Kind)
}

func TestCourseHandlerGetMalformedIDIsNotFound(t *testing.T) {
	svc := &courseServiceMock{}
	h := NewCourseHandler(svc)

	c, w := newContext(http.MethodGet, "/courses/not-a-uuid", "", learner)
	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}
	h.Get(c)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "COURSE_NOT_FOUND", decode(t, w).Error.Code)
	assert.Empty(t, svc.lastID)
}

func TestMalformedPathIDsNeverReachServices(t *testing.T) {
	enrollments := &enrollmentServiceMock{}
	attendance := &attendanceServiceMock{}
	eh := NewEnrollmentHandler(enrollments)
	ah := NewAttendanceHandler(attendance, attendance)

	cases := []struct {
		name   string
		params gin.Params
		call   func(*gin.Context)
		code   string
	}{
		{"cancel", gin.Params{{Key: "id", Value: "42"}}, eh.Cancel, "ENROLLMENT_NOT_FOUND"},
		{"cancelled by id", gin.Params{{Key: "id", Value: "e-1'--"}}, eh.GetCancelled, "ENROLLMENT_NOT_FOUND"},
		{"enroll", gin.Params{{Key: "id", Value: "course-1"}}, eh.Enroll, "COURSE_NOT_FOUND"},
		{"list sessions", gin.Params{{Key: "id", Value: "{" + courseUUID + "}"}}, ah.ListSessions, "COURSE_NOT_FOUND"},
		{"roster", gin.Params{{Key: "id", Value: "s-1"}}, ah.Roster, "SESSION_NOT_FOUND"},
		{"user records", gin.Params{{Key: "id", Value: courseUUID}, {Key: "userId", Value: "me"}}, ah.UserRecords, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, w := newContext(http.MethodGet, "/", "", learner)
			c.Params = tc.params
			tc.call(c)

			require.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, tc.code, decode(t, w).Error.Code)
		})
	}
	assert.Zero(t, enrollments.calls)
	assert.Zero(t, attendance.calls)
}

func TestEnrollmentHandlerListAll(t *testing.T) {
	svc := &enrollmentServiceMock{listItems: []models.EnrollmentListItem{{UserName: "Ana"}}}
	h := NewEnrollmentHandler(svc)
	admin := &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}

	c, w := newContext(http.MethodGet, "/enrollments?course_id="+courseUUID+"&state=cancelled&page=3&limit=10", "", admin)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.EnrollmentFilter{CourseID: courseUUID, State: models.EnrollmentStateCancelled, Page: 3, PageSize: 10}, svc.lastFilter)
	env := decode(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
}

func TestEnrollmentHandlerListRejectsMalformedFilter(t *testing.T) {
	svc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodGet, "/enrollments/cancelled?user_id=abc", "", learner)
	h.ListCancelled(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.KindValidation, decode(t, w).Error.Kind)
	assert.Zero(t, svc.calls)
}

func TestEnrollmentHandlerListCancelledIgnoresState(t *testing.T) {
	svc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodGet, "/enrollments/cancelled?state=enrolled&user_id="+learner.UserID, "", learner)
	h.ListCancelled(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.lastFilter.State)
	assert.Equal(t, learner.UserID, svc.lastFilter.UserID)
}

func TestEnrollmentHandlerGetCancelled(t *testing.T) {
	svc := &enrollmentServiceMock{cancelResp: &models.Enrollment{ID: enrollmentUUID, State: models.EnrollmentStateCancelled}}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodGet, "/enrollments/cancelled/"+enrollmentUUID, "", learner)
	c.Params = gin.Params{{Key: "id", Value: enrollmentUUID}}
	h.GetCancelled(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"cancelled"`)
}

func TestEnrollmentHandlerCancellationStats(t *testing.T) {
	svc := &enrollmentServiceMock{stats: &models.CancellationStats{
		Total:    3,
		ByCourse: []models.CourseCancellations{{CourseID: courseUUID, CourseName: "Go", Total: 3}},
		ByMonth:  []models.MonthCancellations{{Year: 2024, Month: 5, Total: 3}},
	}}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodGet, "/enrollments/cancelled/stats", "", learner)
	h.CancellationStats(c)

	require.Equal(t, http.StatusOK, w.Code)
	var data models.CancellationStats
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, 3, data.Total)
	require.Len(t, data.ByMonth, 1)
	assert.Equal(t, 5, data.ByMonth[0].Month)

	svc.err = appErrors.ErrForbidden
	c, w = newContext(http.MethodGet, "/enrollments/cancelled/stats", "", learner)
	h.CancellationStats(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEnrollmentHandlerEnrollWithoutBody(t *testing.T) {
	remaining := 4
	svc := &enrollmentServiceMock{enrollResp: &dto.EnrollmentResponse{
		Enrollment:     models.Enrollment{ID: "e-1", CourseID: "course-1"},
		RemainingSeats: &remaining,
	}}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodPost, "/courses/course-1/enrollments", "", learner)
	c.Params = gin.Params{{Key: "id", Value: courseUUID}}
	h.Enroll(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, courseUUID, svc.lastCourseID)
	assert.Empty(t, svc.lastReq.UserID)

	var data dto.EnrollmentResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	require.NotNil(t, data.RemainingSeats)
	assert.Equal(t, 4, *data.RemainingSeats)
}

func TestEnrollmentHandlerEnrollCapacityError(t *testing.T) {
	svc := &enrollmentServiceMock{err: appErrors.WithDetails(appErrors.ErrNoCapacity, map[string]interface{}{
		"seats": 2, "enrolled": 2, "remaining_seats": 0,
	})}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodPost, "/courses/course-1/enrollments", `{"motivation":"learn"}`, learner)
	c.Params = gin.Params{{Key: "id", Value: courseUUID}}
	h.Enroll(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.Equal(t, "NO_CAPACITY", env.Error.Code)
	assert.EqualValues(t, 0, env.Error.Details["remaining_seats"])
	require.NotNil(t, svc.lastReq.Motivation)
	assert.Equal(t, "learn", *svc.lastReq.Motivation)
}

func TestEnrollmentHandlerCancelWithReason(t *testing.T) {
	svc := &enrollmentServiceMock{cancelResp: &models.Enrollment{ID: "e-1", State: models.EnrollmentStateCancelled}}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodDelete, "/enrollments/e-1", `{"reason":"schedule clash"}`, learner)
	c.Params = gin.Params{{Key: "id", Value: enrollmentUUID}}
	h.Cancel(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastCancel.Reason)
	assert.Equal(t, "schedule clash", *svc.lastCancel.Reason)
}

func TestEnrollmentHandlerListMinePagination(t *testing.T) {
	svc := &enrollmentServiceMock{items: []dto.MyEnrollmentItem{{DisplayStatus: dto.DisplayStatusScheduled}}}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodGet, "/me/enrollments?page=2&limit=5", "", learner)
	h.ListMine(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, svc.page)
	assert.Equal(t, 5, svc.size)
	env := decode(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
}

func TestEnrollmentHandlerStatus(t *testing.T) {
	svc := &enrollmentServiceMock{statusResp: &dto.EnrollmentStatusResponse{CourseID: "course-1", Enrolled: true}}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodGet, "/courses/course-1/enrollment", "", learner)
	c.Params = gin.Params{{Key: "id", Value: courseUUID}}
	h.Status(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enrolled":true`)
}

func TestAttendanceHandlerCreateSession(t *testing.T) {
	svc := &attendanceServiceMock{session: &dto.SessionResponse{ID: "s-1", Code: "GO-101"}}
	h := NewAttendanceHandler(svc, svc)

	body := `{"date_start":"2024-06-10","time_start":"09:00","date_end":"2024-06-10","time_end":"11:00","code":"GO-101"}`
	c, w := newContext(http.MethodPost, "/courses/course-1/attendance-sessions", body, learner)
	c.Params = gin.Params{{Key: "id", Value: courseUUID}}
	h.CreateSession(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, courseUUID, svc.lastCourseID)
	assert.Equal(t, "09:00", svc.lastWindow.TimeStart)
	assert.Equal(t, "GO-101", svc.lastWindow.Code)
}

func TestAttendanceHandlerCreateSessionBudgetExceeded(t *testing.T) {
	svc := &attendanceServiceMock{err: appErrors.WithDetails(appErrors.ErrHourBudgetExceeded, map[string]interface{}{
		"remaining_hours": 4.0,
	})}
	h := NewAttendanceHandler(svc, svc)

	body := `{"date_start":"2024-06-10","time_start":"09:00","date_end":"2024-06-10","time_end":"14:00","code":"GO-101"}`
	c, w := newContext(http.MethodPost, "/courses/course-1/attendance-sessions", body, learner)
	c.Params = gin.Params{{Key: "id", Value: courseUUID}}
	h.CreateSession(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.Equal(t, "HOUR_BUDGET_EXCEEDED", env.Error.Code)
	assert.EqualValues(t, 4, env.Error.Details["remaining_hours"])
}

func TestAttendanceHandlerListSessionsReportsCacheHit(t *testing.T) {
	svc := &attendanceServiceMock{sessions: []dto.SessionResponse{{ID: "s-1"}}, cacheHit: true}
	h := NewAttendanceHandler(svc, svc)

	c, w := newContext(http.MethodGet, "/courses/course-1/attendance-sessions", "", learner)
	c.Params = gin.Params{{Key: "id", Value: courseUUID}}
	h.ListSessions(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.Equal(t, true, env.Meta["cache_hit"])
	var data []dto.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data, 1)
}

func TestAttendanceHandlerExportDefaultsToCSV(t *testing.T) {
	svc := &attendanceServiceMock{file: &service.ExportedFile{
		Filename:    "attendance-2024-06-10-s-1.csv",
		ContentType: "text/csv",
		Body:        []byte("Name,Email,Present,Hours\n"),
	}}
	h := NewAttendanceHandler(svc, svc)

	c, w := newContext(http.MethodGet, "/attendance-sessions/s-1/roster/export", "", learner)
	c.Params = gin.Params{{Key: "id", Value: sessionUUID}}
	h.ExportRoster(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", svc.lastFormat)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance-2024-06-10-s-1.csv")
	assert.Equal(t, "Name,Email,Present,Hours\n", w.Body.String())
}

func TestAttendanceHandlerExportUnsupportedFormat(t *testing.T) {
	svc := &attendanceServiceMock{err: appErrors.Wrap(errors.New("xlsx"), appErrors.ErrValidation.Code, http.StatusBadRequest, "unsupported export format")}
	h := NewAttendanceHandler(svc, svc)

	c, w := newContext(http.MethodGet, "/attendance-sessions/s-1/roster/export?format=xlsx", "", learner)
	c.Params = gin.Params{{Key: "id", Value: sessionUUID}}
	h.ExportRoster(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "xlsx", svc.lastFormat)
}

func TestAttendanceHandlerUserRecordsParams(t *testing.T) {
	svc := &attendanceServiceMock{records: &dto.UserAttendanceResponse{CourseID: "course-1", UserID: learner.UserID, TotalHours: 2}}
	h := NewAttendanceHandler(svc, svc)

	c, w := newContext(http.MethodGet, "/courses/course-1/attendance/users/"+learner.UserID, "", learner)
	c.Params = gin.Params{{Key: "id", Value: courseUUID}, {Key: "userId", Value: learner.UserID}}
	h.UserRecords(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, courseUUID, svc.lastCourseID)
	assert.Equal(t, learner.UserID, svc.lastUserID)
}

func TestAttendanceHandlerCheckIn(t *testing.T) {
	svc := &attendanceServiceMock{checkIn: &dto.CheckInResponse{
		Record:  models.AttendanceRecord{ID: "r-1"},
		Session: dto.SessionResponse{ID: "s-1"},
	}}
	h := NewAttendanceHandler(svc, svc)

	c, w := newContext(http.MethodPost, "/attendance-sessions/check-in", `{"course_id":"course-1","code":"GO-101"}`, learner)
	h.CheckIn(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "GO-101", svc.lastCheckIn.Code)
}

func TestAttendanceHandlerCheckInExpired(t *testing.T) {
	svc := &attendanceServiceMock{err: appErrors.ErrSessionExpired}
	h := NewAttendanceHandler(svc, svc)

	c, w := newContext(http.MethodPost, "/attendance-sessions/check-in", `{"course_id":"course-1","code":"GO-101"}`, learner)
	h.CheckIn(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.KindExpired, decode(t, w).Error.Kind)
}

func TestMetricsHandlerReady(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	h := NewMetricsHandler(service.NewMetricsService(), map[string]ReadinessCheck{"database": ok})
	c, w := newContext(http.MethodGet, "/ready", "", nil)
	h.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)

	h = NewMetricsHandler(nil, map[string]ReadinessCheck{"database": ok, "redis": down})
	c, w = newContext(http.MethodGet, "/ready", "", nil)
	h.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"connection refused"`)
	assert.Contains(t, w.Body.String(), `"status":"unavailable"`)
}

func TestMetricsHandlerReadyReportsDegradedDependency(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }

	h := NewMetricsHandler(nil, map[string]ReadinessCheck{"database": ok, "redis": Degraded("cache disabled")})
	c, w := newContext(http.MethodGet, "/ready", "", nil)
	h.Ready(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), `"redis":"degraded: cache disabled"`)
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordEnrollment(nil)
	h := NewMetricsHandler(metrics, nil)

	c, w := newContext(http.MethodGet, "/metrics", "", nil)
	h.Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.String())

	c, w = newContext(http.MethodGet, "/metrics", "", nil)
	NewMetricsHandler(nil, nil).Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
