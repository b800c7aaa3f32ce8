package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/course-engine-api/internal/models"
	"github.com/noah-isme/course-engine-api/internal/repository"
)

// memStore is an in-memory stand-in for Postgres. Its mutex plays the role of
// the course row lock held by the real repositories.
type memStore struct {
	mu          sync.Mutex
	courses     map[string]*models.Course
	users       map[string]*models.User
	enrollments []*models.Enrollment
	sessions    []*models.AttendanceSession
	records     []*models.AttendanceRecord

	failTransition map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		courses:        map[string]*models.Course{},
		users:          map[string]*models.User{},
		failTransition: map[string]bool{},
	}
}

func (m *memStore) addCourse(c models.Course) *models.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := c
	m.courses[c.ID] = &stored
	return &stored
}

func (m *memStore) addUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := u
	m.users[u.ID] = &stored
}

func (m *memStore) addSession(s models.AttendanceSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := s
	m.sessions = append(m.sessions, &stored)
}

func (m *memStore) addEnrollment(e models.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := e
	m.enrollments = append(m.enrollments, &stored)
}

func (m *memStore) courseState(id string) models.CourseState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.courses[id].State
}

func (m *memStore) activeEnrollments(courseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countActive(courseID)
}

func (m *memStore) countActive(courseID string) int {
	n := 0
	for _, e := range m.enrollments {
		if e.CourseID == courseID && e.State == models.EnrollmentStateEnrolled {
			n++
		}
	}
	return n
}

func (m *memStore) sessionCount(courseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.CourseID == courseID {
			n++
		}
	}
	return n
}

func (m *memStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// courseSessions returns copies of the course's sessions, newest first.
func (m *memStore) courseSessions(courseID, excludeID string) []models.AttendanceSession {
	var out []models.AttendanceSession
	for _, s := range m.sessions {
		if s.CourseID == courseID && s.ID != excludeID {
			out = append(out, *s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DateStart.Equal(out[j].DateStart) {
			return out[i].DateStart.After(out[j].DateStart)
		}
		return out[i].TimeStart > out[j].TimeStart
	})
	return out
}

func (m *memStore) insertRecord(r *models.AttendanceRecord) error {
	for _, existing := range m.records {
		if existing.SessionID == r.SessionID && existing.UserID == r.UserID {
			return repository.ErrDuplicate
		}
	}
	stored := *r
	m.records = append(m.records, &stored)
	return nil
}

type courseView struct{ *memStore }

func (v courseView) FindByID(_ context.Context, id string) (*models.Course, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *c
	return &out, nil
}

func (v courseView) Create(_ context.Context, course *models.Course, instructor *models.Enrollment) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	stored := *course
	v.courses[course.ID] = &stored
	if instructor != nil {
		e := *instructor
		v.enrollments = append(v.enrollments, &e)
	}
	return nil
}

func (v courseView) ListDueForStart(_ context.Context, now time.Time) ([]models.Course, error) {
	return v.due(models.CourseStatePlanned, now, func(c *models.Course) time.Time { return c.StartDate }), nil
}

func (v courseView) ListDueForFinish(_ context.Context, now time.Time) ([]models.Course, error) {
	return v.due(models.CourseStateOngoing, now, func(c *models.Course) time.Time { return c.EndDate }), nil
}

func (v courseView) due(state models.CourseState, now time.Time, at func(*models.Course) time.Time) []models.Course {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []models.Course
	for _, c := range v.courses {
		if c.State == state && !at(c).After(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v courseView) TransitionState(_ context.Context, id string, from, to models.CourseState, at time.Time) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failTransition[id] {
		return false, errors.New("connection reset")
	}
	c, ok := v.courses[id]
	if !ok || c.State != from {
		return false, nil
	}
	c.State = to
	c.UpdatedAt = at
	return true, nil
}

type userView struct{ *memStore }

func (v userView) FindByID(_ context.Context, id string) (*models.User, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	u, ok := v.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *u
	return &out, nil
}

type enrollmentView struct{ *memStore }

func (v enrollmentView) Enroll(_ context.Context, enrollment *models.Enrollment, guard repository.EnrollmentGuard) (models.EnrollmentSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var snap models.EnrollmentSnapshot
	c, ok := v.courses[enrollment.CourseID]
	if !ok {
		return snap, sql.ErrNoRows
	}
	snap.Course = *c
	snap.Enrolled = v.countActive(enrollment.CourseID)
	for _, e := range v.enrollments {
		if e.CourseID == enrollment.CourseID && e.UserID == enrollment.UserID && e.State == models.EnrollmentStateEnrolled {
			snap.AlreadyEnrolled = true
		}
	}
	if err := guard(snap); err != nil {
		return snap, err
	}
	if snap.AlreadyEnrolled {
		return snap, repository.ErrDuplicate
	}
	stored := *enrollment
	v.enrollments = append(v.enrollments, &stored)
	return snap, nil
}

func (v enrollmentView) FindByID(_ context.Context, id string) (*models.Enrollment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.enrollments {
		if e.ID == id {
			out := *e
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (v enrollmentView) FindActive(_ context.Context, userID, courseID string) (*models.Enrollment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.enrollments {
		if e.UserID == userID && e.CourseID == courseID && e.State == models.EnrollmentStateEnrolled {
			out := *e
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (v enrollmentView) Cancel(_ context.Context, id string, reason *string, at time.Time) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.enrollments {
		if e.ID == id && e.State == models.EnrollmentStateEnrolled {
			e.State = models.EnrollmentStateCancelled
			e.CancelledAt = &at
			e.CancellationReason = reason
			return true, nil
		}
	}
	return false, nil
}

func (v enrollmentView) ListActiveByUser(_ context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range v.enrollments {
		if e.UserID != filter.UserID || e.State != models.EnrollmentStateEnrolled {
			continue
		}
		c := v.courses[e.CourseID]
		out = append(out, models.EnrollmentDetail{
			Enrollment:      *e,
			CourseName:      c.Name,
			CourseType:      c.Type,
			CourseState:     c.State,
			CourseStartDate: c.StartDate,
			CourseEndDate:   c.EndDate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseStartDate.Before(out[j].CourseStartDate) })
	return out, len(out), nil
}

func (v enrollmentView) List(_ context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []models.EnrollmentListItem
	for _, e := range v.enrollments {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.CourseID != "" && e.CourseID != filter.CourseID {
			continue
		}
		if filter.State != "" && e.State != filter.State {
			continue
		}
		c := v.courses[e.CourseID]
		item := models.EnrollmentListItem{EnrollmentDetail: models.EnrollmentDetail{
			Enrollment:      *e,
			CourseName:      c.Name,
			CourseType:      c.Type,
			CourseState:     c.State,
			CourseStartDate: c.StartDate,
			CourseEndDate:   c.EndDate,
		}}
		if u, ok := v.users[e.UserID]; ok {
			item.UserName = u.FullName
			item.UserEmail = u.Email
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

func (v enrollmentView) CancellationStats(_ context.Context, since time.Time) (*models.CancellationStats, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	stats := &models.CancellationStats{}
	perCourse := map[string]int{}
	perMonth := map[[2]int]int{}
	for _, e := range v.enrollments {
		if e.State != models.EnrollmentStateCancelled {
			continue
		}
		stats.Total++
		perCourse[e.CourseID]++
		if e.CancelledAt != nil && !e.CancelledAt.Before(since) {
			perMonth[[2]int{e.CancelledAt.Year(), int(e.CancelledAt.Month())}]++
		}
	}
	for id, n := range perCourse {
		stats.ByCourse = append(stats.ByCourse, models.CourseCancellations{CourseID: id, CourseName: v.courses[id].Name, Total: n})
	}
	sort.Slice(stats.ByCourse, func(i, j int) bool { return stats.ByCourse[i].Total > stats.ByCourse[j].Total })
	if len(stats.ByCourse) > 10 {
		stats.ByCourse = stats.ByCourse[:10]
	}
	for ym, n := range perMonth {
		stats.ByMonth = append(stats.ByMonth, models.MonthCancellations{Year: ym[0], Month: ym[1], Total: n})
	}
	sort.Slice(stats.ByMonth, func(i, j int) bool {
		if stats.ByMonth[i].Year != stats.ByMonth[j].Year {
			return stats.ByMonth[i].Year < stats.ByMonth[j].Year
		}
		return stats.ByMonth[i].Month < stats.ByMonth[j].Month
	})
	return stats, nil
}

type attendanceView struct{ *memStore }

func (v attendanceView) CreateSession(_ context.Context, session *models.AttendanceSession, creator *models.AttendanceRecord, guard repository.SessionGuard) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.courses[session.CourseID]
	if !ok {
		return sql.ErrNoRows
	}
	snap := models.SessionSnapshot{Course: *c, Sessions: v.courseSessions(session.CourseID, "")}
	if err := guard(snap); err != nil {
		return err
	}
	stored := *session
	v.sessions = append(v.sessions, &stored)
	if creator != nil {
		return v.insertRecord(creator)
	}
	return nil
}

func (v attendanceView) UpdateSession(_ context.Context, session *models.AttendanceSession, guard repository.SessionGuard) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var target *models.AttendanceSession
	for _, s := range v.sessions {
		if s.ID == session.ID {
			target = s
		}
	}
	if target == nil {
		return sql.ErrNoRows
	}
	session.CourseID = target.CourseID
	snap := models.SessionSnapshot{Course: *v.courses[target.CourseID], Sessions: v.courseSessions(target.CourseID, target.ID)}
	if err := guard(snap); err != nil {
		return err
	}
	target.DateStart, target.TimeStart = session.DateStart, session.TimeStart
	target.DateEnd, target.TimeEnd = session.DateEnd, session.TimeEnd
	target.Code = session.Code
	return nil
}

func (v attendanceView) CheckIn(_ context.Context, courseID, userID, code string, decide repository.CheckInDecider) (*models.AttendanceRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.courses[courseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	snap := models.CheckInSnapshot{Course: *c, Recorded: map[string]bool{}}
	all := v.courseSessions(courseID, "")
	snap.SessionCount = len(all)
	for _, s := range all {
		if s.Code == code {
			snap.Matching = append(snap.Matching, s)
		}
	}
	if snap.SessionCount > 0 && len(snap.Matching) == 0 {
		for _, s := range v.sessions {
			if s.Code == code && s.CourseID != courseID {
				snap.CodeInOtherCourse = true
			}
		}
	}
	for _, s := range snap.Matching {
		for _, r := range v.records {
			if r.SessionID == s.ID && r.UserID == userID {
				snap.Recorded[s.ID] = true
			}
		}
	}
	record, err := decide(snap)
	if err != nil {
		return nil, err
	}
	if err := v.insertRecord(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (v attendanceView) FindSession(_ context.Context, id string) (*models.AttendanceSession, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range v.sessions {
		if s.ID == id {
			out := *s
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (v attendanceView) ListSessions(_ context.Context, courseID string) ([]models.AttendanceSession, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.courseSessions(courseID, ""), nil
}

func (v attendanceView) ListSessionSummaries(_ context.Context, courseID string) ([]models.SessionSummary, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	enrolled := v.countActive(courseID)
	var out []models.SessionSummary
	for _, s := range v.courseSessions(courseID, "") {
		present := 0
		for _, r := range v.records {
			if r.SessionID == s.ID && r.Present {
				present++
			}
		}
		out = append(out, models.SessionSummary{AttendanceSession: s, PresentCount: present, EnrolledCount: enrolled})
	}
	return out, nil
}

func (v attendanceView) Roster(_ context.Context, session models.AttendanceSession) ([]models.RosterEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []models.RosterEntry
	for _, e := range v.enrollments {
		if e.CourseID != session.CourseID || e.State != models.EnrollmentStateEnrolled {
			continue
		}
		u := v.users[e.UserID]
		entry := models.RosterEntry{UserID: u.ID, FullName: u.FullName, Email: u.Email}
		for _, r := range v.records {
			if r.SessionID == session.ID && r.UserID == e.UserID {
				d := r.Duration
				entry.Present, entry.Duration = r.Present, &d
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (v attendanceView) UserRecords(_ context.Context, courseID, userID string) ([]models.UserAttendance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []models.UserAttendance
	for _, s := range v.courseSessions(courseID, "") {
		for _, r := range v.records {
			if r.SessionID == s.ID && r.UserID == userID {
				out = append(out, models.UserAttendance{
					AttendanceRecord: *r,
					SessionDateStart: s.DateStart,
					SessionTimeStart: s.TimeStart,
					SessionDateEnd:   s.DateEnd,
					SessionTimeEnd:   s.TimeEnd,
				})
			}
		}
	}
	return out, nil
}

// memCache is a map-backed sessionCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
	sets    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]interface{}{}}
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if target, ok := dest.(*[]sessionCacheEntry); ok {
		*target = v.([]sessionCacheEntry)
	}
	return true, nil
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.sets++
	return nil
}

func (c *memCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func claims(id string, role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: role}
}
