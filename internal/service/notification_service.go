package service

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-engine-api/internal/models"
	"github.com/noah-isme/course-engine-api/pkg/jobs"
	"github.com/noah-isme/course-engine-api/pkg/mailer"
)

// Notification job types.
const (
	JobEnrollmentConfirmed = "enrollment.confirmed"
	JobEnrollmentCancelled = "enrollment.cancelled"
)

// EnrollmentNotice is the payload of enrollment notification jobs.
type EnrollmentNotice struct {
	EnrollmentID string
	UserID       string
	CourseID     string
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// NotificationService turns enrollment events into emails delivered off the request path.
type NotificationService struct {
	queue   jobDispatcher
	users   userReader
	courses courseReader
	sender  mailer.Sender
	metrics *MetricsService
	loc     *time.Location
	logger  *zap.Logger
}

// NewNotificationService constructs the service. Attach a queue before use.
func NewNotificationService(users userReader, courses courseReader, sender mailer.Sender, metrics *MetricsService, loc *time.Location, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &NotificationService{users: users, courses: courses, sender: sender, metrics: metrics, loc: loc, logger: logger}
}

// AttachQueue sets the dispatcher notifications are enqueued on.
func (s *NotificationService) AttachQueue(queue jobDispatcher) {
	s.queue = queue
}

// EnrollmentConfirmed enqueues the confirmation email. Failures are logged only.
func (s *NotificationService) EnrollmentConfirmed(enrollment models.Enrollment) {
	s.enqueue(JobEnrollmentConfirmed, enrollment)
}

// EnrollmentCancelled enqueues the cancellation email. Failures are logged only.
func (s *NotificationService) EnrollmentCancelled(enrollment models.Enrollment) {
	s.enqueue(JobEnrollmentCancelled, enrollment)
}

func (s *NotificationService) enqueue(kind string, enrollment models.Enrollment) {
	if s == nil || s.queue == nil {
		return
	}
	job := jobs.Job{
		Type:    kind,
		Payload: EnrollmentNotice{EnrollmentID: enrollment.ID, UserID: enrollment.UserID, CourseID: enrollment.CourseID},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.metrics.RecordNotification(kind, err)
		s.logger.Warn("notification not queued", zap.String("type", kind), zap.String("enrollment_id", enrollment.ID), zap.Error(err))
	}
}

// Handle delivers a queued notification. It is the queue's job handler.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	notice, ok := job.Payload.(EnrollmentNotice)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("type", job.Type))
		return nil
	}
	msg, err := s.render(ctx, job.Type, notice)
	if err != nil {
		s.metrics.RecordNotification(job.Type, err)
		return err
	}
	err = s.sender.Send(ctx, msg)
	s.metrics.RecordNotification(job.Type, err)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", job.Type, err)
	}
	return nil
}

func (s *NotificationService) render(ctx context.Context, kind string, notice EnrollmentNotice) (mailer.Message, error) {
	user, err := s.users.FindByID(ctx, notice.UserID)
	if err != nil {
		return mailer.Message{}, fmt.Errorf("load recipient: %w", err)
	}
	course, err := s.courses.FindByID(ctx, notice.CourseID)
	if err != nil {
		return mailer.Message{}, fmt.Errorf("load course: %w", err)
	}

	to := mail.Address{Name: user.FullName, Address: user.Email}
	start := course.StartDate.In(s.loc).Format("02/01/2006")
	end := course.EndDate.In(s.loc).Format("02/01/2006")

	switch kind {
	case JobEnrollmentCancelled:
		return mailer.Message{
			To:      to,
			Subject: fmt.Sprintf("Enrollment cancelled: %s", course.Name),
			Text:    fmt.Sprintf("Hello %s,\n\nYour enrollment in %s (%s to %s) has been cancelled.\n", user.FullName, course.Name, start, end),
		}, nil
	default:
		return mailer.Message{
			To:      to,
			Subject: fmt.Sprintf("Enrollment confirmed: %s", course.Name),
			Text:    fmt.Sprintf("Hello %s,\n\nYou are enrolled in %s.\nThe course runs from %s to %s.\n", user.FullName, course.Name, start, end),
			HTML:    fmt.Sprintf("<p>Hello %s,</p><p>You are enrolled in <strong>%s</strong>.</p><p>The course runs from %s to %s.</p>", user.FullName, course.Name, start, end),
		}, nil
	}
}
