package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/course-engine-api/internal/dto"
	"github.com/noah-isme/course-engine-api/internal/models"
	"github.com/noah-isme/course-engine-api/pkg/clock"
	"github.com/noah-isme/course-engine-api/pkg/jobs"
	"github.com/noah-isme/course-engine-api/pkg/mailer"
)

type senderSpy struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
	done chan struct{}
}

func newSenderSpy() *senderSpy {
	return &senderSpy{done: make(chan struct{}, 8)}
}

func (s *senderSpy) Send(_ context.Context, msg mailer.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	err := s.err
	s.mu.Unlock()
	s.done <- struct{}{}
	return err
}

func newNotificationFixture(sender mailer.Sender, logger *zap.Logger) (*NotificationService, *memStore) {
	store := newMemStore()
	store.addCourse(syncCourse(5))
	store.addUser(models.User{ID: learnerA, FullName: "Bea Learner", Email: "bea@example.com", Role: models.RoleLearner})
	svc := NewNotificationService(userView{store}, courseView{store}, sender, NewMetricsService(), time.UTC, logger)
	return svc, store
}

func TestEnrollmentConfirmationIsMailedFromQueue(t *testing.T) {
	sender := newSenderSpy()
	notifier, store := newNotificationFixture(sender, nil)
	queue := jobs.NewQueue("notifications", notifier.Handle, jobs.QueueConfig{Workers: 1})
	notifier.AttachQueue(queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()

	enrollments := NewEnrollmentService(enrollmentView{store}, notifier, nil, clock.NewManual(enrollNow), nil, nil, nil)
	_, err := enrollments.Enroll(context.Background(), claims(learnerA, models.RoleLearner), courseID, dto.EnrollRequest{})
	require.NoError(t, err)

	select {
	case <-sender.done:
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation was not delivered")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "bea@example.com", msg.To.Address)
	assert.Equal(t, "Enrollment confirmed: Go 101", msg.Subject)
	assert.Contains(t, msg.Text, "08/06/2024")
}

func TestHandleRendersCancellation(t *testing.T) {
	sender := newSenderSpy()
	notifier, _ := newNotificationFixture(sender, nil)

	err := notifier.Handle(context.Background(), jobs.Job{
		Type:    JobEnrollmentCancelled,
		Payload: EnrollmentNotice{EnrollmentID: "e-1", UserID: learnerA, CourseID: courseID},
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Enrollment cancelled: Go 101", sender.sent[0].Subject)
}

func TestHandleReturnsDeliveryFailureForRetry(t *testing.T) {
	sender := newSenderSpy()
	sender.err = errors.New("provider unavailable")
	notifier, _ := newNotificationFixture(sender, nil)

	err := notifier.Handle(context.Background(), jobs.Job{
		Type:    JobEnrollmentConfirmed,
		Payload: EnrollmentNotice{UserID: learnerA, CourseID: courseID},
	})
	assert.ErrorContains(t, err, "provider unavailable")

	err = notifier.Handle(context.Background(), jobs.Job{
		Type:    JobEnrollmentConfirmed,
		Payload: EnrollmentNotice{UserID: learnerB, CourseID: courseID},
	})
	assert.ErrorContains(t, err, "load recipient")
}

func TestEnqueueFailureDoesNotFailEnrollment(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	notifier, store := newNotificationFixture(newSenderSpy(), zap.New(core))
	// Never started, so every enqueue is rejected.
	notifier.AttachQueue(jobs.NewQueue("notifications", notifier.Handle, jobs.QueueConfig{}))

	enrollments := NewEnrollmentService(enrollmentView{store}, notifier, nil, clock.NewManual(enrollNow), nil, nil, nil)
	resp, err := enrollments.Enroll(context.Background(), claims(learnerA, models.RoleLearner), courseID, dto.EnrollRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, 1, store.activeEnrollments(courseID))
	assert.Equal(t, 1, logs.FilterMessage("notification not queued").Len())
}
