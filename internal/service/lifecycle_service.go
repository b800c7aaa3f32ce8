package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-engine-api/internal/dto"
	"github.com/noah-isme/course-engine-api/internal/models"
	"github.com/noah-isme/course-engine-api/pkg/clock"
)

type courseLifecycleRepository interface {
	ListDueForStart(ctx context.Context, now time.Time) ([]models.Course, error)
	ListDueForFinish(ctx context.Context, now time.Time) ([]models.Course, error)
	TransitionState(ctx context.Context, id string, from, to models.CourseState, at time.Time) (bool, error)
}

// LifecycleService promotes course state as course windows open and close.
type LifecycleService struct {
	repo     courseLifecycleRepository
	clock    clock.Clock
	interval time.Duration
	metrics  *MetricsService
	logger   *zap.Logger

	mu sync.Mutex
}

// NewLifecycleService constructs the sweeper. A nil clock means wall time.
func NewLifecycleService(repo courseLifecycleRepository, clk clock.Clock, interval time.Duration, metrics *MetricsService, logger *zap.Logger) *LifecycleService {
	if clk == nil {
		clk = clock.Real{}
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{repo: repo, clock: clk, interval: interval, metrics: metrics, logger: logger}
}

// Start runs a catch-up sweep and schedules the next ones until ctx ends.
func (s *LifecycleService) Start(ctx context.Context) {
	s.tick(ctx)
	s.clock.Schedule(ctx, s.interval, s.tick)
	s.logger.Info("lifecycle sweep scheduled", zap.Duration("interval", s.interval))
}

func (s *LifecycleService) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("lifecycle sweep panicked", zap.Any("panic", r))
		}
	}()
	result, err := s.Sweep(ctx, s.clock.Now())
	if err != nil {
		s.logger.Warn("lifecycle sweep incomplete", zap.Error(err))
	}
	if n := len(result.PromotedToOngoing) + len(result.PromotedToFinished); n > 0 {
		s.logger.Info("lifecycle sweep promoted courses",
			zap.Int("ongoing", len(result.PromotedToOngoing)),
			zap.Int("finished", len(result.PromotedToFinished)),
		)
	}
}

// Sweep promotes planned courses that have started, then ongoing courses that
// have ended. Per-course failures are logged and skipped; a listing failure is
// returned after both passes ran. Sweeps never overlap.
func (s *LifecycleService) Sweep(ctx context.Context, now time.Time) (dto.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(started)) }()

	result := dto.SweepResult{RanAt: now, PromotedToOngoing: []string{}, PromotedToFinished: []string{}}
	var errs []error

	promoted, failed, err := s.promote(ctx, now, models.CourseStatePlanned, models.CourseStateOngoing, s.repo.ListDueForStart)
	result.PromotedToOngoing = append(result.PromotedToOngoing, promoted...)
	result.Failed = append(result.Failed, failed...)
	if err != nil {
		errs = append(errs, err)
	}

	promoted, failed, err = s.promote(ctx, now, models.CourseStateOngoing, models.CourseStateFinished, s.repo.ListDueForFinish)
	result.PromotedToFinished = append(result.PromotedToFinished, promoted...)
	result.Failed = append(result.Failed, failed...)
	if err != nil {
		errs = append(errs, err)
	}

	s.metrics.AddStateTransitions(string(models.CourseStateOngoing), len(result.PromotedToOngoing))
	s.metrics.AddStateTransitions(string(models.CourseStateFinished), len(result.PromotedToFinished))
	return result, errors.Join(errs...)
}

func (s *LifecycleService) promote(
	ctx context.Context,
	now time.Time,
	from, to models.CourseState,
	list func(context.Context, time.Time) ([]models.Course, error),
) (promoted, failed []string, err error) {
	courses, err := list(ctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s courses: %w", from, err)
	}
	for _, course := range courses {
		ok, err := s.repo.TransitionState(ctx, course.ID, from, to, now)
		if err != nil {
			s.logger.Warn("course state transition failed",
				zap.String("course_id", course.ID),
				zap.String("to", string(to)),
				zap.Error(err),
			)
			failed = append(failed, course.ID)
			continue
		}
		if ok {
			promoted = append(promoted, course.ID)
		}
	}
	return promoted, failed, nil
}
