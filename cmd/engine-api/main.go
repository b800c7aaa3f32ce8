package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-engine-api/api/swagger"
	"github.com/noah-isme/course-engine-api/internal/handler"
	"github.com/noah-isme/course-engine-api/internal/middleware"
	"github.com/noah-isme/course-engine-api/internal/models"
	"github.com/noah-isme/course-engine-api/internal/repository"
	"github.com/noah-isme/course-engine-api/internal/service"
	"github.com/noah-isme/course-engine-api/migrations"
	"github.com/noah-isme/course-engine-api/pkg/cache"
	"github.com/noah-isme/course-engine-api/pkg/clock"
	"github.com/noah-isme/course-engine-api/pkg/config"
	"github.com/noah-isme/course-engine-api/pkg/database"
	"github.com/noah-isme/course-engine-api/pkg/jobs"
	"github.com/noah-isme/course-engine-api/pkg/logger"
	"github.com/noah-isme/course-engine-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/course-engine-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-engine-api/pkg/middleware/requestid"
)

// @title Course Engine API
// @version 1.0.0
// @description Course lifecycle, enrollment capacity and attendance session engine.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := database.Migrate(db, migrations.FS, logr); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, attendance cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient)
	defer cacheRepo.Close() //nolint:errcheck

	loc := cfg.Lifecycle.Location()
	clk := clock.Real{Logger: logr}
	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Attendance.CacheTTL, logr, cfg.Attendance.CacheEnabled && redisClient != nil)

	courseRepo := repository.NewCourseRepository(db)
	userRepo := repository.NewUserRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)

	notifications := service.NewNotificationService(userRepo, courseRepo, mailer.New(cfg.Mail, logr), metricsSvc, loc, logr)
	notifyQueue := jobs.NewQueue("notifications", notifications.Handle, jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.Retries,
		RetryDelay: cfg.Notify.RetryDelay,
		Logger:     logr,
	})
	notifications.AttachQueue(notifyQueue)
	notifyQueue.Start(ctx)
	defer notifyQueue.Stop()

	courseSvc := service.NewCourseService(courseRepo, userRepo, clk, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, notifications, cacheSvc, clk, validate, metricsSvc, logr)
	sessionSvc := service.NewAttendanceSessionService(attendanceRepo, courseRepo, cacheSvc, clk, service.AttendanceSessionConfig{
		Location: loc,
		CacheTTL: cfg.Attendance.CacheTTL,
	}, validate, metricsSvc, logr)
	checkInSvc := service.NewCheckInService(attendanceRepo, cacheSvc, clk, loc, validate, metricsSvc, logr)
	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		Expiry: cfg.JWT.Expiration,
	})

	if cfg.Lifecycle.Enabled {
		service.NewLifecycleService(courseRepo, clk, cfg.Lifecycle.SweepInterval, metricsSvc, logr).Start(ctx)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readinessChecks(db, cacheRepo, cfg.Redis.Enabled, redisClient != nil))
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix, middleware.JWT(tokenSvc)),
		handler.NewCourseHandler(courseSvc),
		handler.NewEnrollmentHandler(enrollmentSvc),
		handler.NewAttendanceHandler(sessionSvc, checkInSvc),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
		_ = srv.Close()
	}
}

func registerRoutes(api *gin.RouterGroup, courses *handler.CourseHandler, enrollments *handler.EnrollmentHandler, attendance *handler.AttendanceHandler) {
	staff := middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin)
	admin := middleware.RequireRoles(models.RoleAdmin)

	api.POST("/courses", admin, courses.Create)
	api.GET("/courses/:id", courses.Get)
	api.POST("/courses/:id/enrollments", enrollments.Enroll)
	api.GET("/courses/:id/enrollment", enrollments.Status)
	api.POST("/courses/:id/attendance-sessions", staff, attendance.CreateSession)
	api.GET("/courses/:id/attendance-sessions", attendance.ListSessions)
	api.GET("/courses/:id/attendance-hours", attendance.HourBudget)
	api.GET("/courses/:id/attendance/users/:userId", attendance.UserRecords)

	api.GET("/me/enrollments", enrollments.ListMine)
	api.DELETE("/enrollments/:id", enrollments.Cancel)
	api.GET("/enrollments", admin, enrollments.List)
	api.GET("/enrollments/cancelled", enrollments.ListCancelled)
	api.GET("/enrollments/cancelled/stats", admin, enrollments.CancellationStats)
	api.GET("/enrollments/cancelled/:id", enrollments.GetCancelled)

	api.POST("/attendance-sessions/check-in", attendance.CheckIn)
	api.PUT("/attendance-sessions/:id", admin, attendance.UpdateSession)
	api.GET("/attendance-sessions/:id/roster", staff, attendance.Roster)
	api.GET("/attendance-sessions/:id/roster/export", staff, attendance.ExportRoster)
}

// readinessChecks pings Postgres and Redis. A Redis that failed to connect at
// startup leaves the cache disabled, which is reported as degraded.
func readinessChecks(db *sqlx.DB, cacheRepo *repository.CacheRepository, redisEnabled, redisConnected bool) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
	}
	switch {
	case !redisEnabled:
	case redisConnected:
		checks["redis"] = cacheRepo.Ping
	default:
		checks["redis"] = handler.Degraded("redis unreachable at startup, attendance cache disabled")
	}
	return checks
}
