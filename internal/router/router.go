package router

import (
	"context"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	StudentMgmt   *handler.StudentManagementHandler
	Exam          *handler.ExamHandler
	Media         *handler.MediaHandler
	Monitor       *handler.MonitorHandler
	System        *handler.SystemHandler
	WS            *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// Rate limiter cleanup stops when ctx is cancelled.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(response.RequestLogger(log))
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		Skipper:   middleware.SkipPrefixes("/uploads"),
	}))

	// ─── Uploads ───────────────────────────────────────────────────────
	// Question media is public and immutable; proctoring screenshots are
	// only visible to monitoring admins.
	router.Group("/uploads/media", middleware.CacheControl(31536000)).
		Static("/", filepath.Join(cfg.UploadDir, "media"))
	router.Group("/uploads/"+service.ScreenshotDir,
		middleware.RequireAdminJWT(authService),
		middleware.RequirePermission(model.PermissionExamsMonitor),
		middleware.PrivateCache(3600),
	).Static("/", filepath.Join(cfg.UploadDir, service.ScreenshotDir))

	router.GET("/health", middleware.NoStore(), handlers.System.Health)

	authLimiter := middleware.NewRateLimiter(30, time.Minute)
	passwordLimiter := middleware.NewRateLimiter(cfg.Proctor.PasswordAttemptsPerMinute, time.Minute)
	go authLimiter.RunCleanup(ctx.Done())
	go passwordLimiter.RunCleanup(ctx.Done())

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/student/login", authLimiter.Middleware(), handlers.Auth.StudentLogin)
		auth.POST("/admin/login", authLimiter.Middleware(), handlers.Auth.AdminLogin)

		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/exams", handlers.StudentPortal.ListExams)
		studentAPI.GET("/exams/:exam_id", handlers.StudentPortal.GetExam)
		studentAPI.POST("/exams/:exam_id/verify-password",
			passwordLimiter.MiddlewareBy(middleware.ByUser),
			handlers.StudentPortal.VerifyPassword,
		)
		studentAPI.POST("/exams/:exam_id/attempts", handlers.StudentPortal.StartAttempt)

		studentAPI.PUT("/attempts/:attempt_id/answers", handlers.StudentPortal.SaveAnswer)
		studentAPI.POST("/attempts/:attempt_id/violations", handlers.StudentPortal.LogViolation)
		studentAPI.POST("/attempts/:attempt_id/screenshots", handlers.StudentPortal.UploadScreenshot)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.StudentPortal.SubmitExam)
		studentAPI.GET("/attempts/:attempt_id/result", handlers.StudentPortal.GetResult)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/exams/:exam_id/attempt", handlers.WS.AttemptStream)
	}

	// ─── 4. Admin Group (JWT + Permissions) ────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.NoStore())
	{
		canWriteExams := middleware.RequirePermission(model.PermissionExamsWrite)

		adminAPI.POST("/media/upload", canWriteExams, handlers.Media.UploadMedia)

		exams := adminAPI.Group("/exams")
		{
			exams.GET("", middleware.RequirePermission(model.PermissionExamsRead), handlers.Exam.ListExams)
			exams.POST("", canWriteExams, handlers.Exam.CreateExam)
			exams.GET("/:id", middleware.RequirePermission(model.PermissionExamsRead), handlers.Exam.GetExam)
			exams.PUT("/:id", canWriteExams, handlers.Exam.UpdateExam)
			exams.PUT("/:id/questions", canWriteExams, handlers.Exam.ReplaceQuestions)
			exams.POST("/:id/questions/import", canWriteExams, handlers.Exam.ImportQuestions)
			exams.POST("/:id/publish", middleware.RequirePermission(model.PermissionExamsPublish), handlers.Exam.PublishExam)
			exams.POST("/:id/refresh-cache",
				middleware.RequireAnyPermission(model.PermissionExamsWrite, model.PermissionExamsPublish),
				handlers.Exam.RefreshExamCache,
			)
			exams.GET("/:id/attempts", middleware.RequirePermission(model.PermissionExamsRead), handlers.Exam.ListAttempts)
			exams.GET("/:id/monitor", middleware.RequirePermission(model.PermissionExamsMonitor), handlers.Monitor.MonitorExamSSE)
		}

		adminAPI.GET("/attempts/:id/result",
			middleware.RequirePermission(model.PermissionResultsRead),
			handlers.Exam.GetAttemptResult,
		)

		students := adminAPI.Group("/students")
		{
			students.GET("", middleware.RequirePermission(model.PermissionStudentsRead), handlers.StudentMgmt.ListStudents)
			students.POST("", middleware.RequirePermission(model.PermissionStudentsWrite), handlers.StudentMgmt.CreateStudent)
			students.POST("/import", middleware.RequirePermission(model.PermissionStudentsWrite), handlers.StudentMgmt.ImportStudents)
			students.POST("/:id/reset-session",
				middleware.RequirePermission(model.PermissionStudentsResetSession),
				handlers.StudentMgmt.ResetStudentSession,
			)
		}

		adminAPI.GET("/system/queues",
			middleware.RequirePermission(model.PermissionExamsMonitor),
			handlers.System.QueueStatsSSE,
		)
	}

	return router
}
