package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/examify/examify-backend/internal/config"
	"github.com/examify/examify-backend/internal/handler"
	"github.com/examify/examify-backend/internal/middleware"
	"github.com/examify/examify-backend/internal/response"
	"github.com/examify/examify-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth  *handler.AuthHandler
	Exam  *handler.ExamHandler
	Sheet *handler.SheetHandler
	AI    *handler.AIHandler
	WS    *handler.WSHandler
	Watch *handler.WatchHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Every response carries request metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/login", handlers.Auth.Login)
		auth.POST("/logout", middleware.RequireAnyJWT(authService), handlers.Auth.Logout)
		auth.GET("/me", middleware.RequireAnyJWT(authService), handlers.Auth.Me)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.POST("/sheets", handlers.Sheet.Create)
		studentAPI.PUT("/sheets/submit", handlers.Sheet.Submit)
	}

	// Sheet reads and interventions are shared: students see their own
	// sheet, teachers see and manage every sheet.
	sharedAPI := router.Group("/api/v1")
	sharedAPI.Use(middleware.RequireAnyJWT(authService))
	{
		sharedAPI.GET("/sheets/:id", handlers.Sheet.Get)
		sharedAPI.PUT("/sheets/:id/unlock", handlers.Sheet.Unlock)
		sharedAPI.PUT("/sheets/:id/refresh", handlers.Sheet.Refresh)
		sharedAPI.POST("/ai/score", handlers.AI.Score)
		sharedAPI.GET("/exams", handlers.Exam.List)
		sharedAPI.GET("/exams/:id", handlers.Exam.Get)
	}

	// ─── 3. Teacher Group ──────────────────────────────────────────────
	teacherAPI := router.Group("/api/v1")
	teacherAPI.Use(middleware.RequireTeacherJWT(authService))
	{
		teacherAPI.POST("/exams", handlers.Exam.Create)
		teacherAPI.PUT("/exams/:id", handlers.Exam.Update)
		teacherAPI.DELETE("/exams/:id", handlers.Exam.Delete)
		teacherAPI.PUT("/exams/:id/status/:status", handlers.Exam.SetStatus)
		teacherAPI.GET("/exams/:id/sheets", handlers.Sheet.ListByExam)
		teacherAPI.PUT("/sheets/:id/flag", handlers.Sheet.AssignFlag)
	}

	// ─── 4. WebSocket Group (token via query) ──────────────────────────
	wsStudent := router.Group("/ws/v1")
	wsStudent.Use(middleware.RequireWSAuth(authService, service.TokenTypeStudent))
	{
		wsStudent.GET("/sheets/:id/stream", handlers.WS.SheetStream)
	}

	wsTeacher := router.Group("/ws/v1")
	wsTeacher.Use(middleware.RequireWSAuth(authService, service.TokenTypeTeacher))
	{
		wsTeacher.GET("/exams/:id/watch", handlers.Watch.ExamWatch)
	}

	return router
}
