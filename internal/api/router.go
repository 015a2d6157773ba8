package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/twparser/internal/api/handler"
	"github.com/timmy/twparser/internal/api/middleware"
	"github.com/timmy/twparser/internal/config"
	"github.com/timmy/twparser/internal/logger"
	"github.com/timmy/twparser/internal/service"
)

// Services are the application services exposed over HTTP.
type Services struct {
	Selection    *service.SelectionService
	Slots        *service.SlotService
	Credentials  *service.CredentialService
	Cooldowns    *service.CooldownService
	Parse        *service.ParseService
	Scheduler    *service.SchedulerService
	Execution    *service.ExecutionService
	Worker       *service.TaskWorker
	Risk         *service.RiskService
	Warmth       *service.WarmthService
	HealthWorker *service.HealthWorker
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(svc *Services, cfg config.ServerConfig, log *logger.Logger) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler()
	runtimeHandler := handler.NewRuntimeHandler(svc.Selection, svc.Slots)
	accountHandler := handler.NewAccountHandler(svc.Selection, svc.Credentials, svc.Cooldowns)
	parseHandler := handler.NewParseHandler(svc.Parse)
	executionHandler := handler.NewExecutionHandler(svc.Scheduler, svc.Execution, svc.Worker)
	opsHandler := handler.NewHealthOpsHandler(svc.Risk, svc.Warmth, svc.HealthWorker)

	r.GET("/health", healthHandler.Health)

	tw := r.Group("/api/v4/twitter")
	tw.Use(middleware.Owner(cfg.DefaultUserID))
	{
		rt := tw.Group("/runtime")
		rt.GET("/selection", runtimeHandler.Selection)
		rt.GET("/selection/full", runtimeHandler.SelectionFull)
		rt.GET("/candidates", runtimeHandler.Candidates)
		rt.GET("/slots", runtimeHandler.Slots)
		rt.POST("/slots/:slotId/pause", runtimeHandler.PauseSlot)
		rt.POST("/slots/:slotId/resume", runtimeHandler.ResumeSlot)
		rt.POST("/slots/:slotId/bind", runtimeHandler.BindSlot)
		rt.DELETE("/slots/:slotId/bind", runtimeHandler.UnbindSlot)
		rt.POST("/health-check/:slotId", runtimeHandler.HealthCheck)

		accounts := tw.Group("/accounts")
		accounts.GET("/preferred", accountHandler.GetPreferred)
		accounts.DELETE("/preferred", accountHandler.ClearPreferred)
		accounts.POST("/:id/preferred", accountHandler.SetPreferred)
		accounts.POST("/:id/credentials", accountHandler.IngestCredentials)
		accounts.GET("/:id/cooldown", accountHandler.AccountCooldown)
		accounts.DELETE("/:id/cooldown", accountHandler.ClearAccountCooldown)

		tw.GET("/targets/:id/cooldown", accountHandler.TargetCooldown)
		tw.DELETE("/targets/:id/cooldown", accountHandler.ClearTargetCooldown)

		parse := tw.Group("/parse")
		parse.POST("/search", parseHandler.Search)
		parse.POST("/account", parseHandler.Account)
		parse.GET("/tasks", parseHandler.ListTasks)
		parse.GET("/tasks/:id", parseHandler.GetTask)

		tw.GET("/scheduler/plan", executionHandler.Plan)
		tw.POST("/scheduler/commit", executionHandler.Commit)
		tw.GET("/execution/status", executionHandler.Status)
		tw.GET("/execution/detailed-status", executionHandler.DetailedStatus)
		tw.POST("/execution/abort", executionHandler.Abort)

		tw.GET("/risk/report", opsHandler.RiskReport)
		tw.GET("/risk/session/:id", opsHandler.SessionRisk)
		tw.POST("/risk/recalculate", opsHandler.Recalculate)
		tw.GET("/warmth/status", opsHandler.WarmthStatus)
		tw.POST("/warmth/run", opsHandler.WarmthRun)
		tw.GET("/worker/status", opsHandler.WorkerStatus)
		tw.POST("/worker/run-now", opsHandler.WorkerRunNow)
	}

	return r
}
