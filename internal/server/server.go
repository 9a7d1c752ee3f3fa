package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/pipeline"
	"github.com/ifuryst/quickbyte/internal/queue"
	"github.com/ifuryst/quickbyte/internal/service"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Monitoring *service.MonitoringService
	Auth       *service.AuthService
	Jobs       service.Dispatcher
	Scheduler  *service.Scheduler
}

// NewServer builds the HTTP surface. scheduler may be nil when the process
// runs without cron triggers.
func NewServer(cfg *config.Config, db *gorm.DB, jobs service.Dispatcher, scheduler *service.Scheduler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)

	srv := &Server{
		Config:     cfg,
		DB:         db,
		Router:     gin.New(),
		Logger:     logger,
		Monitoring: service.NewMonitoringService(db, logger),
		Auth:       service.NewAuthService(logger, cfg.Auth.TOTPSecret),
		Jobs:       jobs,
		Scheduler:  scheduler,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+service.OTPHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	api := s.Router.Group("/api/v1")
	{
		p := api.Group("/pipeline")
		{
			p.GET("/summary", s.handleSummary)
			p.GET("/graph", s.handleGraph)
			p.GET("/triggers", s.handleTriggers)
		}

		api.GET("/news", s.handleListNews)
		api.GET("/news/:id", s.handleGetNews)
		api.GET("/batches", s.handleListBatches)
		api.GET("/uploads", s.handleListUploads)
		api.GET("/errors", s.handleListErrors)
		api.GET("/stats/platforms", s.handlePlatformStats)

		admin := api.Group("/jobs", s.Auth.AuthMiddleware())
		{
			admin.POST("/:name", s.handleDispatchJob)
		}
	}
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.Monitoring.PipelineSummary()
	if err != nil {
		s.Logger.Error("Failed to build pipeline summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGraph(c *gin.Context) {
	c.JSON(http.StatusOK, pipeline.Graph())
}

func (s *Server) handleTriggers(c *gin.Context) {
	triggers := []service.TriggerInfo{}
	if s.Scheduler != nil {
		triggers = s.Scheduler.List()
	}
	c.JSON(http.StatusOK, gin.H{"triggers": triggers})
}

func (s *Server) handleListNews(c *gin.Context) {
	q := s.DB.WithContext(c.Request.Context()).Order("id desc").Limit(limitParam(c))
	if stage := c.Query("stage"); stage != "" {
		st := models.NewsStage(stage)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stage"})
			return
		}
		q = q.Where("current_stage = ?", st)
	}

	var news []models.News
	if err := q.Find(&news).Error; err != nil {
		s.Logger.Error("Failed to list news", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list news"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"news": news})
}

func (s *Server) handleGetNews(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var n models.News
	err = s.DB.WithContext(c.Request.Context()).Preload("Article").First(&n, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "news not found"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to load news", zap.Uint64("news_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load news"})
		return
	}
	c.JSON(http.StatusOK, n)
}

func (s *Server) handleListBatches(c *gin.Context) {
	var batches []models.OpenaiBatch
	if err := s.DB.WithContext(c.Request.Context()).Order("id desc").Limit(limitParam(c)).Find(&batches).Error; err != nil {
		s.Logger.Error("Failed to list batches", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list batches"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

func (s *Server) handleListUploads(c *gin.Context) {
	q := s.DB.WithContext(c.Request.Context()).Preload("Platform").Order("scheduled_at").Limit(limitParam(c))
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var uploads []models.ScheduledUpload
	if err := q.Find(&uploads).Error; err != nil {
		s.Logger.Error("Failed to list uploads", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list uploads"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": uploads})
}

func (s *Server) handleListErrors(c *gin.Context) {
	logs, err := s.Monitoring.GetRecentErrors(limitParam(c))
	if err != nil {
		s.Logger.Error("Failed to list errors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list errors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": logs})
}

func (s *Server) handlePlatformStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 {
		days = 7
	}
	stats, err := s.Monitoring.GetPlatformStats(days)
	if err != nil {
		s.Logger.Error("Failed to load platform stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// handleDispatchJob queues a named job. The request body, when present, is
// the job payload.
func (s *Server) handleDispatchJob(c *gin.Context) {
	name := c.Param("name")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	var payload interface{}
	if len(body) > 0 {
		if !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be JSON"})
			return
		}
		payload = json.RawMessage(body)
	}

	queued, err := s.Jobs.Trigger(c.Request.Context(), name, payload)
	if errors.Is(err, queue.ErrUnknownJob) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to dispatch job", zap.String("job", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to dispatch job"})
		return
	}

	s.Logger.Info("Job dispatched from API", zap.String("job", name), zap.Bool("queued", queued))
	c.JSON(http.StatusAccepted, gin.H{"job": name, "queued": queued})
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Start serves HTTP and runs the scheduler until the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s.Scheduler != nil {
		if err := s.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
