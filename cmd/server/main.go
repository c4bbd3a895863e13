// Package main runs the attendance backend HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veriloc/backend/config"
	"github.com/veriloc/backend/internal/attendance"
	"github.com/veriloc/backend/internal/auth"
	"github.com/veriloc/backend/internal/cohorts"
	"github.com/veriloc/backend/internal/middleware"
	"github.com/veriloc/backend/internal/realtime"
	"github.com/veriloc/backend/internal/reports"
	"github.com/veriloc/backend/internal/sessions"
	"github.com/veriloc/backend/internal/token"
	"github.com/veriloc/backend/pkg/database"
	"github.com/veriloc/backend/pkg/queue"
	"github.com/veriloc/backend/pkg/redis"
	"github.com/veriloc/backend/pkg/response"
	"github.com/veriloc/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	passService := token.NewService(cfg.Pass.Secret, cfg.Pass.MaxAgeSeconds)

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Cohorts
	cohortRepo := cohorts.NewRepository(pool)
	cohortHandler := cohorts.NewHandler(cohortRepo, logger)

	// Sessions and passes
	sessionRepo := sessions.NewRepository(pool)
	attendanceRepo := attendance.NewRepository(pool)
	sessionHandler := sessions.NewHandler(sessionRepo, cohortRepo, attendanceRepo, passService, cfg.Pass.QRSizePx, logger)

	// Redemption pipeline; the nonce window matches the pass validity window.
	ledger := sessions.NewNonceLedger(rdb.Client, time.Duration(cfg.Pass.MaxAgeSeconds)*time.Second)
	pipeline := attendance.NewPipeline(passService, sessionRepo, ledger, cohortRepo, attendanceRepo, logger)
	attendanceHandler := attendance.NewHandler(pipeline, attendanceRepo, sessionRepo, hub, logger)

	// Reports
	jobQueue := queue.NewQueue(rdb.Client, logger)
	reportRepo := reports.NewRepository(pool)
	reportHandler := reports.NewHandler(reportRepo, cohortRepo, jobQueue, s3Client, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}
	feedAuthorize := func(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
		s, err := sessionRepo.GetByID(ctx, sessionID)
		if err != nil {
			return false, err
		}
		return s != nil && s.PresenterID == userID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Cohorts
		api.GET("/cohorts", cohortHandler.List)
		api.POST("/cohorts", middleware.RequireRole("presenter"), cohortHandler.Create)

		// Sessions (presenter side: lifecycle, rotating QR, roll)
		api.POST("/sessions/start", middleware.RequireRole("presenter"), sessionHandler.Start)
		api.POST("/sessions/stop", middleware.RequireRole("presenter"), sessionHandler.Stop)
		api.GET("/sessions/qr", middleware.RequireRole("presenter"), sessionHandler.MintQR)
		api.GET("/sessions", middleware.RequireRole("presenter"), sessionHandler.History)
		api.GET("/sessions/:id/attendance", middleware.RequireRole("presenter"), attendanceHandler.Roll)

		// Attendance (attendee side)
		api.POST("/attendance/scan", middleware.RequireRole("attendee"), attendanceHandler.Scan)
		api.GET("/attendance/me", middleware.RequireRole("attendee"), attendanceHandler.Me)

		// Report exports
		api.POST("/reports", middleware.RequireRole("presenter"), reportHandler.Create)
		api.GET("/reports", middleware.RequireRole("presenter"), reportHandler.List)
		api.GET("/reports/:id", middleware.RequireRole("presenter"), reportHandler.Get)
		api.GET("/reports/:id/download-url", middleware.RequireRole("presenter"), reportHandler.DownloadURL)
	}

	// WebSocket live check-in feed (token in query; no Authorization header required)
	router.GET("/ws/feed", realtime.ServeWs(hub, logger, jwtValidate, feedAuthorize))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
