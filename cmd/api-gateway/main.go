package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/odyssey-auth/api/swagger"
	"github.com/noah-isme/odyssey-auth/internal/handler"
	"github.com/noah-isme/odyssey-auth/internal/middleware"
	"github.com/noah-isme/odyssey-auth/internal/repository"
	"github.com/noah-isme/odyssey-auth/internal/service"
	"github.com/noah-isme/odyssey-auth/pkg/cache"
	"github.com/noah-isme/odyssey-auth/pkg/config"
	"github.com/noah-isme/odyssey-auth/pkg/database"
	"github.com/noah-isme/odyssey-auth/pkg/logger"
	corsmiddleware "github.com/noah-isme/odyssey-auth/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/odyssey-auth/pkg/middleware/requestid"
)

// @title Odyssey Auth API
// @version 1.0.0
// @description Authentication and session lifecycle service
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	// The throttle fails open, so a redis outage degrades to unthrottled
	// logins instead of blocking startup.
	var redisClient *redis.Client
	if cfg.Throttle.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, login throttle disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db, cfg.Auth.RefreshTTL)

	metricsSvc := service.NewMetricsService()
	codec := service.NewTokenCodec(cfg.Auth)
	authService := service.NewAuthService(userRepo, tokenRepo, codec, validator.New(), logr, metricsSvc)

	go pruneExpiredTokens(tokenRepo, cfg.Auth.CleanupInterval, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	handler.RegisterAuthRoutes(api, authService, redisClient, cfg, logr)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

// pruneExpiredTokens lazily removes refresh rows past expiry. Refresh always
// re-checks expiry itself; this only keeps the table small.
func pruneExpiredTokens(repo *repository.TokenRepository, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pruned, err := repo.DeleteExpired(ctx, time.Now())
		cancel()
		if err != nil {
			logr.Warn("refresh token cleanup failed", zap.Error(err))
			continue
		}
		if pruned > 0 {
			logr.Info("pruned expired refresh tokens", zap.Int64("count", pruned))
		}
	}
}
