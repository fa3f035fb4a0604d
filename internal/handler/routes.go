package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/odyssey-auth/internal/middleware"
	"github.com/noah-isme/odyssey-auth/internal/service"
	"github.com/noah-isme/odyssey-auth/pkg/config"
)

// RegisterAuthRoutes mounts the auth endpoints on the given router group.
func RegisterAuthRoutes(rg *gin.RouterGroup, authService *service.AuthService, redisClient *redis.Client, cfg *config.Config, logger *zap.Logger) {
	authHandler := NewAuthHandler(authService)

	auth := rg.Group("/auth")
	auth.POST("/login", middleware.LoginThrottle(redisClient, cfg.Throttle, logger), authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", middleware.Authenticate(authService), authHandler.Me)
}
