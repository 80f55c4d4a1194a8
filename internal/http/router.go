package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"evcharge/internal/domain"
)

// RouterConfig agrupa los ajustes de middlewares que vienen de la configuración.
type RouterConfig struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	// Ready, si no es nil, se consulta en /health (p. ej. ping a Postgres).
	Ready func(ctx context.Context) error
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	cfg RouterConfig,
	gate Gate,
	authH *AuthHandler,
	stationH *StationHandler,
	feedH *FeedHandler,
) *gin.Engine {
	r := gin.New()

	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), corsMiddleware(cfg.CORSOrigins), rateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))

	r.GET("/health", func(c *gin.Context) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ready(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	requireAuth := Authenticate(gate, logger)
	requireSession := SessionAuth(gate, logger)
	adminOnly := Require(domain.RequireRole(domain.RoleAdmin), logger)

	auth := r.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", authH.Login)
	auth.POST("/logout", requireSession, authH.Logout)
	auth.GET("/me", requireAuth, authH.Me)
	auth.PATCH("/me", requireAuth, authH.UpdateMe)
	auth.GET("/verify-role", requireAuth, authH.VerifyRole)
	auth.GET("/session", requireSession, authH.Session)
	auth.PATCH("/session/charger", requireSession, authH.SetCharger)

	stations := r.Group("/stations")
	stations.GET("", OptionalAuth(gate), stationH.List)
	if feedH != nil {
		stations.GET("/feed", feedH.Stream)
	}
	stations.GET("/:id", OptionalAuth(gate), stationH.Get)
	stations.POST("", requireAuth, adminOnly, stationH.Create)
	stations.PATCH("/:id", requireAuth, adminOnly, stationH.Update)
	stations.PUT("/:id", requireAuth, adminOnly, stationH.Update)
	stations.DELETE("/:id", requireAuth, adminOnly, stationH.Delete)
	// Cualquier rol reserva; liberar exige ser el titular, también para un admin.
	stations.POST("/:id/book", requireAuth, stationH.Book)
	stations.POST("/:id/release", requireAuth, stationH.Release)

	return r
}

// zapLoggerMiddleware registra cada request con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
