package handlers

import (
	"log/slog"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"foodglow-backend/internal/config"
	"foodglow-backend/internal/logging"
	"foodglow-backend/internal/middleware"
)

type Handlers struct {
	Health  *HealthHandler
	Trials  *TrialsHandler
	Jobs    *JobsHandler
	Account *AccountHandler
}

// NewRouter builds the HTTP API.
func NewRouter(cfg *config.Config, logger *slog.Logger, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinLogger(logger))
	router.Use(cors.New(corsConfig(cfg.CORSAllowOrigins)))

	// Health check (no auth)
	router.GET("/health", h.Health.Health)

	api := router.Group("/api/v1")

	claimLimiter := middleware.NewIPRateLimiter(cfg.TrialClaimRate, cfg.TrialClaimBurst)
	api.POST("/trials/claim", middleware.RateLimitMiddleware(claimLimiter), h.Trials.ClaimTrial)

	// Jobs run for a signed-in account or, anonymously, for a claimed trial
	api.POST("/jobs", middleware.OptionalAuthMiddleware(cfg), h.Jobs.CreateJob)

	api.GET("/account", middleware.AuthMiddleware(cfg), h.Account.GetAccount)

	return router
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Job-ID", "X-Enhancement-Degraded", "X-Credit-Billed"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}
