package app

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"telya.io/werkstatt/internal/api/handlers"
	"telya.io/werkstatt/internal/api/middleware"
	"telya.io/werkstatt/internal/config"
	"telya.io/werkstatt/internal/domain"
)

// Public staff-API routes that do NOT require JWT authentication. The
// customer tracking endpoint lives outside /api/v1 and is always public.
var publicPrefixes = []string{
	"/api/v1/auth/login",
	"/api/v1/health/",
}

// defaultDevOrigins is the CORS allowlist when none is configured.
var defaultDevOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// trackingPath is the customer tracking endpoint. Customers open their
// tracking link from anywhere, so it cannot sit behind the staff allowlist.
const trackingPath = "/api/track"

func newRouter(cfg *config.Config, server *handlers.Server, signingKey []byte) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), corsByRoute(cfg))
	router.HandleMethodNotAllowed = true

	// Customer tracking endpoint. Token-authenticated, rate limited, and it
	// renders its own {"error": ...} response shape, so it stays outside the
	// ErrorHandler chain of the staff API.
	router.POST(trackingPath, server.Track)
	router.OPTIONS(trackingPath, server.TrackPreflight)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.ErrorHandler(), jwtSkipPublic(signingKey))

	v1.POST("/auth/login", server.Login)
	v1.GET("/auth/me", server.GetCurrentUser)

	v1.GET("/health/live", server.GetLiveness)
	v1.GET("/health/ready", server.GetReadiness)

	v1.GET("/tickets", server.ListTickets)
	v1.POST("/tickets", server.CreateTicket)
	v1.GET("/tickets/:id", server.GetTicket)
	v1.PUT("/tickets/:id/status", server.UpdateTicketStatus)
	v1.POST("/tickets/:id/kva", server.CreateEstimate)

	// Endcustomer price release changes what the B2B end customer gets to
	// see; restricted to office and admin staff.
	v1.POST("/kva/:id/release",
		middleware.RequireRole(string(domain.RoleBuero), string(domain.RoleAdmin)),
		server.ReleaseEndcustomerPrice,
	)

	v1.GET("/notifications", server.ListNotifications)
	v1.GET("/notifications/unread-count", server.GetUnreadCount)
	v1.POST("/notifications/:id/read", server.MarkNotificationRead)
	v1.POST("/notifications/read-all", server.MarkAllNotificationsRead)

	return router
}

// jwtSkipPublic returns middleware that applies JWT auth only on non-public routes.
func jwtSkipPublic(signingKey []byte) gin.HandlerFunc {
	jwtMw := middleware.JWTAuth(signingKey)
	return func(c *gin.Context) {
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		jwtMw(c)
	}
}

// corsByRoute applies the open customer policy on the tracking endpoint and
// the configured staff allowlist everywhere else.
func corsByRoute(cfg *config.Config) gin.HandlerFunc {
	staff := cors.New(buildCORSConfig(cfg))
	public := cors.New(publicCORSConfig())
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, trackingPath) {
			public(c)
			return
		}
		staff(c)
	}
}

// publicCORSConfig is the tracking endpoint policy: any origin, never with
// credentials. Preflights answer with an empty 200.
func publicCORSConfig() cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowCredentials = false
	corsCfg.AllowMethods = []string{http.MethodPost, http.MethodOptions}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type"}
	corsCfg.OptionsResponseStatusCode = http.StatusOK
	return corsCfg
}

// buildCORSConfig derives the CORS policy from the server configuration.
// A wildcard origin in the allowlist is ignored unless the unsafe flag is
// set, and the wildcard mode never allows credentials.
func buildCORSConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-ID")
	corsCfg.AllowCredentials = cfg.Server.AllowCredentials

	if cfg.Server.UnsafeAllowAllOrigins {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
		return corsCfg
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "" || origin == "*" {
			continue
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		origins = defaultDevOrigins
	}
	corsCfg.AllowOrigins = origins

	return corsCfg
}
