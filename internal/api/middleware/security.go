package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SecurityConfig configures the CORS and response header middleware
type SecurityConfig struct {
	// AllowedOrigins lists the display front-ends allowed to call the API
	AllowedOrigins []string
	// MaxAge caches CORS preflight results, in seconds
	MaxAge int
}

// DefaultSecurityConfig allows any origin. The server listens on loopback by
// default, so the display is the only reachable caller.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AllowedOrigins: []string{"*"},
		MaxAge:         600,
	}
}

// NewCORS allows the display to read state and drive the recording controls
func NewCORS(config SecurityConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: config.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		MaxAge:       config.MaxAge,
	})
}

// NewSecureHeaders sets headers for a JSON-only API
func NewSecureHeaders() echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	})
}

// NoStore marks responses uncacheable. Alert and detection state changes
// within seconds and a cached copy would show an expired alert.
func NoStore() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
			return next(c)
		}
	}
}

// NewBodyLimit caps request bodies; the API only accepts small JSON objects
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}
