package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"classbook/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
)

// rate limiting middleware
func Middleware(rateLimiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get client IP
		clientIP := getClientIP(c)

		// Determine rate limit type from route
		limitType := getRateLimitType(c.FullPath())

		// Check rate limit
		result, err := rateLimiter.IsAllowed(c.Request.Context(), clientIP, limitType)
		if err != nil {
			response.RespondJSON(c, "error", http.StatusInternalServerError,
				"Rate limit check failed", nil, nil)
			c.Abort()
			return
		}

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime))

		// Check if rate limited
		if !result.Allowed {
			response.RespondJSON(c, "error", http.StatusTooManyRequests,
				"Rate limit exceeded", nil, map[string]interface{}{
					"limit":      result.Limit,
					"reset_time": result.ResetTime,
				})
			c.Abort()
			return
		}

		c.Next()
	}
}

func getRateLimitType(path string) RateLimitType {
	switch {
	// Health/monitoring endpoints
	case strings.HasPrefix(path, "/health"),
		strings.HasPrefix(path, "/ping"),
		strings.HasPrefix(path, "/status"):
		return RateLimitTypeHealth

	// Staff operations on class instances (roster, capacity, walk-ins, batch check-in, class cancel)
	case strings.Contains(path, "/roster"),
		strings.Contains(path, "/capacity"),
		strings.Contains(path, "/walk-ins"),
		strings.Contains(path, "/check-ins/batch"),
		strings.Contains(path, "/class-instances/") && strings.Contains(path, "/cancel"):
		return RateLimitTypeStaff

	// Critical booking flow endpoints: seat claims and the transitions
	// that move or free a seat
	case strings.Contains(path, "/reservations/") && (strings.Contains(path, "/accept") ||
		strings.Contains(path, "/cancel") ||
		strings.Contains(path, "/check-in")),
		strings.HasSuffix(path, "/reservations") && !strings.Contains(path, "/members/"):
		return RateLimitTypeBookingCritical

	// Other reservation endpoints (confirm, member listings, waitlist views)
	case strings.Contains(path, "/reservations") ||
		strings.Contains(path, "/waitlist"):
		return RateLimitTypeBooking

	// Public browsing endpoints
	case strings.Contains(path, "/class-instances"),
		strings.Contains(path, "/studios"):
		return RateLimitTypePublic

	default:
		return RateLimitTypeDefault
	}
}

// extracts real client IP
func getClientIP(c *gin.Context) string {
	// Check X-Forwarded-For header
	xForwardedFor := c.GetHeader("X-Forwarded-For")
	if xForwardedFor != "" {
		ips := strings.Split(xForwardedFor, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	// Check X-Real-IP header
	xRealIP := c.GetHeader("X-Real-IP")
	if xRealIP != "" {
		if net.ParseIP(xRealIP) != nil {
			return xRealIP
		}
	}

	// Fall back to RemoteAddr
	ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}

	return ip
}
