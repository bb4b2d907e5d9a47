package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

const ownerKey = "owner_id"

// requestID tags every request with a ULID, reusing one set upstream.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = ulid.Make().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, rid)
			return next(c)
		}
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			logger.InfoContext(req.Context(), "api request",
				"method", req.Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return nil
		}
	}
}

// ownerAuth requires the owner header and stores it on the context.
func ownerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			owner := c.Request().Header.Get(HeaderOwnerID)
			if owner == "" {
				return c.JSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			}
			c.Set(ownerKey, owner)
			return next(c)
		}
	}
}

func ownerID(c echo.Context) string {
	owner, _ := c.Get(ownerKey).(string)
	return owner
}

type rateLimitBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// rateLimit applies the fixed-window limiter per owner, or per client IP
// when no owner is known. Limiter failures let the request through.
func (s *Server) rateLimit(route string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.limiter == nil || s.config.TestLimit <= 0 {
				return next(c)
			}

			caller := ownerID(c)
			if caller == "" {
				caller = c.RealIP()
			}
			key := "webhook:" + route + ":" + caller

			ctx := c.Request().Context()
			res, err := s.limiter.Allow(ctx, key, s.config.TestLimit, s.config.TestWindow)
			if err != nil {
				s.logger.WarnContext(ctx, "rate limiter unavailable, allowing request",
					"key", key, "error", err)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				retry := res.RetryAfter(time.Now())
				h.Set("Retry-After", strconv.Itoa(retry))
				if s.metrics != nil {
					s.metrics.RateLimited.WithLabelValues(route).Inc()
				}
				return c.JSON(http.StatusTooManyRequests, rateLimitBody{
					Error:      "rate limit exceeded",
					RetryAfter: retry,
				})
			}
			return next(c)
		}
	}
}
