package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tobyfell/imagepress/internal/ratelimit"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cost := requestCost(r)
		if cost == 0 {
			next.ServeHTTP(w, r)
			return
		}

		subject := strings.TrimSpace(r.Header.Get(s.rateLimitHeader))
		if subject == "" {
			subject = "anonymous"
		}
		subject = subject + ":" + routeLabel(r.URL.Path)

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
		if err != nil {
			// Fail open: a broken limiter must not take down conversions.
			s.logger.Printf("rate limiter check failed for subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// requestCost weighs the write endpoints: a synchronous conversion
// does all its work inline so it drains the bucket faster than a batch
// creation, which only mints upload slots. Zero means unlimited.
func requestCost(r *http.Request) int {
	if r.Method != http.MethodPost {
		return 0
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/convert"):
		return 2
	case strings.HasPrefix(r.URL.Path, "/v1/batches"):
		return 1
	default:
		return 0
	}
}
