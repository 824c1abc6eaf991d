package middleware

import (
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Route classes with separate hourly budgets. Generation and publishing hit
// paid upstream APIs, so they get much smaller buckets than reads.
const (
	classGenerate = "generate"
	classPublish  = "publish"
	classGeneral  = "general"
)

const (
	defaultGeneratePerHour = 10
	defaultPublishPerHour  = 5
	defaultGeneralPerHour  = 100
)

// RateLimiter keeps one token bucket per user and route class. Buckets are
// created on first use and refill continuously over the hour.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	generatePerHour int
	publishPerHour  int
	generalPerHour  int
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets:         make(map[string]*rate.Limiter),
		generatePerHour: intFromEnv("RATE_LIMIT_GENERATE_PER_HOUR", defaultGeneratePerHour),
		publishPerHour:  intFromEnv("RATE_LIMIT_PUBLISH_PER_HOUR", defaultPublishPerHour),
		generalPerHour:  intFromEnv("RATE_LIMIT_GENERAL_PER_HOUR", defaultGeneralPerHour),
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		id := UserID(r.Context())
		if id == "" {
			id = remoteIP(r)
		}
		class, perHour := rl.classify(r.URL.Path)
		if perHour > 0 && !rl.allow(id, class, perHour) {
			log.Printf("[RateLimit] rejected user=%s class=%s path=%s", id, class, r.URL.Path)
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) classify(path string) (string, int) {
	switch {
	case strings.HasPrefix(path, "/api/generate"):
		return classGenerate, rl.generatePerHour
	case strings.HasPrefix(path, "/api/publish"):
		return classPublish, rl.publishPerHour
	default:
		return classGeneral, rl.generalPerHour
	}
}

func (rl *RateLimiter) allow(identifier, class string, perHour int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := identifier + ":" + class
	lim, ok := rl.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour)
		rl.buckets[key] = lim
	}
	return lim.Allow()
}

// remoteIP identifies unauthenticated callers. X-Forwarded-For wins so the
// limiter still distinguishes users behind a proxy.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func intFromEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
