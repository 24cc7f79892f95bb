package echoapi

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/trezcool/masomo-portal/core/profile"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/auth/jwtauth"
)

// callerMiddleware requires a valid bearer token and records its principal as the request's caller.
func callerMiddleware(provider *jwtauth.Provider) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token := bearerToken(ctx)
			if token == "" {
				return errUnauthorized
			}
			claims, err := provider.Verify(token)
			if err != nil {
				return errUnauthorized
			}
			setContextCaller(ctx, claims.Principal())
			return next(ctx)
		}
	}
}

// roleMiddleware lets through only the caller owning the session, once authenticated with a role
// ranking at least `min`. While the session is loading, the request is refused rather than
// served with a guessed role. Must run after callerMiddleware.
func roleMiddleware(sess *session.Session, min profile.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			state := sess.State()
			if err := authorize(ctx, state); err != nil {
				return err
			}
			setContextState(ctx, state)

			switch state.Status() {
			case session.StatusLoading:
				ctx.Response().Header().Set("Retry-After", "1")
				return errSessionLoading
			case session.StatusAnonymous:
				return errUnauthorized
			}
			role, _ := state.Role()
			if role.Priority() < min.Priority() {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// signInLimiter rate limits sign-in attempts per client IP.
type signInLimiter struct {
	rate  rate.Limit
	burst int
	ttl   time.Duration

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newSignInLimiter(perSecond float64, burst int) *signInLimiter {
	if burst < 1 {
		burst = 1
	}
	return &signInLimiter{
		rate:     rate.Limit(perSecond),
		burst:    burst,
		ttl:      10 * time.Minute,
		limiters: make(map[string]*clientLimiter),
	}
}

func (l *signInLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// forget idle clients
	for k, cl := range l.limiters {
		if now.Sub(cl.lastAccess) > l.ttl {
			delete(l.limiters, k)
		}
	}

	cl, ok := l.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = cl
	}
	cl.lastAccess = now
	return cl.limiter.AllowN(now, 1)
}

func (l *signInLimiter) middleware(throttle ThrottleRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if l.allow(ctx.RealIP(), time.Now()) {
				return next(ctx)
			}
			throttle.RecordSignInThrottled()
			retryAfter := 1
			if l.rate > 0 {
				retryAfter = int(math.Ceil(1 / float64(l.rate)))
			}
			ctx.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return errTooManyRequests
		}
	}
}
