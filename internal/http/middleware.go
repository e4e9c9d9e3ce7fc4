package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/pkg/logger"
	"github.com/fjod/go_cart/storefront-checkout/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Headers set by the upstream auth gateway
const (
	HeaderUserID       = "X-User-ID"
	HeaderSessionToken = "X-Session-Token"
	HeaderOperator     = "X-Operator"
	HeaderRequestID    = "X-Request-ID"
)

type ctxKey int

const identityKey ctxKey = iota

// Identity is who is calling. A signed-in user may still carry the session token of their pre-login cart.
type Identity struct {
	UserID       string
	SessionToken string
	Operator     bool
}

// Owner is the cart owner for the request: the user when signed in, otherwise the anonymous session
func (id Identity) Owner() (domain.CartOwner, bool) {
	switch {
	case id.UserID != "":
		return domain.UserOwner(id.UserID), true
	case id.SessionToken != "":
		return domain.AnonymousOwner(id.SessionToken), true
	}
	return domain.CartOwner{}, false
}

func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityMiddleware reads the caller's identity from the gateway headers
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, _ := strconv.ParseBool(r.Header.Get(HeaderOperator))
		id := Identity{
			UserID:       r.Header.Get(HeaderUserID),
			SessionToken: r.Header.Get(HeaderSessionToken),
			Operator:     operator,
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequestIDMiddleware echoes the request id and puts a logger carrying it into the context
func RequestIDMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = middleware.GetReqID(r.Context())
			}
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			ctx := logger.WithContext(r.Context(), log.With(zap.String("request_id", requestID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessLogMiddleware logs one line per request and records request metrics by route pattern
func AccessLogMiddleware(log *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.LatencyMS.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))

			logger.FromContext(r.Context(), log).Info("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", elapsed))
		})
	}
}
