package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jorge-Gabriel97/Timesend/internal/auth"
	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/service"
)

type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one listed runs first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func LoggingMiddleware(log *zap.Logger) Middleware {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

type ctxKey struct{}

// Authenticate requires a valid bearer token and puts its claims in the request context.
func Authenticate(tokens *auth.JWT) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeError(w, nil, auth.ErrInvalidToken)
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, nil, auth.ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
		})
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r.Context()).IsAdmin {
			writeError(w, nil, service.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFrom(ctx context.Context) model.Actor {
	if c, ok := ctx.Value(ctxKey{}).(*auth.Claims); ok {
		return c.Actor()
	}
	return model.Actor{}
}
