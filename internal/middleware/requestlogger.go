// Package middleware provides HTTP middleware for request logging and
// cross-origin handling. It integrates with zerolog for structured logging
// and reuses the chi request id for request tracing.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs incoming requests and binds a request-scoped logger
// carrying the chi request id into the request context. Handlers and
// services reach it through log.Ctx.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		requestID := chimiddleware.GetReqID(ctx)
		ctx = log.With().Str("request_id", requestID).Logger().WithContext(ctx)

		log.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Str("proto", r.Proto).
			Msg("incoming request")

		defer func() {
			log.Ctx(ctx).Info().
				Str("duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds())).
				Msg("request completed")
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
