// Package middleware provides the HTTP authentication layer for the
// queue-scoped API routes.
package middleware

import (
	"context"
	"net/http"

	"github.com/labtasker/labtasker/internal/platform/apperrors"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/response"
	"github.com/labtasker/labtasker/internal/taskqueue/app/service"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
)

type contextKey string

const queueContextKey contextKey = "authenticatedQueue"

// QueueAuth authenticates HTTP Basic credentials (queue_name, password)
// against the queue store and injects the resolved queue into the
// request context. Every failure mode is a uniform 401 so callers
// cannot probe for queue existence.
func QueueAuth(svc *service.Service, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			queueName, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="labtasker"`)
				response.Error(w, apperrors.Unauthorized("basic auth credentials required"))
				return
			}

			queue, err := svc.Authenticate(r.Context(), queueName, password)
			if err != nil {
				if apperrors.IsKind(err, apperrors.KindUnauthorized) {
					w.Header().Set("WWW-Authenticate", `Basic realm="labtasker"`)
				} else {
					log.Error("queue authentication failed", "queue_name", queueName, "error", err)
				}
				response.Error(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), queueContextKey, queue)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// QueueFromContext returns the queue resolved by QueueAuth
func QueueFromContext(ctx context.Context) (*model.Queue, bool) {
	queue, ok := ctx.Value(queueContextKey).(*model.Queue)
	return queue, ok
}

// WithQueue injects a queue into the context. Exposed for handler tests
// that bypass the middleware.
func WithQueue(ctx context.Context, queue *model.Queue) context.Context {
	return context.WithValue(ctx, queueContextKey, queue)
}
