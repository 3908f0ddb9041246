package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-Id"

// requestLog collects what downstream handlers learn about a request so the
// access log line can carry it.
type requestLog struct {
	entry  *logrus.Entry
	fields logrus.Fields
	err    error
}

type requestLogKey struct{}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if rl, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		return rl.entry.WithFields(rl.fields)
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func setLogField(ctx context.Context, key string, value any) {
	if rl, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		rl.fields[key] = value
	}
}

// recordError keeps an internal error for the access log; clients never see it.
func recordError(ctx context.Context, err error) {
	if rl, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		rl.err = err
		return
	}
	logrus.WithError(err).Error("request failed")
}

func newRequestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			rl := &requestLog{
				entry: log.WithFields(logrus.Fields{
					"request_id": id,
					"method":     r.Method,
					"path":       r.URL.Path,
				}),
				fields: logrus.Fields{},
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestLogKey{}, rl)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := rl.entry.WithFields(rl.fields).WithFields(logrus.Fields{
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			switch {
			case rl.err != nil:
				entry.WithError(rl.err).Error("request failed")
			case status >= http.StatusInternalServerError:
				entry.Error("request failed")
			default:
				entry.Info("request")
			}
		})
	}
}
