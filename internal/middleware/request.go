package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Prrash278/tuma/internal/metrics"
	"github.com/Prrash278/tuma/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// RequestIDKey is the context key for the request id
	RequestIDKey ContextKey = "requestID"

	// RequestIDHeader carries the request id in both directions
	RequestIDHeader = "X-Request-ID"
)

// Chain applies middlewares so the first one listed is outermost
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RequestID reuses an incoming X-Request-ID or assigns a new one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// Observe logs every request and reports it to recorder, labelled with the
// matched route pattern.
func Observe(logger *logrus.Entry, recorder metrics.Recorder) func(http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			// ServeMux fills in Pattern on the way through
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			duration := time.Since(start)
			recorder.HTTPRequest(route, rec.Status(), duration)

			fields := logrus.Fields{
				"request_id": GetRequestID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"route":      route,
				"status":     rec.Status(),
				"duration":   duration.String(),
			}
			switch {
			case rec.Status() >= http.StatusInternalServerError:
				logger.WithFields(fields).Error("Request failed")
			case rec.Status() >= http.StatusBadRequest:
				logger.WithFields(fields).Warn("Request rejected")
			default:
				logger.WithFields(fields).Debug("Request served")
			}
		})
	}
}

// Recover turns a handler panic into a 500
func Recover(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.WithFields(logrus.Fields{
						"request_id": GetRequestID(r.Context()),
						"panic":      rec,
					}).Error("Handler panicked")
					utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
