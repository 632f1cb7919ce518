package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sony/gobreaker"

	"github.com/mattjoyce/orchestrator/internal/dispatch"
	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// Error codes returned in ClassifiedError.Error.
const (
	CodeDBFailure      = "DB_FAILURE"
	CodeAPIUnreachable = "API_UNREACHABLE"
	CodeTimeout        = "TIMEOUT"
	CodeInternal       = "INTERNAL_SERVER_ERROR"
)

// statusError is a caller mistake answered with a fixed status and no audit.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &statusError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &statusError{status: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &statusError{status: http.StatusConflict, msg: fmt.Sprintf(format, args...)}
}

func unavailable(what string) error {
	return &statusError{status: http.StatusServiceUnavailable, msg: what + " is not configured"}
}

// dbError marks a failure of the local store.
type dbError struct{ err error }

func (e *dbError) Error() string { return e.err.Error() }
func (e *dbError) Unwrap() error { return e.err }

func dbFailure(err error) error {
	if err == nil {
		return nil
	}
	return &dbError{err: err}
}

type classification struct {
	status   int
	category string
	code     string
}

func classify(err error) classification {
	var dbe *dbError
	if errors.As(err, &dbe) || errors.Is(err, dispatch.ErrNotPersisted) {
		return classification{http.StatusInternalServerError, "Database", CodeDBFailure}
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return classification{http.StatusGatewayTimeout, "Performance", CodeTimeout}
	}

	var se *upstream.StatusError
	var ue *url.Error
	var oe *net.OpError
	if errors.As(err, &se) || errors.As(err, &ue) || errors.As(err, &oe) ||
		errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return classification{http.StatusBadGateway, "Connectivity", CodeAPIUnreachable}
	}

	return classification{http.StatusInternalServerError, "General", CodeInternal}
}

// fail answers a handler error. Caller mistakes keep their status; everything
// else is classified, logged and reported to the audit sink.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var se *statusError
	if errors.As(err, &se) {
		s.writeError(w, se.status, se.msg)
		return
	}
	s.classified(w, r, err, "")
}

func (s *Server) classified(w http.ResponseWriter, r *http.Request, err error, stack string) {
	c := classify(err)
	traceID := middleware.GetReqID(r.Context())
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"code", c.code,
		"request_id", traceID,
		"error", err,
	)
	s.deps.Audit.Report(AuditRecord{
		TraceID:   traceID,
		Severity:  "Error",
		Category:  c.category,
		ErrorCode: c.code,
		Message:   err.Error(),
		Stack:     stack,
		Context:   map[string]string{"Path": r.URL.Path, "Method": r.Method},
	})
	respondJSON(w, c.status, ClassifiedError{Error: c.code, Message: err.Error(), TraceID: traceID})
}

// recoverer turns a handler panic into a classified 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.classified(w, r, fmt.Errorf("panic: %v", rec), string(debug.Stack()))
		}()
		next.ServeHTTP(w, r)
	})
}

// AuditRecord is the error report posted to the audit service.
type AuditRecord struct {
	TraceID     string            `json:"traceId"`
	ServiceName string            `json:"serviceName"`
	Timestamp   time.Time         `json:"timestamp"`
	Severity    string            `json:"severity"`
	Category    string            `json:"category"`
	ErrorCode   string            `json:"errorCode"`
	Message     string            `json:"message"`
	Stack       string            `json:"stackTrace,omitempty"`
	Context     map[string]string `json:"-"`
	ContextJSON string            `json:"contextJson"`
}

// AuditReporter posts error records to the audit service without blocking
// the request. A nil *AuditReporter drops every record.
type AuditReporter struct {
	url     string
	service string
	client  *upstream.Client
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAuditReporter returns nil when url is empty.
func NewAuditReporter(url, service string, client *upstream.Client, logger *slog.Logger) *AuditReporter {
	if url == "" {
		return nil
	}
	return &AuditReporter{
		url:     url,
		service: service,
		client:  client,
		logger:  logger.With("component", "audit"),
		timeout: 5 * time.Second,
	}
}

// Report sends rec in the background.
func (a *AuditReporter) Report(rec AuditRecord) {
	if a == nil {
		return
	}
	rec.ServiceName = a.service
	rec.Timestamp = time.Now().UTC()
	if rec.Context != nil {
		if b, err := json.Marshal(rec.Context); err == nil {
			rec.ContextJSON = string(b)
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		resp, err := a.client.PostJSON(ctx, a.url, rec)
		if err == nil {
			err = a.client.CheckStatus(resp)
		}
		if err != nil {
			a.logger.Warn("failed to report error to audit service", "trace_id", rec.TraceID, "error", err)
		}
	}()
}

// Wait blocks until in-flight reports finish.
func (a *AuditReporter) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
