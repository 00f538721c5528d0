package routes

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"trustescrow/gateway/audit"
	"trustescrow/gateway/middleware"
)

type auditRecorder struct {
	http.ResponseWriter
	status int
	code   string
}

func (a *auditRecorder) WriteHeader(code int) {
	a.status = code
	a.ResponseWriter.WriteHeader(code)
}

// auditTrail records every state-changing request once the handler has
// answered. Audit failures are logged and never fail the request.
func auditTrail(store *audit.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK, code: "ok"}
			next.ServeHTTP(rec, r)

			entry := audit.Entry{
				RequestID:      middleware.RequestIDFromContext(r.Context()),
				Method:         r.Method,
				Path:           r.URL.Path,
				ResponseStatus: rec.status,
				Code:           rec.code,
			}
			if caller, ok := middleware.CallerFromContext(r.Context()); ok {
				entry.Caller = "0x" + hex.EncodeToString(caller[:])
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
			defer cancel()
			if err := store.InsertAuditLog(ctx, entry); err != nil {
				logger.Error("audit: insert failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
			}
		})
	}
}
