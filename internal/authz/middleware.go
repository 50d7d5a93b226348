package authz

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ignis-erp/ignis-erp/internal/shared"
)

// Header and query names carrying the request's app/center context.
const (
	HeaderApp      = "X-App-ID"
	HeaderCenter   = "X-Center-ID"
	QueryCenterKey = "center_id"
)

// Middleware wires permission checks into HTTP handlers.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// Require ensures the current user may perform action on resource. The
// app context is read from the X-App-ID header, the center context from
// X-Center-ID or the center_id query parameter; both are optional and the
// evaluator applies its fallbacks. Denials carry the resource and action
// so administrators can diagnose them, never internal row identifiers.
func (m Middleware) Require(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.currentUserID(r)
			if !ok {
				m.deny(w, resource, action)
				return
			}
			appID := parseOptionalID(r.Header.Get(HeaderApp))
			centerID := parseOptionalID(r.Header.Get(HeaderCenter))
			if centerID == nil {
				centerID = parseOptionalID(r.URL.Query().Get(QueryCenterKey))
			}
			if !m.Evaluator.CheckPermission(r.Context(), userID, resource, action, centerID, appID) {
				m.deny(w, resource, action)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated only checks that a user is logged in.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.currentUserID(r); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) deny(w http.ResponseWriter, resource, action string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":    "permission denied",
		"resource": resource,
		"action":   action,
	})
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("parse session user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}

func parseOptionalID(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
