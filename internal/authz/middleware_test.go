package authz

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignis-erp/ignis-erp/internal/shared"
)

func requestWithUser(t *testing.T, target string, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	sess := &shared.Session{}
	if userID != "" {
		sess.SetUser(userID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAllowsPermittedUser(t *testing.T) {
	store := newMockStore()
	seedBaseline(store)
	store.grantPermission(testRoleID, "extintores", "read", ScopeGlobal)
	mw := Middleware{Evaluator: newTestEvaluator(store)}

	req := requestWithUser(t, "/api/extintores", "1")
	req.Header.Set(HeaderApp, "20")
	rec := httptest.NewRecorder()
	mw.Require("extintores", "read")(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireDeniesWithResourceAndAction(t *testing.T) {
	store := newMockStore()
	seedBaseline(store)
	mw := Middleware{Evaluator: newTestEvaluator(store)}

	req := requestWithUser(t, "/api/extintores", "1")
	req.Header.Set(HeaderApp, "20")
	rec := httptest.NewRecorder()
	mw.Require("extintores", "delete")(okHandler()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "extintores", body["resource"])
	assert.Equal(t, "delete", body["action"])
	// Denials name the capability, never internal identifiers.
	assert.NotContains(t, body, "user_id")
}

func TestRequireReadsCenterFromHeaderAndQuery(t *testing.T) {
	store := newMockStore()
	seedBaseline(store)
	store.grantPermission(testRoleID, "extintores", "update", ScopeCenter)
	mw := Middleware{Evaluator: newTestEvaluator(store)}
	handler := mw.Require("extintores", "update")(okHandler())

	req := requestWithUser(t, "/api/extintores", "1")
	req.Header.Set(HeaderApp, "20")
	req.Header.Set(HeaderCenter, "30")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = requestWithUser(t, "/api/extintores?center_id=30", "1")
	req.Header.Set(HeaderApp, "20")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unreachable center from the query parameter.
	req = requestWithUser(t, "/api/extintores?center_id=999", "1")
	req.Header.Set(HeaderApp, "20")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAnonymousDenied(t *testing.T) {
	store := newMockStore()
	mw := Middleware{Evaluator: newTestEvaluator(store)}

	req := httptest.NewRequest(http.MethodGet, "/api/extintores", nil)
	rec := httptest.NewRecorder()
	mw.Require("extintores", "read")(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAuthenticated(t *testing.T) {
	store := newMockStore()
	mw := Middleware{Evaluator: newTestEvaluator(store)}
	handler := mw.RequireAuthenticated(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/me/permissions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = requestWithUser(t, "/api/me/permissions", "1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
