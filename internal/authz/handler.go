package authz

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ignis-erp/ignis-erp/internal/shared"
)

// TaskEnqueuer schedules background propagation work after administrative
// changes. Implemented by the jobs package.
type TaskEnqueuer interface {
	EnqueueRoleResync(ctx context.Context, roleID int64, updatedBy string) error
}

// Handler exposes the administrative and UI-guard JSON endpoints of the
// permission engine.
type Handler struct {
	logger     *slog.Logger
	store      Store
	evaluator  *Evaluator
	resolver   *Resolver
	propagator *Propagator
	cache      *Cache
	enqueuer   TaskEnqueuer
	auditor    *shared.AuditLogger
	validator  *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, store Store, evaluator *Evaluator, resolver *Resolver, propagator *Propagator, cache *Cache, enqueuer TaskEnqueuer, auditor *shared.AuditLogger) *Handler {
	return &Handler{
		logger:     logger,
		store:      store,
		evaluator:  evaluator,
		resolver:   resolver,
		propagator: propagator,
		cache:      cache,
		enqueuer:   enqueuer,
		auditor:    auditor,
		validator:  validator.New(),
	}
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

type createRoleAppAccessRequest struct {
	AppID       int64  `json:"app_id" validate:"required,gt=0"`
	AccessLevel string `json:"access_level" validate:"required,oneof=full limited readonly"`
}

type createRoleCenterAccessRequest struct {
	CenterID    int64  `json:"center_id" validate:"required,gt=0"`
	AppID       *int64 `json:"app_id" validate:"omitempty,gt=0"`
	AccessLevel string `json:"access_level" validate:"required,oneof=full limited readonly"`
	IsDefault   bool   `json:"is_default"`
}

type templateAppPayload struct {
	AppID       int64      `json:"app_id" validate:"required,gt=0"`
	AccessLevel string     `json:"access_level" validate:"required,oneof=full limited readonly"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type templateCenterPayload struct {
	CenterID    int64      `json:"center_id" validate:"required,gt=0"`
	AppID       *int64     `json:"app_id" validate:"omitempty,gt=0"`
	AccessLevel string     `json:"access_level" validate:"required,oneof=full limited readonly"`
	IsDefault   bool       `json:"is_default"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type updateTemplateRequest struct {
	Apps    []templateAppPayload    `json:"apps" validate:"dive"`
	Centers []templateCenterPayload `json:"centers" validate:"dive"`
}

type matrixEntryPayload struct {
	AppID     int64  `json:"app_id" validate:"required,gt=0"`
	CenterID  int64  `json:"center_id" validate:"required,gt=0"`
	Resource  string `json:"resource" validate:"required"`
	Action    string `json:"action" validate:"required"`
	EntryType string `json:"entry_type" validate:"required,oneof=inherited direct denied"`
}

type updateMatrixRequest struct {
	Entries []matrixEntryPayload `json:"entries" validate:"required,dive"`
}

// AssignRole switches a user's role and repropagates their grants.
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := actorName(r)
	if err := h.propagator.AssignRole(r.Context(), userID, req.RoleID, actor); err != nil {
		h.respondDomainError(w, r, err, "assign role")
		return
	}
	if err := h.cache.InvalidateUser(r.Context(), userID); err != nil {
		h.logger.Warn("invalidate user cache", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	h.audit(r.Context(), actor, "authz.role_assigned", "user", userID, map[string]any{"role_id": req.RoleID})
	h.respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "role_id": req.RoleID})
}

// GetRoleAccessTemplate returns a role's active access template.
func (h *Handler) GetRoleAccessTemplate(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(r, "roleID")
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	tpl, err := h.propagator.GetRoleAccessTemplate(r.Context(), roleID)
	if err != nil {
		h.respondDomainError(w, r, err, "get role access template")
		return
	}
	h.respondJSON(w, http.StatusOK, tpl)
}

// UpdateRoleAccessTemplate replaces a role's access template and schedules
// a resync of every member.
func (h *Handler) UpdateRoleAccessTemplate(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(r, "roleID")
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	var req updateTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := actorName(r)

	tpl := RoleAccessTemplate{RoleID: roleID}
	for _, a := range req.Apps {
		tpl.Apps = append(tpl.Apps, TemplateApp{AppID: a.AppID, AccessLevel: a.AccessLevel, ExpiresAt: a.ExpiresAt})
	}
	for _, c := range req.Centers {
		tpl.Centers = append(tpl.Centers, TemplateCenter{
			CenterID:    c.CenterID,
			AppID:       c.AppID,
			AccessLevel: c.AccessLevel,
			IsDefault:   c.IsDefault,
			ExpiresAt:   c.ExpiresAt,
		})
	}

	if err := h.propagator.UpdateRoleAccessTemplate(r.Context(), roleID, tpl, actor); err != nil {
		h.respondDomainError(w, r, err, "update role access template")
		return
	}

	h.invalidateRoleMembers(r.Context(), roleID)

	if h.enqueuer != nil {
		if err := h.enqueuer.EnqueueRoleResync(r.Context(), roleID, actor); err != nil {
			h.logger.Error("enqueue role resync", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
	}
	h.audit(r.Context(), actor, "authz.template_updated", "role", roleID, map[string]any{
		"apps":    len(req.Apps),
		"centers": len(req.Centers),
	})
	h.respondJSON(w, http.StatusOK, map[string]any{"role_id": roleID, "status": "updated"})
}

// CreateRoleAppAccess adds one app template row to a role.
func (h *Handler) CreateRoleAppAccess(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(r, "roleID")
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	var req createRoleAppAccessRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := actorName(r)
	created, err := h.propagator.CreateRoleAppAccess(r.Context(), roleID, req.AppID, req.AccessLevel, actor)
	if err != nil {
		h.respondDomainError(w, r, err, "create role app access")
		return
	}
	h.audit(r.Context(), actor, "authz.role_app_access_created", "role", roleID, map[string]any{
		"app_id":       req.AppID,
		"access_level": req.AccessLevel,
	})
	h.respondJSON(w, http.StatusCreated, created)
}

// CreateRoleCenterAccess adds one center template row to a role.
func (h *Handler) CreateRoleCenterAccess(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(r, "roleID")
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	var req createRoleCenterAccessRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := actorName(r)
	created, err := h.propagator.CreateRoleCenterAccess(r.Context(), roleID, req.CenterID, req.AppID, req.AccessLevel, req.IsDefault, actor)
	if err != nil {
		h.respondDomainError(w, r, err, "create role center access")
		return
	}
	h.audit(r.Context(), actor, "authz.role_center_access_created", "role", roleID, map[string]any{
		"center_id":    req.CenterID,
		"access_level": req.AccessLevel,
		"is_default":   req.IsDefault,
	})
	h.respondJSON(w, http.StatusCreated, created)
}

// UpdatePermissionMatrix upserts matrix rows for a user. Matrix edits
// bypass role propagation entirely.
func (h *Handler) UpdatePermissionMatrix(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req updateMatrixRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.store.GetUser(r.Context(), userID); err != nil {
		h.respondDomainError(w, r, err, "update permission matrix")
		return
	}
	actor := actorName(r)
	err := h.store.WithTx(r.Context(), func(ctx context.Context, tx TxStore) error {
		for _, e := range req.Entries {
			entry := MatrixEntry{
				UserID:    userID,
				AppID:     e.AppID,
				CenterID:  e.CenterID,
				Resource:  e.Resource,
				Action:    e.Action,
				EntryType: e.EntryType,
				Audit:     Audit{UpdatedBy: actor},
			}
			if err := tx.UpsertMatrixEntry(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.respondDomainError(w, r, err, "update permission matrix")
		return
	}
	if err := h.cache.InvalidateUser(r.Context(), userID); err != nil {
		h.logger.Warn("invalidate user cache", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	h.audit(r.Context(), actor, "authz.matrix_updated", "user", userID, map[string]any{"entries": len(req.Entries)})
	h.respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "entries": len(req.Entries)})
}

// MyPermissions returns the session user's granted permissions for the UI
// guard, fetched once per session by the front end.
func (h *Handler) MyPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	perms, err := h.evaluator.GrantedPermissions(r.Context(), userID)
	if err != nil {
		h.respondDomainError(w, r, err, "list permissions")
		return
	}
	out := make([]map[string]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, map[string]string{
			"resource": p.Resource,
			"action":   p.Action,
			"scope":    p.Scope,
		})
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"permissions": out})
}

// MyApps returns the apps reachable by the session user.
func (h *Handler) MyApps(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	apps, err := h.resolver.AccessibleApps(r.Context(), userID)
	if err != nil {
		h.respondDomainError(w, r, err, "list accessible apps")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"app_ids": apps})
}

// MyCenters returns the business centers reachable by the session user.
func (h *Handler) MyCenters(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	centers, err := h.resolver.AccessibleCenters(r.Context(), userID)
	if err != nil {
		h.respondDomainError(w, r, err, "list accessible centers")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"center_ids": centers})
}

// Can answers a single role-walk permission query for the session user.
func (h *Handler) Can(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	resource := r.URL.Query().Get("resource")
	action := r.URL.Query().Get("action")
	if resource == "" || action == "" {
		h.respondError(w, http.StatusBadRequest, "resource and action are required")
		return
	}
	centerID := parseOptionalID(r.URL.Query().Get("center_id"))
	appID := parseOptionalID(r.URL.Query().Get("app_id"))
	allowed := h.evaluator.CheckPermission(r.Context(), userID, resource, action, centerID, appID)
	h.respondJSON(w, http.StatusOK, map[string]any{"allowed": allowed, "resource": resource, "action": action})
}

// MatrixCan answers a single matrix-path permission query for the session
// user. All four tuple components are required.
func (h *Handler) MatrixCan(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUserID(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	resource := r.URL.Query().Get("resource")
	action := r.URL.Query().Get("action")
	appID := parseOptionalID(r.URL.Query().Get("app_id"))
	centerID := parseOptionalID(r.URL.Query().Get("center_id"))
	if resource == "" || action == "" || appID == nil || centerID == nil {
		h.respondError(w, http.StatusBadRequest, "app_id, center_id, resource and action are required")
		return
	}
	allowed := h.evaluator.HasPermission(r.Context(), userID, *appID, *centerID, resource, action)
	h.respondJSON(w, http.StatusOK, map[string]any{"allowed": allowed, "resource": resource, "action": action})
}

func (h *Handler) audit(ctx context.Context, actor, action, entity string, entityID int64, meta map[string]any) {
	err := h.auditor.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
	if err != nil {
		h.logger.Warn("record audit log", slog.String("action", action), slog.Any("error", err))
	}
}

func (h *Handler) invalidateRoleMembers(ctx context.Context, roleID int64) {
	members, err := h.store.ListRoleMembers(ctx, roleID)
	if err != nil {
		h.logger.Warn("list role members", slog.Int64("role_id", roleID), slog.Any("error", err))
		return
	}
	for _, userID := range members {
		if err := h.cache.InvalidateUser(ctx, userID); err != nil {
			h.logger.Warn("invalidate user cache", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validator.Struct(dest); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error, stage string) {
	switch {
	case errors.Is(err, ErrRoleNotFound),
		errors.Is(err, ErrAppNotFound),
		errors.Is(err, ErrCenterNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateAccess):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(stage, slog.String("path", r.URL.Path), slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func sessionUserID(r *http.Request) (int64, bool) {
	return Middleware{}.currentUserID(r)
}

// actorName identifies who performed an administrative change for grant
// metadata. Falls back to the session user id.
func actorName(r *http.Request) string {
	if id, ok := sessionUserID(r); ok {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return "system"
}
