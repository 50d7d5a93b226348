package authz

import (
	"context"
	"log/slog"
	"strings"
)

// Evaluator decides whether a user may perform an action on a resource.
// Two independent query surfaces exist: CheckPermission walks the user's
// role permissions (the coarse default path) and HasPermission consults
// the per-user permission matrix (the fine override path). The two are
// deliberately not merged.
//
// Evaluation never fails with an error: anything that cannot be resolved
// (missing app context, unreachable app, store trouble) is a deny.
type Evaluator struct {
	store    Store
	resolver *Resolver
	cache    *Cache
	logger   *slog.Logger
}

// NewEvaluator constructs an Evaluator. cache may be nil, in which case
// every check walks the store.
func NewEvaluator(store Store, resolver *Resolver, cache *Cache, logger *slog.Logger) *Evaluator {
	return &Evaluator{store: store, resolver: resolver, cache: cache, logger: logger}
}

// CheckPermission reports whether the user's role grants resource/action.
// centerID and appID are optional; a nil appID falls back to the user's
// first active app grant, a nil centerID falls back to the user's default
// center in the resolved app (or a global-only check when none exists).
// Decisions are memoized per tuple until the user's cache generation is
// bumped or the entry expires.
func (e *Evaluator) CheckPermission(ctx context.Context, userID int64, resource, action string, centerID, appID *int64) bool {
	key := e.cache.PermKey(ctx, userID, resource, action, centerID, appID)
	if allowed, ok := e.cache.GetBool(ctx, key); ok {
		return allowed
	}
	allowed := e.checkPermission(ctx, userID, resource, action, centerID, appID)
	e.cache.SetBool(ctx, key, allowed)
	return allowed
}

func (e *Evaluator) checkPermission(ctx context.Context, userID int64, resource, action string, centerID, appID *int64) bool {
	app, ok := e.resolveApp(ctx, userID, appID)
	if !ok {
		return false
	}

	reachable, err := e.resolver.CanAccessApp(ctx, userID, app)
	if err != nil {
		e.warn("app reachability", userID, resource, action, err)
		return false
	}
	if !reachable {
		return false
	}

	perms, ok := e.loadPermissions(ctx, userID, resource, action)
	if !ok {
		return false
	}

	// Global scope (and the admin sentinel) wins regardless of center.
	if matchPermissions(perms, resource, action, ScopeGlobal) {
		return true
	}

	if centerID != nil {
		reachable, err := e.resolver.CanAccessCenterInApp(ctx, userID, *centerID, app)
		if err != nil {
			e.warn("center reachability", userID, resource, action, err)
			return false
		}
		if !reachable {
			return false
		}
		return matchPermissions(perms, resource, action, ScopeGlobal, ScopeCenter)
	}

	// No explicit center: evaluate against the user's default center in
	// this app, or fall back to the global-only result computed above.
	// An expired default grant counts as no default, matching what the
	// resolver would answer for the same center asked for explicitly.
	def, err := e.store.DefaultCenter(ctx, userID, app)
	if err != nil {
		e.warn("default center", userID, resource, action, err)
		return false
	}
	if def == nil || !def.Effective(e.resolver.now()) {
		return false
	}
	return matchPermissions(perms, resource, action, ScopeGlobal, ScopeCenter)
}

// HasPermission is the matrix path: a single exact-tuple lookup in the
// per-user permission matrix. True iff a row exists and is not a denial.
// Role permissions are not consulted.
func (e *Evaluator) HasPermission(ctx context.Context, userID, appID, centerID int64, resource, action string) bool {
	entry, err := e.store.FindMatrixEntry(ctx, userID, appID, centerID, resource, action)
	if err != nil {
		e.warn("matrix lookup", userID, resource, action, err)
		return false
	}
	return entry != nil && entry.EntryType != MatrixDenied
}

// GrantedPermissions returns the user's role permissions as resource/action
// pairs for the UI guard. The admin sentinel is included verbatim.
func (e *Evaluator) GrantedPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rolePerms, err := e.store.RolePermissions(ctx, user.RoleID)
	if err != nil {
		return nil, err
	}
	perms := make([]Permission, 0, len(rolePerms))
	for _, rp := range rolePerms {
		if rp.IsGranted {
			perms = append(perms, rp.Permission)
		}
	}
	return perms, nil
}

// resolveApp picks the app an unscoped check applies to: the explicit
// argument when present, otherwise the user's first active app grant.
func (e *Evaluator) resolveApp(ctx context.Context, userID int64, appID *int64) (int64, bool) {
	if appID != nil {
		return *appID, true
	}
	apps, err := e.resolver.AccessibleApps(ctx, userID)
	if err != nil {
		e.warn("resolve app", userID, "", "", err)
		return 0, false
	}
	if len(apps) == 0 {
		return 0, false
	}
	return apps[0], true
}

func (e *Evaluator) loadPermissions(ctx context.Context, userID int64, resource, action string) ([]RolePermission, bool) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		e.warn("load user", userID, resource, action, err)
		return nil, false
	}
	perms, err := e.store.RolePermissions(ctx, user.RoleID)
	if err != nil {
		e.warn("load role permissions", userID, resource, action, err)
		return nil, false
	}
	return perms, true
}

func (e *Evaluator) warn(stage string, userID int64, resource, action string, err error) {
	if e.logger == nil {
		return
	}
	e.logger.Warn("permission check degraded to deny",
		slog.String("stage", stage),
		slog.Int64("user_id", userID),
		slog.String("resource", resource),
		slog.String("action", action),
		slog.Any("error", err),
	)
}

// matchPermissions reports whether any granted permission matches the
// resource/action pair case-insensitively within the allowed scopes. The
// admin wildcard sentinel matches everything.
func matchPermissions(perms []RolePermission, resource, action string, scopes ...string) bool {
	for _, rp := range perms {
		if !rp.IsGranted || !rp.Permission.Active {
			continue
		}
		if rp.Permission.IsAdminWildcard() {
			return true
		}
		if !scopeAllowed(rp.Permission.Scope, scopes) {
			continue
		}
		if matchKey(rp.Permission.Resource, resource) && matchKey(rp.Permission.Action, action) {
			return true
		}
	}
	return false
}

func scopeAllowed(scope string, allowed []string) bool {
	for _, s := range allowed {
		if scope == s {
			return true
		}
	}
	return false
}

func matchKey(granted, requested string) bool {
	return granted == Wildcard || strings.EqualFold(granted, requested)
}
