package authz

import (
	"context"
	"time"
)

// Resolver answers reachability questions: whether a user can open an app
// at all, and which business centers they can see inside it. Decisions are
// made from the materialized user grants, never from role templates.
type Resolver struct {
	store Store
	cache *Cache
	now   func() time.Time
}

// NewResolver constructs a Resolver. cache may be nil.
func NewResolver(store Store, cache *Cache) *Resolver {
	return &Resolver{store: store, cache: cache, now: time.Now}
}

// CanAccessApp reports whether an effective app grant exists for the user.
func (r *Resolver) CanAccessApp(ctx context.Context, userID, appID int64) (bool, error) {
	grant, err := r.store.FindUserAppGrant(ctx, userID, appID)
	if err != nil {
		return false, err
	}
	return grant != nil && grant.Effective(r.now()), nil
}

// CanAccessCenterInApp reports whether an effective center grant exists
// for the user inside the app.
func (r *Resolver) CanAccessCenterInApp(ctx context.Context, userID, centerID, appID int64) (bool, error) {
	grant, err := r.store.FindUserCenterGrant(ctx, userID, centerID, appID)
	if err != nil {
		return false, err
	}
	return grant != nil && grant.Effective(r.now()), nil
}

// AccessibleApps returns the IDs of every app the user can reach.
func (r *Resolver) AccessibleApps(ctx context.Context, userID int64) ([]int64, error) {
	return r.cache.FetchIDs(ctx, r.cache.AppsKey(ctx, userID), func(ctx context.Context) ([]int64, error) {
		grants, err := r.store.ListUserAppGrants(ctx, userID)
		if err != nil {
			return nil, err
		}
		now := r.now()
		ids := make([]int64, 0, len(grants))
		for _, g := range grants {
			if g.Effective(now) {
				ids = append(ids, g.AppID)
			}
		}
		return ids, nil
	})
}

// AccessibleCenters returns the IDs of every center the user can reach.
// Holders of the administrator wildcard see all active centers regardless
// of explicit grants. Centers are not filtered by app: center access is
// modeled as uniform across apps for a given user.
func (r *Resolver) AccessibleCenters(ctx context.Context, userID int64) ([]int64, error) {
	return r.cache.FetchIDs(ctx, r.cache.CentersKey(ctx, userID), func(ctx context.Context) ([]int64, error) {
		return r.loadAccessibleCenters(ctx, userID)
	})
}

func (r *Resolver) loadAccessibleCenters(ctx context.Context, userID int64) ([]int64, error) {
	admin, err := r.hasAdminWildcard(ctx, userID)
	if err != nil {
		return nil, err
	}
	if admin {
		centers, err := r.store.ListActiveCenters(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(centers))
		for _, c := range centers {
			ids = append(ids, c.ID)
		}
		return ids, nil
	}

	grants, err := r.store.ListUserCenterGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	seen := make(map[int64]struct{}, len(grants))
	ids := make([]int64, 0, len(grants))
	for _, g := range grants {
		if !g.Effective(now) {
			continue
		}
		if _, ok := seen[g.CenterID]; ok {
			continue
		}
		seen[g.CenterID] = struct{}{}
		ids = append(ids, g.CenterID)
	}
	return ids, nil
}

func (r *Resolver) hasAdminWildcard(ctx context.Context, userID int64) (bool, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	perms, err := r.store.RolePermissions(ctx, user.RoleID)
	if err != nil {
		return false, err
	}
	for _, rp := range perms {
		if rp.IsGranted && rp.Permission.IsAdminWildcard() {
			return true, nil
		}
	}
	return false, nil
}
