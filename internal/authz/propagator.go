package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// resyncConcurrency bounds parallel member syncs during a role resync.
const resyncConcurrency = 4

// Propagator keeps materialized user grants in sync with role access
// templates. Applying a role is idempotent: re-running it upserts the same
// rows and never duplicates. Removing a role deactivates every grant the
// role's template names, without checking whether another source also
// justifies the grant; re-applying the user's current role self-heals.
type Propagator struct {
	store  Store
	logger *slog.Logger
}

// NewPropagator constructs a Propagator.
func NewPropagator(store Store, logger *slog.Logger) *Propagator {
	return &Propagator{store: store, logger: logger}
}

// ApplyRoleAccessToUser materializes the role's access templates into the
// user's grants inside one transaction.
func (p *Propagator) ApplyRoleAccessToUser(ctx context.Context, userID, roleID int64, grantedBy string) error {
	if _, err := p.store.GetUser(ctx, userID); err != nil {
		return err
	}
	if _, err := p.store.GetRole(ctx, roleID); err != nil {
		return err
	}

	appTemplates, err := p.store.ListRoleAppAccess(ctx, roleID)
	if err != nil {
		return fmt.Errorf("load role app templates: %w", err)
	}
	centerTemplates, err := p.store.ListRoleCenterAccess(ctx, roleID)
	if err != nil {
		return fmt.Errorf("load role center templates: %w", err)
	}

	return p.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		for _, tpl := range appTemplates {
			grant := UserAppAccess{
				UserID:      userID,
				AppID:       tpl.AppID,
				AccessLevel: tpl.AccessLevel,
				ExpiresAt:   tpl.ExpiresAt,
				GrantedBy:   grantedBy,
			}
			if err := tx.UpsertUserAppGrant(ctx, grant); err != nil {
				return fmt.Errorf("upsert app grant %d: %w", tpl.AppID, err)
			}
		}
		for _, tpl := range centerTemplates {
			grant := UserCenterAppAccess{
				UserID:      userID,
				CenterID:    tpl.CenterID,
				AppID:       templateAppID(tpl),
				AccessLevel: tpl.AccessLevel,
				IsDefault:   tpl.IsDefault,
				ExpiresAt:   tpl.ExpiresAt,
				GrantedBy:   grantedBy,
			}
			if err := tx.UpsertUserCenterGrant(ctx, grant); err != nil {
				return fmt.Errorf("upsert center grant %d: %w", tpl.CenterID, err)
			}
		}
		return nil
	})
}

// RemoveRoleAccessFromUser deactivates every user grant matching the
// role's templates.
func (p *Propagator) RemoveRoleAccessFromUser(ctx context.Context, userID, roleID int64) error {
	appTemplates, err := p.store.ListRoleAppAccess(ctx, roleID)
	if err != nil {
		return fmt.Errorf("load role app templates: %w", err)
	}
	centerTemplates, err := p.store.ListRoleCenterAccess(ctx, roleID)
	if err != nil {
		return fmt.Errorf("load role center templates: %w", err)
	}

	appIDs := make([]int64, 0, len(appTemplates))
	for _, tpl := range appTemplates {
		appIDs = append(appIDs, tpl.AppID)
	}
	keys := make([]CenterAppKey, 0, len(centerTemplates))
	for _, tpl := range centerTemplates {
		keys = append(keys, CenterAppKey{CenterID: tpl.CenterID, AppID: templateAppID(tpl)})
	}

	return p.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.DeactivateUserAppGrants(ctx, userID, appIDs); err != nil {
			return err
		}
		return tx.DeactivateUserCenterGrants(ctx, userID, keys)
	})
}

// AssignRole switches the user to a new role: the old role's derived
// grants are deactivated, the new role's templates applied, and the role
// reference updated, all as one logical change.
func (p *Propagator) AssignRole(ctx context.Context, userID, roleID int64, grantedBy string) error {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := p.store.GetRole(ctx, roleID); err != nil {
		return err
	}

	if user.RoleID != 0 && user.RoleID != roleID {
		if err := p.RemoveRoleAccessFromUser(ctx, userID, user.RoleID); err != nil {
			return fmt.Errorf("remove previous role access: %w", err)
		}
	}
	if err := p.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.SetUserRole(ctx, userID, roleID, grantedBy)
	}); err != nil {
		return err
	}
	return p.ApplyRoleAccessToUser(ctx, userID, roleID, grantedBy)
}

// CreateRoleAppAccess adds an app template row to the role.
func (p *Propagator) CreateRoleAppAccess(ctx context.Context, roleID, appID int64, accessLevel, createdBy string) (RoleAppAccess, error) {
	if _, err := p.store.GetRole(ctx, roleID); err != nil {
		return RoleAppAccess{}, err
	}
	if _, err := p.store.GetApp(ctx, appID); err != nil {
		return RoleAppAccess{}, err
	}
	var created RoleAppAccess
	err := p.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		created, err = tx.InsertRoleAppAccess(ctx, RoleAppAccess{
			RoleID:      roleID,
			AppID:       appID,
			AccessLevel: accessLevel,
			Audit:       Audit{CreatedBy: createdBy},
		})
		return err
	})
	return created, err
}

// CreateRoleCenterAccess adds a center template row to the role. appID is
// nil for grants not tied to a specific app.
func (p *Propagator) CreateRoleCenterAccess(ctx context.Context, roleID, centerID int64, appID *int64, accessLevel string, isDefault bool, createdBy string) (RoleCenterAccess, error) {
	if _, err := p.store.GetRole(ctx, roleID); err != nil {
		return RoleCenterAccess{}, err
	}
	if _, err := p.store.GetCenter(ctx, centerID); err != nil {
		return RoleCenterAccess{}, err
	}
	if appID != nil {
		if _, err := p.store.GetApp(ctx, *appID); err != nil {
			return RoleCenterAccess{}, err
		}
	}
	var created RoleCenterAccess
	err := p.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		created, err = tx.InsertRoleCenterAccess(ctx, RoleCenterAccess{
			RoleID:      roleID,
			CenterID:    centerID,
			AppID:       appID,
			AccessLevel: accessLevel,
			IsDefault:   isDefault,
			Audit:       Audit{CreatedBy: createdBy},
		})
		return err
	})
	return created, err
}

// GetRoleAccessTemplate returns the role's active templates with display
// names for administrative consumption.
func (p *Propagator) GetRoleAccessTemplate(ctx context.Context, roleID int64) (RoleAccessTemplate, error) {
	if _, err := p.store.GetRole(ctx, roleID); err != nil {
		return RoleAccessTemplate{}, err
	}
	return p.store.RoleAccessTemplate(ctx, roleID)
}

// UpdateRoleAccessTemplate replaces the role's entire template set: every
// active row is deactivated and the supplied template inserted in its
// place, inside one transaction. Members must be resynced afterwards.
func (p *Propagator) UpdateRoleAccessTemplate(ctx context.Context, roleID int64, template RoleAccessTemplate, updatedBy string) error {
	if _, err := p.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	for _, app := range template.Apps {
		if _, err := p.store.GetApp(ctx, app.AppID); err != nil {
			return err
		}
	}
	for _, center := range template.Centers {
		if _, err := p.store.GetCenter(ctx, center.CenterID); err != nil {
			return err
		}
	}

	return p.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.DeactivateRoleTemplates(ctx, roleID); err != nil {
			return err
		}
		for _, app := range template.Apps {
			_, err := tx.InsertRoleAppAccess(ctx, RoleAppAccess{
				RoleID:      roleID,
				AppID:       app.AppID,
				AccessLevel: app.AccessLevel,
				ExpiresAt:   app.ExpiresAt,
				Audit:       Audit{CreatedBy: updatedBy},
			})
			if err != nil {
				return err
			}
		}
		for _, center := range template.Centers {
			_, err := tx.InsertRoleCenterAccess(ctx, RoleCenterAccess{
				RoleID:      roleID,
				CenterID:    center.CenterID,
				AppID:       center.AppID,
				AccessLevel: center.AccessLevel,
				IsDefault:   center.IsDefault,
				ExpiresAt:   center.ExpiresAt,
				Audit:       Audit{CreatedBy: updatedBy},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ResyncRoleMembers re-applies the role's current template to every active
// member. Used after template updates; each member's apply is independent
// so one failure does not block the rest.
func (p *Propagator) ResyncRoleMembers(ctx context.Context, roleID int64, grantedBy string) (int, error) {
	members, err := p.store.ListRoleMembers(ctx, roleID)
	if err != nil {
		return 0, err
	}
	var synced atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(resyncConcurrency)
	for _, userID := range members {
		g.Go(func() error {
			if err := p.ApplyRoleAccessToUser(ctx, userID, roleID, grantedBy); err != nil {
				if p.logger != nil {
					p.logger.Error("resync role member",
						slog.Int64("role_id", roleID),
						slog.Int64("user_id", userID),
						slog.Any("error", err),
					)
				}
				return nil
			}
			synced.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(synced.Load()), nil
}

// templateAppID maps a nullable template app reference onto the
// materialized grant key, where 0 means "not app-specific".
func templateAppID(tpl RoleCenterAccess) int64 {
	if tpl.AppID == nil {
		return 0
	}
	return *tpl.AppID
}
