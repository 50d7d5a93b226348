package authz

import (
	"context"
	"errors"
	"time"
)

// Validation errors surfaced by administrative operations.
var (
	ErrNotFound       = errors.New("authz: not found")
	ErrRoleNotFound   = errors.New("authz: role not found")
	ErrAppNotFound    = errors.New("authz: app not found")
	ErrCenterNotFound = errors.New("authz: business center not found")
	ErrUserNotFound   = errors.New("authz: user not found")
)

// Store defines the entity-store reads the engine needs. Implementations
// must filter soft-deleted rows: every method returns active records only,
// except the grant lookups which return the row as stored so callers can
// apply the active+expiry effectiveness rule themselves.
type Store interface {
	GetUser(ctx context.Context, userID int64) (User, error)
	GetRole(ctx context.Context, roleID int64) (Role, error)
	GetApp(ctx context.Context, appID int64) (App, error)
	GetCenter(ctx context.Context, centerID int64) (BusinessCenter, error)
	ListActiveCenters(ctx context.Context) ([]BusinessCenter, error)

	// RolePermissions loads a role's granted, active permissions as a flat
	// list with the permission rows joined in.
	RolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error)

	FindUserAppGrant(ctx context.Context, userID, appID int64) (*UserAppAccess, error)
	FindUserCenterGrant(ctx context.Context, userID, centerID, appID int64) (*UserCenterAppAccess, error)
	ListUserAppGrants(ctx context.Context, userID int64) ([]UserAppAccess, error)
	ListUserCenterGrants(ctx context.Context, userID int64) ([]UserCenterAppAccess, error)

	// DefaultCenter returns the user's default-center grant inside an app,
	// or nil when none is flagged.
	DefaultCenter(ctx context.Context, userID, appID int64) (*UserCenterAppAccess, error)

	// FindMatrixEntry returns the matrix row for the exact tuple, or nil.
	FindMatrixEntry(ctx context.Context, userID, appID, centerID int64, resource, action string) (*MatrixEntry, error)

	ListRoleAppAccess(ctx context.Context, roleID int64) ([]RoleAppAccess, error)
	ListRoleCenterAccess(ctx context.Context, roleID int64) ([]RoleCenterAccess, error)
	RoleAccessTemplate(ctx context.Context, roleID int64) (RoleAccessTemplate, error)

	// ListRoleMembers returns IDs of active users currently holding the role.
	ListRoleMembers(ctx context.Context, roleID int64) ([]int64, error)

	// WithTx runs fn inside one transaction; writes performed through the
	// TxStore are committed together or not at all.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
}

// TxStore exposes the write operations used by the propagator and the
// administrative handlers. All writes are soft: rows are deactivated, never
// deleted.
type TxStore interface {
	SetUserRole(ctx context.Context, userID, roleID int64, updatedBy string) error

	UpsertUserAppGrant(ctx context.Context, grant UserAppAccess) error
	UpsertUserCenterGrant(ctx context.Context, grant UserCenterAppAccess) error
	DeactivateUserAppGrants(ctx context.Context, userID int64, appIDs []int64) error
	DeactivateUserCenterGrants(ctx context.Context, userID int64, keys []CenterAppKey) error

	InsertRoleAppAccess(ctx context.Context, access RoleAppAccess) (RoleAppAccess, error)
	InsertRoleCenterAccess(ctx context.Context, access RoleCenterAccess) (RoleCenterAccess, error)
	DeactivateRoleTemplates(ctx context.Context, roleID int64) error

	UpsertMatrixEntry(ctx context.Context, entry MatrixEntry) error
	DeactivateMatrixEntry(ctx context.Context, userID, appID, centerID int64, resource, action string) error

	// ExpireGrants deactivates user grants whose expiry has passed and
	// returns how many rows were touched.
	ExpireGrants(ctx context.Context, now time.Time) (int64, error)
}

// CenterAppKey identifies a user center grant by its (center, app) pair.
type CenterAppKey struct {
	CenterID int64
	AppID    int64
}
