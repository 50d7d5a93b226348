package authz

import "time"

// Permission scopes.
const (
	ScopeGlobal    = "global"
	ScopeCenter    = "center"
	ScopeOwn       = "own"
	ScopeHierarchy = "hierarchy"
)

// Access levels attached to app and center grants.
const (
	AccessLevelFull     = "full"
	AccessLevelLimited  = "limited"
	AccessLevelReadonly = "readonly"
)

// Wildcard marks a permission resource or action that matches anything.
// A permission with wildcard resource, wildcard action and global scope is
// the administrator sentinel and short-circuits every other check.
const Wildcard = "*"

// Permission matrix entry types.
const (
	MatrixInherited = "inherited"
	MatrixDirect    = "direct"
	MatrixDenied    = "denied"
)

// Audit carries the auditable-record shape shared by every entity.
type Audit struct {
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	UpdatedBy string
}

// User is the subject of every access decision. A user holds exactly one
// role at a time; its grants are materialized into UserAppAccess and
// UserCenterAppAccess rows by the propagator.
type User struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	RoleID    int64
	Audit
}

// Role groups permissions and access templates.
type Role struct {
	ID          int64
	Name        string
	Description string
	IsSystem    bool
	Priority    int
	Audit
}

// Permission is an atomic capability identified by resource and action.
type Permission struct {
	ID       int64
	Resource string
	Action   string
	Scope    string
	IsSystem bool
	Audit
}

// IsAdminWildcard reports whether the permission is the administrator
// sentinel that grants everything.
func (p Permission) IsAdminWildcard() bool {
	return p.Resource == Wildcard && p.Action == Wildcard && p.Scope == ScopeGlobal
}

// RolePermission ties a permission to a role. IsGranted false is an
// explicit deny kept for future use; evaluation only honors granted rows.
type RolePermission struct {
	ID           int64
	RoleID       int64
	PermissionID int64
	IsGranted    bool
	GrantedBy    string
	GrantedAt    time.Time
	Permission   Permission
}

// App is a client application (admin UI, mobile inspections, portal).
type App struct {
	ID       int64
	Code     string
	Name     string
	Type     string
	Platform string
	Audit
}

// BusinessCenter is a branch of the company; center-scoped permissions and
// grants reference it.
type BusinessCenter struct {
	ID          int64
	Name        string
	Description string
	Audit
}

// RoleAppAccess is a template row: members of the role automatically
// receive access to the app.
type RoleAppAccess struct {
	ID          int64
	RoleID      int64
	AppID       int64
	AccessLevel string
	ExpiresAt   *time.Time
	Audit
}

// RoleCenterAccess is a template row for business-center access. AppID is
// nil when the grant is not tied to a specific app.
type RoleCenterAccess struct {
	ID          int64
	RoleID      int64
	CenterID    int64
	AppID       *int64
	AccessLevel string
	IsDefault   bool
	ExpiresAt   *time.Time
	Audit
}

// UserAppAccess is the materialized per-user app grant. Access checks read
// these rows, never the role templates directly.
type UserAppAccess struct {
	ID          int64
	UserID      int64
	AppID       int64
	AccessLevel string
	ExpiresAt   *time.Time
	GrantedBy   string
	Audit
}

// Effective reports whether the grant is usable at the given instant.
func (a UserAppAccess) Effective(now time.Time) bool {
	return a.Active && (a.ExpiresAt == nil || a.ExpiresAt.After(now))
}

// UserCenterAppAccess is the materialized per-user center grant within an
// app. At most one row per (user, center, app) carries IsDefault.
type UserCenterAppAccess struct {
	ID          int64
	UserID      int64
	CenterID    int64
	AppID       int64
	AccessLevel string
	IsDefault   bool
	ExpiresAt   *time.Time
	GrantedBy   string
	Audit
}

// Effective reports whether the grant is usable at the given instant.
func (a UserCenterAppAccess) Effective(now time.Time) bool {
	return a.Active && (a.ExpiresAt == nil || a.ExpiresAt.After(now))
}

// MatrixEntry is a denormalized per-user override row. It is edited
// directly by administrators and never touched by role propagation.
type MatrixEntry struct {
	ID        int64
	UserID    int64
	AppID     int64
	CenterID  int64
	Resource  string
	Action    string
	EntryType string
	Audit
}

// RoleAccessTemplate is the administrative projection of a role's active
// access templates with display names joined in.
type RoleAccessTemplate struct {
	RoleID  int64
	Apps    []TemplateApp
	Centers []TemplateCenter
}

// TemplateApp is one app entry in a role access template.
type TemplateApp struct {
	AppID       int64
	AppCode     string
	AppName     string
	AccessLevel string
	ExpiresAt   *time.Time
}

// TemplateCenter is one center entry in a role access template.
type TemplateCenter struct {
	CenterID    int64
	CenterName  string
	AppID       *int64
	AccessLevel string
	IsDefault   bool
	ExpiresAt   *time.Time
}
