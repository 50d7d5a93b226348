package authz

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateAccess indicates an access template row already exists for
// the same role and target.
var ErrDuplicateAccess = errors.New("authz: access already granted")

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for the permission
// engine. It satisfies Store; the transactional wrapper satisfies TxStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetUser fetches an active user by ID.
func (r *Repository) GetUser(ctx context.Context, userID int64) (User, error) {
	const query = `
		SELECT id, email, first_name, last_name, role_id,
		       active, created_at, updated_at, created_by, updated_by
		FROM users
		WHERE id = $1 AND active`
	var u User
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.RoleID,
		&u.Active, &u.CreatedAt, &u.UpdatedAt, &u.CreatedBy, &u.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// GetRole fetches an active role by ID.
func (r *Repository) GetRole(ctx context.Context, roleID int64) (Role, error) {
	const query = `
		SELECT id, name, description, is_system, priority,
		       active, created_at, updated_at, created_by, updated_by
		FROM roles
		WHERE id = $1 AND active`
	var ro Role
	err := r.pool.QueryRow(ctx, query, roleID).Scan(
		&ro.ID, &ro.Name, &ro.Description, &ro.IsSystem, &ro.Priority,
		&ro.Active, &ro.CreatedAt, &ro.UpdatedAt, &ro.CreatedBy, &ro.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, err
	}
	return ro, nil
}

// GetApp fetches an active app by ID.
func (r *Repository) GetApp(ctx context.Context, appID int64) (App, error) {
	const query = `
		SELECT id, code, name, type, COALESCE(platform, ''),
		       active, created_at, updated_at, created_by, updated_by
		FROM apps
		WHERE id = $1 AND active`
	var a App
	err := r.pool.QueryRow(ctx, query, appID).Scan(
		&a.ID, &a.Code, &a.Name, &a.Type, &a.Platform,
		&a.Active, &a.CreatedAt, &a.UpdatedAt, &a.CreatedBy, &a.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return App{}, ErrAppNotFound
		}
		return App{}, err
	}
	return a, nil
}

// GetCenter fetches an active business center by ID.
func (r *Repository) GetCenter(ctx context.Context, centerID int64) (BusinessCenter, error) {
	const query = `
		SELECT id, name, description,
		       active, created_at, updated_at, created_by, updated_by
		FROM business_centers
		WHERE id = $1 AND active`
	var c BusinessCenter
	err := r.pool.QueryRow(ctx, query, centerID).Scan(
		&c.ID, &c.Name, &c.Description,
		&c.Active, &c.CreatedAt, &c.UpdatedAt, &c.CreatedBy, &c.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BusinessCenter{}, ErrCenterNotFound
		}
		return BusinessCenter{}, err
	}
	return c, nil
}

// ListActiveCenters returns every active business center.
func (r *Repository) ListActiveCenters(ctx context.Context) ([]BusinessCenter, error) {
	const query = `
		SELECT id, name, description,
		       active, created_at, updated_at, created_by, updated_by
		FROM business_centers
		WHERE active
		ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var centers []BusinessCenter
	for rows.Next() {
		var c BusinessCenter
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Description,
			&c.Active, &c.CreatedAt, &c.UpdatedAt, &c.CreatedBy, &c.UpdatedBy,
		); err != nil {
			return nil, err
		}
		centers = append(centers, c)
	}
	return centers, rows.Err()
}

// RolePermissions loads a role's granted permissions eagerly as a flat
// list. Only active assignments of active permissions are returned.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	const query = `
		SELECT rp.id, rp.role_id, rp.permission_id, rp.is_granted, rp.granted_by, rp.granted_at,
		       p.id, p.resource, p.action, p.scope, p.is_system,
		       p.active, p.created_at, p.updated_at, p.created_by, p.updated_by
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND rp.active AND p.active
		ORDER BY p.resource, p.action`
	rows, err := r.pool.Query(ctx, query, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []RolePermission
	for rows.Next() {
		var rp RolePermission
		if err := rows.Scan(
			&rp.ID, &rp.RoleID, &rp.PermissionID, &rp.IsGranted, &rp.GrantedBy, &rp.GrantedAt,
			&rp.Permission.ID, &rp.Permission.Resource, &rp.Permission.Action,
			&rp.Permission.Scope, &rp.Permission.IsSystem,
			&rp.Permission.Active, &rp.Permission.CreatedAt, &rp.Permission.UpdatedAt,
			&rp.Permission.CreatedBy, &rp.Permission.UpdatedBy,
		); err != nil {
			return nil, err
		}
		perms = append(perms, rp)
	}
	return perms, rows.Err()
}

// FindUserAppGrant returns the user's app grant row, or nil when absent.
// The row is returned regardless of active/expiry so callers can apply the
// effectiveness rule.
func (r *Repository) FindUserAppGrant(ctx context.Context, userID, appID int64) (*UserAppAccess, error) {
	const query = `
		SELECT id, user_id, app_id, access_level, expires_at, granted_by,
		       active, created_at, updated_at, created_by, updated_by
		FROM user_app_access
		WHERE user_id = $1 AND app_id = $2`
	grant, err := scanUserAppGrant(r.pool.QueryRow(ctx, query, userID, appID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return grant, nil
}

// FindUserCenterGrant returns the user's center grant row for the exact
// (center, app) pair, or nil when absent.
func (r *Repository) FindUserCenterGrant(ctx context.Context, userID, centerID, appID int64) (*UserCenterAppAccess, error) {
	const query = `
		SELECT id, user_id, center_id, app_id, access_level, is_default, expires_at, granted_by,
		       active, created_at, updated_at, created_by, updated_by
		FROM user_center_app_access
		WHERE user_id = $1 AND center_id = $2 AND app_id = $3`
	grant, err := scanUserCenterGrant(r.pool.QueryRow(ctx, query, userID, centerID, appID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return grant, nil
}

// ListUserAppGrants returns the user's active app grants.
func (r *Repository) ListUserAppGrants(ctx context.Context, userID int64) ([]UserAppAccess, error) {
	const query = `
		SELECT id, user_id, app_id, access_level, expires_at, granted_by,
		       active, created_at, updated_at, created_by, updated_by
		FROM user_app_access
		WHERE user_id = $1 AND active
		ORDER BY app_id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []UserAppAccess
	for rows.Next() {
		grant, err := scanUserAppGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *grant)
	}
	return grants, rows.Err()
}

// ListUserCenterGrants returns the user's active center grants.
func (r *Repository) ListUserCenterGrants(ctx context.Context, userID int64) ([]UserCenterAppAccess, error) {
	const query = `
		SELECT id, user_id, center_id, app_id, access_level, is_default, expires_at, granted_by,
		       active, created_at, updated_at, created_by, updated_by
		FROM user_center_app_access
		WHERE user_id = $1 AND active
		ORDER BY center_id, app_id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []UserCenterAppAccess
	for rows.Next() {
		grant, err := scanUserCenterGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *grant)
	}
	return grants, rows.Err()
}

// DefaultCenter returns the user's default-center grant inside an app.
func (r *Repository) DefaultCenter(ctx context.Context, userID, appID int64) (*UserCenterAppAccess, error) {
	const query = `
		SELECT id, user_id, center_id, app_id, access_level, is_default, expires_at, granted_by,
		       active, created_at, updated_at, created_by, updated_by
		FROM user_center_app_access
		WHERE user_id = $1 AND app_id = $2 AND is_default AND active
		LIMIT 1`
	grant, err := scanUserCenterGrant(r.pool.QueryRow(ctx, query, userID, appID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return grant, nil
}

// FindMatrixEntry returns the matrix row for the exact tuple, or nil.
// Resource and action match case-insensitively.
func (r *Repository) FindMatrixEntry(ctx context.Context, userID, appID, centerID int64, resource, action string) (*MatrixEntry, error) {
	const query = `
		SELECT id, user_id, app_id, center_id, resource, action, entry_type,
		       active, created_at, updated_at, created_by, updated_by
		FROM user_permission_matrix
		WHERE user_id = $1 AND app_id = $2 AND center_id = $3
		  AND lower(resource) = lower($4) AND lower(action) = lower($5)
		  AND active`
	var e MatrixEntry
	err := r.pool.QueryRow(ctx, query, userID, appID, centerID, resource, action).Scan(
		&e.ID, &e.UserID, &e.AppID, &e.CenterID, &e.Resource, &e.Action, &e.EntryType,
		&e.Active, &e.CreatedAt, &e.UpdatedAt, &e.CreatedBy, &e.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// ListRoleAppAccess returns a role's active app access templates.
func (r *Repository) ListRoleAppAccess(ctx context.Context, roleID int64) ([]RoleAppAccess, error) {
	const query = `
		SELECT id, role_id, app_id, access_level, expires_at,
		       active, created_at, updated_at, created_by, updated_by
		FROM role_app_access
		WHERE role_id = $1 AND active
		ORDER BY app_id`
	rows, err := r.pool.Query(ctx, query, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var templates []RoleAppAccess
	for rows.Next() {
		var t RoleAppAccess
		if err := rows.Scan(
			&t.ID, &t.RoleID, &t.AppID, &t.AccessLevel, &t.ExpiresAt,
			&t.Active, &t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.UpdatedBy,
		); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// ListRoleCenterAccess returns a role's active center access templates.
func (r *Repository) ListRoleCenterAccess(ctx context.Context, roleID int64) ([]RoleCenterAccess, error) {
	const query = `
		SELECT id, role_id, center_id, app_id, access_level, is_default, expires_at,
		       active, created_at, updated_at, created_by, updated_by
		FROM role_center_access
		WHERE role_id = $1 AND active
		ORDER BY center_id`
	rows, err := r.pool.Query(ctx, query, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var templates []RoleCenterAccess
	for rows.Next() {
		var t RoleCenterAccess
		if err := rows.Scan(
			&t.ID, &t.RoleID, &t.CenterID, &t.AppID, &t.AccessLevel, &t.IsDefault, &t.ExpiresAt,
			&t.Active, &t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.UpdatedBy,
		); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// RoleAccessTemplate projects a role's active templates with display names.
func (r *Repository) RoleAccessTemplate(ctx context.Context, roleID int64) (RoleAccessTemplate, error) {
	tpl := RoleAccessTemplate{RoleID: roleID}

	const appQuery = `
		SELECT raa.app_id, a.code, a.name, raa.access_level, raa.expires_at
		FROM role_app_access raa
		JOIN apps a ON a.id = raa.app_id
		WHERE raa.role_id = $1 AND raa.active AND a.active
		ORDER BY a.code`
	rows, err := r.pool.Query(ctx, appQuery, roleID)
	if err != nil {
		return RoleAccessTemplate{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var a TemplateApp
		if err := rows.Scan(&a.AppID, &a.AppCode, &a.AppName, &a.AccessLevel, &a.ExpiresAt); err != nil {
			return RoleAccessTemplate{}, err
		}
		tpl.Apps = append(tpl.Apps, a)
	}
	if err := rows.Err(); err != nil {
		return RoleAccessTemplate{}, err
	}

	const centerQuery = `
		SELECT rca.center_id, bc.name, rca.app_id, rca.access_level, rca.is_default, rca.expires_at
		FROM role_center_access rca
		JOIN business_centers bc ON bc.id = rca.center_id
		WHERE rca.role_id = $1 AND rca.active AND bc.active
		ORDER BY bc.name`
	centerRows, err := r.pool.Query(ctx, centerQuery, roleID)
	if err != nil {
		return RoleAccessTemplate{}, err
	}
	defer centerRows.Close()
	for centerRows.Next() {
		var c TemplateCenter
		if err := centerRows.Scan(&c.CenterID, &c.CenterName, &c.AppID, &c.AccessLevel, &c.IsDefault, &c.ExpiresAt); err != nil {
			return RoleAccessTemplate{}, err
		}
		tpl.Centers = append(tpl.Centers, c)
	}
	return tpl, centerRows.Err()
}

// ListRoleMembers returns IDs of active users currently holding the role.
func (r *Repository) ListRoleMembers(ctx context.Context, roleID int64) ([]int64, error) {
	const query = `SELECT id FROM users WHERE role_id = $1 AND active ORDER BY id`
	rows, err := r.pool.Query(ctx, query, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserAppGrant(row rowScanner) (*UserAppAccess, error) {
	var g UserAppAccess
	if err := row.Scan(
		&g.ID, &g.UserID, &g.AppID, &g.AccessLevel, &g.ExpiresAt, &g.GrantedBy,
		&g.Active, &g.CreatedAt, &g.UpdatedAt, &g.CreatedBy, &g.UpdatedBy,
	); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanUserCenterGrant(row rowScanner) (*UserCenterAppAccess, error) {
	var g UserCenterAppAccess
	if err := row.Scan(
		&g.ID, &g.UserID, &g.CenterID, &g.AppID, &g.AccessLevel, &g.IsDefault, &g.ExpiresAt, &g.GrantedBy,
		&g.Active, &g.CreatedAt, &g.UpdatedAt, &g.CreatedBy, &g.UpdatedBy,
	); err != nil {
		return nil, err
	}
	return &g, nil
}

// ============================================================================
// TRANSACTIONAL WRITES
// ============================================================================

type txRepo struct {
	q querier
}

// SetUserRole changes the user's single role.
func (t *txRepo) SetUserRole(ctx context.Context, userID, roleID int64, updatedBy string) error {
	const query = `
		UPDATE users
		SET role_id = $2, updated_at = now(), updated_by = $3
		WHERE id = $1 AND active`
	tag, err := t.q.Exec(ctx, query, userID, roleID, updatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpsertUserAppGrant creates the grant or refreshes and reactivates the
// existing row for the same (user, app).
func (t *txRepo) UpsertUserAppGrant(ctx context.Context, grant UserAppAccess) error {
	const query = `
		INSERT INTO user_app_access
			(user_id, app_id, access_level, expires_at, granted_by,
			 active, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, TRUE, now(), now(), $5, $5)
		ON CONFLICT (user_id, app_id) DO UPDATE
		SET access_level = EXCLUDED.access_level,
		    expires_at   = EXCLUDED.expires_at,
		    granted_by   = EXCLUDED.granted_by,
		    active       = TRUE,
		    updated_at   = now(),
		    updated_by   = EXCLUDED.updated_by`
	_, err := t.q.Exec(ctx, query, grant.UserID, grant.AppID, grant.AccessLevel, grant.ExpiresAt, grant.GrantedBy)
	return err
}

// UpsertUserCenterGrant creates or refreshes the grant for the same
// (user, center, app).
func (t *txRepo) UpsertUserCenterGrant(ctx context.Context, grant UserCenterAppAccess) error {
	const query = `
		INSERT INTO user_center_app_access
			(user_id, center_id, app_id, access_level, is_default, expires_at, granted_by,
			 active, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now(), now(), $7, $7)
		ON CONFLICT (user_id, center_id, app_id) DO UPDATE
		SET access_level = EXCLUDED.access_level,
		    is_default   = EXCLUDED.is_default,
		    expires_at   = EXCLUDED.expires_at,
		    granted_by   = EXCLUDED.granted_by,
		    active       = TRUE,
		    updated_at   = now(),
		    updated_by   = EXCLUDED.updated_by`
	_, err := t.q.Exec(ctx, query,
		grant.UserID, grant.CenterID, grant.AppID, grant.AccessLevel,
		grant.IsDefault, grant.ExpiresAt, grant.GrantedBy)
	return err
}

// DeactivateUserAppGrants soft-deactivates the user's grants for the apps.
func (t *txRepo) DeactivateUserAppGrants(ctx context.Context, userID int64, appIDs []int64) error {
	if len(appIDs) == 0 {
		return nil
	}
	const query = `
		UPDATE user_app_access
		SET active = FALSE, updated_at = now()
		WHERE user_id = $1 AND app_id = ANY($2) AND active`
	_, err := t.q.Exec(ctx, query, userID, appIDs)
	return err
}

// DeactivateUserCenterGrants soft-deactivates the user's grants for the
// (center, app) pairs.
func (t *txRepo) DeactivateUserCenterGrants(ctx context.Context, userID int64, keys []CenterAppKey) error {
	const query = `
		UPDATE user_center_app_access
		SET active = FALSE, updated_at = now()
		WHERE user_id = $1 AND center_id = $2 AND app_id = $3 AND active`
	for _, key := range keys {
		if _, err := t.q.Exec(ctx, query, userID, key.CenterID, key.AppID); err != nil {
			return err
		}
	}
	return nil
}

// InsertRoleAppAccess inserts a new active app template row.
func (t *txRepo) InsertRoleAppAccess(ctx context.Context, access RoleAppAccess) (RoleAppAccess, error) {
	const query = `
		INSERT INTO role_app_access
			(role_id, app_id, access_level, expires_at,
			 active, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, TRUE, now(), now(), $5, $5)
		RETURNING id, created_at, updated_at`
	err := t.q.QueryRow(ctx, query,
		access.RoleID, access.AppID, access.AccessLevel, access.ExpiresAt, access.CreatedBy,
	).Scan(&access.ID, &access.CreatedAt, &access.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return RoleAppAccess{}, ErrDuplicateAccess
		}
		return RoleAppAccess{}, err
	}
	access.Active = true
	return access, nil
}

// InsertRoleCenterAccess inserts a new active center template row.
func (t *txRepo) InsertRoleCenterAccess(ctx context.Context, access RoleCenterAccess) (RoleCenterAccess, error) {
	const query = `
		INSERT INTO role_center_access
			(role_id, center_id, app_id, access_level, is_default, expires_at,
			 active, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, now(), now(), $7, $7)
		RETURNING id, created_at, updated_at`
	err := t.q.QueryRow(ctx, query,
		access.RoleID, access.CenterID, access.AppID, access.AccessLevel,
		access.IsDefault, access.ExpiresAt, access.CreatedBy,
	).Scan(&access.ID, &access.CreatedAt, &access.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return RoleCenterAccess{}, ErrDuplicateAccess
		}
		return RoleCenterAccess{}, err
	}
	access.Active = true
	return access, nil
}

// DeactivateRoleTemplates soft-deactivates every active template row of
// the role, both apps and centers.
func (t *txRepo) DeactivateRoleTemplates(ctx context.Context, roleID int64) error {
	if _, err := t.q.Exec(ctx,
		`UPDATE role_app_access SET active = FALSE, updated_at = now() WHERE role_id = $1 AND active`,
		roleID); err != nil {
		return err
	}
	_, err := t.q.Exec(ctx,
		`UPDATE role_center_access SET active = FALSE, updated_at = now() WHERE role_id = $1 AND active`,
		roleID)
	return err
}

// UpsertMatrixEntry creates or replaces the matrix row for the tuple.
func (t *txRepo) UpsertMatrixEntry(ctx context.Context, entry MatrixEntry) error {
	const query = `
		INSERT INTO user_permission_matrix
			(user_id, app_id, center_id, resource, action, entry_type,
			 active, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, lower($4), lower($5), $6, TRUE, now(), now(), $7, $7)
		ON CONFLICT (user_id, app_id, center_id, resource, action) DO UPDATE
		SET entry_type = EXCLUDED.entry_type,
		    active     = TRUE,
		    updated_at = now(),
		    updated_by = EXCLUDED.updated_by`
	_, err := t.q.Exec(ctx, query,
		entry.UserID, entry.AppID, entry.CenterID, entry.Resource, entry.Action,
		entry.EntryType, entry.UpdatedBy)
	return err
}

// DeactivateMatrixEntry soft-deletes the matrix row for the tuple.
func (t *txRepo) DeactivateMatrixEntry(ctx context.Context, userID, appID, centerID int64, resource, action string) error {
	const query = `
		UPDATE user_permission_matrix
		SET active = FALSE, updated_at = now()
		WHERE user_id = $1 AND app_id = $2 AND center_id = $3
		  AND lower(resource) = lower($4) AND lower(action) = lower($5)
		  AND active`
	_, err := t.q.Exec(ctx, query, userID, appID, centerID, resource, action)
	return err
}

// ExpireGrants deactivates user grants whose expiry has passed.
func (t *txRepo) ExpireGrants(ctx context.Context, now time.Time) (int64, error) {
	appTag, err := t.q.Exec(ctx,
		`UPDATE user_app_access SET active = FALSE, updated_at = now()
		 WHERE active AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	centerTag, err := t.q.Exec(ctx,
		`UPDATE user_center_app_access SET active = FALSE, updated_at = now()
		 WHERE active AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return appTag.RowsAffected(), err
	}
	return appTag.RowsAffected() + centerTag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
