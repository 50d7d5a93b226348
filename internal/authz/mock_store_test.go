package authz

import (
	"context"
	"strings"
	"sync"
	"time"
)

// mockStore is a map-backed Store/TxStore pair with call counters and
// error injection, mirroring the shape of the production repository.
type mockStore struct {
	mu sync.Mutex

	users   map[int64]User
	roles   map[int64]Role
	apps    map[int64]App
	centers map[int64]BusinessCenter

	rolePerms    map[int64][]RolePermission
	appGrants    []UserAppAccess
	centerGrants []UserCenterAppAccess
	matrix       []MatrixEntry

	roleApps    map[int64][]RoleAppAccess
	roleCenters map[int64][]RoleCenterAccess
	members     map[int64][]int64

	nextID int64

	rolePermCalls    int
	appGrantCalls    int
	centerGrantCalls int
	matrixCalls      int

	getUserErr      error
	rolePermErr     error
	appGrantErr     error
	centerGrantErr  error
	matrixErr       error
	txErr           error
	applyFailUserID int64
}

func newMockStore() *mockStore {
	return &mockStore{
		users:       make(map[int64]User),
		roles:       make(map[int64]Role),
		apps:        make(map[int64]App),
		centers:     make(map[int64]BusinessCenter),
		rolePerms:   make(map[int64][]RolePermission),
		roleApps:    make(map[int64][]RoleAppAccess),
		roleCenters: make(map[int64][]RoleCenterAccess),
		members:     make(map[int64][]int64),
		nextID:      100,
	}
}

func (m *mockStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockStore) addUser(id, roleID int64) {
	m.users[id] = User{ID: id, RoleID: roleID, Audit: Audit{Active: true}}
}

func (m *mockStore) addRole(id int64, name string) {
	m.roles[id] = Role{ID: id, Name: name, Audit: Audit{Active: true}}
}

func (m *mockStore) addApp(id int64, code string) {
	m.apps[id] = App{ID: id, Code: code, Audit: Audit{Active: true}}
}

func (m *mockStore) addCenter(id int64, name string) {
	m.centers[id] = BusinessCenter{ID: id, Name: name, Audit: Audit{Active: true}}
}

func (m *mockStore) grantPermission(roleID int64, resource, action, scope string) {
	m.rolePerms[roleID] = append(m.rolePerms[roleID], RolePermission{
		ID:        m.id(),
		RoleID:    roleID,
		IsGranted: true,
		Permission: Permission{
			ID:       m.id(),
			Resource: resource,
			Action:   action,
			Scope:    scope,
			Audit:    Audit{Active: true},
		},
	})
}

func (m *mockStore) grantApp(userID, appID int64, expiresAt *time.Time) {
	m.appGrants = append(m.appGrants, UserAppAccess{
		ID:          m.id(),
		UserID:      userID,
		AppID:       appID,
		AccessLevel: AccessLevelFull,
		ExpiresAt:   expiresAt,
		Audit:       Audit{Active: true},
	})
}

func (m *mockStore) grantCenter(userID, centerID, appID int64, isDefault bool, expiresAt *time.Time) {
	m.centerGrants = append(m.centerGrants, UserCenterAppAccess{
		ID:          m.id(),
		UserID:      userID,
		CenterID:    centerID,
		AppID:       appID,
		AccessLevel: AccessLevelFull,
		IsDefault:   isDefault,
		ExpiresAt:   expiresAt,
		Audit:       Audit{Active: true},
	})
}

func (m *mockStore) addMatrixEntry(userID, appID, centerID int64, resource, action, entryType string) {
	m.matrix = append(m.matrix, MatrixEntry{
		ID:        m.id(),
		UserID:    userID,
		AppID:     appID,
		CenterID:  centerID,
		Resource:  resource,
		Action:    action,
		EntryType: entryType,
		Audit:     Audit{Active: true},
	})
}

func (m *mockStore) activeAppGrants(userID int64) []UserAppAccess {
	out := []UserAppAccess{}
	for _, g := range m.appGrants {
		if g.UserID == userID && g.Active {
			out = append(out, g)
		}
	}
	return out
}

func (m *mockStore) activeCenterGrants(userID int64) []UserCenterAppAccess {
	out := []UserCenterAppAccess{}
	for _, g := range m.centerGrants {
		if g.UserID == userID && g.Active {
			out = append(out, g)
		}
	}
	return out
}

func (m *mockStore) GetUser(ctx context.Context, userID int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getUserErr != nil {
		return User{}, m.getUserErr
	}
	u, ok := m.users[userID]
	if !ok || !u.Active {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *mockStore) GetRole(ctx context.Context, roleID int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok || !r.Active {
		return Role{}, ErrRoleNotFound
	}
	return r, nil
}

func (m *mockStore) GetApp(ctx context.Context, appID int64) (App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[appID]
	if !ok || !a.Active {
		return App{}, ErrAppNotFound
	}
	return a, nil
}

func (m *mockStore) GetCenter(ctx context.Context, centerID int64) (BusinessCenter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.centers[centerID]
	if !ok || !c.Active {
		return BusinessCenter{}, ErrCenterNotFound
	}
	return c, nil
}

func (m *mockStore) ListActiveCenters(ctx context.Context) ([]BusinessCenter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []BusinessCenter{}
	for _, c := range m.centers {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockStore) RolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolePermCalls++
	if m.rolePermErr != nil {
		return nil, m.rolePermErr
	}
	return m.rolePerms[roleID], nil
}

func (m *mockStore) FindUserAppGrant(ctx context.Context, userID, appID int64) (*UserAppAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appGrantCalls++
	if m.appGrantErr != nil {
		return nil, m.appGrantErr
	}
	for i := range m.appGrants {
		g := m.appGrants[i]
		if g.UserID == userID && g.AppID == appID && g.Active {
			return &g, nil
		}
	}
	return nil, nil
}

func (m *mockStore) FindUserCenterGrant(ctx context.Context, userID, centerID, appID int64) (*UserCenterAppAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.centerGrantCalls++
	if m.centerGrantErr != nil {
		return nil, m.centerGrantErr
	}
	for i := range m.centerGrants {
		g := m.centerGrants[i]
		if g.UserID == userID && g.CenterID == centerID && g.AppID == appID && g.Active {
			return &g, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListUserAppGrants(ctx context.Context, userID int64) ([]UserAppAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appGrantErr != nil {
		return nil, m.appGrantErr
	}
	return m.activeAppGrants(userID), nil
}

func (m *mockStore) ListUserCenterGrants(ctx context.Context, userID int64) ([]UserCenterAppAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.centerGrantErr != nil {
		return nil, m.centerGrantErr
	}
	return m.activeCenterGrants(userID), nil
}

func (m *mockStore) DefaultCenter(ctx context.Context, userID, appID int64) (*UserCenterAppAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.centerGrants {
		g := m.centerGrants[i]
		if g.UserID == userID && g.AppID == appID && g.IsDefault && g.Active {
			return &g, nil
		}
	}
	return nil, nil
}

func (m *mockStore) FindMatrixEntry(ctx context.Context, userID, appID, centerID int64, resource, action string) (*MatrixEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matrixCalls++
	if m.matrixErr != nil {
		return nil, m.matrixErr
	}
	for i := range m.matrix {
		e := m.matrix[i]
		if e.UserID == userID && e.AppID == appID && e.CenterID == centerID &&
			strings.EqualFold(e.Resource, resource) && strings.EqualFold(e.Action, action) && e.Active {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListRoleAppAccess(ctx context.Context, roleID int64) ([]RoleAppAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []RoleAppAccess{}
	for _, t := range m.roleApps[roleID] {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) ListRoleCenterAccess(ctx context.Context, roleID int64) ([]RoleCenterAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []RoleCenterAccess{}
	for _, t := range m.roleCenters[roleID] {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) RoleAccessTemplate(ctx context.Context, roleID int64) (RoleAccessTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tpl := RoleAccessTemplate{RoleID: roleID}
	for _, t := range m.roleApps[roleID] {
		if !t.Active {
			continue
		}
		tpl.Apps = append(tpl.Apps, TemplateApp{
			AppID:       t.AppID,
			AppCode:     m.apps[t.AppID].Code,
			AccessLevel: t.AccessLevel,
			ExpiresAt:   t.ExpiresAt,
		})
	}
	for _, t := range m.roleCenters[roleID] {
		if !t.Active {
			continue
		}
		tpl.Centers = append(tpl.Centers, TemplateCenter{
			CenterID:    t.CenterID,
			CenterName:  m.centers[t.CenterID].Name,
			AppID:       t.AppID,
			AccessLevel: t.AccessLevel,
			IsDefault:   t.IsDefault,
			ExpiresAt:   t.ExpiresAt,
		})
	}
	return tpl, nil
}

func (m *mockStore) ListRoleMembers(ctx context.Context, roleID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[roleID], nil
}

func (m *mockStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	m.mu.Lock()
	txErr := m.txErr
	m.mu.Unlock()
	if txErr != nil {
		return txErr
	}
	return fn(ctx, &mockTx{store: m})
}

type mockTx struct {
	store *mockStore
}

func (t *mockTx) SetUserRole(ctx context.Context, userID, roleID int64, updatedBy string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	u := t.store.users[userID]
	u.RoleID = roleID
	u.UpdatedBy = updatedBy
	t.store.users[userID] = u
	return nil
}

func (t *mockTx) UpsertUserAppGrant(ctx context.Context, grant UserAppAccess) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.applyFailUserID != 0 && grant.UserID == t.store.applyFailUserID {
		return ErrNotFound
	}
	for i := range t.store.appGrants {
		g := &t.store.appGrants[i]
		if g.UserID == grant.UserID && g.AppID == grant.AppID {
			g.AccessLevel = grant.AccessLevel
			g.ExpiresAt = grant.ExpiresAt
			g.GrantedBy = grant.GrantedBy
			g.Active = true
			return nil
		}
	}
	grant.ID = t.store.id()
	grant.Active = true
	t.store.appGrants = append(t.store.appGrants, grant)
	return nil
}

func (t *mockTx) UpsertUserCenterGrant(ctx context.Context, grant UserCenterAppAccess) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := range t.store.centerGrants {
		g := &t.store.centerGrants[i]
		if g.UserID == grant.UserID && g.CenterID == grant.CenterID && g.AppID == grant.AppID {
			g.AccessLevel = grant.AccessLevel
			g.IsDefault = grant.IsDefault
			g.ExpiresAt = grant.ExpiresAt
			g.GrantedBy = grant.GrantedBy
			g.Active = true
			return nil
		}
	}
	grant.ID = t.store.id()
	grant.Active = true
	t.store.centerGrants = append(t.store.centerGrants, grant)
	return nil
}

func (t *mockTx) DeactivateUserAppGrants(ctx context.Context, userID int64, appIDs []int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := range t.store.appGrants {
		g := &t.store.appGrants[i]
		if g.UserID != userID {
			continue
		}
		for _, id := range appIDs {
			if g.AppID == id {
				g.Active = false
			}
		}
	}
	return nil
}

func (t *mockTx) DeactivateUserCenterGrants(ctx context.Context, userID int64, keys []CenterAppKey) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := range t.store.centerGrants {
		g := &t.store.centerGrants[i]
		if g.UserID != userID {
			continue
		}
		for _, k := range keys {
			if g.CenterID == k.CenterID && g.AppID == k.AppID {
				g.Active = false
			}
		}
	}
	return nil
}

func (t *mockTx) InsertRoleAppAccess(ctx context.Context, access RoleAppAccess) (RoleAppAccess, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	access.ID = t.store.id()
	access.Active = true
	t.store.roleApps[access.RoleID] = append(t.store.roleApps[access.RoleID], access)
	return access, nil
}

func (t *mockTx) InsertRoleCenterAccess(ctx context.Context, access RoleCenterAccess) (RoleCenterAccess, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	access.ID = t.store.id()
	access.Active = true
	t.store.roleCenters[access.RoleID] = append(t.store.roleCenters[access.RoleID], access)
	return access, nil
}

func (t *mockTx) DeactivateRoleTemplates(ctx context.Context, roleID int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := range t.store.roleApps[roleID] {
		t.store.roleApps[roleID][i].Active = false
	}
	for i := range t.store.roleCenters[roleID] {
		t.store.roleCenters[roleID][i].Active = false
	}
	return nil
}

func (t *mockTx) UpsertMatrixEntry(ctx context.Context, entry MatrixEntry) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := range t.store.matrix {
		e := &t.store.matrix[i]
		if e.UserID == entry.UserID && e.AppID == entry.AppID && e.CenterID == entry.CenterID &&
			e.Resource == entry.Resource && e.Action == entry.Action {
			e.EntryType = entry.EntryType
			e.Active = true
			return nil
		}
	}
	entry.ID = t.store.id()
	entry.Active = true
	t.store.matrix = append(t.store.matrix, entry)
	return nil
}

func (t *mockTx) DeactivateMatrixEntry(ctx context.Context, userID, appID, centerID int64, resource, action string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := range t.store.matrix {
		e := &t.store.matrix[i]
		if e.UserID == userID && e.AppID == appID && e.CenterID == centerID &&
			e.Resource == resource && e.Action == action {
			e.Active = false
		}
	}
	return nil
}

func (t *mockTx) ExpireGrants(ctx context.Context, now time.Time) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var swept int64
	for i := range t.store.appGrants {
		g := &t.store.appGrants[i]
		if g.Active && g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			g.Active = false
			swept++
		}
	}
	for i := range t.store.centerGrants {
		g := &t.store.centerGrants[i]
		if g.Active && g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			g.Active = false
			swept++
		}
	}
	return swept, nil
}
