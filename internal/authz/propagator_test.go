package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRoleTemplates(store *mockStore, roleID int64) {
	store.roleApps[roleID] = []RoleAppAccess{
		{ID: store.id(), RoleID: roleID, AppID: testAppID, AccessLevel: AccessLevelFull, Audit: Audit{Active: true}},
	}
	store.roleCenters[roleID] = []RoleCenterAccess{
		{ID: store.id(), RoleID: roleID, CenterID: testCenterID, AppID: idPtr(testAppID), AccessLevel: AccessLevelLimited, IsDefault: true, Audit: Audit{Active: true}},
	}
}

func TestApplyRoleAccessIsIdempotent(t *testing.T) {
	store := newMockStore()
	store.addUser(testUserID, testRoleID)
	store.addRole(testRoleID, "tecnico")
	seedRoleTemplates(store, testRoleID)
	p := NewPropagator(store, nil)
	ctx := context.Background()

	require.NoError(t, p.ApplyRoleAccessToUser(ctx, testUserID, testRoleID, "user:9"))
	require.NoError(t, p.ApplyRoleAccessToUser(ctx, testUserID, testRoleID, "user:9"))

	apps := store.activeAppGrants(testUserID)
	centers := store.activeCenterGrants(testUserID)
	require.Len(t, apps, 1)
	require.Len(t, centers, 1)
	assert.Equal(t, AccessLevelFull, apps[0].AccessLevel)
	assert.Equal(t, AccessLevelLimited, centers[0].AccessLevel)
	assert.True(t, centers[0].IsDefault)
	assert.Equal(t, "user:9", apps[0].GrantedBy)
}

func TestApplyRoleAccessUnknownRole(t *testing.T) {
	store := newMockStore()
	store.addUser(testUserID, testRoleID)
	p := NewPropagator(store, nil)

	err := p.ApplyRoleAccessToUser(context.Background(), testUserID, 999, "system")
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestRemoveRoleAccessDeactivatesTemplateMatchesOnly(t *testing.T) {
	store := newMockStore()
	store.addUser(testUserID, testRoleID)
	store.addRole(testRoleID, "tecnico")
	seedRoleTemplates(store, testRoleID)
	// A grant outside the template survives removal.
	store.grantApp(testUserID, 99, nil)
	p := NewPropagator(store, nil)
	ctx := context.Background()

	require.NoError(t, p.ApplyRoleAccessToUser(ctx, testUserID, testRoleID, "system"))
	require.NoError(t, p.RemoveRoleAccessFromUser(ctx, testUserID, testRoleID))

	apps := store.activeAppGrants(testUserID)
	require.Len(t, apps, 1)
	assert.Equal(t, int64(99), apps[0].AppID)
	assert.Empty(t, store.activeCenterGrants(testUserID))
}

func TestAssignRoleSwitchesGrants(t *testing.T) {
	store := newMockStore()
	oldRole, newRole := int64(10), int64(11)
	store.addUser(testUserID, oldRole)
	store.addRole(oldRole, "tecnico")
	store.addRole(newRole, "supervisor")
	seedRoleTemplates(store, oldRole)
	store.roleApps[newRole] = []RoleAppAccess{
		{ID: store.id(), RoleID: newRole, AppID: 21, AccessLevel: AccessLevelFull, Audit: Audit{Active: true}},
	}
	p := NewPropagator(store, nil)
	ctx := context.Background()

	require.NoError(t, p.ApplyRoleAccessToUser(ctx, testUserID, oldRole, "system"))
	require.NoError(t, p.AssignRole(ctx, testUserID, newRole, "user:9"))

	user, err := store.GetUser(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, newRole, user.RoleID)

	apps := store.activeAppGrants(testUserID)
	require.Len(t, apps, 1)
	assert.Equal(t, int64(21), apps[0].AppID)
}

func TestAssignSameRoleKeepsGrants(t *testing.T) {
	store := newMockStore()
	store.addUser(testUserID, testRoleID)
	store.addRole(testRoleID, "tecnico")
	seedRoleTemplates(store, testRoleID)
	p := NewPropagator(store, nil)
	ctx := context.Background()

	require.NoError(t, p.ApplyRoleAccessToUser(ctx, testUserID, testRoleID, "system"))
	require.NoError(t, p.AssignRole(ctx, testUserID, testRoleID, "system"))

	assert.Len(t, store.activeAppGrants(testUserID), 1)
	assert.Len(t, store.activeCenterGrants(testUserID), 1)
}

func TestCreateRoleAppAccessValidatesReferences(t *testing.T) {
	store := newMockStore()
	store.addRole(testRoleID, "tecnico")
	p := NewPropagator(store, nil)
	ctx := context.Background()

	_, err := p.CreateRoleAppAccess(ctx, testRoleID, 999, AccessLevelFull, "user:9")
	assert.ErrorIs(t, err, ErrAppNotFound)

	_, err = p.CreateRoleAppAccess(ctx, 999, testAppID, AccessLevelFull, "user:9")
	assert.ErrorIs(t, err, ErrRoleNotFound)

	store.addApp(testAppID, "admin-web")
	created, err := p.CreateRoleAppAccess(ctx, testRoleID, testAppID, AccessLevelReadonly, "user:9")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, AccessLevelReadonly, created.AccessLevel)
}

func TestCreateRoleCenterAccessNilApp(t *testing.T) {
	store := newMockStore()
	store.addRole(testRoleID, "tecnico")
	store.addCenter(testCenterID, "Centro Norte")
	p := NewPropagator(store, nil)

	created, err := p.CreateRoleCenterAccess(context.Background(), testRoleID, testCenterID, nil, AccessLevelFull, true, "user:9")
	require.NoError(t, err)
	assert.Nil(t, created.AppID)
	assert.True(t, created.IsDefault)
}

func TestUpdateRoleAccessTemplateReplacesAll(t *testing.T) {
	store := newMockStore()
	store.addRole(testRoleID, "tecnico")
	store.addApp(testAppID, "admin-web")
	store.addApp(21, "mobile-inspect")
	store.addCenter(testCenterID, "Centro Norte")
	seedRoleTemplates(store, testRoleID)
	p := NewPropagator(store, nil)
	ctx := context.Background()

	expires := time.Now().Add(30 * 24 * time.Hour)
	err := p.UpdateRoleAccessTemplate(ctx, testRoleID, RoleAccessTemplate{
		Apps: []TemplateApp{
			{AppID: 21, AccessLevel: AccessLevelLimited, ExpiresAt: &expires},
		},
		Centers: []TemplateCenter{
			{CenterID: testCenterID, AccessLevel: AccessLevelReadonly, IsDefault: true},
		},
	}, "user:9")
	require.NoError(t, err)

	tpl, err := store.RoleAccessTemplate(ctx, testRoleID)
	require.NoError(t, err)
	require.Len(t, tpl.Apps, 1)
	require.Len(t, tpl.Centers, 1)
	assert.Equal(t, int64(21), tpl.Apps[0].AppID)
	assert.Equal(t, AccessLevelLimited, tpl.Apps[0].AccessLevel)
	assert.Nil(t, tpl.Centers[0].AppID)
	assert.Equal(t, AccessLevelReadonly, tpl.Centers[0].AccessLevel)
}

func TestUpdateRoleAccessTemplateUnknownAppAborts(t *testing.T) {
	store := newMockStore()
	store.addRole(testRoleID, "tecnico")
	seedRoleTemplates(store, testRoleID)
	p := NewPropagator(store, nil)

	err := p.UpdateRoleAccessTemplate(context.Background(), testRoleID, RoleAccessTemplate{
		Apps: []TemplateApp{{AppID: 999, AccessLevel: AccessLevelFull}},
	}, "user:9")
	assert.ErrorIs(t, err, ErrAppNotFound)

	// The existing template is untouched.
	tpl, terr := store.RoleAccessTemplate(context.Background(), testRoleID)
	require.NoError(t, terr)
	assert.Len(t, tpl.Apps, 1)
}

func TestResyncRoleMembersContinuesPastFailures(t *testing.T) {
	store := newMockStore()
	store.addRole(testRoleID, "tecnico")
	seedRoleTemplates(store, testRoleID)
	for _, id := range []int64{1, 2, 3} {
		store.addUser(id, testRoleID)
	}
	store.members[testRoleID] = []int64{1, 2, 3}
	store.applyFailUserID = 2
	p := NewPropagator(store, nil)

	synced, err := p.ResyncRoleMembers(context.Background(), testRoleID, "system")
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	assert.Len(t, store.activeAppGrants(1), 1)
	assert.Empty(t, store.activeAppGrants(2))
	assert.Len(t, store.activeAppGrants(3), 1)
}
