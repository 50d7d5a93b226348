package authz

import (
	"github.com/go-chi/chi/v5"
)

// Administrative resources guarded by the engine itself.
const (
	ResourceUsers = "usuarios"
	ResourceRoles = "roles"

	ActionRead   = "read"
	ActionUpdate = "update"
)

// MountRoutes registers the permission engine's endpoints. Administrative
// routes are themselves guarded by role permissions on the users/roles
// resources; the /me routes only require an authenticated session.
func (h *Handler) MountRoutes(r chi.Router, mw Middleware) {
	r.Route("/me", func(r chi.Router) {
		r.Use(mw.RequireAuthenticated)
		r.Get("/permissions", h.MyPermissions)
		r.Get("/apps", h.MyApps)
		r.Get("/centers", h.MyCenters)
		r.Get("/can", h.Can)
		r.Get("/matrix-can", h.MatrixCan)
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.With(mw.Require(ResourceUsers, ActionUpdate)).Post("/role", h.AssignRole)
		r.With(mw.Require(ResourceUsers, ActionUpdate)).Put("/permission-matrix", h.UpdatePermissionMatrix)
	})

	r.Route("/roles/{roleID}", func(r chi.Router) {
		r.With(mw.Require(ResourceRoles, ActionRead)).Get("/access-template", h.GetRoleAccessTemplate)
		r.With(mw.Require(ResourceRoles, ActionUpdate)).Put("/access-template", h.UpdateRoleAccessTemplate)
		r.With(mw.Require(ResourceRoles, ActionUpdate)).Post("/apps", h.CreateRoleAppAccess)
		r.With(mw.Require(ResourceRoles, ActionUpdate)).Post("/centers", h.CreateRoleCenterAccess)
	})
}
