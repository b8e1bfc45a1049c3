// Package access decides who may see and act on stores, networks and tickets.
//
// Authorize is the single policy consulted by every ticket operation. It runs
// twice per operation: once before loading (role gate, ticket == nil) and once
// after loading (ownership and visibility). Visibility for clients comes from
// grants, resolved by Checker against the record store.
package access

import (
	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

type Action string

const (
	ActionView    Action = "ticket/view"
	ActionList    Action = "ticket/list"
	ActionComment Action = "ticket/comment"
	ActionCreate  Action = "ticket/create"
	ActionEdit    Action = "ticket/edit"
	ActionAssign  Action = "ticket/assign"
	ActionStart   Action = "ticket/start"
	ActionPend    Action = "ticket/pend"
	ActionClose   Action = "ticket/close"
	ActionManage  Action = "admin/manage"
	ActionBrowse  Action = "catalog/browse"
)

func rolesFor(action Action) []model.Role {
	switch action {
	case ActionView, ActionList, ActionComment, ActionBrowse:
		return []model.Role{model.RoleAdmin, model.RoleTech, model.RoleClient}
	case ActionCreate, ActionEdit, ActionManage:
		return []model.Role{model.RoleAdmin}
	case ActionAssign:
		return []model.Role{model.RoleAdmin, model.RoleTech}
	case ActionStart, ActionPend, ActionClose:
		return []model.Role{model.RoleTech}
	}
	return nil
}

// RoleAllowed reports whether role may attempt action at all.
func RoleAllowed(role model.Role, action Action) bool {
	for _, r := range rolesFor(action) {
		if r == role {
			return true
		}
	}
	return false
}

// Authorize returns nil when actor may perform action. With t == nil only the
// role gate is checked. storeVisible is the CanViewStore result for t's store
// and only matters for clients.
func Authorize(actor *model.User, action Action, t *model.Ticket, storeVisible bool) error {
	if actor == nil || !actor.Active {
		return errs.Unauthorized("inactive or unknown user")
	}
	if !RoleAllowed(actor.Role, action) {
		return errs.Forbidden("role %s may not perform %s", actor.Role, action)
	}
	if t == nil {
		return nil
	}
	switch action {
	case ActionView, ActionComment:
		if actor.Role == model.RoleClient && !storeVisible {
			return errs.Forbidden("no access to this ticket")
		}
	case ActionStart, ActionPend, ActionClose:
		if !t.IsAssignedTo(actor.ID) {
			return errs.Forbidden("ticket is not assigned to you")
		}
	case ActionAssign, ActionEdit, ActionCreate, ActionList, ActionManage, ActionBrowse:
	}
	return nil
}
