package access

import (
	"errors"
	"testing"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func user(id string, role model.Role) *model.User {
	return &model.User{ID: id, Username: id, Role: role, Active: true}
}

func TestRoleAllowed(t *testing.T) {
	cases := []struct {
		role   model.Role
		action Action
		want   bool
	}{
		{model.RoleAdmin, ActionCreate, true},
		{model.RoleTech, ActionCreate, false},
		{model.RoleClient, ActionCreate, false},
		{model.RoleAdmin, ActionAssign, true},
		{model.RoleTech, ActionAssign, true},
		{model.RoleClient, ActionAssign, false},
		{model.RoleAdmin, ActionClose, false},
		{model.RoleTech, ActionClose, true},
		{model.RoleClient, ActionView, true},
		{model.RoleClient, ActionComment, true},
		{model.RoleTech, ActionEdit, false},
		{model.RoleTech, ActionManage, false},
		{model.Role("GUEST"), ActionView, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, RoleAllowed(c.role, c.action), "%s %s", c.role, c.action)
	}
}

func TestAuthorizeInactiveActor(t *testing.T) {
	u := user("a", model.RoleAdmin)
	u.Active = false
	assert.True(t, errors.Is(Authorize(u, ActionView, nil, false), errs.ErrUnauthorized))
	assert.True(t, errors.Is(Authorize(nil, ActionView, nil, false), errs.ErrUnauthorized))
}

func TestAuthorizeOwnership(t *testing.T) {
	techA := user("tech-a", model.RoleTech)
	techB := user("tech-b", model.RoleTech)
	owner := techA.ID
	tk := &model.Ticket{ID: "t1", Status: model.StatusAtribuido, AssignedTechID: &owner}

	assert.NoError(t, Authorize(techA, ActionStart, tk, false))
	assert.True(t, errors.Is(Authorize(techB, ActionStart, tk, false), errs.ErrForbidden))
	assert.True(t, errors.Is(Authorize(techB, ActionClose, tk, false), errs.ErrForbidden))

	unassigned := &model.Ticket{ID: "t2", Status: model.StatusAberto}
	assert.True(t, errors.Is(Authorize(techA, ActionPend, unassigned, false), errs.ErrForbidden))
}

func TestAuthorizeClientVisibility(t *testing.T) {
	client := user("c", model.RoleClient)
	tk := &model.Ticket{ID: "t1", Status: model.StatusAberto}

	assert.NoError(t, Authorize(client, ActionView, tk, true))
	assert.True(t, errors.Is(Authorize(client, ActionView, tk, false), errs.ErrForbidden))
	assert.True(t, errors.Is(Authorize(client, ActionComment, tk, false), errs.ErrForbidden))
	assert.True(t, errors.Is(Authorize(client, ActionAssign, tk, true), errs.ErrForbidden))

	// visibility flag is irrelevant for staff
	assert.NoError(t, Authorize(user("t", model.RoleTech), ActionView, tk, false))
}

func TestParseTechScope(t *testing.T) {
	s, err := ParseTechScope("queue")
	assert.NoError(t, err)
	assert.Equal(t, ScopeQueue, s)
	s, err = ParseTechScope("")
	assert.NoError(t, err)
	assert.Equal(t, ScopeDefault, s)
	_, err = ParseTechScope("all")
	assert.True(t, errors.Is(err, errs.ErrValidation))
}
