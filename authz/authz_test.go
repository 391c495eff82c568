package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/indemnity-engine/authz"
	"github.com/warp/indemnity-engine/generic"
)

func TestCanPerform_QuittanceStages(t *testing.T) {
	q := authz.EntityQuittance

	assert.True(t, authz.CanPerform(authz.RoleAccountant, q, authz.ActionAccountantApprove))
	assert.False(t, authz.CanPerform(authz.RoleExecutive, q, authz.ActionAccountantApprove))
	assert.True(t, authz.CanPerform(authz.RoleExecutive, q, authz.ActionExecutiveApprove))
	assert.False(t, authz.CanPerform(authz.RoleAccountant, q, authz.ActionExecutiveApprove))

	// Each approving role rejects only at its own stage
	assert.True(t, authz.CanPerform(authz.RoleAccountant, q, authz.ActionRejectAtAccountant))
	assert.False(t, authz.CanPerform(authz.RoleAccountant, q, authz.ActionRejectAtExecutive))
	assert.True(t, authz.CanPerform(authz.RoleExecutive, q, authz.ActionRejectAtExecutive))

	assert.True(t, authz.CanPerform(authz.RoleAccountant, q, authz.ActionPay))
	assert.False(t, authz.CanPerform(authz.RoleExecutive, q, authz.ActionPay))
	assert.False(t, authz.CanPerform(authz.RoleAgent, q, authz.ActionPay))
}

func TestCanPerform_AdminIsSuperset(t *testing.T) {
	actions := []struct {
		entity authz.Entity
		action authz.Action
	}{
		{authz.EntityClaim, authz.ActionDeclare},
		{authz.EntityClaim, authz.ActionValidate},
		{authz.EntityClaim, authz.ActionMarkPaid},
		{authz.EntityClaim, authz.ActionArchive},
		{authz.EntityQuittance, authz.ActionAccountantApprove},
		{authz.EntityQuittance, authz.ActionExecutiveApprove},
		{authz.EntityQuittance, authz.ActionRejectAtExecutive},
		{authz.EntityQuittance, authz.ActionPay},
	}
	for _, a := range actions {
		assert.True(t, authz.CanPerform(authz.RoleAdmin, a.entity, a.action), "%s/%s", a.entity, a.action)
	}
}

func TestCanPerform_UnknownActionRefused(t *testing.T) {
	assert.False(t, authz.CanPerform(authz.RoleAdmin, authz.EntityClaim, authz.ActionPay))
	assert.False(t, authz.CanPerform(authz.RoleAdmin, authz.EntityQuittance, authz.ActionDeclare))
}

func TestCanPerform_ArchiveIsAdminOnly(t *testing.T) {
	for _, r := range []authz.Role{authz.RoleAgent, authz.RoleAccountant, authz.RoleExecutive} {
		assert.False(t, authz.CanPerform(r, authz.EntityClaim, authz.ActionArchive), r)
	}
}

func TestRequire_ReturnsForbidden(t *testing.T) {
	err := authz.Require(authz.RoleAgent, authz.EntityQuittance, authz.ActionExecutiveApprove)
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrForbidden)

	var fe *generic.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "agent", fe.Role)
	assert.Equal(t, "executive_approve", fe.Action)
}

func TestParseRole(t *testing.T) {
	r, err := authz.ParseRole("FPDG")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleExecutive, r)

	_, err = authz.ParseRole("intern")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestCaller_PartnerScope(t *testing.T) {
	scoped := authz.Caller{ActorID: "u1", Role: authz.RoleAgent, PartnerID: "COFIDEC"}
	assert.True(t, scoped.CanSeePartner("COFIDEC"))
	assert.True(t, scoped.CanSeePartner("cofidec"), "partner ids compare case-insensitively")
	assert.False(t, scoped.CanSeePartner("ADVANS"))

	global := authz.Caller{ActorID: "u2", Role: authz.RoleExecutive}
	assert.True(t, global.CanSeePartner("ADVANS"))
}
