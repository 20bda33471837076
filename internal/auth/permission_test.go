package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllows_AdminBypassesGrants(t *testing.T) {
	admin := &Account{Role: RoleAdmin}

	for _, resource := range Resources {
		for _, action := range Actions {
			assert.True(t, Allows(admin, resource, action), "%s:%s", resource, action)
		}
	}
}

func TestAllows_NoRoleDefaults(t *testing.T) {
	for _, role := range []Role{RoleEditor, RoleAuthor, RoleViewer} {
		account := &Account{Role: role}
		for _, resource := range Resources {
			for _, action := range Actions {
				assert.False(t, Allows(account, resource, action), "%s %s:%s", role, resource, action)
			}
		}
	}
}

func TestAllows_GrantFlipsOnlyThatPair(t *testing.T) {
	viewer := &Account{Role: RoleViewer}
	assert.False(t, Allows(viewer, ResourceEvents, ActionCreate))

	viewer.Grants = []Grant{{Resource: ResourceEvents, Actions: []Action{ActionCreate}}}

	assert.True(t, Allows(viewer, ResourceEvents, ActionCreate))
	assert.False(t, Allows(viewer, ResourceEvents, ActionDelete))
	assert.False(t, Allows(viewer, ResourceArticles, ActionCreate))
}

func TestAllows_NilAccount(t *testing.T) {
	assert.False(t, Allows(nil, ResourceEvents, ActionRead))
	assert.False(t, HasRole(nil, RoleAdmin))
}

func TestHasRole(t *testing.T) {
	editor := &Account{Role: RoleEditor}

	assert.True(t, HasRole(editor, RoleAdmin, RoleEditor))
	assert.False(t, HasRole(editor, RoleAdmin))
	assert.False(t, HasRole(editor))
}

func TestNormalizeGrants(t *testing.T) {
	got := normalizeGrants([]Grant{
		{Resource: ResourceEvents, Actions: []Action{ActionRead, ActionCreate}},
		{Resource: ResourceBanners, Actions: []Action{}},
		{Resource: ResourceEvents, Actions: []Action{ActionCreate, ActionDelete}},
	})

	assert.Equal(t, []Grant{
		{Resource: ResourceEvents, Actions: []Action{ActionRead, ActionCreate, ActionDelete}},
	}, got)
	assert.Empty(t, normalizeGrants(nil))
}

func TestParseEnums(t *testing.T) {
	_, err := ParseResource("events")
	assert.NoError(t, err)
	_, err = ParseResource("comments")
	assert.Error(t, err)

	_, err = ParseAction("delete")
	assert.NoError(t, err)
	_, err = ParseAction("publish")
	assert.Error(t, err)

	_, err = ParseRole("author")
	assert.NoError(t, err)
	_, err = ParseRole("superuser")
	assert.Error(t, err)
}
