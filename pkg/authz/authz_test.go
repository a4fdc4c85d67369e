package authz_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/agritrace/pkg/actors"
	"github.com/verdantlabs/agritrace/pkg/authz"
)

func TestCanRecordHarvest(t *testing.T) {
	assert.True(t, authz.CanRecordHarvest(authz.RoleFarmer))
	assert.True(t, authz.CanRecordHarvest(authz.RoleSystem))
	assert.False(t, authz.CanRecordHarvest("Inspector"))
	assert.False(t, authz.CanRecordHarvest(""))
}

func TestStaticRoles(t *testing.T) {
	roles := authz.StaticRoles{"u1": authz.RoleFarmer}
	role, err := roles.Role(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleFarmer, role)

	role, err = roles.Role(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, role)
}

func TestDirectoryRoles(t *testing.T) {
	dir := actors.StaticDirectory{
		"u1": {Name: "Amina Osei", Role: authz.RoleFarmer},
	}
	checker := authz.NewDirectoryRoles(dir)

	role, err := checker.Role(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleFarmer, role)

	role, err = checker.Role(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, role, "unknown caller resolves to no role, not an error")

	role, err = checker.Role(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, role)
}

type downDirectory struct{}

func (downDirectory) Lookup(context.Context, []string) (map[string]actors.Actor, error) {
	return nil, fmt.Errorf("directory down")
}

func TestDirectoryRolesPropagatesLookupError(t *testing.T) {
	checker := authz.NewDirectoryRoles(downDirectory{})
	_, err := checker.Role(context.Background(), "u1")
	assert.Error(t, err)
}
