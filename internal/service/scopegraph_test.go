package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ferrite-id/ferrite/internal/errors"

	"github.com/ferrite-id/ferrite/internal/domain/model"
	authmocks "github.com/ferrite-id/ferrite/internal/mocks/auth"
)

// graphFixture builds a scope/group forest for tests.
type graphFixture struct {
	scopes *authmocks.MemScopeRepo
	groups *authmocks.MemGroupRepo
	svc    *ScopeGraphService
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	scopes := authmocks.NewMemScopeRepo()
	groups := authmocks.NewMemGroupRepo(scopes)
	svc, err := NewScopeGraphService(ScopeGraphOptions{Groups: groups})
	require.NoError(t, err)
	return &graphFixture{scopes: scopes, groups: groups, svc: svc}
}

func (f *graphFixture) group(t *testing.T, name string, parentID *string) *model.Group {
	t.Helper()
	g, err := f.groups.Create(context.Background(), model.CreateGroupRequest{Name: name, ParentID: parentID})
	require.NoError(t, err)
	return g
}

func (f *graphFixture) grant(t *testing.T, groupID, scopeName string) {
	t.Helper()
	ctx := context.Background()
	scope, err := f.scopes.GetByName(ctx, scopeName)
	if err != nil {
		scope, err = f.scopes.Create(ctx, scopeName, "", nil)
		require.NoError(t, err)
	}
	require.NoError(t, f.groups.AddScope(ctx, groupID, scope.ID))
}

func TestNewScopeGraphService_RequiredDependency(t *testing.T) {
	t.Parallel()

	svc, err := NewScopeGraphService(ScopeGraphOptions{})
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "GroupRepository is required")
}

func TestScopeGraph_IndirectIncludesAncestors(t *testing.T) {
	t.Parallel()
	f := newGraphFixture(t)
	ctx := context.Background()

	root := f.group(t, "root", nil)
	mid := f.group(t, "mid", &root.ID)
	leaf := f.group(t, "leaf", &mid.ID)

	f.grant(t, root.ID, "auth.user.read")
	f.grant(t, mid.ID, "reports.run")
	f.grant(t, leaf.ID, "reports.export")

	direct, err := f.svc.DirectScopes(ctx, leaf.ID)
	require.NoError(t, err)
	indirect, err := f.svc.IndirectScopes(ctx, leaf.ID)
	require.NoError(t, err)

	// Indirect is always a superset of direct.
	assert.True(t, direct.SubsetOf(indirect))
	assert.ElementsMatch(t, []string{"auth.user.read", "reports.run", "reports.export"}, indirect.Names())

	// Granting another scope to an ancestor only ever grows the set.
	before := len(indirect)
	f.grant(t, root.ID, "billing.read")
	after, err := f.svc.IndirectScopes(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Greater(t, len(after), before)
	assert.True(t, indirect.SubsetOf(after))
}

func TestScopeGraph_EffectiveUserScopesUnionsGroups(t *testing.T) {
	t.Parallel()
	f := newGraphFixture(t)
	ctx := context.Background()

	root := f.group(t, "root", nil)
	sales := f.group(t, "sales", &root.ID)
	ops := f.group(t, "ops", &root.ID)

	f.grant(t, root.ID, "auth.session.update")
	f.grant(t, sales.ID, "crm.read")
	f.grant(t, ops.ID, "infra.deploy")

	require.NoError(t, f.groups.AddMember(ctx, sales.ID, "user-1"))
	require.NoError(t, f.groups.AddMember(ctx, ops.ID, "user-1"))

	effective, err := f.svc.EffectiveUserScopes(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"auth.session.update", "crm.read", "infra.deploy"},
		effective.Names())

	// A user with no memberships holds nothing.
	none, err := f.svc.EffectiveUserScopes(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScopeGraph_ReparentRejectsCycles(t *testing.T) {
	t.Parallel()
	f := newGraphFixture(t)
	ctx := context.Background()

	root := f.group(t, "root", nil)
	mid := f.group(t, "mid", &root.ID)
	leaf := f.group(t, "leaf", &mid.ID)

	cases := []struct {
		name    string
		groupID string
		parent  string
	}{
		{name: "own parent", groupID: root.ID, parent: root.ID},
		{name: "direct child", groupID: mid.ID, parent: leaf.ID},
		{name: "grandchild", groupID: root.ID, parent: leaf.ID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.svc.Reparent(ctx, tc.groupID, &tc.parent)
			require.Error(t, err)
			assert.True(t, apperrors.IsStructuralViolation(err))
		})
	}

	// The graph is unchanged after every rejected move.
	g, err := f.groups.GetByID(ctx, mid.ID)
	require.NoError(t, err)
	require.NotNil(t, g.ParentID)
	assert.Equal(t, root.ID, *g.ParentID)

	g, err = f.groups.GetByID(ctx, root.ID)
	require.NoError(t, err)
	assert.Nil(t, g.ParentID)
}

func TestScopeGraph_ReparentAllowsLegalMoves(t *testing.T) {
	t.Parallel()
	f := newGraphFixture(t)
	ctx := context.Background()

	root := f.group(t, "root", nil)
	a := f.group(t, "a", &root.ID)
	b := f.group(t, "b", &root.ID)

	require.NoError(t, f.svc.Reparent(ctx, b.ID, &a.ID))
	g, err := f.groups.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, g.ParentID)
	assert.Equal(t, a.ID, *g.ParentID)

	// Detaching to a root is always legal.
	require.NoError(t, f.svc.Reparent(ctx, b.ID, nil))
	g, err = f.groups.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, g.ParentID)
}

func TestScopeGraph_DeleteGroupSplicesChildren(t *testing.T) {
	t.Parallel()
	f := newGraphFixture(t)
	ctx := context.Background()

	root := f.group(t, "root", nil)
	mid := f.group(t, "mid", &root.ID)
	leaf := f.group(t, "leaf", &mid.ID)

	f.grant(t, root.ID, "auth.user.read")
	f.grant(t, mid.ID, "reports.run")
	f.grant(t, leaf.ID, "reports.export")

	require.NoError(t, f.svc.DeleteGroup(ctx, mid.ID))

	// The child now hangs off the deleted group's former parent and loses
	// only the deleted group's direct scopes.
	g, err := f.groups.GetByID(ctx, leaf.ID)
	require.NoError(t, err)
	require.NotNil(t, g.ParentID)
	assert.Equal(t, root.ID, *g.ParentID)

	indirect, err := f.svc.IndirectScopes(ctx, leaf.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"auth.user.read", "reports.export"}, indirect.Names())

	err = f.svc.DeleteGroup(ctx, mid.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestScopeGraph_DeepHierarchyAccumulation(t *testing.T) {
	t.Parallel()
	f := newGraphFixture(t)
	ctx := context.Background()

	// Mirrors a realistic org tree: company -> engineering -> platform,
	// with a user in the deepest group seeing every level's grants.
	company := f.group(t, "company", nil)
	eng := f.group(t, "engineering", &company.ID)
	platform := f.group(t, "platform", &eng.ID)

	f.grant(t, company.ID, "auth.session.update")
	f.grant(t, eng.ID, "code.read")
	f.grant(t, platform.ID, "infra.deploy")

	require.NoError(t, f.groups.AddMember(ctx, platform.ID, "dev-1"))

	effective, err := f.svc.EffectiveUserScopes(ctx, "dev-1")
	require.NoError(t, err)
	for _, want := range []string{"auth.session.update", "code.read", "infra.deploy"} {
		assert.True(t, effective.Contains(want), "missing %s", want)
	}
}
