package authz

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/errs"
	"github.com/envhub/envhub/fga"
)

// ============================================================================
// Fakes
// ============================================================================

// fakeTupleStore keeps tuples in memory and records every call.
type fakeTupleStore struct {
	tuples map[fga.Tuple]bool

	writeCalls  [][]fga.Tuple
	deleteCalls [][]fga.Tuple
	readCalls   int

	writeErr  error
	deleteErr error
	readErr   error
}

func newFakeTupleStore() *fakeTupleStore {
	return &fakeTupleStore{tuples: make(map[fga.Tuple]bool)}
}

func (f *fakeTupleStore) Check(ctx context.Context, user, relation, object string) (bool, error) {
	return f.tuples[fga.Tuple{User: user, Relation: relation, Object: object}], nil
}

func (f *fakeTupleStore) BatchCheck(ctx context.Context, user string, items []fga.CheckItem) (map[string]bool, error) {
	results := make(map[string]bool, len(items))
	for _, item := range items {
		allowed, _ := f.Check(ctx, user, item.Relation, item.Object)
		results[item.Relation+":"+item.Object] = allowed
	}
	return results, nil
}

func (f *fakeTupleStore) WriteTuples(ctx context.Context, tuples []fga.Tuple) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writeCalls = append(f.writeCalls, tuples)
	for _, t := range tuples {
		f.tuples[t] = true
	}
	return nil
}

func (f *fakeTupleStore) DeleteTuples(ctx context.Context, tuples []fga.Tuple) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleteCalls = append(f.deleteCalls, tuples)
	for _, t := range tuples {
		delete(f.tuples, t)
	}
	return nil
}

func (f *fakeTupleStore) WriteTx(ctx context.Context, writes, deletes []fga.Tuple) error {
	if err := f.DeleteTuples(ctx, deletes); err != nil {
		return err
	}
	return f.WriteTuples(ctx, writes)
}

func (f *fakeTupleStore) ReadTuples(ctx context.Context, partial fga.Tuple) ([]fga.Tuple, error) {
	f.readCalls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	var matched []fga.Tuple
	for t := range f.tuples {
		if partial.User != "" && t.User != partial.User {
			continue
		}
		if partial.Relation != "" && t.Relation != partial.Relation {
			continue
		}
		if partial.Object != "" && t.Object != partial.Object {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Relation != matched[j].Relation {
			return matched[i].Relation < matched[j].Relation
		}
		return matched[i].User < matched[j].User
	})
	return matched, nil
}

func (f *fakeTupleStore) ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error) {
	var objects []string
	prefix := objectType + ":"
	for t := range f.tuples {
		if t.User == user && t.Relation == relation && len(t.Object) > len(prefix) && t.Object[:len(prefix)] == prefix {
			objects = append(objects, t.Object)
		}
	}
	sort.Strings(objects)
	return objects, nil
}

func (f *fakeTupleStore) tupleSet() map[fga.Tuple]bool {
	out := make(map[fga.Tuple]bool, len(f.tuples))
	for t := range f.tuples {
		out[t] = true
	}
	return out
}

// fakeMemberRepo serves a fixed member list.
type fakeMemberRepo struct {
	userIDs []string
	err     error
}

func (f *fakeMemberRepo) ListUserIDsWithRole(ctx context.Context, orgID, roleID string) ([]string, error) {
	return f.userIDs, f.err
}

// ============================================================================
// Tuple derivation
// ============================================================================

// roleFromMask builds a role with flags set from a bitmask, in the order of
// the flag table.
func roleFromMask(mask int) db.Role {
	return db.Role{
		ID:                 "role-1",
		OrgID:              "org-1",
		IsMaster:           mask&(1<<0) != 0,
		IsAdmin:            mask&(1<<1) != 0,
		CanView:            mask&(1<<2) != 0,
		CanEdit:            mask&(1<<3) != 0,
		HaveAPIAccess:      mask&(1<<4) != 0,
		HaveBillingOptions: mask&(1<<5) != 0,
		HaveWebhookAccess:  mask&(1<<6) != 0,
		HaveGpgAccess:      mask&(1<<7) != 0,
		HaveCertAccess:     mask&(1<<8) != 0,
		HaveAuditAccess:    mask&(1<<9) != 0,
	}
}

func TestRoleTuplesEveryFlagCombination(t *testing.T) {
	for mask := 0; mask < 1<<10; mask++ {
		role := roleFromMask(mask)
		tuples := RoleTuples("u1", "org-1", role)

		got := make(map[string]bool, len(tuples))
		for _, tp := range tuples {
			assert.Equal(t, "user:u1", tp.User)
			assert.Equal(t, "org:org-1", tp.Object)
			got[tp.Relation] = true
		}

		// member is always present; every other relation iff its flag is true.
		want := map[string]bool{RelationMember: true}
		for _, fr := range roleFlagRelations {
			if fr.enabled(role) {
				want[fr.relation] = true
			}
		}
		require.Equal(t, want, got, "mask %b", mask)
	}
}

func TestRoleTuplesMemberOnlyRole(t *testing.T) {
	tuples := RoleTuples("u1", "org-1", db.Role{})
	require.Len(t, tuples, 1)
	assert.Equal(t, fga.Tuple{User: "user:u1", Relation: RelationMember, Object: "org:org-1"}, tuples[0])
}

// ============================================================================
// Assign / remove / resync
// ============================================================================

func editorRole() db.Role {
	return db.Role{ID: "role-editor", OrgID: "org-1", Name: "editor", CanView: true, CanEdit: true, HaveAPIAccess: true}
}

func TestAssignRoleToUserWritesDerivedSet(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})

	require.NoError(t, svc.AssignRoleToUser(context.Background(), "u1", "org-1", editorRole()))

	assert.True(t, store.tuples[fga.Tuple{User: "user:u1", Relation: RelationMember, Object: "org:org-1"}])
	assert.True(t, store.tuples[fga.Tuple{User: "user:u1", Relation: RelationCanView, Object: "org:org-1"}])
	assert.True(t, store.tuples[fga.Tuple{User: "user:u1", Relation: RelationCanEdit, Object: "org:org-1"}])
	assert.True(t, store.tuples[fga.Tuple{User: "user:u1", Relation: RelationHaveAPIAccess, Object: "org:org-1"}])
	assert.Len(t, store.tuples, 4)
}

func TestRemoveUserOrgPermissionsDeletesExactReadSet(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})
	ctx := context.Background()

	require.NoError(t, svc.AssignRoleToUser(ctx, "u1", "org-1", editorRole()))
	// Tuples of another user and another org must survive.
	require.NoError(t, svc.AssignRoleToUser(ctx, "u2", "org-1", editorRole()))
	require.NoError(t, svc.AssignRoleToUser(ctx, "u1", "org-2", editorRole()))

	require.NoError(t, svc.RemoveUserOrgPermissions(ctx, "u1", "org-1"))

	for tp := range store.tuples {
		assert.False(t, tp.User == "user:u1" && tp.Object == "org:org-1", "leftover tuple %+v", tp)
	}
	assert.True(t, store.tuples[fga.Tuple{User: "user:u2", Relation: RelationMember, Object: "org:org-1"}])
	assert.True(t, store.tuples[fga.Tuple{User: "user:u1", Relation: RelationMember, Object: "org:org-2"}])
}

func TestRemoveUserOrgPermissionsNoTuplesNoDelete(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})

	require.NoError(t, svc.RemoveUserOrgPermissions(context.Background(), "ghost", "org-1"))
	assert.Empty(t, store.deleteCalls)
}

func TestResyncUserRoleIsIdempotent(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})
	ctx := context.Background()

	role := editorRole()
	require.NoError(t, svc.ResyncUserRole(ctx, "u1", "org-1", role))
	after1 := store.tupleSet()

	require.NoError(t, svc.ResyncUserRole(ctx, "u1", "org-1", role))
	after2 := store.tupleSet()

	assert.Equal(t, after1, after2)
}

func TestResyncUserRoleReplacesOldFlags(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})
	ctx := context.Background()

	require.NoError(t, svc.AssignRoleToUser(ctx, "u1", "org-1", editorRole()))

	viewer := db.Role{ID: "role-viewer", OrgID: "org-1", CanView: true}
	require.NoError(t, svc.ResyncUserRole(ctx, "u1", "org-1", viewer))

	assert.Equal(t, map[fga.Tuple]bool{
		{User: "user:u1", Relation: RelationMember, Object: "org:org-1"}:  true,
		{User: "user:u1", Relation: RelationCanView, Object: "org:org-1"}: true,
	}, store.tupleSet())
}

func TestResyncUserRoleFailsClosedWhenAssignFails(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})
	ctx := context.Background()

	require.NoError(t, svc.AssignRoleToUser(ctx, "u1", "org-1", editorRole()))

	boom := errors.New("tuple store write failed")
	store.writeErr = boom
	err := svc.ResyncUserRole(ctx, "u1", "org-1", editorRole())

	require.ErrorIs(t, err, boom)
	// The delete already ran: the user holds zero org permissions, never a
	// partially wrong set.
	for tp := range store.tuples {
		assert.NotEqual(t, "user:u1", tp.User)
	}
}

func TestResyncAllUsersWithRoleSequential(t *testing.T) {
	store := newFakeTupleStore()
	repo := &fakeMemberRepo{userIDs: []string{"u1", "u2", "u3"}}
	svc := NewService(store, repo)
	ctx := context.Background()

	role := editorRole()
	for _, u := range repo.userIDs {
		require.NoError(t, svc.AssignRoleToUser(ctx, u, "org-1", role))
	}
	store.writeCalls = nil

	require.NoError(t, svc.ResyncAllUsersWithRole(ctx, "org-1", role))

	// One write per user, in member-list order.
	require.Len(t, store.writeCalls, 3)
	assert.Equal(t, "user:u1", store.writeCalls[0][0].User)
	assert.Equal(t, "user:u2", store.writeCalls[1][0].User)
	assert.Equal(t, "user:u3", store.writeCalls[2][0].User)
}

func TestResyncAllUsersWithRoleStopsOnFirstFailure(t *testing.T) {
	store := newFakeTupleStore()
	repo := &fakeMemberRepo{userIDs: []string{"u1", "u2"}}
	svc := NewService(store, repo)

	boom := errors.New("read failed")
	store.readErr = boom

	err := svc.ResyncAllUsersWithRole(context.Background(), "org-1", editorRole())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.readCalls)
}

// ============================================================================
// Snapshot
// ============================================================================

func TestGetUserOrgPermissionsSnapshot(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})
	ctx := context.Background()

	require.NoError(t, svc.AssignRoleToUser(ctx, "u1", "org-1", editorRole()))

	snap, err := svc.GetUserOrgPermissions(ctx, "u1", "org-1")
	require.NoError(t, err)

	assert.True(t, snap.Member)
	assert.True(t, snap.CanView)
	assert.True(t, snap.CanEdit)
	assert.True(t, snap.HaveAPIAccess)
	assert.False(t, snap.Admin)
	assert.False(t, snap.Master)
	assert.False(t, snap.HaveBillingOptions)
	assert.False(t, snap.CanManageRoles)
}

// ============================================================================
// Structural tuples and grants
// ============================================================================

func TestWriteAppOrgRelation(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})

	require.NoError(t, svc.WriteAppOrgRelation(context.Background(), "app-1", "org-1"))
	assert.True(t, store.tuples[fga.Tuple{User: "org:org-1", Relation: RelationOrg, Object: "app:app-1"}])
}

func TestWriteEnvTypeRelations(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})

	require.NoError(t, svc.WriteEnvTypeRelations(context.Background(), "env-1", "app-1", "org-1"))
	assert.True(t, store.tuples[fga.Tuple{User: "app:app-1", Relation: RelationApp, Object: "env_type:env-1"}])
	assert.True(t, store.tuples[fga.Tuple{User: "org:org-1", Relation: RelationOrg, Object: "env_type:env-1"}])
}

func TestWriteGpgKeyRelations(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})

	require.NoError(t, svc.WriteGpgKeyRelations(context.Background(), "key-1", "org-1", "u1"))
	assert.True(t, store.tuples[fga.Tuple{User: "org:org-1", Relation: RelationOrg, Object: "gpg_key:key-1"}])
	assert.True(t, store.tuples[fga.Tuple{User: "user:u1", Relation: RelationOwner, Object: "gpg_key:key-1"}])
}

func TestDeleteResourceTuplesRemovesAllSubjects(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})
	ctx := context.Background()

	require.NoError(t, svc.WriteAppOrgRelation(ctx, "app-1", "org-1"))
	require.NoError(t, svc.GrantAppAccess(ctx, UserRef("u1"), "app-1"))
	require.NoError(t, svc.GrantAppAccess(ctx, TeamMembersRef("team-1"), "app-1"))
	// A tuple on another app must survive.
	require.NoError(t, svc.WriteAppOrgRelation(ctx, "app-2", "org-1"))

	require.NoError(t, svc.DeleteResourceTuples(ctx, TypeApp, "app-1"))

	for tp := range store.tuples {
		assert.NotEqual(t, "app:app-1", tp.Object)
	}
	assert.True(t, store.tuples[fga.Tuple{User: "org:org-1", Relation: RelationOrg, Object: "app:app-2"}])
}

func TestGrantAndRevokeAppAccess(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})
	ctx := context.Background()

	grant := fga.Tuple{User: "team:team-1#member", Relation: RelationCanAccess, Object: "app:app-1"}

	require.NoError(t, svc.GrantAppAccess(ctx, TeamMembersRef("team-1"), "app-1"))
	assert.True(t, store.tuples[grant])

	require.NoError(t, svc.RevokeAppAccess(ctx, TeamMembersRef("team-1"), "app-1"))
	assert.False(t, store.tuples[grant])
}

func TestListAccessibleApps(t *testing.T) {
	store := newFakeTupleStore()
	svc := NewService(store, &fakeMemberRepo{})
	ctx := context.Background()

	require.NoError(t, svc.GrantAppAccess(ctx, UserRef("u1"), "app-2"))
	require.NoError(t, svc.GrantAppAccess(ctx, UserRef("u1"), "app-1"))

	apps, err := svc.ListAccessibleApps(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"app:app-1", "app:app-2"}, apps)
}

// ============================================================================
// Permission key mapping
// ============================================================================

func TestRelationForPermission(t *testing.T) {
	rel, err := RelationForPermission("can_edit")
	require.NoError(t, err)
	assert.Equal(t, RelationCanEdit, rel)

	_, err = RelationForPermission("can_fly")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestRoleFlagUnknownRelation(t *testing.T) {
	ok, err := RoleFlag(editorRole(), RelationCanEdit)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = RoleFlag(editorRole(), "does_not_exist")
	assert.True(t, errs.IsNotFound(err))

	// Computed relations have no backing flag.
	_, err = RoleFlag(editorRole(), RelationCanManageRoles)
	assert.True(t, errs.IsNotFound(err))
}
