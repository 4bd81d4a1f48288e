package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/errs"
)

func createUserReq() db.CreateUserRequest {
	return db.CreateUserRequest{
		Email:    "dev@example.com",
		Name:     "Dev",
		Password: "correct-horse",
		OrgID:    "org-1",
		RoleID:   "role-1",
	}
}

func TestCreateUserProvisionsEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	role := testRole("role-1", "org-1", false)

	env.pg.ExpectQuery(`SELECT (.+) FROM roles`).WillReturnRows(roleRows(role))
	env.pg.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(1, 1))
	env.pg.ExpectExec(`INSERT INTO org_members`).WillReturnResult(sqlmock.NewResult(1, 1))

	user, err := env.svc.users.CreateUser(ctx, createUserReq())
	require.NoError(t, err)
	assert.Equal(t, "idp-dev@example.com", user.ProviderID)
	assert.Equal(t, []string{"dev@example.com"}, env.identity.created)

	// member tuple plus the role's single enabled flag
	member, err := env.store.Check(ctx, authz.UserRef(user.ID), authz.RelationMember, authz.OrgRef("org-1"))
	require.NoError(t, err)
	assert.True(t, member)
	canView, err := env.store.Check(ctx, authz.UserRef(user.ID), authz.RelationCanView, authz.OrgRef("org-1"))
	require.NoError(t, err)
	assert.True(t, canView)

	require.NoError(t, env.pg.ExpectationsWereMet())
}

func TestCreateUserRejectsRoleFromAnotherOrg(t *testing.T) {
	env := newTestEnv(t)
	role := testRole("role-1", "other-org", false)
	env.pg.ExpectQuery(`SELECT (.+) FROM roles`).WillReturnRows(roleRows(role))

	_, err := env.svc.users.CreateUser(context.Background(), createUserReq())
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, env.identity.created, "no idp account before validation passes")
}

func TestCreateUserRowInsertFailureLeavesIdpAccountBehind(t *testing.T) {
	env := newTestEnv(t)
	role := testRole("role-1", "org-1", false)

	env.pg.ExpectQuery(`SELECT (.+) FROM roles`).WillReturnRows(roleRows(role))
	env.pg.ExpectExec(`INSERT INTO users`).WillReturnError(errors.New("users_pkey violation"))

	_, err := env.svc.users.CreateUser(context.Background(), createUserReq())
	require.Error(t, err)

	// The identity-provider step has no compensation: the account created
	// before the failure is not cleaned up.
	assert.Equal(t, []string{"dev@example.com"}, env.identity.created)
	assert.Empty(t, env.identity.deleted)
	require.NoError(t, env.pg.ExpectationsWereMet())
}

func TestCreateUserTupleSyncFailureUnwindsRows(t *testing.T) {
	env := newTestEnv(t)
	role := testRole("role-1", "org-1", false)
	boom := errors.New("tuple store unavailable")
	env.store.writeErr = boom

	env.pg.ExpectQuery(`SELECT (.+) FROM roles`).WillReturnRows(roleRows(role))
	env.pg.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(1, 1))
	env.pg.ExpectExec(`INSERT INTO org_members`).WillReturnResult(sqlmock.NewResult(1, 1))
	// compensations, reverse order
	env.pg.ExpectExec(`DELETE FROM org_members`).WillReturnResult(sqlmock.NewResult(0, 1))
	env.pg.ExpectExec(`DELETE FROM users`).WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := env.svc.users.CreateUser(context.Background(), createUserReq())
	require.ErrorIs(t, err, boom)
	require.NoError(t, env.pg.ExpectationsWereMet())
}

func TestRemoveUserFromOrgDeletesTuplesAndCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := testRole("role-1", "org-1", false)
	require.NoError(t, env.authz.AssignRoleToUser(ctx, "user-1", "org-1", role))
	require.NoError(t, env.mr.Set(cache.KeyUserOrgPermissions("user-1", "org-1"), `stale`))

	env.pg.ExpectQuery(`SELECT (.+) FROM org_members`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "role_id"}).AddRow("member-1", "role-1"))
	env.pg.ExpectExec(`DELETE FROM org_members`).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, env.svc.users.RemoveUserFromOrg(ctx, "user-1", "org-1"))

	member, err := env.store.Check(ctx, authz.UserRef("user-1"), authz.RelationMember, authz.OrgRef("org-1"))
	require.NoError(t, err)
	assert.False(t, member, "org tuples should be gone")
	assert.False(t, env.mr.Exists(cache.KeyUserOrgPermissions("user-1", "org-1")))
	require.NoError(t, env.pg.ExpectationsWereMet())
}
