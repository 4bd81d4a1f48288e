package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/errs"
	"github.com/envhub/envhub/fga"
)

func TestCreateAppWritesRowTupleAndInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.pg.ExpectExec(`INSERT INTO apps`).WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, env.mr.Set(cache.KeyAppsByOrg("org-1"), `stale`))

	app, err := env.svc.apps.CreateApp(ctx, "org-1", "user-1", db.CreateAppRequest{Name: "billing-api"})
	require.NoError(t, err)
	assert.Equal(t, "org-1", app.OrgID)
	assert.True(t, app.IsActive)

	allowed, err := env.store.Check(ctx, authz.OrgRef("org-1"), authz.RelationOrg, authz.AppRef(app.ID))
	require.NoError(t, err)
	assert.True(t, allowed, "app should be linked to its org in the tuple store")

	assert.False(t, env.mr.Exists(cache.KeyAppsByOrg("org-1")), "org app list should be invalidated")
	require.NoError(t, env.pg.ExpectationsWereMet())
}

func TestCreateAppTupleWriteFailureRollsBackRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	boom := errors.New("tuple store unavailable")
	env.store.writeErr = boom

	env.pg.ExpectExec(`INSERT INTO apps`).WillReturnResult(sqlmock.NewResult(1, 1))
	env.pg.ExpectExec(`DELETE FROM apps`).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, env.mr.Set(cache.KeyAppsByOrg("org-1"), `stale`))

	_, err := env.svc.apps.CreateApp(ctx, "org-1", "user-1", db.CreateAppRequest{Name: "billing-api"})
	require.ErrorIs(t, err, boom, "the original tuple-store error must surface unchanged")

	// The cache step never ran, so the stale entry stays; a later write owns it.
	assert.True(t, env.mr.Exists(cache.KeyAppsByOrg("org-1")))
	require.NoError(t, env.pg.ExpectationsWereMet())
}

func TestGrantAccessRequiresExactlyOneSubject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.svc.apps.GrantAccess(ctx, "app-1", db.GrantAccessRequest{})
	assert.True(t, errs.IsValidation(err))

	err = env.svc.apps.GrantAccess(ctx, "app-1", db.GrantAccessRequest{UserID: "u1", TeamID: "t1"})
	assert.True(t, errs.IsValidation(err))

	assert.Empty(t, env.store.writeCalls)
}

func TestGrantAccessTeamSubjectUsesMemberSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	now := time.Now()
	env.pg.ExpectQuery(`SELECT (.+) FROM apps`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "org_id", "name", "description", "is_active", "created_at", "updated_at", "created_by"}).
			AddRow("app-1", "org-1", "billing-api", "", true, now, now, ""))

	require.NoError(t, env.svc.apps.GrantAccess(ctx, "app-1", db.GrantAccessRequest{TeamID: "team-9"}))

	require.Len(t, env.store.writeCalls, 1)
	assert.Equal(t, []fga.Tuple{
		{User: "team:team-9#member", Relation: authz.RelationCanAccess, Object: "app:app-1"},
	}, env.store.writeCalls[0])
}
