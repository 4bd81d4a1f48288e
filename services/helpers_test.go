package services

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/fga"
)

// fakeTupleStore keeps tuples in memory and records calls; errors injectable.
type fakeTupleStore struct {
	tuples map[fga.Tuple]bool

	writeCalls  [][]fga.Tuple
	deleteCalls [][]fga.Tuple

	writeErr  error
	deleteErr error
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

type fakeMemberRepo struct {
	userIDs map[string][]string // orgID+roleID -> user ids
}

func (f *fakeMemberRepo) ListUserIDsWithRole(ctx context.Context, orgID, roleID string) ([]string, error) {
	if f.userIDs == nil {
		return nil, nil
	}
	return f.userIDs[orgID+"/"+roleID], nil
}

// fakeIdentity records created and deleted accounts.
type fakeIdentity struct {
	created []string // emails
	deleted []string // uids

	createErr error
}

func (f *fakeIdentity) CreateIdpUser(ctx context.Context, email, name, password string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, email)
	return "idp-" + email, nil
}

func (f *fakeIdentity) DeleteIdpUser(ctx context.Context, uid string) error {
	f.deleted = append(f.deleted, uid)
	return nil
}

// testEnv assembles a service wiring around sqlmock, miniredis and the fake
// tuple store.
type testEnv struct {
	pg    sqlmock.Sqlmock
	mr    *miniredis.Miniredis
	cache *cache.Cache
	store *fakeTupleStore
	authz *authz.Service
	svc   struct {
		apps  *AppService
		roles *RoleService
		users *UserService
	}
	identity *fakeIdentity
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })

	store := newFakeTupleStore()
	az := authz.NewService(store, &fakeMemberRepo{})

	env := &testEnv{pg: mock, mr: mr, cache: c, store: store, authz: az, identity: &fakeIdentity{}}

	env.svc.apps = NewAppService(sqlDB, c, az)
	env.svc.roles = NewRoleService(sqlDB, c, az)
	env.svc.users = NewUserService(sqlDB, c, az, env.identity)
	return env
}

func roleRows(roles ...db.Role) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "org_id", "name", "color", "is_master", "is_admin",
		"can_view", "can_edit", "have_api_access", "have_billing_options", "have_webhook_access",
		"have_gpg_access", "have_cert_access", "have_audit_access", "created_at", "updated_at",
	})
	for _, r := range roles {
		rows.AddRow(r.ID, r.OrgID, r.Name, r.Color, r.IsMaster, r.IsAdmin,
			r.CanView, r.CanEdit, r.HaveAPIAccess, r.HaveBillingOptions, r.HaveWebhookAccess,
			r.HaveGpgAccess, r.HaveCertAccess, r.HaveAuditAccess, r.CreatedAt, r.UpdatedAt)
	}
	return rows
}

func testRole(id, orgID string, master bool) db.Role {
	return db.Role{
		ID:        id,
		OrgID:     orgID,
		Name:      "Developers",
		IsMaster:  master,
		CanView:   true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
