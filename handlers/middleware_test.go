package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/fga"
	"github.com/envhub/envhub/internal/config"
)

type staticTupleStore struct {
	tuples map[fga.Tuple]bool
}

func (s *staticTupleStore) Check(ctx context.Context, user, relation, object string) (bool, error) {
	return s.tuples[fga.Tuple{User: user, Relation: relation, Object: object}], nil
}

func (s *staticTupleStore) BatchCheck(ctx context.Context, user string, items []fga.CheckItem) (map[string]bool, error) {
	results := make(map[string]bool, len(items))
	for _, item := range items {
		allowed, _ := s.Check(ctx, user, item.Relation, item.Object)
		results[item.Relation+":"+item.Object] = allowed
	}
	return results, nil
}

func (s *staticTupleStore) WriteTuples(ctx context.Context, tuples []fga.Tuple) error  { return nil }
func (s *staticTupleStore) DeleteTuples(ctx context.Context, tuples []fga.Tuple) error { return nil }
func (s *staticTupleStore) WriteTx(ctx context.Context, writes, deletes []fga.Tuple) error {
	return nil
}
func (s *staticTupleStore) ReadTuples(ctx context.Context, partial fga.Tuple) ([]fga.Tuple, error) {
	return nil, nil
}
func (s *staticTupleStore) ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error) {
	return nil, nil
}

type nopMemberRepo struct{}

func (nopMemberRepo) ListUserIDsWithRole(ctx context.Context, orgID, roleID string) ([]string, error) {
	return nil, nil
}

func signToken(t *testing.T, secret, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email: userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func newTestRouter(t *testing.T, store *staticTupleStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.App.JWTSecret = "test-secret"

	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })

	az := authz.NewService(store, nopMemberRepo{})
	m := NewAuthMiddleware(az, c)

	r := gin.New()
	r.GET("/orgs/:org_id/apps",
		m.RequireAuth(),
		m.RequirePermission(authz.RelationCanView),
		func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r
}

func doRequest(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/orgs/org-1/apps", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuthRejectsMissingAndBadTokens(t *testing.T) {
	r := newTestRouter(t, &staticTupleStore{})

	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, "not-a-jwt").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, signToken(t, "wrong-secret", "user-1")).Code)
}

func TestRequirePermissionForbidsWithoutRelation(t *testing.T) {
	store := &staticTupleStore{tuples: map[fga.Tuple]bool{
		{User: authz.UserRef("user-1"), Relation: authz.RelationMember, Object: authz.OrgRef("org-1")}: true,
	}}
	r := newTestRouter(t, store)

	w := doRequest(r, signToken(t, "test-secret", "user-1"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequirePermissionAllowsWithRelation(t *testing.T) {
	store := &staticTupleStore{tuples: map[fga.Tuple]bool{
		{User: authz.UserRef("user-1"), Relation: authz.RelationMember, Object: authz.OrgRef("org-1")}:  true,
		{User: authz.UserRef("user-1"), Relation: authz.RelationCanView, Object: authz.OrgRef("org-1")}: true,
	}}
	r := newTestRouter(t, store)

	w := doRequest(r, signToken(t, "test-secret", "user-1"))
	assert.Equal(t, http.StatusOK, w.Code)
}
