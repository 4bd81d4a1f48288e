package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/internal/config"
)

// AuthMiddleware validates bearer tokens and loads per-org permission
// snapshots for downstream handlers.
type AuthMiddleware struct {
	Authz *authz.Service
	Cache *cache.Cache
}

func NewAuthMiddleware(az *authz.Service, c *cache.Cache) *AuthMiddleware {
	return &AuthMiddleware{Authz: az, Cache: c}
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// RequireAuth validates the HS256 bearer token and puts user_id and
// user_email on the request context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			c.Abort()
			return
		}
		raw, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be a bearer token"})
			c.Abort()
			return
		}

		claims := &tokenClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(config.App.JWTSecret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.Subject)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}

// RequirePermission gates a route group on one org-level permission. The org
// id comes from the :org_id route param; the snapshot is served through the
// cache so repeated requests within the TTL cost no tuple-store round-trips.
func (m *AuthMiddleware) RequirePermission(relation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		orgID := c.Param("org_id")
		if userID == "" || orgID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		snapshot, err := cache.GetOrLoad(c.Request.Context(), m.Cache,
			cache.KeyUserOrgPermissions(userID, orgID), cache.TTLShort(),
			func(ctx context.Context) (authz.PermissionSnapshot, error) {
				return m.Authz.GetUserOrgPermissions(ctx, userID, orgID)
			})
		if err != nil {
			log.Printf("middleware: permission snapshot for %s on %s failed: %v", userID, orgID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve permissions"})
			c.Abort()
			return
		}

		allowed, err := snapshot.Allowed(relation)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		if !allowed {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}

		c.Set("permissions", snapshot)
		c.Next()
	}
}
