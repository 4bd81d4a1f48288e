package router

import (
	"context"
	"database/sql"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/fga"
	"github.com/envhub/envhub/handlers"
	"github.com/envhub/envhub/services"
)

func NewGinRouter(pg *sql.DB, c *cache.Cache) *gin.Engine {
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Tuple-store client: lazy shared instance, bootstraps store and model on
	// first use when ids are not pinned.
	tupleStore, err := fga.Shared(context.Background())
	if err != nil {
		log.Fatalf("failed to initialize tuple store client: %v", err)
	}

	// Initialize services
	authzService := authz.NewService(tupleStore, authz.NewPGMemberRepository(pg))
	identityService, err := services.NewFirebaseIdentityService(context.Background())
	if err != nil {
		log.Fatalf("failed to initialize identity provider: %v", err)
	}

	orgService := services.NewOrgService(pg, c, authzService)
	userService := services.NewUserService(pg, c, authzService, identityService)
	roleService := services.NewRoleService(pg, c, authzService)
	appService := services.NewAppService(pg, c, authzService)
	envTypeService := services.NewEnvTypeService(pg, c, authzService)
	teamService := services.NewTeamService(pg, c, authzService)
	gpgKeyService := services.NewGpgKeyService(pg, c, authzService)
	certService := services.NewCertificateService(pg, c, authzService)

	// Initialize handlers
	orgHandler := handlers.NewOrgHandler(orgService, userService, authzService)
	userHandler := handlers.NewUserHandler(userService)
	roleHandler := handlers.NewRoleHandler(roleService)
	appHandler := handlers.NewAppHandler(appService, envTypeService)
	teamHandler := handlers.NewTeamHandler(teamService)
	keysHandler := handlers.NewKeysHandler(gpgKeyService, certService)

	// Initialize middleware
	authMiddleware := handlers.NewAuthMiddleware(authzService, c)

	// PUBLIC ENDPOINTS
	r.GET("/healthz", func(c *gin.Context) {
		if err := tupleStore.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// PROTECTED ENDPOINTS
	protected := r.Group("/")
	protected.Use(authMiddleware.RequireAuth())
	{
		// ORGANIZATION MANAGEMENT
		orgRoutes := protected.Group("/orgs")
		{
			orgRoutes.POST("", orgHandler.CreateOrg)
			orgRoutes.GET("", orgHandler.ListOrgs)

			orgDetail := orgRoutes.Group("/:org_id")
			orgDetail.Use(authMiddleware.RequirePermission(authz.RelationMember))
			{
				orgDetail.GET("", orgHandler.GetOrg)
				orgDetail.GET("/members", orgHandler.GetOrgMembers)
				orgDetail.GET("/permissions", orgHandler.GetMyPermissions)
				orgDetail.GET("/permissions/:key", orgHandler.CheckPermission)

				// Member lifecycle requires user management rights
				orgDetail.POST("/users",
					authMiddleware.RequirePermission(authz.RelationCanManageUsers),
					userHandler.CreateUser)
				orgDetail.DELETE("/members/:user_id",
					authMiddleware.RequirePermission(authz.RelationCanManageUsers),
					orgHandler.RemoveOrgMember)
				orgDetail.PUT("/members/:user_id/role",
					authMiddleware.RequirePermission(authz.RelationCanManageUsers),
					roleHandler.AssignRole)

				// ROLE TEMPLATES
				orgDetail.GET("/roles", roleHandler.ListRoles)
				orgDetail.GET("/roles/:role_id", roleHandler.GetRole)
				orgDetail.POST("/roles",
					authMiddleware.RequirePermission(authz.RelationCanManageRoles),
					roleHandler.CreateRole)
				orgDetail.PATCH("/roles/:role_id",
					authMiddleware.RequirePermission(authz.RelationCanManageRoles),
					roleHandler.UpdateRole)
				orgDetail.DELETE("/roles/:role_id",
					authMiddleware.RequirePermission(authz.RelationCanManageRoles),
					roleHandler.DeleteRole)

				// APPS AND ENVIRONMENT TYPES
				orgDetail.GET("/apps", appHandler.ListApps)
				orgDetail.GET("/apps/:app_id", appHandler.GetApp)
				orgDetail.GET("/apps/:app_id/env-types", appHandler.ListEnvTypes)
				appManage := authMiddleware.RequirePermission(authz.RelationCanManageApps)
				orgDetail.POST("/apps", appManage, appHandler.CreateApp)
				orgDetail.DELETE("/apps/:app_id", appManage, appHandler.DeleteApp)
				orgDetail.POST("/apps/:app_id/access", appManage, appHandler.GrantAppAccess)
				orgDetail.DELETE("/apps/:app_id/access", appManage, appHandler.RevokeAppAccess)
				orgDetail.POST("/apps/:app_id/env-types", appManage, appHandler.CreateEnvType)
				orgDetail.DELETE("/env-types/:env_type_id", appManage, appHandler.DeleteEnvType)
				orgDetail.POST("/env-types/:env_type_id/access", appManage, appHandler.GrantEnvTypeAccess)
				orgDetail.DELETE("/env-types/:env_type_id/access", appManage, appHandler.RevokeEnvTypeAccess)

				// TEAMS
				orgDetail.GET("/teams", teamHandler.ListTeams)
				orgDetail.GET("/teams/:team_id/members", teamHandler.ListMembers)
				teamManage := authMiddleware.RequirePermission(authz.RelationCanManageUsers)
				orgDetail.POST("/teams", teamManage, teamHandler.CreateTeam)
				orgDetail.DELETE("/teams/:team_id", teamManage, teamHandler.DeleteTeam)
				orgDetail.POST("/teams/:team_id/members", teamManage, teamHandler.AddMember)
				orgDetail.DELETE("/teams/:team_id/members/:user_id", teamManage, teamHandler.RemoveMember)

				// GPG KEYS
				gpgAccess := authMiddleware.RequirePermission(authz.RelationHaveGpgAccess)
				orgDetail.GET("/gpg-keys", gpgAccess, keysHandler.ListGpgKeys)
				orgDetail.POST("/gpg-keys", gpgAccess, keysHandler.CreateGpgKey)
				orgDetail.DELETE("/gpg-keys/:key_id", gpgAccess, keysHandler.DeleteGpgKey)
				orgDetail.POST("/gpg-keys/:key_id/access", gpgAccess, keysHandler.GrantGpgKeyAccess)
				orgDetail.DELETE("/gpg-keys/:key_id/access", gpgAccess, keysHandler.RevokeGpgKeyAccess)

				// CERTIFICATES
				certAccess := authMiddleware.RequirePermission(authz.RelationHaveCertAccess)
				orgDetail.GET("/certificates", certAccess, keysHandler.ListCertificates)
				orgDetail.POST("/certificates", certAccess, keysHandler.CreateCertificate)
				orgDetail.DELETE("/certificates/:cert_id", certAccess, keysHandler.DeleteCertificate)
				orgDetail.POST("/certificates/:cert_id/access", certAccess, keysHandler.GrantCertificateAccess)
				orgDetail.DELETE("/certificates/:cert_id/access", certAccess, keysHandler.RevokeCertificateAccess)
			}
		}

		// USER MANAGEMENT
		userRoutes := protected.Group("/users")
		{
			userRoutes.GET("/:id", userHandler.GetUser)
			userRoutes.DELETE("/:id", userHandler.DeleteUser)
		}

		// CROSS-ORG APP ACCESS
		protected.GET("/apps/accessible", appHandler.ListAccessibleApps)
	}

	return r
}
