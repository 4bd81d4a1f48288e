package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/errs"
	"github.com/envhub/envhub/saga"
)

type AppService struct {
	PG    *sql.DB
	Cache *cache.Cache
	Authz *authz.Service
}

func NewAppService(pg *sql.DB, c *cache.Cache, az *authz.Service) *AppService {
	return &AppService{PG: pg, Cache: c, Authz: az}
}

// subjectFromGrant resolves a grant request to a tuple subject: a plain user
// ref, or the team's member-set so the grant follows team membership.
func subjectFromGrant(req db.GrantAccessRequest) (string, error) {
	switch {
	case req.UserID != "" && req.TeamID != "":
		return "", errs.Invalid("subject", "user_id and team_id are mutually exclusive")
	case req.UserID != "":
		return authz.UserRef(req.UserID), nil
	case req.TeamID != "":
		return authz.TeamMembersRef(req.TeamID), nil
	default:
		return "", errs.Invalid("subject", "one of user_id or team_id is required")
	}
}

// CreateApp inserts the app row, records its org parent in the tuple store,
// and invalidates the org's app list. Default env types are created separately
// by the caller so a tier failure never unwinds the app itself.
func (s *AppService) CreateApp(ctx context.Context, orgID, createdBy string, req db.CreateAppRequest) (db.App, error) {
	app := db.App{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		Name:        req.Name,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		CreatedBy:   createdBy,
	}

	steps := []saga.Step{
		{
			Name: "insert-app",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO apps (id, org_id, name, description, is_active, created_at, updated_at, created_by)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				`, app.ID, app.OrgID, app.Name, app.Description, app.IsActive,
					app.CreatedAt, app.UpdatedAt, app.CreatedBy)
				if err != nil {
					return fmt.Errorf("failed to insert app: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM apps WHERE id = $1`, app.ID)
				return err
			},
		},
		{
			Name: "write-org-relation",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.WriteAppOrgRelation(ctx, app.ID, orgID)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeApp, app.ID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyAppsByOrg(orgID))
			},
		},
	}

	if err := saga.New("create-app", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.App{}, err
	}
	return app, nil
}

// GetApp returns an app by id, cached.
func (s *AppService) GetApp(ctx context.Context, appID string) (db.App, error) {
	return cache.GetOrLoad(ctx, s.Cache, cache.KeyApp(appID), cache.TTLShort(), func(ctx context.Context) (db.App, error) {
		var app db.App
		err := s.PG.QueryRowContext(ctx, `
			SELECT id, org_id, name, COALESCE(description, '') as description, is_active,
			       created_at, updated_at, COALESCE(created_by, '') as created_by
			FROM apps WHERE id = $1
		`, appID).Scan(&app.ID, &app.OrgID, &app.Name, &app.Description, &app.IsActive,
			&app.CreatedAt, &app.UpdatedAt, &app.CreatedBy)
		if err != nil {
			if err == sql.ErrNoRows {
				return app, errs.NotFound("app", appID)
			}
			return app, fmt.Errorf("failed to get app: %w", err)
		}
		return app, nil
	})
}

// GetAppsByOrg returns the org's apps with env type counts, cached.
func (s *AppService) GetAppsByOrg(ctx context.Context, orgID string) ([]db.App, error) {
	return cache.GetOrLoad(ctx, s.Cache, cache.KeyAppsByOrg(orgID), cache.TTLShort(), func(ctx context.Context) ([]db.App, error) {
		rows, err := s.PG.QueryContext(ctx, `
			SELECT a.id, a.org_id, a.name, COALESCE(a.description, '') as description, a.is_active,
			       a.created_at, a.updated_at, COALESCE(a.created_by, '') as created_by,
			       COUNT(e.id) as env_types_count
			FROM apps a
			LEFT JOIN env_types e ON e.app_id = a.id
			WHERE a.org_id = $1
			GROUP BY a.id
			ORDER BY a.created_at
		`, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to list apps: %w", err)
		}
		defer rows.Close()

		var apps []db.App
		for rows.Next() {
			var app db.App
			if err := rows.Scan(&app.ID, &app.OrgID, &app.Name, &app.Description, &app.IsActive,
				&app.CreatedAt, &app.UpdatedAt, &app.CreatedBy, &app.EnvTypesCount); err != nil {
				return nil, fmt.Errorf("failed to scan app: %w", err)
			}
			apps = append(apps, app)
		}
		return apps, rows.Err()
	})
}

// DeleteApp removes the app, its env types, and every tuple naming either.
func (s *AppService) DeleteApp(ctx context.Context, appID string) error {
	app, err := s.GetApp(ctx, appID)
	if err != nil {
		return err
	}

	rows, err := s.PG.QueryContext(ctx, `SELECT id FROM env_types WHERE app_id = $1`, appID)
	if err != nil {
		return fmt.Errorf("failed to list env types: %w", err)
	}
	defer rows.Close()
	var envTypeIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan env type id: %w", err)
		}
		envTypeIDs = append(envTypeIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	steps := []saga.Step{
		{
			Name: "delete-env-type-rows",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM env_types WHERE app_id = $1`, appID)
				if err != nil {
					return fmt.Errorf("failed to delete env types: %w", err)
				}
				return nil
			},
		},
		{
			Name: "delete-app-row",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM apps WHERE id = $1`, appID)
				if err != nil {
					return fmt.Errorf("failed to delete app: %w", err)
				}
				return nil
			},
		},
		{
			Name: "delete-resource-tuples",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				for _, envTypeID := range envTypeIDs {
					if err := s.Authz.DeleteResourceTuples(ctx, authz.TypeEnvType, envTypeID); err != nil {
						return err
					}
				}
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeApp, appID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				keys := []string{
					cache.KeyApp(appID),
					cache.KeyAppsByOrg(app.OrgID),
					cache.KeyEnvTypesByApp(appID),
				}
				return s.Cache.Invalidate(ctx, keys...)
			},
		},
	}
	return saga.New("delete-app", steps...).Run(ctx, saga.Context{})
}

// GrantAccess grants a user or team access to the app.
func (s *AppService) GrantAccess(ctx context.Context, appID string, req db.GrantAccessRequest) error {
	subject, err := subjectFromGrant(req)
	if err != nil {
		return err
	}
	if _, err := s.GetApp(ctx, appID); err != nil {
		return err
	}
	return s.Authz.GrantAppAccess(ctx, subject, appID)
}

// RevokeAccess removes a grant written by GrantAccess.
func (s *AppService) RevokeAccess(ctx context.Context, appID string, req db.GrantAccessRequest) error {
	subject, err := subjectFromGrant(req)
	if err != nil {
		return err
	}
	return s.Authz.RevokeAppAccess(ctx, subject, appID)
}

// ListAccessibleApps returns the apps the user can access, resolved through
// the tuple store and hydrated from the primary store.
func (s *AppService) ListAccessibleApps(ctx context.Context, userID string) ([]db.App, error) {
	objects, err := s.Authz.ListAccessibleApps(ctx, userID)
	if err != nil {
		return nil, err
	}
	var apps []db.App
	for _, obj := range objects {
		appID := authz.ObjectID(obj)
		app, err := s.GetApp(ctx, appID)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}
