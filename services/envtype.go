package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/errs"
	"github.com/envhub/envhub/saga"
)

type EnvTypeService struct {
	PG    *sql.DB
	Cache *cache.Cache
	Authz *authz.Service
}

func NewEnvTypeService(pg *sql.DB, c *cache.Cache, az *authz.Service) *EnvTypeService {
	return &EnvTypeService{PG: pg, Cache: c, Authz: az}
}

// CreateEnvType adds an environment tier to an app: row, parent tuples, cache.
func (s *EnvTypeService) CreateEnvType(ctx context.Context, appID, orgID string, req db.CreateEnvTypeRequest) (db.EnvType, error) {
	return s.createEnvType(ctx, appID, orgID, req.Name, false)
}

func (s *EnvTypeService) createEnvType(ctx context.Context, appID, orgID, name string, isDefault bool) (db.EnvType, error) {
	envType := db.EnvType{
		ID:        uuid.New().String(),
		AppID:     appID,
		OrgID:     orgID,
		Name:      name,
		IsDefault: isDefault,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	steps := []saga.Step{
		{
			Name: "insert-env-type",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO env_types (id, app_id, org_id, name, is_default, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
				`, envType.ID, envType.AppID, envType.OrgID, envType.Name, envType.IsDefault,
					envType.CreatedAt, envType.UpdatedAt)
				if err != nil {
					return fmt.Errorf("failed to insert env type: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM env_types WHERE id = $1`, envType.ID)
				return err
			},
		},
		{
			Name: "write-parent-relations",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.WriteEnvTypeRelations(ctx, envType.ID, appID, orgID)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeEnvType, envType.ID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyEnvTypesByApp(appID))
			},
		},
	}

	if err := saga.New("create-env-type", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.EnvType{}, err
	}
	return envType, nil
}

// CreateDefaultEnvTypes creates the standard tiers for a new app, in parallel.
// Each tier is its own saga, so one tier failing unwinds that tier only; the
// app itself is never rolled back from here.
func (s *EnvTypeService) CreateDefaultEnvTypes(ctx context.Context, appID, orgID string) ([]db.EnvType, error) {
	envTypes := make([]db.EnvType, len(db.DefaultEnvTypeNames))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range db.DefaultEnvTypeNames {
		i, name := i, name
		g.Go(func() error {
			et, err := s.createEnvType(gctx, appID, orgID, name, true)
			if err != nil {
				return fmt.Errorf("create default env type %s: %w", name, err)
			}
			envTypes[i] = et
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return envTypes, nil
}

// GetEnvTypesByApp returns the app's environment tiers, cached.
func (s *EnvTypeService) GetEnvTypesByApp(ctx context.Context, appID string) ([]db.EnvType, error) {
	return cache.GetOrLoad(ctx, s.Cache, cache.KeyEnvTypesByApp(appID), cache.TTLShort(), func(ctx context.Context) ([]db.EnvType, error) {
		rows, err := s.PG.QueryContext(ctx, `
			SELECT id, app_id, org_id, name, is_default, created_at, updated_at
			FROM env_types WHERE app_id = $1 ORDER BY created_at
		`, appID)
		if err != nil {
			return nil, fmt.Errorf("failed to list env types: %w", err)
		}
		defer rows.Close()

		var envTypes []db.EnvType
		for rows.Next() {
			var et db.EnvType
			if err := rows.Scan(&et.ID, &et.AppID, &et.OrgID, &et.Name, &et.IsDefault,
				&et.CreatedAt, &et.UpdatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan env type: %w", err)
			}
			envTypes = append(envTypes, et)
		}
		return envTypes, rows.Err()
	})
}

// DeleteEnvType removes a tier and every tuple naming it.
func (s *EnvTypeService) DeleteEnvType(ctx context.Context, envTypeID string) error {
	var envType db.EnvType
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, app_id, org_id, is_default FROM env_types WHERE id = $1
	`, envTypeID).Scan(&envType.ID, &envType.AppID, &envType.OrgID, &envType.IsDefault)
	if err != nil {
		if err == sql.ErrNoRows {
			return errs.NotFound("env type", envTypeID)
		}
		return fmt.Errorf("failed to get env type: %w", err)
	}
	if envType.IsDefault {
		return errs.BusinessRule("default environment types cannot be deleted")
	}

	steps := []saga.Step{
		{
			Name: "delete-env-type-row",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM env_types WHERE id = $1`, envTypeID)
				if err != nil {
					return fmt.Errorf("failed to delete env type: %w", err)
				}
				return nil
			},
		},
		{
			Name: "delete-resource-tuples",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeEnvType, envTypeID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyEnvTypesByApp(envType.AppID))
			},
		},
	}
	return saga.New("delete-env-type", steps...).Run(ctx, saga.Context{})
}

// GrantAccess grants a user or team access to the environment tier.
func (s *EnvTypeService) GrantAccess(ctx context.Context, envTypeID string, req db.GrantAccessRequest) error {
	subject, err := subjectFromGrant(req)
	if err != nil {
		return err
	}
	return s.Authz.GrantEnvTypeAccess(ctx, subject, envTypeID)
}

// RevokeAccess removes a grant written by GrantAccess.
func (s *EnvTypeService) RevokeAccess(ctx context.Context, envTypeID string, req db.GrantAccessRequest) error {
	subject, err := subjectFromGrant(req)
	if err != nil {
		return err
	}
	return s.Authz.RevokeEnvTypeAccess(ctx, subject, envTypeID)
}
