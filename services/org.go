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

type OrgService struct {
	PG    *sql.DB
	Cache *cache.Cache
	Authz *authz.Service
}

func NewOrgService(pg *sql.DB, c *cache.Cache, az *authz.Service) *OrgService {
	return &OrgService{PG: pg, Cache: c, Authz: az}
}

// CreateOrg provisions a tenant: org row, the org's master role, the creator's
// membership, and the creator's tuples. The creator always ends up holding the
// master role or nothing at all.
func (s *OrgService) CreateOrg(ctx context.Context, creatorID string, req db.CreateOrgRequest) (db.Org, error) {
	var exists bool
	err := s.PG.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orgs WHERE slug = $1)`, req.Slug).Scan(&exists)
	if err != nil {
		return db.Org{}, fmt.Errorf("failed to check org slug: %w", err)
	}
	if exists {
		return db.Org{}, errs.Invalid("slug", "slug is already taken")
	}

	org := db.Org{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		IsActive:    true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		CreatedBy:   creatorID,
	}
	masterRole := NewMasterRole(org.ID)
	memberID := uuid.New().String()

	steps := []saga.Step{
		{
			Name: "insert-org",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO orgs (id, name, slug, description, is_active, created_at, updated_at, created_by)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				`, org.ID, org.Name, org.Slug, org.Description, org.IsActive,
					org.CreatedAt, org.UpdatedAt, org.CreatedBy)
				if err != nil {
					return fmt.Errorf("failed to insert org: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM orgs WHERE id = $1`, org.ID)
				return err
			},
		},
		{
			Name: "create-master-role",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, roleInsert,
					masterRole.ID, masterRole.OrgID, masterRole.Name, masterRole.Color,
					masterRole.IsMaster, masterRole.IsAdmin,
					masterRole.CanView, masterRole.CanEdit, masterRole.HaveAPIAccess,
					masterRole.HaveBillingOptions, masterRole.HaveWebhookAccess,
					masterRole.HaveGpgAccess, masterRole.HaveCertAccess, masterRole.HaveAuditAccess,
					masterRole.CreatedAt, masterRole.UpdatedAt)
				if err != nil {
					return fmt.Errorf("failed to insert master role: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, masterRole.ID)
				return err
			},
		},
		{
			Name: "insert-creator-member",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO org_members (id, org_id, user_id, role_id, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6)
				`, memberID, org.ID, creatorID, masterRole.ID, time.Now(), time.Now())
				if err != nil {
					return fmt.Errorf("failed to insert creator membership: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM org_members WHERE id = $1`, memberID)
				return err
			},
		},
		{
			Name: "sync-creator-tuples",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.AssignRoleToUser(ctx, creatorID, org.ID, masterRole)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.RemoveUserOrgPermissions(ctx, creatorID, org.ID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx,
					cache.KeyOrgMembers(org.ID),
					cache.KeyRolesByOrg(org.ID),
					cache.KeyUserOrgPermissions(creatorID, org.ID))
			},
		},
	}

	if err := saga.New("create-org", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.Org{}, err
	}
	return org, nil
}

// GetOrg returns an org by id.
func (s *OrgService) GetOrg(ctx context.Context, orgID string) (db.Org, error) {
	var org db.Org
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, name, slug, COALESCE(description, '') as description, is_active,
		       created_at, updated_at, COALESCE(created_by, '') as created_by
		FROM orgs WHERE id = $1
	`, orgID).Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.IsActive,
		&org.CreatedAt, &org.UpdatedAt, &org.CreatedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return org, errs.NotFound("org", orgID)
		}
		return org, fmt.Errorf("failed to get org: %w", err)
	}
	return org, nil
}

// ListOrgsForUser returns the orgs the user is a member of.
func (s *OrgService) ListOrgsForUser(ctx context.Context, userID string) ([]db.Org, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT o.id, o.name, o.slug, COALESCE(o.description, '') as description, o.is_active,
		       o.created_at, o.updated_at, COALESCE(o.created_by, '') as created_by
		FROM orgs o
		JOIN org_members m ON m.org_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orgs: %w", err)
	}
	defer rows.Close()

	var orgs []db.Org
	for rows.Next() {
		var org db.Org
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.IsActive,
			&org.CreatedAt, &org.UpdatedAt, &org.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan org: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
