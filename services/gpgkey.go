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

type GpgKeyService struct {
	PG    *sql.DB
	Cache *cache.Cache
	Authz *authz.Service
}

func NewGpgKeyService(pg *sql.DB, c *cache.Cache, az *authz.Service) *GpgKeyService {
	return &GpgKeyService{PG: pg, Cache: c, Authz: az}
}

// CreateGpgKey stores key metadata and records its org and owner tuples.
func (s *GpgKeyService) CreateGpgKey(ctx context.Context, orgID, ownerID string, req db.CreateGpgKeyRequest) (db.GpgKey, error) {
	key := db.GpgKey{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		OwnerID:     ownerID,
		Name:        req.Name,
		Fingerprint: req.Fingerprint,
		PublicKey:   req.PublicKey,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	steps := []saga.Step{
		{
			Name: "insert-gpg-key",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO gpg_keys (id, org_id, owner_id, name, fingerprint, public_key, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				`, key.ID, key.OrgID, key.OwnerID, key.Name, key.Fingerprint, key.PublicKey,
					key.CreatedAt, key.UpdatedAt)
				if err != nil {
					return fmt.Errorf("failed to insert gpg key: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM gpg_keys WHERE id = $1`, key.ID)
				return err
			},
		},
		{
			Name: "write-key-relations",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.WriteGpgKeyRelations(ctx, key.ID, orgID, ownerID)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeGpgKey, key.ID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyGpgKeysByOrg(orgID))
			},
		},
	}

	if err := saga.New("create-gpg-key", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.GpgKey{}, err
	}
	return key, nil
}

// GetGpgKeysByOrg returns the org's key metadata, cached.
func (s *GpgKeyService) GetGpgKeysByOrg(ctx context.Context, orgID string) ([]db.GpgKey, error) {
	return cache.GetOrLoad(ctx, s.Cache, cache.KeyGpgKeysByOrg(orgID), cache.TTLShort(), func(ctx context.Context) ([]db.GpgKey, error) {
		rows, err := s.PG.QueryContext(ctx, `
			SELECT id, org_id, owner_id, name, fingerprint, COALESCE(public_key, '') as public_key,
			       created_at, updated_at
			FROM gpg_keys WHERE org_id = $1 ORDER BY created_at
		`, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to list gpg keys: %w", err)
		}
		defer rows.Close()

		var keys []db.GpgKey
		for rows.Next() {
			var k db.GpgKey
			if err := rows.Scan(&k.ID, &k.OrgID, &k.OwnerID, &k.Name, &k.Fingerprint, &k.PublicKey,
				&k.CreatedAt, &k.UpdatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan gpg key: %w", err)
			}
			keys = append(keys, k)
		}
		return keys, rows.Err()
	})
}

// DeleteGpgKey removes the key row and every tuple naming it.
func (s *GpgKeyService) DeleteGpgKey(ctx context.Context, keyID string) error {
	var orgID string
	err := s.PG.QueryRowContext(ctx, `SELECT org_id FROM gpg_keys WHERE id = $1`, keyID).Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return errs.NotFound("gpg key", keyID)
		}
		return fmt.Errorf("failed to get gpg key: %w", err)
	}

	steps := []saga.Step{
		{
			Name: "delete-gpg-key-row",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM gpg_keys WHERE id = $1`, keyID)
				if err != nil {
					return fmt.Errorf("failed to delete gpg key: %w", err)
				}
				return nil
			},
		},
		{
			Name: "delete-resource-tuples",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeGpgKey, keyID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyGpgKeysByOrg(orgID))
			},
		},
	}
	return saga.New("delete-gpg-key", steps...).Run(ctx, saga.Context{})
}

// GrantAccess grants a user or team read access to the key.
func (s *GpgKeyService) GrantAccess(ctx context.Context, keyID string, req db.GrantAccessRequest) error {
	subject, err := subjectFromGrant(req)
	if err != nil {
		return err
	}
	return s.Authz.GrantGpgKeyAccess(ctx, subject, keyID)
}

// RevokeAccess removes a grant written by GrantAccess.
func (s *GpgKeyService) RevokeAccess(ctx context.Context, keyID string, req db.GrantAccessRequest) error {
	subject, err := subjectFromGrant(req)
	if err != nil {
		return err
	}
	return s.Authz.RevokeGpgKeyAccess(ctx, subject, keyID)
}
