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

type CertificateService struct {
	PG    *sql.DB
	Cache *cache.Cache
	Authz *authz.Service
}

func NewCertificateService(pg *sql.DB, c *cache.Cache, az *authz.Service) *CertificateService {
	return &CertificateService{PG: pg, Cache: c, Authz: az}
}

// CreateCertificate stores certificate metadata and records its org and owner.
func (s *CertificateService) CreateCertificate(ctx context.Context, orgID, ownerID string, req db.CreateCertificateRequest) (db.Certificate, error) {
	cert := db.Certificate{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		OwnerID:   ownerID,
		Name:      req.Name,
		Serial:    req.Serial,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	steps := []saga.Step{
		{
			Name: "insert-certificate",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO certificates (id, org_id, owner_id, name, serial, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
				`, cert.ID, cert.OrgID, cert.OwnerID, cert.Name, cert.Serial,
					cert.CreatedAt, cert.UpdatedAt)
				if err != nil {
					return fmt.Errorf("failed to insert certificate: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM certificates WHERE id = $1`, cert.ID)
				return err
			},
		},
		{
			Name: "write-certificate-relations",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.WriteCertificateRelations(ctx, cert.ID, orgID, ownerID)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeCertificate, cert.ID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyCertificatesByOrg(orgID))
			},
		},
	}

	if err := saga.New("create-certificate", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.Certificate{}, err
	}
	return cert, nil
}

// GetCertificatesByOrg returns the org's certificate metadata, cached.
func (s *CertificateService) GetCertificatesByOrg(ctx context.Context, orgID string) ([]db.Certificate, error) {
	return cache.GetOrLoad(ctx, s.Cache, cache.KeyCertificatesByOrg(orgID), cache.TTLShort(), func(ctx context.Context) ([]db.Certificate, error) {
		rows, err := s.PG.QueryContext(ctx, `
			SELECT id, org_id, owner_id, name, serial, not_after, created_at, updated_at
			FROM certificates WHERE org_id = $1 ORDER BY created_at
		`, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to list certificates: %w", err)
		}
		defer rows.Close()

		var certs []db.Certificate
		for rows.Next() {
			var c db.Certificate
			if err := rows.Scan(&c.ID, &c.OrgID, &c.OwnerID, &c.Name, &c.Serial, &c.NotAfter,
				&c.CreatedAt, &c.UpdatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan certificate: %w", err)
			}
			certs = append(certs, c)
		}
		return certs, rows.Err()
	})
}

// DeleteCertificate removes the certificate row and every tuple naming it.
func (s *CertificateService) DeleteCertificate(ctx context.Context, certID string) error {
	var orgID string
	err := s.PG.QueryRowContext(ctx, `SELECT org_id FROM certificates WHERE id = $1`, certID).Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return errs.NotFound("certificate", certID)
		}
		return fmt.Errorf("failed to get certificate: %w", err)
	}

	steps := []saga.Step{
		{
			Name: "delete-certificate-row",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM certificates WHERE id = $1`, certID)
				if err != nil {
					return fmt.Errorf("failed to delete certificate: %w", err)
				}
				return nil
			},
		},
		{
			Name: "delete-resource-tuples",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeCertificate, certID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyCertificatesByOrg(orgID))
			},
		},
	}
	return saga.New("delete-certificate", steps...).Run(ctx, saga.Context{})
}

// GrantAccess grants a user or team read access to the certificate.
func (s *CertificateService) GrantAccess(ctx context.Context, certID string, req db.GrantAccessRequest) error {
	subject, err := subjectFromGrant(req)
	if err != nil {
		return err
	}
	return s.Authz.GrantCertificateAccess(ctx, subject, certID)
}

// RevokeAccess removes a grant written by GrantAccess.
func (s *CertificateService) RevokeAccess(ctx context.Context, certID string, req db.GrantAccessRequest) error {
	subject, err := subjectFromGrant(req)
	if err != nil {
		return err
	}
	return s.Authz.RevokeCertificateAccess(ctx, subject, certID)
}
