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

type RoleService struct {
	PG    *sql.DB
	Cache *cache.Cache
	Authz *authz.Service
}

func NewRoleService(pg *sql.DB, c *cache.Cache, az *authz.Service) *RoleService {
	return &RoleService{PG: pg, Cache: c, Authz: az}
}

const roleSelect = `
	SELECT id, org_id, name, COALESCE(color, '') as color, is_master, is_admin,
	       can_view, can_edit, have_api_access, have_billing_options, have_webhook_access,
	       have_gpg_access, have_cert_access, have_audit_access, created_at, updated_at
	FROM roles`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner, id string) (db.Role, error) {
	var r db.Role
	err := row.Scan(&r.ID, &r.OrgID, &r.Name, &r.Color, &r.IsMaster, &r.IsAdmin,
		&r.CanView, &r.CanEdit, &r.HaveAPIAccess, &r.HaveBillingOptions, &r.HaveWebhookAccess,
		&r.HaveGpgAccess, &r.HaveCertAccess, &r.HaveAuditAccess, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return r, errs.NotFound("role", id)
		}
		return r, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

const roleInsert = `
	INSERT INTO roles (id, org_id, name, color, is_master, is_admin,
	                   can_view, can_edit, have_api_access, have_billing_options, have_webhook_access,
	                   have_gpg_access, have_cert_access, have_audit_access, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

func (s *RoleService) insertRole(ctx context.Context, r db.Role) error {
	_, err := s.PG.ExecContext(ctx, roleInsert,
		r.ID, r.OrgID, r.Name, r.Color, r.IsMaster, r.IsAdmin,
		r.CanView, r.CanEdit, r.HaveAPIAccess, r.HaveBillingOptions, r.HaveWebhookAccess,
		r.HaveGpgAccess, r.HaveCertAccess, r.HaveAuditAccess, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

// CreateRole creates a regular (non-master) role template. No tuples are
// written here; tuples appear when the role is assigned to users.
func (s *RoleService) CreateRole(ctx context.Context, orgID string, req db.CreateRoleRequest) (db.Role, error) {
	role := db.Role{
		ID:                 uuid.New().String(),
		OrgID:              orgID,
		Name:               req.Name,
		Color:              req.Color,
		IsMaster:           false,
		IsAdmin:            req.IsAdmin,
		CanView:            req.CanView,
		CanEdit:            req.CanEdit,
		HaveAPIAccess:      req.HaveAPIAccess,
		HaveBillingOptions: req.HaveBillingOptions,
		HaveWebhookAccess:  req.HaveWebhookAccess,
		HaveGpgAccess:      req.HaveGpgAccess,
		HaveCertAccess:     req.HaveCertAccess,
		HaveAuditAccess:    req.HaveAuditAccess,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}

	steps := []saga.Step{
		{
			Name: "insert-role",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.insertRole(ctx, role)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, role.ID)
				return err
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyRolesByOrg(orgID))
			},
		},
	}
	if err := saga.New("create-role", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.Role{}, err
	}
	return role, nil
}

// NewMasterRole builds the all-flags master role created with every org.
// IsMaster can only ever be set here, at creation.
func NewMasterRole(orgID string) db.Role {
	return db.Role{
		ID:                 uuid.New().String(),
		OrgID:              orgID,
		Name:               "Owner",
		Color:              "#d4af37",
		IsMaster:           true,
		IsAdmin:            true,
		CanView:            true,
		CanEdit:            true,
		HaveAPIAccess:      true,
		HaveBillingOptions: true,
		HaveWebhookAccess:  true,
		HaveGpgAccess:      true,
		HaveCertAccess:     true,
		HaveAuditAccess:    true,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
}

// GetRole returns a role template, cached.
func (s *RoleService) GetRole(ctx context.Context, roleID string) (db.Role, error) {
	return cache.GetOrLoad(ctx, s.Cache, cache.KeyRole(roleID), cache.TTLLong(), func(ctx context.Context) (db.Role, error) {
		return scanRole(s.PG.QueryRowContext(ctx, roleSelect+` WHERE id = $1`, roleID), roleID)
	})
}

// ListRolesByOrg returns the org's role templates, cached.
func (s *RoleService) ListRolesByOrg(ctx context.Context, orgID string) ([]db.Role, error) {
	return cache.GetOrLoad(ctx, s.Cache, cache.KeyRolesByOrg(orgID), cache.TTLShort(), func(ctx context.Context) ([]db.Role, error) {
		rows, err := s.PG.QueryContext(ctx, roleSelect+` WHERE org_id = $1 ORDER BY created_at`, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to list roles: %w", err)
		}
		defer rows.Close()

		var roles []db.Role
		for rows.Next() {
			r, err := scanRole(rows, "")
			if err != nil {
				return nil, err
			}
			roles = append(roles, r)
		}
		return roles, rows.Err()
	})
}

// UpdateRole edits a role template and resyncs every member holding it.
// is_master is immutable: any attempt to set it, and any edit of an existing
// master role, is rejected before storage is touched.
func (s *RoleService) UpdateRole(ctx context.Context, roleID string, req db.UpdateRoleRequest) (db.Role, error) {
	if req.IsMaster != nil {
		return db.Role{}, errs.BusinessRule("is_master cannot be changed after creation")
	}

	prev, err := scanRole(s.PG.QueryRowContext(ctx, roleSelect+` WHERE id = $1`, roleID), roleID)
	if err != nil {
		return db.Role{}, err
	}
	if prev.IsMaster {
		return db.Role{}, errs.BusinessRule("master role cannot be edited")
	}

	updated := applyRoleUpdate(prev, req)
	updated.UpdatedAt = time.Now()

	steps := []saga.Step{
		{
			Name: "update-role-row",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.updateRoleRow(ctx, updated)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.updateRoleRow(ctx, prev)
			},
		},
		{
			Name: "resync-role-members",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.ResyncAllUsersWithRole(ctx, prev.OrgID, updated)
			},
			// No Compensate: a partial resync leaves tuples diverged from the
			// (restored) template until the next resync. Accepted.
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyRole(roleID), cache.KeyRolesByOrg(prev.OrgID))
			},
		},
	}
	if err := saga.New("update-role", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.Role{}, err
	}
	return updated, nil
}

func (s *RoleService) updateRoleRow(ctx context.Context, r db.Role) error {
	_, err := s.PG.ExecContext(ctx, `
		UPDATE roles SET name = $2, color = $3, is_admin = $4,
		       can_view = $5, can_edit = $6, have_api_access = $7,
		       have_billing_options = $8, have_webhook_access = $9,
		       have_gpg_access = $10, have_cert_access = $11, have_audit_access = $12,
		       updated_at = $13
		WHERE id = $1
	`, r.ID, r.Name, r.Color, r.IsAdmin,
		r.CanView, r.CanEdit, r.HaveAPIAccess,
		r.HaveBillingOptions, r.HaveWebhookAccess,
		r.HaveGpgAccess, r.HaveCertAccess, r.HaveAuditAccess,
		r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return nil
}

func applyRoleUpdate(r db.Role, req db.UpdateRoleRequest) db.Role {
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Color != nil {
		r.Color = *req.Color
	}
	if req.IsAdmin != nil {
		r.IsAdmin = *req.IsAdmin
	}
	if req.CanView != nil {
		r.CanView = *req.CanView
	}
	if req.CanEdit != nil {
		r.CanEdit = *req.CanEdit
	}
	if req.HaveAPIAccess != nil {
		r.HaveAPIAccess = *req.HaveAPIAccess
	}
	if req.HaveBillingOptions != nil {
		r.HaveBillingOptions = *req.HaveBillingOptions
	}
	if req.HaveWebhookAccess != nil {
		r.HaveWebhookAccess = *req.HaveWebhookAccess
	}
	if req.HaveGpgAccess != nil {
		r.HaveGpgAccess = *req.HaveGpgAccess
	}
	if req.HaveCertAccess != nil {
		r.HaveCertAccess = *req.HaveCertAccess
	}
	if req.HaveAuditAccess != nil {
		r.HaveAuditAccess = *req.HaveAuditAccess
	}
	return r
}

// DeleteRole removes a role template. Master roles cannot be deleted; roles
// still held by members cannot be deleted either.
func (s *RoleService) DeleteRole(ctx context.Context, roleID string) error {
	role, err := scanRole(s.PG.QueryRowContext(ctx, roleSelect+` WHERE id = $1`, roleID), roleID)
	if err != nil {
		return err
	}
	if role.IsMaster {
		return errs.BusinessRule("master role cannot be deleted")
	}

	var holders int
	if err := s.PG.QueryRowContext(ctx, `SELECT COUNT(*) FROM org_members WHERE role_id = $1`, roleID).Scan(&holders); err != nil {
		return fmt.Errorf("failed to count role holders: %w", err)
	}
	if holders > 0 {
		return errs.BusinessRule("role is still assigned to members")
	}

	steps := []saga.Step{
		{
			Name: "delete-role-row",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
				if err != nil {
					return fmt.Errorf("failed to delete role: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.insertRole(ctx, role)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyRole(roleID), cache.KeyRolesByOrg(role.OrgID))
			},
		},
	}
	return saga.New("delete-role", steps...).Run(ctx, saga.Context{})
}

// AssignRole changes a member's role template and rewrites their org tuples.
func (s *RoleService) AssignRole(ctx context.Context, orgID, userID, newRoleID string) error {
	newRole, err := scanRole(s.PG.QueryRowContext(ctx, roleSelect+` WHERE id = $1`, newRoleID), newRoleID)
	if err != nil {
		return err
	}
	if newRole.OrgID != orgID {
		return errs.Invalid("role_id", "role belongs to a different org")
	}

	var memberID, oldRoleID string
	err = s.PG.QueryRowContext(ctx, `
		SELECT id, role_id FROM org_members WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&memberID, &oldRoleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return errs.NotFound("org member", userID)
		}
		return fmt.Errorf("failed to get org member: %w", err)
	}
	oldRole, err := scanRole(s.PG.QueryRowContext(ctx, roleSelect+` WHERE id = $1`, oldRoleID), oldRoleID)
	if err != nil {
		return err
	}

	steps := []saga.Step{
		{
			Name: "update-member-role",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					UPDATE org_members SET role_id = $2, updated_at = $3 WHERE id = $1
				`, memberID, newRoleID, time.Now())
				if err != nil {
					return fmt.Errorf("failed to update member role: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					UPDATE org_members SET role_id = $2, updated_at = $3 WHERE id = $1
				`, memberID, oldRoleID, time.Now())
				return err
			},
		},
		{
			Name: "resync-user-tuples",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.ResyncUserRole(ctx, userID, orgID, newRole)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.ResyncUserRole(ctx, userID, orgID, oldRole)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx,
					cache.KeyOrgMembers(orgID),
					cache.KeyUserOrgPermissions(userID, orgID))
			},
		},
	}
	return saga.New("assign-role", steps...).Run(ctx, saga.Context{})
}
