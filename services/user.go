package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/errs"
	"github.com/envhub/envhub/saga"
)

type UserService struct {
	PG       *sql.DB
	Cache    *cache.Cache
	Authz    *authz.Service
	Identity IdentityProvider
}

func NewUserService(pg *sql.DB, c *cache.Cache, az *authz.Service, identity IdentityProvider) *UserService {
	return &UserService{PG: pg, Cache: c, Authz: az, Identity: identity}
}

// CreateUser provisions a user across the identity provider, the primary
// store and the tuple store, and invalidates the affected cache keys.
//
// The identity-provider step carries no compensation: if a later step fails,
// the external account stays behind. Accepted as current ground truth.
func (s *UserService) CreateUser(ctx context.Context, req db.CreateUserRequest) (db.User, error) {
	role, err := s.getRole(ctx, req.RoleID)
	if err != nil {
		return db.User{}, err
	}
	if role.OrgID != req.OrgID {
		return db.User{}, errs.Invalid("role_id", "role belongs to a different org")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return db.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := db.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Name:         req.Name,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
		Provider:     "firebase",
		PasswordHash: string(hash),
	}
	memberID := uuid.New().String()

	steps := []saga.Step{
		{
			Name: "create-idp-user",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				uid, err := s.Identity.CreateIdpUser(ctx, req.Email, req.Name, req.Password)
				if err != nil {
					return err
				}
				sctx.Set("idp_uid", uid)
				return nil
			},
			// No Compensate: the created external account is not removed if a
			// later step fails.
		},
		{
			Name: "insert-user",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				user.ProviderID = sctx.String("idp_uid")
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO users (id, email, name, password_hash, is_active, created_at, updated_at, provider, provider_id)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				`, user.ID, user.Email, user.Name, user.PasswordHash, user.IsActive,
					user.CreatedAt, user.UpdatedAt, user.Provider, user.ProviderID)
				if err != nil {
					return fmt.Errorf("failed to insert user: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, user.ID)
				return err
			},
		},
		{
			Name: "insert-org-member",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO org_members (id, org_id, user_id, role_id, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6)
				`, memberID, req.OrgID, user.ID, role.ID, time.Now(), time.Now())
				if err != nil {
					return fmt.Errorf("failed to insert org member: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM org_members WHERE id = $1`, memberID)
				return err
			},
		},
		{
			Name: "sync-role-tuples",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.AssignRoleToUser(ctx, user.ID, req.OrgID, role)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.RemoveUserOrgPermissions(ctx, user.ID, req.OrgID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx,
					cache.KeyOrgMembers(req.OrgID),
					cache.KeyUserOrgPermissions(user.ID, req.OrgID))
			},
		},
	}

	if err := saga.New("create-user", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.User{}, err
	}
	return user, nil
}

// GetUser returns a user by id.
func (s *UserService) GetUser(ctx context.Context, userID string) (db.User, error) {
	var user db.User
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, email, name, is_active, created_at, updated_at,
		       COALESCE(provider, '') as provider, COALESCE(provider_id, '') as provider_id
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &user.IsActive,
		&user.CreatedAt, &user.UpdatedAt, &user.Provider, &user.ProviderID)
	if err != nil {
		if err == sql.ErrNoRows {
			return user, errs.NotFound("user", userID)
		}
		return user, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListOrgMembers returns the org's members with role names, cached.
func (s *UserService) ListOrgMembers(ctx context.Context, orgID string) ([]db.OrgMember, error) {
	return cache.GetOrLoad(ctx, s.Cache, cache.KeyOrgMembers(orgID), cache.TTLShort(), func(ctx context.Context) ([]db.OrgMember, error) {
		rows, err := s.PG.QueryContext(ctx, `
			SELECT m.id, m.org_id, m.user_id, m.role_id, m.created_at, m.updated_at,
			       u.email, u.name, r.name
			FROM org_members m
			JOIN users u ON u.id = m.user_id
			JOIN roles r ON r.id = m.role_id
			WHERE m.org_id = $1
			ORDER BY m.created_at
		`, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to list org members: %w", err)
		}
		defer rows.Close()

		var members []db.OrgMember
		for rows.Next() {
			var m db.OrgMember
			if err := rows.Scan(&m.ID, &m.OrgID, &m.UserID, &m.RoleID, &m.CreatedAt, &m.UpdatedAt,
				&m.UserEmail, &m.UserName, &m.RoleName); err != nil {
				return nil, fmt.Errorf("failed to scan org member: %w", err)
			}
			members = append(members, m)
		}
		return members, rows.Err()
	})
}

// RemoveUserFromOrg deletes the membership row, the user's org tuples, and
// the affected cache keys.
func (s *UserService) RemoveUserFromOrg(ctx context.Context, userID, orgID string) error {
	var member db.OrgMember
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, role_id FROM org_members WHERE org_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&member.ID, &member.RoleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return errs.NotFound("org member", userID)
		}
		return fmt.Errorf("failed to get org member: %w", err)
	}

	steps := []saga.Step{
		{
			Name: "delete-org-member",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM org_members WHERE id = $1`, member.ID)
				if err != nil {
					return fmt.Errorf("failed to delete org member: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO org_members (id, org_id, user_id, role_id, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6)
				`, member.ID, orgID, userID, member.RoleID, time.Now(), time.Now())
				return err
			},
		},
		{
			Name: "remove-org-tuples",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.RemoveUserOrgPermissions(ctx, userID, orgID)
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
	return saga.New("remove-user-from-org", steps...).Run(ctx, saga.Context{})
}

// DeleteUser removes the user everywhere: primary store rows, org tuples for
// every org the user belongs to, the identity-provider account, and caches.
func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	rows, err := s.PG.QueryContext(ctx, `SELECT org_id FROM org_members WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to list user orgs: %w", err)
	}
	defer rows.Close()
	var orgIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan org id: %w", err)
		}
		orgIDs = append(orgIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, orgID := range orgIDs {
		if err := s.Authz.RemoveUserOrgPermissions(ctx, userID, orgID); err != nil {
			return err
		}
	}
	if _, err := s.PG.ExecContext(ctx, `DELETE FROM org_members WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete org memberships: %w", err)
	}
	if _, err := s.PG.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if user.ProviderID != "" {
		if err := s.Identity.DeleteIdpUser(ctx, user.ProviderID); err != nil {
			return err
		}
	}

	keys := make([]string, 0, 2*len(orgIDs))
	for _, orgID := range orgIDs {
		keys = append(keys, cache.KeyOrgMembers(orgID), cache.KeyUserOrgPermissions(userID, orgID))
	}
	return s.Cache.Invalidate(ctx, keys...)
}

// getRole loads a role template row.
func (s *UserService) getRole(ctx context.Context, roleID string) (db.Role, error) {
	return scanRole(s.PG.QueryRowContext(ctx, roleSelect+` WHERE id = $1`, roleID), roleID)
}
