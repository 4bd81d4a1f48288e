package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// MemberRepository answers which users currently hold a role, for bulk
// resyncs. Implemented against the primary store; faked in tests.
type MemberRepository interface {
	ListUserIDsWithRole(ctx context.Context, orgID, roleID string) ([]string, error)
}

// PGMemberRepository reads memberships from postgres.
type PGMemberRepository struct {
	PG *sql.DB
}

func NewPGMemberRepository(pg *sql.DB) *PGMemberRepository {
	return &PGMemberRepository{PG: pg}
}

func (r *PGMemberRepository) ListUserIDsWithRole(ctx context.Context, orgID, roleID string) ([]string, error) {
	rows, err := r.PG.QueryContext(ctx, `
		SELECT user_id FROM org_members
		WHERE org_id = $1 AND role_id = $2
		ORDER BY created_at
	`, orgID, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}
