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

type TeamService struct {
	PG    *sql.DB
	Cache *cache.Cache
	Authz *authz.Service
}

func NewTeamService(pg *sql.DB, c *cache.Cache, az *authz.Service) *TeamService {
	return &TeamService{PG: pg, Cache: c, Authz: az}
}

// CreateTeam inserts the team row and records its org parent.
func (s *TeamService) CreateTeam(ctx context.Context, orgID, createdBy string, req db.CreateTeamRequest) (db.Team, error) {
	team := db.Team{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		CreatedBy:   createdBy,
	}

	steps := []saga.Step{
		{
			Name: "insert-team",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO teams (id, org_id, name, description, created_at, updated_at, created_by)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
				`, team.ID, team.OrgID, team.Name, team.Description,
					team.CreatedAt, team.UpdatedAt, team.CreatedBy)
				if err != nil {
					return fmt.Errorf("failed to insert team: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, team.ID)
				return err
			},
		},
		{
			Name: "write-org-relation",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.WriteTeamOrgRelation(ctx, team.ID, orgID)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeTeam, team.ID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyTeamsByOrg(orgID))
			},
		},
	}

	if err := saga.New("create-team", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.Team{}, err
	}
	return team, nil
}

// GetTeamsByOrg returns the org's teams with member counts, cached.
func (s *TeamService) GetTeamsByOrg(ctx context.Context, orgID string) ([]db.Team, error) {
	return cache.GetOrLoad(ctx, s.Cache, cache.KeyTeamsByOrg(orgID), cache.TTLShort(), func(ctx context.Context) ([]db.Team, error) {
		rows, err := s.PG.QueryContext(ctx, `
			SELECT t.id, t.org_id, t.name, COALESCE(t.description, '') as description,
			       t.created_at, t.updated_at, COALESCE(t.created_by, '') as created_by,
			       COUNT(m.id) as members_count
			FROM teams t
			LEFT JOIN team_members m ON m.team_id = t.id
			WHERE t.org_id = $1
			GROUP BY t.id
			ORDER BY t.created_at
		`, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to list teams: %w", err)
		}
		defer rows.Close()

		var teams []db.Team
		for rows.Next() {
			var t db.Team
			if err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &t.Description,
				&t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.MembersCount); err != nil {
				return nil, fmt.Errorf("failed to scan team: %w", err)
			}
			teams = append(teams, t)
		}
		return teams, rows.Err()
	})
}

// AddMember adds a user to the team. The membership tuple is what makes
// team-scoped grants reach the user.
func (s *TeamService) AddMember(ctx context.Context, teamID, userID string) (db.TeamMember, error) {
	var orgID string
	err := s.PG.QueryRowContext(ctx, `SELECT org_id FROM teams WHERE id = $1`, teamID).Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return db.TeamMember{}, errs.NotFound("team", teamID)
		}
		return db.TeamMember{}, fmt.Errorf("failed to get team: %w", err)
	}

	member := db.TeamMember{
		ID:        uuid.New().String(),
		TeamID:    teamID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}

	steps := []saga.Step{
		{
			Name: "insert-team-member",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO team_members (id, team_id, user_id, created_at)
					VALUES ($1, $2, $3, $4)
				`, member.ID, member.TeamID, member.UserID, member.CreatedAt)
				if err != nil {
					return fmt.Errorf("failed to insert team member: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM team_members WHERE id = $1`, member.ID)
				return err
			},
		},
		{
			Name: "write-member-tuple",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.AddTeamMember(ctx, teamID, userID)
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.RemoveTeamMember(ctx, teamID, userID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyTeamsByOrg(orgID))
			},
		},
	}

	if err := saga.New("add-team-member", steps...).Run(ctx, saga.Context{}); err != nil {
		return db.TeamMember{}, err
	}
	return member, nil
}

// RemoveMember removes a user from the team and drops the membership tuple.
func (s *TeamService) RemoveMember(ctx context.Context, teamID, userID string) error {
	var orgID string
	err := s.PG.QueryRowContext(ctx, `SELECT org_id FROM teams WHERE id = $1`, teamID).Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return errs.NotFound("team", teamID)
		}
		return fmt.Errorf("failed to get team: %w", err)
	}

	var memberID string
	var createdAt time.Time
	err = s.PG.QueryRowContext(ctx, `
		SELECT id, created_at FROM team_members WHERE team_id = $1 AND user_id = $2
	`, teamID, userID).Scan(&memberID, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return errs.NotFound("team member", userID)
		}
		return fmt.Errorf("failed to get team member: %w", err)
	}

	steps := []saga.Step{
		{
			Name: "delete-team-member",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM team_members WHERE id = $1`, memberID)
				if err != nil {
					return fmt.Errorf("failed to delete team member: %w", err)
				}
				return nil
			},
			Compensate: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `
					INSERT INTO team_members (id, team_id, user_id, created_at)
					VALUES ($1, $2, $3, $4)
				`, memberID, teamID, userID, createdAt)
				return err
			},
		},
		{
			Name: "delete-member-tuple",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.RemoveTeamMember(ctx, teamID, userID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyTeamsByOrg(orgID))
			},
		},
	}
	return saga.New("remove-team-member", steps...).Run(ctx, saga.Context{})
}

// ListMembers returns the team's members with user details.
func (s *TeamService) ListMembers(ctx context.Context, teamID string) ([]db.TeamMember, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT m.id, m.team_id, m.user_id, m.created_at, u.email, u.name
		FROM team_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.team_id = $1
		ORDER BY m.created_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	var members []db.TeamMember
	for rows.Next() {
		var m db.TeamMember
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.CreatedAt, &m.UserEmail, &m.UserName); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// DeleteTeam removes the team, its memberships, and every tuple naming it.
// Grants written against the team's member-set die with the tuples.
func (s *TeamService) DeleteTeam(ctx context.Context, teamID string) error {
	var orgID string
	err := s.PG.QueryRowContext(ctx, `SELECT org_id FROM teams WHERE id = $1`, teamID).Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return errs.NotFound("team", teamID)
		}
		return fmt.Errorf("failed to get team: %w", err)
	}

	steps := []saga.Step{
		{
			Name: "delete-member-rows",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1`, teamID)
				if err != nil {
					return fmt.Errorf("failed to delete team members: %w", err)
				}
				return nil
			},
		},
		{
			Name: "delete-team-row",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				_, err := s.PG.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
				if err != nil {
					return fmt.Errorf("failed to delete team: %w", err)
				}
				return nil
			},
		},
		{
			Name: "delete-resource-tuples",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Authz.DeleteResourceTuples(ctx, authz.TypeTeam, teamID)
			},
		},
		{
			Name: "invalidate-cache",
			Execute: func(ctx context.Context, sctx saga.Context) error {
				return s.Cache.Invalidate(ctx, cache.KeyTeamsByOrg(orgID))
			},
		},
	}
	return saga.New("delete-team", steps...).Run(ctx, saga.Context{})
}
