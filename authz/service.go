// Package authz keeps the relationship-tuple graph consistent with the role
// templates and resource hierarchy stored in the primary store.
//
// Tuples are derived data: the role template row is the source of truth, and
// the two are eventually (not transactionally) consistent. A crash between a
// primary-store write and the tuple resync leaves them diverged until the
// next explicit resync.
package authz

import (
	"context"
	"fmt"
	"log"

	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/fga"
)

// TupleStore is the subset of the tuple-store client the service depends on.
// Satisfied by *fga.Client; faked in tests.
type TupleStore interface {
	Check(ctx context.Context, user, relation, object string) (bool, error)
	BatchCheck(ctx context.Context, user string, items []fga.CheckItem) (map[string]bool, error)
	WriteTuples(ctx context.Context, tuples []fga.Tuple) error
	DeleteTuples(ctx context.Context, tuples []fga.Tuple) error
	WriteTx(ctx context.Context, writes, deletes []fga.Tuple) error
	ReadTuples(ctx context.Context, partial fga.Tuple) ([]fga.Tuple, error)
	ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error)
}

// Service synchronizes role templates with the tuple store. Any tuple-store
// failure propagates unchanged to the caller, which is typically a saga step
// whose compensation will run.
type Service struct {
	store   TupleStore
	members MemberRepository
}

func NewService(store TupleStore, members MemberRepository) *Service {
	return &Service{store: store, members: members}
}

// AssignRoleToUser writes the tuple set derived from the role's flags. It
// never reads prior tuple state; pair it with RemoveUserOrgPermissions when
// replacing an existing role.
func (s *Service) AssignRoleToUser(ctx context.Context, userID, orgID string, role db.Role) error {
	return s.store.WriteTuples(ctx, RoleTuples(userID, orgID, role))
}

// RemoveUserOrgPermissions reads every tuple the user holds on the org (any
// relation) and deletes exactly that set. The delete is chunked by the client,
// so arbitrarily large sets are tolerated.
func (s *Service) RemoveUserOrgPermissions(ctx context.Context, userID, orgID string) error {
	existing, err := s.store.ReadTuples(ctx, fga.Tuple{User: UserRef(userID), Object: OrgRef(orgID)})
	if err != nil {
		return fmt.Errorf("read user org tuples: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}
	return s.store.DeleteTuples(ctx, existing)
}

// ResyncUserRole replaces the user's org tuples with the set derived from
// newRole: delete-all-then-rewrite, not an incremental diff. The two calls are
// not atomic; a failure or race between them leaves the user transiently with
// zero org permissions. That fail-closed window is intentional - the replace
// must never fail open.
func (s *Service) ResyncUserRole(ctx context.Context, userID, orgID string, newRole db.Role) error {
	if err := s.RemoveUserOrgPermissions(ctx, userID, orgID); err != nil {
		return err
	}
	return s.AssignRoleToUser(ctx, userID, orgID, newRole)
}

// ResyncAllUsersWithRole resyncs every current holder of the role, one member
// at a time. Sequential by design: one tuple-store round-trip per user, total
// latency bounded by the slowest member. For orgs with many members this is a
// known latency risk; it stays inline until background execution is confirmed
// as a requirement.
//
// A concurrent ResyncUserRole for one of the same users races with this loop;
// both sides are last-write-wins and the outcome depends on completion order.
func (s *Service) ResyncAllUsersWithRole(ctx context.Context, orgID string, role db.Role) error {
	userIDs, err := s.members.ListUserIDsWithRole(ctx, orgID, role.ID)
	if err != nil {
		return err
	}
	log.Printf("authz: resyncing %d users holding role %s in org %s", len(userIDs), role.ID, orgID)
	for _, userID := range userIDs {
		if err := s.ResyncUserRole(ctx, userID, orgID, role); err != nil {
			return fmt.Errorf("resync user %s: %w", userID, err)
		}
	}
	return nil
}

// Check answers one point query for a user.
func (s *Service) Check(ctx context.Context, userID, relation, object string) (bool, error) {
	return s.store.Check(ctx, UserRef(userID), relation, object)
}

// BatchCheck fans out independent point queries for a user; results are keyed
// "relation:object".
func (s *Service) BatchCheck(ctx context.Context, userID string, items []fga.CheckItem) (map[string]bool, error) {
	return s.store.BatchCheck(ctx, UserRef(userID), items)
}

// ===========================
// STRUCTURAL TUPLES
// ===========================

// WriteAppOrgRelation records that an app belongs to an org.
func (s *Service) WriteAppOrgRelation(ctx context.Context, appID, orgID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: OrgRef(orgID), Relation: RelationOrg, Object: AppRef(appID)},
	})
}

// WriteEnvTypeRelations records an env type's app and org parents.
func (s *Service) WriteEnvTypeRelations(ctx context.Context, envTypeID, appID, orgID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: AppRef(appID), Relation: RelationApp, Object: EnvTypeRef(envTypeID)},
		{User: OrgRef(orgID), Relation: RelationOrg, Object: EnvTypeRef(envTypeID)},
	})
}

// WriteTeamOrgRelation records that a team belongs to an org.
func (s *Service) WriteTeamOrgRelation(ctx context.Context, teamID, orgID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: OrgRef(orgID), Relation: RelationOrg, Object: TeamRef(teamID)},
	})
}

// AddTeamMember records team membership. Grants written against the team's
// member-set reach the user through this tuple.
func (s *Service) AddTeamMember(ctx context.Context, teamID, userID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: UserRef(userID), Relation: RelationMember, Object: TeamRef(teamID)},
	})
}

// RemoveTeamMember removes the tuple written by AddTeamMember.
func (s *Service) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	return s.store.DeleteTuples(ctx, []fga.Tuple{
		{User: UserRef(userID), Relation: RelationMember, Object: TeamRef(teamID)},
	})
}

// WriteGpgKeyRelations records a gpg key's org and owner.
func (s *Service) WriteGpgKeyRelations(ctx context.Context, keyID, orgID, ownerID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: OrgRef(orgID), Relation: RelationOrg, Object: GpgKeyRef(keyID)},
		{User: UserRef(ownerID), Relation: RelationOwner, Object: GpgKeyRef(keyID)},
	})
}

// WriteCertificateRelations records a certificate's org and owner.
func (s *Service) WriteCertificateRelations(ctx context.Context, certID, orgID, ownerID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: OrgRef(orgID), Relation: RelationOrg, Object: CertificateRef(certID)},
		{User: UserRef(ownerID), Relation: RelationOwner, Object: CertificateRef(certID)},
	})
}

// DeleteResourceTuples removes every tuple whose object is the given resource,
// regardless of subject or relation. Called on resource deletion so no
// orphaned grants survive the row.
func (s *Service) DeleteResourceTuples(ctx context.Context, objectType, id string) error {
	existing, err := s.store.ReadTuples(ctx, fga.Tuple{Object: objectType + ":" + id})
	if err != nil {
		return fmt.Errorf("read resource tuples: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}
	return s.store.DeleteTuples(ctx, existing)
}

// ===========================
// FINE-GRAINED GRANTS
// ===========================

// GrantAppAccess grants one subject (user or team member-set) access to an app.
func (s *Service) GrantAppAccess(ctx context.Context, subject, appID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: subject, Relation: RelationCanAccess, Object: AppRef(appID)},
	})
}

// RevokeAppAccess removes the grant written by GrantAppAccess.
func (s *Service) RevokeAppAccess(ctx context.Context, subject, appID string) error {
	return s.store.DeleteTuples(ctx, []fga.Tuple{
		{User: subject, Relation: RelationCanAccess, Object: AppRef(appID)},
	})
}

// GrantEnvTypeAccess grants one subject access to an environment type.
func (s *Service) GrantEnvTypeAccess(ctx context.Context, subject, envTypeID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: subject, Relation: RelationCanAccess, Object: EnvTypeRef(envTypeID)},
	})
}

// RevokeEnvTypeAccess removes the grant written by GrantEnvTypeAccess.
func (s *Service) RevokeEnvTypeAccess(ctx context.Context, subject, envTypeID string) error {
	return s.store.DeleteTuples(ctx, []fga.Tuple{
		{User: subject, Relation: RelationCanAccess, Object: EnvTypeRef(envTypeID)},
	})
}

// GrantGpgKeyAccess grants one subject read access to a gpg key.
func (s *Service) GrantGpgKeyAccess(ctx context.Context, subject, keyID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: subject, Relation: RelationCanRead, Object: GpgKeyRef(keyID)},
	})
}

// RevokeGpgKeyAccess removes the grant written by GrantGpgKeyAccess.
func (s *Service) RevokeGpgKeyAccess(ctx context.Context, subject, keyID string) error {
	return s.store.DeleteTuples(ctx, []fga.Tuple{
		{User: subject, Relation: RelationCanRead, Object: GpgKeyRef(keyID)},
	})
}

// GrantCertificateAccess grants one subject read access to a certificate.
func (s *Service) GrantCertificateAccess(ctx context.Context, subject, certID string) error {
	return s.store.WriteTuples(ctx, []fga.Tuple{
		{User: subject, Relation: RelationCanRead, Object: CertificateRef(certID)},
	})
}

// RevokeCertificateAccess removes the grant written by GrantCertificateAccess.
func (s *Service) RevokeCertificateAccess(ctx context.Context, subject, certID string) error {
	return s.store.DeleteTuples(ctx, []fga.Tuple{
		{User: subject, Relation: RelationCanRead, Object: CertificateRef(certID)},
	})
}

// ListAccessibleApps returns the app ids the user can access.
func (s *Service) ListAccessibleApps(ctx context.Context, userID string) ([]string, error) {
	return s.store.ListObjects(ctx, UserRef(userID), RelationCanAccess, TypeApp)
}
