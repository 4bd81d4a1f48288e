package authz

import (
	"strings"

	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/errs"
	"github.com/envhub/envhub/fga"
)

// Relation names in the authorization model. Org-level relations mirror the
// role-template flags one to one.
const (
	RelationMember             = "member"
	RelationAdmin              = "admin"
	RelationMaster             = "master"
	RelationCanView            = "can_view"
	RelationCanEdit            = "can_edit"
	RelationHaveAPIAccess      = "have_api_access"
	RelationHaveBillingOptions = "have_billing_options"
	RelationHaveWebhookAccess  = "have_webhook_access"
	RelationHaveGpgAccess      = "have_gpg_access"
	RelationHaveCertAccess     = "have_cert_access"
	RelationHaveAuditAccess    = "have_audit_access"
	RelationCanManageRoles     = "can_manage_roles"
	RelationCanManageUsers     = "can_manage_users"
	RelationCanManageApps      = "can_manage_apps"
	RelationCanManageBilling   = "can_manage_billing"

	// Structural relations
	RelationOrg   = "org"
	RelationApp   = "app"
	RelationOwner = "owner"

	// Per-resource grant relations
	RelationCanAccess = "can_access"
	RelationCanRead   = "can_read"
)

// Object type prefixes
const (
	TypeUser        = "user"
	TypeOrg         = "org"
	TypeApp         = "app"
	TypeEnvType     = "env_type"
	TypeTeam        = "team"
	TypeGpgKey      = "gpg_key"
	TypeCertificate = "certificate"
)

func UserRef(id string) string        { return TypeUser + ":" + id }
func OrgRef(id string) string         { return TypeOrg + ":" + id }
func AppRef(id string) string         { return TypeApp + ":" + id }
func EnvTypeRef(id string) string     { return TypeEnvType + ":" + id }
func TeamRef(id string) string        { return TypeTeam + ":" + id }
func GpgKeyRef(id string) string      { return TypeGpgKey + ":" + id }
func CertificateRef(id string) string { return TypeCertificate + ":" + id }

// TeamMembersRef is the userset subject that grants access to every member of
// a team.
func TeamMembersRef(id string) string { return TypeTeam + ":" + id + "#member" }

// ObjectID strips the type prefix from an object ref ("app:123" -> "123").
func ObjectID(object string) string {
	if _, id, ok := strings.Cut(object, ":"); ok {
		return id
	}
	return object
}

// roleFlagRelations is the fixed mapping from role-template flags to org
// relations. Order determines tuple order, which keeps derived sets
// deterministic for tests and logs.
var roleFlagRelations = []struct {
	relation string
	enabled  func(db.Role) bool
}{
	{RelationMaster, func(r db.Role) bool { return r.IsMaster }},
	{RelationAdmin, func(r db.Role) bool { return r.IsAdmin }},
	{RelationCanView, func(r db.Role) bool { return r.CanView }},
	{RelationCanEdit, func(r db.Role) bool { return r.CanEdit }},
	{RelationHaveAPIAccess, func(r db.Role) bool { return r.HaveAPIAccess }},
	{RelationHaveBillingOptions, func(r db.Role) bool { return r.HaveBillingOptions }},
	{RelationHaveWebhookAccess, func(r db.Role) bool { return r.HaveWebhookAccess }},
	{RelationHaveGpgAccess, func(r db.Role) bool { return r.HaveGpgAccess }},
	{RelationHaveCertAccess, func(r db.Role) bool { return r.HaveCertAccess }},
	{RelationHaveAuditAccess, func(r db.Role) bool { return r.HaveAuditAccess }},
}

// RoleTuples derives the org tuple set for a user holding role. The member
// tuple is always present; every other relation is present iff its source
// flag is true. Pure function of its inputs, never reads prior tuple state.
func RoleTuples(userID, orgID string, role db.Role) []fga.Tuple {
	user := UserRef(userID)
	org := OrgRef(orgID)

	tuples := []fga.Tuple{{User: user, Relation: RelationMember, Object: org}}
	for _, fr := range roleFlagRelations {
		if fr.enabled(role) {
			tuples = append(tuples, fga.Tuple{User: user, Relation: fr.relation, Object: org})
		}
	}
	return tuples
}

// RelationForPermission maps a permission key from the API surface to its
// relation name. Unrecognized keys get a NotFound error rather than being
// passed through to the tuple store.
func RelationForPermission(key string) (string, error) {
	switch key {
	case RelationMember, RelationAdmin, RelationMaster,
		RelationCanView, RelationCanEdit,
		RelationHaveAPIAccess, RelationHaveBillingOptions, RelationHaveWebhookAccess,
		RelationHaveGpgAccess, RelationHaveCertAccess, RelationHaveAuditAccess,
		RelationCanManageRoles, RelationCanManageUsers, RelationCanManageApps,
		RelationCanManageBilling:
		return key, nil
	default:
		return "", errs.NotFound("permission", key)
	}
}

// RoleFlag returns the value of the role-template flag backing the given
// relation. Relations that are computed rather than stored (can_manage_*)
// and unknown keys get a NotFound error.
func RoleFlag(role db.Role, relation string) (bool, error) {
	switch relation {
	case RelationMember:
		return true, nil
	case RelationMaster:
		return role.IsMaster, nil
	case RelationAdmin:
		return role.IsAdmin, nil
	case RelationCanView:
		return role.CanView, nil
	case RelationCanEdit:
		return role.CanEdit, nil
	case RelationHaveAPIAccess:
		return role.HaveAPIAccess, nil
	case RelationHaveBillingOptions:
		return role.HaveBillingOptions, nil
	case RelationHaveWebhookAccess:
		return role.HaveWebhookAccess, nil
	case RelationHaveGpgAccess:
		return role.HaveGpgAccess, nil
	case RelationHaveCertAccess:
		return role.HaveCertAccess, nil
	case RelationHaveAuditAccess:
		return role.HaveAuditAccess, nil
	default:
		return false, errs.NotFound("permission", relation)
	}
}
