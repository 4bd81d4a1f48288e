package authz

import (
	"context"

	"github.com/envhub/envhub/errs"
	"github.com/envhub/envhub/fga"
)

// PermissionSnapshot is the flattened boolean view of a user's org-level
// permissions, shaped for request-handling middleware. Built by batch-checking
// the fixed relation list below; never persisted.
type PermissionSnapshot struct {
	Member             bool `json:"member"`
	Admin              bool `json:"admin"`
	Master             bool `json:"master"`
	CanView            bool `json:"can_view"`
	CanEdit            bool `json:"can_edit"`
	HaveAPIAccess      bool `json:"have_api_access"`
	HaveBillingOptions bool `json:"have_billing_options"`
	HaveWebhookAccess  bool `json:"have_webhook_access"`
	HaveGpgAccess      bool `json:"have_gpg_access"`
	HaveCertAccess     bool `json:"have_cert_access"`
	HaveAuditAccess    bool `json:"have_audit_access"`
	CanManageRoles     bool `json:"can_manage_roles"`
	CanManageUsers     bool `json:"can_manage_users"`
	CanManageApps      bool `json:"can_manage_apps"`
	CanManageBilling   bool `json:"can_manage_billing"`
}

// Allowed reports whether the snapshot grants the given relation. Unknown
// relations get a NotFound error, mirroring RelationForPermission.
func (p PermissionSnapshot) Allowed(relation string) (bool, error) {
	switch relation {
	case RelationMember:
		return p.Member, nil
	case RelationAdmin:
		return p.Admin, nil
	case RelationMaster:
		return p.Master, nil
	case RelationCanView:
		return p.CanView, nil
	case RelationCanEdit:
		return p.CanEdit, nil
	case RelationHaveAPIAccess:
		return p.HaveAPIAccess, nil
	case RelationHaveBillingOptions:
		return p.HaveBillingOptions, nil
	case RelationHaveWebhookAccess:
		return p.HaveWebhookAccess, nil
	case RelationHaveGpgAccess:
		return p.HaveGpgAccess, nil
	case RelationHaveCertAccess:
		return p.HaveCertAccess, nil
	case RelationHaveAuditAccess:
		return p.HaveAuditAccess, nil
	case RelationCanManageRoles:
		return p.CanManageRoles, nil
	case RelationCanManageUsers:
		return p.CanManageUsers, nil
	case RelationCanManageApps:
		return p.CanManageApps, nil
	case RelationCanManageBilling:
		return p.CanManageBilling, nil
	default:
		return false, errs.NotFound("permission", relation)
	}
}

// snapshotRelations is the closed list of relations a snapshot covers.
var snapshotRelations = []string{
	RelationMember,
	RelationAdmin,
	RelationMaster,
	RelationCanView,
	RelationCanEdit,
	RelationHaveAPIAccess,
	RelationHaveBillingOptions,
	RelationHaveWebhookAccess,
	RelationHaveGpgAccess,
	RelationHaveCertAccess,
	RelationHaveAuditAccess,
	RelationCanManageRoles,
	RelationCanManageUsers,
	RelationCanManageApps,
	RelationCanManageBilling,
}

// GetUserOrgPermissions batch-checks the fixed relation list against the org
// and returns the flattened snapshot.
func (s *Service) GetUserOrgPermissions(ctx context.Context, userID, orgID string) (PermissionSnapshot, error) {
	org := OrgRef(orgID)
	items := make([]fga.CheckItem, 0, len(snapshotRelations))
	for _, rel := range snapshotRelations {
		items = append(items, fga.CheckItem{Relation: rel, Object: org})
	}

	results, err := s.BatchCheck(ctx, userID, items)
	if err != nil {
		return PermissionSnapshot{}, err
	}

	allowed := func(rel string) bool { return results[rel+":"+org] }
	return PermissionSnapshot{
		Member:             allowed(RelationMember),
		Admin:              allowed(RelationAdmin),
		Master:             allowed(RelationMaster),
		CanView:            allowed(RelationCanView),
		CanEdit:            allowed(RelationCanEdit),
		HaveAPIAccess:      allowed(RelationHaveAPIAccess),
		HaveBillingOptions: allowed(RelationHaveBillingOptions),
		HaveWebhookAccess:  allowed(RelationHaveWebhookAccess),
		HaveGpgAccess:      allowed(RelationHaveGpgAccess),
		HaveCertAccess:     allowed(RelationHaveCertAccess),
		HaveAuditAccess:    allowed(RelationHaveAuditAccess),
		CanManageRoles:     allowed(RelationCanManageRoles),
		CanManageUsers:     allowed(RelationCanManageUsers),
		CanManageApps:      allowed(RelationCanManageApps),
		CanManageBilling:   allowed(RelationCanManageBilling),
	}, nil
}
