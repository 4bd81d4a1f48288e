package cache

import "fmt"

// Key builders. Keeping them in one place so services and invalidating sagas
// cannot drift apart on key shapes.

func KeyAppsByOrg(orgID string) string {
	return fmt.Sprintf("apps:org:%s", orgID)
}

func KeyApp(appID string) string {
	return fmt.Sprintf("app:%s", appID)
}

func KeyEnvTypesByApp(appID string) string {
	return fmt.Sprintf("env_types:app:%s", appID)
}

func KeyRolesByOrg(orgID string) string {
	return fmt.Sprintf("roles:org:%s", orgID)
}

func KeyRole(roleID string) string {
	return fmt.Sprintf("role:%s", roleID)
}

func KeyOrgMembers(orgID string) string {
	return fmt.Sprintf("members:org:%s", orgID)
}

func KeyUserOrgPermissions(userID, orgID string) string {
	return fmt.Sprintf("perms:user:%s:org:%s", userID, orgID)
}

func KeyTeamsByOrg(orgID string) string {
	return fmt.Sprintf("teams:org:%s", orgID)
}

func KeyGpgKeysByOrg(orgID string) string {
	return fmt.Sprintf("gpg_keys:org:%s", orgID)
}

func KeyCertificatesByOrg(orgID string) string {
	return fmt.Sprintf("certificates:org:%s", orgID)
}
