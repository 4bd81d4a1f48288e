package db

import "time"

// ===========================
// ORGANIZATION MODELS
// ===========================

// Org represents a tenant organization
type Org struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

type CreateOrgRequest struct {
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug" binding:"required"`
	Description string `json:"description,omitempty"`
}

// OrgMember links a user to an org with a role template
type OrgMember struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// For API responses (populated via JOINs)
	UserEmail string `json:"user_email,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	RoleName  string `json:"role_name,omitempty"`
}

// ===========================
// USER MODELS
// ===========================

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Identity provider linkage
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"` // IdP uid; set by the create-user saga

	// Local fallback credential, bcrypt
	PasswordHash string `json:"-"`
}

type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	OrgID    string `json:"org_id" binding:"required"`
	RoleID   string `json:"role_id" binding:"required"`
}

// ===========================
// ROLE TEMPLATE MODELS
// ===========================

// Role is the source of truth for a user's org-level capabilities.
// Relationship tuples are derived from these flags, never the other way round.
type Role struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`

	// IsMaster is immutable after creation. Master roles cannot be edited
	// into or out of, and cannot be deleted.
	IsMaster bool `json:"is_master"`
	IsAdmin  bool `json:"is_admin"`

	CanView            bool `json:"can_view"`
	CanEdit            bool `json:"can_edit"`
	HaveAPIAccess      bool `json:"have_api_access"`
	HaveBillingOptions bool `json:"have_billing_options"`
	HaveWebhookAccess  bool `json:"have_webhook_access"`
	HaveGpgAccess      bool `json:"have_gpg_access"`
	HaveCertAccess     bool `json:"have_cert_access"`
	HaveAuditAccess    bool `json:"have_audit_access"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateRoleRequest struct {
	Name               string `json:"name" binding:"required"`
	Color              string `json:"color,omitempty"`
	IsAdmin            bool   `json:"is_admin"`
	CanView            bool   `json:"can_view"`
	CanEdit            bool   `json:"can_edit"`
	HaveAPIAccess      bool   `json:"have_api_access"`
	HaveBillingOptions bool   `json:"have_billing_options"`
	HaveWebhookAccess  bool   `json:"have_webhook_access"`
	HaveGpgAccess      bool   `json:"have_gpg_access"`
	HaveCertAccess     bool   `json:"have_cert_access"`
	HaveAuditAccess    bool   `json:"have_audit_access"`
}

// UpdateRoleRequest uses pointers so "field absent" and "set to false" are
// distinguishable. IsMaster is accepted in the payload only so the service can
// reject any attempt to set it.
type UpdateRoleRequest struct {
	Name               *string `json:"name,omitempty"`
	Color              *string `json:"color,omitempty"`
	IsMaster           *bool   `json:"is_master,omitempty"`
	IsAdmin            *bool   `json:"is_admin,omitempty"`
	CanView            *bool   `json:"can_view,omitempty"`
	CanEdit            *bool   `json:"can_edit,omitempty"`
	HaveAPIAccess      *bool   `json:"have_api_access,omitempty"`
	HaveBillingOptions *bool   `json:"have_billing_options,omitempty"`
	HaveWebhookAccess  *bool   `json:"have_webhook_access,omitempty"`
	HaveGpgAccess      *bool   `json:"have_gpg_access,omitempty"`
	HaveCertAccess     *bool   `json:"have_cert_access,omitempty"`
	HaveAuditAccess    *bool   `json:"have_audit_access,omitempty"`
}

type AssignRoleRequest struct {
	RoleID string `json:"role_id" binding:"required"`
}

// ===========================
// APP / ENVIRONMENT MODELS
// ===========================

// App is a project that holds environment variables, scoped to an org
type App struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`

	// For API responses
	EnvTypesCount int `json:"env_types_count,omitempty"`
}

type CreateAppRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
}

// EnvType is an environment tier (dev, staging, prod, ...) within an app
type EnvType struct {
	ID        string    `json:"id"`
	AppID     string    `json:"app_id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateEnvTypeRequest struct {
	Name string `json:"name" binding:"required"`
}

// DefaultEnvTypeNames are created for every new app
var DefaultEnvTypeNames = []string{"development", "staging", "production"}

// ===========================
// TEAM MODELS
// ===========================

type Team struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`

	// For API responses
	MembersCount int `json:"members_count,omitempty"`
}

type CreateTeamRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
}

type TeamMember struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	// For API responses
	UserEmail string `json:"user_email,omitempty"`
	UserName  string `json:"user_name,omitempty"`
}

// ===========================
// KEY / CERTIFICATE MODELS
// ===========================

// GpgKey stores GPG key metadata; key material lives in the vault backend
type GpgKey struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	PublicKey   string    `json:"public_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateGpgKeyRequest struct {
	Name        string `json:"name" binding:"required"`
	Fingerprint string `json:"fingerprint" binding:"required"`
	PublicKey   string `json:"public_key,omitempty"`
}

// Certificate stores TLS certificate metadata
type Certificate struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	Serial    string     `json:"serial"`
	NotAfter  *time.Time `json:"not_after,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CreateCertificateRequest struct {
	Name   string `json:"name" binding:"required"`
	Serial string `json:"serial" binding:"required"`
}

// ===========================
// ACCESS GRANT REQUESTS
// ===========================

// GrantAccessRequest targets one subject. Exactly one of UserID or TeamID is
// set; a team grant is written against the team's member userset.
type GrantAccessRequest struct {
	UserID string `json:"user_id,omitempty"`
	TeamID string `json:"team_id,omitempty"`
}
