package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/services"
)

// KeysHandler handles gpg key and certificate HTTP requests.
type KeysHandler struct {
	gpgKeys *services.GpgKeyService
	certs   *services.CertificateService
}

func NewKeysHandler(gpgKeys *services.GpgKeyService, certs *services.CertificateService) *KeysHandler {
	return &KeysHandler{gpgKeys: gpgKeys, certs: certs}
}

// CreateGpgKey handles POST /orgs/:org_id/gpg-keys
func (h *KeysHandler) CreateGpgKey(c *gin.Context) {
	var req db.CreateGpgKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, err := h.gpgKeys.CreateGpgKey(c.Request.Context(), c.Param("org_id"), c.GetString("user_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, key)
}

// ListGpgKeys handles GET /orgs/:org_id/gpg-keys
func (h *KeysHandler) ListGpgKeys(c *gin.Context) {
	keys, err := h.gpgKeys.GetGpgKeysByOrg(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gpg_keys": keys})
}

// DeleteGpgKey handles DELETE /orgs/:org_id/gpg-keys/:key_id
func (h *KeysHandler) DeleteGpgKey(c *gin.Context) {
	if err := h.gpgKeys.DeleteGpgKey(c.Request.Context(), c.Param("key_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "gpg key deleted"})
}

// GrantGpgKeyAccess handles POST /orgs/:org_id/gpg-keys/:key_id/access
func (h *KeysHandler) GrantGpgKeyAccess(c *gin.Context) {
	var req db.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.gpgKeys.GrantAccess(c.Request.Context(), c.Param("key_id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "access granted"})
}

// RevokeGpgKeyAccess handles DELETE /orgs/:org_id/gpg-keys/:key_id/access
func (h *KeysHandler) RevokeGpgKeyAccess(c *gin.Context) {
	var req db.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.gpgKeys.RevokeAccess(c.Request.Context(), c.Param("key_id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "access revoked"})
}

// CreateCertificate handles POST /orgs/:org_id/certificates
func (h *KeysHandler) CreateCertificate(c *gin.Context) {
	var req db.CreateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cert, err := h.certs.CreateCertificate(c.Request.Context(), c.Param("org_id"), c.GetString("user_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

// ListCertificates handles GET /orgs/:org_id/certificates
func (h *KeysHandler) ListCertificates(c *gin.Context) {
	certs, err := h.certs.GetCertificatesByOrg(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs})
}

// DeleteCertificate handles DELETE /orgs/:org_id/certificates/:cert_id
func (h *KeysHandler) DeleteCertificate(c *gin.Context) {
	if err := h.certs.DeleteCertificate(c.Request.Context(), c.Param("cert_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "certificate deleted"})
}

// GrantCertificateAccess handles POST /orgs/:org_id/certificates/:cert_id/access
func (h *KeysHandler) GrantCertificateAccess(c *gin.Context) {
	var req db.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.certs.GrantAccess(c.Request.Context(), c.Param("cert_id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "access granted"})
}

// RevokeCertificateAccess handles DELETE /orgs/:org_id/certificates/:cert_id/access
func (h *KeysHandler) RevokeCertificateAccess(c *gin.Context) {
	var req db.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.certs.RevokeAccess(c.Request.Context(), c.Param("cert_id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "access revoked"})
}
