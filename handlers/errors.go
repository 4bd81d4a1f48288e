package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/envhub/envhub/errs"
)

// respondError maps service errors to HTTP statuses. Anything unclassified is
// a 500 with the raw message.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsNotFound(err):
		status = http.StatusNotFound
	case errs.IsValidation(err):
		status = http.StatusBadRequest
	case errs.IsBusinessRule(err):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
