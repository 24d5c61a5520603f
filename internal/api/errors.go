package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/axiomme/axiomme/internal/apperr"
)

// statusForCode maps an apperr.Code to its HTTP status, the boundary
// translation the teacher's mapServiceError performs for its own
// service-layer error types.
func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InvalidURI, apperr.InvalidScope, apperr.ValidationFailed, apperr.InvalidArchive:
		return http.StatusBadRequest
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.PermissionDenied, apperr.PathTraversal, apperr.SecurityViolation:
		return http.StatusForbidden
	case apperr.OntologyViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err into a JSON error envelope, unwrapping an
// *apperr.Error for its code when present.
func writeError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", code, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
