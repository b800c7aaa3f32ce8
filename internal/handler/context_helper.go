package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/course-engine-api/internal/middleware"
	"github.com/noah-isme/course-engine-api/internal/models"
	appErrors "github.com/noah-isme/course-engine-api/pkg/errors"
	"github.com/noah-isme/course-engine-api/pkg/response"
)

var errUserNotFound = appErrors.Clone(appErrors.ErrNotFound, "user not found")

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.CurrentUser(c)
	if !ok {
		return nil
	}
	return claims
}

func invalidPayload(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
}

// pathID returns the named path parameter when it is a canonical UUID.
// Anything else cannot name a row, so notFound is written and ok is false.
func pathID(c *gin.Context, name string, notFound error) (string, bool) {
	id := c.Param(name)
	if len(id) != 36 {
		response.Error(c, notFound)
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		response.Error(c, notFound)
		return "", false
	}
	return id, true
}
