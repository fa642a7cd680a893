package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/bhandras/huddle/internal/crypto"
	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/pkg/types"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
	"github.com/gin-gonic/gin"
)

const (
	subjectIDKey = "subjectID"
	claimsKey    = "claims"
)

// Provisioner resolves a verified external identity to a durable subject.
type Provisioner interface {
	Provision(ctx context.Context, externalID, displayName, photoURL string) (realtime.Subject, error)
}

// AuthMiddleware creates a middleware that validates bearer tokens and
// resolves the caller's subject.
func AuthMiddleware(verifier crypto.Verifier, subjects Provisioner) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		// Extract token (format: "Bearer <token>")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		claims, err := verifier.VerifyToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		subject, err := subjects.Provision(c.Request.Context(), claims.Subject, claims.Name, claims.Picture)
		if err != nil {
			logger.Errorf("Failed to provision subject %s: %v", claims.Subject, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, types.ErrorResponse{
				Error: "failed to resolve user",
				Code:  wire.CodePersistence,
			})
			return
		}

		c.Set(subjectIDKey, subject.ID)
		c.Set(claimsKey, claims)

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{
		Error: msg,
		Code:  wire.CodeAuthentication,
	})
}

// GetSubjectID extracts the caller's subject id from the Gin context.
func GetSubjectID(c *gin.Context) (string, bool) {
	subjectID, exists := c.Get(subjectIDKey)
	if !exists {
		return "", false
	}
	id, ok := subjectID.(string)
	return id, ok
}
