package handlers

import (
	"net/http"

	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/pkg/types"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/bhandras/huddle/shared/wire"
	"github.com/gin-gonic/gin"
)

// writeError maps err to an HTTP status using the realtime error taxonomy.
func writeError(c *gin.Context, err error) {
	code := realtime.CodeOf(err)
	status := http.StatusInternalServerError
	msg := "internal error"
	switch code {
	case wire.CodeAuthentication:
		status, msg = http.StatusUnauthorized, err.Error()
	case wire.CodeAuthorization:
		status, msg = http.StatusForbidden, err.Error()
	case wire.CodeNotFound:
		status, msg = http.StatusNotFound, err.Error()
	case wire.CodeValidation:
		status, msg = http.StatusBadRequest, err.Error()
	default:
		logger.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, types.ErrorResponse{Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: msg, Code: wire.CodeValidation})
}
