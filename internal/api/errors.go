package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"duelescrow/internal/escrow"
)

// writeEngineError renders an *escrow.Error on the wire. Not-found maps to
// 404, malformed input to 400, and internal errors (or any error that is not
// an *escrow.Error) to 500 with a generic message and no detail; every other
// kind (precondition, transient or permanent external failure,
// accountability publish) is reported as 200 with success=false and a short
// human string.
func writeEngineError(c *gin.Context, err error) {
	engineErr, ok := err.(*escrow.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	switch engineErr.Kind {
	case escrow.KindNotFound:
		c.JSON(http.StatusNotFound, errorResponse(engineErr.Message))
	case escrow.KindValidation:
		c.JSON(http.StatusBadRequest, errorResponse(engineErr.Message))
	case escrow.KindInternal:
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	default:
		c.JSON(http.StatusOK, errorResponse(engineErr.Message))
	}
}

func errorResponse(message string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   message,
	}
}
