// Package handler holds the HTTP handlers of the pipeline API.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apiflow/backend/internal/infrastructure/logger"
	"github.com/apiflow/backend/internal/interfaces/http/dto"
)

// BaseHandler provides common response helpers.
type BaseHandler struct{}

func requestID(c *gin.Context) string {
	return logger.GetRequestID(c.Request.Context())
}

// Success sends a 200 response carrying data.
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Error sends an error response with the status derived from code.
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponse(code, message, requestID(c)))
}

// BadRequest sends a 400 response.
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// HandleError classifies err and responds with the matching status. Internal
// errors are logged and their text withheld from the client.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	code := dto.ErrorCode(err)
	if code == dto.ErrCodeInternal {
		logger.L(c.Request.Context()).Error("request failed", zap.Error(err))
		h.Error(c, code, "internal server error")
		return
	}
	h.Error(c, code, err.Error())
}

// BindJSON binds the request body into obj and answers 400 on failure.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.Error(c, dto.ErrCodeValidation, verrs.Error())
		} else {
			h.Error(c, dto.ErrCodeInvalidJSON, err.Error())
		}
		return false
	}
	return true
}

// ParamUUID parses a path parameter as a UUID and answers 400 on failure.
func (h *BaseHandler) ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "invalid "+name+": must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
