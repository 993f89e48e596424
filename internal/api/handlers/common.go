package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/signal-bridge/signal_service/internal/api/middleware"
	"github.com/signal-bridge/signal_service/internal/domain/entities"
	domainerrors "github.com/signal-bridge/signal_service/internal/domain/errors"
	"github.com/signal-bridge/signal_service/pkg/logger"
)

var validate = validator.New()

// validateStruct runs the validate tags of req and reports the first
// failing field as a validation error.
func validateStruct(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domainerrors.ValidationError("body", err.Error())
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fe.Field()+" failed "+fe.Tag())
	}
	return domainerrors.ValidationErrors(messages)
}

// requestLogger returns the request scoped logger set by middleware.
func requestLogger(c *gin.Context) *logger.Logger {
	if v, ok := c.Get(middleware.ContextLogger); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return logger.Nop()
}

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	out := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	if rid := c.GetString(middleware.ContextRequestID); rid != "" {
		out["request_id"] = rid
	}
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: out,
	})
}

// respondBadRequest sends a bad request error
func respondBadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, message, nil)
}

// pathUUID parses a uuid path parameter, responding 400 when malformed.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidID, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID parses an optional uuid query parameter.
func queryUUID(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, domainerrors.ValidationError(name, "must be a uuid")
	}
	return &id, nil
}

// queryInt parses an integer query parameter with a default.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domainerrors.ValidationError(name, "must be an integer")
	}
	return v, nil
}

// authenticatedProvider returns the provider set by ProviderAuth. Routes
// mounting a handler that calls this always run ProviderAuth first.
func authenticatedProvider(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.ProviderID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, domainerrors.CodeUnauthorized, "Authentication required", nil)
	}
	return id, ok
}
