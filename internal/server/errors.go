package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/comms/internal/apperr"
	"github.com/smallbiznis/comms/internal/authorization"
	"github.com/smallbiznis/comms/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = apperr.New(apperr.CodeUnauthorized, "unauthorized")
	ErrForbidden    = apperr.New(apperr.CodeForbidden, "forbidden")
	ErrNotFound     = apperr.New(apperr.CodeNotFound, "not_found")
	ErrInternal     = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

var codeStatus = map[apperr.Code]int{
	apperr.CodeUnauthorized:      http.StatusUnauthorized,
	apperr.CodeForbidden:         http.StatusForbidden,
	apperr.CodeEditWindowExpired: http.StatusForbidden,
	apperr.CodeNotFound:          http.StatusNotFound,
	apperr.CodeConflict:          http.StatusConflict,
	apperr.CodeCallAlreadyActive: http.StatusConflict,
	apperr.CodeCallEnded:         http.StatusConflict,
	apperr.CodeLastOwner:         http.StatusConflict,
	apperr.CodeInvalidType:       http.StatusBadRequest,
	apperr.CodeInvalidParent:     http.StatusBadRequest,
	apperr.CodeInvalidArgument:   http.StatusBadRequest,
	apperr.CodeRateLimited:       http.StatusTooManyRequests,
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalPayload()
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{
			Type:    strings.ToLower(string(apperr.CodeInvalidArgument)),
			Message: "invalid_page_token",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    strings.ToLower(string(apperr.CodeForbidden)),
			Message: "forbidden",
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    strings.ToLower(string(apperr.CodeNotFound)),
			Message: "not_found",
		}
	}

	code := apperr.CodeOf(err)
	status, ok := codeStatus[code]
	if !ok {
		return http.StatusInternalServerError, internalPayload()
	}
	return status, errorPayload{
		Type:    strings.ToLower(string(code)),
		Message: apperr.ReasonOf(err),
	}
}

func internalPayload() errorPayload {
	return errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// classifyErrorForLog returns the payload type and reason logged next to a
// failed request.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, err.Error()
	}
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Message
}
