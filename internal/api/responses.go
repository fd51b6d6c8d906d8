package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/voxgate/internal/middleware"
	"github.com/NikhilSetiya/voxgate/internal/orchestrator"
	"github.com/NikhilSetiya/voxgate/pkg/errors"
)

// StatusClientClosedRequest is the nginx convention for a request the
// caller gave up on
const StatusClientClosedRequest = 499

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error
type APIError struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Attempts int               `json:"attempts,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

func requestID(c *gin.Context) string {
	if id, exists := c.Get(middleware.RequestIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

func respondError(c *gin.Context, status int, apiErr *APIError) {
	c.AbortWithStatusJSON(status, APIResponse{
		Success:   false,
		Error:     apiErr,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// SuccessResponse sends a 200 OK response
func SuccessResponse(c *gin.Context, data interface{}) {
	respond(c, http.StatusOK, data)
}

// AcceptedResponse sends a 202 Accepted response
func AcceptedResponse(c *gin.Context, data interface{}) {
	respond(c, http.StatusAccepted, data)
}

// StatusForCode maps a failure code to the HTTP status returned to clients.
// Provider-side failures surface as 502 since the caller's request was valid.
func StatusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.CodeValidation:
		return http.StatusBadRequest
	case errors.CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case errors.CodeRateLimit:
		return http.StatusTooManyRequests
	case errors.CodeCircuitBreakerOpen:
		return http.StatusServiceUnavailable
	case errors.CodeTimeout, errors.CodePollingTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}

// FailureResponse sends the error variant of an orchestration result
func FailureResponse(c *gin.Context, failure *orchestrator.Failure) {
	apiErr := &APIError{
		Code:     string(failure.Code),
		Message:  failure.Message,
		Attempts: failure.Attempts,
	}
	if failure.Err != nil && len(failure.Err.Details) > 0 {
		apiErr.Details = failure.Err.Details
	}
	respondError(c, StatusForCode(failure.Code), apiErr)
}

// ErrorResponseFromError sends an error response based on the error code
func ErrorResponseFromError(c *gin.Context, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		respondError(c, StatusForCode(appErr.Code), &APIError{
			Code:     string(appErr.Code),
			Message:  appErr.Message,
			Attempts: appErr.Attempts,
			Details:  appErr.Details,
		})
		return
	}
	InternalErrorResponse(c, "An unexpected error occurred")
}

// BadRequestResponse sends a 400 Bad Request response
func BadRequestResponse(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, &APIError{Code: string(errors.CodeValidation), Message: message})
}

// NotFoundResponse sends a 404 Not Found response
func NotFoundResponse(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, &APIError{Code: "NOT_FOUND", Message: message})
}

// PayloadTooLargeResponse sends a 413 Request Entity Too Large response
func PayloadTooLargeResponse(c *gin.Context, message string) {
	respondError(c, http.StatusRequestEntityTooLarge, &APIError{Code: string(errors.CodePayloadTooLarge), Message: message})
}

// InternalErrorResponse sends a 500 Internal Server Error response
func InternalErrorResponse(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, &APIError{Code: "INTERNAL_ERROR", Message: message})
}
