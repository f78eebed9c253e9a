package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes shared by the REST edge and the websocket edge. Clients branch
// on the code string, never on the message.
const (
	ErrCodeAccessDenied           = "ACCESS_DENIED"
	ErrCodeReadOnlyConversation   = "READ_ONLY_CONVERSATION"
	ErrCodeNegotiationDisabled    = "NEGOTIATION_DISABLED"
	ErrCodeNoActiveNegotiation    = "NO_ACTIVE_NEGOTIATION"
	ErrCodeNegotiationExpired     = "NEGOTIATION_EXPIRED"
	ErrCodeEditWindowExpired      = "EDIT_WINDOW_EXPIRED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeSystemMessageImmutable = "SYSTEM_MESSAGE_IMMUTABLE"
	ErrCodeUnsupportedMessageType = "UNSUPPORTED_MESSAGE_TYPE"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// AppError is a service-layer error carrying a stable code
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// NewAppError creates an AppError with the given code, message and details
func NewAppError(code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details}
}

// SuccessResponse is the standard success envelope
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the standard error envelope
type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   ErrorBody `json:"error"`
}

// ErrorBody carries the code and message inside an ErrorResponse
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendSuccess writes a success envelope
func SendSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{Success: true, Data: data})
}

// SendError writes an error envelope
func SendError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Success: false, Error: ErrorBody{Code: code, Message: message}})
}

// HTTPStatus maps an error code to an HTTP status code
func HTTPStatus(code string) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeAccessDenied, ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeReadOnlyConversation, ErrCodeNegotiationDisabled,
		ErrCodeNoActiveNegotiation, ErrCodeNegotiationExpired,
		ErrCodeEditWindowExpired, ErrCodeSystemMessageImmutable,
		ErrCodeUnsupportedMessageType:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
