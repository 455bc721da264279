package errors

import "net/http"

// Error code constants. Errors carry code + message; handlers decide how much
// of the message is shown to the caller.

// Ticket error codes.
const (
	CodeTicketNotFound = "TICKET_NOT_FOUND"
	CodeTicketExists   = "TICKET_ALREADY_EXISTS"
)

// Tracking error codes (public endpoint).
const (
	CodeTrackingDenied  = "TRACKING_ACCESS_DENIED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnknownAction   = "UNKNOWN_ACTION"
	CodeMessageEmpty    = "MESSAGE_EMPTY"
	CodeKvaNotRequired  = "KVA_NOT_REQUIRED"
	CodeKvaAlreadyDone  = "KVA_ALREADY_DECIDED"
	CodeKvaLegacyLocked = "KVA_DECISION_LOCKED"
)

// Estimate error codes.
const (
	CodeEstimateNotFound = "ESTIMATE_NOT_FOUND"
)

// Auth error codes (staff API).
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
)

// Validation / infrastructure error codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeStoreFailure     = "STORE_FAILURE"
)

// genericTrackingMessage is deliberately identical for unknown ticket numbers
// and wrong tokens so the public endpoint cannot be used to enumerate valid
// ticket numbers.
const genericTrackingMessage = "ticket number or tracking token is not valid"

// ErrTrackingNotFound is returned when no ticket matches the supplied number.
func ErrTrackingNotFound() *AppError {
	return &AppError{
		Code:       CodeTicketNotFound,
		Message:    genericTrackingMessage,
		HTTPStatus: http.StatusNotFound,
	}
}

// ErrTrackingForbidden is returned when the ticket exists but the supplied
// token does not match. Same message as ErrTrackingNotFound.
func ErrTrackingForbidden() *AppError {
	return &AppError{
		Code:       CodeTrackingDenied,
		Message:    genericTrackingMessage,
		HTTPStatus: http.StatusForbidden,
	}
}

// ErrRateLimited is returned when the sliding-window limit is exhausted.
func ErrRateLimited() *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    "too many requests, retry in 60 seconds",
		HTTPStatus: http.StatusTooManyRequests,
	}
}
