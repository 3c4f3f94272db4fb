package admin

import "errors"

var (
	ErrServerAlreadyRunning = errors.New("admin server is already running")
	ErrServerNotRunning     = errors.New("admin server is not running")
	ErrListenerFailed       = errors.New("failed to create listener")
	ErrRequestFailed        = errors.New("admin request failed")
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeReloadFailed     = "RELOAD_FAILED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotReady         = "NOT_READY"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
