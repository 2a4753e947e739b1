package forwarder

import "fmt"

// ForwardError represents a forwarding-specific error
type ForwardError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches ForwardErrors by code, so errors.Is works against the exported
// sentinels regardless of message and details.
func (e *ForwardError) Is(target error) bool {
	t, ok := target.(*ForwardError)
	return ok && t.Code == e.Code
}

// Common error codes
const (
	ErrCodeInvalidNonce      = "invalid_nonce"
	ErrCodeInvalidSignature  = "invalid_signature"
	ErrCodeOnlyForwarder     = "only_forwarder"
	ErrCodeBatchAborted      = "batch_aborted"
	ErrCodeExecutionReverted = "execution_reverted"
	ErrCodeMalformedRequest  = "malformed_request"
)

// Sentinels for errors.Is checks.
var (
	ErrInvalidNonce      = &ForwardError{Code: ErrCodeInvalidNonce, Message: "request nonce does not match expected nonce"}
	ErrInvalidSignature  = &ForwardError{Code: ErrCodeInvalidSignature, Message: "signature does not match request"}
	ErrOnlyForwarder     = &ForwardError{Code: ErrCodeOnlyForwarder, Message: "caller is not the forwarder"}
	ErrBatchAborted      = &ForwardError{Code: ErrCodeBatchAborted, Message: "batch aborted by failing entry"}
	ErrExecutionReverted = &ForwardError{Code: ErrCodeExecutionReverted, Message: "forwarded call reverted"}
)

// NewForwardError creates a new forward error
func NewForwardError(code, message string, details map[string]interface{}) *ForwardError {
	return &ForwardError{
		Code:    code,
		Message: message,
		Details: details,
	}
}
