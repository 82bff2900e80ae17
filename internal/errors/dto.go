package errors

// ErrorResponse is the uniform error body returned on non-2xx responses.
// Internal failures never leak stack traces or raw gateway payloads here.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// NewErrorResponse builds the response body for an error using its
// user-facing hint when present.
func NewErrorResponse(err error) *ErrorResponse {
	if err == nil {
		return nil
	}
	return &ErrorResponse{
		Error:   DisplayMessage(err),
		Details: ReportableDetails(err),
	}
}
