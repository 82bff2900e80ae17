package httpclient

import (
	goerrors "errors"
	"fmt"

	"github.com/tokenrail/tokenrail/internal/errors"
)

// Error is a non-2xx response after retries ran out. The raw body is kept
// for callers that need to inspect what the upstream said.
type Error struct {
	*errors.InternalError
	StatusCode int
	Response   []byte
}

func (e *Error) Unwrap() error {
	return e.InternalError.Unwrap()
}

func (e *Error) Error() string {
	return e.InternalError.Error()
}

func NewError(statusCode int, response []byte) *Error {
	return &Error{
		InternalError: &errors.InternalError{
			Code:    errors.ErrCodeHTTPClient,
			Message: fmt.Sprintf("upstream returned status %d", statusCode),
		},
		StatusCode: statusCode,
		Response:   response,
	}
}

// IsHTTPError extracts the typed error so callers can read the status code
// and response body.
func IsHTTPError(err error) (*Error, bool) {
	var httpErr *Error
	if goerrors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
