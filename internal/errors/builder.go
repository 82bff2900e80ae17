package errors

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ErrorBuilder accumulates context onto an error before it is marked with
// one of the sentinel errors. It deliberately does not implement error:
// a chain that forgets Mark will not type-check as a return value.
type ErrorBuilder struct {
	err error
}

// NewError starts a chain from a fresh internal message.
func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.New(msg)}
}

// WithError starts a chain wrapping an upstream error.
func WithError(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// WithMessage prefixes internal context onto the message. Not shown to
// clients.
func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

// WithHint attaches the client-facing message. DisplayMessage surfaces the
// innermost hint, so the most specific call site wins.
func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

func (b *ErrorBuilder) WithHintf(format string, args ...any) *ErrorBuilder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithReportableDetails attaches structured key-values that are safe to
// return in the error response body. ReportableDetails reads them back;
// the payload travels as a safe detail so redaction never strips it.
func (b *ErrorBuilder) WithReportableDetails(details map[string]any) *ErrorBuilder {
	marshaled, err := json.Marshal(details)
	if err != nil {
		return b
	}
	b.err = errors.WithSafeDetails(b.err, "__json__:%s", errors.Safe(string(marshaled)))
	return b
}

// Mark ties the chain to a sentinel and ends it. Always the last call.
func (b *ErrorBuilder) Mark(reference error) error {
	b.err = errors.Mark(b.err, reference)
	return b.err
}

// Error returns the accumulated error without marking it.
func (b *ErrorBuilder) Error() error {
	return b.err
}
