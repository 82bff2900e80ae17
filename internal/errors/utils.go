package errors

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// DisplayMessage returns the first non-empty hint attached to the error,
// falling back to a generic message. Hints are the only part of an error
// that may reach a client.
func DisplayMessage(err error) string {
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		// GetAllHints is post-order traversal
		for _, hint := range hints {
			if hint = strings.TrimSpace(hint); hint != "" {
				return hint
			}
		}
	}

	return "An unexpected error occurred"
}

// ReportableDetails collects the structured details attached via
// WithReportableDetails across the whole error chain.
func ReportableDetails(err error) map[string]any {
	details := make(map[string]any)

	allSafeDetails := errors.GetAllSafeDetails(err)
	for _, sdp := range allSafeDetails {
		if len(sdp.SafeDetails) == 0 {
			continue
		}

		for _, payload := range sdp.SafeDetails {
			if len(payload) > 9 && strings.HasPrefix(payload, "__json__:") {
				jsonStr := payload[9:]
				var jsonDetails map[string]any
				if err := json.Unmarshal([]byte(jsonStr), &jsonDetails); err == nil {
					for k, v := range jsonDetails {
						details[k] = v
					}
				}
			}
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}
