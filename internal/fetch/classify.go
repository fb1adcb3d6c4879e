package fetch

import (
	"strings"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// Keyword sets used to map external-tool output onto the typed error
// taxonomy. Substring matching is best-effort; anything unrecognized is
// treated as transient so the retry policy gets one chance instead of the
// job being dropped.
var permanentIndicators = map[string]string{
	"http error 401":          "unauthorized",
	"http error 403":          "forbidden",
	"http error 404":          "not_found",
	"http error 410":          "gone",
	"private video":           "private",
	"copyright":               "copyright",
	"video unavailable":       "unavailable",
	"content isn't available": "unavailable",
	"account associated":      "unavailable",
	"age-restricted":          "age_restricted",
	"age restricted":          "age_restricted",
	"confirm your age":        "age_restricted",
	"unsupported url":         "unsupported",
}

var transientIndicators = []string{
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"connection aborted",
	"temporary failure",
	"tls",
	"ssl",
	"http error 500",
	"http error 502",
	"http error 503",
	"http error 504",
	"network is unreachable",
	"read error",
	"incomplete read",
}

// Classify inspects tool output and wraps err as PermanentError or
// TransientError for the given operation.
func Classify(op, output string, err error) error {
	lower := strings.ToLower(output)

	for needle, reason := range permanentIndicators {
		if strings.Contains(lower, needle) {
			return shorts.NewPermanentError(op, reason, err)
		}
	}

	for _, needle := range transientIndicators {
		if strings.Contains(lower, needle) {
			return shorts.NewTransientError(op, err)
		}
	}

	// Unclassified output defaults to transient.
	return shorts.NewTransientError(op, err)
}
