package transcode

import (
	"strings"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// Indicators that the input itself is unusable; retrying the same file
// cannot succeed.
var invalidInputIndicators = map[string]string{
	"invalid data found":       "invalid_media",
	"moov atom not found":      "invalid_media",
	"could not find codec":     "unsupported_codec",
	"decoder not found":        "unsupported_codec",
	"unknown format":           "invalid_media",
	"no such file":             "missing_input",
	"end of file":              "truncated_media",
	"invalid argument":         "invalid_media",
	"unsupported pixel format": "unsupported_codec",
}

// classifyEncode maps ffmpeg/ffprobe output onto the error taxonomy:
// input-validity failures are permanent, everything else transient.
func classifyEncode(op, output string, err error) error {
	lower := strings.ToLower(output)
	for needle, reason := range invalidInputIndicators {
		if strings.Contains(lower, needle) {
			return shorts.NewPermanentError(op, reason, err)
		}
	}
	return shorts.NewTransientError(op, err)
}
