package fetch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

func TestClassify(t *testing.T) {
	cause := errors.New("yt-dlp exited with status 1")

	tests := []struct {
		name       string
		output     string
		permanent  bool
		wantReason string
	}{
		{
			name:       "404 is permanent",
			output:     "ERROR: [youtube] abc: HTTP Error 404: Not Found",
			permanent:  true,
			wantReason: "not_found",
		},
		{
			name:       "403 is permanent",
			output:     "ERROR: unable to download video data: HTTP Error 403: Forbidden",
			permanent:  true,
			wantReason: "forbidden",
		},
		{
			name:       "private video is permanent",
			output:     "ERROR: [youtube] abc: Private video. Sign in if you've been granted access",
			permanent:  true,
			wantReason: "private",
		},
		{
			name:       "copyright takedown is permanent",
			output:     "ERROR: This video contains content from X, who has blocked it on copyright grounds",
			permanent:  true,
			wantReason: "copyright",
		},
		{
			name:       "age restriction is permanent",
			output:     "ERROR: Sign in to confirm your age. This video may be inappropriate for some users",
			permanent:  true,
			wantReason: "age_restricted",
		},
		{
			name:      "connection reset is transient",
			output:    "ERROR: Connection reset by peer",
			permanent: false,
		},
		{
			name:      "timeout is transient",
			output:    "ERROR: The read operation timed out",
			permanent: false,
		},
		{
			name:      "502 is transient",
			output:    "ERROR: Unable to download webpage: HTTP Error 502: Bad Gateway",
			permanent: false,
		},
		{
			name:      "tls failure is transient",
			output:    "ERROR: SSL: UNEXPECTED_EOF_WHILE_READING",
			permanent: false,
		},
		{
			name:      "unrecognized output defaults to transient",
			output:    "ERROR: something nobody has seen before",
			permanent: false,
		},
		{
			name:      "empty output defaults to transient",
			output:    "",
			permanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("download", tt.output, cause)
			require.Error(t, err)
			assert.ErrorIs(t, err, cause)

			if tt.permanent {
				var pe *shorts.PermanentError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, tt.wantReason, pe.Reason)
				assert.False(t, shorts.IsRetryable(err))
			} else {
				assert.True(t, shorts.IsRetryable(err))
			}
		})
	}
}
