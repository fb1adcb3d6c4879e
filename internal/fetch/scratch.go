package fetch

import (
	"fmt"
	"os"
	"path/filepath"
)

// WithScratch creates a per-job scratch directory under base, runs fn with
// it, and removes it on every exit path.
func WithScratch(base, jobID string, fn func(dir string) error) error {
	dir := filepath.Join(base, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	return fn(dir)
}
