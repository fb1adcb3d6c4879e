package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Candidate is one catalog video eligible for ingestion. The catalog itself
// is maintained by the channel-sync collaborator; the selector only reads it.
type Candidate struct {
	VideoID     string       `db:"video_id"`
	Source      string       `db:"source"`
	Title       string       `db:"title"`
	PublishedAt sql.NullTime `db:"published_at"`
}

// SourceURL returns the canonical short URL for the candidate.
func (c Candidate) SourceURL() string {
	return "https://youtu.be/" + c.VideoID
}

// RecentCandidates returns the newest active catalog videos for a tenant from
// sources marked eligible for shorts ingestion.
func (s *Storage) RecentCandidates(ctx context.Context, tenant string, limit int) ([]Candidate, error) {
	query := `
		SELECT video_id, source, title, published_at
		FROM catalog_videos
		WHERE tenant = $1
		  AND is_active = TRUE
		  AND shorts_eligible = TRUE
		ORDER BY published_at DESC NULLS LAST, video_id DESC
		LIMIT $2
	`
	var out []Candidate
	if err := s.db.SelectContext(ctx, &out, query, tenant, limit); err != nil {
		return nil, fmt.Errorf("failed to select recent candidates: %w", err)
	}
	return out, nil
}

// PublishedTime returns the candidate's publish time or the zero time.
func (c Candidate) PublishedTime() time.Time {
	if c.PublishedAt.Valid {
		return c.PublishedAt.Time
	}
	return time.Time{}
}
