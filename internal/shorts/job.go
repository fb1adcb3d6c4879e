package shorts

import (
	"fmt"
	"time"
)

// Job status constants
const (
	StatusQueued      = "queued"
	StatusDownloading = "downloading"
	StatusTranscoding = "transcoding"
	StatusReady       = "ready"
	StatusFailed      = "failed"
	StatusDeleted     = "deleted"
)

// Content class constants, ordered by eviction priority (ephemeral goes first,
// pinned is never evicted).
const (
	ClassNormal    = "normal"
	ClassPreferred = "preferred"
	ClassPinned    = "pinned"
	ClassEphemeral = "ephemeral"
)

// Ladder profile names
const (
	ProfileShortsV1      = "shorts_v1"
	ProfileShortsPremium = "shorts_premium"
)

// InFlightStatuses are the statuses during which a job holds a capacity
// reservation and is invisible to the eviction sweeper.
var InFlightStatuses = []string{StatusQueued, StatusDownloading, StatusTranscoding}

// Job is the durable record of one short-form ingestion job.
type Job struct {
	ID              string    `db:"id" json:"id"`
	Tenant          string    `db:"tenant" json:"tenant"`
	SourceURL       string    `db:"source_url" json:"source_url"`
	Status          string    `db:"status" json:"status"`
	ContentClass    string    `db:"content_class" json:"content_class"`
	LadderProfile   string    `db:"ladder_profile" json:"ladder_profile"`
	DurationSeconds float64   `db:"duration_seconds" json:"duration_seconds"`
	ReservedBytes   int64     `db:"reserved_bytes" json:"reserved_bytes"`
	UsedBytes       int64     `db:"used_bytes" json:"used_bytes"`
	ArtifactPrefix  string    `db:"artifact_prefix" json:"artifact_prefix"`
	HLSMasterURL    string    `db:"hls_master_url" json:"hls_master_url"`
	ErrorMessage    string    `db:"error_message" json:"error_message"`
	RetryCount      int       `db:"retry_count" json:"retry_count"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ArtifactPrefixFor returns the deterministic storage prefix for a job.
func ArtifactPrefixFor(tenant, jobID string) string {
	return fmt.Sprintf("shorts/%s/%s", tenant, jobID)
}

// ValidStatus reports whether s is a known job status.
func ValidStatus(s string) bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusTranscoding, StatusReady, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// ValidClass reports whether c is a known content class.
func ValidClass(c string) bool {
	switch c {
	case ClassNormal, ClassPreferred, ClassPinned, ClassEphemeral:
		return true
	}
	return false
}

// PriorityClass reports whether c may exceed the soft cap at admission time.
func PriorityClass(c string) bool {
	return c == ClassPreferred || c == ClassPinned
}

// InFlight reports whether the job is between enqueue and publish, i.e. it
// holds a reservation rather than real usage.
func (j *Job) InFlight() bool {
	switch j.Status {
	case StatusQueued, StatusDownloading, StatusTranscoding:
		return true
	}
	return false
}
