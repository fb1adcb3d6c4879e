package dto

// CreateShortJobRequest is the import payload. Profile accepts the public
// names (standard, premium) as well as the internal ladder names.
type CreateShortJobRequest struct {
	SourceURL     string `json:"source_url" binding:"required"`
	LadderProfile string `json:"ladder_profile"`
	ContentClass  string `json:"content_class"`
}

// CreateShortJobResponse reports the created or deduplicated job.
type CreateShortJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Deduped bool   `json:"deduped,omitempty"`
}

// JobResponse is the full status-query shape.
type JobResponse struct {
	ID              string  `json:"id"`
	Tenant          string  `json:"tenant"`
	Status          string  `json:"status"`
	ContentClass    string  `json:"content_class"`
	LadderProfile   string  `json:"ladder_profile"`
	DurationSeconds float64 `json:"duration_seconds"`
	ReservedBytes   int64   `json:"reserved_bytes"`
	UsedBytes       int64   `json:"used_bytes"`
	HLSMasterURL    string  `json:"hls_master_url"`
	ErrorMessage    string  `json:"error_message"`
	RetryCount      int     `json:"retry_count"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// ListJobsRequest filters the job listing.
type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is a page of jobs with an optional continuation cursor.
type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ReadyShortResponse is one playable short in the ready feed.
type ReadyShortResponse struct {
	JobID        string `json:"job_id"`
	HLSMasterURL string `json:"hls_master_url"`
	AbsoluteHLS  string `json:"absolute_hls"`
	UsedBytes    int64  `json:"used_bytes"`
	UpdatedAt    string `json:"updated_at"`
}

// PreviewResponse carries the master URL, optionally signed.
type PreviewResponse struct {
	URL       string `json:"url"`
	SignedURL string `json:"signed_url,omitempty"`
}
