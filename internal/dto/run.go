package dto

// RunAccepted acknowledges a queued on-demand run.
type RunAccepted struct {
	JobID   string `json:"job_id"`
	Pending int    `json:"pending"`
}
