package jobrpc

import "encoding/json"

// request and response are the JSON-RPC 2.0 envelopes.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// dev.enqueue.v1
type EnqueueParams struct {
	JobType    string          `json:"job_type"`
	Queue      string          `json:"queue"`
	SubjectKey string          `json:"subject_key"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"`
}

type EnqueueResult struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
	Queue string `json:"queue"`
}

// dev.cancel.v1
type CancelParams struct {
	JobID string `json:"job_id"`
}

type CancelResult struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// logs.tail.v1
type TailParams struct {
	JobID string `json:"job_id"`
	Lines int    `json:"lines"`
}

type TailResult struct {
	JobID   string   `json:"job_id"`
	LogPath *string  `json:"log_path,omitempty"`
	Lines   []string `json:"lines"`
}

// admin.stats.v1
type StatsResult struct {
	TotalJobs     int64   `json:"total_jobs"`
	QueuedJobs    int64   `json:"queued_jobs"`
	RunningJobs   int64   `json:"running_jobs"`
	DoneJobs      int64   `json:"done_jobs"`
	FailedJobs    int64   `json:"failed_jobs"`
	DBSizeBytes   int64   `json:"db_size_bytes"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// admin.maintenance.v1
type MaintenanceParams struct {
	ForceVacuum bool `json:"force_vacuum"`
}

type MaintenanceResult struct {
	VacuumRun        bool  `json:"vacuum_run"`
	JobsDeleted      int64 `json:"jobs_deleted"`
	ArtifactsDeleted int   `json:"artifacts_deleted"`
	DBSizeBefore     int64 `json:"db_size_before"`
	DBSizeAfter      int64 `json:"db_size_after"`
}
