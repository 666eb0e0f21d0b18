package scheduler

import (
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

// Job is a persisted scheduled tool invocation. Schedule is always stored in
// canonical form: a 5-field cron expression (optionally prefixed with
// CRON_TZ=) or an RFC 3339 timestamp for one-shot jobs.
type Job struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	ToolID    string                 `json:"tool_id"` // "server:tool"
	Arguments map[string]interface{} `json:"arguments,omitempty"`

	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
	FireOnce bool   `json:"fire_once"`

	MaxExecutions int        `json:"max_executions,omitempty"`
	EndAt         *time.Time `json:"end_at,omitempty"`

	Status              JobStatus `json:"status"`
	ExecutionCount      int       `json:"execution_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
}

// ExecStatus is the outcome state of one execution.
type ExecStatus string

const (
	ExecRunning ExecStatus = "running"
	ExecSuccess ExecStatus = "success"
	ExecFailure ExecStatus = "failure"
	ExecTimeout ExecStatus = "timeout"
	ExecSkipped ExecStatus = "skipped"
)

// Execution records one firing of a job.
type Execution struct {
	ID     string     `json:"id"`
	JobID  string     `json:"job_id"`
	Status ExecStatus `json:"status"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Result       string `json:"result,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// terminal reports whether the job has reached a terminal condition after
// its latest firing.
func (j *Job) terminal(now time.Time) bool {
	if j.FireOnce && j.ExecutionCount > 0 {
		return true
	}
	if j.MaxExecutions > 0 && j.ExecutionCount >= j.MaxExecutions {
		return true
	}
	if j.EndAt != nil && !now.Before(*j.EndAt) {
		return true
	}
	return false
}
