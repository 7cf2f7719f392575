package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobType identifies the pipeline a job runs
type JobType string

const (
	JobTypeFilePairGenerator   JobType = "FilePairGenerator"
	JobTypeFileDeleteGenerator JobType = "FileDeleteGenerator"
	JobTypeGaPairGenerator     JobType = "GaPairGenerator"
	JobTypeTagGenerator        JobType = "TagGenerator"
	JobTypeQuestionGenerator   JobType = "QuestionGenerator"
	JobTypeDatasetGenerator    JobType = "DatasetGenerator"
)

// JobStatus is the job lifecycle state. Failed, Cancel and Success are
// terminal and sticky.
type JobStatus string

const (
	JobStatusRunning JobStatus = "Running"
	JobStatusFailed  JobStatus = "Failed"
	JobStatusCancel  JobStatus = "Cancel"
	JobStatusSuccess JobStatus = "Success"
)

// Job is a background pipeline job. Content holds the typed input blob
// as a JSON string, persisted verbatim so stale payloads survive schema
// evolution. Result holds the serialized JobResult.
type Job struct {
	BaseEntity
	Type      JobType   `json:"job_type"`
	Status    JobStatus `json:"status"`
	Content   string    `json:"content"`
	Locale    string    `json:"locale"`
	ProjectID string    `json:"project_id"`
	Result    string    `json:"result"`
}

// JobProgress tracks per-item completion. DoneCount never exceeds Total.
type JobProgress struct {
	Total     int `json:"total"`
	DoneCount int `json:"done_count"`
}

// JobResult is the durable execution record of a job. Logs are append
// only; each entry carries a wall-clock prefix added by AppendLog.
type JobResult struct {
	Progress JobProgress `json:"progress"`
	Logs     []string    `json:"logs"`
	Error    string      `json:"error,omitempty"`
}

// NewJob creates a Running job for the given pipeline
func NewJob(userID, groupID string, jobType JobType, projectID, content, locale string) *Job {
	return &Job{
		BaseEntity: NewBaseEntity(userID, groupID),
		Type:       jobType,
		Status:     JobStatusRunning,
		Content:    content,
		Locale:     locale,
		ProjectID:  projectID,
	}
}

// IsTerminal reports whether the job reached a sticky state
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusFailed, JobStatusCancel, JobStatusSuccess:
		return true
	}
	return false
}

// Validate checks required fields
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.Type == "" {
		return fmt.Errorf("job type is required")
	}
	if j.Status == "" {
		return fmt.Errorf("job status is required")
	}
	return nil
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	clone := *j
	return &clone
}

// DecodeResult parses the stored result blob. An empty blob yields a
// zero-valued result.
func (j *Job) DecodeResult() (*JobResult, error) {
	result := &JobResult{Logs: []string{}}
	if j.Result == "" {
		return result, nil
	}
	if err := json.Unmarshal([]byte(j.Result), result); err != nil {
		return nil, fmt.Errorf("failed to decode job result: %w", err)
	}
	if result.Logs == nil {
		result.Logs = []string{}
	}
	return result, nil
}

// EncodeResult serializes a result into the job
func (j *Job) EncodeResult(result *JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}
	j.Result = string(data)
	return nil
}

// AppendLog adds a timestamped line to the result log
func (r *JobResult) AppendLog(line string) {
	stamp := time.Now().Format("2006-01-02 15:04:05")
	r.Logs = append(r.Logs, fmt.Sprintf("[%s] %s", stamp, line))
}

// CleanLogs drops buffered log lines after they have been persisted
func (r *JobResult) CleanLogs() {
	r.Logs = []string{}
}
