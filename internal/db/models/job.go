package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for job model
const (
	// JobStatusField is the field name for job status
	JobStatusField = "status"
	// JobStageField is the field name for job stage
	JobStageField = "stage"
	// JobUpdatedAtField is the field name for the last-mutation timestamp
	JobUpdatedAtField = "updated_at"
)

// JobKind distinguishes the two pipelines a job can run through
type JobKind string

// Job kind constants
const (
	// JobKindCut fetches a video and derives short clips from it
	JobKindCut JobKind = "cut"
	// JobKindUpscale enhances a video file on the GPU host
	JobKindUpscale JobKind = "upscale"
)

// JobStatus represents the coarse lifecycle state of a job
type JobStatus string

// Job status constants
const (
	// JobStatusQueued indicates the job is waiting for a worker slot
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates a stage handler has taken ownership of the job
	JobStatusRunning JobStatus = "running"
	// JobStatusDone indicates the job completed its final stage
	JobStatusDone JobStatus = "done"
	// JobStatusError indicates the job failed and will not be retried automatically
	JobStatusError JobStatus = "error"
	// JobStatusCanceled indicates the job was canceled by the caller
	JobStatusCanceled JobStatus = "canceled"
)

// Cut pipeline stages
const (
	StageQueuedDownload = "queued_download"
	StageDownloading    = "downloading"
	StageQueuedProcess  = "queued_process"
	StageProcessing     = "processing"
	StageTranscribing   = "transcribing"
	StageSelectingClips = "selecting_clips"
	StageCutting        = "cutting"
)

// Upscale pipeline stages
const (
	StageQueued               = "queued"
	StageEnsuringInstance     = "ensuring_instance"
	StageUploading            = "uploading"
	StageQueuedGPU            = "queued_gpu"
	StageQueuedResultDownload = "queued_result_download"
)

// StageDone is the terminal stage shared by both pipelines
const StageDone = "done"

// CutMode selects how a cut job is processed after download
type CutMode string

// Cut mode constants
const (
	// CutModeSimple trims the downloaded video without the clip pipeline
	CutModeSimple CutMode = "simple"
	// CutModeAuto runs transcription, clip selection, and cutting
	CutModeAuto CutMode = "auto"
)

// Job represents a persisted multi-stage media job
type Job struct {
	gorm.Model
	UUID     string    `json:"id" gorm:"not null;uniqueIndex;size:36"`
	Kind     JobKind   `json:"kind" gorm:"not null;index"`
	Status   JobStatus `json:"status" gorm:"not null;index"`
	Stage    string    `json:"stage" gorm:"not null;index"`
	Progress int       `json:"progress"`
	Error    string    `json:"error,omitempty" gorm:"type:text"`

	// Cut job payload
	URL          string  `json:"url,omitempty"`
	Mode         CutMode `json:"mode,omitempty"`
	VideoID      string  `json:"video_id,omitempty"`
	OriginalName string  `json:"original_name,omitempty"`
	StartTime    float64 `json:"start_time,omitempty"`
	EndTime      float64 `json:"end_time,omitempty"`

	// Local artifacts
	DownloadedPath string `json:"downloaded_path,omitempty"`
	ProcessedPath  string `json:"processed_path,omitempty"`
	ClipsDir       string `json:"clips_dir,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	ClipsJSONPath  string `json:"clips_json_path,omitempty"`

	// Upscale job payload
	FilePath   string `json:"file_path,omitempty"`
	ResultPath string `json:"result_path,omitempty"`

	// Remote references produced mid-pipeline; absent until the stage that
	// produces them persists, cleared on terminal success, reset, and delete.
	RemoteInputPath  string `json:"remote_input_path,omitempty"`
	RemoteOutputPath string `json:"remote_output_path,omitempty"`
	RemoteJobID      string `json:"remote_job_id,omitempty"`
	RemoteInstanceID string `json:"remote_instance_id,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`
}

// String returns the string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus converts a string to a JobStatus type
func ParseJobStatus(str string) (JobStatus, error) {
	switch str {
	case string(JobStatusQueued):
		return JobStatusQueued, nil
	case string(JobStatusRunning):
		return JobStatusRunning, nil
	case string(JobStatusDone):
		return JobStatusDone, nil
	case string(JobStatusError):
		return JobStatusError, nil
	case string(JobStatusCanceled):
		return JobStatusCanceled, nil
	default:
		return "", fmt.Errorf("invalid job status: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for JobStatus
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseJobStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// ParseJobKind converts a string to a JobKind type
func ParseJobKind(str string) (JobKind, error) {
	switch str {
	case string(JobKindCut):
		return JobKindCut, nil
	case string(JobKindUpscale):
		return JobKindUpscale, nil
	default:
		return "", fmt.Errorf("invalid job kind: %s", str)
	}
}

// IsTerminal reports whether the status will not change without caller action
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError || s == JobStatusCanceled
}

// FirstStage returns the queue-entry stage of the job's pipeline
func (j *Job) FirstStage() string {
	if j.Kind == JobKindCut {
		return StageQueuedDownload
	}
	return StageQueued
}

// ClearRemoteRefs drops all remote references held by the job
func (j *Job) ClearRemoteRefs() {
	j.RemoteInputPath = ""
	j.RemoteOutputPath = ""
	j.RemoteJobID = ""
	j.RemoteInstanceID = ""
}

// HasRemoteRefs reports whether any mid-pipeline remote reference is set
func (j *Job) HasRemoteRefs() bool {
	return j.RemoteInputPath != "" || j.RemoteOutputPath != "" ||
		j.RemoteJobID != "" || j.RemoteInstanceID != ""
}

// Validate ensures that the job data is valid
func (j *Job) Validate() error {
	if j.UUID == "" {
		return fmt.Errorf("job uuid cannot be empty")
	}
	switch j.Kind {
	case JobKindCut:
		if j.URL == "" {
			return fmt.Errorf("cut job requires a url")
		}
		if j.Mode != CutModeSimple && j.Mode != CutModeAuto {
			return fmt.Errorf("invalid cut mode: %s", j.Mode)
		}
	case JobKindUpscale:
		if j.FilePath == "" {
			return fmt.Errorf("upscale job requires a file path")
		}
	default:
		return fmt.Errorf("invalid job kind: %s", j.Kind)
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new job
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.Status == "" {
		j.Status = JobStatusQueued
	}
	if j.Stage == "" {
		j.Stage = j.FirstStage()
	}
	if j.Kind == JobKindCut && j.Mode == "" {
		j.Mode = CutModeSimple
	}
	return j.Validate()
}
