// Package scrape defines the core types and interfaces shared by the scrape engine subsystems.
package scrape

import (
	"time"
)

// JobState represents the lifecycle state of a scrape job.
type JobState string

// Job states persisted in the job store.
const (
	JobStatePending   JobState = "pending"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Tier is an execution cost level for fetching a page.
type Tier string

// Execution tiers in increasing order of cost.
const (
	TierFast     Tier = "fast"
	TierRendered Tier = "rendered"
	TierStealth  Tier = "stealth"
)

// Job is the metadata persisted for each admitted scrape request.
type Job struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Options    Options    `json:"options"`
	Identity   string     `json:"identity,omitempty"`
	Plan       string     `json:"plan,omitempty"`
	State      JobState   `json:"state"`
	Attempts   int        `json:"attempts"`
	Result     *PageData  `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorCode  ErrorCode  `json:"error_code,omitempty"`
	ParentID   string     `json:"parent_id,omitempty"`
	RootID     string     `json:"root_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobUpdate is a partial mutation applied by the worker pool.
type JobUpdate struct {
	State     JobState
	Attempts  int
	Result    *PageData
	Error     string
	ErrorCode ErrorCode
}

// Status is the read model returned to callers polling a job.
type Status struct {
	JobID  string    `json:"jobId"`
	State  JobState  `json:"state"`
	Result *PageData `json:"result"`
	Error  *string   `json:"error"`
}

// StatusOf projects a Job into its read model.
func StatusOf(job Job) Status {
	st := Status{JobID: job.ID, State: job.State, Result: job.Result}
	if job.Error != "" {
		msg := job.Error
		st.Error = &msg
	}
	return st
}

// Classification is the site classifier verdict for a URL.
type Classification struct {
	RequiresJS bool     `json:"requires_js"`
	HasAntiBot bool     `json:"has_anti_bot"`
	Tier       Tier     `json:"recommended_tier"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// Result is what a strategy returns for a single execution.
type Result struct {
	Success  bool      `json:"success"`
	Data     *PageData `json:"data,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     ErrorCode `json:"code,omitempty"`
	Strategy string    `json:"strategy,omitempty"`
}

// Succeeded wraps page data into a successful Result.
func Succeeded(data PageData) Result {
	return Result{Success: true, Data: &data}
}

// Failed converts an error into a failed Result carrying its code.
func Failed(err error) Result {
	if err == nil {
		return Result{Success: false, Code: CodeUnknown, Error: "unknown failure"}
	}
	return Result{Success: false, Error: err.Error(), Code: CodeFor(err)}
}

// Err rebuilds an error from a failed Result, preserving the sentinel for errors.Is.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return codeError{code: r.Code, msg: r.Error}
}

// PageData is the structured payload extracted from a fetched page.
type PageData struct {
	URL            string    `json:"url"`
	FinalURL       string    `json:"final_url,omitempty"`
	StatusCode     int       `json:"status_code,omitempty"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Heading        string    `json:"heading"`
	Content        string    `json:"content"`
	Markdown       string    `json:"markdown,omitempty"`
	Links          []string  `json:"links"`
	Media          []Media   `json:"media"`
	Leads          Leads     `json:"leads"`
	StructuredData []string  `json:"structured_data"`
	AIResult       string    `json:"ai_result,omitempty"`
	Tier           Tier      `json:"tier,omitempty"`
	Strategy       string    `json:"strategy,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Media is an image or video reference found on a page.
type Media struct {
	URL    string `json:"url"`
	Type   string `json:"type"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Leads holds contact identifiers gathered from a page.
type Leads struct {
	Emails  []string `json:"emails"`
	Phones  []string `json:"phones"`
	Socials []string `json:"socials"`
}

// JobEvent is published when a job reaches a terminal state.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	URL        string    `json:"url"`
	State      JobState  `json:"state"`
	Attempts   int       `json:"attempts"`
	Strategy   string    `json:"strategy,omitempty"`
	Tier       Tier      `json:"tier,omitempty"`
	Cached     bool      `json:"cached,omitempty"`
	ErrorCode  ErrorCode `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	ParentID   string    `json:"parent_id,omitempty"`
	RootID     string    `json:"root_id,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// QueueItem wraps an admitted job ready to run.
type QueueItem struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
