package models

// Lane is a category of tool-execution worker with a distinct sandbox
// profile and concurrency budget (spec.md §4.4).
type Lane string

const (
	LaneNoNet Lane = "nonet"
	LaneNet   Lane = "net"
	LaneHeavy Lane = "heavy"
)

// ToolJobStatus is the outcome status of a dispatched ToolJob.
type ToolJobStatus string

const (
	ToolJobSuccess   ToolJobStatus = "success"
	ToolJobFailed    ToolJobStatus = "failed"
	ToolJobTimeout   ToolJobStatus = "timeout"
	ToolJobCancelled ToolJobStatus = "cancelled"
	ToolJobError     ToolJobStatus = "error"
)

// ToolJob is the audit record of one tool dispatch (spec.md §3.1).
type ToolJob struct {
	ID            string        `json:"id"`
	LoopID        string        `json:"loop_id"`
	Iteration     int           `json:"iteration"`
	Lane          Lane          `json:"lane"`
	ToolName      string        `json:"tool_name"`
	InputSummary  string        `json:"input_summary"`
	OutputSummary string        `json:"output_summary"`
	Status        ToolJobStatus `json:"status"`
	ExitCode      int           `json:"exit_code"`
	DurationMs    int64         `json:"duration_ms"`
	CreatedAt     int64         `json:"created_at"`
}
