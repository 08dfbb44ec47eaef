package types

import "time"

// FailureKind names the stage or reason an item did not produce outputs.
type FailureKind string

const (
	FailureServiceUnreachable FailureKind = "service_unreachable"
	FailureServiceRejected    FailureKind = "service_rejected"
	FailureProtocolViolation  FailureKind = "protocol_violation"
	FailureTransport          FailureKind = "transport"
	FailureUpload             FailureKind = "upload"
	FailurePollTimeout        FailureKind = "poll_timeout"
	FailureRemote             FailureKind = "remote_failed"
	FailureMissingResult      FailureKind = "missing_result"
	FailureNotReady           FailureKind = "not_ready"
	FailureNoTextArtifact     FailureKind = "no_text_artifact"
	FailureDownload           FailureKind = "download"
	FailureWrite              FailureKind = "write"
	FailureCanceled           FailureKind = "canceled"
)

// OutcomeStatus is the final disposition of an input file in a run.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the ledger record for one input file.
type Outcome struct {
	RunID      string        `json:"run_id" bson:"run_id"`
	BatchID    string        `json:"batch_id,omitempty" bson:"batch_id,omitempty"`
	Name       string        `json:"name" bson:"name"`
	DataID     string        `json:"data_id" bson:"data_id"`
	Status     OutcomeStatus `json:"status" bson:"status"`
	Kind       FailureKind   `json:"kind,omitempty" bson:"kind,omitempty"`
	Error      string        `json:"error,omitempty" bson:"error,omitempty"`
	TextPath   string        `json:"text_path,omitempty" bson:"text_path,omitempty"`
	DataPath   string        `json:"data_path,omitempty" bson:"data_path,omitempty"`
	FinishedAt time.Time     `json:"finished_at" bson:"finished_at"`
}

// RunReport collects every outcome of a coordinator run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

// Add appends o and updates the counters.
func (r *RunReport) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeSuccess:
		r.Succeeded++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
}

// Failures returns failed outcomes grouped by kind.
func (r *RunReport) Failures() map[FailureKind][]Outcome {
	out := make(map[FailureKind][]Outcome)
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			out[o.Kind] = append(out[o.Kind], o)
		}
	}
	return out
}

// HookInput is handed to per-item hooks after outputs are written.
type HookInput struct {
	RunID    string
	BatchID  string
	Name     string
	Stem     string
	TextPath string
	DataPath string
	// Date is the run's output day (YYYY-MM-DD) that dated hook outputs follow.
	Date     string
}

// Day returns Date, or today when it is unset.
func (in HookInput) Day() string {
	if in.Date != "" {
		return in.Date
	}
	return time.Now().Format(time.DateOnly)
}
