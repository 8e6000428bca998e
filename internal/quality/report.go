package quality

// Status is the gate's terminal classification for one attempt.
type Status string

const (
	StatusAccept Status = "accept"
	StatusRepair Status = "repair"
	StatusReject Status = "reject"
)

// IssueSeverity mirrors contradiction severity so consistency findings pass
// through unchanged.
type IssueSeverity string

const (
	IssueCritical IssueSeverity = "critical"
	IssueMajor    IssueSeverity = "major"
	IssueMinor    IssueSeverity = "minor"
)

// Issue is one problem the gate found with the output.
type Issue struct {
	Severity IssueSeverity `json:"severity"`
	Source   string        `json:"source"` // "structural", "pattern", "consistency", "judged"
	Message  string        `json:"message"`
}

// Report is the result of validating one generation attempt.
type Report struct {
	PerCriterion  map[string]float64 `json:"per_criterion_scores"`
	WeightedTotal float64            `json:"weighted_total"`
	Status        Status             `json:"status"`
	Issues        []Issue            `json:"issues"`
	ScoreCapped   bool               `json:"score_capped,omitempty"`
}

// HasCritical reports whether any issue is critical.
func (r *Report) HasCritical() bool {
	for _, issue := range r.Issues {
		if issue.Severity == IssueCritical {
			return true
		}
	}
	return false
}
