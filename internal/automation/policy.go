package automation

// Policy lists the gated stages a level enables. It is the only place
// where a level turns into behavior.
type Policy struct {
	// CreatePR opens a pull request for the workflow branch.
	CreatePR bool `json:"create_pr"`
	// RunReview runs the automated review.
	RunReview bool `json:"run_review"`
	// RequestReviewers asks the configured humans to review the PR.
	RequestReviewers bool `json:"request_reviewers"`
	// AutoMerge lets the workflow perform the merge itself.
	AutoMerge bool `json:"auto_merge"`
	// RequireConfirmation waits for an explicit confirmation signal before merging.
	RequireConfirmation bool `json:"require_confirmation"`
	// GateOnScore blocks the merge when the review score is below threshold.
	GateOnScore bool `json:"gate_on_score"`
}

var policies = map[Level]Policy{
	LevelManual: {
		CreatePR:         true,
		RequestReviewers: true,
	},
	LevelAssisted: {
		CreatePR:            true,
		RunReview:           true,
		RequestReviewers:    true,
		AutoMerge:           true,
		RequireConfirmation: true,
		GateOnScore:         true,
	},
	LevelSemiAuto: {
		CreatePR:            true,
		RunReview:           true,
		AutoMerge:           true,
		RequireConfirmation: true,
		GateOnScore:         true,
	},
	LevelFullAuto: {
		RunReview: true,
		AutoMerge: true,
	},
}

// PolicyFor returns the policy of a concrete level. Unresolved or unknown
// levels get the manual policy.
func PolicyFor(l Level) Policy {
	if p, ok := policies[l]; ok {
		return p
	}
	return policies[LevelManual]
}
