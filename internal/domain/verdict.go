package domain

// ProviderKind selects a generation backend family.
type ProviderKind string

const (
	ProviderKindVideo ProviderKind = "video"
	ProviderKindImage ProviderKind = "image"
	ProviderKindText  ProviderKind = "text"
)

// SubmissionStatus is the normalized provider-side job status.
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionSucceeded SubmissionStatus = "succeeded"
	SubmissionFailed    SubmissionStatus = "failed"
)

// Terminal reports whether the provider job reached a final status.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionSucceeded || s == SubmissionFailed
}

// ModerationStage distinguishes the pre-submission check from the
// post-generation one.
type ModerationStage string

const (
	ModerationPre  ModerationStage = "pre"
	ModerationPost ModerationStage = "post"
)

// ModerationVerdict is immutable once produced.
type ModerationVerdict struct {
	Allowed bool
	Reason  string
}

// QAVerdict scores a candidate artifact. The evaluator never decides
// termination; the orchestrator converts a failed verdict into a retry or a
// terminal failure per budget.
type QAVerdict struct {
	Score        float64
	Pass         bool
	Deficiencies []string
	Iteration    int
	Summary      string
}
