package domain

import "time"

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindPromoVideo   JobKind = "promo-video"
	JobKindFashionVideo JobKind = "fashion-video"
	JobKindUGCVideo     JobKind = "ugc-video"
	JobKindImage        JobKind = "image"
)

// IsVideo reports whether the kind produces a video artifact.
func (k JobKind) IsVideo() bool {
	switch k {
	case JobKindPromoVideo, JobKindFashionVideo, JobKindUGCVideo:
		return true
	}
	return false
}

// Valid reports whether the kind is one of the supported categories.
func (k JobKind) Valid() bool {
	return k.IsVideo() || k == JobKindImage
}

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStateCreated         JobState = "created"
	JobStateBuildingRequest JobState = "building_request"
	JobStateModeratingPre   JobState = "moderating_pre"
	JobStateSubmitting      JobState = "submitting"
	JobStatePolling         JobState = "polling"
	JobStateFetchingResult  JobState = "fetching_result"
	JobStateModeratingPost  JobState = "moderating_post"
	JobStateEvaluating      JobState = "evaluating"
	JobStateRevising        JobState = "revising"
	JobStateComplete        JobState = "complete"
	JobStateFailed          JobState = "failed"
)

// Terminal reports whether no further transition may leave the state.
func (s JobState) Terminal() bool {
	return s == JobStateComplete || s == JobStateFailed
}

// Transition records a single state change for observability.
type Transition struct {
	From JobState
	To   JobState
	At   time.Time
}

// ProviderSubmission is the opaque handle of a job submitted to an external
// provider. A new submission invalidates the previous one for polling.
type ProviderSubmission struct {
	ProviderID  string
	Kind        ProviderKind
	SubmittedAt time.Time
}

// ArtifactRef points at a generated asset as returned by a provider, before
// it is handed to the storage collaborator.
type ArtifactRef struct {
	URL         string
	Format      string
	Title       string
	Description string
	Data        []byte
}

// ErrorRecord captures why a job failed, kept alongside the terminal state.
type ErrorRecord struct {
	Kind   ErrorKind
	Reason string
}

// Brief is the raw user-supplied description of the desired media output,
// plus the knobs the intake layer accepts. Immutable for the job's lifetime.
type Brief struct {
	Content           string
	ReferenceImageURL string
	VoiceOver         bool
	Vibe              string
	Locale            string
}

// Job is the unit of orchestration. It is owned exclusively by the
// orchestrator and mutated only through its state-transition operations.
type Job struct {
	ID    string
	Kind  JobKind
	State JobState
	Brief Brief
	// RemixSourceID holds the provider-side video id this job edits. Empty
	// for regular generation jobs.
	RemixSourceID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastPollAt  time.Time
	Attempts    int
	QAIteration int
	Submissions int
	Request     *GenerationRequest
	Submission  *ProviderSubmission
	ArtifactURL string
	Err         *ErrorRecord
	Transitions []Transition
}

// JobStatus is the read-only snapshot returned to status queries.
type JobStatus struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	State       JobState  `json:"state"`
	Attempt     int       `json:"attempt"`
	QAIteration int       `json:"qa_iteration"`
	ArtifactURL string    `json:"artifact_url,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	ErrorReason string    `json:"error_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
