package domain

// StageName identifies one of the closed set of pipeline stages.
type StageName string

const (
	StageConcept  StageName = "concept"
	StageVisual   StageName = "visual"
	StageAudio    StageName = "audio"
	StageAssembly StageName = "assembly"
)

// GenerationRequest is the evolving payload built by the agent pipeline. On a
// QA-triggered revision it is replaced, never mutated in place, so earlier
// iterations remain intact for auditing.
type GenerationRequest struct {
	Brief     Brief
	Kind      JobKind
	Iteration int
	// RemixSourceID routes the submission to the provider's remix endpoint
	// for the referenced video instead of a fresh generation.
	RemixSourceID string

	Concept         string
	VisualDirective string
	AudioDirective  string
	FinalPrompt     string

	// Deficiencies carried over from the verdict that triggered this
	// revision; empty on the first iteration.
	Deficiencies []string
}

// Clone returns a copy for the next iteration, preserving stage outputs so a
// partial re-run can keep upstream sections byte-identical.
func (r *GenerationRequest) Clone() *GenerationRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Deficiencies = append([]string(nil), r.Deficiencies...)
	return &cp
}
