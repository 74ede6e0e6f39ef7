// Package qa scores candidate artifacts against configurable weighted
// criteria. The evaluator only scores; converting a failed verdict into a
// retry or a terminal failure is the orchestrator's call.
package qa

import (
	"context"
	"fmt"
	"strings"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
	"aistudio/internal/llm"
)

// Criterion is one weighted quality dimension.
type Criterion struct {
	Name   string
	Weight float64
}

// Config tunes the evaluator. Weights are policy, not structure: any set of
// named criteria works as long as weights are positive.
type Config struct {
	Threshold float64
	Criteria  []Criterion
	// BlockingTags fail the verdict regardless of score.
	BlockingTags []string
}

// DefaultConfig mirrors the quality controller used in production flows.
func DefaultConfig(threshold float64) Config {
	return Config{
		Threshold: threshold,
		Criteria: []Criterion{
			{Name: "subject_fidelity", Weight: 0.4},
			{Name: "brief_adherence", Weight: 0.35},
			{Name: "technical_quality", Weight: 0.25},
		},
		BlockingTags: []string{"policy", "broken_artifact"},
	}
}

// Evaluator scores artifacts through the LLM collaborator.
type Evaluator struct {
	refiner llm.Refiner
	cfg     Config
	logger  infra.Logger
}

func NewEvaluator(refiner llm.Refiner, cfg Config, logger infra.Logger) *Evaluator {
	if len(cfg.Criteria) == 0 {
		cfg = DefaultConfig(cfg.Threshold)
	}
	return &Evaluator{refiner: refiner, cfg: cfg, logger: logger}
}

const evaluatePromptFmt = `You are a senior quality controller for
high-fidelity cinematic content. Score the candidate result against each of
these criteria with a value between 0.0 and 1.0:
%s
Check for cinematic realism, logical consistency, narrative completion and
alignment with the user's intent. Return JSON:
{"criteria": {"<name>": <score>, ...}, "violations": ["<deficiency tag>", ...], "summary": "..."}
Deficiency tags must be one of: concept, narrative, visual, lighting, camera,
audio, script, voiceover, assembly, prompt, realism, policy, broken_artifact.`

type evaluationPayload struct {
	Criteria   map[string]float64 `json:"criteria"`
	Violations []string           `json:"violations"`
	Summary    string             `json:"summary"`
}

// Evaluate scores the artifact produced for the given request iteration.
func (e *Evaluator) Evaluate(ctx context.Context, artifact *domain.ArtifactRef, req *domain.GenerationRequest, iteration int) (domain.QAVerdict, error) {
	names := make([]string, 0, len(e.cfg.Criteria))
	for _, c := range e.cfg.Criteria {
		names = append(names, fmt.Sprintf("- %s (weight %.2f)", c.Name, c.Weight))
	}
	system := fmt.Sprintf(evaluatePromptFmt, strings.Join(names, "\n"))

	user := fmt.Sprintf("Prompt: %s\nUser Content: %s", req.FinalPrompt, req.Brief.Content)
	if artifact != nil && artifact.Description != "" {
		user += "\nArtifact Description: " + artifact.Description
	}

	out, err := e.refiner.Refine(ctx, system, user)
	if err != nil {
		return domain.QAVerdict{}, fmt.Errorf("qa evaluate: %w", err)
	}
	var payload evaluationPayload
	if err := llm.ExtractJSON(out, &payload); err != nil {
		return domain.QAVerdict{}, domain.NewPermanentError("qa evaluate: malformed verdict", err)
	}

	verdict := e.Score(payload.Criteria, payload.Violations, iteration)
	verdict.Summary = payload.Summary
	e.logger.Debug().
		Float64("score", verdict.Score).
		Bool("pass", verdict.Pass).
		Int("iteration", iteration).
		Strs("deficiencies", verdict.Deficiencies).
		Msg("qa: verdict computed")
	return verdict, nil
}

// Score combines per-criterion scores into a verdict. A score exactly at the
// threshold passes; any blocking tag fails regardless of score.
func (e *Evaluator) Score(criteria map[string]float64, violations []string, iteration int) domain.QAVerdict {
	var sum, total float64
	for _, c := range e.cfg.Criteria {
		if c.Weight <= 0 {
			continue
		}
		total += c.Weight
		sum += c.Weight * clamp01(criteria[c.Name])
	}
	score := 0.0
	if total > 0 {
		score = sum / total
	}

	verdict := domain.QAVerdict{
		Score:        score,
		Deficiencies: append([]string(nil), violations...),
		Iteration:    iteration,
	}
	verdict.Pass = score >= e.cfg.Threshold && !e.hasBlockingTag(violations)
	return verdict
}

func (e *Evaluator) hasBlockingTag(tags []string) bool {
	for _, tag := range tags {
		for _, blocking := range e.cfg.BlockingTags {
			if tag == blocking {
				return true
			}
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
