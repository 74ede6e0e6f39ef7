// Package agents implements the multi-stage transformation pipeline that
// turns a raw brief into a provider-ready generation request. The stages are
// a closed set (Concept, Visual, Audio, Assembly) dispatched through an
// explicit ordered table; a QA-triggered revision re-runs only from the stage
// implicated by the verdict's deficiency tags.
package agents

import (
	"context"
	"fmt"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
	"aistudio/internal/llm"
)

type stageFunc func(p *Pipeline, ctx context.Context, req *domain.GenerationRequest) error

type stageEntry struct {
	name domain.StageName
	run  stageFunc
}

// stageTable fixes the execution order. Later stages depend on fields the
// earlier ones populate.
var stageTable = []stageEntry{
	{domain.StageConcept, (*Pipeline).runConcept},
	{domain.StageVisual, (*Pipeline).runVisual},
	{domain.StageAudio, (*Pipeline).runAudio},
	{domain.StageAssembly, (*Pipeline).runAssembly},
}

// stageIndexByTag maps QA deficiency tags to the stage a revision restarts
// from. Unknown tags restart from Concept.
var stageIndexByTag = map[string]int{
	"concept":   0,
	"narrative": 0,
	"visual":    1,
	"lighting":  1,
	"camera":    1,
	"audio":     2,
	"script":    2,
	"voiceover": 2,
	"assembly":  3,
	"prompt":    3,
	"realism":   3,
}

// StartStageFor returns the index of the earliest stage implicated by the
// given deficiency tags. With no recognizable tags the pipeline restarts from
// the beginning.
func StartStageFor(tags []string) int {
	start := len(stageTable)
	for _, tag := range tags {
		if idx, ok := stageIndexByTag[tag]; ok && idx < start {
			start = idx
		}
	}
	if start == len(stageTable) {
		return 0
	}
	return start
}

// Pipeline runs the agent stages against an LLM refiner.
type Pipeline struct {
	refiner llm.Refiner
	logger  infra.Logger
}

func New(refiner llm.Refiner, logger infra.Logger) *Pipeline {
	return &Pipeline{refiner: refiner, logger: logger}
}

// Build assembles the first-iteration request from a raw brief.
func (p *Pipeline) Build(ctx context.Context, brief domain.Brief, kind domain.JobKind) (*domain.GenerationRequest, error) {
	req := &domain.GenerationRequest{Brief: brief, Kind: kind, Iteration: 1}
	if err := p.runFrom(ctx, req, 0); err != nil {
		return nil, err
	}
	return req, nil
}

// Revise produces the next-iteration request. The previous request is cloned,
// never mutated, so earlier iterations stay auditable; stages upstream of the
// implicated one keep their prior output byte for byte.
func (p *Pipeline) Revise(ctx context.Context, prev *domain.GenerationRequest, verdict domain.QAVerdict) (*domain.GenerationRequest, error) {
	if prev == nil {
		return nil, fmt.Errorf("agents: revise requires a previous request")
	}
	req := prev.Clone()
	req.Iteration = prev.Iteration + 1
	req.Deficiencies = append([]string(nil), verdict.Deficiencies...)

	start := StartStageFor(verdict.Deficiencies)
	p.logger.Info().
		Int("iteration", req.Iteration).
		Str("stage", string(stageTable[start].name)).
		Strs("deficiencies", verdict.Deficiencies).
		Msg("agents: revising from implicated stage")

	if err := p.runFrom(ctx, req, start); err != nil {
		return nil, err
	}
	return req, nil
}

func (p *Pipeline) runFrom(ctx context.Context, req *domain.GenerationRequest, start int) error {
	for i := start; i < len(stageTable); i++ {
		entry := stageTable[i]
		if err := entry.run(p, ctx, req); err != nil {
			return fmt.Errorf("agents: stage %s: %w", entry.name, err)
		}
	}
	return nil
}
