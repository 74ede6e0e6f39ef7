package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aistudio/internal/domain"
)

const (
	conceptPromoPrompt = `You are a Lead Promo Concept Analyst. ZERO HUMAN REFERENCES.
Focus on the PRODUCT ITSELF. Extract product specs, key selling points and a
narrative concept for a 12-second commercial. Output JSON with fields:
narrative_concept, key_visuals, product_details, setting, visual_style_guide.`

	conceptFashionPrompt = `You are a Creative Director for High-End Fashion Films.
Interpret the user content and extract garment details (color, fabric, cut)
from the implied reference. HUMAN PRESENCE IS ALLOWED. Output JSON:
narrative_concept, key_visuals, garment_details, character_direction,
setting_biography, visual_style_guide.`

	conceptUGCPrompt = `You are an expert Production Designer and Product Analyst for
user-generated-content video. Extract the pure subject, action and narrative
from the request, plus structured product details (brand, variant, visible
text, color scheme, material, shape). Be extremely precise; never fabricate
attributes that are not implied. Output JSON.`

	conceptImagePrompt = `You are a creative director. Refine the given brief into a
precise, descriptive concept suitable for still image generation: subject,
composition, styling, background. Output JSON: concept, key_details.`

	visualVideoPrompt = `You are a cinematographer. Define 3-4 key shots for a
12-second video based on the concept. Use Medium and Wide shots to establish
realism; avoid extreme close-up spam. Lighting must stay consistent, with no
random exposure changes. Output JSON: shot_list, lighting_plan, color_grade,
motion_dynamics.`

	assemblyVideoPrompt = `Assemble the final video generation prompt paragraph.
PRIORITIZE USER CONTENT.

STRICT RULES:
1. Logical Consistency: actions must be physically plausible.
2. Narrative Completion: the sequence must feel finished within 12 seconds,
   no abrupt cuts or unfinished motion.
3. High-Fidelity Realism: inject keywords like 'Arri Alexa RAW', '35mm
   format', 'subsurface scattering (SSS)', and 'volumetric lighting'.
Return ONE cohesive paragraph, no JSON.`

	assemblyImagePrompt = `Assemble the final image generation prompt paragraph from
the concept. Keep product text and attributes exact. Return ONE cohesive
paragraph, no JSON.`
)

func conceptPromptFor(kind domain.JobKind) string {
	switch kind {
	case domain.JobKindPromoVideo:
		return conceptPromoPrompt
	case domain.JobKindFashionVideo:
		return conceptFashionPrompt
	case domain.JobKindUGCVideo:
		return conceptUGCPrompt
	default:
		return conceptImagePrompt
	}
}

// errMissingUpstream is wrapped whenever a stage finds a required field from
// an earlier stage absent. Stages never fabricate missing context.
var errMissingUpstream = errors.New("required upstream stage output missing")

func (p *Pipeline) runConcept(ctx context.Context, req *domain.GenerationRequest) error {
	if strings.TrimSpace(req.Brief.Content) == "" {
		return domain.NewValidationError("brief content is empty")
	}
	user := req.Brief.Content
	if req.Brief.Locale != "" {
		user = fmt.Sprintf("%s\nLocale: %s", user, req.Brief.Locale)
	}
	user = withFeedback(user, req.Deficiencies)
	out, err := p.refiner.Refine(ctx, conceptPromptFor(req.Kind), user)
	if err != nil {
		return err
	}
	if out == "" {
		return fmt.Errorf("concept agent returned empty output")
	}
	req.Concept = out
	return nil
}

func (p *Pipeline) runVisual(ctx context.Context, req *domain.GenerationRequest) error {
	if req.Kind == domain.JobKindImage {
		// Image jobs run the reduced Concept -> Assembly pipeline.
		return nil
	}
	if req.Concept == "" {
		return fmt.Errorf("%w: concept", errMissingUpstream)
	}
	system := visualVideoPrompt
	if req.Kind == domain.JobKindPromoVideo {
		system += "\nZERO HUMAN REFERENCES: product-only shots."
	}
	out, err := p.refiner.Refine(ctx, system, withFeedback(req.Concept, req.Deficiencies))
	if err != nil {
		return err
	}
	if out == "" {
		return fmt.Errorf("visual agent returned empty output")
	}
	req.VisualDirective = out
	return nil
}

func (p *Pipeline) runAudio(ctx context.Context, req *domain.GenerationRequest) error {
	if req.Kind == domain.JobKindImage {
		return nil
	}
	if req.Concept == "" {
		return fmt.Errorf("%w: concept", errMissingUpstream)
	}
	if req.VisualDirective == "" {
		return fmt.Errorf("%w: visual directive", errMissingUpstream)
	}
	vibe := req.Brief.Vibe
	if vibe == "" {
		vibe = "cinematic"
	}
	script := "No voiceover."
	if req.Brief.VoiceOver {
		script = "Include an 18-20 word script, fully spoken before the video ends."
	}
	system := fmt.Sprintf("You are a sound designer and script writer. Define audio for a %s film. %s Output JSON.", vibe, script)
	user := withFeedback(req.Concept+"\n"+req.VisualDirective, req.Deficiencies)
	out, err := p.refiner.Refine(ctx, system, user)
	if err != nil {
		return err
	}
	if out == "" {
		return fmt.Errorf("audio agent returned empty output")
	}
	req.AudioDirective = out
	return nil
}

func (p *Pipeline) runAssembly(ctx context.Context, req *domain.GenerationRequest) error {
	if req.Concept == "" {
		return fmt.Errorf("%w: concept", errMissingUpstream)
	}

	var system, user string
	if req.Kind == domain.JobKindImage {
		system = assemblyImagePrompt
		user = req.Concept
	} else {
		if req.VisualDirective == "" {
			return fmt.Errorf("%w: visual directive", errMissingUpstream)
		}
		if req.AudioDirective == "" {
			return fmt.Errorf("%w: audio directive", errMissingUpstream)
		}
		system = assemblyVideoPrompt
		user = req.Concept + "\n" + req.VisualDirective + "\n" + req.AudioDirective
	}
	out, err := p.refiner.Refine(ctx, system, withFeedback(user, req.Deficiencies))
	if err != nil {
		return err
	}
	if out == "" {
		return fmt.Errorf("assembly agent returned empty output")
	}
	if req.Brief.ReferenceImageURL != "" {
		out += " REFERENCE IMAGE RULE: The product visual attributes must match the reference exactly."
	}
	req.FinalPrompt = out
	return nil
}

func withFeedback(user string, deficiencies []string) string {
	if len(deficiencies) == 0 {
		return user
	}
	return fmt.Sprintf("%s\nQA FEEDBACK: fix these violations: %s", user, strings.Join(deficiencies, ", "))
}
