package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

type GeminiConfig struct {
	Project   string
	Location  string
	APIKey    string // when set the Gemini API backend is used instead of Vertex
	ModelName string
	BaseURL   string // overrides the API endpoint
}

type GeminiClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiClient creates a LanguageService backed by Gemini (Vertex AI or the Gemini API).
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	}
	if cfg.APIKey != "" {
		cc = &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
	} else if cfg.Project == "" || cfg.Location == "" {
		return nil, fmt.Errorf("gemini: project and location are required for Vertex AI")
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	modelName := cfg.ModelName
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	return &GeminiClient{
		client:    client,
		modelName: modelName,
	}, nil
}

var (
	personaSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"aiResponse": {Type: genai.TypeString},
		},
		Required: []string{"aiResponse"},
	}
	distortionSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"hasDistortion":        {Type: genai.TypeBoolean},
			"identifiedDistortion": {Type: genai.TypeString},
			"suggestedChallenge":   {Type: genai.TypeString},
		},
		Required: []string{"hasDistortion", "identifiedDistortion", "suggestedChallenge"},
	}
	crisisSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"isCrisis": {Type: genai.TypeBoolean},
			"advisory": {Type: genai.TypeString},
		},
		Required: []string{"isCrisis", "advisory"},
	}
)

// Wire shapes of the structured outputs. Pointers tell a missing required
// field apart from its zero value.
type (
	personaWire struct {
		AIResponse *string `json:"aiResponse"`
	}
	distortionWire struct {
		HasDistortion        *bool   `json:"hasDistortion"`
		IdentifiedDistortion *string `json:"identifiedDistortion"`
		SuggestedChallenge   *string `json:"suggestedChallenge"`
	}
	crisisWire struct {
		IsCrisis *bool   `json:"isCrisis"`
		Advisory *string `json:"advisory"`
	}
)

func missingField(capability domain.Capability, field string) error {
	return invalidOutput(capability, fmt.Errorf("required field %q missing", field))
}

func (g *GeminiClient) PersonaReply(ctx context.Context, in domain.PersonaInput) (domain.PersonaOutput, error) {
	if err := in.Validate(); err != nil {
		return domain.PersonaOutput{}, &domain.AdapterError{Capability: domain.CapabilityPersonaReply, Kind: domain.AdapterUpstream, Err: err}
	}
	var wire personaWire
	err := g.generateJSON(ctx, domain.CapabilityPersonaReply, BuildPersonaPrompt(in), personaSchema, 0.7, &wire)
	if err != nil {
		return domain.PersonaOutput{}, err
	}
	if wire.AIResponse == nil {
		return domain.PersonaOutput{}, missingField(domain.CapabilityPersonaReply, "aiResponse")
	}
	out := domain.PersonaOutput{AIResponse: *wire.AIResponse}
	if err := out.Validate(); err != nil {
		return domain.PersonaOutput{}, invalidOutput(domain.CapabilityPersonaReply, err)
	}
	return out, nil
}

func (g *GeminiClient) AnalyzeDistortion(ctx context.Context, in domain.DistortionInput) (domain.DistortionOutput, error) {
	var wire distortionWire
	err := g.generateJSON(ctx, domain.CapabilityDistortion, BuildDistortionPrompt(in), distortionSchema, 0.2, &wire)
	if err != nil {
		return domain.DistortionOutput{}, err
	}
	switch {
	case wire.HasDistortion == nil:
		return domain.DistortionOutput{}, missingField(domain.CapabilityDistortion, "hasDistortion")
	case wire.IdentifiedDistortion == nil:
		return domain.DistortionOutput{}, missingField(domain.CapabilityDistortion, "identifiedDistortion")
	case wire.SuggestedChallenge == nil:
		return domain.DistortionOutput{}, missingField(domain.CapabilityDistortion, "suggestedChallenge")
	}
	out := domain.DistortionOutput{
		HasDistortion:        *wire.HasDistortion,
		IdentifiedDistortion: *wire.IdentifiedDistortion,
		SuggestedChallenge:   *wire.SuggestedChallenge,
	}
	if err := out.Validate(); err != nil {
		return domain.DistortionOutput{}, invalidOutput(domain.CapabilityDistortion, err)
	}
	return out, nil
}

// AnalyzeCrisis fails on any schema mismatch; a missing verdict is never read as "no crisis".
func (g *GeminiClient) AnalyzeCrisis(ctx context.Context, in domain.CrisisInput) (domain.CrisisOutput, error) {
	var wire crisisWire
	err := g.generateJSON(ctx, domain.CapabilityCrisis, BuildCrisisPrompt(in), crisisSchema, 0, &wire)
	if err != nil {
		return domain.CrisisOutput{}, err
	}
	switch {
	case wire.IsCrisis == nil:
		return domain.CrisisOutput{}, missingField(domain.CapabilityCrisis, "isCrisis")
	case wire.Advisory == nil:
		return domain.CrisisOutput{}, missingField(domain.CapabilityCrisis, "advisory")
	}
	out := domain.CrisisOutput{IsCrisis: *wire.IsCrisis, Advisory: *wire.Advisory}
	if err := out.Validate(); err != nil {
		return domain.CrisisOutput{}, invalidOutput(domain.CapabilityCrisis, err)
	}
	return out, nil
}

func (g *GeminiClient) generateJSON(
	ctx context.Context,
	capability domain.Capability,
	p Prompt,
	schema *genai.Schema,
	temperature float32,
	out any,
) error {
	temp := temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   2048,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
	}

	contents := []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return classifyError(ctx, capability, err)
	}

	text := strings.TrimSpace(res.Text())
	if text == "" {
		return invalidOutput(capability, errors.New("empty response"))
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return invalidOutput(capability, fmt.Errorf("decoding structured output: %w", err))
	}
	return nil
}

func invalidOutput(capability domain.Capability, err error) error {
	return &domain.AdapterError{Capability: capability, Kind: domain.AdapterInvalidOutput, Err: err}
}

func classifyError(ctx context.Context, capability domain.Capability, err error) error {
	kind := domain.AdapterUpstream
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = domain.AdapterTimeout
	}
	return &domain.AdapterError{Capability: capability, Kind: kind, Err: err}
}

// apiStatusCode extracts the HTTP status of a genai API error, 0 if none.
func apiStatusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}
