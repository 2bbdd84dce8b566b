package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/genai"

	"thirdeye-service/internal/domain/violation"
)

var ErrEmptyResult = errors.New("vision model returned no assessment")

const analyzePrompt = `Analyze this traffic violation image and provide structured output as JSON.

Extract the following information:
1. title: A brief, clear title of the violation
2. description: Detailed description of what is happening
3. violationTypes: Comma-separated list of violation types from this list: speeding, rash_driving, wrong_parking, red_light, helmet_violation, seatbelt_violation, phone_usage, no_license_plate, other
4. regionMatch: Whether this is in India (check for Indian road signs, license plates, etc.)
5. vehicleDetected: Whether a vehicle is clearly visible
6. violationDetected: Whether a traffic violation is actually occurring
7. licensePlateDetected: Whether a vehicle license plate is visible
8. confidenceLevel: Your confidence in the detection (0-1 scale)
9. vehicleNumber: The license plate number if readable

Be accurate and conservative with your assessment. Return 0 confidence for low-quality images.`

const assessmentSchemaURL = "https://thirdeye.local/schemas/assessment.schema.json"

const assessmentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title", "description", "violationTypes", "regionMatch", "vehicleDetected",
               "violationDetected", "licensePlateDetected", "confidenceLevel"],
  "properties": {
    "title": {"type": "string"},
    "description": {"type": "string"},
    "violationTypes": {"type": "string"},
    "regionMatch": {"type": "boolean"},
    "vehicleDetected": {"type": "boolean"},
    "violationDetected": {"type": "boolean"},
    "licensePlateDetected": {"type": "boolean"},
    "confidenceLevel": {"type": "number", "minimum": 0, "maximum": 1},
    "vehicleNumber": {"type": "string"}
  }
}`

type VisionClient struct {
	client      *Client
	model       string
	temperature float64
	schema      *jsonschema.Schema
}

func NewVisionClient(client *Client, model string, temperature float64) (*VisionClient, error) {
	if model == "" {
		model = DefaultVisionModel
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(assessmentSchemaURL, strings.NewReader(assessmentSchema)); err != nil {
		return nil, fmt.Errorf("load assessment schema: %w", err)
	}
	schema, err := c.Compile(assessmentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile assessment schema: %w", err)
	}
	return &VisionClient{client: client, model: model, temperature: temperature, schema: schema}, nil
}

type assessmentWire struct {
	Title                string  `json:"title"`
	Description          string  `json:"description"`
	ViolationTypes       string  `json:"violationTypes"`
	RegionMatch          bool    `json:"regionMatch"`
	VehicleDetected      bool    `json:"vehicleDetected"`
	ViolationDetected    bool    `json:"violationDetected"`
	LicensePlateDetected bool    `json:"licensePlateDetected"`
	ConfidenceLevel      float64 `json:"confidenceLevel"`
	VehicleNumber        string  `json:"vehicleNumber"`
}

// Analyze sends the image to the vision model and returns its structured
// assessment. The model output is checked against the assessment schema
// before it is trusted.
func (v *VisionClient) Analyze(ctx context.Context, image []byte) (*violation.Assessment, error) {
	if len(image) == 0 {
		return nil, errors.New("analyze: empty image")
	}

	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(analyzePrompt),
		genai.NewPartFromBytes(image, mimetype.Detect(image).String()),
	}, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(v.temperature)),
		ResponseMIMEType: "application/json",
	}

	if err := v.client.wait(ctx); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	resp, err := v.client.genai.Models.GenerateContent(ctx, v.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", apiError(err))
	}

	text := responseText(resp)
	if text == "" {
		return nil, ErrEmptyResult
	}
	return v.decodeAssessment(text)
}

func (v *VisionClient) decodeAssessment(text string) (*violation.Assessment, error) {
	text = stripCodeFence(text)

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("analyze: model output is not JSON: %w", err)
	}
	if err := v.schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("analyze: model output rejected: %w", err)
	}

	var wire assessmentWire
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("analyze: decode assessment: %w", err)
	}
	return &violation.Assessment{
		Title:            wire.Title,
		Description:      wire.Description,
		ViolationTypes:   wire.ViolationTypes,
		RegionMatch:      wire.RegionMatch,
		VehiclePresent:   wire.VehicleDetected,
		ViolationPresent: wire.ViolationDetected,
		PlatePresent:     wire.LicensePlateDetected,
		Confidence:       wire.ConfidenceLevel,
		VehicleNumber:    strings.TrimSpace(wire.VehicleNumber),
	}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && !p.Thought {
				b.WriteString(p.Text)
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
