// Package generate asks a Gemini model for SVG artwork and drops the result
// onto the canvas.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/microbiomeViz/Picture-library/config"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/ingest"
	"github.com/microbiomeViz/Picture-library/schema"
	"github.com/sirupsen/logrus"
)

type Style string

const (
	Flat   Style = "Flat"
	ThreeD Style = "3D"
	Sketch Style = "Sketch"
)

var qualifiers = map[Style]string{
	Flat:   "in flat vector art style, simple colors",
	ThreeD: "in 3d render style, glossy, high quality",
	Sketch: "in hand-drawn sketch style, black and white lines",
}

// Styles lists the accepted styles in display order.
func Styles() []Style {
	return []Style{Flat, ThreeD, Sketch}
}

// ParseStyle accepts a style name case-insensitively.
func ParseStyle(s string) (Style, error) {
	for _, style := range Styles() {
		if strings.EqualFold(s, string(style)) {
			return style, nil
		}
	}
	return "", fmt.Errorf("unknown style %q: %w", s, core.ErrValidation)
}

// Qualifier is the phrase appended to prompts of this style.
func (s Style) Qualifier() string {
	return qualifiers[s]
}

// Gemini generateContent wire types.
type (
	Part struct {
		Text string `json:"text"`
	}

	Content struct {
		Parts []Part `json:"parts"`
	}

	GenerateContentRequest struct {
		Contents []Content `json:"contents"`
	}

	Candidate struct {
		Content Content `json:"content"`
	}

	GenerateContentResponse struct {
		Candidates []Candidate `json:"candidates"`
	}
)

var responseSchema = schema.MustCompile("gemini-response.json", `{
	"type": "object",
	"required": ["candidates"],
	"properties": {
		"candidates": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["content"],
				"properties": {
					"content": {
						"type": "object",
						"required": ["parts"],
						"properties": {
							"parts": {
								"type": "array",
								"minItems": 1,
								"items": {
									"type": "object",
									"required": ["text"],
									"properties": {"text": {"type": "string"}}
								}
							}
						}
					}
				}
			}
		}
	}
}`)

// AIFileName and AIMimeType describe generated artwork handed to the canvas.
const (
	AIFileName = "ai.svg"
	AIMimeType = "image/svg+xml"

	maxResponseBytes = 8 << 20
)

type Generator struct {
	cfg      config.GeminiConfig
	client   *http.Client
	pipeline *ingest.Pipeline
}

// NewGenerator returns a generator. A nil client gets one with cfg.Timeout.
func NewGenerator(cfg config.GeminiConfig, client *http.Client, pipeline *ingest.Pipeline) *Generator {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Generator{cfg: cfg, client: client, pipeline: pipeline}
}

// Enabled reports whether an API key is configured.
func (g *Generator) Enabled() bool {
	return g.cfg.APIKey != ""
}

func buildPrompt(prompt string, style Style) string {
	return fmt.Sprintf("You are a scientific illustrator. Create an SVG code for: %q %s. Return ONLY raw <svg> code. No markdown.",
		prompt, style.Qualifier())
}

var fences = strings.NewReplacer("```xml", "", "```svg", "", "```", "")

// stripFences removes markdown code fence markers and surrounding space.
func stripFences(text string) string {
	return strings.TrimSpace(fences.Replace(text))
}

// Generate requests artwork for prompt, inserts it at the centre of the
// viewport and returns the SVG markup. Validation problems are reported as
// ErrValidation before any request is made; everything after that is
// ErrGenerationFailed.
func (g *Generator) Generate(ctx context.Context, canvas core.Canvas, prompt string, style Style) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("prompt is required: %w", core.ErrValidation)
	}
	if _, ok := qualifiers[style]; !ok {
		return "", fmt.Errorf("unknown style %q: %w", style, core.ErrValidation)
	}
	if !g.Enabled() {
		return "", fmt.Errorf("no AI API key configured: %w", core.ErrValidation)
	}

	log := logrus.WithFields(logrus.Fields{"style": style, "model": g.cfg.Model})

	svg, err := g.request(ctx, buildPrompt(prompt, style))
	if err != nil {
		log.WithError(err).Error("AI generation failed")
		return "", fmt.Errorf("%w: %v", core.ErrGenerationFailed, err)
	}

	center := canvas.ScreenToPage(canvas.ViewportScreenBounds().Center())
	file := core.File{Name: AIFileName, MimeType: AIMimeType, Data: []byte(svg)}
	if state := g.pipeline.IngestBytes(ctx, canvas, file, center); state != ingest.Inserted {
		log.WithField("state", state).Error("Generated artwork could not be inserted")
		return "", fmt.Errorf("%w: artwork was not inserted", core.ErrGenerationFailed)
	}

	log.WithField("size", len(svg)).Info("AI artwork inserted")
	return svg, nil
}

func (g *Generator) endpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(g.cfg.BaseURL, "/"), url.PathEscape(g.cfg.Model), url.QueryEscape(g.cfg.APIKey))
}

func (g *Generator) request(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(GenerateContentRequest{
		Contents: []Content{{Parts: []Part{{Text: text}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// The URL carries the key; keep it out of the logs.
		if uerr, ok := err.(*url.Error); ok {
			err = uerr.Err
		}
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out GenerateContentResponse
	if err := responseSchema.Decode(raw, &out); err != nil {
		return "", fmt.Errorf("malformed response: %w", err)
	}

	svg := stripFences(out.Candidates[0].Content.Parts[0].Text)
	if !strings.Contains(svg, "<svg") {
		return "", errors.New("response holds no <svg> markup")
	}
	return svg, nil
}
