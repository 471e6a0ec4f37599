package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"

	"github.com/LovationAdmin/memorial-api/models"
)

// GeminiGenerator implements Generator on the Gemini API. Gemini takes
// inline image bytes, so photos are read back from the object store.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	objects ObjectStore
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, objects ObjectStore) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{client: client, model: model, objects: objects}, nil
}

func (g *GeminiGenerator) Reflect(ctx context.Context, imageURL, caption string) (string, error) {
	var parts []*genai.Part
	if imageURL != "" && g.objects != nil {
		data, err := g.objects.Get(ctx, imageURL)
		if err != nil {
			return "", fmt.Errorf("load image: %v: %w", err, ErrGeneratorUnavailable)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimetype.Detect(data).String()))
	}
	parts = append(parts, genai.NewPartFromText(reflectionPrompt(caption)))

	return g.generate(ctx, reflectionSystemPrompt, parts)
}

func (g *GeminiGenerator) Summarize(ctx context.Context, entries []models.MemoryEntry) (string, error) {
	return g.generate(ctx, summarySystemPrompt, []*genai.Part{genai.NewPartFromText(summaryPrompt(entries))})
}

func (g *GeminiGenerator) generate(ctx context.Context, system string, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini: %v: %w", err, ErrGeneratorUnavailable)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: no content generated: %w", ErrGeneratorUnavailable)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: empty response: %w", ErrGeneratorUnavailable)
	}
	return text, nil
}
