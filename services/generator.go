package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/LovationAdmin/memorial-api/models"
)

// Generator produces the per-photo reflection and the memorial tribute.
// Every failure is returned wrapping ErrGeneratorUnavailable.
type Generator interface {
	Reflect(ctx context.Context, imageURL, caption string) (string, error)
	Summarize(ctx context.Context, entries []models.MemoryEntry) (string, error)
}

// UnavailableGenerator is used when no provider is configured.
type UnavailableGenerator struct{}

func (UnavailableGenerator) Reflect(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("no provider configured: %w", ErrGeneratorUnavailable)
}

func (UnavailableGenerator) Summarize(context.Context, []models.MemoryEntry) (string, error) {
	return "", fmt.Errorf("no provider configured: %w", ErrGeneratorUnavailable)
}

// RateLimitedGenerator bounds the call rate to the wrapped generator and
// records call durations.
type RateLimitedGenerator struct {
	next    Generator
	limiter *rate.Limiter
	metrics *Metrics
}

func NewRateLimitedGenerator(next Generator, perSecond float64, burst int) *RateLimitedGenerator {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedGenerator{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		metrics: NewMetrics(),
	}
}

func (g *RateLimitedGenerator) Reflect(ctx context.Context, imageURL, caption string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %v: %w", err, ErrGeneratorUnavailable)
	}
	start := time.Now()
	defer func() { g.metrics.GeneratorDuration.WithLabelValues("reflect").Observe(time.Since(start).Seconds()) }()
	return g.next.Reflect(ctx, imageURL, caption)
}

func (g *RateLimitedGenerator) Summarize(ctx context.Context, entries []models.MemoryEntry) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %v: %w", err, ErrGeneratorUnavailable)
	}
	start := time.Now()
	defer func() { g.metrics.GeneratorDuration.WithLabelValues("summarize").Observe(time.Since(start).Seconds()) }()
	return g.next.Summarize(ctx, entries)
}

const reflectionSystemPrompt = `You write short, warm reflections for photos shared on a memorial page.
Write two or three sentences in the second person plural addressed to the family.
Do not invent names, dates or facts that are not in the caption.`

const summarySystemPrompt = `You write a tribute for a memorial page from the memories its family shared.
Write three short paragraphs. Draw on the recurring themes of the memories.
Do not invent names, dates or facts that are not in the memories.`

// summaryPrompt renders the memories in position order for the summary call.
func summaryPrompt(entries []models.MemoryEntry) string {
	var b []byte
	b = append(b, "Memories shared by family and friends:\n\n"...)
	for _, e := range entries {
		b = fmt.Appendf(b, "%d. %s", e.Position+1, e.Caption)
		if e.ContributorName != "" {
			b = fmt.Appendf(b, " (shared by %s", e.ContributorName)
			if e.Relationship != "" {
				b = fmt.Appendf(b, ", %s", e.Relationship)
			}
			b = append(b, ')')
		}
		b = append(b, '\n')
		if e.Reflection != "" {
			b = fmt.Appendf(b, "   Reflection: %s\n", e.Reflection)
		}
	}
	return string(b)
}

func reflectionPrompt(caption string) string {
	return fmt.Sprintf("Caption from the family: %s", caption)
}
