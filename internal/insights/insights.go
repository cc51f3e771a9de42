// Package insights produces short spending tips for the monthly report.
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/notify"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Fallback is returned whenever the model cannot produce insights.
var Fallback = []string{
	"Your highest expense category this month might need attention.",
	"Consider setting up a budget for better financial management.",
	"Track your recurring expenses to identify potential savings.",
}

// Generator turns a month of statistics into a few insights.
type Generator interface {
	Generate(ctx context.Context, stats domain.MonthlyStats, month string) ([]string, error)
}

// ContentGenerator is the subset of the genai models API used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator asks a Gemini model for insights as a JSON array of strings.
type GeminiGenerator struct {
	models ContentGenerator
	model  string
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a Gemini API client for apiKey.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewGeminiGeneratorWithModels(client.Models, model), nil
}

// NewGeminiGeneratorWithModels wraps an existing models API.
func NewGeminiGeneratorWithModels(models ContentGenerator, model string) *GeminiGenerator {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiGenerator{models: models, model: model}
}

func (g *GeminiGenerator) Generate(ctx context.Context, stats domain.MonthlyStats, month string) ([]string, error) {
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(stats, month)), cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	var out []string
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("unmarshal insights: %w\nraw response: %s", err, raw)
	}

	insights := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			insights = append(insights, s)
		}
	}
	if len(insights) == 0 {
		return nil, fmt.Errorf("model returned no insights")
	}
	return insights, nil
}

func buildPrompt(stats domain.MonthlyStats, month string) string {
	var b strings.Builder
	b.WriteString("Analyze this financial data and provide 3 concise, actionable insights.\n")
	b.WriteString("Focus on spending patterns and practical advice. Keep it friendly and conversational.\n\n")
	fmt.Fprintf(&b, "Financial Data for %s:\n", month)
	fmt.Fprintf(&b, "- Total Income: $%s\n", stats.TotalIncome.StringFixed(2))
	fmt.Fprintf(&b, "- Total Expenses: $%s\n", stats.TotalExpenses.StringFixed(2))
	fmt.Fprintf(&b, "- Net Income: $%s\n", stats.Net().StringFixed(2))
	b.WriteString("- Expense Categories: ")
	cats := notify.SortedCategories(stats.ByCategory)
	for i, c := range cats {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: $%s", c.Category, c.Amount.StringFixed(2))
	}
	b.WriteString("\n\n")
	b.WriteString("Return ONLY a raw JSON array of strings, like this:\n")
	b.WriteString(`["insight 1", "insight 2", "insight 3"]`)
	b.WriteString("\nDo NOT wrap the response in code fences.\n")
	return b.String()
}

// withFallback returns Fallback whenever the inner generator fails.
type withFallback struct {
	inner Generator
}

// WithFallback wraps g so that Generate never fails. A nil g always yields Fallback.
func WithFallback(g Generator) Generator {
	return &withFallback{inner: g}
}

func (f *withFallback) Generate(ctx context.Context, stats domain.MonthlyStats, month string) ([]string, error) {
	if f.inner == nil {
		return fallback(), nil
	}
	out, err := f.inner.Generate(ctx, stats, month)
	if err != nil || len(out) == 0 {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("month", month).Msg("Insight generation failed, using fallback insights")
		return fallback(), nil
	}
	return out, nil
}

func fallback() []string {
	return append([]string(nil), Fallback...)
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost array if the model added prose around it.
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
