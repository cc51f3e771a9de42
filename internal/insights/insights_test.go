package insights

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/dvloznov/finance-scheduler/internal/domain"
)

type mockModels struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFunc(ctx, model, contents, config)
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: s}}}}},
	}
}

func sampleStats() domain.MonthlyStats {
	return domain.MonthlyStats{
		Period:        civil.Date{Year: 2024, Month: 2, Day: 1},
		TotalIncome:   decimal.RequireFromString("3000"),
		TotalExpenses: decimal.RequireFromString("1250.75"),
		ByCategory: map[string]decimal.Decimal{
			"housing": decimal.RequireFromString("1000"),
			"food":    decimal.RequireFromString("250.75"),
		},
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `["a","b"]`, `["a","b"]`},
		{"fenced json", "```json\n[\"a\"]\n```", `["a"]`},
		{"fenced bare", "```\n[\"a\"]\n```", `["a"]`},
		{"prose around", "Here you go:\n[\"a\", \"b\"]\nEnjoy!", `["a", "b"]`},
		{"whitespace", "  \n[\"a\"]\n ", `["a"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.in))
		})
	}
}

func TestGeminiGenerator_Generate(t *testing.T) {
	var gotModel, gotPrompt string
	m := &mockModels{GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotModel = model
		gotPrompt = contents[0].Parts[0].Text
		return textResponse("```json\n[\"Housing is 80% of spending.\", \" \", \"Cook at home more.\"]\n```"), nil
	}}

	g := NewGeminiGeneratorWithModels(m, "")
	out, err := g.Generate(context.Background(), sampleStats(), "February 2024")
	require.NoError(t, err)

	assert.Equal(t, DefaultModelName, gotModel)
	assert.Contains(t, gotPrompt, "Financial Data for February 2024")
	assert.Contains(t, gotPrompt, "Net Income: $1749.25")
	assert.Contains(t, gotPrompt, "housing: $1000.00, food: $250.75")
	assert.Equal(t, []string{"Housing is 80% of spending.", "Cook at home more."}, out)
}

func TestGeminiGenerator_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		err  error
	}{
		{"api error", nil, errors.New("quota exceeded")},
		{"empty", textResponse(""), nil},
		{"not json", textResponse("I think you spend a lot."), nil},
		{"empty array", textResponse("[]"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockModels{GenerateContentFunc: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return tt.resp, tt.err
			}}
			_, err := NewGeminiGeneratorWithModels(m, "test-model").Generate(context.Background(), sampleStats(), "February 2024")
			assert.Error(t, err)
		})
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, domain.MonthlyStats, string) ([]string, error) {
	return nil, errors.New("model unavailable")
}

type fixedGenerator []string

func (f fixedGenerator) Generate(context.Context, domain.MonthlyStats, string) ([]string, error) {
	return f, nil
}

func TestWithFallback(t *testing.T) {
	ctx := context.Background()

	out, err := WithFallback(failingGenerator{}).Generate(ctx, sampleStats(), "February 2024")
	require.NoError(t, err)
	assert.Equal(t, Fallback, out)

	out, err = WithFallback(nil).Generate(ctx, sampleStats(), "February 2024")
	require.NoError(t, err)
	assert.Len(t, out, 3)

	out, err = WithFallback(fixedGenerator{"one"}).Generate(ctx, sampleStats(), "February 2024")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, out)

	// callers may modify the result without touching the shared fallback
	out, _ = WithFallback(nil).Generate(ctx, sampleStats(), "February 2024")
	out[0] = "changed"
	assert.NotEqual(t, "changed", Fallback[0])
}
