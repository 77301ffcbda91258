package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"investcore/internal/models"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiOptimizer asks a Gemini model for target quantities in JSON mode.
type GeminiOptimizer struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGeminiOptimizer(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiOptimizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiOptimizer{client: client, model: model, logger: logger}, nil
}

type geminiAnswer struct {
	Recommendations []struct {
		Symbol         string          `json:"symbol"`
		Action         string          `json:"action"`
		TargetQuantity decimal.Decimal `json:"target_quantity"`
		TargetWeight   decimal.Decimal `json:"target_weight"`
		Explanation    string          `json:"explanation"`
	} `json:"recommendations"`
	Confidence  decimal.Decimal `json:"confidence"`
	Explanation string          `json:"explanation"`
}

func (g *GeminiOptimizer) Optimize(ctx context.Context, portfolioID string, symbols []string) (*Result, error) {
	if g.logger != nil {
		g.logger.Debug("gemini optimize", zap.String("portfolio_id", portfolioID), zap.Int("symbols", len(symbols)))
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buildOptimizePrompt(symbols)), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text, err := responseText(result)
	if err != nil {
		return nil, err
	}
	out, err := parseGeminiAnswer(text)
	if err != nil {
		return nil, err
	}
	out.Model = g.model
	return out, nil
}

func buildOptimizePrompt(symbols []string) string {
	var sb strings.Builder
	sb.WriteString("You rebalance an equity portfolio. For each symbol below return a target share quantity.\n")
	sb.WriteString("Respond with JSON only, shaped as:\n")
	sb.WriteString(`{"recommendations":[{"symbol":"AAPL","action":"buy|sell|hold","target_quantity":"10","target_weight":"0.25","explanation":"..."}],"confidence":"0.0-1.0","explanation":"..."}`)
	sb.WriteString("\nSymbols:\n")
	for _, s := range symbols {
		sb.WriteString("- ")
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return sb.String()
}

func responseText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no content")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no content")
	}
	return sb.String(), nil
}

// parseGeminiAnswer tolerates fenced code blocks around the JSON payload.
func parseGeminiAnswer(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var ans geminiAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &ans); err != nil {
		return nil, fmt.Errorf("decode gemini answer: %w", err)
	}
	out := &Result{
		Confidence:  ans.Confidence,
		Explanation: ans.Explanation,
		Metrics:     map[string]any{"source": "gemini"},
	}
	for _, r := range ans.Recommendations {
		out.Recommendations = append(out.Recommendations, models.Recommendation{
			Symbol:         r.Symbol,
			Action:         r.Action,
			TargetQuantity: r.TargetQuantity,
			TargetWeight:   r.TargetWeight,
			Explanation:    r.Explanation,
		})
	}
	if err := out.normalize(); err != nil {
		return nil, err
	}
	return out, nil
}
