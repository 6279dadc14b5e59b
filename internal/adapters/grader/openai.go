// Package grader provides adapters for the external grading service: an
// OpenAI-compatible remote backend, a local Ollama backend, and a degraded
// heuristic substitute for when the model is unreachable.
package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/ports"
)

// OpenAIGrader grades submissions through an OpenAI-compatible chat
// completions API. Works with: OpenAI, Azure OpenAI, Together AI, local
// Ollama /v1, etc.
type OpenAIGrader struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
}

var _ ports.Grader = (*OpenAIGrader)(nil)

func NewOpenAIGrader(baseURL, apiKey, model string, temperature float64) *OpenAIGrader {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIGrader{
		client:      &http.Client{Timeout: 120 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
	}
}

func (g *OpenAIGrader) Evaluate(ctx context.Context, content string, rubric domain.Rubric) (*domain.Evaluation, error) {
	payload := map[string]any{
		"model":       g.model,
		"temperature": g.temperature,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt(rubric)},
			{"role": "user", "content": content},
		},
		"response_format": map[string]string{"type": "json_object"},
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewPermanentError("marshal grading request", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/chat/completions", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, domain.NewPermanentError("build grading request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, domain.NewTransientError("grading service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.NewTransientError("decode grading response", err)
	}
	if len(result.Choices) == 0 {
		return nil, domain.NewTransientError("empty grading response", nil)
	}

	return parseEvaluation(result.Choices[0].Message.Content)
}

// classifyStatus maps HTTP failures onto the retry taxonomy: timeouts, rate
// limits and server errors retry; everything else (invalid input, auth,
// quota denial) does not.
func classifyStatus(code int, body string) error {
	msg := fmt.Sprintf("grading service returned status %d: %s", code, body)
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return domain.NewTransientError(msg, nil)
	default:
		return domain.NewPermanentError(msg, nil)
	}
}

func systemPrompt(rubric domain.Rubric) string {
	var b strings.Builder
	b.WriteString("You are an assignment grader. Evaluate the student's submission against the rubric below.\n")
	b.WriteString("Rubric domains: " + strings.Join(rubric.Domains, ", ") + "\n")
	b.WriteString("Achievement levels, lowest to highest: " + strings.Join(rubric.Levels, ", ") + "\n")
	b.WriteString("Criteria:\n" + rubric.CriteriaText + "\n\n")
	b.WriteString(`Respond with a single JSON object: {"overall_level": string, "domain_scores": {<domain>: {"level": string, "score": number, "feedback": string}}, "strengths": [string], "improvements": [string], "feedback": string}`)
	return b.String()
}

// parseEvaluation decodes the model's JSON verdict, tolerating a markdown
// code fence. A malformed verdict is transient: the model may well produce
// valid JSON on the next attempt.
func parseEvaluation(raw string) (*domain.Evaluation, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}

	var eval domain.Evaluation
	if err := json.Unmarshal([]byte(trimmed), &eval); err != nil {
		return nil, domain.NewTransientError("grading response is not valid JSON", err)
	}
	if eval.OverallLevel == "" {
		return nil, domain.NewTransientError("grading response missing overall_level", nil)
	}
	return &eval, nil
}
