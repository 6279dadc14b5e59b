package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/ports"
)

// OllamaGrader grades submissions through a local Ollama instance.
type OllamaGrader struct {
	client      *http.Client
	baseURL     string
	model       string
	temperature float64
}

var _ ports.Grader = (*OllamaGrader)(nil)

func NewOllamaGrader(baseURL, model string, temperature float64) *OllamaGrader {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:latest"
	}
	return &OllamaGrader{
		client:      &http.Client{Timeout: 120 * time.Second},
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
	}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system"`
	Format  string         `json:"format"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *OllamaGrader) Evaluate(ctx context.Context, content string, rubric domain.Rubric) (*domain.Evaluation, error) {
	reqBody := ollamaRequest{
		Model:   g.model,
		Prompt:  content,
		System:  systemPrompt(rubric),
		Format:  "json",
		Stream:  false,
		Options: map[string]any{"temperature": g.temperature},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, domain.NewPermanentError("marshal grading request", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, domain.NewPermanentError("build grading request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, domain.NewTransientError("ollama connection failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, fmt.Sprintf("model %s", g.model))
	}

	var genResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, domain.NewTransientError("decode grading response", err)
	}

	return parseEvaluation(genResp.Response)
}
