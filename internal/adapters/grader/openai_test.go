package grader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRubric = domain.Rubric{
	Domains:      []string{"structure", "evidence"},
	Levels:       []string{"beginning", "developing", "proficient", "advanced"},
	CriteriaText: "Argue a position with supporting evidence.",
}

func completionResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(body)
}

func TestOpenAIGrader_ParsesEvaluation(t *testing.T) {
	verdict := `{"overall_level":"proficient","domain_scores":{"structure":{"level":"proficient","score":0.75,"feedback":"clear"}},"strengths":["thesis"],"improvements":["citations"],"feedback":"solid work"}`

	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionResponse(verdict)))
	}))
	defer srv.Close()

	g := NewOpenAIGrader(srv.URL, "key", "grader-1", 0.3)
	eval, err := g.Evaluate(context.Background(), "essay text", testRubric)
	require.NoError(t, err)

	assert.Equal(t, "proficient", eval.OverallLevel)
	assert.Equal(t, 0.75, eval.DomainScores["structure"].Score)
	assert.False(t, eval.Degraded)

	assert.Equal(t, "grader-1", gotReq["model"])
	assert.Equal(t, 0.3, gotReq["temperature"])
}

func TestOpenAIGrader_ParsesFencedJSON(t *testing.T) {
	verdict := "```json\n{\"overall_level\":\"advanced\"}\n```"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(completionResponse(verdict)))
	}))
	defer srv.Close()

	g := NewOpenAIGrader(srv.URL, "", "", 0)
	eval, err := g.Evaluate(context.Background(), "essay", testRubric)
	require.NoError(t, err)
	assert.Equal(t, "advanced", eval.OverallLevel)
}

func TestOpenAIGrader_ServerErrorsAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewOpenAIGrader(srv.URL, "", "", 0)
	_, err := g.Evaluate(context.Background(), "essay", testRubric)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.False(t, domain.IsPermanent(err))
}

func TestOpenAIGrader_RateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewOpenAIGrader(srv.URL, "", "", 0)
	_, err := g.Evaluate(context.Background(), "essay", testRubric)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestOpenAIGrader_ClientErrorsArePermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exhausted", http.StatusForbidden)
	}))
	defer srv.Close()

	g := NewOpenAIGrader(srv.URL, "", "", 0)
	_, err := g.Evaluate(context.Background(), "essay", testRubric)
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
}

func TestOpenAIGrader_UnreachableHostIsTransient(t *testing.T) {
	g := NewOpenAIGrader("http://127.0.0.1:1", "", "", 0)
	_, err := g.Evaluate(context.Background(), "essay", testRubric)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestOpenAIGrader_MalformedVerdictIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(completionResponse("the essay was fine, B+ overall")))
	}))
	defer srv.Close()

	g := NewOpenAIGrader(srv.URL, "", "", 0)
	_, err := g.Evaluate(context.Background(), "essay", testRubric)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err), "the model may produce valid JSON next attempt")
}
