package grader

import (
	"context"
	"strings"
	"testing"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicGrader_AlwaysTagsDegraded(t *testing.T) {
	g := NewHeuristicGrader()

	eval, err := g.Evaluate(context.Background(), strings.Repeat("word ", 400), testRubric)
	require.NoError(t, err)

	assert.True(t, eval.Degraded, "substitute output must be explicitly non-authoritative")
	assert.NotEmpty(t, eval.OverallLevel)
	assert.Contains(t, testRubric.Levels, eval.OverallLevel)
	for _, d := range testRubric.Domains {
		assert.Contains(t, eval.DomainScores, d)
	}
}

func TestHeuristicGrader_EmptyContentIsPermanent(t *testing.T) {
	g := NewHeuristicGrader()

	_, err := g.Evaluate(context.Background(), "   \n", testRubric)
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
}

func TestBuild_SelectsBackend(t *testing.T) {
	primary, fallback, err := Build(configFor("local", "", true))
	require.NoError(t, err)
	assert.IsType(t, &OllamaGrader{}, primary)
	assert.IsType(t, &HeuristicGrader{}, fallback)

	primary, fallback, err = Build(configFor("remote", "https://api.example.com/v1", false))
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGrader{}, primary)
	assert.Nil(t, fallback)

	_, _, err = Build(configFor("remote", "", false))
	assert.Error(t, err, "remote mode requires a url")

	_, _, err = Build(configFor("carrier-pigeon", "", false))
	assert.Error(t, err)
}
