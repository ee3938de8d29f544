package output

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/analyzer"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/chain"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quality"
)

const charter = "The project charter defines the objective and strategy for every stakeholder involved in this retail rollout.\n\n" +
	"Each milestone maps to a deliverable with clear management ownership and a review date agreed upfront.\n\n" +
	"Implementation follows the agreed plan while the team tracks risks budgets and schedules across all phases"

func TestQualityGuardrail(t *testing.T) {
	log := audit.NewMemoryLogger()
	g := NewQualityGuardrail(quality.NewScorer(nil, log))

	t.Run("passes strong output", func(t *testing.T) {
		gc := chain.NewOutputContext(charter, quality.Context{KeyTerms: []string{"retail"}})
		res, err := g.Execute(context.Background(), gc)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.InDelta(t, 0.98, gc.QualityScores["overall"], 1e-9)
	})

	t.Run("blocks weak output", func(t *testing.T) {
		gc := chain.NewOutputContext("", quality.Context{})
		res, err := g.Execute(context.Background(), gc)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, "Quality threshold not met: 0.51", res.Message)
		assert.NotEmpty(t, gc.QualityScores)
		assert.Len(t, log.EventsOfType(audit.EventQualityThreshold), 1)
	})
}

func TestBiasGuardrail(t *testing.T) {
	g := NewBiasGuardrail(analyzer.NewBiasDetector(nil, nil))
	assert.True(t, g.Advisory())

	gc := chain.NewOutputContext("she said the plan works", quality.Context{})
	res, err := g.Execute(context.Background(), gc)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, chain.ActionWarn, res.Action)
	assert.Equal(t, BiasMessage, res.Message)
	assert.InDelta(t, 0.2, gc.BiasScores["gender"], 1e-9)

	gc = chain.NewOutputContext("the plan works", quality.Context{})
	res, err = g.Execute(context.Background(), gc)
	require.NoError(t, err)
	assert.Equal(t, chain.ActionPass, res.Action)
	assert.Len(t, gc.BiasScores, 4)
}

func TestContentModerationGuardrail(t *testing.T) {
	g := NewContentModerationGuardrail(analyzer.NewContentDetector(nil))

	res, err := g.Execute(context.Background(), chain.NewOutputContext("An offensive remark", quality.Context{}))
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, "Detected inappropriate content: offensive", res.Message)

	res, err = g.Execute(context.Background(), chain.NewOutputContext("A clear plan", quality.Context{}))
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestOutputChainAccumulates(t *testing.T) {
	c := chain.NewGuardrailChain([]chain.Guardrail{
		NewContentModerationGuardrail(analyzer.NewContentDetector(nil)),
		NewBiasGuardrail(analyzer.NewBiasDetector(nil, nil)),
		NewQualityGuardrail(quality.NewScorer(nil, nil)),
	}, nil)

	gc := chain.NewOutputContext("she is offensive", quality.Context{})
	v := chain.NewVerdict()
	c.ExecuteOutput(context.Background(), gc, v)

	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 2)
	assert.Contains(t, v.Errors[0], "Quality threshold not met")
	assert.Equal(t, "Detected inappropriate content: offensive", v.Errors[1])
	assert.Equal(t, []string{BiasMessage}, v.Warnings)
}
