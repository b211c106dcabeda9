package complexity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssessEmptyInputIsSimple(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t"} {
		a := Assess(input)
		assert.Equal(t, 1.0, a.Score)
		assert.Equal(t, LevelSimple, a.Level)
		assert.Equal(t, ApproachDirect, a.SuggestedApproach)
		assert.False(t, a.NeedsDecomposition)
		assert.Empty(t, a.Factors)
	}
}

func TestAssessSimpleQuery(t *testing.T) {
	a := Assess("查询学生人数")
	assert.Equal(t, LevelSimple, a.Level)
	assert.Less(t, a.Score, 1.5)
	assert.Equal(t, 1, a.EstimatedSteps)
	assert.False(t, a.NeedsDecomposition)
}

func TestAssessCompoundCreationIsComplex(t *testing.T) {
	a := Assess("帮我创建一个活动并生成海报")

	require.GreaterOrEqual(t, a.Score, 3.0)
	assert.Contains(t, a.Factors, "creation_task")
	assert.Contains(t, a.Factors, "compound_creation")
	assert.True(t, a.NeedsDecomposition)
	assert.NotEqual(t, LevelSimple, a.Level)
	assert.NotEqual(t, LevelModerate, a.Level)
}

func TestAssessStepMarkersRaiseScore(t *testing.T) {
	plain := Assess("导出报表")
	stepped := Assess("首先导出报表，然后发给园长")

	assert.Greater(t, stepped.Score, plain.Score)
	assert.Contains(t, stepped.Factors, "step_markers")
	assert.Contains(t, stepped.Factors, "multi_step")
}

func TestAssessFactorCountsOnce(t *testing.T) {
	// Repeating a pattern must not inflate the score.
	once := Assess("通知家长")
	thrice := Assess("通知家长 通知家长 通知家长")

	require.Contains(t, once.Factors, "notification")
	require.Contains(t, thrice.Factors, "notification")
	assert.Equal(t, once.Factors["notification"], thrice.Factors["notification"])
}

func TestAssessDeterministic(t *testing.T) {
	const input = "创建春游活动，然后通知所有家长，需要园长审批"
	first := Assess(input)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Assess(input))
	}
}

func TestAssessVeryComplexSuggestsSubtasks(t *testing.T) {
	a := Assess("首先创建一个春游活动并生成海报，然后批量通知所有家长，最后需要园长审批")

	assert.GreaterOrEqual(t, a.Score, 5.0)
	assert.Equal(t, LevelVeryComplex, a.Level)
	assert.Equal(t, ApproachWorkflowSubtasks, a.SuggestedApproach)
	assert.True(t, a.NeedsDecomposition)
}

func TestAssessEnglishPatterns(t *testing.T) {
	a := Assess("Create a field trip event and publish the poster, then notify every parent")

	assert.Contains(t, a.Factors, "creation_task")
	assert.Contains(t, a.Factors, "compound_creation")
	assert.Contains(t, a.Factors, "notification")
	assert.True(t, a.NeedsDecomposition)
}

func TestAssessLengthTermCaps(t *testing.T) {
	long := strings.Repeat("天气怎么样", 80)
	a := Assess(long)
	// Length alone contributes at most 0.5 and never flips the level.
	assert.Equal(t, LevelSimple, a.Level)
	assert.LessOrEqual(t, a.Score, 0.5)
}

func TestAssessRecommendationsStable(t *testing.T) {
	const input = "批量通知家长，需要园长审批"
	a := Assess(input)

	require.NotEmpty(t, a.Recommendations)
	assert.Equal(t, a.Recommendations, Assess(input).Recommendations)
}
