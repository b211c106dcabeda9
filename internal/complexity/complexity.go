// Package complexity scores a raw user utterance for structural and
// semantic complexity. Assess is a pure function: no I/O, deterministic
// for identical input, and it never fails a request.
package complexity

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Level buckets a score into a coarse complexity class.
type Level string

const (
	LevelSimple      Level = "simple"
	LevelModerate    Level = "moderate"
	LevelComplex     Level = "complex"
	LevelVeryComplex Level = "very_complex"
)

// Approach is the suggested execution strategy for an utterance.
type Approach string

const (
	ApproachDirect           Approach = "direct"
	ApproachGuidedSteps      Approach = "guided_steps"
	ApproachWorkflow         Approach = "workflow"
	ApproachWorkflowSubtasks Approach = "workflow_with_subtasks"
)

// Assessment is the scored judgment of one utterance. Derived purely from
// the input text and never mutated after creation.
type Assessment struct {
	Score              float64            `json:"score"`
	Level              Level              `json:"level"`
	Factors            map[string]float64 `json:"factors"`
	EstimatedSteps     int                `json:"estimated_steps"`
	EstimatedTime      string             `json:"estimated_time"`
	SuggestedApproach  Approach           `json:"suggested_approach"`
	NeedsDecomposition bool               `json:"needs_decomposition"`
	Recommendations    []string           `json:"recommendations,omitempty"`
}

// factor is one weighted pattern. Each factor contributes its weight at most
// once, regardless of how many times the pattern matches.
type factor struct {
	name   string
	weight float64
	re     *regexp.Regexp
}

// Pattern tables. Utterances are mixed Chinese/English, so every pattern
// carries both forms. Weights follow the routing policy: creation phrasing
// dominates, collaboration signals nudge.
var (
	stepFactors = []factor{
		{"multi_step", 1.5, regexp.MustCompile(`(?i)然后|接着|之后再|再(去|把|帮)|and then|after that|,\s*then\b`)},
		{"step_markers", 1.2, regexp.MustCompile(`(?i)第[一二三四五六七八九十]|首先|其次|最后|步骤|step\s*\d|\b\d+\.\s`)},
		{"batch_operation", 1.0, regexp.MustCompile(`(?i)批量|全部|所有|每个|逐个|\bbatch\b|all of the|one by one`)},
	}

	semanticFactors = []factor{
		{"creation_task", 2.5, regexp.MustCompile(`(?i)创建|新建|生成|制作|添加|发起|举办|\bcreate\b|\bgenerate\b|\bmake a\b|set up`)},
		{"compound_creation", 2.0, regexp.MustCompile(`(?i)(创建|新建|制作|举办|办).{0,20}并|并.{0,10}(生成|发布|通知|上传)|create .{0,40}and (publish|generate|notify)`)},
		{"analysis_report", 1.8, regexp.MustCompile(`(?i)(分析|统计).{0,20}(报告|报表)|analy[sz]e .{0,40}report`)},
		{"data_pipeline", 1.5, regexp.MustCompile(`(?i)导入.{0,20}(处理|保存|入库)|import .{0,40}(process|save)`)},
		{"multi_facet_query", 1.3, regexp.MustCompile(`(?i)(多少|哪些|情况).{0,30}(多少|哪些|情况)|分别|以及|\brespectively\b|both .{0,30}\band\b`)},
	}

	collaborationFactors = []factor{
		{"notification", 0.8, regexp.MustCompile(`(?i)通知|告知|提醒|发消息|\bnotify\b|\bremind\b`)},
		{"approval_required", 1.0, regexp.MustCompile(`(?i)审批|批准|需要.{0,6}同意|\bapproval\b|\bapprove\b`)},
		{"assignment", 0.6, regexp.MustCompile(`(?i)分配|指派|安排.{0,10}(老师|人员)|\bassign\b|\bdelegate\b`)},
	}
)

// recommendations maps matched factors to operator-facing advice.
var recommendations = map[string]string{
	"approval_required": "This task needs an approval step; budget waiting time for the approver.",
	"batch_operation":   "Batch operations can be slow; consider running them asynchronously.",
	"multi_step":        "Break the work into ordered steps and confirm each before continuing.",
	"notification":      "Confirm the audience before any notification goes out.",
	"data_pipeline":     "Validate imported data before saving it.",
}

// decompositionThreshold is the score at or above which a task should be
// broken into a tracked to-do list.
const decompositionThreshold = 3.0

// Assess scores one utterance. Malformed or empty input is treated as the
// simplest case rather than an error — this component must never fail a
// request.
func Assess(utterance string) Assessment {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return Assessment{
			Score:             1.0,
			Level:             LevelSimple,
			Factors:           map[string]float64{},
			EstimatedSteps:    1,
			EstimatedTime:     "1-5 min",
			SuggestedApproach: ApproachDirect,
		}
	}

	factors := make(map[string]float64)
	score := lengthTerm(text)

	for _, group := range [][]factor{stepFactors, semanticFactors, collaborationFactors} {
		for _, f := range group {
			if f.re.MatchString(text) {
				factors[f.name] = f.weight
				score += f.weight
			}
		}
	}

	a := Assessment{
		Score:              score,
		Factors:            factors,
		NeedsDecomposition: score >= decompositionThreshold,
	}

	switch {
	case score >= 5.0:
		a.Level = LevelVeryComplex
		a.EstimatedSteps = 8
		a.EstimatedTime = "30-60 min"
		a.SuggestedApproach = ApproachWorkflowSubtasks
	case score >= 3.0:
		a.Level = LevelComplex
		a.EstimatedSteps = 5
		a.EstimatedTime = "15-30 min"
		a.SuggestedApproach = ApproachWorkflow
	case score >= 1.5:
		a.Level = LevelModerate
		a.EstimatedSteps = 3
		a.EstimatedTime = "5-15 min"
		a.SuggestedApproach = ApproachGuidedSteps
	default:
		a.Level = LevelSimple
		a.EstimatedSteps = 1
		a.EstimatedTime = "1-5 min"
		a.SuggestedApproach = ApproachDirect
	}

	for _, f := range orderedFactorNames() {
		if _, matched := factors[f]; matched {
			if advice, ok := recommendations[f]; ok {
				a.Recommendations = append(a.Recommendations, advice)
			}
		}
	}

	return a
}

// lengthTerm contributes up to 0.5 based on text length: min(len/100, 1) * 0.5.
// Length counts runes so Chinese and English utterances weigh comparably.
func lengthTerm(text string) float64 {
	n := float64(utf8.RuneCountInString(text))
	frac := n / 100
	if frac > 1 {
		frac = 1
	}
	return frac * 0.5
}

// orderedFactorNames returns factor names in table order so recommendation
// output is stable for identical input.
func orderedFactorNames() []string {
	names := make([]string, 0, len(stepFactors)+len(semanticFactors)+len(collaborationFactors))
	for _, group := range [][]factor{stepFactors, semanticFactors, collaborationFactors} {
		for _, f := range group {
			names = append(names, f.name)
		}
	}
	return names
}
