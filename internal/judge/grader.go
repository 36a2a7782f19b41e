package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/metrics"
)

// PassPercent is the share of test cases a submission must pass.
const PassPercent = 60

const minCodeLen = 10

// maxParallelCases bounds concurrent executor calls per grading run.
const maxParallelCases = 4

const (
	hiddenValue = "[Hidden]"
	hiddenPass  = "[Correct]"
	hiddenFail  = "[Wrong]"
)

type CaseResult struct {
	Number         int    `json:"testCaseNumber"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	ActualOutput   string `json:"actualOutput"`
	Passed         bool   `json:"passed"`
	Hidden         bool   `json:"isHidden"`
	Points         int    `json:"points"`
	EarnedPoints   int    `json:"earnedPoints"`
	Error          string `json:"error,omitempty"`
}

// Report is the graded outcome of a final submission.
type Report struct {
	Passed      bool   `json:"passed"`
	Message     string `json:"message"`
	TestsPassed int    `json:"testsPassed"`
	TotalTests  int    `json:"totalTests"`
	Score       int    `json:"score"`
}

type Grader struct {
	problems *ProblemSet
	exec     Executor
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewGrader(problems *ProblemSet, exec Executor, m *metrics.Metrics) *Grader {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Grader{
		problems: problems,
		exec:     exec,
		metrics:  m,
		tracer:   otel.Tracer("github.com/binarybattles/coderelay/internal/judge"),
	}
}

func (g *Grader) Problems() *ProblemSet { return g.problems }

// Problem returns the problem with id or a NotFound error.
func (g *Grader) Problem(id int) (Problem, error) {
	p, ok := g.problems.Get(id)
	if !ok {
		return Problem{}, coderelay.NotFound("Problem not found")
	}
	return p, nil
}

// RunTests executes code against every test case of the problem. Inputs
// and outputs of hidden cases are masked. An executor failure on any case
// fails the whole run; it is never reported as a failed case.
func (g *Grader) RunTests(ctx context.Context, problemID int, code, lang string) ([]CaseResult, error) {
	p, err := g.Problem(problemID)
	if err != nil {
		return nil, err
	}
	if !SupportedLanguage(lang) {
		return nil, coderelay.Validation("Unsupported language: %s", lang)
	}

	results := make([]CaseResult, len(p.TestCases))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallelCases)
	for i, tc := range p.TestCases {
		eg.Go(func() error {
			cr, err := g.runCase(ctx, i, tc, code, lang)
			if err != nil {
				return err
			}
			results[i] = cr
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (g *Grader) runCase(ctx context.Context, i int, tc TestCase, code, lang string) (CaseResult, error) {
	cr := CaseResult{
		Number:         i + 1,
		Input:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
		Hidden:         tc.Hidden,
		Points:         tc.Points,
	}
	res, err := g.exec.Execute(ctx, Run{Language: lang, Code: code, Stdin: tc.Input})
	if err != nil {
		return cr, fmt.Errorf("running test case %d: %w", i+1, err)
	}
	switch {
	case res.CompileError != "":
		cr.Error = res.CompileError
	default:
		cr.ActualOutput = res.Stdout
		cr.Error = res.Stderr
		cr.Passed = res.Success && normalize(res.Stdout) == normalize(tc.ExpectedOutput)
	}
	if cr.Passed {
		cr.EarnedPoints = tc.Points
	}
	if tc.Hidden {
		cr.Input = hiddenValue
		cr.ExpectedOutput = hiddenValue
		cr.ActualOutput = hiddenFail
		if cr.Passed {
			cr.ActualOutput = hiddenPass
		}
	}
	return cr, nil
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// Grade runs the problem's tests and decides pass or fail. A submission
// passes when at least PassPercent of the test cases pass, rounded up. The
// score is the sum of points of passed cases, or the problem's points when
// its cases carry none.
func (g *Grader) Grade(ctx context.Context, problemID int, code, lang string) (Report, error) {
	ctx, span := g.tracer.Start(ctx, "judge.Grader.Grade", trace.WithAttributes(
		attribute.Int("problem", problemID),
		attribute.String("language", lang),
	))
	defer span.End()

	p, err := g.Problem(problemID)
	if err != nil {
		return Report{}, err
	}
	total := len(p.TestCases)
	if len(strings.TrimSpace(code)) < minCodeLen {
		return Report{Message: "Code too short", TotalTests: total}, nil
	}

	start := time.Now()
	cases, err := g.RunTests(ctx, problemID, code, lang)
	g.metrics.GradeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}
	return Summarize(p, cases), nil
}

// Summarize turns per-case results into a Report.
func Summarize(p Problem, cases []CaseResult) Report {
	r := Report{TotalTests: len(cases)}
	casePoints := 0
	for _, c := range cases {
		casePoints += c.Points
		if c.Passed {
			r.TestsPassed++
			r.Score += c.EarnedPoints
		}
	}
	if r.TotalTests == 0 {
		r.Message = "Problem has no test cases"
		return r
	}

	need := (r.TotalTests*PassPercent + 99) / 100
	r.Passed = r.TestsPassed >= need
	if casePoints == 0 && r.Passed {
		r.Score = p.Points
	}
	if r.Passed {
		r.Message = fmt.Sprintf("%d/%d test cases passed", r.TestsPassed, r.TotalTests)
	} else {
		r.Message = fmt.Sprintf("Only %d/%d test cases passed", r.TestsPassed, r.TotalTests)
	}
	return r
}

// Compile runs code once with stdin and returns the raw result.
func (g *Grader) Compile(ctx context.Context, code, lang, stdin string) (Result, error) {
	if !SupportedLanguage(lang) {
		return Result{}, coderelay.Validation("Unsupported language: %s", lang)
	}
	return g.exec.Execute(ctx, Run{Language: lang, Code: code, Stdin: stdin})
}
