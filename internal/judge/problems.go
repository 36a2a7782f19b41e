// Package judge loads the problem set and grades submissions against it
// using an external code execution service.
package judge

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type TestCase struct {
	Input          string `yaml:"input" json:"input"`
	ExpectedOutput string `yaml:"expected_output" json:"expectedOutput"`
	Hidden         bool   `yaml:"hidden" json:"isHidden"`
	Points         int    `yaml:"points" json:"points"`
}

type Example struct {
	Input       string `yaml:"input" json:"input"`
	Output      string `yaml:"output" json:"output"`
	Explanation string `yaml:"explanation,omitempty" json:"explanation,omitempty"`
}

type Problem struct {
	ID          int        `yaml:"id" json:"id"`
	Title       string     `yaml:"title" json:"title"`
	Description string     `yaml:"description" json:"description"`
	Input       string     `yaml:"input" json:"input"`
	Output      string     `yaml:"output" json:"output"`
	Constraints string     `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Points      int        `yaml:"points" json:"points"`
	Examples    []Example  `yaml:"examples" json:"examples"`
	TestCases   []TestCase `yaml:"test_cases" json:"testCases"`
}

// Public returns a copy of p safe to show to teams: hidden test cases are
// dropped.
func (p Problem) Public() Problem {
	out := p
	out.TestCases = make([]TestCase, 0, len(p.TestCases))
	for _, tc := range p.TestCases {
		if !tc.Hidden {
			out.TestCases = append(out.TestCases, tc)
		}
	}
	return out
}

// ProblemSet is an immutable, id-indexed collection of problems.
type ProblemSet struct {
	problems []Problem
	byID     map[int]int
}

type problemFile struct {
	Problems []Problem `yaml:"problems"`
}

// LoadProblems reads a YAML problem file.
func LoadProblems(path string) (*ProblemSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading problems: %w", err)
	}
	return ParseProblems(data)
}

func ParseProblems(data []byte) (*ProblemSet, error) {
	var f problemFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing problems: %w", err)
	}
	return NewProblemSet(f.Problems...)
}

func NewProblemSet(problems ...Problem) (*ProblemSet, error) {
	ps := &ProblemSet{byID: make(map[int]int, len(problems))}
	sorted := append([]Problem(nil), problems...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i, p := range sorted {
		if p.ID < 1 {
			return nil, fmt.Errorf("problem %q: id must be positive", p.Title)
		}
		if _, dup := ps.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate problem id %d", p.ID)
		}
		ps.byID[p.ID] = i
	}
	ps.problems = sorted
	return ps, nil
}

func (ps *ProblemSet) Get(id int) (Problem, bool) {
	i, ok := ps.byID[id]
	if !ok {
		return Problem{}, false
	}
	return ps.problems[i], true
}

// IDs returns every problem id in ascending order.
func (ps *ProblemSet) IDs() []int {
	ids := make([]int, len(ps.problems))
	for i, p := range ps.problems {
		ids[i] = p.ID
	}
	return ids
}

// Public returns every problem with hidden test cases removed.
func (ps *ProblemSet) Public() []Problem {
	out := make([]Problem, len(ps.problems))
	for i, p := range ps.problems {
		out[i] = p.Public()
	}
	return out
}
