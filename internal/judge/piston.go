package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Run is one program execution request.
type Run struct {
	Language string
	Code     string
	Stdin    string
}

// Result is the outcome of a Run. Success is false on compile errors and
// whenever the program wrote to stderr.
type Result struct {
	Stdout       string        `json:"output"`
	Stderr       string        `json:"error,omitempty"`
	CompileError string        `json:"compileError,omitempty"`
	Success      bool          `json:"success"`
	Elapsed      time.Duration `json:"-"`
}

// Executor runs code in a sandbox. Implementations must be safe for
// concurrent use.
type Executor interface {
	Execute(ctx context.Context, run Run) (Result, error)
}

type language struct {
	name     string
	version  string
	fileName string
}

var languages = map[string]language{
	"python":     {"python", "3.10.0", "main.py"},
	"cpp":        {"c++", "10.2.0", "main.cpp"},
	"c":          {"c", "10.2.0", "main.c"},
	"java":       {"java", "15.0.2", "Main.java"},
	"javascript": {"javascript", "18.15.0", "main.js"},
}

// SupportedLanguage reports whether lang can be executed.
func SupportedLanguage(lang string) bool {
	_, ok := languages[lang]
	return ok
}

// Piston is an Executor backed by a Piston execute endpoint.
type Piston struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewPiston returns a client for the execute endpoint at url. Outbound
// calls are limited to rps per second; rps <= 0 disables the limit.
func NewPiston(url string, timeout time.Duration, rps float64) *Piston {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Piston{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, max(1, int(rps))),
	}
}

type pistonFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language   string       `json:"language"`
	Version    string       `json:"version"`
	Files      []pistonFile `json:"files"`
	Stdin      string       `json:"stdin"`
	RunTimeout int          `json:"run_timeout"`
}

type pistonStage struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Output string `json:"output"`
	Code   *int   `json:"code"`
}

type pistonResponse struct {
	Run     pistonStage  `json:"run"`
	Compile *pistonStage `json:"compile"`
	Message string       `json:"message"`
}

func (p *Piston) Execute(ctx context.Context, run Run) (Result, error) {
	lang, ok := languages[run.Language]
	if !ok {
		return Result{Stderr: "Unsupported language: " + run.Language}, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("waiting for executor slot: %w", err)
	}

	body, err := json.Marshal(pistonRequest{
		Language:   lang.name,
		Version:    lang.version,
		Files:      []pistonFile{{Name: lang.fileName, Content: run.Code}},
		Stdin:      run.Stdin,
		RunTimeout: 10000,
	})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("calling executor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("executor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var pr pistonResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Result{}, fmt.Errorf("decoding executor response: %w", err)
	}

	res := Result{Elapsed: time.Since(start)}
	if pr.Compile != nil && pr.Compile.Code != nil && *pr.Compile.Code != 0 {
		res.CompileError = firstNonEmpty(pr.Compile.Stderr, pr.Compile.Output, "Compilation failed")
		return res, nil
	}
	res.Stdout = strings.TrimSpace(pr.Run.Stdout)
	res.Stderr = strings.TrimSpace(pr.Run.Stderr)
	res.Success = res.Stderr == ""
	return res, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
