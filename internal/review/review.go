// Package review runs the automated pull request review: a depth-tiered
// set of sub-reviews executed concurrently and aggregated into one score.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Depth selects which sub-reviews run.
type Depth string

const (
	DepthNone          Depth = "none"
	DepthBasic         Depth = "basic"
	DepthStandard      Depth = "standard"
	DepthComprehensive Depth = "comprehensive"
)

// ParseDepth parses a depth name.
func ParseDepth(s string) (Depth, error) {
	switch d := Depth(s); d {
	case DepthNone, DepthBasic, DepthStandard, DepthComprehensive:
		return d, nil
	}
	return "", fmt.Errorf("unknown review depth %q", s)
}

// Kind names a sub-review.
type Kind string

const (
	KindQuality     Kind = "quality"
	KindSecurity    Kind = "security"
	KindCoverage    Kind = "coverage"
	KindPerformance Kind = "performance"
)

// AllKinds lists sub-reviews in reporting order.
var AllKinds = []Kind{KindQuality, KindSecurity, KindCoverage, KindPerformance}

// KindsFor returns the sub-reviews a depth runs. Quality and coverage run
// at every depth but none; security and performance only at comprehensive.
func KindsFor(d Depth) []Kind {
	switch d {
	case DepthBasic, DepthStandard:
		return []Kind{KindQuality, KindCoverage}
	case DepthComprehensive:
		return []Kind{KindQuality, KindSecurity, KindCoverage, KindPerformance}
	default:
		return nil
	}
}

// DefaultAnalyzerTimeout bounds a single sub-review.
const DefaultAnalyzerTimeout = 5 * time.Minute

// Issue is a single finding.
type Issue struct {
	Severity string `json:"severity,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
}

// Analysis is what an analyzer reports. Score is 0-100.
type Analysis struct {
	Score           float64  `json:"score"`
	Issues          []Issue  `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Options parameterize a review.
type Options struct {
	Depth      Depth
	Branch     string
	BaseBranch string
	// Threshold is the minimum overall score that passes.
	Threshold float64
}

// Analyzer is an external scoring service for one sub-review.
type Analyzer interface {
	Analyze(ctx context.Context, projectPath string, opts Options) (*Analysis, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, projectPath string, opts Options) (*Analysis, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, projectPath string, opts Options) (*Analysis, error) {
	return f(ctx, projectPath, opts)
}

// SubReview is the outcome of one analyzer.
type SubReview struct {
	Kind     Kind          `json:"kind"`
	Score    float64       `json:"score"`
	Issues   []Issue       `json:"issues,omitempty"`
	Duration time.Duration `json:"duration"`

	Recommendations []string `json:"recommendations,omitempty"`
}

// Degraded records a sub-review that could not produce a score.
type Degraded struct {
	Kind  Kind   `json:"kind"`
	Error string `json:"error"`
}

// Result is the aggregated review.
type Result struct {
	PRNumber   int         `json:"pr_number,omitempty"`
	Depth      Depth       `json:"depth"`
	Score      float64     `json:"score"`
	Threshold  float64     `json:"threshold"`
	Passed     bool        `json:"passed"`
	SubReviews []SubReview `json:"sub_reviews,omitempty"`
	Degraded   []Degraded  `json:"degraded,omitempty"`

	Recommendations []string `json:"recommendations,omitempty"`
}

// CalculateOverallScore is the mean sub-review score, 0 without results.
func CalculateOverallScore(results []SubReview) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

// Service runs reviews against registered analyzers.
type Service struct {
	analyzers map[Kind]Analyzer
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAnalyzer registers the analyzer for a sub-review.
func WithAnalyzer(k Kind, a Analyzer) Option { return func(s *Service) { s.analyzers[k] = a } }

// WithTimeout sets the per-analyzer timeout.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates a review service.
func NewService(opts ...Option) *Service {
	s := &Service{analyzers: make(map[Kind]Analyzer), timeout: DefaultAnalyzerTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Review runs the sub-reviews selected by opts.Depth concurrently. A
// failing or missing analyzer degrades the review: its score is left out
// of the mean. Only cancellation of ctx fails the review.
func (s *Service) Review(ctx context.Context, projectPath string, prNumber int, opts Options) (*Result, error) {
	kinds := KindsFor(opts.Depth)
	res := &Result{PRNumber: prNumber, Depth: opts.Depth, Threshold: opts.Threshold}

	subs := make([]*SubReview, len(kinds))
	var (
		mu       sync.Mutex
		degraded = make(map[Kind]string)
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range kinds {
		a, ok := s.analyzers[k]
		if !ok {
			degraded[k] = "no analyzer configured"
			continue
		}
		g.Go(func() error {
			actx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()
			start := time.Now()
			an, err := a.Analyze(actx, projectPath, opts)
			if err == nil && an == nil {
				err = fmt.Errorf("analyzer returned no result")
			}
			if err != nil {
				s.logger.Warn("sub-review degraded", "kind", k, "project_path", projectPath, "error", err)
				mu.Lock()
				degraded[k] = err.Error()
				mu.Unlock()
				return nil
			}
			subs[i] = &SubReview{
				Kind:            k,
				Score:           clampScore(an.Score),
				Issues:          an.Issues,
				Recommendations: an.Recommendations,
				Duration:        time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, k := range kinds {
		if subs[i] != nil {
			res.SubReviews = append(res.SubReviews, *subs[i])
			res.Recommendations = append(res.Recommendations, subs[i].Recommendations...)
			continue
		}
		res.Degraded = append(res.Degraded, Degraded{Kind: k, Error: degraded[k]})
	}
	res.Score = CalculateOverallScore(res.SubReviews)
	res.Passed = res.Score >= opts.Threshold
	s.logger.Info("review completed",
		"project_path", projectPath,
		"pr", prNumber,
		"depth", opts.Depth,
		"score", res.Score,
		"passed", res.Passed,
		"degraded", len(res.Degraded),
	)
	return res, nil
}

func clampScore(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
