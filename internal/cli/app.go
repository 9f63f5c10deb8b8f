package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/autoflow/internal/audit"
	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/config"
	"github.com/randalmurphal/autoflow/internal/db"
	"github.com/randalmurphal/autoflow/internal/db/driver"
	flowerrors "github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/events"
	"github.com/randalmurphal/autoflow/internal/executor"
	"github.com/randalmurphal/autoflow/internal/gate"
	"github.com/randalmurphal/autoflow/internal/git"
	"github.com/randalmurphal/autoflow/internal/gitflow"
	"github.com/randalmurphal/autoflow/internal/hosting"
	_ "github.com/randalmurphal/autoflow/internal/hosting/github"
	_ "github.com/randalmurphal/autoflow/internal/hosting/gitlab"
	"github.com/randalmurphal/autoflow/internal/lock"
	"github.com/randalmurphal/autoflow/internal/metrics"
	"github.com/randalmurphal/autoflow/internal/preferences"
	"github.com/randalmurphal/autoflow/internal/review"
	"github.com/randalmurphal/autoflow/internal/strategy"
)

// historyWindow bounds how far back stored events feed adaptive levels.
const historyWindow = 30 * 24 * time.Hour

// Confirmation modes for gated merges.
const (
	confirmAuto    = "auto"
	confirmPrompt  = "prompt"
	confirmPending = "pending"
)

// openGit creates the git service for a project. Tests replace it.
var openGit = func(ctx context.Context, cfg *config.Config, project string, logger *slog.Logger) git.Service {
	opts := []git.Option{
		git.WithRemote(cfg.Git.Remote),
		git.WithPush(cfg.Git.Push),
		git.WithLogger(logger),
	}
	if !cfg.Hosting.Disabled() {
		p, err := hosting.NewProvider(ctx, project, cfg.Hosting)
		if err != nil {
			logger.Warn("hosting provider unavailable, pull requests disabled", "project_path", project, "error", err)
		} else {
			opts = append(opts, git.WithProvider(p))
		}
	}
	return git.NewCLIService(opts...)
}

// appOptions selects how an app is assembled.
type appOptions struct {
	project    string
	configFile string
	// confirm is one of confirmAuto, confirmPrompt or confirmPending;
	// empty prompts on a terminal and records pending decisions otherwise.
	confirm string
	in      io.Reader
	out     io.Writer
	logger  *slog.Logger
}

// app is the assembled object graph behind a command.
type app struct {
	cfg       *config.Loaded
	project   string
	user      string
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	publisher *events.MemoryPublisher
	store     *db.EventStore
	auditor   *audit.Auditor
	engine    *executor.Engine
	pending   *gate.Pending
	prefs     preferences.Store
	manager   *gitflow.Manager

	closers []func() error
}

// newApp loads configuration for the project and wires every
// collaborator of the workflow manager. Close releases connections.
func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	project, err := resolveProject(opts.project)
	if err != nil {
		return nil, err
	}
	loaded, err := config.Load(config.LoadOptions{ProjectPath: project, File: opts.configFile})
	if err != nil {
		return nil, err
	}
	logger := opts.logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := loaded.Config

	a = &app{
		cfg:     loaded,
		project: project,
		user:    resolveUser(cfg),
		logger:  logger,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	sink, err := a.openSinks()
	if err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(
		metrics.WithNamespace(cfg.Observability.MetricsNamespace),
		metrics.WithRegistry(a.registry),
		metrics.WithSink(sink),
		metrics.WithLogger(logger),
	)
	a.auditor = audit.New(sink, audit.WithLogger(logger))
	a.engine = newEngine(cfg, a.metrics, logger)

	a.prefs, err = a.openPreferences(ctx)
	if err != nil {
		return nil, err
	}

	a.manager, err = gitflow.NewManager(gitflow.Deps{
		Git:         openGit(ctx, cfg, project, logger),
		Locker:      newLocker(cfg),
		Strategies:  strategy.NewRegistry(strategy.Config{HotfixBase: cfg.Git.HotfixBase}),
		Engine:      a.engine,
		Reviewer:    newReviewer(cfg, logger),
		Automation:  automation.NewManager(logger),
		Confirmer:   a.confirmer(opts, sink),
		Preferences: a.prefs,
		Auditor:     a.auditor,
		Metrics:     a.metrics,
	}, gitflow.Settings{
		Automation:            cfg.Automation,
		BaseBranch:            cfg.Git.BaseBranch,
		Protected:             cfg.Git.Protected,
		ReviewDepth:           cfg.Review.Depth,
		Threshold:             cfg.Review.Threshold,
		DeleteBranchOnFailure: cfg.Git.DeleteBranchOnFailure,
		User:                  a.user,
	}, gitflow.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases sinks and connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// openSinks fans events out to the in-process publisher and the
// configured NATS and SQL sinks. Sink failures never fail a workflow.
func (a *app) openSinks() (events.Sink, error) {
	obs := a.cfg.Observability
	a.publisher = events.NewMemoryPublisher()
	a.closers = append(a.closers, func() error { a.publisher.Close(); return nil })
	fan := events.NewFanout(a.publisher)

	if obs.NATSURL != "" {
		conn, err := events.ConnectNATS(obs.NATSURL, "autoflow")
		if err != nil {
			a.logger.Warn("nats sink disabled", "url", obs.NATSURL, "error", err)
		} else {
			natsSink := events.NewNATSSink(conn, obs.SubjectPrefix)
			a.closers = append(a.closers, natsSink.Close)
			fan.Add(natsSink)
		}
	}

	conn, err := openEventDB(obs, a.project)
	if err != nil {
		return nil, err
	}
	if conn != nil {
		a.closers = append(a.closers, conn.Close)
		a.store = db.NewEventStore(conn)
		fan.Add(a.store)
	}

	return events.NewBestEffort(fan, a.logger), nil
}

// openEventDB opens the configured event database, or returns nil when
// none is configured. Relative SQLite paths are relative to the project.
func openEventDB(obs config.ObservabilityConfig, project string) (*db.DB, error) {
	if obs.DBDSN == "" {
		return nil, nil
	}
	dialect := driver.DialectSQLite
	if obs.DBDialect != "" {
		d, err := driver.ParseDialect(obs.DBDialect)
		if err != nil {
			return nil, flowerrors.ErrConfigInvalid("observability.db_dialect", err.Error())
		}
		dialect = d
	}

	var (
		conn *db.DB
		err  error
	)
	switch {
	case dialect != driver.DialectSQLite:
		conn, err = db.OpenWithDialect(obs.DBDSN, dialect)
	case obs.DBDSN == ":memory:":
		conn, err = db.OpenInMemory()
	case filepath.IsAbs(obs.DBDSN):
		conn, err = db.Open(obs.DBDSN)
	default:
		conn, err = db.Open(filepath.Join(project, obs.DBDSN))
	}
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	return conn, nil
}

func (a *app) openPreferences(ctx context.Context) (preferences.Store, error) {
	path := a.cfg.Preferences.Path
	if path == "" {
		return nil, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.project, path)
	}
	store, err := preferences.OpenFile(path, preferences.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	a.closers = append(a.closers, func() error { cancel(); return nil })
	go func() {
		if err := store.Watch(wctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("preferences watch stopped", "path", path, "error", err)
		}
	}()
	return store, nil
}

func (a *app) confirmer(opts appOptions, sink events.Sink) gate.Confirmer {
	mode := opts.confirm
	if mode == "" {
		mode = confirmPending
		if f, ok := opts.in.(*os.File); ok && styled(f) {
			mode = confirmPrompt
		}
	}
	switch mode {
	case confirmAuto:
		return gate.AutoApprove{}
	case confirmPrompt:
		return gate.Prompt{In: opts.in, Out: opts.out}
	default:
		a.pending = gate.NewPending(sink)
		return a.pending
	}
}

// Signals derives adaptive-level signals from stored history: the
// fraction of finished workflows that completed and of reviews that
// passed. Without an event store every signal is zero.
func (a *app) Signals(ctx context.Context) automation.Signals {
	if a.store == nil {
		return automation.Signals{}
	}
	since := time.Now().Add(-historyWindow)
	logs, err := a.store.QueryEvents(ctx, db.QueryEventsOptions{
		EventTypes: []string{string(events.EventComplete), string(events.EventAudit)},
		Since:      &since,
	})
	if err != nil {
		a.logger.Warn("load workflow history failed", "error", err)
		return automation.Signals{}
	}

	var finished, completed, reviews, passed int
	for _, l := range logs {
		switch events.EventType(l.EventType) {
		case events.EventComplete:
			finished++
			if gjson.GetBytes(l.Data, "status").String() == "completed" {
				completed++
			}
		case events.EventAudit:
			if gjson.GetBytes(l.Data, "action").String() != string(audit.ActionReviewCompleted) {
				continue
			}
			reviews++
			if gjson.GetBytes(l.Data, "outcome").String() == string(audit.OutcomeSuccess) {
				passed++
			}
		}
	}

	s := automation.Signals{HistorySamples: finished}
	if finished > 0 {
		s.HistoricalSuccess = float64(completed) / float64(finished)
	}
	if reviews > 0 {
		s.ReviewPassRate = float64(passed) / float64(reviews)
	}
	return s
}

// WriteMetrics writes the registry in the Prometheus text format, for the
// node exporter textfile collector.
func (a *app) WriteMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func resolveProject(flag string) (string, error) {
	project := flag
	if project == "" {
		project = viper.GetString("project")
	}
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		project = wd
	}
	abs, err := filepath.Abs(project)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	return abs, nil
}

func resolveUser(cfg *config.Config) string {
	if u := viper.GetString("user"); u != "" {
		return u
	}
	if cfg.Preferences.User != "" {
		return cfg.Preferences.User
	}
	return os.Getenv("USER")
}

func newEngine(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *executor.Engine {
	e := cfg.Engine
	return executor.NewEngine(
		executor.WithResources(executor.NewResourceManager(e.MaxConcurrent, e.RateLimit, e.RateBurst)),
		executor.WithStepTimeout(e.StepTimeout),
		executor.WithRollbackTimeout(e.RollbackTimeout),
		executor.WithStrategy(executor.NewOptimized(e.CacheTTL)),
		executor.WithStrategy(executor.NewSmart(m, e.FailureThreshold)),
		executor.WithDefaultStrategy(e.Strategy),
		executor.WithObserver(m),
		executor.WithLogger(logger),
	)
}

func newReviewer(cfg *config.Config, logger *slog.Logger) *review.Service {
	opts := []review.Option{
		review.WithTimeout(cfg.Review.Timeout),
		review.WithLogger(logger),
	}
	runner := git.NewExecRunner()
	for _, ac := range cfg.Review.Analyzers {
		opts = append(opts, review.WithAnalyzer(ac.Kind, &review.CommandAnalyzer{
			Runner:              runner,
			Command:             ac.Command,
			Args:                ac.Args,
			ScorePath:           ac.ScorePath,
			IssuesPath:          ac.IssuesPath,
			RecommendationsPath: ac.RecommendationsPath,
			AllowFailure:        ac.AllowFailure,
		}))
	}
	return review.NewService(opts...)
}

func newLocker(cfg *config.Config) lock.Locker {
	dir := cfg.Git.LockDir
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, config.Dir, "locks")
		} else {
			dir = filepath.Join(os.TempDir(), "autoflow-locks")
		}
	}
	host, _ := os.Hostname()
	return lock.NewLocker(cfg.Git.LockMode, dir, fmt.Sprintf("%s:%d", host, os.Getpid()))
}
