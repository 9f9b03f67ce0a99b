package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/commitgate/commitgate/internal/commit"
	"github.com/commitgate/commitgate/internal/engine"
	gh "github.com/commitgate/commitgate/internal/github"
	"github.com/commitgate/commitgate/internal/history"
	"github.com/commitgate/commitgate/internal/request"
)

// Runner glues together the engine and supporting services to execute one
// requested operation.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	ghFactory gh.Factory
	recorder  history.Recorder // only set for testing via NewRunnerWithDeps
	out       io.Writer
}

// NewRunner constructs a Runner with the supplied configuration.
func NewRunner(cfg Config) (*Runner, error) {
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &Runner{
		cfg:       cfg,
		log:       logger,
		ghFactory: gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL),
		recorder:  nil,
		out:       os.Stdout,
	}, nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, ghFactory gh.Factory, recorder history.Recorder, out io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	return &Runner{cfg: cfg, log: log, ghFactory: ghFactory, recorder: recorder, out: out}
}

// Run executes the application using the provided context.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.RequestPath == "" {
		return fmt.Errorf("COMMITGATE_REQUEST_PATH is required")
	}

	payload, err := request.ParseFile(r.cfg.RequestPath)
	if err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	repo, err := commit.ParseRepository(payload.Repository)
	if err != nil {
		return fmt.Errorf("parse repository: %w", err)
	}

	if r.log != nil {
		r.log.Info("starting run", "action", payload.Action, "repo", repo.String())
	}

	ghClient, err := r.ghFactory.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return fmt.Errorf("initialize github client: %w", err)
	}

	recorder := r.recorder
	if recorder == nil {
		recorder = r.buildRecorder(ctx)
	}

	eng := engine.New(engine.Config{
		ExportDeadline:       r.cfg.ExportTimeout,
		BlobWorkers:          r.cfg.BlobWorkers,
		APIRequestsPerSecond: r.cfg.APIRequestsPerSecond,
	}, ghClient, recorder, r.log)

	switch payload.Action {
	case request.ActionCheck:
		result, err := eng.CheckCommit(ctx, repo, payload.Commit)
		if err != nil {
			return fmt.Errorf("check commit: %w", err)
		}
		fmt.Fprint(r.out, renderCheck(result))

	case request.ActionDiff:
		d, err := eng.GetDiff(ctx, repo, payload.Commit)
		if err != nil {
			return fmt.Errorf("get diff: %w", err)
		}
		fmt.Fprint(r.out, renderDiff(d))

	case request.ActionFiles:
		changes, err := eng.ListFileChanges(ctx, repo, payload.Commit)
		if err != nil {
			return fmt.Errorf("list file changes: %w", err)
		}
		fmt.Fprint(r.out, renderFileChanges(changes))

	case request.ActionBranches:
		branches, err := eng.ListBranches(ctx, repo)
		if err != nil {
			return fmt.Errorf("list branches: %w", err)
		}
		for _, branch := range branches {
			fmt.Fprintln(r.out, branch)
		}

	case request.ActionDecide:
		decision, err := parseDecision(payload.Decision)
		if err != nil {
			return err
		}
		if err := eng.RecordDecision(ctx, repo, payload.Commit, decision); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Recorded decision %q for %s.\n", decision, payload.Commit)

	case request.ActionExport:
		result, err := eng.ExportToBranch(ctx, repo, payload.Commit, payload.TargetBranch)
		if err != nil {
			return err
		}
		fmt.Fprint(r.out, renderExport(result))

	case request.ActionExportNewBranch:
		result, err := eng.ExportToNewBranch(ctx, repo, payload.Commit, payload.NewBranch, payload.BaseRef)
		if err != nil {
			return err
		}
		fmt.Fprint(r.out, renderExport(result))

	default:
		return fmt.Errorf("unsupported action %q", payload.Action)
	}

	return nil
}

func (r *Runner) buildRecorder(ctx context.Context) history.Recorder {
	if r.cfg.RedisAddr == "" {
		return history.Noop{}
	}

	rdb := redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	recorder := history.NewRedisRecorder(rdb, r.cfg.RedisKeyPrefix)
	if err := recorder.Ping(ctx); err != nil {
		if r.log != nil {
			r.log.Warn("redis unavailable, history recording disabled", "addr", r.cfg.RedisAddr, "error", err)
		}
		return history.Noop{}
	}
	return recorder
}

func parseDecision(raw string) (history.Decision, error) {
	switch history.Decision(raw) {
	case history.DecisionApproved:
		return history.DecisionApproved, nil
	case history.DecisionRejected:
		return history.DecisionRejected, nil
	default:
		return "", fmt.Errorf("unsupported decision %q (want approved or rejected)", raw)
	}
}
