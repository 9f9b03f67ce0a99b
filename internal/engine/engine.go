// Package engine is the surface the front-end talks to: commit checks, diff
// retrieval, file listings, and the two export flows.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/commitgate/commitgate/internal/commit"
	"github.com/commitgate/commitgate/internal/diff"
	"github.com/commitgate/commitgate/internal/export"
	gh "github.com/commitgate/commitgate/internal/github"
	"github.com/commitgate/commitgate/internal/history"
	"github.com/commitgate/commitgate/internal/verify"
)

// Config carries the engine's tunables.
type Config struct {
	// ExportDeadline bounds one whole export operation. Zero uses the
	// coordinator default.
	ExportDeadline time.Duration
	// BlobWorkers bounds parallel blob copies during an export.
	BlobWorkers int
	// APIRequestsPerSecond throttles Git Data calls issued by blob workers.
	// Zero disables throttling.
	APIRequestsPerSecond float64
}

// Engine wires the fetcher, checker, renderer, and export coordinator behind
// the operations of the public interface. It holds no state across calls; the
// only shared mutable resource it ever touches is the remote branch ref.
type Engine struct {
	gh          gh.Client
	fetcher     *commit.Fetcher
	renderer    *diff.Renderer
	coordinator *export.Coordinator
	recorder    history.Recorder
	log         *slog.Logger

	now func() time.Time
}

// New returns a configured Engine instance.
func New(cfg Config, client gh.Client, recorder history.Recorder, logger *slog.Logger) *Engine {
	exporter := export.NewExporter(client, logger)
	if cfg.BlobWorkers > 0 {
		exporter.BlobWorkers = cfg.BlobWorkers
	}
	if cfg.APIRequestsPerSecond > 0 {
		exporter.APIRate = rate.NewLimiter(rate.Limit(cfg.APIRequestsPerSecond), 1)
	}

	coordinator := export.NewCoordinator(exporter, logger)
	if cfg.ExportDeadline > 0 {
		coordinator.Deadline = cfg.ExportDeadline
	}

	if recorder == nil {
		recorder = history.Noop{}
	}

	return &Engine{
		gh:          client,
		fetcher:     commit.NewFetcher(client, logger),
		renderer:    diff.NewRenderer(client, logger),
		coordinator: coordinator,
		recorder:    recorder,
		log:         logger,
		now:         time.Now,
	}
}

// CheckResult pairs the fetched record with its legitimacy report.
type CheckResult struct {
	Record commit.Record
	Report verify.Report
}

// CheckCommit fetches the commit and runs the legitimacy checks. The verdict
// is advisory; it never gates an export. The outcome tuple is emitted to the
// recorder on a best-effort basis.
func (e *Engine) CheckCommit(ctx context.Context, repo commit.RepositoryID, sha string) (CheckResult, error) {
	record, err := e.fetcher.Fetch(ctx, repo, sha)
	if err != nil {
		return CheckResult{}, err
	}

	var repoCreatedAt time.Time
	if info, err := e.gh.GetRepository(ctx, repo.Owner, repo.Name); err == nil {
		repoCreatedAt = info.CreatedAt
	} else if e.log != nil {
		e.log.Warn("could not resolve repository creation time, using epoch lower bound", "repo", repo.String(), "error", err)
	}

	report := verify.Check(record, verify.BoundsAround(repoCreatedAt, e.now()))

	event := history.VerificationEvent{
		Repository: repo.String(),
		SHA:        record.SHA,
		Verdict:    report.Verdict(),
		CheckedAt:  e.now().UTC(),
	}
	if err := e.recorder.RecordVerification(ctx, event); err != nil && e.log != nil {
		e.log.Warn("failed to record verification", "repo", repo.String(), "sha", record.SHA, "error", err)
	}

	if e.log != nil {
		e.log.Info("checked commit", "repo", repo.String(), "sha", record.SHA, "verdict", report.Verdict())
	}

	return CheckResult{Record: record, Report: report}, nil
}

// GetDiff fetches the commit's unified patch classified by presentation mode.
func (e *Engine) GetDiff(ctx context.Context, repo commit.RepositoryID, sha string) (diff.Diff, error) {
	return e.renderer.Render(ctx, repo, sha)
}

// ListFileChanges returns the commit's ordered per-file change records.
func (e *Engine) ListFileChanges(ctx context.Context, repo commit.RepositoryID, sha string) ([]commit.FileChange, error) {
	return e.fetcher.ListFileChanges(ctx, repo, sha)
}

// ListBranches returns the repository's branch names for target selection.
func (e *Engine) ListBranches(ctx context.Context, repo commit.RepositoryID) ([]string, error) {
	branches, err := e.gh.ListBranches(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, fmt.Errorf("list branches for %s: %w", repo.String(), err)
	}
	return branches, nil
}

// ExportToBranch transplants the commit onto an existing branch.
func (e *Engine) ExportToBranch(ctx context.Context, repo commit.RepositoryID, sha, branch string) (export.Result, error) {
	return e.coordinator.ExportToExistingBranch(ctx, export.Request{
		Repository:   repo,
		SourceSHA:    sha,
		TargetBranch: branch,
	})
}

// ExportToNewBranch cuts a branch from baseRef and transplants the commit
// onto it. An empty newBranch derives a name from the base ref and the
// abbreviated source SHA.
func (e *Engine) ExportToNewBranch(ctx context.Context, repo commit.RepositoryID, sha, newBranch, baseRef string) (export.Result, error) {
	if newBranch == "" {
		if normalized, err := commit.NormalizeSHA(sha); err == nil {
			short := normalized
			if len(short) > 8 {
				short = short[:8]
			}
			newBranch = gh.BranchNameForExport(baseRef, short)
		}
	}

	return e.coordinator.ExportToNewBranch(ctx, export.Request{
		Repository:    repo,
		SourceSHA:     sha,
		NewBranchName: newBranch,
		BaseRef:       baseRef,
	})
}

// RecordDecision emits a reviewer's approve/reject call for a commit.
func (e *Engine) RecordDecision(ctx context.Context, repo commit.RepositoryID, sha string, decision history.Decision) error {
	normalized, err := commit.NormalizeSHA(sha)
	if err != nil {
		return err
	}

	event := history.DecisionEvent{
		Repository: repo.String(),
		SHA:        normalized,
		Decision:   decision,
		DecidedAt:  e.now().UTC(),
	}
	if err := e.recorder.RecordDecision(ctx, event); err != nil {
		return fmt.Errorf("record decision for %s: %w", repo.String(), err)
	}

	if e.log != nil {
		e.log.Info("recorded decision", "repo", repo.String(), "sha", normalized, "decision", decision)
	}
	return nil
}
