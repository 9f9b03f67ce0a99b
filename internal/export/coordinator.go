package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gh "github.com/commitgate/commitgate/internal/github"
)

// DefaultDeadline bounds one whole export operation, across all of its
// sub-steps and their individual retries.
const DefaultDeadline = 30 * time.Second

// Coordinator drives the exporter across the two supported flows and turns
// composer failures into actionable categories for the caller.
type Coordinator struct {
	exporter *Exporter
	log      *slog.Logger

	// Deadline overrides DefaultDeadline when positive.
	Deadline time.Duration
}

// NewCoordinator returns a Coordinator wrapping the supplied exporter.
func NewCoordinator(exporter *Exporter, logger *slog.Logger) *Coordinator {
	return &Coordinator{exporter: exporter, log: logger}
}

// ExportToExistingBranch transplants the source commit onto an existing
// branch. A BranchMovedError is informational: the branch advanced while the
// export ran, and the caller decides whether to re-run against the new head.
func (c *Coordinator) ExportToExistingBranch(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.TargetBranch) == "" {
		return Result{}, &InvalidRequestError{Reason: "target branch is required"}
	}
	if strings.TrimSpace(req.NewBranchName) != "" || strings.TrimSpace(req.BaseRef) != "" {
		return Result{}, &InvalidRequestError{Reason: "new branch fields must be empty when exporting to an existing branch"}
	}

	return c.run(ctx, req)
}

// ExportToNewBranch cuts a new branch from the base ref and transplants the
// source commit onto it. The supplied branch name is sanitized before use.
func (c *Coordinator) ExportToNewBranch(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.TargetBranch) != "" {
		return Result{}, &InvalidRequestError{Reason: "target branch must be empty when exporting to a new branch"}
	}
	if strings.TrimSpace(req.NewBranchName) == "" {
		return Result{}, &InvalidRequestError{Reason: "new branch name is required"}
	}
	if strings.TrimSpace(req.BaseRef) == "" {
		return Result{}, &InvalidRequestError{Reason: "base ref is required when exporting to a new branch"}
	}

	sanitized := gh.SanitizeBranchName(req.NewBranchName)
	if sanitized != req.NewBranchName && c.log != nil {
		c.log.Info("sanitized export branch name", "requested", req.NewBranchName, "using", sanitized)
	}
	req.NewBranchName = sanitized

	return c.run(ctx, req)
}

func (c *Coordinator) run(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	deadline := c.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := c.exporter.Export(ctx, req)
	if err == nil {
		return result, nil
	}

	var moved *BranchMovedError
	if errors.As(err, &moved) {
		if c.log != nil {
			c.log.Warn("export lost the compare-and-swap race", "repo", req.Repository.String(), "branch", moved.Branch, "expected", moved.ExpectedSHA, "actual", moved.ActualSHA)
		}
		return Result{}, moved
	}

	if errors.Is(err, context.DeadlineExceeded) {
		var transient *TransientError
		if !errors.As(err, &transient) {
			err = &TransientError{Op: "export deadline exceeded", Err: err}
		}
	}

	return Result{}, fmt.Errorf("export %s to %s: %w", req.Repository.String(), branchLabel(req), err)
}

func branchLabel(req Request) string {
	if req.TargetBranch != "" {
		return req.TargetBranch
	}
	return req.NewBranchName
}
