// Package export composes cherry-pick style transplant commits out of
// blob/tree/commit/ref primitives. A transplant is a single-parent commit
// whose tree equals the target head's tree with one source commit's file
// changes applied on top; it deliberately does not replicate git's three-way
// cherry-pick. Overlapping edits surface as PathConflictError instead of
// being merged.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/commitgate/commitgate/internal/commit"
	gh "github.com/commitgate/commitgate/internal/github"
)

const defaultBlobWorkers = 4

// Request names a source commit and exactly one target mode: an existing
// branch, or a new branch cut from BaseRef.
type Request struct {
	Repository    commit.RepositoryID
	SourceSHA     string
	TargetBranch  string
	NewBranchName string
	BaseRef       string
}

// Validate enforces the exactly-one-target-mode invariant.
func (r Request) Validate() error {
	existing := strings.TrimSpace(r.TargetBranch) != ""
	fresh := strings.TrimSpace(r.NewBranchName) != ""

	switch {
	case existing && fresh:
		return &InvalidRequestError{Reason: "target branch and new branch name are mutually exclusive"}
	case !existing && !fresh:
		return &InvalidRequestError{Reason: "either a target branch or a new branch name is required"}
	case fresh && strings.TrimSpace(r.BaseRef) == "":
		return &InvalidRequestError{Reason: "a base ref is required when creating a new branch"}
	}

	if _, err := commit.NormalizeSHA(r.SourceSHA); err != nil {
		return err
	}

	return nil
}

// Result is produced only on full success; a failed export never returns a
// partial Result and never leaves the branch half-updated.
type Result struct {
	NewCommitSHA   string
	BranchName     string
	UpdatedFromSHA string
}

// Exporter builds the new blob/tree/commit objects for a transplant and
// advances (or creates) the branch ref last, under a compare-and-swap guard.
type Exporter struct {
	gh  gh.Client
	log *slog.Logger

	// BlobWorkers bounds the per-file blob copy fan-out. APIRate, when set,
	// throttles the Git Data calls issued by those workers.
	BlobWorkers int
	APIRate     *rate.Limiter
}

// NewExporter returns an Exporter with default concurrency bounds.
func NewExporter(client gh.Client, logger *slog.Logger) *Exporter {
	return &Exporter{gh: client, log: logger, BlobWorkers: defaultBlobWorkers}
}

// fileOp is one planned tree mutation derived from a FileChange.
type fileOp struct {
	path      string
	mode      string
	sourceSHA string // blob in the source commit's tree
	blobSHA   string // blob created in the target composition
	remove    []string
}

// Export performs the transplant. On any failure before the ref step, the
// objects created so far remain unreferenced and harmless; the ref itself is
// only ever touched once, as the final step.
func (e *Exporter) Export(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	sourceSHA, err := commit.NormalizeSHA(req.SourceSHA)
	if err != nil {
		return Result{}, err
	}

	branch, baseSHA, err := e.resolveBase(ctx, req)
	if err != nil {
		return Result{}, err
	}

	baseCommit, err := e.gh.GetCommit(ctx, req.Repository.Owner, req.Repository.Name, baseSHA)
	if err != nil {
		return Result{}, e.classify("resolve base commit", err)
	}

	baseTree, err := e.gh.GetTree(ctx, req.Repository.Owner, req.Repository.Name, baseCommit.TreeSHA, true)
	if err != nil {
		return Result{}, e.classify("fetch base tree", err)
	}
	if baseTree.Truncated {
		return Result{}, &ObjectStoreError{Op: "fetch base tree", Err: fmt.Errorf("recursive listing truncated for tree %s", baseCommit.TreeSHA)}
	}

	sourceCommit, err := e.gh.GetCommit(ctx, req.Repository.Owner, req.Repository.Name, sourceSHA)
	if err != nil {
		return Result{}, e.classify("resolve source commit", err)
	}

	changes, err := e.gh.ListCommitFiles(ctx, req.Repository.Owner, req.Repository.Name, sourceCommit.SHA)
	if err != nil {
		return Result{}, e.classify("list source file changes", err)
	}
	if len(changes) == 0 {
		return Result{}, &ObjectStoreError{Op: "plan changes", Err: fmt.Errorf("commit %s changes no files", sourceCommit.SHA)}
	}

	sourceTree, err := e.gh.GetTree(ctx, req.Repository.Owner, req.Repository.Name, sourceCommit.TreeSHA, true)
	if err != nil {
		return Result{}, e.classify("fetch source tree", err)
	}

	ops, removals, err := planOps(changes, indexTree(baseTree), indexTree(sourceTree))
	if err != nil {
		return Result{}, err
	}

	if err := e.copyBlobs(ctx, req.Repository, ops); err != nil {
		return Result{}, err
	}

	entries := make([]gh.NewTreeEntry, 0, len(ops)+len(removals))
	for i := range ops {
		sha := ops[i].blobSHA
		entries = append(entries, gh.NewTreeEntry{Path: ops[i].path, Mode: ops[i].mode, SHA: &sha})
	}
	for _, path := range removals {
		entries = append(entries, gh.NewTreeEntry{Path: path, SHA: nil})
	}

	newTree, err := e.gh.CreateTree(ctx, req.Repository.Owner, req.Repository.Name, baseCommit.TreeSHA, entries)
	if err != nil {
		return Result{}, e.classify("create tree", err)
	}

	if err := e.verifyComposedTree(ctx, req.Repository, newTree.SHA, ops, removals); err != nil {
		return Result{}, err
	}

	message := transplantMessage(sourceCommit)
	newCommitSHA, err := e.gh.CreateCommit(ctx, req.Repository.Owner, req.Repository.Name, message, newTree.SHA, []string{baseSHA})
	if err != nil {
		return Result{}, e.classify("create commit", err)
	}

	// Last chance to honor cancellation: once the ref moves the export is
	// externally visible.
	if err := ctx.Err(); err != nil {
		return Result{}, &TransientError{Op: "export cancelled before ref update", Err: err}
	}

	if req.NewBranchName != "" {
		if err := e.gh.CreateRef(ctx, req.Repository.Owner, req.Repository.Name, branch, newCommitSHA); err != nil {
			return Result{}, e.classify("create ref", err)
		}
	} else {
		if err := e.gh.UpdateRef(ctx, req.Repository.Owner, req.Repository.Name, branch, newCommitSHA, baseSHA); err != nil {
			return Result{}, e.classify("update ref", err)
		}
	}

	if e.log != nil {
		e.log.Info("exported commit", "repo", req.Repository.String(), "source", sourceCommit.SHA, "branch", branch, "new_commit", newCommitSHA, "previous_head", baseSHA)
	}

	return Result{NewCommitSHA: newCommitSHA, BranchName: branch, UpdatedFromSHA: baseSHA}, nil
}

// resolveBase returns the branch to advance and the commit it currently
// points at. For new branches the base ref may be a branch name or a commit
// identifier.
func (e *Exporter) resolveBase(ctx context.Context, req Request) (string, string, error) {
	if req.TargetBranch != "" {
		ref, err := e.gh.GetRef(ctx, req.Repository.Owner, req.Repository.Name, req.TargetBranch)
		if err != nil {
			return "", "", e.classify("resolve target branch", err)
		}
		return req.TargetBranch, ref.SHA, nil
	}

	baseRef := strings.TrimSpace(req.BaseRef)
	ref, err := e.gh.GetRef(ctx, req.Repository.Owner, req.Repository.Name, baseRef)
	if err == nil {
		return req.NewBranchName, ref.SHA, nil
	}

	if errors.Is(err, gh.ErrNotFound) {
		if sha, shaErr := commit.NormalizeSHA(baseRef); shaErr == nil {
			info, commitErr := e.gh.GetCommit(ctx, req.Repository.Owner, req.Repository.Name, sha)
			if commitErr == nil {
				return req.NewBranchName, info.SHA, nil
			}
			return "", "", e.classify("resolve base ref", commitErr)
		}
	}

	return "", "", e.classify("resolve base ref", err)
}

// planOps translates file changes into tree mutations and rejects changes
// that no longer fit the base tree's shape.
func planOps(changes []gh.CommitFile, baseIndex, sourceIndex map[string]gh.TreeEntry) ([]fileOp, []string, error) {
	var ops []fileOp
	var removals []string

	for _, change := range changes {
		switch change.Status {
		case "removed":
			if _, ok := baseIndex[change.Path]; !ok {
				return nil, nil, &PathConflictError{Path: change.Path, Reason: "file to remove is absent from the target tree"}
			}
			removals = append(removals, change.Path)

		case "added":
			if _, ok := baseIndex[change.Path]; ok {
				return nil, nil, &PathConflictError{Path: change.Path, Reason: "file to add already exists in the target tree"}
			}
			op, err := additionOp(change.Path, sourceIndex)
			if err != nil {
				return nil, nil, err
			}
			ops = append(ops, op)

		case "renamed":
			previous := change.PreviousPath
			if previous == "" {
				return nil, nil, &PathConflictError{Path: change.Path, Reason: "rename without a previous path"}
			}
			if _, ok := baseIndex[previous]; !ok {
				return nil, nil, &PathConflictError{Path: previous, Reason: "file to rename is absent from the target tree"}
			}
			removals = append(removals, previous)
			op, err := additionOp(change.Path, sourceIndex)
			if err != nil {
				return nil, nil, err
			}
			ops = append(ops, op)

		case "copied":
			op, err := additionOp(change.Path, sourceIndex)
			if err != nil {
				return nil, nil, err
			}
			ops = append(ops, op)

		default: // modified and in-place edits
			if _, ok := baseIndex[change.Path]; !ok {
				return nil, nil, &PathConflictError{Path: change.Path, Reason: "file to modify is absent from the target tree"}
			}
			op, err := additionOp(change.Path, sourceIndex)
			if err != nil {
				return nil, nil, err
			}
			ops = append(ops, op)
		}
	}

	return ops, removals, nil
}

func additionOp(path string, sourceIndex map[string]gh.TreeEntry) (fileOp, error) {
	entry, ok := sourceIndex[path]
	if !ok {
		return fileOp{}, &PathConflictError{Path: path, Reason: "file is absent from the source commit's tree"}
	}

	mode := entry.Mode
	if mode == "" {
		mode = "100644"
	}
	return fileOp{path: path, mode: mode, sourceSHA: entry.SHA}, nil
}

func indexTree(tree gh.Tree) map[string]gh.TreeEntry {
	index := make(map[string]gh.TreeEntry, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.Type != "blob" {
			continue
		}
		index[entry.Path] = entry
	}
	return index
}

// copyBlobs copies each changed file's content into a fresh blob in the
// target composition. Blobs for independent files are created in parallel up
// to BlobWorkers; this is the only parallel section of an export, everything
// after it is data-dependent.
func (e *Exporter) copyBlobs(ctx context.Context, repo commit.RepositoryID, ops []fileOp) error {
	if len(ops) == 0 {
		return nil
	}

	workers := e.BlobWorkers
	if workers <= 0 {
		workers = defaultBlobWorkers
	}
	if workers > len(ops) {
		workers = len(ops)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, workers)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for i := range ops {
		op := &ops[i]
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			sha, err := e.copyBlob(ctx, repo, op.sourceSHA)
			if err != nil {
				fail(e.classify(fmt.Sprintf("copy blob for %s", op.path), err))
				return
			}
			op.blobSHA = sha
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return &TransientError{Op: "copy blobs", Err: err}
	}
	return nil
}

func (e *Exporter) copyBlob(ctx context.Context, repo commit.RepositoryID, sourceSHA string) (string, error) {
	if err := e.waitAPIRate(ctx); err != nil {
		return "", err
	}
	blob, err := e.gh.GetBlob(ctx, repo.Owner, repo.Name, sourceSHA)
	if err != nil {
		return "", err
	}

	if err := e.waitAPIRate(ctx); err != nil {
		return "", err
	}
	return e.gh.CreateBlob(ctx, repo.Owner, repo.Name, blob.Content)
}

func (e *Exporter) waitAPIRate(ctx context.Context) error {
	if e.APIRate == nil {
		return nil
	}
	return e.APIRate.Wait(ctx)
}

// verifyComposedTree re-reads the created tree and confirms the compose step
// actually produced the requested shape before any ref is touched.
func (e *Exporter) verifyComposedTree(ctx context.Context, repo commit.RepositoryID, treeSHA string, ops []fileOp, removals []string) error {
	tree, err := e.gh.GetTree(ctx, repo.Owner, repo.Name, treeSHA, true)
	if err != nil {
		return e.classify("verify composed tree", err)
	}

	index := indexTree(tree)
	for _, op := range ops {
		entry, ok := index[op.path]
		if !ok {
			return &ObjectStoreError{Op: "verify composed tree", Err: fmt.Errorf("path %s missing from composed tree", op.path)}
		}
		if entry.SHA != op.blobSHA {
			return &ObjectStoreError{Op: "verify composed tree", Err: fmt.Errorf("path %s resolves to blob %s, expected %s", op.path, entry.SHA, op.blobSHA)}
		}
	}
	for _, path := range removals {
		if _, ok := index[path]; ok {
			return &ObjectStoreError{Op: "verify composed tree", Err: fmt.Errorf("removed path %s still present in composed tree", path)}
		}
	}

	return nil
}

func transplantMessage(source gh.CommitInfo) string {
	firstLine := source.Message
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)

	short := source.SHA
	if len(short) > 8 {
		short = short[:8]
	}

	if firstLine == "" {
		return fmt.Sprintf("Cherry-pick: %s", short)
	}
	return fmt.Sprintf("Cherry-pick: %s - %s", short, firstLine)
}

// classify maps client errors onto the export failure taxonomy.
func (e *Exporter) classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var moved *gh.RefConflictError
	if errors.As(err, &moved) {
		return &BranchMovedError{Branch: moved.Branch, ExpectedSHA: moved.ExpectedSHA, ActualSHA: moved.ActualSHA}
	}

	if gh.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Op: op, Err: err}
	}

	return &ObjectStoreError{Op: op, Err: err}
}
