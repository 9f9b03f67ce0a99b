package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gh "github.com/commitgate/commitgate/internal/github"
)

// InvalidSHAError reports a commit identifier that failed syntactic
// validation before any API round-trip.
type InvalidSHAError struct {
	Input string
}

func (e *InvalidSHAError) Error() string {
	return fmt.Sprintf("invalid commit sha %q: expected 7-40 hex characters", e.Input)
}

// NotFoundError reports a commit the API does not know about, distinguished
// from network failure.
type NotFoundError struct {
	Repository RepositoryID
	SHA        string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("commit %s not found in %s", e.SHA, e.Repository)
}

// Fetcher retrieves commit metadata and per-file change records through the
// commit read API and normalizes them into Records.
type Fetcher struct {
	gh  gh.Client
	log *slog.Logger
}

// NewFetcher returns a Fetcher backed by the supplied GitHub client.
func NewFetcher(client gh.Client, logger *slog.Logger) *Fetcher {
	return &Fetcher{gh: client, log: logger}
}

// Fetch resolves a commit (abbreviated identifiers are accepted) and returns
// a fully populated Record carrying the full 40-character SHA. Repeated calls
// re-fetch; results are never cached because remote state may change.
func (f *Fetcher) Fetch(ctx context.Context, repo RepositoryID, sha string) (Record, error) {
	normalized, err := NormalizeSHA(sha)
	if err != nil {
		return Record{}, err
	}

	info, err := f.gh.GetCommit(ctx, repo.Owner, repo.Name, normalized)
	if err != nil {
		if errors.Is(err, gh.ErrNotFound) {
			return Record{}, &NotFoundError{Repository: repo, SHA: normalized}
		}
		return Record{}, fmt.Errorf("fetch commit %s: %w", normalized, err)
	}

	if !IsFullSHA(info.SHA) {
		return Record{}, fmt.Errorf("fetch commit %s: api returned malformed sha %q", normalized, info.SHA)
	}

	record := Record{
		SHA:         info.SHA,
		Repository:  repo,
		Parents:     info.Parents,
		AuthorName:  info.AuthorName,
		AuthorEmail: info.AuthorEmail,
		AuthoredAt:  info.AuthoredAt,
		Message:     info.Message,
		Signature:   signatureFromAPI(info.Signature),
		TreeSHA:     info.TreeSHA,
		HTMLURL:     info.HTMLURL,
	}

	if f.log != nil {
		f.log.Debug("fetched commit", "repo", repo.String(), "sha", record.SHA, "signature", record.Signature)
	}

	return record, nil
}

// ListFileChanges returns the ordered per-file change records for a commit.
func (f *Fetcher) ListFileChanges(ctx context.Context, repo RepositoryID, sha string) ([]FileChange, error) {
	normalized, err := NormalizeSHA(sha)
	if err != nil {
		return nil, err
	}

	files, err := f.gh.ListCommitFiles(ctx, repo.Owner, repo.Name, normalized)
	if err != nil {
		if errors.Is(err, gh.ErrNotFound) {
			return nil, &NotFoundError{Repository: repo, SHA: normalized}
		}
		return nil, fmt.Errorf("list commit files %s: %w", normalized, err)
	}

	changes := make([]FileChange, 0, len(files))
	for _, file := range files {
		changes = append(changes, FileChange{
			Path:          file.Path,
			Status:        statusFromAPI(file.Status),
			Additions:     file.Additions,
			Deletions:     file.Deletions,
			PreviousPath:  file.PreviousPath,
			PatchFragment: file.Patch,
		})
	}

	return changes, nil
}
