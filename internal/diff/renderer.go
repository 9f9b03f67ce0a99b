// Package diff fetches and classifies commit patches for presentation.
package diff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/commitgate/commitgate/internal/commit"
	gh "github.com/commitgate/commitgate/internal/github"
)

// Mode tells the caller how the patch must be presented.
type Mode string

const (
	// ModeInline means the patch fits in a chat/terminal message.
	ModeInline Mode = "inline"
	// ModeAttachment means the caller must offer the patch as a downloadable
	// artifact instead of inline text.
	ModeAttachment Mode = "attachment"
)

// DefaultInlineThreshold is the presentation contract boundary: patches of
// this many bytes or more must be offered as attachments.
const DefaultInlineThreshold = 4096

// Diff is a classified commit patch. Unavailable marks the expected,
// non-fatal case where no patch exists (root commit, unsupported format).
type Diff struct {
	Content     string
	SizeBytes   int
	Mode        Mode
	Unavailable bool
}

// Renderer retrieves unified patches through the read API.
type Renderer struct {
	gh              gh.Client
	inlineThreshold int
	log             *slog.Logger
}

// NewRenderer returns a Renderer using the default inline threshold.
func NewRenderer(client gh.Client, logger *slog.Logger) *Renderer {
	return &Renderer{gh: client, inlineThreshold: DefaultInlineThreshold, log: logger}
}

// Render fetches the unified patch for a commit and classifies it by size.
// A missing patch yields Diff{Unavailable: true} and a nil error.
func (r *Renderer) Render(ctx context.Context, repo commit.RepositoryID, sha string) (Diff, error) {
	normalized, err := commit.NormalizeSHA(sha)
	if err != nil {
		return Diff{}, err
	}

	patch, err := r.gh.GetCommitPatch(ctx, repo.Owner, repo.Name, normalized)
	if err != nil {
		var permanent *gh.PermanentAPIError
		if errors.Is(err, gh.ErrNotFound) || errors.As(err, &permanent) {
			if r.log != nil {
				r.log.Debug("commit patch unavailable", "repo", repo.String(), "sha", normalized, "error", err)
			}
			return Diff{Unavailable: true}, nil
		}
		return Diff{}, fmt.Errorf("render diff %s: %w", normalized, err)
	}

	return r.classify(patch), nil
}

func (r *Renderer) classify(patch string) Diff {
	threshold := r.inlineThreshold
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}

	d := Diff{Content: patch, SizeBytes: len(patch)}
	if d.SizeBytes < threshold {
		d.Mode = ModeInline
	} else {
		d.Mode = ModeAttachment
	}
	return d
}

// RenderFile produces the unified diff of a single file within a commit. The
// per-file patch fragment from the change record is preferred; when the API
// omitted it (large or binary-looking files), the previous and current blob
// contents are fetched and a fragment is synthesized.
func (r *Renderer) RenderFile(ctx context.Context, repo commit.RepositoryID, rec commit.Record, change commit.FileChange) (Diff, error) {
	if change.PatchFragment != "" {
		return r.classify(change.PatchFragment), nil
	}

	current, err := r.blobContent(ctx, repo, rec.TreeSHA, change.Path)
	if err != nil {
		return Diff{}, err
	}

	previous := ""
	if change.Status != commit.FileAdded && len(rec.Parents) > 0 {
		parent, err := r.gh.GetCommit(ctx, repo.Owner, repo.Name, rec.Parents[0])
		if err != nil {
			return Diff{}, fmt.Errorf("resolve parent of %s: %w", rec.ShortSHA(), err)
		}

		previousPath := change.Path
		if change.PreviousPath != "" {
			previousPath = change.PreviousPath
		}
		previous, err = r.blobContent(ctx, repo, parent.TreeSHA, previousPath)
		if err != nil && !errors.Is(err, gh.ErrNotFound) {
			return Diff{}, err
		}
	}

	fragment, err := unifiedFragment(change.Path, previous, current)
	if err != nil {
		return Diff{Unavailable: true}, nil
	}

	return r.classify(fragment), nil
}

func (r *Renderer) blobContent(ctx context.Context, repo commit.RepositoryID, treeSHA, path string) (string, error) {
	if treeSHA == "" {
		return "", nil
	}

	tree, err := r.gh.GetTree(ctx, repo.Owner, repo.Name, treeSHA, true)
	if err != nil {
		return "", fmt.Errorf("get tree %s: %w", treeSHA, err)
	}

	for _, entry := range tree.Entries {
		if entry.Path != path || entry.Type != "blob" {
			continue
		}
		blob, err := r.gh.GetBlob(ctx, repo.Owner, repo.Name, entry.SHA)
		if err != nil {
			return "", fmt.Errorf("get blob %s: %w", entry.SHA, err)
		}
		return string(blob.Content), nil
	}

	return "", nil
}

func unifiedFragment(path, previous, current string) (string, error) {
	if previous == current {
		return "", nil
	}

	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}

	fragment, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(fragment, "\n") + "\n", nil
}
