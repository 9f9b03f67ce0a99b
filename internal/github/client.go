package gh

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SignatureState describes what the API reported about a commit signature.
type SignatureState string

const (
	// SignatureVerified means the API confirmed a valid signature.
	SignatureVerified SignatureState = "verified"
	// SignatureUnverified means a signature is present but did not verify.
	SignatureUnverified SignatureState = "unverified"
	// SignatureAbsent means the commit carries no signature at all.
	SignatureAbsent SignatureState = "absent"
)

// CommitInfo contains commit metadata as returned by the commit read API.
type CommitInfo struct {
	SHA         string
	TreeSHA     string
	Parents     []string
	Message     string
	AuthorName  string
	AuthorEmail string
	AuthoredAt  time.Time
	Signature   SignatureState
	HTMLURL     string
}

// CommitFile is one per-file change record from the commit read API. The order
// of records follows the API response and carries no further meaning.
type CommitFile struct {
	Path         string
	Status       string
	Additions    int
	Deletions    int
	PreviousPath string
	Patch        string
}

// RepositoryInfo carries the repository metadata used by verification checks.
type RepositoryInfo struct {
	FullName      string
	Description   string
	DefaultBranch string
	CreatedAt     time.Time
}

// Blob holds decoded blob content.
type Blob struct {
	SHA     string
	Content []byte
}

// TreeEntry is a single entry of a fetched tree.
type TreeEntry struct {
	Path string
	Mode string
	Type string
	SHA  string
	Size int
}

// Tree is a fetched git tree. Truncated is set when the API could not return
// the full recursive listing.
type Tree struct {
	SHA       string
	Entries   []TreeEntry
	Truncated bool
}

// NewTreeEntry describes one entry delta submitted to createTree. A nil SHA
// removes the path from the base tree.
type NewTreeEntry struct {
	Path string
	Mode string
	SHA  *string
}

// Ref is a branch head pointer.
type Ref struct {
	Branch string
	SHA    string
}

// Client exposes the GitHub read and Git Data operations required by the
// verification and export engine. Every method is safe to call concurrently.
type Client interface {
	GetRepository(ctx context.Context, owner, repo string) (RepositoryInfo, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (CommitInfo, error)
	ListCommitFiles(ctx context.Context, owner, repo, sha string) ([]CommitFile, error)
	GetCommitPatch(ctx context.Context, owner, repo, sha string) (string, error)
	ListBranches(ctx context.Context, owner, repo string) ([]string, error)

	GetBlob(ctx context.Context, owner, repo, sha string) (Blob, error)
	CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error)
	GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (Tree, error)
	CreateTree(ctx context.Context, owner, repo, baseTreeSHA string, entries []NewTreeEntry) (Tree, error)
	CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error)

	GetRef(ctx context.Context, owner, repo, branch string) (Ref, error)
	CreateRef(ctx context.Context, owner, repo, branch, sha string) error
	// UpdateRef advances a branch head under a compare-and-swap discipline:
	// the update is applied only while the branch still points at expectedSHA.
	// A concurrent move surfaces as *RefConflictError.
	UpdateRef(ctx context.Context, owner, repo, branch, sha, expectedSHA string) error
}

// Factory builds concrete GitHub clients (e.g., REST-backed) for the engine.
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

// ErrNotFound indicates the requested commit, branch, or object does not exist.
var ErrNotFound = errors.New("github: not found")

// RefConflictError reports a failed compare-and-swap ref update: the branch
// moved between the expected read and the update attempt.
type RefConflictError struct {
	Branch      string
	ExpectedSHA string
	ActualSHA   string
}

func (e *RefConflictError) Error() string {
	return fmt.Sprintf("ref %s moved: expected %s, found %s", e.Branch, e.ExpectedSHA, e.ActualSHA)
}

// PermanentAPIError wraps a 4xx rejection from the API. It is never retried.
type PermanentAPIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *PermanentAPIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("github api rejected request (status %d): %v", e.StatusCode, e.Err)
}

func (e *PermanentAPIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// retryableError marks an error that may succeed if the operation is retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether the supplied error resulted from a retryable
// GitHub API failure (for example, a transient network problem or
// rate-limited request) whose retry budget has been exhausted.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}
