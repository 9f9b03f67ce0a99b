package gh

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const defaultUserAgent = "commitgate"

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
	defaultCallTimeout = 10 * time.Second
)

// NewRESTFactory returns a GitHub client factory backed by the go-github REST client. When
// base and upload URLs are provided, the factory targets a GitHub Enterprise instance.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return &restFactory{
		userAgent: defaultUserAgent,
		baseURL:   strings.TrimSpace(baseURL),
		uploadURL: strings.TrimSpace(uploadURL),
	}
}

type restFactory struct {
	userAgent string
	baseURL   string
	uploadURL string
}

type restClient struct {
	client *github.Client

	maxAttempts int
	retryDelay  time.Duration
	callTimeout time.Duration
}

func (f *restFactory) New(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	if f.baseURL == "" && f.uploadURL != "" {
		return nil, fmt.Errorf("github upload url cannot be set without base url")
	}

	var ghClient *github.Client
	if f.baseURL != "" {
		baseURLNormalized, err := normalizeGitHubURL(f.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}

		uploadURL := f.uploadURL
		if uploadURL == "" {
			return nil, fmt.Errorf("github upload url must be provided when base url is set")
		}

		uploadURLNormalized, err := normalizeGitHubURL(uploadURL)
		if err != nil {
			return nil, fmt.Errorf("parse github upload url: %w", err)
		}

		ghClient, err = github.NewClient(tc).WithEnterpriseURLs(baseURLNormalized, uploadURLNormalized)
		if err != nil {
			return nil, fmt.Errorf("construct enterprise github client: %w", err)
		}
	} else {
		ghClient = github.NewClient(tc)
	}

	if f.userAgent != "" {
		ghClient.UserAgent = f.userAgent
	}

	return &restClient{
		client:      ghClient,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		callTimeout: defaultCallTimeout,
	}, nil
}

func normalizeGitHubURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		return "", fmt.Errorf("url must include scheme (e.g. https://)")
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("url must include host")
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	} else if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

// do runs one API call under the structured retry policy: bounded attempts
// with exponential backoff for transient failures, an immediate return for
// permanent rejections, and a per-attempt timeout.
func (c *restClient) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := c.maxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	delay := c.retryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	timeout := c.callTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}

		err = classifyGitHubError(err)
		lastErr = err

		if !IsRetryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("%s: %w", op, lastErr)
}

func (c *restClient) GetRepository(ctx context.Context, owner, repo string) (RepositoryInfo, error) {
	var info RepositoryInfo

	err := c.do(ctx, "get repository", func(ctx context.Context) error {
		repository, resp, err := c.client.Repositories.Get(ctx, owner, repo)
		if err != nil {
			if isNotFound(resp, err) {
				return ErrNotFound
			}
			return err
		}

		info = RepositoryInfo{
			FullName:      repository.GetFullName(),
			Description:   repository.GetDescription(),
			DefaultBranch: repository.GetDefaultBranch(),
			CreatedAt:     repository.GetCreatedAt().Time,
		}
		return nil
	})
	if err != nil {
		return RepositoryInfo{}, err
	}

	return info, nil
}

func (c *restClient) GetCommit(ctx context.Context, owner, repo, sha string) (CommitInfo, error) {
	var info CommitInfo

	err := c.do(ctx, "get commit", func(ctx context.Context) error {
		commit, resp, err := c.client.Repositories.GetCommit(ctx, owner, repo, sha, &github.ListOptions{PerPage: 1})
		if err != nil {
			if isNotFound(resp, err) {
				return ErrNotFound
			}
			return err
		}

		info = commitInfoFromAPI(commit)
		return nil
	})
	if err != nil {
		return CommitInfo{}, err
	}

	return info, nil
}

func commitInfoFromAPI(commit *github.RepositoryCommit) CommitInfo {
	info := CommitInfo{
		SHA:       commit.GetSHA(),
		HTMLURL:   commit.GetHTMLURL(),
		Signature: SignatureAbsent,
	}

	if inner := commit.GetCommit(); inner != nil {
		info.Message = inner.GetMessage()
		info.TreeSHA = inner.GetTree().GetSHA()

		if author := inner.GetAuthor(); author != nil {
			info.AuthorName = author.GetName()
			info.AuthorEmail = author.GetEmail()
			info.AuthoredAt = author.GetDate().Time
		}

		if verification := inner.GetVerification(); verification != nil {
			switch {
			case verification.GetVerified():
				info.Signature = SignatureVerified
			case verification.GetSignature() != "":
				info.Signature = SignatureUnverified
			}
		}
	}

	for _, parent := range commit.Parents {
		if parent == nil {
			continue
		}
		if sha := parent.GetSHA(); sha != "" {
			info.Parents = append(info.Parents, sha)
		}
	}

	return info
}

func (c *restClient) ListCommitFiles(ctx context.Context, owner, repo, sha string) ([]CommitFile, error) {
	opts := &github.ListOptions{PerPage: 100}
	var files []CommitFile

	for {
		var resp *github.Response
		err := c.do(ctx, "list commit files", func(ctx context.Context) error {
			commit, r, err := c.client.Repositories.GetCommit(ctx, owner, repo, sha, opts)
			if err != nil {
				if isNotFound(r, err) {
					return ErrNotFound
				}
				return err
			}

			resp = r
			for _, file := range commit.Files {
				if file == nil {
					continue
				}
				files = append(files, CommitFile{
					Path:         file.GetFilename(),
					Status:       file.GetStatus(),
					Additions:    file.GetAdditions(),
					Deletions:    file.GetDeletions(),
					PreviousPath: file.GetPreviousFilename(),
					Patch:        file.GetPatch(),
				})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return files, nil
}

func (c *restClient) GetCommitPatch(ctx context.Context, owner, repo, sha string) (string, error) {
	var patch string

	err := c.do(ctx, "get commit patch", func(ctx context.Context) error {
		raw, resp, err := c.client.Repositories.GetCommitRaw(ctx, owner, repo, sha, github.RawOptions{Type: github.Patch})
		if err != nil {
			if isNotFound(resp, err) {
				return ErrNotFound
			}
			return err
		}

		patch = raw
		return nil
	})
	if err != nil {
		return "", err
	}

	return patch, nil
}

func (c *restClient) ListBranches(ctx context.Context, owner, repo string) ([]string, error) {
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var branches []string

	for {
		var resp *github.Response
		err := c.do(ctx, "list branches", func(ctx context.Context) error {
			page, r, err := c.client.Repositories.ListBranches(ctx, owner, repo, opts)
			if err != nil {
				if isNotFound(r, err) {
					return ErrNotFound
				}
				return err
			}

			resp = r
			for _, branch := range page {
				if branch == nil {
					continue
				}
				if name := branch.GetName(); name != "" {
					branches = append(branches, name)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return branches, nil
}

func (c *restClient) GetBlob(ctx context.Context, owner, repo, sha string) (Blob, error) {
	var blob Blob

	err := c.do(ctx, "get blob", func(ctx context.Context) error {
		raw, resp, err := c.client.Git.GetBlob(ctx, owner, repo, sha)
		if err != nil {
			if isNotFound(resp, err) {
				return ErrNotFound
			}
			return err
		}

		content := raw.GetContent()
		switch raw.GetEncoding() {
		case "base64":
			decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
			if err != nil {
				return fmt.Errorf("decode blob %s: %w", sha, err)
			}
			blob = Blob{SHA: raw.GetSHA(), Content: decoded}
		default:
			blob = Blob{SHA: raw.GetSHA(), Content: []byte(content)}
		}
		return nil
	})
	if err != nil {
		return Blob{}, err
	}

	return blob, nil
}

func (c *restClient) CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error) {
	var sha string

	// Blob content is always submitted base64-encoded so binary files survive
	// the round trip.
	encoded := base64.StdEncoding.EncodeToString(content)

	err := c.do(ctx, "create blob", func(ctx context.Context) error {
		created, _, err := c.client.Git.CreateBlob(ctx, owner, repo, &github.Blob{
			Content:  github.String(encoded),
			Encoding: github.String("base64"),
		})
		if err != nil {
			return err
		}

		sha = created.GetSHA()
		return nil
	})
	if err != nil {
		return "", err
	}

	return sha, nil
}

func (c *restClient) GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (Tree, error) {
	var tree Tree

	err := c.do(ctx, "get tree", func(ctx context.Context) error {
		raw, resp, err := c.client.Git.GetTree(ctx, owner, repo, sha, recursive)
		if err != nil {
			if isNotFound(resp, err) {
				return ErrNotFound
			}
			return err
		}

		tree = Tree{SHA: raw.GetSHA(), Truncated: raw.GetTruncated()}
		for _, entry := range raw.Entries {
			if entry == nil {
				continue
			}
			tree.Entries = append(tree.Entries, TreeEntry{
				Path: entry.GetPath(),
				Mode: entry.GetMode(),
				Type: entry.GetType(),
				SHA:  entry.GetSHA(),
				Size: entry.GetSize(),
			})
		}
		return nil
	})
	if err != nil {
		return Tree{}, err
	}

	return tree, nil
}

func (c *restClient) CreateTree(ctx context.Context, owner, repo, baseTreeSHA string, entries []NewTreeEntry) (Tree, error) {
	apiEntries := make([]*github.TreeEntry, 0, len(entries))
	for _, entry := range entries {
		mode := entry.Mode
		if mode == "" {
			mode = "100644"
		}
		// A nil SHA serializes as "sha": null, which deletes the path from
		// the base tree.
		apiEntries = append(apiEntries, &github.TreeEntry{
			Path: github.String(entry.Path),
			Mode: github.String(mode),
			Type: github.String("blob"),
			SHA:  entry.SHA,
		})
	}

	var tree Tree
	err := c.do(ctx, "create tree", func(ctx context.Context) error {
		created, _, err := c.client.Git.CreateTree(ctx, owner, repo, baseTreeSHA, apiEntries)
		if err != nil {
			return err
		}

		tree = Tree{SHA: created.GetSHA(), Truncated: created.GetTruncated()}
		return nil
	})
	if err != nil {
		return Tree{}, err
	}

	return tree, nil
}

func (c *restClient) CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error) {
	parentCommits := make([]*github.Commit, 0, len(parents))
	for _, parent := range parents {
		parentCommits = append(parentCommits, &github.Commit{SHA: github.String(parent)})
	}

	commit := &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: github.String(treeSHA)},
		Parents: parentCommits,
	}

	var sha string
	err := c.do(ctx, "create commit", func(ctx context.Context) error {
		created, _, err := c.client.Git.CreateCommit(ctx, owner, repo, commit)
		if err != nil {
			return err
		}

		sha = created.GetSHA()
		return nil
	})
	if err != nil {
		return "", err
	}

	return sha, nil
}

func (c *restClient) GetRef(ctx context.Context, owner, repo, branch string) (Ref, error) {
	var ref Ref

	err := c.do(ctx, "get ref", func(ctx context.Context) error {
		raw, resp, err := c.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
		if err != nil {
			if isNotFound(resp, err) {
				return ErrNotFound
			}
			return err
		}

		ref = Ref{Branch: branch, SHA: raw.GetObject().GetSHA()}
		return nil
	})
	if err != nil {
		return Ref{}, err
	}

	return ref, nil
}

func (c *restClient) CreateRef(ctx context.Context, owner, repo, branch, sha string) error {
	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(sha)},
	}

	return c.do(ctx, "create ref", func(ctx context.Context) error {
		_, _, err := c.client.Git.CreateRef(ctx, owner, repo, ref)
		return err
	})
}

// UpdateRef implements the compare-and-swap guard on top of the PATCH ref
// endpoint, which has no expected-SHA parameter of its own: the branch head is
// read and compared against expectedSHA immediately before a non-force update.
// A non-fast-forward rejection from the API is likewise mapped to
// *RefConflictError, so a concurrent push in the window between read and
// update still fails closed.
func (c *restClient) UpdateRef(ctx context.Context, owner, repo, branch, sha, expectedSHA string) error {
	current, err := c.GetRef(ctx, owner, repo, branch)
	if err != nil {
		return err
	}

	if current.SHA != expectedSHA {
		return &RefConflictError{Branch: branch, ExpectedSHA: expectedSHA, ActualSHA: current.SHA}
	}

	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(sha)},
	}

	err = c.do(ctx, "update ref", func(ctx context.Context) error {
		_, _, err := c.client.Git.UpdateRef(ctx, owner, repo, ref, false)
		return err
	})
	if err == nil {
		return nil
	}

	if isUnprocessable(err) {
		actual := ""
		if moved, readErr := c.GetRef(ctx, owner, repo, branch); readErr == nil {
			actual = moved.SHA
		}
		return &RefConflictError{Branch: branch, ExpectedSHA: expectedSHA, ActualSHA: actual}
	}

	// A timeout leaves the update ambiguous; resolve it with a follow-up read
	// rather than assuming either outcome.
	if errors.Is(err, context.DeadlineExceeded) {
		if confirmed, readErr := c.GetRef(ctx, owner, repo, branch); readErr == nil && confirmed.SHA == sha {
			return nil
		}
	}

	return err
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var githubErr *github.ErrorResponse
	if errors.As(err, &githubErr) {
		if githubErr.Response != nil && githubErr.Response.StatusCode == http.StatusNotFound {
			return true
		}
	}
	return false
}

func isUnprocessable(err error) bool {
	var githubErr *github.ErrorResponse
	if errors.As(err, &githubErr) {
		if githubErr.Response != nil && githubErr.Response.StatusCode == http.StatusUnprocessableEntity {
			return true
		}
	}
	return false
}

func classifyGitHubError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if isRetryableGitHubError(err) {
		return &retryableError{err: err}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response != nil {
			code := respErr.Response.StatusCode
			if code >= 400 && code <= 499 {
				return &PermanentAPIError{StatusCode: code, Body: respErr.Message, Err: err}
			}
		}
	}

	return err
}

func isRetryableGitHubError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return true
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response != nil {
			code := respErr.Response.StatusCode
			if code == http.StatusTooManyRequests || (code >= 500 && code <= 599) {
				return true
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	return false
}
