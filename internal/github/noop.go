package gh

import (
	"context"
	"fmt"
)

// NewNoopFactory returns a Factory that builds noop clients.
func NewNoopFactory() Factory {
	return noopFactory{}
}

type noopFactory struct{}

func (noopFactory) New(ctx context.Context, token string) (Client, error) {
	return noopClient{}, nil
}

type noopClient struct{}

func (noopClient) GetRepository(ctx context.Context, owner, repo string) (RepositoryInfo, error) {
	return RepositoryInfo{}, fmt.Errorf("noop github client not implemented")
}

func (noopClient) GetCommit(ctx context.Context, owner, repo, sha string) (CommitInfo, error) {
	return CommitInfo{}, fmt.Errorf("noop github client not implemented")
}

func (noopClient) ListCommitFiles(ctx context.Context, owner, repo, sha string) ([]CommitFile, error) {
	return nil, fmt.Errorf("noop github client not implemented")
}

func (noopClient) GetCommitPatch(ctx context.Context, owner, repo, sha string) (string, error) {
	return "", fmt.Errorf("noop github client not implemented")
}

func (noopClient) ListBranches(ctx context.Context, owner, repo string) ([]string, error) {
	return nil, fmt.Errorf("noop github client not implemented")
}

func (noopClient) GetBlob(ctx context.Context, owner, repo, sha string) (Blob, error) {
	return Blob{}, fmt.Errorf("noop github client not implemented")
}

func (noopClient) CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error) {
	return "", fmt.Errorf("noop github client not implemented")
}

func (noopClient) GetTree(ctx context.Context, owner, repo, sha string, recursive bool) (Tree, error) {
	return Tree{}, fmt.Errorf("noop github client not implemented")
}

func (noopClient) CreateTree(ctx context.Context, owner, repo, baseTreeSHA string, entries []NewTreeEntry) (Tree, error) {
	return Tree{}, fmt.Errorf("noop github client not implemented")
}

func (noopClient) CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error) {
	return "", fmt.Errorf("noop github client not implemented")
}

func (noopClient) GetRef(ctx context.Context, owner, repo, branch string) (Ref, error) {
	return Ref{}, fmt.Errorf("noop github client not implemented")
}

func (noopClient) CreateRef(ctx context.Context, owner, repo, branch, sha string) error {
	return fmt.Errorf("noop github client not implemented")
}

func (noopClient) UpdateRef(ctx context.Context, owner, repo, branch, sha, expectedSHA string) error {
	return fmt.Errorf("noop github client not implemented")
}
