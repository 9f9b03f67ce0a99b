package export_test

import (
	"context"
	"fmt"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/commitgate/commitgate/internal/commit"
	"github.com/commitgate/commitgate/internal/export"
	gh "github.com/commitgate/commitgate/internal/github"
)

const (
	sourceSHA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	baseSHA   = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type treeCall struct {
	baseTree string
	entries  []gh.NewTreeEntry
}

type commitCall struct {
	message string
	treeSHA string
	parents []string
}

type refCall struct {
	branch      string
	sha         string
	expectedSHA string
}

// fakeGHClient is an in-memory object store: created blobs, trees, and
// commits are readable back so the exporter's post-composition verification
// sees consistent state.
type fakeGHClient struct {
	mu sync.Mutex

	commits map[string]gh.CommitInfo
	trees   map[string]gh.Tree
	blobs   map[string]gh.Blob
	files   map[string][]gh.CommitFile
	refs    map[string]string

	// movedRefs simulates a concurrent push: UpdateRef observes this head
	// instead of the one handed out at resolve time.
	movedRefs map[string]string

	createdBlobs   [][]byte
	createdTrees   []treeCall
	createdCommits []commitCall
	createdRefs    []refCall
	updatedRefs    []refCall

	onCreateCommit func()
}

func (f *fakeGHClient) GetRepository(context.Context, string, string) (gh.RepositoryInfo, error) {
	return gh.RepositoryInfo{}, nil
}

func (f *fakeGHClient) GetCommit(_ context.Context, _, _, sha string) (gh.CommitInfo, error) {
	info, ok := f.commits[sha]
	if !ok {
		return gh.CommitInfo{}, gh.ErrNotFound
	}
	return info, nil
}

func (f *fakeGHClient) ListCommitFiles(_ context.Context, _, _, sha string) ([]gh.CommitFile, error) {
	return f.files[sha], nil
}

func (f *fakeGHClient) GetCommitPatch(context.Context, string, string, string) (string, error) {
	return "", gh.ErrNotFound
}

func (f *fakeGHClient) ListBranches(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (f *fakeGHClient) GetBlob(_ context.Context, _, _, sha string) (gh.Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.blobs[sha]
	if !ok {
		return gh.Blob{}, gh.ErrNotFound
	}
	return blob, nil
}

func (f *fakeGHClient) CreateBlob(_ context.Context, _, _ string, content []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdBlobs = append(f.createdBlobs, content)
	sha := fmt.Sprintf("copied-blob-%d", len(f.createdBlobs))
	f.blobs[sha] = gh.Blob{SHA: sha, Content: content}
	return sha, nil
}

func (f *fakeGHClient) GetTree(_ context.Context, _, _, sha string, _ bool) (gh.Tree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tree, ok := f.trees[sha]
	if !ok {
		return gh.Tree{}, gh.ErrNotFound
	}
	return tree, nil
}

// CreateTree composes the base tree with the entry deltas the way the real
// endpoint does: a nil SHA removes the path, anything else sets it.
func (f *fakeGHClient) CreateTree(_ context.Context, _, _ string, baseTreeSHA string, entries []gh.NewTreeEntry) (gh.Tree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createdTrees = append(f.createdTrees, treeCall{baseTree: baseTreeSHA, entries: entries})

	byPath := map[string]gh.TreeEntry{}
	for _, entry := range f.trees[baseTreeSHA].Entries {
		byPath[entry.Path] = entry
	}
	for _, entry := range entries {
		if entry.SHA == nil {
			delete(byPath, entry.Path)
			continue
		}
		mode := entry.Mode
		if mode == "" {
			mode = "100644"
		}
		byPath[entry.Path] = gh.TreeEntry{Path: entry.Path, Mode: mode, Type: "blob", SHA: *entry.SHA}
	}

	composed := gh.Tree{SHA: fmt.Sprintf("composed-tree-%d", len(f.createdTrees))}
	for _, entry := range byPath {
		composed.Entries = append(composed.Entries, entry)
	}
	f.trees[composed.SHA] = composed
	return composed, nil
}

func (f *fakeGHClient) CreateCommit(_ context.Context, _, _ string, message, treeSHA string, parents []string) (string, error) {
	f.mu.Lock()
	f.createdCommits = append(f.createdCommits, commitCall{message: message, treeSHA: treeSHA, parents: parents})
	sha := strings.Repeat("c", 32) + fmt.Sprintf("%08d", len(f.createdCommits))
	f.commits[sha] = gh.CommitInfo{SHA: sha, TreeSHA: treeSHA, Parents: parents, Message: message}
	f.mu.Unlock()

	if f.onCreateCommit != nil {
		f.onCreateCommit()
	}
	return sha, nil
}

func (f *fakeGHClient) GetRef(_ context.Context, _, _, branch string) (gh.Ref, error) {
	sha, ok := f.refs[branch]
	if !ok {
		return gh.Ref{}, gh.ErrNotFound
	}
	return gh.Ref{Branch: branch, SHA: sha}, nil
}

func (f *fakeGHClient) CreateRef(_ context.Context, _, _, branch, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdRefs = append(f.createdRefs, refCall{branch: branch, sha: sha})
	f.refs[branch] = sha
	return nil
}

func (f *fakeGHClient) UpdateRef(_ context.Context, _, _, branch, sha, expectedSHA string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updatedRefs = append(f.updatedRefs, refCall{branch: branch, sha: sha, expectedSHA: expectedSHA})

	current := f.refs[branch]
	if moved, ok := f.movedRefs[branch]; ok {
		current = moved
	}
	if current != expectedSHA {
		return &gh.RefConflictError{Branch: branch, ExpectedSHA: expectedSHA, ActualSHA: current}
	}
	f.refs[branch] = sha
	return nil
}

// newFakeRepo seeds a repository whose release branch holds pkg/a.go and
// docs/old.md, and whose source commit modifies pkg/a.go, adds pkg/b.go, and
// removes docs/old.md.
func newFakeRepo() *fakeGHClient {
	return &fakeGHClient{
		commits: map[string]gh.CommitInfo{
			baseSHA: {SHA: baseSHA, TreeSHA: "base-tree"},
			sourceSHA: {
				SHA:     sourceSHA,
				TreeSHA: "source-tree",
				Message: "Fix race in watcher\n\nLonger explanation below the fold.",
			},
		},
		trees: map[string]gh.Tree{
			"base-tree": {SHA: "base-tree", Entries: []gh.TreeEntry{
				{Path: "pkg/a.go", Mode: "100644", Type: "blob", SHA: "blob-a-v1"},
				{Path: "docs/old.md", Mode: "100644", Type: "blob", SHA: "blob-old"},
			}},
			"source-tree": {SHA: "source-tree", Entries: []gh.TreeEntry{
				{Path: "pkg/a.go", Mode: "100644", Type: "blob", SHA: "blob-a-v2"},
				{Path: "pkg/b.go", Mode: "100644", Type: "blob", SHA: "blob-b"},
			}},
		},
		blobs: map[string]gh.Blob{
			"blob-a-v2": {SHA: "blob-a-v2", Content: []byte("package pkg // v2\n")},
			"blob-b":    {SHA: "blob-b", Content: []byte("package pkg // new\n")},
		},
		files: map[string][]gh.CommitFile{
			sourceSHA: {
				{Path: "pkg/a.go", Status: "modified"},
				{Path: "pkg/b.go", Status: "added"},
				{Path: "docs/old.md", Status: "removed"},
			},
		},
		refs:      map[string]string{"release": baseSHA},
		movedRefs: map[string]string{},
	}
}

var _ = Describe("Exporter", func() {
	var (
		ctx    context.Context
		client *fakeGHClient
		repo   commit.RepositoryID
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newFakeRepo()
		repo = commit.RepositoryID{Owner: "rancher", Name: "rke2"}
	})

	newExporter := func() *export.Exporter {
		return export.NewExporter(client, nil)
	}

	Describe("exporting to an existing branch", func() {
		req := func() export.Request {
			return export.Request{Repository: commit.RepositoryID{Owner: "rancher", Name: "rke2"}, SourceSHA: sourceSHA, TargetBranch: "release"}
		}

		It("produces a single-parent commit on top of the branch head", func() {
			result, err := newExporter().Export(ctx, req())
			Expect(err).NotTo(HaveOccurred())

			Expect(result.BranchName).To(Equal("release"))
			Expect(result.UpdatedFromSHA).To(Equal(baseSHA))
			Expect(result.NewCommitSHA).NotTo(BeEmpty())

			Expect(client.createdCommits).To(HaveLen(1))
			Expect(client.createdCommits[0].parents).To(Equal([]string{baseSHA}))
			Expect(client.createdCommits[0].message).To(Equal("Cherry-pick: aaaaaaaa - Fix race in watcher"))
		})

		It("submits only the changed paths as tree deltas", func() {
			_, err := newExporter().Export(ctx, req())
			Expect(err).NotTo(HaveOccurred())

			Expect(client.createdTrees).To(HaveLen(1))
			call := client.createdTrees[0]
			Expect(call.baseTree).To(Equal("base-tree"))
			Expect(call.entries).To(HaveLen(3))

			byPath := map[string]gh.NewTreeEntry{}
			for _, entry := range call.entries {
				byPath[entry.Path] = entry
			}
			Expect(byPath["pkg/a.go"].SHA).NotTo(BeNil())
			Expect(byPath["pkg/b.go"].SHA).NotTo(BeNil())
			Expect(byPath["docs/old.md"].SHA).To(BeNil(), "removal must be a nil-sha delta")
		})

		It("copies each changed file's content into fresh blobs", func() {
			_, err := newExporter().Export(ctx, req())
			Expect(err).NotTo(HaveOccurred())

			Expect(client.createdBlobs).To(HaveLen(2))
			Expect(client.createdBlobs).To(ContainElement([]byte("package pkg // v2\n")))
			Expect(client.createdBlobs).To(ContainElement([]byte("package pkg // new\n")))
		})

		It("advances the ref under the compare-and-swap guard", func() {
			result, err := newExporter().Export(ctx, req())
			Expect(err).NotTo(HaveOccurred())

			Expect(client.createdRefs).To(BeEmpty())
			Expect(client.updatedRefs).To(HaveLen(1))
			Expect(client.updatedRefs[0].expectedSHA).To(Equal(baseSHA))
			Expect(client.refs["release"]).To(Equal(result.NewCommitSHA))
		})

		It("reports BranchMovedError when the head moved mid-export", func() {
			client.movedRefs["release"] = "dddddddddddddddddddddddddddddddddddddddd"

			_, err := newExporter().Export(ctx, req())

			var moved *export.BranchMovedError
			Expect(err).To(BeAssignableToTypeOf(moved))
			moved = err.(*export.BranchMovedError)
			Expect(moved.Branch).To(Equal("release"))
			Expect(moved.ExpectedSHA).To(Equal(baseSHA))
			Expect(moved.ActualSHA).To(Equal("dddddddddddddddddddddddddddddddddddddddd"))

			Expect(client.refs["release"]).To(Equal(baseSHA), "a lost race must leave the ref untouched")
		})

		It("re-running after a lost race observes the conflict again", func() {
			client.movedRefs["release"] = "dddddddddddddddddddddddddddddddddddddddd"

			_, first := newExporter().Export(ctx, req())
			_, second := newExporter().Export(ctx, req())

			var moved *export.BranchMovedError
			Expect(first).To(BeAssignableToTypeOf(moved))
			Expect(second).To(BeAssignableToTypeOf(moved))
			Expect(client.updatedRefs).To(HaveLen(2))
		})

		It("honors cancellation raised before the ref step", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			client.onCreateCommit = cancel

			_, err := newExporter().Export(cancelCtx, req())

			var transient *export.TransientError
			Expect(err).To(BeAssignableToTypeOf(transient))
			Expect(client.updatedRefs).To(BeEmpty())
			Expect(client.createdRefs).To(BeEmpty())
			Expect(client.refs["release"]).To(Equal(baseSHA))
		})
	})

	Describe("path conflicts", func() {
		expectConflict := func(req export.Request, pathFragment string) {
			_, err := newExporter().Export(ctx, req)

			var conflict *export.PathConflictError
			Expect(err).To(BeAssignableToTypeOf(conflict))
			Expect(err.Error()).To(ContainSubstring(pathFragment))

			Expect(client.createdBlobs).To(BeEmpty())
			Expect(client.createdTrees).To(BeEmpty())
			Expect(client.createdCommits).To(BeEmpty())
			Expect(client.updatedRefs).To(BeEmpty())
		}

		It("rejects adding a file that already exists on the target", func() {
			client.files[sourceSHA] = []gh.CommitFile{{Path: "pkg/a.go", Status: "added"}}
			expectConflict(export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"}, "pkg/a.go")
		})

		It("rejects modifying a file absent from the target", func() {
			client.files[sourceSHA] = []gh.CommitFile{{Path: "pkg/missing.go", Status: "modified"}}
			expectConflict(export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"}, "pkg/missing.go")
		})

		It("rejects removing a file absent from the target", func() {
			client.files[sourceSHA] = []gh.CommitFile{{Path: "pkg/missing.go", Status: "removed"}}
			expectConflict(export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"}, "pkg/missing.go")
		})

		It("rejects a rename whose previous path is absent from the target", func() {
			client.files[sourceSHA] = []gh.CommitFile{{Path: "pkg/b.go", Status: "renamed", PreviousPath: "pkg/gone.go"}}
			expectConflict(export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"}, "pkg/gone.go")
		})
	})

	Describe("exporting to a new branch", func() {
		It("cuts the branch from a base branch head", func() {
			req := export.Request{Repository: repo, SourceSHA: sourceSHA, NewBranchName: "exports/fix", BaseRef: "release"}

			result, err := newExporter().Export(ctx, req)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.BranchName).To(Equal("exports/fix"))
			Expect(client.updatedRefs).To(BeEmpty())
			Expect(client.createdRefs).To(HaveLen(1))
			Expect(client.createdRefs[0].branch).To(Equal("exports/fix"))
			Expect(client.refs["exports/fix"]).To(Equal(result.NewCommitSHA))
			Expect(client.refs["release"]).To(Equal(baseSHA), "the base branch must not move")
		})

		It("accepts a commit identifier as the base ref", func() {
			req := export.Request{Repository: repo, SourceSHA: sourceSHA, NewBranchName: "exports/fix", BaseRef: baseSHA}

			result, err := newExporter().Export(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.UpdatedFromSHA).To(Equal(baseSHA))
			Expect(client.createdRefs).To(HaveLen(1))
		})
	})

	Describe("failure classification", func() {
		It("rejects a source commit with no file changes", func() {
			client.files[sourceSHA] = nil

			_, err := newExporter().Export(ctx, export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"})

			var store *export.ObjectStoreError
			Expect(err).To(BeAssignableToTypeOf(store))
			Expect(err.Error()).To(ContainSubstring("changes no files"))
		})

		It("rejects a truncated base tree listing", func() {
			tree := client.trees["base-tree"]
			tree.Truncated = true
			client.trees["base-tree"] = tree

			_, err := newExporter().Export(ctx, export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"})

			var store *export.ObjectStoreError
			Expect(err).To(BeAssignableToTypeOf(store))
			Expect(err.Error()).To(ContainSubstring("truncated"))
		})

		It("rejects a malformed source sha before any network call", func() {
			_, err := newExporter().Export(ctx, export.Request{Repository: repo, SourceSHA: "not-hex", TargetBranch: "release"})

			var invalid *commit.InvalidSHAError
			Expect(err).To(BeAssignableToTypeOf(invalid))
			Expect(client.createdBlobs).To(BeEmpty())
		})

		It("rejects a request naming both target modes", func() {
			_, err := newExporter().Export(ctx, export.Request{
				Repository:    repo,
				SourceSHA:     sourceSHA,
				TargetBranch:  "release",
				NewBranchName: "exports/fix",
				BaseRef:       "release",
			})

			var invalid *export.InvalidRequestError
			Expect(err).To(BeAssignableToTypeOf(invalid))
		})
	})
})
