package export_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/commitgate/commitgate/internal/commit"
	"github.com/commitgate/commitgate/internal/export"
)

var _ = Describe("Coordinator", func() {
	var (
		ctx    context.Context
		client *fakeGHClient
		coord  *export.Coordinator
		repo   commit.RepositoryID
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newFakeRepo()
		coord = export.NewCoordinator(export.NewExporter(client, nil), nil)
		repo = commit.RepositoryID{Owner: "rancher", Name: "rke2"}
	})

	expectInvalidBeforeNetwork := func(err error) {
		var invalid *export.InvalidRequestError
		Expect(err).To(BeAssignableToTypeOf(invalid))
		Expect(client.createdBlobs).To(BeEmpty())
		Expect(client.createdTrees).To(BeEmpty())
		Expect(client.createdCommits).To(BeEmpty())
		Expect(client.createdRefs).To(BeEmpty())
		Expect(client.updatedRefs).To(BeEmpty())
	}

	Describe("request validation", func() {
		It("rejects an existing-branch export without a target branch", func() {
			_, err := coord.ExportToExistingBranch(ctx, export.Request{Repository: repo, SourceSHA: sourceSHA})
			expectInvalidBeforeNetwork(err)
		})

		It("rejects an existing-branch export that also names a new branch", func() {
			_, err := coord.ExportToExistingBranch(ctx, export.Request{
				Repository:    repo,
				SourceSHA:     sourceSHA,
				TargetBranch:  "release",
				NewBranchName: "exports/fix",
			})
			expectInvalidBeforeNetwork(err)
		})

		It("rejects a new-branch export without a branch name", func() {
			_, err := coord.ExportToNewBranch(ctx, export.Request{Repository: repo, SourceSHA: sourceSHA, BaseRef: "release"})
			expectInvalidBeforeNetwork(err)
		})

		It("rejects a new-branch export without a base ref", func() {
			_, err := coord.ExportToNewBranch(ctx, export.Request{Repository: repo, SourceSHA: sourceSHA, NewBranchName: "exports/fix"})
			expectInvalidBeforeNetwork(err)
		})

		It("rejects a new-branch export that also names a target branch", func() {
			_, err := coord.ExportToNewBranch(ctx, export.Request{
				Repository:    repo,
				SourceSHA:     sourceSHA,
				TargetBranch:  "release",
				NewBranchName: "exports/fix",
				BaseRef:       "release",
			})
			expectInvalidBeforeNetwork(err)
		})
	})

	It("runs an existing-branch export end to end", func() {
		result, err := coord.ExportToExistingBranch(ctx, export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.BranchName).To(Equal("release"))
		Expect(client.refs["release"]).To(Equal(result.NewCommitSHA))
	})

	It("sanitizes the requested new branch name before use", func() {
		result, err := coord.ExportToNewBranch(ctx, export.Request{
			Repository:    repo,
			SourceSHA:     sourceSHA,
			NewBranchName: "Fix Stuff!!",
			BaseRef:       "release",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.BranchName).To(Equal("fix-stuff"))
		Expect(client.createdRefs).To(HaveLen(1))
		Expect(client.createdRefs[0].branch).To(Equal("fix-stuff"))
	})

	It("returns BranchMovedError unwrapped for the caller to act on", func() {
		client.movedRefs["release"] = "dddddddddddddddddddddddddddddddddddddddd"

		_, err := coord.ExportToExistingBranch(ctx, export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"})

		var moved *export.BranchMovedError
		Expect(err).To(BeAssignableToTypeOf(moved))
	})

	It("wraps other failures with the repository and branch", func() {
		client.files[sourceSHA] = nil

		_, err := coord.ExportToExistingBranch(ctx, export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("export rancher/rke2 to release"))

		var store *export.ObjectStoreError
		Expect(errors.As(err, &store)).To(BeTrue())
	})

	It("enforces the export deadline", func() {
		coord.Deadline = time.Nanosecond

		_, err := coord.ExportToExistingBranch(ctx, export.Request{Repository: repo, SourceSHA: sourceSHA, TargetBranch: "release"})
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())

		Expect(client.refs["release"]).To(Equal(baseSHA), "an expired deadline must leave the ref untouched")
	})
})
