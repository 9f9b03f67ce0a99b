package gh

import (
	"regexp"
	"strings"
	"testing"
)

func TestBranchNameForExport(t *testing.T) {
	cases := []struct {
		name       string
		target     string
		shortSHA   string
		opts       []BranchNamingOptions
		expect     string
		maxLen     int
		expectHash bool
	}{
		{
			name:     "simple",
			target:   "release/v0.25",
			shortSHA: "abc12345",
			expect:   "export/release/v0.25/abc12345",
		},
		{
			name:     "multiple slashes in branch name",
			target:   "release/v2.9/security",
			shortSHA: "deadbeef",
			expect:   "export/release/v2.9/security/deadbeef",
		},
		{
			name:     "branch with trailing slash",
			target:   "release/v0.25/",
			shortSHA: "abc12345",
			expect:   "export/release/v0.25/abc12345",
		},
		{
			name:     "uppercase and spaces",
			target:   "Release / V0.26",
			shortSHA: "ABC12345",
			expect:   "export/release/v0.26/abc12345",
		},
		{
			name:     "disallowed characters replaced",
			target:   "release@v0#27",
			shortSHA: "abc12345",
			expect:   "export/release-v0-27/abc12345",
		},
		{
			name:     "empty target replaced",
			target:   " ",
			shortSHA: "abc12345",
			expect:   "export/target/abc12345",
		},
		{
			name:     "empty sha replaced",
			target:   "main",
			shortSHA: "",
			expect:   "export/main/commit",
		},
		{
			name:       "extremely long target truncated with hash",
			target:     strings.Repeat("release-", 10) + "v1",
			shortSHA:   "abc12345",
			maxLen:     63,
			expectHash: true,
		},
		{
			name:     "custom options",
			target:   "Release-Branch",
			shortSHA: "abc12345",
			opts: []BranchNamingOptions{{
				Prefix:     "custom",
				MaxLength:  40,
				HashLength: 6,
			}},
			maxLen: 40,
		},
	}

	hashSuffixPattern := regexp.MustCompile(`-[0-9a-f]{6,8}$`)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			branch := BranchNameForExport(tc.target, tc.shortSHA, tc.opts...)

			if tc.expect != "" {
				if branch != tc.expect {
					t.Fatalf("expected %q, got %q", tc.expect, branch)
				}
				return
			}

			limit := tc.maxLen
			if limit == 0 {
				limit = defaultBranchNaming.MaxLength
			}

			if len(branch) > limit {
				t.Fatalf("expected branch length <= %d, got %d (%q)", limit, len(branch), branch)
			}

			if !strings.HasSuffix(branch, "/abc12345") {
				t.Fatalf("expected branch to end with the sha segment, got %q", branch)
			}

			parts := strings.Split(branch, "/")
			if len(parts) != 3 {
				t.Fatalf("expected branch to have prefix/target/sha segments, got %q", branch)
			}

			if tc.expectHash {
				if !hashSuffixPattern.MatchString(parts[1]) {
					t.Fatalf("expected truncated target to end with hash suffix, got %q", parts[1])
				}
			}

			if len(tc.opts) > 0 {
				if !strings.HasPrefix(branch, "custom/") {
					t.Fatalf("expected custom prefix, got %q", branch)
				}
			}

			if branch != strings.ToLower(branch) {
				t.Fatalf("expected branch to be lowercase, got %q", branch)
			}
		})
	}
}

func TestSanitizeBranchName(t *testing.T) {
	cases := []struct {
		in     string
		expect string
	}{
		{"feature/my branch", "feature/my-branch"},
		{"Hotfix!!", "hotfix"},
		{"--weird--", "weird"},
		{"a//b", "a/b"},
		{"", "target"},
	}

	for _, tc := range cases {
		if got := SanitizeBranchName(tc.in); got != tc.expect {
			t.Fatalf("SanitizeBranchName(%q) = %q, want %q", tc.in, got, tc.expect)
		}
	}
}
