package commit

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	gh "github.com/commitgate/commitgate/internal/github"
)

// RepositoryID identifies a repository by its owner/name pair.
type RepositoryID struct {
	Owner string
	Name  string
}

func (r RepositoryID) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// ParseRepository accepts "owner/name" or a full GitHub URL and returns the
// normalized RepositoryID.
func ParseRepository(raw string) (RepositoryID, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimSuffix(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		parts := strings.Split(trimmed, "/")
		if len(parts) < 2 {
			return RepositoryID{}, fmt.Errorf("parse repository %q: not an owner/name URL", raw)
		}
		trimmed = parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepositoryID{}, fmt.Errorf("parse repository %q: expected owner/name", raw)
	}

	return RepositoryID{Owner: parts[0], Name: parts[1]}, nil
}

// SignatureStatus is the tri-state signature outcome reported by the API.
type SignatureStatus string

const (
	SignatureVerified   SignatureStatus = "verified"
	SignatureUnverified SignatureStatus = "unverified"
	SignatureAbsent     SignatureStatus = "absent"
)

// FileStatus classifies one file change within a commit.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileRemoved  FileStatus = "removed"
	FileRenamed  FileStatus = "renamed"
	FileCopied   FileStatus = "copied"
)

// Record is the normalized commit metadata produced by a fetch. It is
// immutable once built and is never cached across requests.
type Record struct {
	SHA         string
	Repository  RepositoryID
	Parents     []string
	AuthorName  string
	AuthorEmail string
	AuthoredAt  time.Time
	Message     string
	Signature   SignatureStatus
	TreeSHA     string
	HTMLURL     string
}

// ShortSHA returns the abbreviated commit identifier used in display output
// and generated commit messages.
func (r Record) ShortSHA() string {
	if len(r.SHA) < 8 {
		return r.SHA
	}
	return r.SHA[:8]
}

// FileChange is one per-file change record of a commit. The slice order
// follows the API response order and is not semantically meaningful.
type FileChange struct {
	Path          string
	Status        FileStatus
	Additions     int
	Deletions     int
	PreviousPath  string
	PatchFragment string
}

var shaPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// NormalizeSHA trims and lower-cases a user-supplied commit identifier and
// validates it against the abbreviated-or-full hex form. No network call is
// made for malformed input.
func NormalizeSHA(raw string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if !shaPattern.MatchString(normalized) {
		return "", &InvalidSHAError{Input: raw}
	}
	return normalized, nil
}

// IsFullSHA reports whether the identifier is a full 40-character SHA.
func IsFullSHA(sha string) bool {
	return len(sha) == 40 && shaPattern.MatchString(sha)
}

func signatureFromAPI(state gh.SignatureState) SignatureStatus {
	switch state {
	case gh.SignatureVerified:
		return SignatureVerified
	case gh.SignatureUnverified:
		return SignatureUnverified
	default:
		return SignatureAbsent
	}
}

func statusFromAPI(status string) FileStatus {
	switch status {
	case "added":
		return FileAdded
	case "removed":
		return FileRemoved
	case "renamed":
		return FileRenamed
	case "copied":
		return FileCopied
	default:
		// "modified", "changed", and anything the API introduces later are
		// treated as in-place edits.
		return FileModified
	}
}
