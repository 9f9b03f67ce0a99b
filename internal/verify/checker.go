// Package verify implements the legitimacy check pipeline over fetched
// commit metadata. Every check is a syntactic heuristic and the resulting
// verdict is advisory only: it never gates an export.
package verify

import (
	"strings"
	"time"

	"github.com/commitgate/commitgate/internal/commit"
)

// ClockSkewTolerance is how far into the future a commit timestamp may point
// before it is flagged invalid.
const ClockSkewTolerance = 5 * time.Minute

// placeholder author values that defeat the author-known heuristic.
var placeholderAuthors = map[string]struct{}{
	"":        {},
	"unknown": {},
	"none":    {},
	"nobody":  {},
}

// Report holds the four independent check outcomes for one commit. Signature
// carries the raw tri-state alongside the boolean so an unverified signature
// remains distinguishable from an absent one.
type Report struct {
	GPGSigned   bool
	Signature   commit.SignatureStatus
	AuthorKnown bool
	HasMessage  bool
	DateValid   bool
}

// Verdict is the logical AND of the four checks. Guidance only.
func (r Report) Verdict() bool {
	return r.GPGSigned && r.AuthorKnown && r.HasMessage && r.DateValid
}

// DateBounds is the window a plausible commit timestamp must fall into.
type DateBounds struct {
	Earliest time.Time
	Latest   time.Time
}

// BoundsAround derives the plausibility window from the repository creation
// time and the reference clock. A zero creation time falls back to one second
// past the epoch so epoch-zero timestamps are still flagged.
func BoundsAround(repoCreatedAt, now time.Time) DateBounds {
	earliest := repoCreatedAt
	if earliest.IsZero() {
		earliest = time.Unix(1, 0).UTC()
	}
	return DateBounds{Earliest: earliest, Latest: now.Add(ClockSkewTolerance)}
}

// Check evaluates a commit record against the legitimacy heuristics. It is a
// pure function: all inputs are explicit, so identical arguments always yield
// an identical Report.
func Check(rec commit.Record, bounds DateBounds) Report {
	return Report{
		GPGSigned:   rec.Signature == commit.SignatureVerified,
		Signature:   rec.Signature,
		AuthorKnown: authorKnown(rec.AuthorName, rec.AuthorEmail),
		HasMessage:  strings.TrimSpace(rec.Message) != "",
		DateValid:   dateValid(rec.AuthoredAt, bounds),
	}
}

func authorKnown(name, email string) bool {
	if isPlaceholder(name) || isPlaceholder(email) {
		return false
	}
	return strings.Contains(email, "@")
}

func isPlaceholder(value string) bool {
	_, ok := placeholderAuthors[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

func dateValid(authoredAt time.Time, bounds DateBounds) bool {
	if authoredAt.IsZero() {
		return false
	}
	if authoredAt.Before(bounds.Earliest) {
		return false
	}
	return !authoredAt.After(bounds.Latest)
}
