package export

import (
	"fmt"
)

// InvalidRequestError reports caller misuse detected before any network call.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid export request: %s", e.Reason)
}

// BranchMovedError reports a compare-and-swap mismatch: the target branch
// advanced between resolving its head and updating the ref. The export is not
// retried automatically; the caller should re-run it against the new head.
type BranchMovedError struct {
	Branch      string
	ExpectedSHA string
	ActualSHA   string
}

func (e *BranchMovedError) Error() string {
	return fmt.Sprintf("branch %s moved from %s to %s during export; re-run the export against the new head",
		e.Branch, e.ExpectedSHA, e.ActualSHA)
}

// PathConflictError reports that the source commit's changes no longer fit
// the target tree's shape. Overlapping edits are a hard failure, never a
// best-effort merge.
type PathConflictError struct {
	Path   string
	Reason string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("path conflict at %s: %s", e.Path, e.Reason)
}

// ObjectStoreError wraps a permanent upstream rejection during object
// composition.
type ObjectStoreError struct {
	Op  string
	Err error
}

func (e *ObjectStoreError) Error() string {
	return fmt.Sprintf("object store: %s: %v", e.Op, e.Err)
}

func (e *ObjectStoreError) Unwrap() error {
	return e.Err
}

// TransientError reports an exhausted retry budget or an expired deadline.
// Retrying the whole export later is safe: no ref was touched.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
