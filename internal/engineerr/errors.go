// Package engineerr defines the sentinel errors for the handful of
// outcomes that are not resolved by a pipeline stage's own fallback:
// invariant violations and explicit cancellation. Every other failure mode
// (transient I/O, parse failures, missing collaborators) is an ordinary
// wrapped error returned by the collaborator that produced it — there is
// no sentinel for those because the engine never needs to branch on them,
// only log and fall back.
package engineerr

import "errors"

// ErrInvariantViolation marks a bug, not a runtime condition: a path
// without a template-derived strategy_id, a candidate set with duplicate
// instance IDs, or similar. It is the one case where the five-stage
// pipeline raises to its caller instead of falling back.
var ErrInvariantViolation = errors.New("engine: invariant violation")

// ErrCancelled is returned when a session-level cancellation aborts the
// pipeline between stages. It is a distinct outcome, never merged into
// transient I/O failure handling.
var ErrCancelled = errors.New("engine: decision cancelled")

// ErrNoCandidates is returned by collaborators asked to select among zero
// candidates; callers should treat it as an invariant violation upstream
// (path generation must never hand the selector an empty set).
var ErrNoCandidates = errors.New("engine: no candidates to select from")
