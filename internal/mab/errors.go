package mab

import "errors"

// errNoCandidates is returned by SelectBest when called with no candidate
// paths; the orchestrator treats this as a signal to fall back to
// conservative_fallback rather than propagating it to the caller verbatim.
var errNoCandidates = errors.New("mab: no candidate paths to select from")
