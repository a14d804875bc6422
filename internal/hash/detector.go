package hash

// Reason explains a sync decision.
type Reason string

const (
	ReasonNew       Reason = "new"
	ReasonChanged   Reason = "changed"
	ReasonForced    Reason = "forced"
	ReasonRetry     Reason = "retry"
	ReasonUnchanged Reason = "unchanged"
)

// NeedsWork reports whether the file must be re-chunked and re-embedded.
func (r Reason) NeedsWork() bool {
	return r != ReasonUnchanged
}

// Prior is what the store remembers about a file from the last pass.
type Prior struct {
	Hash Fingerprint
	// Healthy is false when the last pass failed or never finished.
	Healthy bool
}

// Decide compares a file's current fingerprint with its prior state.
// A nil prior means the file has never been seen.
func Decide(prior *Prior, current Fingerprint, force bool) Reason {
	switch {
	case force:
		return ReasonForced
	case prior == nil:
		return ReasonNew
	case !prior.Healthy:
		return ReasonRetry
	case !Equal(prior.Hash, current):
		return ReasonChanged
	default:
		return ReasonUnchanged
	}
}
