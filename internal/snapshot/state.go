package snapshot

// State is the cached resolution state for one script file.
//
// Loaded holds a snapshot that has been computed or retrieved but not
// yet accepted; Applied holds the snapshot currently considered
// authoritative. Applied == nil means the file was never successfully
// resolved; Loaded != nil with Applied == nil means a result is pending
// acceptance. OutOfDate is set by scope invalidation and cleared on the
// next apply; it never removes Applied data, so the previous good
// configuration stays usable until a fresh one is ready.
type State struct {
	Loaded    *Snapshot
	Applied   *Snapshot
	OutOfDate bool
}

// Resolved reports whether the file has an authoritative configuration.
func (s State) Resolved() bool {
	return s.Applied != nil
}

// Pending reports whether a loaded result awaits acceptance.
func (s State) Pending() bool {
	return s.Loaded != nil && s.Applied == nil
}
