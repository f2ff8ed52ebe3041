package busmodel

// MonitorState is one observation of a target process's liveness, as read
// from its /proc entry.
type MonitorState struct {
	Alive         bool
	CoreDumping   bool
	RSSKiB        int64
	InitialRSSKiB int64
	SoftLimitKiB  int64
}

// DefaultSoftLimitKiB computes the default soft RSS limit for a freshly
// observed process: three times its initial RSS.
func DefaultSoftLimitKiB(initialRSSKiB int64) int64 {
	return 3 * initialRSSKiB
}

// NormalizeSoftLimitKiB validates a user-supplied soft limit: a limit below
// the initial RSS is nonsensical (the process would start in Warning state),
// so it is discarded in favor of the default.
func NormalizeSoftLimitKiB(userSuppliedKiB, initialRSSKiB int64) int64 {
	if userSuppliedKiB >= initialRSSKiB {
		return userSuppliedKiB
	}
	return DefaultSoftLimitKiB(initialRSSKiB)
}

// ExceedsSoftLimit reports whether m's RSS has reached its soft limit. The
// check is skipped entirely while the process is mid-core-dump, since RSS
// readings during a core dump are not comparable to steady-state readings.
func (m MonitorState) ExceedsSoftLimit() bool {
	if m.CoreDumping {
		return false
	}
	return m.RSSKiB >= m.SoftLimitKiB
}
