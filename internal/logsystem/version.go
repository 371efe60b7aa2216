package logsystem

import "math"

// Version is a monotonically increasing value assigned by the master to a
// commit batch. A version is "durable" once it is guaranteed to survive any
// failure pattern the configured replication policy tolerates.
type Version int64

// InvalidVersion marks an unset version field (e.g. a LogSet with no start
// version assigned yet).
const InvalidVersion Version = -1

// MaxVersion is a sentinel meaning "the end of time", used by peek callers
// that want to read through the current epoch's end.
const MaxVersion Version = math.MaxInt64

func maxVersion(a, b Version) Version {
	if a > b {
		return a
	}
	return b
}

func minVersion(a, b Version) Version {
	if a < b {
		return a
	}
	return b
}
