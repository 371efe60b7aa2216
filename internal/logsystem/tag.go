package logsystem

import "fmt"

// Locality identifies which role a tag or LogSet plays in the system.
type Locality int32

const (
	LocalityInvalid Locality = -1
	LocalitySpecial Locality = -2
	LocalityUpgraded Locality = -3

	LocalityPrimary   Locality = 0
	LocalitySatellite Locality = 1
	LocalityRemoteLog Locality = 2
	LocalityLogRouter Locality = 3
	LocalityTxnSystem Locality = 4
)

func (l Locality) String() string {
	switch l {
	case LocalityInvalid:
		return "invalid"
	case LocalitySpecial:
		return "special"
	case LocalityUpgraded:
		return "upgraded"
	case LocalityPrimary:
		return "primary"
	case LocalitySatellite:
		return "satellite"
	case LocalityRemoteLog:
		return "remote"
	case LocalityLogRouter:
		return "log-router"
	case LocalityTxnSystem:
		return "txn-system"
	default:
		return fmt.Sprintf("locality(%d)", int32(l))
	}
}

// Tag is a (locality, id) pair identifying a logical channel. A tag routes
// to one or more log servers within a LogSet.
type Tag struct {
	Locality Locality
	ID       int32
}

func (t Tag) String() string {
	return fmt.Sprintf("%s/%d", t.Locality, t.ID)
}

// TxsTag is the special transaction-system tag. Unlike every other tag, a
// peek that runs off the end of known generations for TxsTag returns an
// empty cursor instead of failing with WorkerRemoved.
var TxsTag = Tag{Locality: LocalityTxnSystem, ID: 0}

// localityCompatible reports whether a LogSet carrying setLocality, possibly
// marked upgraded, may serve a tag with tagLocality. Either side being
// Special is a wildcard match, and an Upgraded set matches any tag.
func localityCompatible(setLocality, tagLocality Locality, upgraded bool) bool {
	if upgraded {
		return true
	}
	if setLocality == LocalitySpecial || tagLocality == LocalitySpecial {
		return true
	}
	return setLocality == tagLocality
}
