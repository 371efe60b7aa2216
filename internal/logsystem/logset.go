package logsystem

import "fmt"

// Policy is the black-box predicate over localities that a replication
// policy library would otherwise supply (spec Non-goals: the real
// locality/replication-policy library is an external collaborator). It is
// kept abstract here behind an interface so LogSet never depends on a
// concrete policy implementation.
type Policy interface {
	// Validate reports whether the given localities satisfy the policy.
	Validate(localities []Locality) bool

	// ValidateAllCombinations reports whether every combination of the
	// given localities with any k of them removed still satisfies the
	// policy. Used by getDurableVersion's anti-quorum failure check.
	ValidateAllCombinations(localities []Locality, removeCount int) bool
}

// TrivialPolicy treats any non-empty set of localities as satisfying the
// policy once at least minCount servers are present, ignoring locality
// values entirely. It is the simplest Policy that obeys the Policy
// contract and is useful as a default when no richer placement policy is
// configured.
type TrivialPolicy struct {
	MinCount int
}

func (p TrivialPolicy) Validate(localities []Locality) bool {
	return len(localities) >= p.MinCount
}

func (p TrivialPolicy) ValidateAllCombinations(localities []Locality, removeCount int) bool {
	return len(localities)-removeCount >= p.MinCount
}

// LogSet is one replica group: an ordered set of log-server handles, an
// ordered set of log-router handles, and the replication parameters that
// govern both push quorums and durable-version computation.
type LogSet struct {
	// LogServers is the ordered sequence of log-server handles. Index i
	// corresponds to TLogLocalities[i].
	LogServers []*ServerHandle

	// LogRouters is the ordered sequence of log-router handles, populated
	// lazily as remote recovery recruits them.
	LogRouters []*ServerHandle

	// ReplicationFactor (R) is the number of replicas required per commit.
	ReplicationFactor int

	// AntiQuorum (A) is the maximum number of replicas per commit that may
	// legitimately lag behind.
	AntiQuorum int

	// TLogPolicy is the placement policy over TLogLocalities.
	TLogPolicy Policy

	// TLogLocalities has one entry per LogServers slot.
	TLogLocalities []Locality

	// IsLocal is true for primary/satellite sets in this region, false for
	// remote sets reached only through log routers.
	IsLocal bool

	// HasBestPolicy is true when BestLocationForTag should be trusted to
	// pick a single preferred server rather than fanning out.
	HasBestPolicy bool

	// Locality is this set's role (Primary, Satellite, RemoteLog, ...).
	Locality Locality

	// StartVersion is the first version this set accepts commits for.
	StartVersion Version
}

// Validate checks the structural invariants every LogSet must hold:
// N >= R, A < R, and one locality per server.
func (s *LogSet) Validate() error {
	n := len(s.LogServers)
	if n < s.ReplicationFactor {
		return fmt.Errorf("logset: N=%d < R=%d", n, s.ReplicationFactor)
	}
	if s.AntiQuorum >= s.ReplicationFactor {
		return fmt.Errorf("logset: A=%d >= R=%d", s.AntiQuorum, s.ReplicationFactor)
	}
	if len(s.TLogLocalities) != n {
		return fmt.Errorf("logset: %d localities for %d servers", len(s.TLogLocalities), n)
	}
	return nil
}

// MatchesLocality reports whether this set may serve a tag carrying
// tagLocality: localities are equal, either side is Special, or this set
// is Upgraded.
func (s *LogSet) MatchesLocality(tagLocality Locality) bool {
	return localityCompatible(s.Locality, tagLocality, s.Locality == LocalityUpgraded)
}

// BestLocationForTag is the pure function from (tag, localities, policy)
// that picks the preferred server index for a tag, used by the peek
// routing functions when HasBestPolicy is set. It hashes the tag id over
// the server count; a richer placement policy would replace this, but the
// interface callers depend on is stable regardless.
func (s *LogSet) BestLocationForTag(tag Tag) (int, bool) {
	if len(s.LogServers) == 0 {
		return 0, false
	}
	idx := int(uint32(tag.ID)) % len(s.LogServers)
	return idx, true
}

// getPushLocationsFor returns, for each server index in this set, the
// subset of tags routed to it. A tag with Locality equal to this set's
// Locality, Special, or matching TxnSystem routes to BestLocationForTag's
// server when HasBestPolicy, otherwise to every server.
func (s *LogSet) getPushLocationsFor(tags []Tag) [][]Tag {
	perServer := make([][]Tag, len(s.LogServers))
	for _, t := range tags {
		if !s.MatchesLocality(t.Locality) && t.Locality != LocalityTxnSystem {
			continue
		}
		if s.HasBestPolicy {
			if idx, ok := s.BestLocationForTag(t); ok {
				perServer[idx] = append(perServer[idx], t)
			}
			continue
		}
		for i := range perServer {
			perServer[i] = append(perServer[i], t)
		}
	}
	return perServer
}
