package logsystem

// OldLogData is an immutable snapshot of a previous generation: its
// LogSets, the count of log-router tags it carried, and the version at
// which that generation ended. The only permitted mutation after
// construction is (re)populating LogRouters on its sets during epoch
// start-up, since log routers for an old generation may be recruited
// lazily well after the generation itself has ended.
type OldLogData struct {
	LogSets       []*LogSet
	LogRouterTags int
	EpochEnd      Version
}

// logRouterSet returns the single set in this generation that carries log
// routers, if any. The spec asserts at most one per generation.
func (o *OldLogData) logRouterSet() *LogSet {
	for _, s := range o.LogSets {
		if len(s.LogRouters) > 0 {
			return s
		}
	}
	return nil
}

// bestMatch returns the first local set whose locality matches tagLocality
// (or which is Special/Upgraded) and carries HasBestPolicy.
func bestMatch(sets []*LogSet, tagLocality Locality, localOnly bool) *LogSet {
	for _, s := range sets {
		if localOnly && !s.IsLocal {
			continue
		}
		if !s.HasBestPolicy {
			continue
		}
		if s.MatchesLocality(tagLocality) {
			return s
		}
	}
	return nil
}
