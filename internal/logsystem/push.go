package logsystem

import (
	"context"
	"errors"
	"log/slog"
)

// pushLocationCache remembers the last getPushLocations result keyed by the
// identity of the tag slice passed in, so a commit proxy that calls
// getPushLocations and then Push with the same tag slice does not pay for
// recomputing per-set offsets twice in the same commit. This mirrors the
// original's practice of precomputing push locations once per commit batch
// and reusing them (see SPEC_FULL.md's supplemented-features section).
type pushLocationCache struct {
	lastTags      []Tag
	lastLocations PushLocations
}

// PushLocations maps each local LogSet, and within it each server, to the
// tags that server must receive for a given push.
type PushLocations struct {
	PerSet [][][]Tag // PerSet[setIndex][serverIndex] = tags
}

// getPushLocations concatenates each local set's per-server tag mapping.
// Results are cached by slice identity: calling it twice with the exact
// same []Tag value (same proxy-computed slice) skips recomputation.
func (ls *LogSystem) getPushLocations(tags []Tag) PushLocations {
	ls.pushCacheMu.Lock()
	defer ls.pushCacheMu.Unlock()

	if sameTagSlice(ls.pushCache.lastTags, tags) {
		return ls.pushCache.lastLocations
	}

	locs := PushLocations{PerSet: make([][][]Tag, 0, len(ls.logSets))}
	for _, set := range ls.logSets {
		if !set.IsLocal {
			continue
		}
		locs.PerSet = append(locs.PerSet, set.getPushLocationsFor(tags))
	}

	ls.pushCache.lastTags = tags
	ls.pushCache.lastLocations = locs
	return locs
}

func sameTagSlice(a, b []Tag) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	return &a[0] == &b[0]
}

// Push replicates a commit batch to every local LogSet concurrently,
// succeeding only once each set has reached its write quorum (N-A acks).
func (ls *LogSystem) Push(ctx context.Context, prevVersion, version, knownCommitted Version, data []byte, debugID string) error {
	locations := ls.getPushLocations(ls.allTags)

	localSets := make([]*LogSet, 0, len(ls.logSets))
	for _, set := range ls.logSets {
		if set.IsLocal && len(set.LogServers) > 0 {
			localSets = append(localSets, set)
		}
	}

	if len(localSets) == 0 {
		return nil
	}

	errCh := make(chan error, len(localSets))
	for i, set := range localSets {
		set := set
		perServer := locations.PerSet[i]
		go func() {
			errCh <- ls.pushToSet(ctx, set, perServer, prevVersion, version, knownCommitted, data, debugID)
		}()
	}

	var firstErr error
	for range localSets {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pushToSet sends a commit to every server in set in parallel and declares
// the set committed once at least N-A servers have acknowledged.
func (ls *LogSystem) pushToSet(ctx context.Context, set *LogSet, perServer [][]Tag, prevVersion, version, knownCommitted Version, data []byte, debugID string) error {
	n := len(set.LogServers)
	needed := n - set.AntiQuorum
	if needed < 1 {
		needed = 1
	}

	futures := make([]*Future[TLogCommitReply], n)
	for i, h := range set.LogServers {
		h := h
		f, settle := NewFuture[TLogCommitReply]()
		futures[i] = f

		go func() {
			iface, present := h.Get()
			if !present {
				settle(TLogCommitReply{}, ErrBrokenPromise)
				return
			}
			client, err := ls.dialer.Dial(iface)
			if err != nil {
				settle(TLogCommitReply{}, err)
				return
			}
			reply, err := client.Commit(ctx, TLogCommitRequest{
				PrevVersion:    prevVersion,
				Version:        version,
				KnownCommitted: knownCommitted,
				Messages:       data,
				DebugID:        debugID,
			})
			settle(reply, err)
		}()
	}

	_, err := quorum(ctx, futures, needed)
	if err != nil {
		mapped := mapPushError(err)
		if mapped != nil {
			slog.Error("push: set failed to reach quorum", "locality", set.Locality, "needed", needed, "n", n, "error", mapped)
		}
		return mapped
	}
	return nil
}

// mapPushError translates a commit failure per §4.1/§7: broken promises
// become MasterTLogFailed, TLogStopped and cancellation are silent,
// anything else is returned unchanged for the caller to log and rethrow.
func mapPushError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBrokenPromise) {
		return ErrMasterTLogFailed
	}
	if errors.Is(err, ErrTLogStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
