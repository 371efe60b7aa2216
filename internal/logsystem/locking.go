package logsystem

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"
)

// LogLockInfo is the per-old-LogSet locking state accumulated during epoch
// recovery: the set itself, a lock-reply future aligned 1-to-1 with its
// servers, the set's epochEnd once assigned, and whether it is the current
// (as opposed to an old) generation's set.
type LogLockInfo struct {
	Set       *LogSet
	Replies   []*Future[TLogLockResult]
	EpochEnd  Version
	IsCurrent bool
}

// lockTLog issues a lock RPC against handle and returns a Future that
// settles once the server replies, or never settles if the server has
// disappeared (broken promise) and the caller is expected to race this
// against handle.OnChange() instead of treating it as definite failure.
// The RPC is retried whenever the handle's interface changes.
func lockTLog(ctx context.Context, handle *ServerHandle, dialer ClientDialer, timeout time.Duration) *Future[TLogLockResult] {
	f, settle := NewFuture[TLogLockResult]()

	go func() {
		for {
			iface, present := handle.Get()
			if !present {
				select {
				case <-handle.OnChange():
					continue
				case <-ctx.Done():
					return
				}
			}

			client, err := dialer.Dial(iface)
			if err != nil {
				slog.Warn("lockTLog: dial failed", "server", iface.ID, "error", err)
				select {
				case <-handle.OnChange():
					continue
				case <-ctx.Done():
					return
				}
			}

			lockCtx, cancel := context.WithTimeout(ctx, timeout)
			result, err := client.Lock(lockCtx)
			cancel()

			_, mappedErr, real := brokenPromiseToNever(result, err)
			if !real {
				// Peer absent; wait for it to reappear and retry.
				select {
				case <-handle.OnChange():
					continue
				case <-ctx.Done():
					return
				}
			}
			if mappedErr != nil {
				slog.Warn("lockTLog: rpc failed", "server", iface.ID, "error", mappedErr)
				select {
				case <-handle.OnChange():
					continue
				case <-ctx.Done():
					return
				}
			}

			settle(result, nil)
			return
		}
	}()

	return f
}

// lockServers issues lockTLog against every server in set and returns a
// LogLockInfo ready for getDurableVersion.
func lockServers(ctx context.Context, set *LogSet, dialer ClientDialer, timeout time.Duration, isCurrent bool) LogLockInfo {
	replies := make([]*Future[TLogLockResult], len(set.LogServers))
	for i, h := range set.LogServers {
		replies[i] = lockTLog(ctx, h, dialer, timeout)
	}
	return LogLockInfo{Set: set, Replies: replies, EpochEnd: InvalidVersion, IsCurrent: isCurrent}
}

// durableVersionResult is the (knownCommitted, end) pair getDurableVersion
// produces, or NotYet when the set's responses don't yet determine one.
type durableVersionResult struct {
	KnownCommitted Version
	End            Version
	NotYet         bool
}

var errTooManyFailures = errors.New("logsystem: too many failures to compute durable version")

// getDurableVersion implements the quorum-safety arithmetic of §4.4: given
// a LogSet's lock replies, the per-server failure flags reported by the
// failure monitor, and the previously published end version (lastEnd, or
// InvalidVersion if none), it returns the maximum version known to be
// durable, or NotYet if there isn't enough information, or
// errTooManyFailures if no more than antiQuorum servers responded, if the
// unresponsive servers number at least replicationFactor and satisfy the
// policy on their own, or (with a non-zero antiQuorum) if some combination
// of the responders minus antiQuorum of them fails the policy.
func getDurableVersion(lockInfo LogLockInfo, failed []bool, lastEnd Version, bound int64) (durableVersionResult, error) {
	set := lockInfo.Set
	n := len(set.LogServers)
	r := set.ReplicationFactor
	a := set.AntiQuorum

	requiredCount := n + 1 - r + a
	if requiredCount < 1 || requiredCount > n {
		return durableVersionResult{}, errors.New("logsystem: requiredCount out of range")
	}
	if r < 1 || r > n {
		return durableVersionResult{}, errors.New("logsystem: replicationFactor out of range")
	}
	if a < 0 || a >= n {
		return durableVersionResult{}, errors.New("logsystem: antiQuorum out of range")
	}

	type respondedServer struct {
		end            Version
		knownCommitted Version
		locality       Locality
	}

	var responded []respondedServer
	var unresponsiveLocalities []Locality

	for i, reply := range lockInfo.Replies {
		if i < len(failed) && failed[i] {
			unresponsiveLocalities = append(unresponsiveLocalities, set.TLogLocalities[i])
			continue
		}
		v, err, ok := reply.TryGet()
		if !ok || err != nil {
			unresponsiveLocalities = append(unresponsiveLocalities, set.TLogLocalities[i])
			continue
		}
		responded = append(responded, respondedServer{
			end:            v.End,
			knownCommitted: v.KnownCommittedVersion,
			locality:       set.TLogLocalities[i],
		})
	}

	if len(responded) <= a {
		return durableVersionResult{}, errTooManyFailures
	}
	if len(unresponsiveLocalities) >= r && set.TLogPolicy.Validate(unresponsiveLocalities) {
		return durableVersionResult{}, errTooManyFailures
	}
	if a > 0 {
		respondedLocalities := make([]Locality, len(responded))
		for i, rs := range responded {
			respondedLocalities[i] = rs.locality
		}
		if !set.TLogPolicy.ValidateAllCombinations(respondedLocalities, a) {
			return durableVersionResult{}, errTooManyFailures
		}
	}

	sort.Slice(responded, func(i, j int) bool { return responded[i].end < responded[j].end })

	safeEnd := r - (n - len(responded))
	if safeEnd < 1 {
		safeEnd = 1
	}
	newSafeBegin := a
	if newSafeBegin > len(responded)-1 {
		newSafeBegin = len(responded) - 1
	}
	if newSafeBegin < 0 {
		newSafeBegin = 0
	}

	if lastEnd != InvalidVersion && responded[safeEnd-1].end >= lastEnd {
		return durableVersionResult{NotYet: true}, nil
	}

	maxKnownCommitted := responded[0].knownCommitted
	for _, rs := range responded {
		if rs.knownCommitted > maxKnownCommitted {
			maxKnownCommitted = rs.knownCommitted
		}
	}

	end := responded[newSafeBegin].end
	knownCommitted := maxVersion(maxKnownCommitted, end-Version(bound))

	return durableVersionResult{KnownCommitted: knownCommitted, End: end}, nil
}

// getDurableVersionChanged returns a channel that closes the next time any
// pending reply in lockInfo resolves, or any server's failure flag could
// plausibly have changed (its handle fired OnChange). Recovery's main loop
// selects on this to know when to retry getDurableVersion.
func getDurableVersionChanged(ctx context.Context, lockInfo LogLockInfo) <-chan struct{} {
	out := make(chan struct{}, 1)
	notify := func() {
		select {
		case out <- struct{}{}:
		default:
		}
	}

	for _, reply := range lockInfo.Replies {
		reply := reply
		if _, _, ok := reply.TryGet(); ok {
			continue
		}
		go func() {
			reply.Wait(ctx)
			notify()
		}()
	}

	for _, h := range lockInfo.Set.LogServers {
		h := h
		go func() {
			select {
			case <-h.OnChange():
				notify()
			case <-ctx.Done():
			}
		}()
	}

	return out
}
