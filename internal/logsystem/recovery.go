package logsystem

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipset"

	"logsystem/internal/config"
)

// RejoinEnvelope pairs an incoming TLogRejoinRequest with the channel its
// reply should be sent on, modeling the spec's Stream<RejoinRequest>
// primitive as a plain Go channel of request/reply pairs.
type RejoinEnvelope struct {
	Request TLogRejoinRequest
	Reply   chan<- TLogRejoinReply
}

// failureFlags is a small concurrent-safe bitset indexed by server slot,
// toggled by monitorLog and read by getDurableVersion.
type failureFlags struct {
	mu    sync.RWMutex
	flags []bool
}

func newFailureFlags(n int) *failureFlags {
	return &failureFlags{flags: make([]bool, n)}
}

func (f *failureFlags) set(i int, v bool) {
	f.mu.Lock()
	f.flags[i] = v
	f.mu.Unlock()
}

func (f *failureFlags) snapshot() []bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]bool, len(f.flags))
	copy(out, f.flags)
	return out
}

// monitorLog polls a server's failure-detector RPC and toggles flags[i]
// according to whether it is reachable, retrying after env.Transport.HeartbeatInterval.
func monitorLog(ctx context.Context, h *ServerHandle, idx int, flags *failureFlags, dialer ClientDialer, heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		iface, present := h.Get()
		if !present {
			flags.set(idx, true)
			continue
		}
		client, err := dialer.Dial(iface)
		if err != nil {
			flags.set(idx, true)
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, heartbeat)
		err = client.ConfirmRunning(pingCtx, TLogConfirmRunningRequest{DebugID: "monitorLog"})
		cancel()
		flags.set(idx, err != nil)
	}
}

// trackRejoins consumes the rejoin stream: a rejoin matching a handle in
// known updates that handle and is told it is recognized (StandDown=false);
// an unknown rejoin is told to stand down (StandDown=true).
func trackRejoins(ctx context.Context, known map[string]*ServerHandle, rejoins <-chan RejoinEnvelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-rejoins:
			if !ok {
				return
			}
			h, isKnown := known[env.Request.MyInterface.ID]
			if isKnown {
				h.Set(env.Request.MyInterface)
			}
			select {
			case env.Reply <- TLogRejoinReply{StandDown: !isKnown}:
			default:
			}
		}
	}
}

// EpochRecoveryResult wraps a stopped LogSystem representing the durable
// prefix of the prior epoch. EpochEnd does not use it: publish receives the
// *LogSystem directly.
type EpochRecoveryResult struct {
	System *LogSystem
}

// EpochEnd runs epoch recovery to completion per §4.5: it locks a
// co-quorum of the old log servers, computes the maximum safely-durable
// version across every local set, and calls publish with successively
// more accurate stopped LogSystems until the loop is cancelled (the
// caller is expected to replace this LogSystem once publish gives it one
// it is satisfied with). EpochEnd returns only when ctx is done; a set
// whose durable version cannot be computed is logged and evaluated again
// on the next change.
func EpochEnd(ctx context.Context, prevState LogSystemConfig, rejoins <-chan RejoinEnvelope, dialer ClientDialer, env config.Environment, publish func(*LogSystem)) error {
	if len(prevState.TLogs) == 0 {
		empty := fromLogSystemConfig(prevState, dialer)
		empty.stopped = true
		empty.epochEndVersion = 0
		publish(empty)
		<-ctx.Done()
		return ctx.Err()
	}

	old := fromLogSystemConfig(prevState, dialer)

	known := make(map[string]*ServerHandle)
	flagsBySet := make(map[*LogSet]*failureFlags)
	for _, s := range old.logSets {
		flags := newFailureFlags(len(s.LogServers))
		flagsBySet[s] = flags
		for i, h := range s.LogServers {
			known[handleID(h)] = h
			go monitorLog(ctx, h, i, flags, dialer, env.Transport.HeartbeatInterval)
		}
	}
	for _, gen := range old.oldLogData {
		for _, s := range gen.LogSets {
			for _, h := range s.LogServers {
				known[handleID(h)] = h
			}
		}
	}

	go trackRejoins(ctx, known, rejoins)

	lockInfos := make([]LogLockInfo, len(old.logSets))
	lockedLocalities := skipset.New[Locality]()
	for i, s := range old.logSets {
		lockInfos[i] = lockServers(ctx, s, dialer, env.Recovery.LockTimeout, true)
		lockedLocalities.Add(s.Locality)
	}

	shortCircuit := false
	for _, s := range old.logSets {
		if s.Locality == LocalitySpecial || s.Locality == LocalityUpgraded {
			shortCircuit = true
		}
	}

	// oldLockInfosByLocality captures enough information to compute the
	// durable version in any old generation whose primary failed: one
	// LogLockInfo per not-yet-locked locality, across the old
	// generations newest-first.
	oldLockInfosByLocality := map[Locality]LogLockInfo{}
	oldLockEpochEndByLocality := map[Locality]Version{}
	if !shortCircuit {
		for _, gen := range old.oldLogData {
			for _, s := range gen.LogSets {
				if s.Locality == LocalitySpecial || s.Locality == LocalityUpgraded {
					shortCircuit = true
				}
				if lockedLocalities.Contains(s.Locality) {
					continue
				}
				oldLockInfosByLocality[s.Locality] = lockServers(ctx, s, dialer, env.Recovery.LockTimeout, false)
				oldLockEpochEndByLocality[s.Locality] = gen.EpochEnd
				lockedLocalities.Add(s.Locality)
			}
			if shortCircuit {
				break
			}
		}
	}

	var lastEnd Version = InvalidVersion
	var knownCommittedVersion Version = InvalidVersion

	for {
		var minEnd, maxEnd Version = MaxVersion, InvalidVersion
		anyResolved := false
		changeChannels := make([]<-chan struct{}, 0, len(lockInfos))

		for i, s := range old.logSets {
			if !s.IsLocal {
				continue
			}
			flags := flagsBySet[s].snapshot()
			result, err := getDurableVersion(lockInfos[i], flags, lastEnd, env.DurableVersionBound())
			changeChannels = append(changeChannels, getDurableVersionChanged(ctx, lockInfos[i]))
			if err != nil {
				if oldInfo, ok := oldLockInfosByLocality[s.Locality]; ok {
					slog.Warn("epochEnd: falling back to old-generation lock info", "locality", s.Locality, "error", err)
					changeChannels = append(changeChannels, getDurableVersionChanged(ctx, oldInfo))
				} else {
					slog.Warn("epochEnd: set cannot presently compute durable version", "locality", s.Locality, "error", err)
				}
				continue
			}
			if result.NotYet {
				continue
			}
			anyResolved = true
			if result.End < minEnd {
				minEnd = result.End
			}
			if result.End > maxEnd {
				maxEnd = result.End
			}
			if result.KnownCommitted > knownCommittedVersion {
				knownCommittedVersion = result.KnownCommitted
			}
		}

		if anyResolved && maxEnd > 0 && (lastEnd == InvalidVersion || maxEnd < lastEnd) {
			stopped := &LogSystem{
				dialer:                    dialer,
				logSets:                   old.logSets,
				oldLogData:                old.oldLogData,
				logRouterTags:             old.logRouterTags,
				stopped:                   true,
				epochEndVersion:           minEnd,
				knownCommittedVersion:     knownCommittedVersion,
				lockInfos:                 lockInfos,
				oldLockInfosByLocality:    oldLockInfosByLocality,
				oldLockEpochEndByLocality: oldLockEpochEndByLocality,
				recoveryComplete:          mustReadyVoid(),
				remoteRecovery:            mustReadyVoid(),
				remoteRecoveryComplete:    mustReadyVoid(),
				coreStateChanged:          NewTrigger(),
				configChanged:             NewTrigger(),
				pops:                      newPopCoalescer(),
				env:                       env,
				metrics:                   old.metrics,
			}
			publish(stopped)
			lastEnd = minEnd
		}

		if err := waitAny(ctx, changeChannels); err != nil {
			return err
		}
	}
}

func waitAny(ctx context.Context, chans []<-chan struct{}) error {
	if len(chans) == 0 {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{}, 1)
	for _, c := range chans {
		c := c
		go func() {
			select {
			case <-c:
				select {
				case done <- struct{}{}:
				default:
				}
			case <-ctx.Done():
			}
		}()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
