package logsystem

import (
	"context"
	"math/rand"
	"sync"

	"logsystem/internal/config"
	"logsystem/pkg/metrics"
)

// LogSystem is the current epoch's coordinator: the object that represents
// a generation of log servers to proxies, storage servers, and the
// cluster controller. It is the sole mutator of its own state; callers
// invoke its methods but never touch its fields directly.
type LogSystem struct {
	mu sync.RWMutex

	env     config.Environment
	dialer  ClientDialer
	metrics metrics.Collector

	logSystemType int
	logSets       []*LogSet
	logRouterTags int
	recruitmentID string
	stopped       bool
	epochEndVersion Version
	knownCommittedVersion Version
	oldLogData    []*OldLogData
	allTags       []Tag

	// lockInfos and its old-generation fallback are the LogLockInfo
	// recovery computed while stopping this epoch, carried forward so
	// newEpoch can refine the next primary's start version per §4.6 step 5
	// instead of approximating it from EpochEnd alone.
	lockInfos                 []LogLockInfo
	oldLockInfosByLocality    map[Locality]LogLockInfo
	oldLockEpochEndByLocality map[Locality]Version

	recoveryCompleteWrittenToCoreState bool
	remoteLogsWrittenToCoreState       bool

	recoveryComplete       *Future[struct{}]
	remoteRecovery         *Future[struct{}]
	remoteRecoveryComplete *Future[struct{}]

	coreStateChanged *Trigger
	configChanged    *Trigger

	pops *popCoalescer

	pushCacheMu sync.Mutex
	pushCache   pushLocationCache

	monitor *errorMonitor
}

// newLogSystem constructs an empty LogSystem. It is not yet usable as a
// live epoch until populated by recovery or newEpoch.
func newLogSystem(dialer ClientDialer) *LogSystem {
	return &LogSystem{
		dialer:                 dialer,
		epochEndVersion:        InvalidVersion,
		knownCommittedVersion:  InvalidVersion,
		recoveryComplete:       mustReadyVoid(),
		remoteRecovery:         mustReadyVoid(),
		remoteRecoveryComplete: mustReadyVoid(),
		coreStateChanged:       NewTrigger(),
		configChanged:          NewTrigger(),
		pops:                   newPopCoalescer(),
		metrics:                metrics.Noop{},
	}
}

// New constructs an empty LogSystem wired to env, dialer, and an optional
// metrics collector (a metrics.Noop is used when collector is nil).
func New(env config.Environment, dialer ClientDialer, collector metrics.Collector) *LogSystem {
	ls := newLogSystem(dialer)
	ls.env = env
	if collector != nil {
		ls.metrics = collector
	}
	ls.monitor = newErrorMonitor(ls)
	return ls
}

func mustReadyVoid() *Future[struct{}] {
	return Ready(struct{}{}, nil)
}

// Push replicates a commit batch; the method and its logic are in push.go.

// Pop is fire-and-forget and idempotent: it installs or upgrades the
// coalescer's entry for every target handle implied by tag/popLocality.
func (ls *LogSystem) Pop(ctx context.Context, upTo Version, tag Tag, knownCommitted Version, popLocality Locality) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	if tag.Locality == LocalityRemoteLog {
		for _, s := range ls.logSets {
			if s.Locality != popLocality {
				continue
			}
			for _, h := range s.LogRouters {
				id := handleID(h)
				ls.pops.Pop(ctx, h, id, tag, upTo, knownCommitted, ls.env.Pop.LogRouterDelay, ls.dialer)
			}
		}
		for _, gen := range ls.oldLogData {
			for _, s := range gen.LogSets {
				if s.Locality != popLocality {
					continue
				}
				for _, h := range s.LogRouters {
					id := handleID(h)
					ls.pops.Pop(ctx, h, id, tag, upTo, knownCommitted, ls.env.Pop.LogRouterDelay, ls.dialer)
				}
			}
		}
		return
	}

	for _, s := range ls.logSets {
		if !s.IsLocal {
			continue
		}
		for _, h := range s.LogServers {
			id := handleID(h)
			ls.pops.Pop(ctx, h, id, tag, upTo, knownCommitted, ls.env.Pop.LogServerDelay, ls.dialer)
		}
	}
}

func handleID(h *ServerHandle) string {
	if iface, ok := h.Get(); ok {
		return iface.ID
	}
	return "?"
}

// Peek routes tag's peek to peekRemote or peekAll per its locality.
func (ls *LogSystem) Peek(ctx context.Context, debugID string, begin Version, tag Tag) (Cursor, error) {
	if tag.Locality == LocalityRemoteLog {
		return ls.peekRemote(ctx, tag, begin, ls.getEnd())
	}
	return ls.peekAll(ctx, tag, begin, ls.getEnd(), true)
}

// PeekTags merges peeks over several tags into one cursor.
func (ls *LogSystem) PeekTags(ctx context.Context, debugID string, begin Version, tags []Tag) (Cursor, error) {
	cursors := make([]Cursor, 0, len(tags))
	for _, t := range tags {
		c, err := ls.Peek(ctx, debugID, begin, t)
		if err != nil {
			return nil, err
		}
		cursors = append(cursors, c)
	}
	if len(cursors) == 1 {
		return cursors[0], nil
	}
	return NewMergedPeekCursor(cursors), nil
}

// PeekSingle delegates to peekSingle.
func (ls *LogSystem) PeekSingle(ctx context.Context, debugID string, begin Version, tag Tag, history []TagHistoryEntry) (Cursor, error) {
	return ls.peekSingle(ctx, begin, tag, history)
}

// PeekLogRouter delegates to peekLogRouter.
func (ls *LogSystem) PeekLogRouter(ctx context.Context, routerID string, begin Version, tag Tag) (Cursor, error) {
	return ls.peekLogRouter(ctx, routerID, begin, tag)
}

// ConfirmEpochLive waits for every local set to have a policy-satisfying
// cohort that acknowledges ConfirmRunning, as its own RPC rather than a
// side effect of push so that a confirm failure is never mistaken for a
// push failure by callers.
func (ls *LogSystem) ConfirmEpochLive(ctx context.Context, debugID string) error {
	ls.mu.RLock()
	localSets := localOf(ls.logSets)
	ls.mu.RUnlock()

	for _, set := range localSets {
		if len(set.LogServers) == 0 {
			continue
		}
		needed := set.ReplicationFactor - set.AntiQuorum
		if needed < 1 {
			needed = 1
		}

		futures := make([]*Future[struct{}], len(set.LogServers))
		for i, h := range set.LogServers {
			h := h
			f, settle := NewFuture[struct{}]()
			futures[i] = f
			go func() {
				client := dialClientOrNil(ls.dialer, h)
				if client == nil {
					settle(struct{}{}, ErrBrokenPromise)
					return
				}
				err := client.ConfirmRunning(ctx, TLogConfirmRunningRequest{DebugID: debugID})
				settle(struct{}{}, err)
			}()
		}

		if _, err := quorum(ctx, futures, needed); err != nil {
			return mapPushError(err)
		}
	}
	return nil
}

// EndEpoch locks every server in every current set, used by master
// takeover to stop accepting new commits for this epoch.
func (ls *LogSystem) EndEpoch(ctx context.Context) ([]LogLockInfo, error) {
	ls.mu.RLock()
	sets := append([]*LogSet{}, ls.logSets...)
	ls.mu.RUnlock()

	infos := make([]LogLockInfo, len(sets))
	for i, s := range sets {
		infos[i] = lockServers(ctx, s, ls.dialer, ls.env.Recovery.LockTimeout, true)
	}
	ls.mu.Lock()
	ls.stopped = true
	ls.mu.Unlock()
	ls.configChanged.Fire()
	return infos, nil
}

// getLogSystemConfig / getEnd / getPeekEnd / hasRemoteLogs / getRandomRouterTag
// are the small routing and reflection helpers the external interface
// table exposes.
func (ls *LogSystem) getEnd() Version {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if ls.epochEndVersion != InvalidVersion {
		return ls.epochEndVersion
	}
	return MaxVersion
}

// GetEnd is the public form of getEnd.
func (ls *LogSystem) GetEnd() Version { return ls.getEnd() }

// GetPeekEnd returns the sentinel cursors should treat as "no upper bound
// yet known": MaxVersion while the epoch is still live, epochEndVersion
// once it has stopped.
func (ls *LogSystem) GetPeekEnd() Version {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if ls.stopped {
		return ls.epochEndVersion
	}
	return MaxVersion
}

// HasRemoteLogs reports whether this epoch has a non-local LogSet.
func (ls *LogSystem) HasRemoteLogs() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	for _, s := range ls.logSets {
		if !s.IsLocal {
			return true
		}
	}
	return false
}

// GetRandomRouterTag returns a uniformly random log-router tag, used by
// proxies that need to address an arbitrary router shard.
func (ls *LogSystem) GetRandomRouterTag() Tag {
	ls.mu.RLock()
	n := ls.logRouterTags
	ls.mu.RUnlock()
	if n <= 0 {
		return Tag{Locality: LocalityLogRouter, ID: 0}
	}
	return Tag{Locality: LocalityLogRouter, ID: int32(rand.Intn(n))}
}

// GetLogSystemConfig is the public form of getLogSystemConfig.
func (ls *LogSystem) GetLogSystemConfig() LogSystemConfig { return ls.getLogSystemConfig() }

// ToCoreState is the public form of toCoreState.
func (ls *LogSystem) ToCoreState() DBCoreState { return ls.toCoreState() }

// CoreStateWritten is the public form of coreStateWritten.
func (ls *LogSystem) CoreStateWritten(state DBCoreState) { ls.coreStateWritten(state) }

// OnCoreStateChanged returns the wait channel of the coreStateChanged
// trigger. Nothing in this package fires that trigger, so recoveryComplete
// and remoteRecovery transitions do not close the channel.
func (ls *LogSystem) OnCoreStateChanged() <-chan struct{} { return ls.coreStateChanged.Wait() }

// OnLogSystemConfigChange wakes when EndEpoch stops this epoch; that is the
// only place the configChanged trigger fires. Handle changes and other
// config transitions do not wake it.
func (ls *LogSystem) OnLogSystemConfigChange() <-chan struct{} { return ls.configChanged.Wait() }

// OnError never completes normally; see onerror.go.
func (ls *LogSystem) OnError(ctx context.Context) error { return ls.monitor.run(ctx) }
