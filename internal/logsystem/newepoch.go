package logsystem

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"logsystem/internal/config"
)

// DatabaseConfiguration carries the replication parameters newEpoch needs
// to build fresh LogSets: the primary's policy/replication/antiQuorum,
// an optional satellite's, and an optional remote's.
type DatabaseConfiguration struct {
	TLogPolicy            Policy
	TLogReplicationFactor int
	TLogAntiQuorum        int

	HasSatellite                   bool
	SatelliteTLogPolicy            Policy
	SatelliteTLogReplicationFactor int
	SatelliteTLogAntiQuorum        int

	HasRemote                    bool
	RemoteTLogPolicy             Policy
	RemoteTLogReplicationFactor  int
}

// RecruitmentResult is what the cluster controller handed back: the
// worker interfaces to initialize as each role.
type RecruitmentResult struct {
	TLogs            []ServerInterface
	SatelliteTLogs   []ServerInterface
	LogRouters       []ServerInterface
	RemoteTLogs      []ServerInterface
	RemoteLogRouters []ServerInterface
}

// NewEpoch builds the provisional successor to old per §4.6: a fresh
// LogSystem with a new recruitmentID, a primary LogSet (and satellite, if
// configured), oldLogData seeded from old, and every recruited server
// initialized and awaited before the result is returned. The old system's
// recruitmentID is overwritten too, so its own pushes are refused from
// this point on.
func NewEpoch(ctx context.Context, old *LogSystem, recr RecruitmentResult, cfg DatabaseConfiguration, recoveryCount int64, primaryLocality, remoteLocality Locality, allTags []Tag, dialer ClientDialer, env config.Environment) (*LogSystem, error) {
	recruitmentID := uuid.New().String()

	old.mu.Lock()
	old.recruitmentID = recruitmentID
	oldKnownCommitted := old.knownCommittedVersion
	oldLogRouterTags := old.logRouterTags
	oldSets := append([]*LogSet{}, old.logSets...)
	oldOldData := append([]*OldLogData{}, old.oldLogData...)
	oldLockInfos := append([]LogLockInfo{}, old.lockInfos...)
	oldLockInfosByLocality := old.oldLockInfosByLocality
	oldLockEpochEndByLocality := old.oldLockEpochEndByLocality
	old.mu.Unlock()

	if oldKnownCommitted == InvalidVersion {
		oldKnownCommitted = 0
	}

	ns := newLogSystem(dialer)
	ns.env = env
	ns.metrics = old.metrics
	ns.logSystemType = logSystemTypeTagPartitioned
	ns.recruitmentID = recruitmentID
	ns.allTags = allTags

	primary := &LogSet{
		LogServers:        handlesFromInterfaces(recr.TLogs),
		ReplicationFactor: cfg.TLogReplicationFactor,
		AntiQuorum:        cfg.TLogAntiQuorum,
		TLogPolicy:        cfg.TLogPolicy,
		TLogLocalities:    repeatLocality(primaryLocality, len(recr.TLogs)),
		IsLocal:           true,
		HasBestPolicy:     true,
		Locality:          primaryLocality,
	}
	ns.logSets = append(ns.logSets, primary)

	var satellite *LogSet
	if cfg.HasSatellite {
		satellite = &LogSet{
			LogServers:        handlesFromInterfaces(recr.SatelliteTLogs),
			ReplicationFactor: cfg.SatelliteTLogReplicationFactor,
			AntiQuorum:        cfg.SatelliteTLogAntiQuorum,
			TLogPolicy:        cfg.SatelliteTLogPolicy,
			TLogLocalities:    repeatLocality(LocalitySatellite, len(recr.SatelliteTLogs)),
			IsLocal:           true,
			HasBestPolicy:     false,
			Locality:          LocalityInvalid,
			StartVersion:      oldKnownCommitted + 1,
		}
		ns.logSets = append(ns.logSets, satellite)
	}

	if cfg.HasRemote {
		ns.logRouterTags = len(recr.TLogs)
	}

	ns.oldLogData = append([]*OldLogData{{
		LogSets:       oldSets,
		EpochEnd:      oldKnownCommitted + 1,
		LogRouterTags: oldLogRouterTags,
	}}, oldOldData...)

	primaryStart := resolvePrimaryStartVersion(oldLockInfos, oldLockInfosByLocality, oldLockEpochEndByLocality, ns.oldLogData, primaryLocality, oldKnownCommitted, env)
	primary.StartVersion = primaryStart

	if primaryStart < oldKnownCommitted+1 {
		if err := recruitOldLogRouters(ctx, ns.oldLogData, primaryLocality, primaryStart, recr.LogRouters, dialer, env); err != nil {
			return nil, fmt.Errorf("newEpoch: recruit old log routers: %w", err)
		}
	}

	recoverFrom := old.getLogSystemConfig()

	recoverTags := ns.getPushLocations(allTags)
	if err := initializeTLogs(ctx, primary, recoverFrom, old.getEnd(), oldKnownCommitted, recoveryCount, primaryLocality, true, allTags, primaryStart, ns.logRouterTags, recoverTags, dialer, env); err != nil {
		return nil, fmt.Errorf("newEpoch: initialize primary: %w", err)
	}

	if satellite != nil {
		satRecoverTags := ns.getPushLocations(allTags)
		if err := initializeTLogs(ctx, satellite, recoverFrom, old.getEnd(), oldKnownCommitted, recoveryCount, LocalityInvalid, false, allTags, satellite.StartVersion, ns.logRouterTags, satRecoverTags, dialer, env); err != nil {
			return nil, fmt.Errorf("newEpoch: initialize satellite: %w", err)
		}
	}

	primaryComplete := recoveryFinishedFuture(ctx, primary, dialer)
	var satelliteComplete *Future[struct{}]
	if satellite != nil {
		satelliteComplete = recoveryFinishedFuture(ctx, satellite, dialer)
	}

	ns.recoveryComplete = combineComplete(ctx, primaryComplete, satelliteComplete)

	if cfg.HasRemote {
		remote, remoteComplete, err := newRemoteEpoch(ctx, oldLockInfos, oldLockInfosByLocality, oldLockEpochEndByLocality, ns, cfg, recr, remoteLocality, oldKnownCommitted, dialer, env)
		if err != nil {
			return nil, fmt.Errorf("newEpoch: remote epoch: %w", err)
		}
		ns.logSets = append(ns.logSets, remote)
		ns.remoteRecoveryComplete = remoteComplete
		ns.remoteRecovery = remoteComplete
	} else {
		ns.remoteRecovery = ns.recoveryComplete
		ns.remoteRecoveryComplete = ns.recoveryComplete
	}

	return ns, nil
}

func handlesFromInterfaces(ifaces []ServerInterface) []*ServerHandle {
	out := make([]*ServerHandle, len(ifaces))
	for i, iface := range ifaces {
		out[i] = NewServerHandle(iface)
	}
	return out
}

func repeatLocality(l Locality, n int) []Locality {
	out := make([]Locality, n)
	for i := range out {
		out[i] = l
	}
	return out
}

// resolvePrimaryStartVersion implements step 5: initialize to
// oldKnownCommitted+1, then refine downward via getDurableVersion against
// any old lock result for locality that is not both current and local, to
// min(versions.first+1, lockEpochEnd, current). The new set then replays
// from a version no later than every surviving commit of that locality.
// lockInfos and lockInfosByLocality are the just-stopped predecessor
// epoch's own LogLockInfo and its old-generation fallback, as recovery
// recorded them while computing its own durable version; both may be nil
// (a remote epoch bootstrapping with nothing of its own to refine against)
// in which case only the oldData EpochEnd fallback applies.
func resolvePrimaryStartVersion(lockInfos []LogLockInfo, lockInfosByLocality map[Locality]LogLockInfo, lockEpochEndByLocality map[Locality]Version, oldData []*OldLogData, locality Locality, oldKnownCommitted Version, env config.Environment) Version {
	start := oldKnownCommitted + 1

	refine := func(lockInfo LogLockInfo, lockEpochEnd Version) {
		result, err := getDurableVersion(lockInfo, nil, InvalidVersion, env.DurableVersionBound())
		if err != nil || result.NotYet {
			return
		}
		start = minVersion(start, minVersion(result.KnownCommitted+1, lockEpochEnd))
	}

	for _, info := range lockInfos {
		if info.Set == nil || info.Set.Locality != locality {
			continue
		}
		if info.IsCurrent && info.Set.IsLocal {
			continue
		}
		refine(info, oldKnownCommitted+1)
	}
	if info, ok := lockInfosByLocality[locality]; ok {
		refine(info, lockEpochEndByLocality[locality])
	}

	for _, gen := range oldData {
		for _, s := range gen.LogSets {
			if s.Locality != locality {
				continue
			}
			if s.IsLocal {
				continue
			}
			start = minVersion(start, gen.EpochEnd)
		}
	}
	return start
}

// recruitOldLogRouters recruits one log router per tag in logRouterTags on
// the old epochs for primaryLocality at startVersion, round-robining
// candidate workers, and appends the resulting handles to the matching old
// LogSets' LogRouters.
func recruitOldLogRouters(ctx context.Context, oldData []*OldLogData, primaryLocality Locality, startVersion Version, candidates []ServerInterface, dialer ClientDialer, env config.Environment) error {
	if len(candidates) == 0 {
		return nil
	}

	var lastStart Version
	for genIdx, gen := range oldData {
		for _, s := range gen.LogSets {
			if s.Locality != primaryLocality {
				continue
			}
			for tagID := 0; tagID < gen.LogRouterTags; tagID++ {
				worker := candidates[(genIdx+tagID)%len(candidates)]
				client, err := dialer.Dial(worker)
				if err != nil {
					return err
				}
				reqCtx, cancel := context.WithTimeout(ctx, env.Recovery.RecruitmentTimeout)
				_, err = client.InitializeLogRouter(reqCtx, InitializeLogRouterRequest{
					RouterTag:      Tag{Locality: LocalityLogRouter, ID: int32(tagID)},
					StartVersion:   startVersion,
					TLogLocalities: s.TLogLocalities,
					HasBestPolicy:  s.HasBestPolicy,
					Locality:       s.Locality,
				})
				cancel()
				if err != nil {
					return ErrMasterRecoveryFailed
				}
				s.LogRouters = append(s.LogRouters, NewServerHandle(worker))
			}
		}
		lastStart = startVersion
	}
	_ = lastStart
	return nil
}

// initializeTLogs sends InitializeTLogRequest to every server in set in
// parallel and waits for all of them; any timeout is fatal to newEpoch.
func initializeTLogs(ctx context.Context, set *LogSet, recoverFrom LogSystemConfig, recoverAt Version, knownCommitted Version, epoch int64, locality Locality, isPrimary bool, allTags []Tag, startVersion Version, logRouterTags int, recoverTags PushLocations, dialer ClientDialer, env config.Environment) error {
	if len(set.LogServers) == 0 {
		return nil
	}

	flatRecoverTags := flattenPushLocations(recoverTags)

	errCh := make(chan error, len(set.LogServers))
	for _, h := range set.LogServers {
		h := h
		go func() {
			iface, _ := h.Get()
			client, err := dialer.Dial(iface)
			if err != nil {
				errCh <- err
				return
			}
			reqCtx, cancel := context.WithTimeout(ctx, env.Recovery.RecruitmentTimeout)
			defer cancel()
			_, err = client.InitializeTLog(reqCtx, InitializeTLogRequest{
				RecoverFrom:    recoverFrom,
				RecoverAt:      recoverAt,
				KnownCommitted: knownCommitted,
				Epoch:          epoch,
				Locality:       locality,
				IsPrimary:      isPrimary,
				AllTags:        allTags,
				StartVersion:   startVersion,
				LogRouterTags:  logRouterTags,
				RecoverTags:    flatRecoverTags,
			})
			errCh <- err
		}()
	}

	var firstErr error
	for range set.LogServers {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		slog.Error("initializeTLogs: recruitment failed", "locality", set.Locality, "error", firstErr)
		return ErrMasterRecoveryFailed
	}
	return nil
}

func flattenPushLocations(p PushLocations) []Tag {
	seen := map[Tag]bool{}
	var out []Tag
	for _, perServer := range p.PerSet {
		for _, tags := range perServer {
			for _, t := range tags {
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		}
	}
	return out
}

func recoveryFinishedFuture(ctx context.Context, set *LogSet, dialer ClientDialer) *Future[struct{}] {
	f, settle := NewFuture[struct{}]()
	go func() {
		errCh := make(chan error, len(set.LogServers))
		for _, h := range set.LogServers {
			h := h
			go func() {
				client := dialClientOrNil(dialer, h)
				if client == nil {
					errCh <- ErrBrokenPromise
					return
				}
				errCh <- client.RecoveryFinished(ctx)
			}()
		}
		var firstErr error
		for range set.LogServers {
			if err := <-errCh; err != nil && firstErr == nil {
				firstErr = err
			}
		}
		settle(struct{}{}, firstErr)
	}()
	return f
}

func combineComplete(ctx context.Context, a, b *Future[struct{}]) *Future[struct{}] {
	if b == nil {
		return a
	}
	f, settle := NewFuture[struct{}]()
	go func() {
		_, errA := a.Wait(ctx)
		_, errB := b.Wait(ctx)
		if errA != nil {
			settle(struct{}{}, errA)
			return
		}
		settle(struct{}{}, errB)
	}()
	return f
}

// newRemoteEpoch builds the non-local LogSet for cross-region bring-up per
// step 9: its startVersion is initialized to oldKnownCommitted+1 and
// potentially lowered by the remote locality's durable-version result, old
// log routers are recruited if that start version predates the old
// commit, and then the remote log servers themselves are initialized. No
// log routers for the new epoch are recruited here.
func newRemoteEpoch(ctx context.Context, oldLockInfos []LogLockInfo, oldLockInfosByLocality map[Locality]LogLockInfo, oldLockEpochEndByLocality map[Locality]Version, ns *LogSystem, cfg DatabaseConfiguration, recr RecruitmentResult, remoteLocality Locality, oldKnownCommitted Version, dialer ClientDialer, env config.Environment) (*LogSet, *Future[struct{}], error) {
	startVersion := resolvePrimaryStartVersion(oldLockInfos, oldLockInfosByLocality, oldLockEpochEndByLocality, ns.oldLogData, remoteLocality, oldKnownCommitted, env)

	if startVersion < oldKnownCommitted+1 {
		if err := recruitOldLogRouters(ctx, ns.oldLogData, remoteLocality, startVersion, recr.RemoteLogRouters, dialer, env); err != nil {
			return nil, nil, err
		}
	}

	remote := &LogSet{
		LogServers:        handlesFromInterfaces(recr.RemoteTLogs),
		ReplicationFactor: cfg.RemoteTLogReplicationFactor,
		TLogPolicy:        cfg.RemoteTLogPolicy,
		TLogLocalities:    repeatLocality(remoteLocality, len(recr.RemoteTLogs)),
		IsLocal:           false,
		HasBestPolicy:     true,
		Locality:          remoteLocality,
		StartVersion:      startVersion,
	}

	if err := initializeTLogs(ctx, remote, ns.getLogSystemConfig(), ns.getEnd(), oldKnownCommitted, 0, remoteLocality, false, ns.allTags, startVersion, ns.logRouterTags, ns.getPushLocations(ns.allTags), dialer, env); err != nil {
		return nil, nil, err
	}

	complete := recoveryFinishedFuture(ctx, remote, dialer)
	return remote, complete, nil
}
