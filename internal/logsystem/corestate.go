package logsystem

// CoreTLogSet is the persisted form of one LogSet.
type CoreTLogSet struct {
	TLogs             []string   `json:"t_logs"`
	TLogLocalities    []Locality `json:"t_log_localities"`
	AntiQuorum        int        `json:"anti_quorum"`
	ReplicationFactor int        `json:"replication_factor"`
	IsLocal           bool       `json:"is_local"`
	HasBestPolicy     bool       `json:"has_best_policy"`
	Locality          Locality   `json:"locality"`
	StartVersion      Version    `json:"start_version"`
}

// CoreOldTLogData is the persisted form of one OldLogData generation.
type CoreOldTLogData struct {
	TLogs         []CoreTLogSet `json:"t_logs"`
	LogRouterTags int           `json:"log_router_tags"`
	EpochEnd      Version       `json:"epoch_end"`
}

// DBCoreState is the persisted layout the cluster controller writes to
// coordinated-failover storage (internal/corestate.Store) and
// reads back when reconstructing a recovering predecessor.
type DBCoreState struct {
	LogSystemType int               `json:"log_system_type"`
	LogRouterTags int               `json:"log_router_tags"`
	TLogs         []CoreTLogSet     `json:"t_logs"`
	OldTLogData   []CoreOldTLogData `json:"old_t_log_data"`
}

// LogSystemConfig is the reversible in-memory projection of a LogSystem's
// configuration, used both for persistence (toCoreState) and for handing
// the prior epoch's shape to newEpoch's recovery RPCs (recoverFrom).
type LogSystemConfig struct {
	LogSystemType int
	LogRouterTags int
	TLogs         []CoreTLogSet
	OldTLogData   []CoreOldTLogData
}

// toCoreState projects the current LogSystem into DBCoreState. Once both
// recoveryComplete and remoteRecoveryComplete are ready, OldTLogData is
// omitted because durability has moved past those generations.
func (ls *LogSystem) toCoreState() DBCoreState {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	state := DBCoreState{
		LogSystemType: logSystemTypeTagPartitioned,
		LogRouterTags: ls.logRouterTags,
		TLogs:         make([]CoreTLogSet, 0, len(ls.logSets)),
	}
	for _, set := range ls.logSets {
		state.TLogs = append(state.TLogs, coreSetFromLogSet(set))
	}

	recoveryDone := isReady(ls.recoveryComplete) && isReady(ls.remoteRecoveryComplete)
	if !recoveryDone {
		for _, old := range ls.oldLogData {
			oldSets := make([]CoreTLogSet, 0, len(old.LogSets))
			for _, s := range old.LogSets {
				oldSets = append(oldSets, coreSetFromLogSet(s))
			}
			state.OldTLogData = append(state.OldTLogData, CoreOldTLogData{
				TLogs:         oldSets,
				LogRouterTags: old.LogRouterTags,
				EpochEnd:      old.EpochEnd,
			})
		}
	}
	return state
}

func coreSetFromLogSet(s *LogSet) CoreTLogSet {
	ids := make([]string, len(s.LogServers))
	for i, h := range s.LogServers {
		if iface, ok := h.Get(); ok {
			ids[i] = iface.ID
		}
	}
	localities := make([]Locality, len(s.TLogLocalities))
	copy(localities, s.TLogLocalities)
	return CoreTLogSet{
		TLogs:             ids,
		TLogLocalities:    localities,
		AntiQuorum:        s.AntiQuorum,
		ReplicationFactor: s.ReplicationFactor,
		IsLocal:           s.IsLocal,
		HasBestPolicy:     s.HasBestPolicy,
		Locality:          s.Locality,
		StartVersion:      s.StartVersion,
	}
}

// coreStateWritten records that state has been durably persisted: once
// there is no old data, recoveryCompleteWrittenToCoreState is set; if any
// set is non-local, remoteLogsWrittenToCoreState is set.
func (ls *LogSystem) coreStateWritten(state DBCoreState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if len(state.OldTLogData) == 0 {
		ls.recoveryCompleteWrittenToCoreState = true
	}
	for _, s := range state.TLogs {
		if !s.IsLocal {
			ls.remoteLogsWrittenToCoreState = true
			break
		}
	}
}

// getLogSystemConfig returns the reversible projection used both for
// persistence and as the recoverFrom field of recruitment requests.
func (ls *LogSystem) getLogSystemConfig() LogSystemConfig {
	state := ls.toCoreState()
	return LogSystemConfig{
		LogSystemType: state.LogSystemType,
		LogRouterTags: state.LogRouterTags,
		TLogs:         state.TLogs,
		OldTLogData:   state.OldTLogData,
	}
}

// fromLogSystemConfig is the inverse of getLogSystemConfig: it builds a
// frozen (stopped) LogSystem representing a persisted configuration, for
// use as the "old" system during recovery.
func fromLogSystemConfig(cfg LogSystemConfig, dialer ClientDialer) *LogSystem {
	ls := newLogSystem(dialer)
	ls.logSystemType = cfg.LogSystemType
	ls.logRouterTags = cfg.LogRouterTags
	ls.stopped = true

	for _, cs := range cfg.TLogs {
		ls.logSets = append(ls.logSets, logSetFromCore(cs))
	}
	for _, old := range cfg.OldTLogData {
		oldSets := make([]*LogSet, 0, len(old.TLogs))
		for _, cs := range old.TLogs {
			oldSets = append(oldSets, logSetFromCore(cs))
		}
		ls.oldLogData = append(ls.oldLogData, &OldLogData{
			LogSets:       oldSets,
			LogRouterTags: old.LogRouterTags,
			EpochEnd:      old.EpochEnd,
		})
	}
	return ls
}

// fromOldLogSystemConfig is fromLogSystemConfig's variant used when
// reconstructing a still-recovering predecessor: oldTLogs[0] is promoted
// into the current position, and the remaining old generations follow it.
func fromOldLogSystemConfig(cfg LogSystemConfig, dialer ClientDialer) *LogSystem {
	if len(cfg.OldTLogData) == 0 {
		return fromLogSystemConfig(cfg, dialer)
	}

	promoted := cfg.OldTLogData[0]
	rest := cfg.OldTLogData[1:]

	ls := newLogSystem(dialer)
	ls.logSystemType = cfg.LogSystemType
	ls.logRouterTags = promoted.LogRouterTags
	ls.stopped = true

	for _, cs := range promoted.TLogs {
		ls.logSets = append(ls.logSets, logSetFromCore(cs))
	}
	for _, old := range rest {
		oldSets := make([]*LogSet, 0, len(old.TLogs))
		for _, cs := range old.TLogs {
			oldSets = append(oldSets, logSetFromCore(cs))
		}
		ls.oldLogData = append(ls.oldLogData, &OldLogData{
			LogSets:       oldSets,
			LogRouterTags: old.LogRouterTags,
			EpochEnd:      old.EpochEnd,
		})
	}
	return ls
}

func logSetFromCore(cs CoreTLogSet) *LogSet {
	servers := make([]*ServerHandle, len(cs.TLogs))
	for i, id := range cs.TLogs {
		if id == "" {
			servers[i] = NewEmptyServerHandle()
			continue
		}
		servers[i] = NewServerHandle(ServerInterface{ID: id})
	}
	return &LogSet{
		LogServers:        servers,
		ReplicationFactor: cs.ReplicationFactor,
		AntiQuorum:        cs.AntiQuorum,
		TLogPolicy:        TrivialPolicy{MinCount: cs.ReplicationFactor - cs.AntiQuorum},
		TLogLocalities:    cs.TLogLocalities,
		IsLocal:           cs.IsLocal,
		HasBestPolicy:     cs.HasBestPolicy,
		Locality:          cs.Locality,
		StartVersion:      cs.StartVersion,
	}
}

const logSystemTypeTagPartitioned = 2

func isReady[T any](f *Future[T]) bool {
	_, _, ok := f.TryGet()
	return ok
}
