package logsystem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"logsystem/pkg/metrics"
)

func buildRoundTripSystem(dialer ClientDialer) *LogSystem {
	primary := &LogSet{
		LogServers:        []*ServerHandle{NewServerHandle(ServerInterface{ID: "p0"}), NewServerHandle(ServerInterface{ID: "p1"})},
		ReplicationFactor: 2,
		AntiQuorum:        0,
		TLogPolicy:        TrivialPolicy{MinCount: 2},
		TLogLocalities:    []Locality{LocalityPrimary, LocalityPrimary},
		IsLocal:           true,
		Locality:          LocalityPrimary,
		StartVersion:      500,
	}

	ls := newLogSystem(dialer)
	ls.metrics = metrics.Noop{}
	ls.logSets = []*LogSet{primary}
	ls.logRouterTags = 4
	// Leave the recovery futures unsettled so toCoreState keeps
	// OldTLogData in the persisted shape, matching a LogSystem still in
	// the middle of recovering from the generation below.
	ls.recoveryComplete, _ = NewFuture[struct{}]()
	ls.remoteRecoveryComplete, _ = NewFuture[struct{}]()
	ls.oldLogData = []*OldLogData{
		{
			LogSets: []*LogSet{{
				LogServers:        []*ServerHandle{NewServerHandle(ServerInterface{ID: "o0"})},
				ReplicationFactor: 1,
				AntiQuorum:        0,
				TLogPolicy:        TrivialPolicy{MinCount: 1},
				TLogLocalities:    []Locality{LocalityPrimary},
				IsLocal:           true,
				Locality:          LocalityPrimary,
				StartVersion:      0,
			}},
			LogRouterTags: 4,
			EpochEnd:      500,
		},
	}
	return ls
}

// Property: fromLogSystemConfig(getLogSystemConfig(L)) reproduces L's
// persisted shape exactly — every server id, locality, and replication
// parameter round-trips.
func TestLogSystemConfig_RoundTrip(t *testing.T) {
	dialer := newFakeDialer()
	ls := buildRoundTripSystem(dialer)

	cfg := ls.GetLogSystemConfig()
	rebuilt := fromLogSystemConfig(cfg, dialer)

	require.Equal(t, ls.logRouterTags, rebuilt.logRouterTags)
	require.Len(t, rebuilt.logSets, len(ls.logSets))
	require.Len(t, rebuilt.oldLogData, len(ls.oldLogData))

	for i, set := range ls.logSets {
		rset := rebuilt.logSets[i]
		require.Equal(t, set.ReplicationFactor, rset.ReplicationFactor)
		require.Equal(t, set.AntiQuorum, rset.AntiQuorum)
		require.Equal(t, set.TLogLocalities, rset.TLogLocalities)
		require.Equal(t, set.IsLocal, rset.IsLocal)
		require.Equal(t, set.Locality, rset.Locality)
		require.Equal(t, set.StartVersion, rset.StartVersion)

		for j, h := range set.LogServers {
			wantIface, _ := h.Get()
			gotIface, _ := rset.LogServers[j].Get()
			require.Equal(t, wantIface.ID, gotIface.ID)
		}
	}

	for i, old := range ls.oldLogData {
		rold := rebuilt.oldLogData[i]
		require.Equal(t, old.LogRouterTags, rold.LogRouterTags)
		require.Equal(t, old.EpochEnd, rold.EpochEnd)
		require.Len(t, rold.LogSets, len(old.LogSets))
	}
}

// fromOldLogSystemConfig promotes oldTLogs[0] into the current position.
func TestFromOldLogSystemConfig_PromotesFirstGeneration(t *testing.T) {
	dialer := newFakeDialer()
	ls := buildRoundTripSystem(dialer)
	cfg := ls.GetLogSystemConfig()

	promoted := fromOldLogSystemConfig(cfg, dialer)

	require.Len(t, promoted.logSets, 1)
	iface, _ := promoted.logSets[0].LogServers[0].Get()
	require.Equal(t, "o0", iface.ID)
	require.Empty(t, promoted.oldLogData)
}

// toCoreState omits OldTLogData once both recovery futures are ready.
func TestToCoreState_OmitsOldDataOnceRecoveryComplete(t *testing.T) {
	dialer := newFakeDialer()
	ls := buildRoundTripSystem(dialer)

	state := ls.ToCoreState()
	require.NotEmpty(t, state.OldTLogData)

	ls.recoveryComplete = mustReadyVoid()
	ls.remoteRecoveryComplete = mustReadyVoid()

	state = ls.ToCoreState()
	require.Empty(t, state.OldTLogData)
}
