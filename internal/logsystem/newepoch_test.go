package logsystem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"logsystem/internal/config"
	"logsystem/pkg/metrics"
)

func newEpochTestFixture() (*LogSystem, *fakeDialer, RecruitmentResult, DatabaseConfiguration) {
	dialer := newFakeDialer()

	old := newLogSystem(dialer)
	old.metrics = metrics.Noop{}
	old.knownCommittedVersion = Version(999)
	old.logSets = []*LogSet{{
		LogServers:        []*ServerHandle{NewServerHandle(ServerInterface{ID: "old0"})},
		ReplicationFactor: 1,
		TLogPolicy:        TrivialPolicy{MinCount: 1},
		TLogLocalities:    []Locality{LocalityPrimary},
		IsLocal:           true,
		Locality:          LocalityPrimary,
	}}

	recr := RecruitmentResult{
		TLogs: []ServerInterface{{ID: "new0"}, {ID: "new1"}},
	}
	for _, iface := range recr.TLogs {
		dialer.register(iface.ID, &fakeClient{})
	}
	dialer.register("old0", &fakeClient{})

	cfg := DatabaseConfiguration{
		TLogPolicy:            TrivialPolicy{MinCount: 2},
		TLogReplicationFactor: 2,
		TLogAntiQuorum:        0,
	}

	return old, dialer, recr, cfg
}

// Property: start-version monotonicity — with no old generation carrying
// a non-local set at this locality, the new primary starts exactly one
// past the prior epoch's known-committed version.
func TestNewEpoch_StartVersionMonotonicity(t *testing.T) {
	old, dialer, recr, cfg := newEpochTestFixture()

	ns, err := NewEpoch(context.Background(), old, recr, cfg, 1, LocalityPrimary, LocalityInvalid, nil, dialer, config.Default())
	require.NoError(t, err)

	require.Len(t, ns.logSets, 1)
	require.Equal(t, Version(1000), ns.logSets[0].StartVersion)
}

func TestNewEpoch_SeedsOldLogDataAheadOfPriorGenerations(t *testing.T) {
	old, dialer, recr, cfg := newEpochTestFixture()

	ns, err := NewEpoch(context.Background(), old, recr, cfg, 1, LocalityPrimary, LocalityInvalid, nil, dialer, config.Default())
	require.NoError(t, err)

	require.Len(t, ns.oldLogData, 1)
	require.Equal(t, Version(1000), ns.oldLogData[0].EpochEnd)
	require.Len(t, ns.oldLogData[0].LogSets, 1)
}

func TestNewEpoch_RecruitsEveryPrimaryServer(t *testing.T) {
	old, dialer, recr, cfg := newEpochTestFixture()

	ns, err := NewEpoch(context.Background(), old, recr, cfg, 1, LocalityPrimary, LocalityInvalid, nil, dialer, config.Default())
	require.NoError(t, err)

	require.Len(t, ns.logSets[0].LogServers, 2)
	ids := make([]string, 2)
	for i, h := range ns.logSets[0].LogServers {
		iface, ok := h.Get()
		require.True(t, ok)
		ids[i] = iface.ID
	}
	require.ElementsMatch(t, []string{"new0", "new1"}, ids)
}

func TestNewEpoch_PropagatesRecruitmentFailure(t *testing.T) {
	old, dialer, recr, cfg := newEpochTestFixture()
	dialer.register("new0", &fakeClient{initTLogErr: ErrBrokenPromise})

	_, err := NewEpoch(context.Background(), old, recr, cfg, 1, LocalityPrimary, LocalityInvalid, nil, dialer, config.Default())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMasterRecoveryFailed)
}

// When an older generation's lock result for the primary's locality is
// available, the new primary's start version is refined downward to
// min(durable-knownCommitted+1, that generation's epochEnd) rather than
// left at oldKnownCommitted+1.
func TestNewEpoch_RefinesStartVersionFromOldGenerationLockResult(t *testing.T) {
	old, dialer, recr, cfg := newEpochTestFixture()

	oldGenServer := NewServerHandle(ServerInterface{ID: "oldgen0"})
	oldGenSet := &LogSet{
		LogServers:        []*ServerHandle{oldGenServer},
		ReplicationFactor: 1,
		AntiQuorum:        0,
		TLogPolicy:        TrivialPolicy{MinCount: 1},
		TLogLocalities:    []Locality{LocalityPrimary},
		IsLocal:           false,
		Locality:          LocalityPrimary,
	}
	old.oldLockInfosByLocality = map[Locality]LogLockInfo{
		LocalityPrimary: {
			Set:       oldGenSet,
			Replies:   []*Future[TLogLockResult]{Ready(TLogLockResult{End: 800, KnownCommittedVersion: 700}, nil)},
			EpochEnd:  InvalidVersion,
			IsCurrent: false,
		},
	}
	old.oldLockEpochEndByLocality = map[Locality]Version{LocalityPrimary: 800}

	ns, err := NewEpoch(context.Background(), old, recr, cfg, 1, LocalityPrimary, LocalityInvalid, nil, dialer, config.Default())
	require.NoError(t, err)

	require.Equal(t, Version(701), ns.logSets[0].StartVersion)
}
