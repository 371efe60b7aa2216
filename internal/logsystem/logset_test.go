package logsystem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogSet_ValidateInvariants(t *testing.T) {
	good := &LogSet{
		LogServers:        []*ServerHandle{NewServerHandle(ServerInterface{}), NewServerHandle(ServerInterface{})},
		ReplicationFactor: 2,
		AntiQuorum:        0,
		TLogLocalities:    []Locality{LocalityPrimary, LocalityPrimary},
	}
	require.NoError(t, good.Validate())

	tooFewServers := &LogSet{
		LogServers:        []*ServerHandle{NewServerHandle(ServerInterface{})},
		ReplicationFactor: 2,
		TLogLocalities:    []Locality{LocalityPrimary},
	}
	require.Error(t, tooFewServers.Validate())

	antiQuorumTooHigh := &LogSet{
		LogServers:        []*ServerHandle{NewServerHandle(ServerInterface{}), NewServerHandle(ServerInterface{})},
		ReplicationFactor: 2,
		AntiQuorum:        2,
		TLogLocalities:    []Locality{LocalityPrimary, LocalityPrimary},
	}
	require.Error(t, antiQuorumTooHigh.Validate())

	mismatchedLocalities := &LogSet{
		LogServers:        []*ServerHandle{NewServerHandle(ServerInterface{}), NewServerHandle(ServerInterface{})},
		ReplicationFactor: 2,
		TLogLocalities:    []Locality{LocalityPrimary},
	}
	require.Error(t, mismatchedLocalities.Validate())
}

func TestLogSet_GetPushLocationsFor_BestPolicyRoutesToOneServer(t *testing.T) {
	set := &LogSet{
		LogServers:     []*ServerHandle{NewServerHandle(ServerInterface{}), NewServerHandle(ServerInterface{}), NewServerHandle(ServerInterface{})},
		TLogLocalities: []Locality{LocalityLogRouter, LocalityLogRouter, LocalityLogRouter},
		Locality:       LocalityLogRouter,
		HasBestPolicy:  true,
	}

	tag := Tag{Locality: LocalityLogRouter, ID: 7}
	locations := set.getPushLocationsFor([]Tag{tag})

	idx, ok := set.BestLocationForTag(tag)
	require.True(t, ok)

	total := 0
	for i, tags := range locations {
		if i == idx {
			require.Equal(t, []Tag{tag}, tags)
		} else {
			require.Empty(t, tags)
		}
		total += len(tags)
	}
	require.Equal(t, 1, total)
}

func TestLogSet_GetPushLocationsFor_FansOutWithoutBestPolicy(t *testing.T) {
	set := &LogSet{
		LogServers:     []*ServerHandle{NewServerHandle(ServerInterface{}), NewServerHandle(ServerInterface{})},
		TLogLocalities: []Locality{LocalityPrimary, LocalityPrimary},
		Locality:       LocalityPrimary,
	}

	tag := Tag{Locality: LocalityPrimary, ID: 1}
	locations := set.getPushLocationsFor([]Tag{tag})

	for _, tags := range locations {
		require.Equal(t, []Tag{tag}, tags)
	}
}

func TestLogSet_GetPushLocationsFor_TxnSystemTagAlwaysRoutes(t *testing.T) {
	set := &LogSet{
		LogServers:     []*ServerHandle{NewServerHandle(ServerInterface{})},
		TLogLocalities: []Locality{LocalitySatellite},
		Locality:       LocalitySatellite,
	}

	tag := Tag{Locality: LocalityTxnSystem, ID: 0}
	locations := set.getPushLocationsFor([]Tag{tag})
	require.Equal(t, []Tag{tag}, locations[0])
}
