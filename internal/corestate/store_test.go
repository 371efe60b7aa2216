package corestate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"logsystem/internal/logsystem"
)

func TestMemStore_ReadBeforeWriteReportsAbsent(t *testing.T) {
	store := NewMemStore()
	_, present, err := store.Read(context.Background())
	require.NoError(t, err)
	require.False(t, present)
}

func TestMemStore_WriteThenReadRoundTrips(t *testing.T) {
	store := NewMemStore()
	state := logsystem.DBCoreState{LogSystemType: 2, LogRouterTags: 4}

	require.NoError(t, store.Write(context.Background(), state))

	got, present, err := store.Read(context.Background())
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, state, got)
}

func TestMemStore_WatchFiresOnWrite(t *testing.T) {
	store := NewMemStore()
	watch := store.Watch(context.Background())

	go func() {
		_ = store.Write(context.Background(), logsystem.DBCoreState{LogSystemType: 2})
	}()

	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("watch did not fire after Write")
	}
}

func TestMarshalUnmarshal_RoundTrips(t *testing.T) {
	state := logsystem.DBCoreState{
		LogSystemType: 2,
		LogRouterTags: 3,
		TLogs: []logsystem.CoreTLogSet{{
			TLogs:             []string{"a", "b"},
			ReplicationFactor: 2,
		}},
	}

	b, err := marshal(state)
	require.NoError(t, err)

	got, err := unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, state, got)
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	_, err := unmarshal([]byte("not json"))
	require.Error(t, err)
}
