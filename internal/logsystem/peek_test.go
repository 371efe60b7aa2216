package logsystem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"logsystem/pkg/metrics"
)

func newPeekTestSystem(dialer ClientDialer, currentStart, oldEnd Version) *LogSystem {
	tagLocality := LocalityPrimary

	currentServer := NewServerHandle(ServerInterface{ID: "current"})
	currentSet := &LogSet{
		LogServers:        []*ServerHandle{currentServer},
		ReplicationFactor: 1,
		AntiQuorum:        0,
		TLogPolicy:        TrivialPolicy{MinCount: 1},
		TLogLocalities:    []Locality{tagLocality},
		IsLocal:           true,
		Locality:          tagLocality,
		StartVersion:      currentStart,
	}

	oldServer := NewServerHandle(ServerInterface{ID: "old"})
	oldSet := &LogSet{
		LogServers:        []*ServerHandle{oldServer},
		ReplicationFactor: 1,
		AntiQuorum:        0,
		TLogPolicy:        TrivialPolicy{MinCount: 1},
		TLogLocalities:    []Locality{tagLocality},
		IsLocal:           true,
		Locality:          tagLocality,
		StartVersion:      0,
	}

	ls := newLogSystem(dialer)
	ls.metrics = metrics.Noop{}
	ls.logSets = []*LogSet{currentSet}
	ls.oldLogData = []*OldLogData{
		{LogSets: []*LogSet{oldSet}, EpochEnd: oldEnd},
	}
	ls.epochEndVersion = InvalidVersion
	return ls
}

// S5: current epoch starts at 200; one old generation spans [0,200).
// Peeking tag X from begin=150 must stitch the old generation's [150,200)
// range ahead of the current epoch's [200,end) range.
func TestPeekAll_S5_CrossGenerationStitch(t *testing.T) {
	dialer := newFakeDialer()
	dialer.register("current", &fakeClient{peekReply: PeekReply{EndOfStream: true}})
	dialer.register("old", &fakeClient{peekReply: PeekReply{EndOfStream: true}})

	ls := newPeekTestSystem(dialer, Version(200), Version(200))

	tag := Tag{Locality: LocalityPrimary, ID: 0}
	cursor, err := ls.peekAll(context.Background(), tag, Version(150), Version(500), true)
	require.NoError(t, err)

	multi, ok := cursor.(*MultiCursor)
	require.True(t, ok, "expected a MultiCursor stitching the old and current ranges")
	require.Len(t, multi.subCursors, 2)
	require.Equal(t, Version(200), multi.boundaries[0])
}

// Peeking from begin=200 (at or after the current epoch's own start)
// needs no stitching at all.
func TestPeekAll_NoStitchWhenBeginCoversCurrentEpoch(t *testing.T) {
	dialer := newFakeDialer()
	dialer.register("current", &fakeClient{peekReply: PeekReply{EndOfStream: true}})
	dialer.register("old", &fakeClient{peekReply: PeekReply{EndOfStream: true}})

	ls := newPeekTestSystem(dialer, Version(200), Version(200))

	tag := Tag{Locality: LocalityPrimary, ID: 0}
	cursor, err := ls.peekAll(context.Background(), tag, Version(200), Version(500), true)
	require.NoError(t, err)

	_, isMulti := cursor.(*MultiCursor)
	require.False(t, isMulti)
}

// S6: a remote peek with no log routers anywhere (current epoch or any
// older generation) must return an empty cursor rather than error.
func TestPeekRemote_S6_NoRoutersAnywhere(t *testing.T) {
	dialer := newFakeDialer()
	ls := newLogSystem(dialer)
	ls.metrics = metrics.Noop{}
	ls.logSets = []*LogSet{{
		LogServers: []*ServerHandle{NewServerHandle(ServerInterface{ID: "primary"})},
		IsLocal:    true,
		Locality:   LocalityPrimary,
	}}
	ls.oldLogData = []*OldLogData{
		{LogSets: []*LogSet{{Locality: LocalityPrimary, IsLocal: true}}, EpochEnd: 100},
	}

	tag := Tag{Locality: LocalityRemoteLog, ID: 0}
	cursor, err := ls.peekRemote(context.Background(), tag, Version(0), Version(100))
	require.NoError(t, err)

	_, isEmpty := cursor.(emptyCursor)
	require.True(t, isEmpty)

	msg, ok, err := cursor.GetNext(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, Message{}, msg)
}
