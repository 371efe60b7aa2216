package logsystem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFuture_SettleOnceWinsAndRepeatsAreSafe(t *testing.T) {
	f, settle := NewFuture[int]()

	_, _, ok := f.TryGet()
	require.False(t, ok)

	settle(7, nil)
	settle(9, errors.New("should be ignored"))

	v, err, ok := f.TryGet()
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, 7, v)

	// TryGet and Wait are safely repeatable.
	v2, err2, ok2 := f.TryGet()
	require.True(t, ok2)
	require.NoError(t, err2)
	require.Equal(t, 7, v2)

	v3, err3 := f.Wait(context.Background())
	require.NoError(t, err3)
	require.Equal(t, 7, v3)
}

func TestFuture_WaitRespectsCancellation(t *testing.T) {
	f, _ := NewFuture[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBrokenPromiseToNever(t *testing.T) {
	_, err, real := brokenPromiseToNever(0, ErrBrokenPromise)
	require.NoError(t, err)
	require.False(t, real)

	v, err, real := brokenPromiseToNever(5, nil)
	require.True(t, real)
	require.NoError(t, err)
	require.Equal(t, 5, v)
}

func TestQuorum_SucceedsOnceKSettle(t *testing.T) {
	fs := make([]*Future[int], 5)
	settles := make([]func(int, error), 5)
	for i := range fs {
		fs[i], settles[i] = NewFuture[int]()
	}

	go func() {
		settles[0](1, nil)
		settles[1](2, nil)
		settles[2](3, errors.New("lag"))
	}()

	result, err := quorum(context.Background(), fs, 2)
	require.NoError(t, err)
	require.Len(t, result.values, 2)
}

func TestQuorum_FailsWhenSuccessBecomesImpossible(t *testing.T) {
	fs := make([]*Future[int], 3)
	settles := make([]func(int, error), 3)
	for i := range fs {
		fs[i], settles[i] = NewFuture[int]()
	}

	failure := errors.New("down")
	settles[0](0, failure)
	settles[1](0, failure)
	settles[2](1, nil)

	_, err := quorum(context.Background(), fs, 2)
	require.ErrorIs(t, err, failure)
}

func TestWaitForAll_ReturnsFirstError(t *testing.T) {
	first := errors.New("first")
	fs := []*Future[int]{
		Ready(1, nil),
		Ready(0, first),
		Ready(3, errors.New("second")),
	}

	values, err := waitForAll(context.Background(), fs)
	require.ErrorIs(t, err, first)
	require.Equal(t, []int{1, 0, 3}, values)
}
