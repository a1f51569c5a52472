package client

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/testutil/testlog"
)

func TestRequestContextSignalBeforeWait(t *testing.T) {
	testlog.Start(t)
	r := NewRequestContext(nil)
	require.False(t, r.Signaled())

	want := errors.New("boom")
	r.Signal(want)
	require.True(t, r.Signaled())
	require.ErrorIs(t, r.Wait(), want)
	require.ErrorIs(t, r.Result(), want)
}

func TestRequestContextBroadcastWakesAllWaiters(t *testing.T) {
	testlog.Start(t)
	r := NewRequestContext(nil)

	var wg sync.WaitGroup
	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Wait()
		}()
	}
	time.Sleep(20 * time.Millisecond)
	r.Broadcast(nil)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatalf("waiters not released")
	}
	close(results)
	for err := range results {
		require.NoError(t, err)
	}
}

func TestRequestContextSetResultDoesNotWake(t *testing.T) {
	testlog.Start(t)
	r := NewRequestContext(nil)
	r.SetResult(ErrConnectionLost)
	require.False(t, r.Signaled())
	require.ErrorIs(t, r.Result(), ErrConnectionLost)
}

func TestRequestContextDestroyUnowned(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, NewRequestContext(nil).Destroy())
}
