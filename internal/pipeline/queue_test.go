package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePushPopOrder(t *testing.T) {
	q := NewQueue()
	q.Push("a")
	q.Push("b")
	q.Push("c")

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.PopTimeout(10 * time.Millisecond)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	require.Zero(t, q.Len())
}

func TestQueuePopTimeoutEmpty(t *testing.T) {
	q := NewQueue()

	start := time.Now()
	_, ok := q.PopTimeout(20 * time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueuePopWakesOnPush(t *testing.T) {
	q := NewQueue()

	done := make(chan string, 1)
	go func() {
		id, ok := q.PopTimeout(2 * time.Second)
		require.True(t, ok)
		done <- id
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("late")

	select {
	case id := <-done:
		require.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake on push")
	}
}

func TestQueueContains(t *testing.T) {
	q := NewQueue()
	q.Push("x")

	require.True(t, q.Contains("x"))
	require.False(t, q.Contains("y"))
}

func TestQueuePurge(t *testing.T) {
	q := NewQueue()
	q.Push("a")
	q.Push("b")
	q.Push("a")
	q.Push("c")

	require.Equal(t, 2, q.Purge("a"))
	require.Equal(t, 0, q.Purge("missing"))

	got, ok := q.PopTimeout(10 * time.Millisecond)
	require.True(t, ok)
	require.Equal(t, "b", got)
	got, ok = q.PopTimeout(10 * time.Millisecond)
	require.True(t, ok)
	require.Equal(t, "c", got)
}

func TestSlotsGPUAccounting(t *testing.T) {
	s := NewSlots(2)
	ctx := context.Background()

	require.NoError(t, s.AcquireGPU(ctx))
	require.Equal(t, 1, s.ActiveGPU())
	require.False(t, s.GPUSaturated())

	require.NoError(t, s.AcquireGPU(ctx))
	require.True(t, s.GPUSaturated())

	s.ReleaseGPU()
	require.Equal(t, 1, s.ActiveGPU())
	require.False(t, s.GPUSaturated())

	// Release beyond zero never underflows
	s.ReleaseGPU()
	s.ReleaseGPU()
	require.Zero(t, s.ActiveGPU())
}

func TestSlotsBusyTracking(t *testing.T) {
	s := NewSlots(1)

	s.Enter("cut-process")
	s.Enter("cut-process")
	require.Equal(t, 2, s.Busy("cut-process"))
	require.True(t, s.AnyBusy("cut-process", "upscale-gpu"))

	s.Exit("cut-process")
	s.Exit("cut-process")
	require.False(t, s.AnyBusy("cut-process", "upscale-gpu"))
}
