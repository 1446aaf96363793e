package lsp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunPendingOrder(t *testing.T) {
	l := NewLoop()
	var got []int
	l.Post(func() {
		got = append(got, 1)
		l.Post(func() { got = append(got, 3) })
	})
	l.Post(func() { got = append(got, 2) })
	l.Post(nil)

	assert.Equal(t, 3, l.RunPending())
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, l.RunPending())

	stats := l.Stats()
	assert.Equal(t, uint64(3), stats.Posted)
	assert.Equal(t, uint64(3), stats.Processed)
	assert.Zero(t, stats.Queued)
}

func TestLoop_RunAndCall(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, l.Running, time.Second, time.Millisecond)

	n := 0
	for range 100 {
		require.NoError(t, l.Call(context.Background(), func() { n++ }))
	}
	assert.Equal(t, 100, n)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, l.Running())
}

func TestLoop_CallTimesOutWithoutRunner(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ran := false
	err := l.Call(ctx, func() { ran = true })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Stats().Queued)

	l.RunPending()
	assert.True(t, ran, "the call still runs once the loop is serviced")
}
