package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeakQueueFIFO(t *testing.T) {
	q := NewPeakQueue()
	q.Push("a")
	q.Push("b")
	q.Push("a")
	assert.Equal(t, 3, q.Len())

	ctx := context.Background()
	for _, want := range []string{"a", "b", "a"} {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, q.Len())
}

func TestPeakQueuePopWaitsForPush(t *testing.T) {
	q := NewPeakQueue()
	got := make(chan string, 1)
	go func() {
		id, _ := q.Pop(context.Background())
		got <- id
	}()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("x")
	select {
	case id := <-got:
		assert.Equal(t, "x", id)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after push")
	}
}

func TestPeakQueuePopCancelled(t *testing.T) {
	q := NewPeakQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
