package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_Order(t *testing.T) {
	q := NewInMemoryQueue(0)
	ctx := context.Background()

	require.NoError(t, q.Push(&Task{ID: "a", Priority: 0}))
	require.NoError(t, q.Push(&Task{ID: "b", Priority: 5}))
	require.NoError(t, q.Push(&Task{ID: "c", Priority: 0}))
	require.NoError(t, q.Push(&Task{ID: "d", Priority: 5}))
	assert.Equal(t, 4, q.Size())

	var got []string
	for i := 0; i < 4; i++ {
		task, err := q.Pop(ctx)
		require.NoError(t, err)
		got = append(got, task.ID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)

	_, err := q.TryPop()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestInMemoryQueue_Full(t *testing.T) {
	q := NewInMemoryQueue(1)

	require.NoError(t, q.Push(&Task{ID: "a"}))
	assert.ErrorIs(t, q.Push(&Task{ID: "b"}), ErrQueueFull)
}

func TestInMemoryQueue_BlockingPop(t *testing.T) {
	q := NewInMemoryQueue(0)

	got := make(chan string, 1)
	go func() {
		task, err := q.Pop(context.Background())
		if err == nil {
			got <- task.ID
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(&Task{ID: "late"}))

	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after push")
	}
}

func TestInMemoryQueue_PopCancelled(t *testing.T) {
	q := NewInMemoryQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueue_CloseReleasesAllConsumers(t *testing.T) {
	q := NewInMemoryQueue(0)

	const consumers = 4
	var wg sync.WaitGroup
	errs := make(chan error, consumers)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumers still blocked after close")
	}

	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrQueueClosed)
	}
	assert.ErrorIs(t, q.Push(&Task{ID: "x"}), ErrQueueClosed)
}

func TestInMemoryQueue_DrainsBeforeClosed(t *testing.T) {
	q := NewInMemoryQueue(0)
	require.NoError(t, q.Push(&Task{ID: "a"}))
	require.NoError(t, q.Close())

	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", task.ID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}
