package queue_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ydb-platform/ydb-go-topic/internal/queue"
)

func TestPriorityOrderingAndFIFOWithinPriority(t *testing.T) {
	q := queue.New()
	q.Push("low-1", 5)
	q.Push("ctrl-1", 0)
	q.Push("low-2", 5)
	q.Push("ctrl-2", 0)

	var got []string
	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		got = append(got, v.(string))
	}

	require.Equal(t, []string{"ctrl-1", "ctrl-2", "low-1", "low-2"}, got)
}

func TestCloseEndsIteration(t *testing.T) {
	q := queue.New()
	q.Push("a", 0)
	q.Close()

	_, ok := q.Pop()
	require.False(t, ok)
}
