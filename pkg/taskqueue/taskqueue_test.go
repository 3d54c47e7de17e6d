package taskqueue

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueRunsAllSubmittedTasks(t *testing.T) {
	q := New("test", 3)
	var ran atomic.Int64

	for i := 0; i < 20; i++ {
		q.Submit(context.Background(), func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	q.Wait()

	assert.EqualValues(t, 20, ran.Load())
	stats := q.Stats()
	assert.EqualValues(t, 20, stats.Submitted)
	assert.EqualValues(t, 20, stats.Completed)
	assert.Zero(t, stats.Failed)
}

func TestQueueTracksFailures(t *testing.T) {
	q := New("test", 2)

	q.Submit(context.Background(), func(ctx context.Context) error { return assertErr })
	q.Submit(context.Background(), func(ctx context.Context) error { return nil })
	q.Wait()

	stats := q.Stats()
	assert.EqualValues(t, 2, stats.Submitted)
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 1, stats.Failed)
}

func TestQueueIgnoresSubmitsAfterCancel(t *testing.T) {
	q := New("test", 1)
	var ran atomic.Bool

	q.Cancel()
	q.Submit(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	q.Wait()

	assert.False(t, ran.Load())
}

var assertErr = errDummy{}

type errDummy struct{}

func (errDummy) Error() string { return "dummy failure" }
