// Package workflowevents implements the workflow runtime's two
// observability channels on top of pkg/repository's durable tables:
// "events" (current-value key/value, DBOS set_event/get_event) and
// "streams" (append-only monotonic logs, DBOS write_stream/read_stream).
// A Bus fans newly-appended step_events out to live SSE subscribers,
// adapted from the teacher's pkg/events.ConnectionManager subscription
// bookkeeping — channel-keyed subscriber sets under a mutex, with
// catchup served from the database rather than WebSocket push.
package workflowevents

import (
	"context"
	"sync"

	"github.com/boringdata/kurt/pkg/models"
	"github.com/boringdata/kurt/pkg/repository"
)

// Channels wraps a WorkflowRepository with the narrow get/set and
// read/write-stream vocabulary steps actually call.
type Channels struct {
	repo *repository.WorkflowRepository
}

func NewChannels(repo *repository.WorkflowRepository) *Channels {
	return &Channels{repo: repo}
}

// SetEvent overwrites the current value of key for runID.
func (c *Channels) SetEvent(ctx context.Context, runID, key string, value any) error {
	return c.repo.SetEvent(ctx, runID, key, value)
}

// GetEvent returns the current value for key, or ok=false if unset.
func (c *Channels) GetEvent(ctx context.Context, runID, key string, dest any) (bool, error) {
	return c.repo.GetEvent(ctx, runID, key, dest)
}

// WriteStream appends value to stream for runID and returns its
// monotonic offset.
func (c *Channels) WriteStream(ctx context.Context, runID, stream string, value any) (int64, error) {
	return c.repo.AppendStream(ctx, runID, stream, value)
}

// ReadStream returns every stream entry for runID after sinceOffset.
func (c *Channels) ReadStream(ctx context.Context, runID, stream string, sinceOffset int64) ([]repository.StreamEntry, error) {
	return c.repo.ReadStream(ctx, runID, stream, sinceOffset)
}

// Bus fans out newly-appended step_events to live subscribers of a
// workflow run, so Runtime.StreamEvents doesn't have to poll the
// database on a tight loop. Each run_id maps to a set of
// unbuffered-enough subscriber channels; Publish never blocks on a
// slow subscriber beyond its channel's buffer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *models.StepEvent]struct{}
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]map[chan *models.StepEvent]struct{})}
}

// Subscribe registers a new subscriber for runID and returns its
// channel plus an unsubscribe function the caller must call when done
// (typically via defer when the SSE connection closes).
func (b *Bus) Subscribe(runID string) (<-chan *models.StepEvent, func()) {
	ch := make(chan *models.StepEvent, 64)

	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = make(map[chan *models.StepEvent]struct{})
	}
	b.subscribers[runID][ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subscribers[runID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subscribers, runID)
			}
		}
		close(ch)
	}
	return ch, unsubscribe
}

// Publish fans event out to every live subscriber of its run. A
// subscriber whose buffer is full is skipped for this event rather
// than blocking the publisher; it will still see subsequent events
// and can always fall back to catchup via ListEventsSince.
func (b *Bus) Publish(event *models.StepEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.RunID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports how many live subscribers runID has,
// exposed for tests and health/status reporting.
func (b *Bus) SubscriberCount(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[runID])
}
