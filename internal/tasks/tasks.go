package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
)

// Task type identifiers used by the enqueue side and the worker mux.
const (
	// TypeEventPersist writes one accepted event to the durable log.
	TypeEventPersist = "event:persist"
	// TypeSnapshotCheck periodically compacts active project graphs.
	TypeSnapshotCheck = "snapshot:check"
	// TypeSessionSweep evicts sessions with stale heartbeats.
	TypeSessionSweep = "session:sweep"
)

// EventPersistPayload carries the full event so the worker can retry
// the durable write without consulting the replay window, which may
// have rotated past the event by then.
type EventPersistPayload struct {
	Event domain.CollabEvent
}

// NewEventPersistTask serializes an event into a task payload.
func NewEventPersistTask(ev *domain.CollabEvent) ([]byte, error) {
	payload := EventPersistPayload{Event: *ev}
	return json.Marshal(payload)
}

// Queue wraps an asynq client as the persistence queue the broadcaster
// hands accepted events to. Enqueue failures surface to the caller,
// which flips the project into degraded mode.
type Queue struct {
	client *asynq.Client
}

// NewQueue creates a Queue backed by the given asynq client.
func NewQueue(client *asynq.Client) *Queue {
	if client == nil {
		panic("asynq client cannot be nil for task Queue")
	}
	return &Queue{client: client}
}

// EnqueueEventPersist schedules a durable write for one event. Retries
// use asynq's default exponential backoff so a database outage drains
// once the database returns.
func (q *Queue) EnqueueEventPersist(ev *domain.CollabEvent) error {
	payloadBytes, err := NewEventPersistTask(ev)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeEventPersist, payloadBytes)
	_, err = q.client.Enqueue(task,
		asynq.Queue("critical"),
		asynq.MaxRetry(25),
		asynq.Timeout(30*time.Second),
	)
	return err
}

// Close releases the underlying asynq client connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
