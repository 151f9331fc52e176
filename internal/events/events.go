// Package events carries transfer queue notifications from the queue manager to
// whatever presentation layer is attached (CLI progress board, logs, tests).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/earthanddusk/hfbackup/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventTaskQueued     EventType = "task_queued"     // Task added to pending
	EventTaskStarted    EventType = "task_started"    // Task dispatched to a worker
	EventTaskProgress   EventType = "task_progress"   // Progress percentage changed
	EventTaskStatus     EventType = "task_status"     // Human-readable status line from a worker
	EventTaskCancelling EventType = "task_cancelling" // Cancellation requested for a running task
	EventTaskFinished   EventType = "task_finished"   // Task reached Completed, Failed or Cancelled
	EventTaskRemoved    EventType = "task_removed"    // Task dropped from the registry

	EventQueueSettled  EventType = "queue_settled"  // Pending and active both empty after a session
	EventConfigWarning EventType = "config_warning" // A setting was malformed and a default was used
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TaskEvent describes a change to a single task.
type TaskEvent struct {
	BaseEvent
	TaskID   string
	Kind     string // "upload" or "download"
	Name     string // display name (file name or source)
	Status   string
	Progress int // 0-100
	Message  string
	Err      error // set on failed finishes
}

// SettledEvent is published once per session when the queue drains.
type SettledEvent struct {
	BaseEvent
	Submitted int
	Completed int
	Failed    int
	Cancelled int
	Outcome   string
	Message   string
	Duration  time.Duration
}

// ConfigWarningEvent reports a setting that fell back to its default.
type ConfigWarningEvent struct {
	BaseEvent
	Key     string
	Message string
}

// NewTaskEvent stamps a TaskEvent with the current time.
func NewTaskEvent(eventType EventType, taskID, kind, name string) *TaskEvent {
	return &TaskEvent{
		BaseEvent: BaseEvent{EventType: eventType, Time: time.Now()},
		TaskID:    taskID,
		Kind:      kind,
		Name:      name,
	}
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to one or more event types.
func (eb *EventBus) Subscribe(eventTypes ...EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	for _, et := range eventTypes {
		eb.subscribers[et] = append(eb.subscribers[et], ch)
	}
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events for a full
// subscriber are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	// A channel subscribed to several types appears several times.
	seen := make(map[chan Event]struct{})
	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from every list it appears in.
// The channel is not closed.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
