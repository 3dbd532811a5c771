package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/portalworks/docbrowse/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// Browsing surface events
	EventStateChange EventType = "state_change" // Controller snapshot changed
	EventNotify      EventType = "notify"       // User-visible operation notification

	// Upload batch events
	EventTransferQueued    EventType = "transfer_queued"    // Task created at 0%
	EventTransferStarted   EventType = "transfer_started"   // Bytes started moving
	EventTransferProgress  EventType = "transfer_progress"  // Percent changed
	EventTransferCompleted EventType = "transfer_completed" // Task reached Success
	EventTransferFailed    EventType = "transfer_failed"    // Task reached Error
	EventBatchComplete     EventType = "batch_complete"     // Every task in the batch is terminal
	EventBatchDismissed    EventType = "batch_dismissed"    // Completion summary auto-dismissed
)

// NotifyLevel is the severity of a user-visible notification
type NotifyLevel int

const (
	NotifyInfo NotifyLevel = iota
	NotifySuccess
	NotifyWarn
	NotifyError
)

func (l NotifyLevel) String() string {
	switch l {
	case NotifyInfo:
		return "INFO"
	case NotifySuccess:
		return "SUCCESS"
	case NotifyWarn:
		return "WARN"
	case NotifyError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

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

// StateChangeEvent is published whenever a browsing surface changes what it renders.
// Subscribers read the full snapshot from the surface itself.
type StateChangeEvent struct {
	BaseEvent
	Surface    string // "main" or "picker"
	Path       string
	State      string
	Generation uint64
	FromCache  bool
	Search     bool
}

// NotificationEvent is a transient message scoped to one explicit operation
type NotificationEvent struct {
	BaseEvent
	Level     NotifyLevel
	Operation string // "upload", "delete", "rename", "move", "copy", "create_folder"
	Message   string
	Kind      string // Error taxonomy kind for failures, empty otherwise
	Error     error
}

// TransferEvent represents a change to one upload task
type TransferEvent struct {
	BaseEvent
	TaskID   string
	BatchID  string
	Name     string
	Size     int64
	Progress int // 0 to 100
	Error    error
}

// BatchEvent summarizes an upload batch
type BatchEvent struct {
	BaseEvent
	BatchID   string
	Path      string
	Total     int
	Succeeded int
	Failed    int
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

// Subscribe creates a subscription to one or more event types
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

// Publish sends an event to all subscribers without blocking.
// A full subscriber buffer drops the event and bumps the dropped counter.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
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

	// A channel subscribed to several types appears in several lists
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

// Notify is a convenience method for publishing notification events
func (eb *EventBus) Notify(level NotifyLevel, operation, message, kind string, err error) {
	eb.Publish(&NotificationEvent{
		BaseEvent: BaseEvent{
			EventType: EventNotify,
			Time:      time.Now(),
		},
		Level:     level,
		Operation: operation,
		Message:   message,
		Kind:      kind,
		Error:     err,
	})
}

// PublishStateChange is a convenience method for publishing state change events
func (eb *EventBus) PublishStateChange(surface, path, state string, generation uint64, fromCache, search bool) {
	eb.Publish(&StateChangeEvent{
		BaseEvent: BaseEvent{
			EventType: EventStateChange,
			Time:      time.Now(),
		},
		Surface:    surface,
		Path:       path,
		State:      state,
		Generation: generation,
		FromCache:  fromCache,
		Search:     search,
	})
}

// UnsubscribeAll removes a subscription channel from every event type and closes it
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	var found chan Event
	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				found = subCh
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			found = subCh
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}

	if found != nil {
		close(found)
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
