package events

import (
	"errors"
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTransferProgress)

	bus.Publish(&TransferEvent{
		BaseEvent: BaseEvent{EventType: EventTransferProgress, Time: time.Now()},
		TaskID:    "t1",
		Name:      "report.pdf",
		Progress:  50,
	})

	select {
	case received := <-ch:
		te, ok := received.(*TransferEvent)
		if !ok {
			t.Fatal("Expected TransferEvent")
		}
		if te.Name != "report.pdf" {
			t.Errorf("Expected name 'report.pdf', got '%s'", te.Name)
		}
		if te.Progress != 50 {
			t.Errorf("Expected progress 50, got %d", te.Progress)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_SubscribeMultipleTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventNotify, EventStateChange)

	bus.Notify(NotifyError, "delete", "Delete failed", "OperationFailed", errors.New("boom"))
	bus.PublishStateChange("main", "/Reports", "Ready", 3, true, false)

	got := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			got[ev.Type()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("Timeout waiting for events")
		}
	}
	if !got[EventNotify] || !got[EventStateChange] {
		t.Errorf("Expected both event types, got %v", got)
	}
}

func TestEventBus_DroppedEvents(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	_ = bus.Subscribe(EventNotify)
	bus.Notify(NotifyInfo, "upload", "one", "", nil)
	bus.Notify(NotifyInfo, "upload", "two", "", nil)

	if bus.GetDroppedEventCount() != 1 {
		t.Errorf("Expected 1 dropped event, got %d", bus.GetDroppedEventCount())
	}
}

func TestEventBus_CloseClosesChannels(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventNotify, EventStateChange)
	all := bus.SubscribeAll()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("Expected typed channel to be closed")
	}
	if _, ok := <-all; ok {
		t.Error("Expected all-events channel to be closed")
	}

	// Publishing after close is a no-op
	bus.Notify(NotifyInfo, "upload", "late", "", nil)

	late := bus.Subscribe(EventNotify)
	if _, ok := <-late; ok {
		t.Error("Expected subscription on closed bus to be closed")
	}
}

func TestEventBus_UnsubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventNotify, EventBatchComplete)
	bus.UnsubscribeAll(ch)

	if _, ok := <-ch; ok {
		t.Error("Expected unsubscribed channel to be closed")
	}
	bus.Notify(NotifyInfo, "upload", "nobody listening", "", nil)
	if bus.GetDroppedEventCount() != 0 {
		t.Errorf("Expected no drops, got %d", bus.GetDroppedEventCount())
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *EventBus
	bus.Notify(NotifyInfo, "upload", "ignored", "", nil)
}

func TestNotifyLevelString(t *testing.T) {
	if NotifySuccess.String() != "SUCCESS" {
		t.Errorf("Expected SUCCESS, got %s", NotifySuccess.String())
	}
	if NotifyLevel(99).String() != "UNKNOWN" {
		t.Error("Expected UNKNOWN for out-of-range level")
	}
}
