package event_test

import (
	"testing"

	"github.com/seantiz/fusion/internal/event"
)

func runEvent(runID string, typ event.Type) event.Event {
	return event.Event{Type: typ, RunID: runID}
}

func drain(ch <-chan event.Event) []event.Type {
	var got []event.Type
	for ev := range ch {
		got = append(got, ev.Type)
	}
	return got
}

func TestBrokerSingleSubscriber(t *testing.T) {
	b := event.NewBroker()
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	want := []event.Type{event.RunStarted, event.StepCompleted, event.RunCompleted}
	for _, typ := range want {
		b.Publish(runEvent("r1", typ))
	}
	b.Close("r1")

	got := drain(ch)
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i, typ := range got {
		if typ != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, typ, want[i])
		}
	}
}

func TestBrokerTopicsAreIsolated(t *testing.T) {
	b := event.NewBroker()
	ch1, unsub1 := b.Subscribe("r1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("r2")
	defer unsub2()

	b.Publish(runEvent("r1", event.RunStarted))
	b.Close("r1")
	b.Close("r2")

	if got := drain(ch1); len(got) != 1 {
		t.Errorf("r1 subscriber got %v, want one event", got)
	}
	if got := drain(ch2); len(got) != 0 {
		t.Errorf("r2 subscriber got %v, want none", got)
	}
}

func TestBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := event.NewBroker()
	b.Publish(runEvent("r1", event.RunStarted))
	b.Close("r1")

	ch, unsub := b.Subscribe("r1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := event.NewBroker()
	ch, unsub := b.Subscribe("r1")
	unsub()

	b.Publish(runEvent("r1", event.RunStarted))
	b.Close("r1")

	select {
	case ev, ok := <-ch:
		if ok {
			t.Errorf("got unexpected event %q after unsubscribe", ev.Type)
		}
	default:
	}
}

func TestBrokerSubscribeAllFilters(t *testing.T) {
	b := event.NewBroker()
	ch, unsub := b.SubscribeAll(event.OfTypes(event.ExecutorRegistered, event.ExecutorUnregistered))

	b.Publish(event.Event{Type: event.ExecutorRegistered, ExecutorID: "e1"})
	b.Publish(runEvent("r1", event.RunStarted))
	b.Publish(event.Event{Type: event.ExecutorUnregistered, ExecutorID: "e1"})
	unsub()

	got := drain(ch)
	if len(got) != 2 || got[0] != event.ExecutorRegistered || got[1] != event.ExecutorUnregistered {
		t.Errorf("got %v, want [executor-registered executor-unregistered]", got)
	}
}

func TestBrokerGlobalSubscriberSeesRunEvents(t *testing.T) {
	b := event.NewBroker()
	ch, unsub := b.SubscribeAll(event.ForRun("r2"))

	b.Publish(runEvent("r1", event.RunStarted))
	b.Publish(runEvent("r2", event.RunStarted))
	b.Publish(runEvent("r2", event.RunFailed))
	unsub()

	got := drain(ch)
	if len(got) != 2 {
		t.Errorf("got %v, want two r2 events", got)
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := event.NewBroker()
	ch, unsub := b.SubscribeAll(nil)

	for i := 0; i < 200; i++ {
		b.Publish(runEvent("r1", event.StepCompleted))
	}
	unsub()

	if got := len(drain(ch)); got != 64 {
		t.Errorf("buffered %d events, want 64", got)
	}
}

func TestBrokerShutdownClosesEverything(t *testing.T) {
	b := event.NewBroker()
	runCh, unsubRun := b.Subscribe("r1")
	defer unsubRun()
	allCh, unsubAll := b.SubscribeAll(nil)
	defer unsubAll()

	b.Shutdown()
	b.Shutdown()

	if _, ok := <-runCh; ok {
		t.Error("run channel should be closed after Shutdown")
	}
	if _, ok := <-allCh; ok {
		t.Error("global channel should be closed after Shutdown")
	}

	late, _ := b.SubscribeAll(nil)
	if _, ok := <-late; ok {
		t.Error("subscription after Shutdown should be closed")
	}
	b.Publish(runEvent("r1", event.RunStarted))
}

func TestBrokerPublishToUnknownRunIsNoop(t *testing.T) {
	b := event.NewBroker()
	b.Publish(runEvent("nonexistent", event.RunStarted))
	b.Close("nonexistent")
}
