package dispatch

import "testing"

func TestEventQueuePublishAndDrain(t *testing.T) {
	q := newEventQueue(4)
	q.publish(StatusEvent{DispatchID: "d1", Status: "RUNNING"})
	q.publish(StatusEvent{DispatchID: "d1", Status: "COMPLETED"})

	ev := <-q.events()
	if ev.Status != "RUNNING" {
		t.Errorf("first event status = %q, want RUNNING", ev.Status)
	}
	ev = <-q.events()
	if ev.Status != "COMPLETED" {
		t.Errorf("second event status = %q, want COMPLETED", ev.Status)
	}
}

func TestEventQueueCloseDoesNotPanic(t *testing.T) {
	q := newEventQueue(4)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			q.publish(StatusEvent{DispatchID: "d1"})
		}
		close(done)
	}()

	q.close()
	<-done

	select {
	case <-q.Done():
	default:
		t.Error("expected Done() to be closed after close()")
	}
}
