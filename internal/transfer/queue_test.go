package transfer

import (
	"sync"
	"testing"

	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/models"
)

type stubTask struct {
	Base
}

func (s *stubTask) Start(onComplete func(error)) { onComplete(nil) }

func newStub(id string) *stubTask {
	s := &stubTask{Base: Base{Payload: &models.File{Name: id + ".dat"}}}
	s.SetID(id)
	return s
}

func ids(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.ID()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Queue tests

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	q.PushBack(newStub("1"))
	q.PushBack(newStub("2"))
	q.PushBack(newStub("3"))
	q.PushBack(nil)

	if q.Len() != 3 {
		t.Fatalf("Expected 3 tasks, got %d", q.Len())
	}

	for _, want := range []string{"1", "2", "3"} {
		task, ok := q.PopFront()
		if !ok {
			t.Fatalf("Expected task %s, queue was empty", want)
		}
		if task.ID() != want {
			t.Errorf("Expected task %s, got %s", want, task.ID())
		}
	}

	if _, ok := q.PopFront(); ok {
		t.Error("PopFront on an empty queue should report false")
	}
}

func TestQueue_RemoveByID(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"1", "2", "3", "4"} {
		q.PushBack(newStub(id))
	}

	task, ok := q.RemoveByID("3")
	if !ok || task.ID() != "3" {
		t.Fatalf("Expected to remove task 3, got %v %v", task, ok)
	}

	if got := ids(q.Snapshot()); !equal(got, []string{"1", "2", "4"}) {
		t.Errorf("Order changed after removal: %v", got)
	}

	if _, ok := q.RemoveByID("3"); ok {
		t.Error("A removed task must not be found again")
	}
	if _, ok := q.RemoveByID("missing"); ok {
		t.Error("Unknown id should not match")
	}
	if q.Len() != 3 {
		t.Errorf("Failed lookups must not remove anything, have %d", q.Len())
	}
}

func TestQueue_RemoveByIDIgnoresUnassigned(t *testing.T) {
	q := NewQueue()
	q.PushBack(newStub(""))
	q.PushBack(newStub("5"))

	if _, ok := q.RemoveByID(""); ok {
		t.Error("Tasks without an id should never match")
	}
	if q.Len() != 2 {
		t.Errorf("Expected 2 tasks, got %d", q.Len())
	}
}

func TestQueue_ClearAll(t *testing.T) {
	q := NewQueue()
	q.PushBack(newStub("1"))
	q.PushBack(newStub("2"))

	if n := q.ClearAll(); n != 2 {
		t.Errorf("Expected 2 cleared, got %d", n)
	}
	if q.Len() != 0 {
		t.Errorf("Queue should be empty, has %d", q.Len())
	}
	if n := q.ClearAll(); n != 0 {
		t.Errorf("Clearing an empty queue should report 0, got %d", n)
	}
}

func TestQueue_SnapshotIsACopy(t *testing.T) {
	q := NewQueue()
	q.PushBack(newStub("1"))

	snap := q.Snapshot()
	q.PushBack(newStub("2"))
	q.PopFront()

	if len(snap) != 1 || snap[0].ID() != "1" {
		t.Errorf("Snapshot should not follow later mutations: %v", ids(snap))
	}
}

func TestQueue_ConcurrentAccess(t *testing.T) {
	q := NewQueue()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.PushBack(newStub("x"))
		}()
	}
	wg.Wait()

	popped := 0
	for {
		if _, ok := q.PopFront(); !ok {
			break
		}
		popped++
	}
	if popped != 50 {
		t.Errorf("Expected 50 tasks, popped %d", popped)
	}
}

// Dispatch capability tests

func TestDispatch_ZeroValueIsWithout(t *testing.T) {
	var d Dispatch
	if d.Available() {
		t.Error("Zero Dispatch should be unavailable")
	}
	if d.Fire("cancel") != nil {
		t.Error("Unavailable Dispatch should fire nothing")
	}
	if WithoutDispatch().Available() {
		t.Error("WithoutDispatch should be unavailable")
	}
}

func TestDispatch_WithDispatch(t *testing.T) {
	var fired []string
	d := WithDispatch(func(name string) *events.Event {
		fired = append(fired, name)
		return &events.Event{Name: events.TaskEvent(name)}
	})

	if !d.Available() {
		t.Fatal("WithDispatch should be available")
	}
	event := d.Fire("cancel")
	if event == nil || event.Name != events.TaskCancel {
		t.Errorf("Expected %s, got %v", events.TaskCancel, event)
	}
	if len(fired) != 1 || fired[0] != "cancel" {
		t.Errorf("Unexpected fired names %v", fired)
	}
}

func TestScopedDispatch(t *testing.T) {
	if ScopedDispatch(nil, Base{}.Input, nil).Available() {
		t.Error("ScopedDispatch without a dispatcher should be unavailable")
	}

	d := events.NewDispatcher(nil)
	task := newStub("9")
	task.Capability = ScopedDispatch(d, task.Input, task.Detail)

	event := task.Dispatch().Fire("progress")
	if event == nil {
		t.Fatal("Expected an event")
	}
	if event.Name != events.TaskProgress {
		t.Errorf("Expected %s, got %s", events.TaskProgress, event.Name)
	}
	if event.Detail.ID != "9" || event.Detail.File.Name != "9.dat" {
		t.Errorf("Unexpected detail %+v", event.Detail)
	}
}
