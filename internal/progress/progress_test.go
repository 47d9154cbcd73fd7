package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/models"
)

var errBusy = errors.New("503 Service Unavailable")

func lifecycle(a, b *models.File) []*events.Event {
	return []*events.Event{
		{Name: events.TaskInitialize, Detail: events.Detail{ID: "1", File: a}},
		{Name: events.TaskInitialize, Detail: events.Detail{ID: "2", File: b}},
		{Name: events.FormStart},
		{Name: events.TaskStart, Detail: events.Detail{ID: "1", File: a}},
		{Name: events.TaskProgress, Detail: events.Detail{ID: "1", File: a, Progress: 0.5}},
		{Name: events.TaskProgress, Detail: events.Detail{ID: "1", File: a, Progress: 1}},
		{Name: events.TaskEnd, Detail: events.Detail{ID: "1", File: a}},
		{Name: events.TaskStart, Detail: events.Detail{ID: "2", File: b}},
		{Name: events.TaskError, Detail: events.Detail{ID: "2", File: b, Error: errBusy}},
		{Name: events.TaskError, Detail: events.Detail{File: b, Error: errBusy}},
	}
}

func TestUploadUI_PlainLines(t *testing.T) {
	var out bytes.Buffer
	ui := NewUploadUI(&out, false)
	a := &models.File{Name: "a.png", Path: "/home/me/pics/a.png", Size: 1024}
	b := &models.File{Name: "b.png", Size: 10}

	for _, e := range lifecycle(a, b) {
		ui.Handle(e)
	}
	ui.Handle(nil)
	ui.Wait()

	got := out.String()
	for _, want := range []string{
		"Uploading [1/2]: …/pics/a.png (1.0 KB)",
		"✓ …/pics/a.png",
		"Uploading [2/2]: b.png",
		"✗ b.png: 503 Service Unavailable",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "✗"); n != 1 {
		t.Errorf("failure printed %d times:\n%s", n, got)
	}
	if ui.IsTerminal() || ui.Writer() != &out {
		t.Error("plain mode writes straight to the output")
	}
}

func TestUploadUI_CancelAndSummary(t *testing.T) {
	var out bytes.Buffer
	ui := NewUploadUI(&out, false)
	a := &models.File{Name: "a.png", Size: 1}

	ui.Handle(&events.Event{Name: events.TaskInitialize, Detail: events.Detail{ID: "1", File: a}})
	ui.Handle(&events.Event{Name: events.TaskCancel, Detail: events.Detail{ID: "1", File: a}})
	ui.Handle(&events.Event{Name: events.TaskCancel, Detail: events.Detail{ID: "1", File: a}})
	ui.Handle(&events.Event{Name: events.FormEnd})

	got := out.String()
	if strings.Count(got, "cancelled") != 1 {
		t.Errorf("cancel should print once:\n%s", got)
	}
	if !strings.Contains(got, "Uploaded 0/1 files") {
		t.Errorf("summary missing:\n%s", got)
	}
}

func TestQueueBar_TracksQueueBytes(t *testing.T) {
	var out bytes.Buffer
	q := NewQueueBar(&out)
	a := &models.File{Name: "a.png", Size: 100}
	b := &models.File{Name: "b.png", Size: 50}
	c := &models.File{Name: "c.png", Size: 25}

	q.Handle(&events.Event{Name: events.TaskInitialize, Detail: events.Detail{ID: "3", File: c}})
	q.Handle(&events.Event{Name: events.TaskCancel, Detail: events.Detail{ID: "3", File: c}})
	for _, e := range lifecycle(a, b) {
		q.Handle(e)
	}

	sent, total := q.Sent()
	if total != 150 {
		t.Errorf("total = %d, want 150 after the cancel", total)
	}
	if sent != 100 {
		t.Errorf("sent = %d, want 100", sent)
	}
	if n := strings.Count(out.String(), "Error: 503 Service Unavailable"); n != 1 {
		t.Errorf("error printed %d times:\n%s", n, out.String())
	}
}

func TestWatch(t *testing.T) {
	bus := events.NewEventBus(16)
	var out bytes.Buffer
	ui := NewUploadUI(&out, false)
	stop := Watch(bus, ui)

	a := &models.File{Name: "a.png", Size: 1}
	bus.Publish(&events.Event{Name: events.TaskInitialize, Detail: events.Detail{ID: "1", File: a}})
	bus.Publish(&events.Event{Name: events.TaskStart, Detail: events.Detail{ID: "1", File: a}})
	bus.Publish(&events.Event{Name: events.TaskEnd, Detail: events.Detail{ID: "1", File: a}})
	stop()
	stop()

	if !strings.Contains(out.String(), "✓ a.png") {
		t.Errorf("watched events not rendered:\n%s", out.String())
	}
}

func TestNew(t *testing.T) {
	var out bytes.Buffer
	if _, ok := New(ModeNone, &out).(*NoOp); !ok {
		t.Error("none mode should not render")
	}
	if _, ok := New(ModeSimple, &out).(*QueueBar); !ok {
		t.Error("simple mode should use the queue bar")
	}
	ui, ok := New(ModeBars, &out).(*UploadUI)
	if !ok || ui.IsTerminal() {
		t.Error("bars mode on a buffer should print plain lines")
	}
	if IsTerminal(&out) {
		t.Error("a buffer is not a terminal")
	}
}
