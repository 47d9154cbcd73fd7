package history

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/logging"
	"github.com/rescale/dndupload/internal/models"
)

// Recorder turns task lifecycle events into history entries for one session.
type Recorder struct {
	store   *Store
	session string
	logger  *logging.Logger

	mu  sync.Mutex
	ids map[*models.File]string
}

// NewRecorder creates a recorder with a fresh session id.
func NewRecorder(store *Store, logger *logging.Logger) *Recorder {
	return &Recorder{
		store:   store,
		session: uuid.NewString(),
		logger:  logging.OrNop(logger).Child("history"),
		ids:     make(map[*models.File]string),
	}
}

// Session returns the id shared by every entry this recorder writes.
func (r *Recorder) Session() string {
	return r.session
}

// Handle records e. Events that carry no upload state are ignored.
func (r *Recorder) Handle(ctx context.Context, e *events.Event) error {
	if e == nil {
		return nil
	}

	var status Status
	switch e.Name {
	case events.TaskInitialize:
		status = StatusQueued
	case events.TaskStart:
		status = StatusUploading
	case events.TaskEnd:
		status = StatusCompleted
	case events.TaskError:
		status = StatusFailed
	case events.TaskCancel:
		status = StatusCancelled
	default:
		return nil
	}

	id := r.uploadID(e.Detail)
	errMsg := ""
	if e.Detail.Error != nil {
		errMsg = e.Detail.Error.Error()
	}
	return r.store.Record(ctx, r.session, id, e.Detail.File, status, errMsg)
}

// uploadID returns the detail's id, or the id last seen for the same file.
// Failures reported by the queue carry the file but no id.
func (r *Recorder) uploadID(d events.Detail) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID != "" {
		if d.File != nil {
			r.ids[d.File] = d.ID
		}
		return d.ID
	}
	if d.File != nil {
		return r.ids[d.File]
	}
	return ""
}

// Watch records every event published on bus until the returned stop
// function is called. stop waits for buffered events to be written.
func (r *Recorder) Watch(ctx context.Context, bus *events.EventBus) (stop func()) {
	ch := bus.SubscribeAll()
	done := make(chan struct{})
	writeCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(done)
		for e := range ch {
			if err := r.Handle(writeCtx, e); err != nil {
				r.logger.Warn().Err(err).Str("event", e.Name).Msg("failed to record upload")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			bus.UnsubscribeAll(ch)
			<-done
		})
	}
}
