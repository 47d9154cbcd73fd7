// Package upload builds the upload tasks the coordinator queues. A task
// sends one file through a cloud.Uploader and reports its lifecycle as
// dnd-upload:* events on the input it came from.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/dom"
	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/logging"
	"github.com/rescale/dndupload/internal/models"
	"github.com/rescale/dndupload/internal/transfer"
)

// Construction failures. All of them wrap transfer.ErrConstruction.
var (
	ErrNoFile      = fmt.Errorf("%w: no file", transfer.ErrConstruction)
	ErrDirectory   = fmt.Errorf("%w: directories cannot be uploaded", transfer.ErrConstruction)
	ErrNoName      = fmt.Errorf("%w: file has no name", transfer.ErrConstruction)
	ErrTooLarge    = fmt.Errorf("%w: file exceeds the size limit", transfer.ErrConstruction)
	ErrNoUploadURL = fmt.Errorf("%w: input has no direct upload URL", transfer.ErrConstruction)
)

// errAlreadyStarted is reported when Start is called twice on one task.
var errAlreadyStarted = errors.New("upload task already started")

// endpointResolver is implemented by uploaders that need a per-input URL.
type endpointResolver interface {
	Endpoint(params cloud.UploadParams) string
}

// Options configures a Factory.
type Options struct {
	// MaxFileSize rejects larger files at construction. Zero disables the check.
	MaxFileSize int64
	// Logger may be nil.
	Logger *logging.Logger
	// OutputWriter receives timing lines (DNDUPLOAD_TIMING=1). Nil means stderr.
	OutputWriter io.Writer
}

// Factory builds upload tasks for one document. Its NewTask method is a
// transfer.TaskFactory.
type Factory struct {
	ctx        context.Context
	uploader   cloud.Uploader
	dispatcher *events.Dispatcher
	doc        *dom.Document
	opts       Options
	logger     *logging.Logger

	seq   atomic.Int64
	mu    sync.Mutex
	tasks []*Task
}

// NewFactory creates a factory. ctx bounds every transfer the factory's
// tasks run; dispatcher and doc may be nil, in which case tasks fire no
// events and touch no markup.
func NewFactory(ctx context.Context, uploader cloud.Uploader, dispatcher *events.Dispatcher, doc *dom.Document, opts Options) *Factory {
	return &Factory{
		ctx:        ctx,
		uploader:   uploader,
		dispatcher: dispatcher,
		doc:        doc,
		opts:       opts,
		logger:     logging.OrNop(opts.Logger).Child("upload"),
	}
}

// NewTask validates file and builds its task. On success the task has fired
// dnd-upload:initialize; on failure nothing was built and the error wraps
// transfer.ErrConstruction.
func (f *Factory) NewTask(input dom.Input, file *models.File) (transfer.Task, error) {
	if err := f.validate(input, file); err != nil {
		return nil, err
	}

	t := &Task{factory: f}
	t.Input = input
	t.Payload = file
	t.SetID(strconv.FormatInt(f.seq.Add(1), 10))
	if f.doc != nil {
		t.Icons = f.doc.GetElementByID(input.IconContainerID())
	}
	t.Capability = transfer.ScopedDispatch(f.dispatcher, input, t.detail)

	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	f.mu.Unlock()

	f.logger.Debug().Str("id", t.ID()).Str("file", file.Name).Int64("size", file.Size).Msg("task built")
	t.Capability.Fire("initialize")
	return t, nil
}

// Tasks returns every task the factory built, in construction order.
func (f *Factory) Tasks() []*Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Task, len(f.tasks))
	copy(out, f.tasks)
	return out
}

func (f *Factory) validate(input dom.Input, file *models.File) error {
	switch {
	case file == nil:
		return ErrNoFile
	case file.IsDir:
		return fmt.Errorf("%s: %w", file.Path, ErrDirectory)
	case file.Name == "":
		return ErrNoName
	case f.opts.MaxFileSize > 0 && file.Size > f.opts.MaxFileSize:
		return fmt.Errorf("%s is %s, limit %s: %w", file.Name,
			cloud.FormatBytes(file.Size), cloud.FormatBytes(f.opts.MaxFileSize), ErrTooLarge)
	}
	if r, ok := f.uploader.(endpointResolver); ok {
		if r.Endpoint(cloud.UploadParams{File: file, DirectUploadURL: input.DirectUploadURL()}) == "" {
			return fmt.Errorf("%s: %w", file.Name, ErrNoUploadURL)
		}
	}
	return nil
}

// Task uploads one file. Its id is a local sequence number assigned at
// construction.
type Task struct {
	transfer.Base

	factory *Factory

	mu       sync.Mutex
	started  bool
	progress float64
	result   *cloud.UploadResult
	err      error
	field    *html.Node
}

// Start runs the transfer on its own goroutine and calls onComplete once
// from it.
func (t *Task) Start(onComplete func(error)) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		onComplete(errAlreadyStarted)
		return
	}
	t.started = true
	t.mu.Unlock()

	go func() {
		err := t.run(t.factory.ctx)
		onComplete(err)
	}()
}

func (t *Task) run(ctx context.Context) error {
	f := t.factory
	file := t.Payload
	logger := f.logger.With().Str("id", t.ID()).Str("file", file.Name).Logger()

	t.insertField()
	t.Capability.Fire("start")

	params := cloud.UploadParams{
		File:             file,
		DirectUploadURL:  t.Input.DirectUploadURL(),
		ProgressCallback: t.reportProgress,
		OutputWriter:     f.opts.OutputWriter,
	}

	timer := cloud.StartTimer(f.opts.OutputWriter, "task "+file.Name)

	res, err := f.uploader.Reserve(ctx, params)
	if err == nil {
		var result *cloud.UploadResult
		result, err = f.uploader.Upload(ctx, params, res)
		if err == nil {
			t.mu.Lock()
			t.result = result
			t.mu.Unlock()
		}
	}

	if err != nil {
		timer.StopWithMessage("failed")
		err = fmt.Errorf("%s: %w", file.Name, err)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		t.removeField()
		logger.Debug().Err(err).Msg("transfer failed")
		t.Capability.Fire("error")
		return err
	}

	timer.StopWithThroughput(file.Size)
	t.fillField()
	logger.Debug().Str("key", t.Result().Key).Msg("transfer complete")
	t.Capability.Fire("end")
	return nil
}

func (t *Task) reportProgress(p float64) {
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()
	t.Capability.Fire("progress")
}

// detail builds the payload for this task's events.
func (t *Task) detail() events.Detail {
	d := t.Base.Detail()
	t.mu.Lock()
	d.Progress = t.progress
	d.Error = t.err
	t.mu.Unlock()
	return d
}

// Progress returns the last reported fraction.
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Result returns the stored file, or nil before a successful transfer.
func (t *Task) Result() *cloud.UploadResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err returns the transfer failure, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// SignedID returns the token the form submits for a direct upload, or ""
// before the transfer succeeded or for other backends.
func (t *Task) SignedID() string {
	if r := t.Result(); r != nil {
		return r.SignedID
	}
	return ""
}

// BlobID returns the id the server gave the blob, if any.
func (t *Task) BlobID() string {
	if r := t.Result(); r != nil {
		return r.ServerID
	}
	return ""
}

// insertField places the hidden input that will carry the upload's
// reference right before the file input, as the form submits it.
func (t *Task) insertField() {
	doc := t.factory.doc
	if doc == nil || t.Input.Node == nil || t.Input.Node.Parent == nil {
		return
	}

	doc.Lock()
	defer doc.Unlock()

	field := &html.Node{Type: html.ElementNode, Data: "input", DataAtom: atom.Input}
	dom.SetAttr(field, "type", "hidden")
	dom.SetAttr(field, "name", t.Input.Name())
	dom.SetAttr(field, dom.AttrDirectUploadID, t.ID())
	dom.SetAttr(field, dom.AttrUploadedFileName, t.Payload.Name)
	if id := t.Input.IconContainerID(); id != "" {
		dom.SetAttr(field, dom.AttrIconContainerID, id)
	}
	t.Input.Node.Parent.InsertBefore(field, t.Input.Node)

	t.mu.Lock()
	t.field = field
	t.mu.Unlock()
}

// fillField stores the signed id (direct) or object key (S3, Azure).
func (t *Task) fillField() {
	t.mu.Lock()
	field, result := t.field, t.result
	t.mu.Unlock()
	if field == nil || result == nil {
		return
	}

	value := result.SignedID
	if value == "" {
		value = result.Key
	}

	doc := t.factory.doc
	doc.Lock()
	defer doc.Unlock()
	dom.SetAttr(field, "value", value)
}

func (t *Task) removeField() {
	t.mu.Lock()
	field := t.field
	t.field = nil
	t.mu.Unlock()
	if field == nil {
		return
	}

	doc := t.factory.doc
	doc.Lock()
	defer doc.Unlock()
	dom.Remove(field)
}

// Backend names the storage the factory uploads to.
func (f *Factory) Backend() string {
	if f.uploader == nil {
		return ""
	}
	return f.uploader.Backend()
}
