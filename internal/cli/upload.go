package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/cloud/providers"
	"github.com/rescale/dndupload/internal/cloud/storage"
	"github.com/rescale/dndupload/internal/cloud/upload"
	"github.com/rescale/dndupload/internal/config"
	"github.com/rescale/dndupload/internal/coordinator"
	"github.com/rescale/dndupload/internal/dom"
	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/formbuilder"
	"github.com/rescale/dndupload/internal/history"
	"github.com/rescale/dndupload/internal/logging"
	"github.com/rescale/dndupload/internal/models"
	"github.com/rescale/dndupload/internal/progress"
	"github.com/rescale/dndupload/internal/ui"
)

// uploadOptions are the flags of the upload command.
type uploadOptions struct {
	page      string
	formID    string
	inputID   string
	cancelIDs []string
	dryRun    bool
	progress  string
	renderOut string
	noHistory bool
}

func newUploadCmd() *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <file> [file...]",
		Short: "Queue files on a drag-and-drop input and upload them",
		Long: `Queue files on a drag-and-drop file input and drain the queue, one file
at a time, the way the form does on submit.

The form comes from --page, an HTML file carrying the drag-and-drop markup
(see 'dndupload render'). Without --page a single-zone form is built for the
configured direct upload URL.

A failed upload stops the drain and drops the files still queued.

Examples:
  dndupload upload photo.png notes.pdf
  dndupload upload --page new_post.html --input post_images *.png --render-out done.html
  dndupload upload --dry-run --cancel 2 a.png b.png c.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runUpload(GetContext(), cfg, opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.page, "page", "", "HTML page holding the upload form")
	cmd.Flags().StringVar(&opts.formID, "form", "", "Form element id (default: first form on the page)")
	cmd.Flags().StringVar(&opts.inputID, "input", "", "Drag-and-drop input id (default: first one in the form)")
	cmd.Flags().StringSliceVar(&opts.cancelIDs, "cancel", nil, "Upload ids to remove from the queue before starting")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show the queue without uploading")
	cmd.Flags().StringVar(&opts.progress, "progress", "", "Progress display: bars, simple, none (overrides config)")
	cmd.Flags().StringVar(&opts.renderOut, "render-out", "", "Write the page with the upload results to this file")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Do not record this run in the upload history")

	return cmd
}

// runUpload queues files on one input of one form and drains the queue.
func runUpload(ctx context.Context, cfg *config.Config, opts uploadOptions, paths []string, stdout, stderr io.Writer) error {
	log := GetLogger()

	doc, err := loadPage(opts.page, cfg)
	if err != nil {
		return err
	}
	form, input, err := selectInput(doc, opts.formID, opts.inputID)
	if err != nil {
		return err
	}

	mode := cfg.ProgressMode
	if opts.progress != "" {
		mode = opts.progress
	}
	if opts.dryRun {
		mode = progress.ModeNone
	}

	bus := events.NewEventBus(0)
	defer bus.Close()
	dispatcher := events.NewDispatcher(bus)

	renderer := progress.New(mode, stderr)
	stopProgress := progress.Watch(bus, renderer)
	defer stopProgress()
	log.SetOutput(renderer.Writer())

	if !opts.dryRun && !opts.noHistory && cfg.HistoryPath != "" {
		stopHistory, err := watchHistory(ctx, cfg.HistoryPath, bus, log)
		if err != nil {
			log.Warn().Err(err).Msg("upload history disabled")
		} else {
			defer stopHistory()
		}
	}

	uploader, err := providers.NewUploader(ctx, cfg, log)
	if err != nil {
		return err
	}
	factory := upload.NewFactory(ctx, uploader, dispatcher, doc, upload.Options{
		MaxFileSize:  cfg.MaxFileSize,
		Logger:       log,
		OutputWriter: renderer.Writer(),
	})

	adapters := ui.New(doc, log)
	adapters.Attach(dispatcher, form)

	coord := coordinator.New(form, coordinator.Options{
		Sink:    dispatcher,
		Locator: doc,
		NewTask: factory.NewTask,
		UI:      adapters,
		Logger:  log,
	})

	for _, path := range paths {
		file, err := models.NewFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "Skipping %s: %v\n", path, err)
			continue
		}
		coord.QueueUpload(input, file)
	}
	for _, id := range opts.cancelIDs {
		coord.UnqueueUpload(id)
	}

	if opts.dryRun {
		fmt.Fprintln(stdout, queueTable(coord, input, factory.Backend()))
		return nil
	}

	if len(coord.Pending()) == 0 {
		return errors.New("nothing to upload")
	}

	runErr := coord.Run(ctx)
	stopProgress()

	fmt.Fprintln(stdout, resultTable(factory.Tasks()))

	if opts.renderOut != "" {
		if err := writePage(doc, opts.renderOut); err != nil {
			return err
		}
	}

	if runErr != nil {
		if hint := storage.Hint(runErr); hint != "" {
			return fmt.Errorf("upload failed: %w (%s)", runErr, hint)
		}
		return fmt.Errorf("upload failed: %w", runErr)
	}
	return nil
}

// loadPage parses path, or builds a one-zone form when path is empty.
func loadPage(path string, cfg *config.Config) (*dom.Document, error) {
	if path == "" {
		field, err := formbuilder.New(cfg.DirectUploadURL).DragAndDropFileField("upload", "files", nil, nil)
		if err != nil {
			return nil, err
		}
		return dom.NewDocument(formbuilder.Page("Upload", formbuilder.Form("upload_form", "", field))), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()

	doc, err := dom.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page %s: %w", path, err)
	}
	return doc, nil
}

// selectInput picks the form and drag-and-drop input to queue on.
func selectInput(doc *dom.Document, formID, inputID string) (*html.Node, dom.Input, error) {
	var form *html.Node
	if formID != "" {
		form = doc.GetElementByID(formID)
		if form == nil || form.Data != "form" {
			return nil, dom.Input{}, fmt.Errorf("no form with id %q", formID)
		}
	} else {
		forms := doc.Forms()
		if len(forms) == 0 {
			return nil, dom.Input{}, errors.New("the page has no form")
		}
		form = forms[0]
	}

	inputs := doc.DnDInputs(form)
	if len(inputs) == 0 {
		return nil, dom.Input{}, errors.New("the form has no drag-and-drop file input")
	}
	if inputID == "" {
		return form, inputs[0], nil
	}
	for _, in := range inputs {
		if in.ID() == inputID {
			return form, in, nil
		}
	}
	return nil, dom.Input{}, fmt.Errorf("no drag-and-drop input with id %q in the form", inputID)
}

func watchHistory(ctx context.Context, path string, bus *events.EventBus, log *logging.Logger) (func(), error) {
	store, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	rec := history.NewRecorder(store, log)
	stop := rec.Watch(ctx, bus)
	return func() {
		stop()
		_ = store.Close()
	}, nil
}

func writePage(doc *dom.Document, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := doc.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render page: %w", err)
	}
	return f.Close()
}

func queueTable(coord *coordinator.Coordinator, input dom.Input, backend string) string {
	var rows [][]string
	for _, task := range coord.Pending() {
		f := task.File()
		rows = append(rows, []string{
			task.ID(),
			f.Name,
			cloud.FormatBytes(f.Size),
			f.ContentType,
			input.Name(),
			backend,
		})
	}
	return renderTable(
		[]string{"ID", "File", "Size", "Type", "Field", "Backend"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight},
	)
}

func resultTable(tasks []*upload.Task) string {
	var rows [][]string
	for _, t := range tasks {
		status, ref := "not started", ""
		switch {
		case t.Result() != nil:
			status = "uploaded"
			ref = t.SignedID()
			if ref == "" {
				ref = t.Result().Key
			}
		case t.Err() != nil:
			status = "failed"
		}
		rows = append(rows, []string{
			t.ID(),
			t.File().Name,
			cloud.FormatBytes(t.File().Size),
			strconv.FormatFloat(t.Progress()*100, 'f', 0, 64) + "%",
			status,
			ref,
		})
	}
	return renderTable(
		[]string{"ID", "File", "Size", "Progress", "Status", "Reference"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
	)
}
