package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/rescale/dndupload/internal/formbuilder"
)

type renderOptions struct {
	object          string
	methods         []string
	attachments     []string
	single          bool
	content         string
	action          string
	directUploadURL string
	fragment        bool
	out             string
}

func newRenderCmd() *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a drag-and-drop upload form",
		Long: `Render the markup of a drag-and-drop upload form: one zone per --method,
each with its icon container, hidden file input, and a hidden field per
attachment that is not yet persisted.

Attachments are given as filename=signed_id.

Examples:
  dndupload render --object post --method images > new_post.html
  dndupload render --object user --method avatar --single --attachment me.png=eyJfcmFpbHMi`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.directUploadURL == "" {
				if cfg, err := loadConfig(); err == nil {
					opts.directUploadURL = cfg.DirectUploadURL
				}
			}

			out := cmd.OutOrStdout()
			if opts.out != "" {
				f, err := os.Create(opts.out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", opts.out, err)
				}
				defer f.Close()
				out = f
			}
			return runRender(opts, out)
		},
	}

	cmd.Flags().StringVar(&opts.object, "object", "upload", "Form object name")
	cmd.Flags().StringSliceVar(&opts.methods, "method", []string{"files"}, "Attachment name; repeat for several zones")
	cmd.Flags().StringArrayVar(&opts.attachments, "attachment", nil, "Unpersisted attachment as filename=signed_id")
	cmd.Flags().BoolVar(&opts.single, "single", false, "Accept one file per input")
	cmd.Flags().StringVar(&opts.content, "content", "Drop files here or click to browse", "Prompt shown inside each zone")
	cmd.Flags().StringVar(&opts.action, "action", "", "Form action URL")
	cmd.Flags().StringVar(&opts.directUploadURL, "direct-upload-url", "", "Direct upload endpoint (default: from config)")
	cmd.Flags().BoolVar(&opts.fragment, "fragment", false, "Render only the form, not a full page")
	cmd.Flags().StringVarP(&opts.out, "output", "o", "", "Write to a file instead of stdout")

	return cmd
}

func runRender(opts renderOptions, w io.Writer) error {
	attachments, err := parseAttachments(opts.attachments)
	if err != nil {
		return err
	}

	var custom formbuilder.Options
	if opts.single {
		custom = formbuilder.Options{"multiple": false}
	}

	b := formbuilder.New(opts.directUploadURL)
	var fields []*html.Node
	for i, method := range opts.methods {
		// Attachments belong to the first zone.
		var own []formbuilder.Attachment
		if i == 0 {
			own = attachments
		}
		field, err := b.DragAndDropFileFieldWithContent(opts.object, method, opts.content, own, custom)
		if err != nil {
			return err
		}
		fields = append(fields, field)
	}

	node := formbuilder.Form(opts.object+"_form", opts.action, fields...)
	if !opts.fragment {
		node = formbuilder.Page(opts.object, node)
	}
	if err := formbuilder.Render(w, node); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

func parseAttachments(values []string) ([]formbuilder.Attachment, error) {
	var out []formbuilder.Attachment
	for _, v := range values {
		name, signed, ok := strings.Cut(v, "=")
		if !ok || name == "" || signed == "" {
			return nil, fmt.Errorf("invalid attachment %q, expected filename=signed_id", v)
		}
		out = append(out, formbuilder.Attachment{Filename: name, SignedID: signed})
	}
	return out, nil
}
