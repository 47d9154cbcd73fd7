// Package ui renders upload state into the page: one icon per file inside
// the input's icon container, marked pending, complete, or failed.
//
// Markup for an icon:
//
//	<div id="direct-upload-7" class="direct-upload direct-upload--pending" data-direct-upload-id="7">
//	  <div id="direct-upload-progress-7" class="direct-upload__progress" style="width: 0%"></div>
//	  <span class="direct-upload__filename">photo.png</span>
//	  <span class="direct-upload__filesize">1.2 MB</span>
//	</div>
package ui

import (
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rescale/dndupload/internal/cloud"
	"github.com/rescale/dndupload/internal/dom"
	"github.com/rescale/dndupload/internal/events"
	"github.com/rescale/dndupload/internal/logging"
)

// Icon classes.
const (
	ClassIcon     = "direct-upload"
	ClassPending  = "direct-upload--pending"
	ClassComplete = "direct-upload--complete"
	ClassError    = "direct-upload--error"
	ClassProgress = "direct-upload__progress"
	ClassFilename = "direct-upload__filename"
	ClassFilesize = "direct-upload__filesize"

	// ClassFormBusy marks a form while its queue drains.
	ClassFormBusy = "dnd-uploads--busy"
)

// DOM updates icons in a dom.Document. Every handler accepts a nil event
// and a detail with missing fields.
type DOM struct {
	doc    *dom.Document
	logger *logging.Logger
}

// New creates the adapters for doc. logger may be nil.
func New(doc *dom.Document, logger *logging.Logger) *DOM {
	return &DOM{doc: doc, logger: logging.OrNop(logger).Child("ui")}
}

// Attach registers the task and form listeners that are not driven by the
// coordinator: initialize, progress, per-task end, and form start.
func (u *DOM) Attach(d *events.Dispatcher, form *html.Node) {
	d.AddEventListener(form, events.TaskInitialize, u.Initialize)
	d.AddEventListener(form, events.TaskProgress, u.Progress)
	d.AddEventListener(form, events.TaskEnd, u.TaskEnd)
	d.AddEventListener(form, events.FormStart, u.Start)
}

// Initialize appends a pending icon for the task to its icon container.
func (u *DOM) Initialize(e *events.Event) {
	if e == nil || e.Detail.IconContainer == nil || e.Detail.ID == "" {
		return
	}

	u.doc.Lock()
	defer u.doc.Unlock()

	if existing := iconIn(e.Detail.IconContainer, e.Detail.ID); existing != nil {
		return
	}
	e.Detail.IconContainer.AppendChild(newIcon(e.Detail))
}

// Progress widens the icon's progress bar.
func (u *DOM) Progress(e *events.Event) {
	if e == nil {
		return
	}

	u.doc.Lock()
	defer u.doc.Unlock()

	icon := iconIn(e.Detail.IconContainer, e.Detail.ID)
	if icon == nil {
		return
	}
	if bar := progressOf(icon); bar != nil {
		dom.SetAttr(bar, "style", fmt.Sprintf("width: %.0f%%", clamp(e.Detail.Progress)*100))
	}
}

// TaskEnd marks one icon complete.
func (u *DOM) TaskEnd(e *events.Event) {
	if e == nil {
		return
	}

	u.doc.Lock()
	defer u.doc.Unlock()

	icon := iconIn(e.Detail.IconContainer, e.Detail.ID)
	if icon == nil {
		return
	}
	dom.RemoveClass(icon, ClassPending)
	dom.AddClass(icon, ClassComplete)
	if bar := progressOf(icon); bar != nil {
		dom.SetAttr(bar, "style", "width: 100%")
	}
}

// Start marks the form busy.
func (u *DOM) Start(e *events.Event) {
	if e == nil || e.Target == nil {
		return
	}

	u.doc.Lock()
	defer u.doc.Unlock()
	dom.AddClass(e.Target, ClassFormBusy)
}

// End clears the busy mark once the whole queue drained.
func (u *DOM) End(e *events.Event) {
	if e == nil || e.Target == nil {
		return
	}

	u.doc.Lock()
	defer u.doc.Unlock()
	dom.RemoveClass(e.Target, ClassFormBusy)
	u.logger.Debug().Msg("uploads finished")
}

// Error flags the failed file. A file that never got an icon (its task could
// not be built) gets one so the failure is visible.
func (u *DOM) Error(e *events.Event) {
	if e == nil {
		return
	}
	d := e.Detail

	u.logger.Debug().Err(d.Error).Str("file", d.File.String()).Msg("upload error shown")

	u.doc.Lock()
	defer u.doc.Unlock()

	if e.Target != nil && e.Target.Type == html.ElementNode && e.Target.DataAtom == atom.Form {
		dom.RemoveClass(e.Target, ClassFormBusy)
	}

	if d.IconContainer == nil {
		return
	}

	icon := iconIn(d.IconContainer, d.ID)
	if icon == nil && d.File != nil {
		icon = iconForFile(d.IconContainer, d.File.Name)
	}
	if icon == nil {
		if d.File == nil {
			return
		}
		icon = newIcon(d)
		d.IconContainer.AppendChild(icon)
	}

	dom.RemoveClass(icon, ClassPending)
	dom.AddClass(icon, ClassError)
	if d.Error != nil {
		dom.SetAttr(icon, "title", d.Error.Error())
	}
}

// Cancel removes the cancelled file's icon. The fallback cancel carries the
// error marker id, which matches no icon.
func (u *DOM) Cancel(e *events.Event) {
	if e == nil || e.Detail.ID == "" || e.Detail.ID == events.ErrorID {
		return
	}

	u.doc.Lock()
	defer u.doc.Unlock()

	icon := iconIn(e.Detail.IconContainer, e.Detail.ID)
	if icon == nil {
		icon = dom.FindByID(u.doc.Root(), iconID(e.Detail.ID))
	}
	dom.Remove(icon)
}

func iconID(id string) string {
	return "direct-upload-" + id
}

func iconIn(container *html.Node, id string) *html.Node {
	if container == nil || id == "" {
		return nil
	}
	for _, n := range dom.QueryAttr(container, dom.AttrDirectUploadID) {
		if v, _ := dom.Attr(n, dom.AttrDirectUploadID); v == id && dom.HasClass(n, ClassIcon) {
			return n
		}
	}
	return nil
}

// iconForFile finds the icon labelled name. Files with the same name can
// share a container, so a pending icon wins over a finished one.
func iconForFile(container *html.Node, name string) *html.Node {
	var first *html.Node
	for _, n := range dom.QueryAttr(container, dom.AttrDirectUploadID) {
		if !dom.HasClass(n, ClassIcon) || !hasFilename(n, name) {
			continue
		}
		if dom.HasClass(n, ClassPending) {
			return n
		}
		if first == nil {
			first = n
		}
	}
	return first
}

func hasFilename(icon *html.Node, name string) bool {
	for c := icon.FirstChild; c != nil; c = c.NextSibling {
		if dom.HasClass(c, ClassFilename) && dom.Text(c) == name {
			return true
		}
	}
	return false
}

func progressOf(icon *html.Node) *html.Node {
	for c := icon.FirstChild; c != nil; c = c.NextSibling {
		if dom.HasClass(c, ClassProgress) {
			return c
		}
	}
	return nil
}

func newIcon(d events.Detail) *html.Node {
	icon := element(atom.Div, "class", ClassIcon+" "+ClassPending)
	if d.ID != "" {
		dom.SetAttr(icon, "id", iconID(d.ID))
		dom.SetAttr(icon, dom.AttrDirectUploadID, d.ID)
	} else {
		dom.SetAttr(icon, dom.AttrDirectUploadID, "")
	}

	bar := element(atom.Div, "class", ClassProgress, "style", "width: 0%")
	if d.ID != "" {
		dom.SetAttr(bar, "id", "direct-upload-progress-"+d.ID)
	}
	icon.AppendChild(bar)

	if d.File != nil {
		icon.AppendChild(textElement(atom.Span, ClassFilename, d.File.Name))
		icon.AppendChild(textElement(atom.Span, ClassFilesize, cloud.FormatBytes(d.File.Size)))
	}
	return icon
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func textElement(a atom.Atom, class, text string) *html.Node {
	n := element(a, "class", class)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
