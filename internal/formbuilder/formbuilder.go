// Package formbuilder renders the server side of the drag-and-drop contract:
// a label.asdndzone wrapping an icon container, the hidden-by-style file
// input, and one hidden field per attachment that is not yet persisted.
package formbuilder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rescale/dndupload/internal/dom"
)

// Options are file input attributes. Keys use underscores; a "data" entry
// holding an Options (or map[string]any) becomes data-* attributes. A true
// value renders the attribute with its own name as value, false or nil
// omits it. "direct_upload" is consumed by the builder.
type Options map[string]any

// Attachment is a file already associated with the form object.
type Attachment struct {
	Filename  string
	SignedID  string
	Persisted bool
}

// ErrInvalidField is returned when the object name or method is empty.
var ErrInvalidField = errors.New("object name and method are required")

// Builder renders drag-and-drop fields.
type Builder struct {
	// DirectUploadURL is written as data-direct-upload-url when the
	// direct_upload option is set.
	DirectUploadURL string
}

// New creates a builder whose inputs reserve blobs at directUploadURL.
func New(directUploadURL string) *Builder {
	return &Builder{DirectUploadURL: directUploadURL}
}

// Ref returns the id fragment shared by a field's elements.
func Ref(objectName, method string) string {
	return objectName + "_" + method
}

// ZoneID returns the id of the field's label.
func ZoneID(objectName, method string) string {
	return "asdndz-" + Ref(objectName, method)
}

// IconContainerID returns the id of the field's icon container.
func IconContainerID(objectName, method string) string {
	return ZoneID(objectName, method) + "__icon-container"
}

// DefaultOptions returns the file input options every field starts from.
func DefaultOptions(objectName, method string) Options {
	return Options{
		"multiple":      true,
		"direct_upload": true,
		"style":         "display:none;",
		"data": Options{
			"dnd":               true,
			"dnd_zone_id":       ZoneID(objectName, method),
			"icon_container_id": IconContainerID(objectName, method),
		},
	}
}

// MergeOptions returns defaults overlaid with custom. Where both sides hold a
// map the maps are merged key by key; otherwise the custom value wins.
func MergeOptions(defaults, custom Options) Options {
	out := make(Options, len(defaults)+len(custom))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range custom {
		if d, ok := asOptions(out[k]); ok {
			if c, ok := asOptions(v); ok {
				out[k] = MergeOptions(d, c)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// DragAndDropFileField builds the zone for objectName[method].
func (b *Builder) DragAndDropFileField(objectName, method string, attachments []Attachment, opts Options) (*html.Node, error) {
	return b.DragAndDropFileFieldWithContent(objectName, method, "", attachments, opts)
}

// DragAndDropFileFieldWithContent is DragAndDropFileField with a text prompt
// rendered first inside the label.
func (b *Builder) DragAndDropFileFieldWithContent(objectName, method, content string, attachments []Attachment, opts Options) (*html.Node, error) {
	if objectName == "" || method == "" {
		return nil, ErrInvalidField
	}
	ref := Ref(objectName, method)

	label := element(atom.Label, [][2]string{
		{"class", dom.ZoneClass},
		{"id", ZoneID(objectName, method)},
		{dom.AttrInputID, ref},
	})
	if content != "" {
		label.AppendChild(&html.Node{Type: html.TextNode, Data: content})
	}
	label.AppendChild(element(atom.Div, [][2]string{{"id", IconContainerID(objectName, method)}}))

	input, err := b.fileField(objectName, method, MergeOptions(DefaultOptions(objectName, method), opts))
	if err != nil {
		return nil, err
	}
	label.AppendChild(input)

	for _, field := range unpersistedFields(objectName, method, attachments) {
		label.AppendChild(field)
	}
	return label, nil
}

func (b *Builder) fileField(objectName, method string, opts Options) (*html.Node, error) {
	name := fmt.Sprintf("%s[%s]", objectName, method)
	if truthy(opts["multiple"]) {
		name += "[]"
	}
	attrs := [][2]string{
		{"type", "file"},
		{"name", name},
		{"id", Ref(objectName, method)},
	}

	if truthy(opts["direct_upload"]) && b.DirectUploadURL != "" {
		attrs = append(attrs, [2]string{dom.AttrDirectUploadURL, b.DirectUploadURL})
	}

	for _, key := range sortedKeys(opts) {
		switch key {
		case "direct_upload", "type":
			continue
		case "data":
			data, ok := asOptions(opts[key])
			if !ok {
				return nil, fmt.Errorf("data option must be a map, got %T", opts[key])
			}
			for _, dk := range sortedKeys(data) {
				attrName := "data-" + strings.ReplaceAll(dk, "_", "-")
				if v, ok := attrValue(attrName, data[dk]); ok {
					attrs = setPair(attrs, attrName, v)
				}
			}
		default:
			attrName := strings.ReplaceAll(key, "_", "-")
			if v, ok := attrValue(attrName, opts[key]); ok {
				attrs = setPair(attrs, attrName, v)
			} else {
				attrs = dropPair(attrs, attrName)
			}
		}
	}
	return element(atom.Input, attrs), nil
}

// unpersistedFields renders the hidden inputs for attachments the object has
// not saved yet. Their index counts only those attachments.
func unpersistedFields(objectName, method string, attachments []Attachment) []*html.Node {
	var out []*html.Node
	idx := 0
	for _, a := range attachments {
		if a.Persisted {
			continue
		}
		out = append(out, element(atom.Input, [][2]string{
			{"type", "hidden"},
			{"name", fmt.Sprintf("%s[%s][]", objectName, method)},
			{"value", a.SignedID},
			{"autocomplete", "off"},
			{dom.AttrDirectUploadID, strconv.Itoa(idx)},
			{dom.AttrUploadedFileName, a.Filename},
			{dom.AttrIconContainerID, IconContainerID(objectName, method)},
		}))
		idx++
	}
	return out
}

// Render writes n as HTML.
func Render(w io.Writer, n *html.Node) error {
	return html.Render(w, n)
}

// RenderString returns n as HTML.
func RenderString(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func element(a atom.Atom, attrs [][2]string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for _, kv := range attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: kv[0], Val: kv[1]})
	}
	return n
}

func attrValue(name string, v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case bool:
		if !val {
			return "", false
		}
		if strings.HasPrefix(name, "data-") {
			return "true", true
		}
		return name, true
	case string:
		return val, true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return fmt.Sprint(val), true
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false"
	default:
		return true
	}
}

func asOptions(v any) (Options, bool) {
	switch m := v.(type) {
	case Options:
		return m, true
	case map[string]any:
		return Options(m), true
	case map[string]string:
		out := make(Options, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	}
	return nil, false
}

func sortedKeys(m Options) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setPair(attrs [][2]string, key, val string) [][2]string {
	for i := range attrs {
		if attrs[i][0] == key {
			attrs[i][1] = val
			return attrs
		}
	}
	return append(attrs, [2]string{key, val})
}

func dropPair(attrs [][2]string, key string) [][2]string {
	out := attrs[:0]
	for _, kv := range attrs {
		if kv[0] != key {
			out = append(out, kv)
		}
	}
	return out
}
