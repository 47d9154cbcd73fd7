// Package dom is a small document model over golang.org/x/net/html for the
// drag-and-drop upload form: element lookup, ancestor and attribute queries,
// removal, and the attribute contract the server-rendered markup carries.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// Markup contract shared with the form builder.
const (
	ZoneTag   = "label"
	ZoneClass = "asdndzone"

	AttrDnD              = "data-dnd"
	AttrZoneID           = "data-dnd-zone-id"
	AttrInputID          = "data-dnd-input-id"
	AttrIconContainerID  = "data-icon-container-id"
	AttrDirectUploadID   = "data-direct-upload-id"
	AttrDirectUploadURL  = "data-direct-upload-url"
	AttrUploadedFileName = "data-uploaded-file-name"
)

// Document owns one parsed page. Mutations and renders are serialized by an
// internal lock so upload goroutines and the host can share it.
type Document struct {
	root *html.Node
	mu   sync.Mutex
}

// Parse reads an HTML document or fragment.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Document{root: root}, nil
}

// NewDocument wraps an existing node tree.
func NewDocument(root *html.Node) *Document {
	return &Document{root: root}
}

// Root returns the document root.
func (d *Document) Root() *html.Node {
	return d.root
}

// Lock serializes DOM mutations. UI adapters hold it while editing icons.
func (d *Document) Lock() { d.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (d *Document) Unlock() { d.mu.Unlock() }

// GetElementByID returns the first element with the given id, or nil.
func (d *Document) GetElementByID(id string) *html.Node {
	if id == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return FindByID(d.root, id)
}

// ElementByID is GetElementByID under the name the coordinator expects.
func (d *Document) ElementByID(id string) *html.Node {
	return d.GetElementByID(id)
}

// Forms returns every form element in document order.
func (d *Document) Forms() []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return QueryTag(d.root, "form")
}

// DnDInputs returns the drag-and-drop file inputs under node.
func (d *Document) DnDInputs(node *html.Node) []Input {
	d.mu.Lock()
	defer d.mu.Unlock()

	var inputs []Input
	for _, n := range QueryAttr(node, AttrDnD) {
		if v, _ := Attr(n, AttrDnD); v == "true" && n.Data == "input" {
			inputs = append(inputs, Input{Node: n})
		}
	}
	return inputs
}

// ClearZone removes every pending-upload element inside the zone enclosing
// input. It reports false when the input has no zone.
func (d *Document) ClearZone(input Input) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	zone, ok := ZoneOf(input)
	if !ok {
		return false
	}
	zone.RemovePendingUploads()
	return true
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the document, returning an empty string on failure.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Attr returns the value of key on n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets key on n, replacing an existing value.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes key from n.
func RemoveAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// HasClass reports whether n's class list contains class.
func HasClass(n *html.Node, class string) bool {
	v, ok := Attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass appends class to n's class list if absent.
func AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	v, _ := Attr(n, "class")
	SetAttr(n, "class", strings.TrimSpace(v+" "+class))
}

// RemoveClass drops class from n's class list.
func RemoveClass(n *html.Node, class string) {
	v, ok := Attr(n, "class")
	if !ok {
		return
	}
	var kept []string
	for _, c := range strings.Fields(v) {
		if c != class {
			kept = append(kept, c)
		}
	}
	SetAttr(n, "class", strings.Join(kept, " "))
}

// Closest returns the nearest inclusive ancestor of n with the given tag
// and, when class is non-empty, that class.
func Closest(n *html.Node, tag, class string) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode || cur.Data != tag {
			continue
		}
		if class == "" || HasClass(cur, class) {
			return cur
		}
	}
	return nil
}

// QueryAttr returns the descendants of n (excluding n) carrying key.
func QueryAttr(n *html.Node, key string) []*html.Node {
	var out []*html.Node
	walk(n, func(c *html.Node) {
		if _, ok := Attr(c, key); ok {
			out = append(out, c)
		}
	})
	return out
}

// QueryTag returns the descendants of n (excluding n) with the given tag.
func QueryTag(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	walk(n, func(c *html.Node) {
		if c.Type == html.ElementNode && c.Data == tag {
			out = append(out, c)
		}
	})
	return out
}

// FindByID returns the first element under n (inclusive) with the given id.
func FindByID(n *html.Node, id string) *html.Node {
	if v, ok := Attr(n, "id"); ok && v == id {
		return n
	}
	var found *html.Node
	walk(n, func(c *html.Node) {
		if found != nil {
			return
		}
		if v, ok := Attr(c, "id"); ok && v == id {
			found = c
		}
	})
	return found
}

// Remove detaches n from its parent. Detached nodes are left alone.
func Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	var sb strings.Builder
	if n != nil && n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return sb.String()
}

// walk visits the descendants of n in document order. Children are
// snapshotted so fn may detach the node it is given.
func walk(n *html.Node, fn func(*html.Node)) {
	if n == nil {
		return
	}
	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	for _, c := range children {
		fn(c)
		walk(c, fn)
	}
}
