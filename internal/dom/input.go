package dom

import (
	"golang.org/x/net/html"
)

// Input describes a drag-and-drop file input through the data attributes
// the server rendered on it.
type Input struct {
	Node *html.Node
}

// Multiple reports whether the input accepts several files. Like the
// browser's getAttribute check, an empty value counts as absent.
func (i Input) Multiple() bool {
	v, _ := Attr(i.Node, "multiple")
	return v != ""
}

// IconContainerID returns the id of the element holding upload icons.
func (i Input) IconContainerID() string {
	v, _ := Attr(i.Node, AttrIconContainerID)
	return v
}

// ZoneID returns the id of the input's drop zone.
func (i Input) ZoneID() string {
	v, _ := Attr(i.Node, AttrZoneID)
	return v
}

// DirectUploadURL returns the endpoint that reserves blobs for this input.
func (i Input) DirectUploadURL() string {
	v, _ := Attr(i.Node, AttrDirectUploadURL)
	return v
}

// Name returns the input's form field name.
func (i Input) Name() string {
	v, _ := Attr(i.Node, "name")
	return v
}

// ID returns the input's element id.
func (i Input) ID() string {
	v, _ := Attr(i.Node, "id")
	return v
}

// Zone is the drop-target grouping around one input.
type Zone struct {
	Node *html.Node
}

// ZoneOf finds the label.asdndzone enclosing input.
func ZoneOf(input Input) (Zone, bool) {
	n := Closest(input.Node, ZoneTag, ZoneClass)
	if n == nil {
		return Zone{}, false
	}
	return Zone{Node: n}, true
}

// PendingUploads returns the elements in the zone tagged with an upload id.
func (z Zone) PendingUploads() []*html.Node {
	return QueryAttr(z.Node, AttrDirectUploadID)
}

// RemovePendingUploads detaches every element tagged with an upload id and
// returns how many were removed.
func (z Zone) RemovePendingUploads() int {
	pending := z.PendingUploads()
	for _, n := range pending {
		Remove(n)
	}
	return len(pending)
}
