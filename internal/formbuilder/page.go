package formbuilder

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Form wraps fields in a multipart form posting to action.
func Form(id, action string, fields ...*html.Node) *html.Node {
	attrs := [][2]string{
		{"id", id},
		{"method", "post"},
		{"enctype", "multipart/form-data"},
	}
	if action != "" {
		attrs = append(attrs, [2]string{"action", action})
	}
	form := element(atom.Form, attrs)
	for _, f := range fields {
		form.AppendChild(f)
	}
	return form
}

// Page returns a minimal HTML document holding body.
func Page(title string, body ...*html.Node) *html.Node {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := element(atom.Html, nil)
	head := element(atom.Head, nil)
	if title != "" {
		t := element(atom.Title, nil)
		t.AppendChild(&html.Node{Type: html.TextNode, Data: title})
		head.AppendChild(t)
	}
	root.AppendChild(head)

	b := element(atom.Body, nil)
	for _, n := range body {
		b.AppendChild(n)
	}
	root.AppendChild(b)
	doc.AppendChild(root)
	return doc
}
