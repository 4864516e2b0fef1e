package hnap

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Namespace is the fixed HNAP SOAP namespace. Every action URI and
// envelope body element lives under it.
const Namespace = "http://purenetworks.com/HNAP1/"

// envelope wraps an action body in the fixed HNAP SOAP envelope.
func envelope(action, body string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"`)
	b.WriteString(` xmlns:xsd="http://www.w3.org/2001/XMLSchema"`)
	b.WriteString(` xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">`)
	b.WriteString(`<soap:Body>`)
	fmt.Fprintf(&b, `<%s xmlns="%s">%s</%s>`, action, Namespace, body, action)
	b.WriteString(`</soap:Body></soap:Envelope>`)
	return b.String()
}

// node is one element of a parsed response document. HNAP responses
// are small and shallow, so a plain tree beats per-action struct types:
// result extraction only needs "find element by local name".
type node struct {
	name     string
	text     string
	children []*node
}

// parseDocument reads an XML document into a node tree. Namespaces are
// discarded; HNAP result elements are matched by local name only.
func parseDocument(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	root := &node{}
	stack := []*node{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("hnap: parsing response: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child := &node{name: t.Name.Local}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, child)
			stack = append(stack, child)
		case xml.CharData:
			cur := stack[len(stack)-1]
			cur.text += string(t)
		case xml.EndElement:
			cur := stack[len(stack)-1]
			cur.text = strings.TrimSpace(cur.text)
			stack = stack[:len(stack)-1]
		}
	}

	if len(root.children) == 0 {
		return nil, fmt.Errorf("hnap: empty response document")
	}
	return root, nil
}

// find returns the first element with the given local name,
// depth-first, or nil.
func (n *node) find(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if found := c.find(name); found != nil {
			return found
		}
	}
	return nil
}

// value extracts an element's result per HNAP conventions: a leaf
// yields its text; an element with child elements yields each child's
// text in document order. The latter serves array-valued results such
// as module type lists, where the wrapper has no text of its own.
func (n *node) value() (string, []string) {
	if len(n.children) == 0 {
		return n.text, nil
	}
	list := make([]string, 0, len(n.children))
	for _, c := range n.children {
		list = append(list, c.text)
	}
	return "", list
}

// xmlEscape escapes a string for embedding in an action body.
func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
