package render

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PrepareOptions controls how submitted HTML is turned into the document
// handed to an engine.
type PrepareOptions struct {
	StripScripts bool
	BaseStyles   bool
}

// baseStylesheet is injected first in <head> so that document styles win.
const baseStylesheet = `
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; font-size: 12pt; }
h1, h2, h3 { color: #1a1a1a; margin-top: 1em; margin-bottom: 0.5em; }
h2 { font-size: 18pt; border-bottom: 2px solid #333; padding-bottom: 5px; }
h3 { font-size: 14pt; margin-bottom: 10px; }
.info-section { background-color: #f5f5f5; padding: 15px; margin-bottom: 20px; border-radius: 5px; }
.grid { display: grid; grid-template-columns: 1fr 1fr; gap: 15px; margin-bottom: 15px; }
.field { margin-bottom: 10px; }
.field-label { font-size: 10pt; color: #666; margin-bottom: 3px; }
.field-value { font-weight: 500; font-size: 11pt; }
img { max-width: 100%; height: auto; }
table { width: 100%; border-collapse: collapse; margin: 10px 0; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f5f5f5; font-weight: bold; }
button { display: none !important; }
`

// Prepare parses src, which may be a fragment or a full document, and
// renders it back as a complete UTF-8 document.
func Prepare(src string, opts PrepareOptions) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	if opts.StripScripts {
		stripScripts(doc)
	}

	head := findElement(doc, atom.Head)
	if head != nil {
		if opts.BaseStyles {
			prependChild(head, &html.Node{
				Type:     html.ElementNode,
				Data:     "style",
				DataAtom: atom.Style,
				FirstChild: &html.Node{
					Type: html.TextNode,
					Data: baseStylesheet,
				},
			})
		}
		if !hasCharset(head) {
			prependChild(head, &html.Node{
				Type:     html.ElementNode,
				Data:     "meta",
				DataAtom: atom.Meta,
				Attr:     []html.Attribute{{Key: "charset", Val: "UTF-8"}},
			})
		}
	}

	var buf bytes.Buffer
	if doc.FirstChild == nil || doc.FirstChild.Type != html.DoctypeNode {
		buf.WriteString("<!DOCTYPE html>")
	}
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// stripScripts removes <script> elements, inline event handlers and
// javascript: URLs.
func stripScripts(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && c.DataAtom == atom.Script {
			n.RemoveChild(c)
		} else {
			stripScripts(c)
		}
		c = next
	}
	if n.Type != html.ElementNode {
		return
	}
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") {
			continue
		}
		if (key == "href" || key == "src" || key == "action") &&
			strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:") {
			continue
		}
		attrs = append(attrs, a)
	}
	n.Attr = attrs
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func hasCharset(head *html.Node) bool {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Meta {
			continue
		}
		for _, a := range c.Attr {
			if strings.EqualFold(a.Key, "charset") {
				return true
			}
			if strings.EqualFold(a.Key, "http-equiv") && strings.EqualFold(a.Val, "content-type") {
				return true
			}
		}
	}
	return false
}

func prependChild(parent, child *html.Node) {
	if parent.FirstChild == nil {
		parent.AppendChild(child)
		return
	}
	parent.InsertBefore(child, parent.FirstChild)
}
