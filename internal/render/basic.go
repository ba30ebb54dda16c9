package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"codeberg.org/go-pdf/fpdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"pdfgen/internal/config"
	"pdfgen/internal/domain"
)

const basicFontSize = 11.0

var headingSizes = map[atom.Atom]float64{
	atom.H1: 20, atom.H2: 16, atom.H3: 14, atom.H4: 12, atom.H5: 12, atom.H6: 11,
}

var skippedElements = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true, atom.Noscript: true,
	atom.Template: true, atom.Button: true, atom.Svg: true, atom.Iframe: true, atom.Object: true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Header: true,
	atom.Footer: true, atom.Main: true, atom.Nav: true, atom.Aside: true, atom.Blockquote: true,
	atom.Pre: true, atom.Li: true, atom.Tr: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.Dl: true, atom.Dt: true, atom.Dd: true, atom.Figure: true, atom.Figcaption: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Caption: true, atom.Address: true, atom.Form: true, atom.Fieldset: true,
}

// Basic is a pure Go engine that lays out the text of a document with
// headings, paragraphs, list items and table rows. It does not apply CSS
// and needs no browser.
type Basic struct{}

func NewBasic() *Basic { return &Basic{} }

func (b *Basic) Name() string { return config.EngineBasic }
func (b *Basic) Ready() bool  { return true }
func (b *Basic) Close() error { return nil }

func (b *Basic) Render(ctx context.Context, src string, setup domain.PageSetup) ([]byte, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	blocks := extractBlocks(doc)

	scale := setup.Scale
	if scale <= 0 {
		scale = 1
	}

	// Width and Height already reflect the orientation, so the page is
	// always declared portrait.
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "in",
		Size:           fpdf.SizeType{Wd: setup.Width, Ht: setup.Height},
	})
	pdf.SetMargins(setup.Margins.Left, setup.Margins.Top, setup.Margins.Right)
	pdf.SetAutoPageBreak(true, setup.Margins.Bottom)
	pdf.SetCreator("pdfgen", true)
	if title := documentTitle(doc); title != "" {
		pdf.SetTitle(title, true)
	}
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, blk := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		writeBlock(pdf, tr, blk, scale)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type textBlock struct {
	tag  atom.Atom
	text string
}

func writeBlock(pdf *fpdf.Fpdf, tr func(string) string, blk textBlock, scale float64) {
	size := basicFontSize
	style := ""
	if hs, ok := headingSizes[blk.tag]; ok {
		size, style = hs, "B"
	}
	if blk.tag == atom.Th {
		style = "B"
	}
	size *= scale
	lineHeight := size * 1.35 / 72

	if blk.tag == atom.Hr {
		left, _, right, _ := pdf.GetMargins()
		w, _ := pdf.GetPageSize()
		y := pdf.GetY() + lineHeight/2
		pdf.Line(left, y, w-right, y)
		pdf.Ln(lineHeight)
		return
	}

	text := blk.text
	if blk.tag == atom.Li {
		text = "• " + text
	}

	pdf.SetFont("Helvetica", style, size)
	pdf.MultiCell(0, lineHeight, tr(text), "", "L", false)
	if _, ok := headingSizes[blk.tag]; ok || blk.tag == atom.P {
		pdf.Ln(lineHeight / 2)
	}
}

func documentTitle(doc *html.Node) string {
	if t := findElement(doc, atom.Title); t != nil && t.FirstChild != nil {
		return strings.TrimSpace(t.FirstChild.Data)
	}
	return ""
}

// extractBlocks flattens the body into text blocks in document order.
func extractBlocks(doc *html.Node) []textBlock {
	e := &extractor{}
	root := findElement(doc, atom.Body)
	if root == nil {
		root = doc
	}
	e.walk(root)
	e.flush()
	return e.blocks
}

type extractor struct {
	blocks []textBlock
	cur    strings.Builder
	tag    atom.Atom
	pre    int
}

func (e *extractor) flush() {
	text := e.cur.String()
	e.cur.Reset()
	if e.pre == 0 {
		text = strings.Join(strings.Fields(text), " ")
	} else {
		text = strings.Trim(text, "\n")
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	e.blocks = append(e.blocks, textBlock{tag: e.tag, text: text})
}

func (e *extractor) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		e.cur.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedElements[n.DataAtom] || hidden(n) {
			return
		}
		switch {
		case n.DataAtom == atom.Br:
			e.flush()
			return
		case n.DataAtom == atom.Hr:
			e.flush()
			e.blocks = append(e.blocks, textBlock{tag: atom.Hr})
			return
		case n.DataAtom == atom.Img:
			for _, a := range n.Attr {
				if a.Key == "alt" && strings.TrimSpace(a.Val) != "" {
					e.cur.WriteString(" [" + strings.TrimSpace(a.Val) + "] ")
				}
			}
			return
		case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
			if strings.TrimSpace(e.cur.String()) != "" {
				e.cur.WriteString(" | ")
			}
			if n.DataAtom == atom.Th {
				e.tag = atom.Th
			}
			e.children(n)
			return
		case blockElements[n.DataAtom]:
			e.flush()
			prev := e.tag
			e.tag = n.DataAtom
			if n.DataAtom == atom.Pre {
				e.pre++
			}
			e.children(n)
			e.flush()
			if n.DataAtom == atom.Pre {
				e.pre--
			}
			e.tag = prev
			return
		}
	}
	e.children(n)
}

func (e *extractor) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c)
	}
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "hidden" {
			return true
		}
		if a.Key == "style" {
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") {
				return true
			}
		}
	}
	return false
}

var _ Engine = (*Basic)(nil)
