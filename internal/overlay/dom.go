package overlay

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type attr struct {
	key, val string
}

func element(a atom.Atom, attrs ...attr) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for _, at := range attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: at.key, Val: at.val})
	}
	return n
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func newDocument() (doc, body *html.Node) {
	doc = &html.Node{Type: html.DocumentNode}
	root := element(atom.Html)
	head := element(atom.Head)
	body = element(atom.Body)
	root.AppendChild(head)
	root.AppendChild(body)
	doc.AppendChild(root)
	return doc, body
}

func detach(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// setStyle sets one CSS property inside the inline style attribute, keeping
// the order of the other declarations.
func setStyle(n *html.Node, prop, val string) {
	decls := strings.Split(getAttr(n, "style"), ";")
	out := make([]string, 0, len(decls)+1)
	replaced := false
	for _, d := range decls {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		name, _, _ := strings.Cut(d, ":")
		if strings.TrimSpace(name) == prop {
			d = prop + ": " + val
			replaced = true
		}
		out = append(out, d)
	}
	if !replaced {
		out = append(out, prop+": "+val)
	}
	setAttr(n, "style", strings.Join(out, "; "))
}

// StyleValue returns the value of prop in the node's inline style.
func StyleValue(n *html.Node, prop string) string {
	for _, d := range strings.Split(getAttr(n, "style"), ";") {
		name, val, ok := strings.Cut(d, ":")
		if ok && strings.TrimSpace(name) == prop {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func find(root *html.Node, selector string) []*html.Node {
	if root == nil {
		return nil
	}
	return goquery.NewDocumentFromNode(root).Find(selector).Nodes
}

func px(v int) string {
	return strconv.Itoa(v) + "px"
}

func rgba(r, g, b int, alpha float64) string {
	return "rgba(" + strconv.Itoa(r) + ", " + strconv.Itoa(g) + ", " + strconv.Itoa(b) + ", " +
		strconv.FormatFloat(alpha, 'f', -1, 64) + ")"
}

func render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
