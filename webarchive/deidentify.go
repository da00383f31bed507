package webarchive

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// AccountLabelPrefixes are the aria-label prefixes of elements Deidentify
// removes.
var AccountLabelPrefixes = []string{"Account Information", "Google Account"}

// AccountText is the text whose enclosing element is removed together with
// its siblings.
const AccountText = "Google Account"

const maxScriptPasses = 5

// Deidentify strips account details from a saved page: scripts that contain
// an '@', elements labelled as account widgets, and the element group
// around any "Google Account" text.
func Deidentify(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}

	for pass := 0; pass < maxScriptPasses; pass++ {
		if removeNodes(findElements(doc, isEmailScript)) == 0 {
			break
		}
	}
	removeNodes(findElements(doc, hasAccountLabel))

	var groups []*html.Node
	seen := make(map[*html.Node]bool)
	for _, n := range findElements(doc, hasAccountText) {
		p := n.Parent
		if p == nil || p.Type != html.ElementNode || seen[p] {
			continue
		}
		seen[p] = true
		groups = append(groups, p)
	}
	removeNodes(groups)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func findElements(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			found = append(found, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func removeNodes(nodes []*html.Node) int {
	removed := 0
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
			removed++
		}
	}
	return removed
}

func isEmailScript(n *html.Node) bool {
	if n.DataAtom != atom.Script {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && strings.Contains(c.Data, "@") {
			return true
		}
	}
	return false
}

func hasAccountLabel(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Namespace != "" || attr.Key != "aria-label" {
			continue
		}
		for _, prefix := range AccountLabelPrefixes {
			if strings.HasPrefix(attr.Val, prefix) {
				return true
			}
		}
	}
	return false
}

func hasAccountText(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && c.Data == AccountText {
			return true
		}
	}
	return false
}
