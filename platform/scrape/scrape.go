// Package scrape extracts structured values from the HTML pages and
// HTML-flavored descriptions that web-based CTF platforms embed data in:
// login nonces, alert banners, image tags, and markdown renditions of
// challenge text.
package scrape

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"golang.org/x/net/html"
)

// Attachment is a name/URL pair extracted from a page or description.
type Attachment struct {
	Name string
	URL  string
}

var converter = md.NewConverter("", true, nil)

var (
	imageLinkRe  = regexp.MustCompile(`[^\S\r\n]*!\[[^\]]*\]\([^)]*\)\s*`)
	blankLinesRe = regexp.MustCompile(`\n+`)
)

// ToMarkdown converts HTML content to markdown, dropping embedded images
// (they're surfaced separately via Images) and collapsing blank lines.
func ToMarkdown(content string) string {
	if content == "" {
		return ""
	}
	out, err := converter.ConvertString(content)
	if err != nil {
		// Not HTML the converter understands; keep the raw text.
		out = content
	}
	out = imageLinkRe.ReplaceAllString(out, "")
	out = blankLinesRe.ReplaceAllString(out, "\n")
	return strings.TrimSpace(out)
}

// InputValue returns the value attribute of the <input> element with the
// given id, or "" when the document has none.
func InputValue(body []byte, id string) string {
	root, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	var value string
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "input" || attr(n, "id") != id {
			return true
		}
		value = attr(n, "value")
		return false
	})
	return value
}

// Alerts collects the span text of every div with role="alert". CTFd
// renders form errors (name taken, registration closed) this way.
func Alerts(body []byte) []string {
	root, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}
	var alerts []string
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "div" || attr(n, "role") != "alert" {
			return true
		}
		walk(n, func(child *html.Node) bool {
			if child.Type == html.ElementNode && child.Data == "span" {
				if text := strings.TrimSpace(nodeText(child)); text != "" {
					alerts = append(alerts, text)
				}
				return false
			}
			return true
		})
		return true
	})
	return alerts
}

// Images extracts the <img> tags embedded in an HTML description,
// resolving relative sources against baseURL.
func Images(content, baseURL string) []Attachment {
	if content == "" {
		return nil
	}
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil
	}
	var images []Attachment
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "img" {
			return true
		}
		if src := attr(n, "src"); src != "" {
			images = append(images, ParseAttachment(src, baseURL))
		}
		return true
	})
	return images
}

// ParseAttachment turns an attachment reference into a named, absolute
// Attachment.
func ParseAttachment(ref, baseURL string) Attachment {
	return Attachment{Name: Filename(ref), URL: ResolveURL(ref, baseURL)}
}

// ResolveURL makes a site-relative reference absolute. Already-absolute
// references pass through untouched.
func ResolveURL(ref, baseURL string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}

// Filename extracts a usable filename from an attachment URL, ignoring
// query strings like CTFd's ?token=.
func Filename(raw string) string {
	parsed, err := url.Parse(raw)
	if err == nil && parsed.Path != "" {
		if name := path.Base(parsed.Path); name != "" && name != "/" && name != "." {
			return name
		}
	}
	name := path.Base(raw)
	if name == "" || name == "/" || name == "." {
		return ""
	}
	return name
}

// walk visits nodes depth-first; visit returning false prunes the subtree.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walk(child, visit)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(child *html.Node) bool {
		if child.Type == html.TextNode {
			sb.WriteString(child.Data)
		}
		return true
	})
	return sb.String()
}
