package apod

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	pageDateRun = regexp.MustCompile(`(\d{4})\s+(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2})`)
)

// ParsePage extracts an Entry from an APOD HTML page. base is the APOD root
// URL relative image links are resolved against. day is the requested date,
// or nil for the "today" page, in which case the date is read from the page.
func ParsePage(page []byte, base string, day *time.Time) (*Entry, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	e := &Entry{MediaType: MediaOther}

	if img := first(doc, "img"); img != nil {
		e.MediaType = MediaImage
		e.URL = resolve(base, attr(img, "src"))
		e.HDURL = e.URL
		for _, a := range findAll(doc, "a") {
			if href := attr(a, "href"); strings.HasPrefix(href, "image") {
				e.HDURL = resolve(base, href)
				break
			}
		}
	} else if iframe := first(doc, "iframe"); iframe != nil {
		e.MediaType = MediaVideo
		e.URL = absoluteScheme(attr(iframe, "src"))
	}

	centers := findAll(doc, "center")
	e.Title = title(doc, centers)
	e.Explanation = explanation(doc)
	e.Copyright = copyright(centers)

	if day != nil {
		e.Date = day.Format(dateLayout)
	} else {
		d, err := pageDate(doc)
		if err != nil {
			return nil, err
		}
		e.Date = d.Format(dateLayout)
	}

	return e, nil
}

func title(doc *html.Node, centers []*html.Node) string {
	idx := 1
	if len(centers) == 2 {
		idx = 0
	}
	if idx < len(centers) {
		if b := first(centers[idx], "b"); b != nil {
			if t := collapse(text(b)); t != "" {
				return t
			}
		}
	}

	// Early entries only carry the title in the document head
	if t := first(doc, "title"); t != nil {
		parts := strings.Split(text(t), " - ")
		return strings.TrimSpace(parts[len(parts)-1])
	}
	return ""
}

func explanation(doc *html.Node) string {
	body := collapse(text(doc))
	start := strings.Index(body, "Explanation:")
	if start < 0 {
		return ""
	}
	body = body[start+len("Explanation:"):]
	if end := strings.Index(body, "Tomorrow's picture"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func copyright(centers []*html.Node) string {
	for _, c := range centers {
		t := text(c)
		idx := strings.Index(t, "Copyright")
		if idx < 0 {
			continue
		}
		rest := strings.TrimLeft(t[idx+len("Copyright"):], " :\n\t")
		return collapse(rest)
	}
	return ""
}

func pageDate(doc *html.Node) (time.Time, error) {
	m := pageDateRun.FindStringSubmatch(text(doc))
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: page carries no date", ErrUpstream)
	}
	return time.Parse("2006 January 2", m[1]+" "+m[2]+" "+m[3])
}

func resolve(base, ref string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	return base + ref
}

func absoluteScheme(ref string) string {
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	return ref
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func first(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := first(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
