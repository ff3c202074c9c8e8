package crawler

import (
	"io"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	adPattern = regexp.MustCompile(`(?i)/ads?/|doubleclick|googlead|outbrain|taboola|click\?|campaign|sponsored|promotion`)
	// social and share buttons
	textPattern = regexp.MustCompile(`(?i)^(share|tweet|post)$|^share on`)

	blockedDomains = []string{
		"doubleclick.net", "googleadservices.com", "googlesyndication.com",
		"facebook.com", "twitter.com", "linkedin.com", "instagram.com",
		"outbrain.com", "taboola.com",
	}
	clutterTags    = []atom.Atom{atom.Header, atom.Footer, atom.Nav, atom.Aside}
	clutterClasses = []string{"ad", "advertisement", "sponsored"}
)

// Extract returns the same-site article links in r, in document order and
// without duplicates. Page chrome and ad blocks are skipped. When pattern is
// not empty only URLs containing it are kept.
func Extract(r io.Reader, base *url.URL, pattern string) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []string
	seen := map[string]struct{}{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if clutter(n) {
				return
			}
			if n.DataAtom == atom.A {
				if u, ok := candidate(n, base, pattern); ok {
					if _, dup := seen[u]; !dup {
						seen[u] = struct{}{}
						links = append(links, u)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func candidate(a *html.Node, base *url.URL, pattern string) (string, bool) {
	href := strings.Trim(attr(a, "href"), " :\"',")
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(u.Host, base.Host) {
		return "", false
	}
	u.Fragment = ""
	full := u.String()

	if pattern != "" && !strings.Contains(full, pattern) {
		return "", false
	}
	if adPattern.MatchString(full) {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range blockedDomains {
		if strings.Contains(host, d) {
			return "", false
		}
	}
	if textPattern.MatchString(strings.TrimSpace(text(a))) {
		return "", false
	}
	return full, true
}

func clutter(n *html.Node) bool {
	if slices.Contains(clutterTags, n.DataAtom) {
		return true
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if slices.Contains(clutterClasses, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
