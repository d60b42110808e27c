package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	binaryExtPattern  = regexp.MustCompile(`(?i)\.(pdf|docx?|xlsx?|ppt|pptx|jpg|jpeg|png|gif|webp|zip|rar|exe|bin|mp3|mp4|avi)(\?.*)?$`)
	htmlSuffixPattern = regexp.MustCompile(`(\.html)/.*`)
)

// NormalizeHost lowercases host and strips a leading "www.".
func NormalizeHost(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

// SameHost reports whether two URLs point at the same host, ignoring "www.".
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil || ua.Hostname() == "" {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil || ub.Hostname() == "" {
		return false
	}
	return NormalizeHost(ua.Hostname()) == NormalizeHost(ub.Hostname())
}

// PagePath returns the path component of rawURL, "/" when empty.
func PagePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Path == "" {
		return "/", nil
	}
	return u.Path, nil
}

// NormalizeLink collapses equivalent spellings of the same page: anything
// after a ".html" segment is dropped and a single trailing slash is trimmed.
func NormalizeLink(link string) string {
	link = htmlSuffixPattern.ReplaceAllString(link, "$1")
	return strings.TrimSuffix(link, "/")
}

// AcceptLink reports whether an absolute link belongs to the crawl of siteURL.
func AcceptLink(link, siteURL string) bool {
	if link == "" || strings.Contains(link, "#") {
		return false
	}
	if binaryExtPattern.MatchString(link) {
		return false
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return SameHost(link, siteURL)
}

// ExtractLinks returns the deduplicated, normalized set of same-site links
// found in body. Relative hrefs are resolved against pageURL.
func ExtractLinks(body []byte, pageURL, siteURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !AcceptLink(abs, siteURL) {
			return
		}
		abs = NormalizeLink(abs)
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links, nil
}
