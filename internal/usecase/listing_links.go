package usecase

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var absoluteURLRegex = regexp.MustCompile(`^https?://`)

// HarvestPDPLinks collects de-duplicated PDP links of one retailer from a listing
// page. Anchors are read first; a plain-text URL scan is the fallback when the
// content has no usable markup. Query strings are stripped.
func (c *Classifier) HarvestPDPLinks(raw, retailer string) []string {
	policy, ok := c.Policy(retailer)
	if !ok || policy.PDPPattern == nil {
		return nil
	}
	base := &url.URL{Scheme: "https", Host: "www." + policy.Domain}

	var found []string
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			href = strings.TrimSpace(href)
			if href == "" {
				return
			}
			if !absoluteURLRegex.MatchString(href) {
				ref, err := url.Parse(href)
				if err != nil {
					return
				}
				href = base.ResolveReference(ref).String()
			}
			if policy.PDPPattern.MatchString(href) {
				found = append(found, href)
			}
		})
	}

	if len(found) == 0 {
		for _, token := range urlTokenRegex.FindAllString(raw, -1) {
			token = strings.TrimRight(token, trailingPunctuation)
			if strings.Contains(retailerOf(token), policy.Domain) && policy.PDPPattern.MatchString(token) {
				found = append(found, token)
			}
		}
	}

	seen := make(map[string]bool, len(found))
	out := make([]string, 0, len(found))
	for _, link := range found {
		link, _, _ = strings.Cut(link, "?")
		if seen[link] || !policy.PDPPattern.MatchString(link) {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}
