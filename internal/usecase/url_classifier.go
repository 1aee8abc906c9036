package usecase

import (
	"net/url"
	"regexp"
	"strings"
)

// RetailerPolicy describes how one retailer's pages are recognized and processed
type RetailerPolicy struct {
	Domain           string
	PDPPattern       *regexp.Regexp
	StructuredAssist bool // seed prompts with hints parsed from embedded scripts
	EnforcePDP       bool // drop extracted products whose URL is not a PDP
}

// DefaultRetailerPolicies returns the retailers the agent knows how to classify
func DefaultRetailerPolicies() []RetailerPolicy {
	return []RetailerPolicy{
		{
			Domain:     "amazon.com",
			PDPPattern: regexp.MustCompile(`amazon\.com/.+?/dp/`),
		},
		{
			Domain:           "target.com",
			PDPPattern:       regexp.MustCompile(`target\.com/p/`),
			StructuredAssist: true,
			EnforcePDP:       true,
		},
		{
			Domain:     "ebay.com",
			PDPPattern: regexp.MustCompile(`ebay\.com/(itm|p)/`),
		},
	}
}

// Classifier decides whether a URL is a retailer product detail page
type Classifier struct {
	policies []RetailerPolicy
}

// NewClassifier creates a classifier over an immutable policy table
func NewClassifier(policies []RetailerPolicy) *Classifier {
	copied := make([]RetailerPolicy, len(policies))
	copy(copied, policies)
	return &Classifier{policies: copied}
}

// IsPDP reports whether rawURL is a product detail page of a known retailer
func (c *Classifier) IsPDP(rawURL string) bool {
	host := c.RetailerOf(rawURL)
	if host == "" {
		return false
	}
	for _, p := range c.policies {
		if strings.Contains(host, p.Domain) && p.PDPPattern != nil && p.PDPPattern.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// RetailerOf returns the URL host with a leading "www." label removed.
// Malformed input yields a best-effort host or "".
func (c *Classifier) RetailerOf(rawURL string) string {
	return retailerOf(rawURL)
}

// Policy returns the policy whose domain the URL host contains
func (c *Classifier) Policy(retailer string) (RetailerPolicy, bool) {
	for _, p := range c.policies {
		if strings.Contains(retailer, p.Domain) {
			return p, true
		}
	}
	return RetailerPolicy{}, false
}

// Domains lists every configured retailer domain in table order
func (c *Classifier) Domains() []string {
	out := make([]string, 0, len(c.policies))
	for _, p := range c.policies {
		out = append(out, p.Domain)
	}
	return out
}

func retailerOf(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	var host string
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	} else {
		// Fall back to slicing between the scheme and the first path separator
		rest := rawURL
		if idx := strings.Index(rest, "://"); idx >= 0 {
			rest = rest[idx+3:]
		}
		if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
			rest = rest[:idx]
		}
		host = rest
	}

	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}
