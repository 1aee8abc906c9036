package usecase

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

// Placeholder hosts. Model output echoing these is mapped back after inference.
const (
	imagePlaceholderBase   = "https://img.local/"
	productPlaceholderBase = "https://prod.local/"
)

var (
	urlTokenRegex = regexp.MustCompile(`https?://[^\s"'<>()\[\]{}]+`)

	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
		".bmp": true, ".svg": true, ".tif": true, ".tiff": true, ".avif": true,
		".heic": true, ".heif": true, ".jfif": true,
	}
)

// trailingPunctuation is stripped from a matched token and re-appended after substitution
const trailingPunctuation = ").,;:!?]"

// Shielder replaces absolute URLs with short stable placeholders for one page.
// It is not safe for concurrent use; each page gets its own Shielder.
type Shielder struct {
	scope      string
	byOriginal map[string]string
	byHolder   map[string]string
	mappings   []domain.URLMapping
	nextImage  int
	nextOther  int
}

// NewShielder creates a codec whose placeholders carry the given scope segment.
// An empty scope yields placeholders like https://prod.local/1.
func NewShielder(scope string) *Shielder {
	return &Shielder{
		scope:      strings.Trim(scope, "/"),
		byOriginal: make(map[string]string),
		byHolder:   make(map[string]string),
	}
}

// Shield rewrites every absolute URL in text using a fresh unscoped codec
func Shield(text string) (string, []domain.URLMapping) {
	s := NewShielder("")
	out := s.Shield(text)
	return out, s.Mappings()
}

// Shield rewrites every absolute URL in text with its placeholder
func (s *Shielder) Shield(text string) string {
	return urlTokenRegex.ReplaceAllStringFunc(text, func(token string) string {
		core := strings.TrimRight(token, trailingPunctuation)
		if strings.HasSuffix(core, "://") {
			return token
		}
		trail := token[len(core):]
		return s.placeholderFor(core) + trail
	})
}

// ShieldHints rewrites URL-bearing hint values in place so hints never leak raw URLs to the model
// Keys are visited in sorted order so placeholder numbering is stable.
func (s *Shielder) ShieldHints(hints domain.Hints) {
	keys := make([]string, 0, len(hints))
	for key := range hints {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		hints[key] = s.shieldValue(hints[key])
	}
}

func (s *Shielder) shieldValue(value any) any {
	switch v := value.(type) {
	case string:
		return s.Shield(v)
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = s.Shield(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.shieldValue(item)
		}
		return out
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]string, len(v))
		for _, k := range keys {
			out[k] = s.Shield(v[k])
		}
		return out
	default:
		return value
	}
}

// Resolve returns the original URL behind a placeholder issued by this codec
func (s *Shielder) Resolve(placeholder string) (string, bool) {
	original, ok := s.byHolder[strings.TrimSpace(placeholder)]
	return original, ok
}

// Mappings returns every (placeholder, original) pair issued so far, in issue order
func (s *Shielder) Mappings() []domain.URLMapping {
	out := make([]domain.URLMapping, len(s.mappings))
	copy(out, s.mappings)
	return out
}

func (s *Shielder) placeholderFor(original string) string {
	if holder, ok := s.byOriginal[original]; ok {
		return holder
	}

	var holder string
	if isImageURL(original) {
		s.nextImage++
		holder = s.format(imagePlaceholderBase, s.nextImage)
	} else {
		s.nextOther++
		holder = s.format(productPlaceholderBase, s.nextOther)
	}

	s.byOriginal[original] = holder
	s.byHolder[holder] = original
	s.mappings = append(s.mappings, domain.URLMapping{Placeholder: holder, Original: original})
	return holder
}

func (s *Shielder) format(base string, n int) string {
	if s.scope == "" {
		return fmt.Sprintf("%s%d", base, n)
	}
	return fmt.Sprintf("%s%s/%d", base, s.scope, n)
}

// isImageURL classifies a URL by the file extension of its path
func isImageURL(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	} else if idx := strings.IndexAny(p, "?#"); idx >= 0 {
		p = p[:idx]
	}
	return imageExtensions[strings.ToLower(path.Ext(p))]
}

// Unshield maps placeholders in product_url and image_urls back to their originals.
// The image list collapses to the first resolvable image. Unresolvable product
// URLs are cleared so callers can drop the record.
func Unshield(products []domain.Product, mappings []domain.URLMapping) []domain.Product {
	table := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if _, exists := table[m.Placeholder]; !exists {
			table[m.Placeholder] = m.Original
		}
	}

	out := make([]domain.Product, len(products))
	for i, p := range products {
		if original, ok := table[strings.TrimSpace(p.ProductURL)]; ok {
			p.ProductURL = original
		} else {
			p.ProductURL = ""
		}

		if len(p.ImageURLs) > 0 {
			var resolved []string
			for _, img := range p.ImageURLs {
				if original, ok := table[strings.TrimSpace(img)]; ok {
					resolved = []string{original}
					break
				}
			}
			if resolved == nil {
				resolved = []string{}
			}
			p.ImageURLs = resolved
		}
		out[i] = p
	}
	return out
}
