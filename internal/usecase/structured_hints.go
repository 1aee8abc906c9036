package usecase

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

// stateMarkers flag script blocks likely to carry product state blobs
var stateMarkers = []string{"specifications", "bullet", "attributes", "tcin", "dpci", "price"}

// hintRule sets one hint from the first matching key of a JSON object.
// Rules never overwrite a hint that is already present.
type hintRule struct {
	keys  []string
	apply func(hints domain.Hints, value any) bool
}

// stateRules is the ordered rule list applied to every object of a state blob
var stateRules = []hintRule{
	{keys: []string{"current_retail", "price", "formatted_current_price"}, apply: setScalarText("price_text")},
	{keys: []string{"specifications", "attributes", "bullets", "bullet_points"}, apply: setSpecifications},
	{keys: []string{"tcin"}, apply: setScalarText("tcin")},
	{keys: []string{"dpci"}, apply: setScalarText("dpci")},
	{keys: []string{"upc"}, apply: setScalarText("upc")},
	{keys: []string{"model"}, apply: setScalarText("model")},
	{keys: []string{"average_rating", "rating", "rating_value"}, apply: setFloat("rating_value")},
	{keys: []string{"total_reviews", "rating_count", "review_count"}, apply: setInt("rating_count")},
}

// ExtractHints parses a page's embedded JSON-LD and script state into advisory
// hints. It never fails; unparseable input yields partial or empty hints.
func ExtractHints(raw string) domain.Hints {
	hints := domain.Hints{}
	if !strings.Contains(raw, "<script") && !strings.Contains(raw, "<SCRIPT") {
		return hints
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return hints
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &data); err != nil {
			return
		}
		for _, candidate := range jsonLDCandidates(data) {
			if isProductType(candidate["@type"]) {
				applyJSONLDProduct(hints, candidate)
			}
		}
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" || !strings.Contains(text, "{") || !containsAny(text, stateMarkers) {
			return
		}
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return
		}
		var blob any
		if err := json.Unmarshal([]byte(text[start:end+1]), &blob); err != nil {
			return
		}
		walkState(hints, blob)
	})

	if tcin, ok := hints["tcin"]; ok {
		setIfAbsent(hints, "sku", tcin)
	}
	return hints
}

func jsonLDCandidates(data any) []map[string]any {
	var out []map[string]any
	switch v := data.(type) {
	case map[string]any:
		out = append(out, v)
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				if m, ok := item.(map[string]any); ok {
					out = append(out, m)
				}
			}
		}
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Product"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "Product" {
				return true
			}
		}
	}
	return false
}

func applyJSONLDProduct(hints domain.Hints, product map[string]any) {
	if name, ok := product["name"].(string); ok && name != "" {
		setIfAbsent(hints, "title", name)
	}

	if agg, ok := product["aggregateRating"].(map[string]any); ok {
		if v, ok := toFloat(agg["ratingValue"]); ok {
			setIfAbsent(hints, "rating_value", v)
		}
		count := agg["reviewCount"]
		if count == nil {
			count = agg["ratingCount"]
		}
		if v, ok := toInt(count); ok {
			setIfAbsent(hints, "rating_count", v)
		}
	}

	offers := product["offers"]
	if list, ok := offers.([]any); ok && len(list) > 0 {
		offers = list[0]
	}
	if offer, ok := offers.(map[string]any); ok {
		if v, ok := scalarText(offer["price"]); ok {
			setIfAbsent(hints, "price_text", v)
		}
		if v, ok := offer["priceCurrency"].(string); ok && v != "" {
			setIfAbsent(hints, "price_currency", v)
		}
		if v, ok := offer["availability"].(string); ok && v != "" {
			setIfAbsent(hints, "availability", v)
		}
	}

	switch imgs := product["image"].(type) {
	case string:
		setIfAbsent(hints, "image_urls", []string{imgs})
	case []any:
		var urls []string
		for _, img := range imgs {
			if s, ok := img.(string); ok {
				urls = append(urls, s)
			}
		}
		if len(urls) > 0 {
			setIfAbsent(hints, "image_urls", urls)
		}
	}
}

// walkState applies stateRules to every object in a parsed blob, depth first
func walkState(hints domain.Hints, node any) {
	switch v := node.(type) {
	case map[string]any:
		for _, rule := range stateRules {
			for _, key := range rule.keys {
				value, ok := v[key]
				if !ok {
					continue
				}
				if rule.apply(hints, value) {
					break
				}
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkState(hints, v[k])
		}
	case []any:
		for _, child := range v {
			walkState(hints, child)
		}
	}
}

func setScalarText(key string) func(domain.Hints, any) bool {
	return func(hints domain.Hints, value any) bool {
		if _, exists := hints[key]; exists {
			return true
		}
		text, ok := scalarText(value)
		if !ok {
			return false
		}
		hints[key] = text
		return true
	}
}

func setFloat(key string) func(domain.Hints, any) bool {
	return func(hints domain.Hints, value any) bool {
		if _, exists := hints[key]; exists {
			return true
		}
		f, ok := toFloat(value)
		if !ok {
			return false
		}
		hints[key] = f
		return true
	}
}

func setInt(key string) func(domain.Hints, any) bool {
	return func(hints domain.Hints, value any) bool {
		if _, exists := hints[key]; exists {
			return true
		}
		n, ok := toInt(value)
		if !ok {
			return false
		}
		hints[key] = n
		return true
	}
}

// setSpecifications accepts a dict, a list of {name,value} objects or "key: value" strings
func setSpecifications(hints domain.Hints, value any) bool {
	if _, exists := hints["specifications"]; exists {
		return true
	}

	specs := map[string]string{}
	switch v := value.(type) {
	case map[string]any:
		for k, item := range v {
			specs[k] = stringify(item)
		}
	case []any:
		for _, item := range v {
			switch it := item.(type) {
			case map[string]any:
				name, hasName := it["name"]
				val, hasValue := it["value"]
				if hasName && hasValue {
					specs[stringify(name)] = stringify(val)
				}
			case string:
				if k, val, ok := strings.Cut(it, ":"); ok {
					specs[strings.TrimSpace(k)] = strings.TrimSpace(val)
				}
			}
		}
	}

	if len(specs) == 0 {
		return false
	}
	hints["specifications"] = specs
	return true
}

func setIfAbsent(hints domain.Hints, key string, value any) {
	if _, exists := hints[key]; !exists {
		hints[key] = value
	}
}

func scalarText(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

func stringify(value any) string {
	if text, ok := scalarText(value); ok {
		return text
	}
	if value == nil {
		return ""
	}
	b, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(b)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
