package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/config"
)

// Extractor pulls a candidate answer word out of one source's response
// body. Implementations are a closed set of strategies; adding a
// source means configuring one of these, not touching dispatch logic.
type Extractor interface {
	Extract(body []byte) (string, bool)
}

var wordPattern = regexp.MustCompile(`^[A-Z]{5}$`)

// Placeholder tokens some sites leave in templates before publishing.
var denylist = map[string]bool{
	"TODAY":  true,
	"ANSWER": true,
	"WORDS":  true,
	"HINTS":  true,
	"DAILY":  true,
	"GUESS":  true,
}

// ValidWord reports whether a textually matched token is an acceptable
// answer: five alphabetic letters and not a placeholder.
func ValidWord(word string) bool {
	word = strings.ToUpper(strings.TrimSpace(word))
	return wordPattern.MatchString(word) && !denylist[word]
}

// NewExtractor builds the strategy configured for one source.
func NewExtractor(cfg config.SourceConfig) (Extractor, error) {
	switch cfg.Extractor {
	case "json":
		if cfg.Field == "" {
			return nil, fmt.Errorf("source %q: json extractor requires a field", cfg.Name)
		}
		return &jsonFieldExtractor{field: cfg.Field}, nil
	case "regex":
		re, err := regexp.Compile("(?is)" + cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("source %q: invalid pattern: %w", cfg.Name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("source %q: pattern needs a capture group", cfg.Name)
		}
		return &regexExtractor{re: re}, nil
	case "html":
		if cfg.Selector == "" {
			return nil, fmt.Errorf("source %q: html extractor requires a selector", cfg.Name)
		}
		return &htmlSelectorExtractor{selector: cfg.Selector}, nil
	default:
		return nil, fmt.Errorf("source %q: unknown extractor %q", cfg.Name, cfg.Extractor)
	}
}

// jsonFieldExtractor reads a top-level string field from a JSON body.
type jsonFieldExtractor struct {
	field string
}

func (e *jsonFieldExtractor) Extract(body []byte) (string, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	raw, ok := doc[e.field]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return normalize(value)
}

// regexExtractor matches a pattern with one capture group against the
// raw body text.
type regexExtractor struct {
	re *regexp.Regexp
}

func (e *regexExtractor) Extract(body []byte) (string, bool) {
	m := e.re.FindSubmatch(body)
	if m == nil || len(m) < 2 {
		return "", false
	}
	return normalize(string(m[1]))
}

// htmlSelectorExtractor takes the text of the first element matching a
// CSS selector.
type htmlSelectorExtractor struct {
	selector string
}

func (e *htmlSelectorExtractor) Extract(body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	text := strings.TrimSpace(doc.Find(e.selector).First().Text())
	if text == "" {
		return "", false
	}
	// Site tables sometimes pad the answer cell with surrounding prose.
	for _, token := range strings.Fields(text) {
		if word, ok := normalize(token); ok {
			return word, true
		}
	}
	return "", false
}

func normalize(token string) (string, bool) {
	word := strings.ToUpper(strings.TrimSpace(token))
	if !ValidWord(word) {
		return "", false
	}
	return word, true
}
